package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var (
	daysAgoPattern = regexp.MustCompile(`(\d+)\s*(?:天前|days?\s+ago)`)

	yearFirstPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`),
		regexp.MustCompile(`(\d{4})/(\d{1,2})/(\d{1,2})`),
		regexp.MustCompile(`(\d{4})\.(\d{1,2})\.(\d{1,2})`),
		regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日?`),
	}
	dayFirstPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d{1,2})-(\d{1,2})-(\d{4})`),
		regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`),
	}
)

var todayMarkers = []string{"今天", "刚刚", "小时前", "分钟前", "today", "just now", "hours ago", "minutes ago"}

// ParseDate resolves relative ("3天前", "yesterday") and absolute date text against
// today. Empty or unrecognized text yields nil, which callers treat as unknown.
func ParseDate(text string, today civil.Date) *civil.Date {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	for _, marker := range todayMarkers {
		if strings.Contains(lower, marker) {
			return &today
		}
	}
	if strings.Contains(text, "昨天") || strings.Contains(lower, "yesterday") {
		d := today.AddDays(-1)
		return &d
	}
	if strings.Contains(text, "前天") {
		d := today.AddDays(-2)
		return &d
	}
	if m := daysAgoPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			d := today.AddDays(-n)
			return &d
		}
	}

	for _, re := range yearFirstPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if d, ok := buildDate(m[1], m[2], m[3]); ok {
				return &d
			}
		}
	}
	for _, re := range dayFirstPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if d, ok := buildDate(m[3], m[2], m[1]); ok {
				return &d
			}
		}
	}
	return nil
}

func buildDate(year, month, day string) (civil.Date, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return civil.Date{}, false
	}
	mo, err := strconv.Atoi(month)
	if err != nil {
		return civil.Date{}, false
	}
	dd, err := strconv.Atoi(day)
	if err != nil {
		return civil.Date{}, false
	}
	d := civil.Date{Year: y, Month: time.Month(mo), Day: dd}
	return d, d.IsValid()
}
