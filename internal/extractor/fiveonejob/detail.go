package fiveonejob

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

// companyTypes maps 51job's company kinds onto the categories used downstream.
// Order matters: the first substring match wins.
var companyTypes = []struct {
	contains string
	category string
}{
	{"国企", "央国企"},
	{"上市公司", "民企"},
	{"外商独资", "外企"},
	{"中外合资", "外企"},
	{"事业单位", "事业单位"},
	{"银行", "银行"},
	{"民营公司", "民企"},
	{"跨国公司", "外企"},
}

var recruitmentTypes = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"秋招提前批", regexp.MustCompile(`秋招提前批|秋季提前批`)},
	{"秋招", regexp.MustCompile(`秋招|秋季招聘`)},
	{"春招", regexp.MustCompile(`春招|春季招聘`)},
	{"补录", regexp.MustCompile(`补录`)},
}

var errEmptyDetail = errors.New("empty detail page")

const (
	defaultRecruitmentType = "社会招聘"
	defaultTargetGroup     = "其他"
)

var (
	graduateYear  = regexp.MustCompile(`(20\d{2})届`)
	deadlineLabel = regexp.MustCompile(`截止日期[：:]\s*(\d{4}-\d{1,2}-\d{1,2})`)
)

// enrichFromDetail copies detail page fields onto the list item in place.
func enrichFromDetail(body []byte, item crawler.RawRecord) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errEmptyDetail
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse detail html: %w", err)
	}

	if href, ok := doc.Find("div.cn > p.cname > a").First().Attr("href"); ok && href != "" {
		item["company_url"] = strings.TrimSpace(href)
	}

	attrs := splitAttrs(textLines(doc.Find("div.cn > p.msg.ltype").First()))
	if len(attrs) >= 3 {
		item[crawler.FieldCompanyType] = mapCompanyType(attrs[0])
		item[crawler.FieldCompanySize] = attrs[1]
		item[crawler.FieldIndustry] = attrs[2]
	}

	if desc := textLines(doc.Find("div.tCompany_main > div:nth-child(1) > div").First()); desc != "" {
		item[crawler.FieldDescription] = desc
		item[crawler.FieldRecruitmentType] = recruitmentType(desc)
		item[crawler.FieldTargetGroup] = targetGroup(desc)
	}

	deadline := doc.Find("div.tCompany_main > div:nth-child(2) > div > p:nth-child(2)").First().Text()
	if m := deadlineLabel.FindStringSubmatch(deadline); m != nil {
		item[crawler.FieldDeadline] = m[1]
	}

	if req := textLines(doc.Find("div.cn > div.jd > p").First()); req != "" {
		item[crawler.FieldRequirements] = req
	}
	return nil
}

func mapCompanyType(raw string) string {
	for _, ct := range companyTypes {
		if strings.Contains(raw, ct.contains) {
			return ct.category
		}
	}
	return raw
}

func recruitmentType(text string) string {
	for _, rt := range recruitmentTypes {
		if rt.pattern.MatchString(text) {
			return rt.name
		}
	}
	return defaultRecruitmentType
}

func targetGroup(text string) string {
	if m := graduateYear.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return defaultTargetGroup
}

// textLines joins the trimmed, non-empty text nodes under sel with newlines.
func textLines(sel *goquery.Selection) string {
	var lines []string
	for _, n := range sel.Nodes {
		collectText(n, &lines)
	}
	return strings.Join(lines, "\n")
}

func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(strings.ReplaceAll(n.Data, "\u00a0", " ")); s != "" {
			*lines = append(*lines, s)
		}
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, lines)
	}
}

// splitAttrs splits "民营公司 | 150-500人 | 计算机软件" style text.
func splitAttrs(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '|' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
