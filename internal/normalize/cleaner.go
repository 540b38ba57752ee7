// Package normalize turns loosely typed extractor output into validated job records.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

// ErrInvalidRecord marks a cleaned record that is missing a required field.
var ErrInvalidRecord = errors.New("invalid record")

// fieldAliases lists the raw keys accepted for each normalized field, in priority order.
var fieldAliases = map[string][]string{
	crawler.FieldTitle:            {crawler.FieldTitle, "job_name", "position"},
	crawler.FieldCompany:          {crawler.FieldCompany, "company_name"},
	crawler.FieldLocation:         {crawler.FieldLocation, "city", "work_area"},
	crawler.FieldSalary:           {crawler.FieldSalary, "salary_text"},
	crawler.FieldEducation:        {crawler.FieldEducation, "degree"},
	crawler.FieldExperience:       {crawler.FieldExperience, "work_year"},
	crawler.FieldDescription:      {crawler.FieldDescription, "job_description"},
	crawler.FieldRequirements:     {crawler.FieldRequirements},
	crawler.FieldPostedDate:       {crawler.FieldPostedDate, "posted_at", "publish_date", "issue_date"},
	crawler.FieldDeadline:         {crawler.FieldDeadline, "deadline_date"},
	crawler.FieldSource:           {crawler.FieldSource},
	crawler.FieldSourceExternalID: {crawler.FieldSourceExternalID, "source_id", "job_id"},
	crawler.FieldURL:              {crawler.FieldURL, "job_url", "link"},
	crawler.FieldCompanyType:      {crawler.FieldCompanyType},
	crawler.FieldCompanySize:      {crawler.FieldCompanySize},
	crawler.FieldIndustry:         {crawler.FieldIndustry},
	crawler.FieldRecruitmentType:  {crawler.FieldRecruitmentType},
	crawler.FieldTargetGroup:      {crawler.FieldTargetGroup},
}

var knownKeys = func() map[string]struct{} {
	keys := make(map[string]struct{})
	for _, aliases := range fieldAliases {
		for _, a := range aliases {
			keys[a] = struct{}{}
		}
	}
	return keys
}()

// Cleaner normalizes raw records. It is safe for concurrent use.
type Cleaner struct {
	clock    crawler.Clock
	location *time.Location
	logger   *zap.Logger
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithClock overrides the time source used for relative dates and CrawledAt.
func WithClock(clock crawler.Clock) Option {
	return func(c *Cleaner) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLocation sets the time zone in which "today" is evaluated.
func WithLocation(loc *time.Location) Option {
	return func(c *Cleaner) {
		if loc != nil {
			c.location = loc
		}
	}
}

// New constructs a Cleaner.
func New(logger *zap.Logger, opts ...Option) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cleaner{
		clock:    crawler.SystemClock,
		location: time.UTC,
		logger:   logger.Named("normalize"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Today returns the current civil date in the cleaner's time zone.
func (c *Cleaner) Today() civil.Date {
	return civil.DateOf(c.clock().In(c.location))
}

// Clean maps a raw record onto the normalized shape. Unparseable fields become
// absent rather than failing the record.
func (c *Cleaner) Clean(raw crawler.RawRecord) crawler.NormalizedRecord {
	today := c.Today()
	get := func(field string) string { return lookup(raw, field) }

	salaryMin, salaryMax := ParseSalary(get(crawler.FieldSalary))
	rec := crawler.NormalizedRecord{
		Title:            CleanText(get(crawler.FieldTitle)),
		Company:          CleanText(get(crawler.FieldCompany)),
		Location:         CleanLocation(get(crawler.FieldLocation)),
		SalaryMin:        salaryMin,
		SalaryMax:        salaryMax,
		Education:        ParseEducation(get(crawler.FieldEducation)),
		Experience:       ParseExperience(get(crawler.FieldExperience)),
		Description:      CleanDescription(get(crawler.FieldDescription)),
		Requirements:     CleanDescription(get(crawler.FieldRequirements)),
		PostedDate:       ParseDate(get(crawler.FieldPostedDate), today),
		Deadline:         ParseDate(get(crawler.FieldDeadline), today),
		Source:           CleanText(get(crawler.FieldSource)),
		SourceExternalID: CleanText(get(crawler.FieldSourceExternalID)),
		URL:              strings.TrimSpace(get(crawler.FieldURL)),
		CompanyType:      CleanText(get(crawler.FieldCompanyType)),
		CompanySize:      CleanText(get(crawler.FieldCompanySize)),
		Industry:         CleanText(get(crawler.FieldIndustry)),
		RecruitmentType:  CleanText(get(crawler.FieldRecruitmentType)),
		TargetGroup:      CleanText(get(crawler.FieldTargetGroup)),
		Metadata:         leftovers(raw),
		CrawledAt:        c.clock().UTC(),
	}
	return rec
}

// Validate reports whether a cleaned record carries every required field.
func Validate(rec crawler.NormalizedRecord) error {
	var missing []string
	if rec.Title == "" {
		missing = append(missing, crawler.FieldTitle)
	}
	if rec.Company == "" {
		missing = append(missing, crawler.FieldCompany)
	}
	if rec.Source == "" {
		missing = append(missing, crawler.FieldSource)
	}
	if rec.SourceExternalID == "" {
		missing = append(missing, crawler.FieldSourceExternalID)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRecord, strings.Join(missing, ", "))
	}
	return nil
}

// BatchClean cleans and validates every element, keeping input order. Elements
// that fail validation or cannot be cleaned are dropped and counted.
func (c *Cleaner) BatchClean(raws []crawler.RawRecord) ([]crawler.NormalizedRecord, int) {
	out := make([]crawler.NormalizedRecord, 0, len(raws))
	dropped := 0
	for i, raw := range raws {
		rec, err := c.safeClean(raw)
		if err == nil {
			err = Validate(rec)
		}
		if err != nil {
			dropped++
			c.logger.Debug("dropping record", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, dropped
}

func (c *Cleaner) safeClean(raw crawler.RawRecord) (rec crawler.NormalizedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("clean record: %v", r)
		}
	}()
	return c.Clean(raw), nil
}

func lookup(raw crawler.RawRecord, field string) string {
	for _, key := range fieldAliases[field] {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// leftovers keeps scalar raw values that no normalized field consumed.
func leftovers(raw crawler.RawRecord) map[string]string {
	var meta map[string]string
	for k, v := range raw {
		if _, known := knownKeys[k]; known || v == nil {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		if s = CleanText(s); s == "" {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[k] = s
	}
	return meta
}
