// Package fiveonejob extracts campus and general job postings from 51job.
package fiveonejob

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/extractor"
)

// Name is the source name used in dedup keys and stored rows.
const Name = "51job"

const (
	defaultListURL   = "https://search.51job.com"
	defaultDetailURL = "https://jobs.51job.com"
	defaultKeyword   = "校招"
	defaultMaxPages  = 5
)

// Config controls paging and endpoints.
type Config struct {
	ListURL        string
	DetailBaseURL  string
	MaxPages       int
	DefaultKeyword string
}

var (
	jobIDParam = regexp.MustCompile(`jobid=(\d+)`)
	jobIDPath  = regexp.MustCompile(`/(\d+)\.html`)
	monthDay   = regexp.MustCompile(`^\d{1,2}-\d{1,2}$`)
)

// Extractor implements crawler.Extractor for 51job.
type Extractor struct {
	extractor.Base
	cfg   Config
	clock crawler.Clock
}

var _ crawler.Extractor = (*Extractor)(nil)

// New builds the extractor. base must be named Name.
func New(cfg Config, base extractor.Base, clock crawler.Clock) *Extractor {
	if cfg.ListURL == "" {
		cfg.ListURL = defaultListURL
	}
	if cfg.DetailBaseURL == "" {
		cfg.DetailBaseURL = defaultDetailURL
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.DefaultKeyword == "" {
		cfg.DefaultKeyword = defaultKeyword
	}
	if clock == nil {
		clock = crawler.SystemClock
	}
	return &Extractor{Base: base, cfg: cfg, clock: clock}
}

// Crawl walks list pages in order until one is empty or MaxPages is reached,
// enriching each unseen item from its detail page. A failed list page ends the
// crawl and returns what was gathered so far with the error.
func (e *Extractor) Crawl(ctx context.Context, keyword string) ([]crawler.RawRecord, error) {
	if strings.TrimSpace(keyword) == "" {
		keyword = e.cfg.DefaultKeyword
	}
	logger := e.Logger().With(zap.String("keyword", keyword))

	var out []crawler.RawRecord
	for page := 1; page <= e.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		logger.Info("crawling list page", zap.Int("page", page))
		body, err := e.Fetch(ctx, e.cfg.ListURL, listQuery(keyword, page))
		if err != nil {
			return out, fmt.Errorf("fetch list page %d: %w", page, err)
		}
		items, err := e.Parse(body)
		if err != nil {
			return out, fmt.Errorf("parse list page %d: %w", page, err)
		}
		if len(items) == 0 {
			logger.Info("no more jobs found", zap.Int("page", page))
			break
		}

		for _, item := range items {
			id, _ := item[crawler.FieldSourceExternalID].(string)
			if e.IsDuplicate(ctx, id) {
				logger.Debug("skipping duplicate", zap.String("source_id", id))
				continue
			}
			detailURL := e.resolveDetailURL(item)
			detail, err := e.Fetch(ctx, detailURL, nil)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return out, ctxErr
				}
				logger.Warn("detail fetch failed; skipping item",
					zap.String("url", detailURL), zap.String("source_id", id), zap.Error(err))
				continue
			}
			if err := enrichFromDetail(detail, item); err != nil {
				logger.Warn("detail parse failed; keeping list fields",
					zap.String("url", detailURL), zap.Error(err))
			}
			out = append(out, item)
		}
	}
	return out, nil
}

// Parse extracts list items from a search results page. Items without a job id
// are dropped.
func (e *Extractor) Parse(body []byte) ([]crawler.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []crawler.RawRecord
	doc.Find("div.j_joblist > div.e > div.el").Each(func(_ int, item *goquery.Selection) {
		rec, err := e.parseItem(item)
		if err != nil {
			e.Logger().Debug("dropping list item", zap.Error(err))
			return
		}
		out = append(out, rec)
	})
	return out, nil
}

func (e *Extractor) parseItem(item *goquery.Selection) (crawler.RawRecord, error) {
	link := item.Find("p.t1 > a").First()
	if link.Length() == 0 {
		return nil, fmt.Errorf("%w: no job link", crawler.ErrParseFailure)
	}
	href := strings.TrimSpace(link.AttrOr("href", ""))
	id := jobID(href)
	if id == "" {
		return nil, fmt.Errorf("%w: no job id in %q", crawler.ErrParseFailure, href)
	}
	title := strings.TrimSpace(link.AttrOr("title", ""))
	if title == "" {
		title = strings.TrimSpace(link.Text())
	}
	company := item.Find("span.t2 > a").First()
	companyName := strings.TrimSpace(company.AttrOr("title", ""))
	if companyName == "" {
		companyName = strings.TrimSpace(company.Text())
	}

	return crawler.RawRecord{
		crawler.FieldSource:           Name,
		crawler.FieldSourceExternalID: id,
		crawler.FieldTitle:            title,
		crawler.FieldCompany:          companyName,
		crawler.FieldLocation:         strings.TrimSpace(item.Find("span.t3").First().Text()),
		crawler.FieldSalary:           strings.TrimSpace(item.Find("span.t4").First().Text()),
		crawler.FieldPostedDate:       e.postedDate(strings.TrimSpace(item.Find("span.t5").First().Text())),
		crawler.FieldURL:              href,
	}, nil
}

// postedDate fills in the year for the list page's "MM-DD" form; relative
// forms pass through for the normalizer.
func (e *Extractor) postedDate(text string) string {
	if !monthDay.MatchString(text) {
		return text
	}
	parts := strings.SplitN(text, "-", 2)
	month, _ := strconv.Atoi(parts[0])
	day, _ := strconv.Atoi(parts[1])
	return fmt.Sprintf("%04d-%02d-%02d", e.clock().Year(), month, day)
}

func (e *Extractor) resolveDetailURL(item crawler.RawRecord) string {
	href, _ := item[crawler.FieldURL].(string)
	ref, err := url.Parse(href)
	if err != nil || ref.IsAbs() {
		return href
	}
	base, err := url.Parse(e.cfg.DetailBaseURL)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func jobID(href string) string {
	if m := jobIDParam.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	if m := jobIDPath.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

func listQuery(keyword string, page int) url.Values {
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("searchType", "2")
	q.Set("jobArea", "000000")
	q.Set("pageNum", strconv.Itoa(page))
	q.Set("lang", "c")
	q.Set("postchannel", "0000")
	q.Set("scene", "search")
	return q
}
