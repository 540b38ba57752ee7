// Package crawler defines the records, contracts, and failure types shared by the
// extractors, the normalizer, the persistence gateway, and the orchestrator.
package crawler

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// RawRecord is the loosely-typed field map an extractor yields for one posting.
type RawRecord map[string]any

// Keys understood by the normalizer. Extractors may add others; unknown scalar
// values are carried into NormalizedRecord.Metadata.
const (
	FieldTitle            = "title"
	FieldCompany          = "company"
	FieldLocation         = "location"
	FieldSalary           = "salary"
	FieldEducation        = "education"
	FieldExperience       = "experience"
	FieldDescription      = "description"
	FieldRequirements     = "requirements"
	FieldPostedDate       = "posted_date"
	FieldDeadline         = "deadline"
	FieldSource           = "source"
	FieldSourceExternalID = "source_external_id"
	FieldURL              = "url"
	FieldCompanyType      = "company_type"
	FieldCompanySize      = "company_size"
	FieldIndustry         = "industry"
	FieldRecruitmentType  = "recruitment_type"
	FieldTargetGroup      = "target_group"
)

// EducationTier is the canonical education requirement.
type EducationTier string

// Education tiers, lowest to highest.
const (
	EducationUnspecified EducationTier = "unspecified"
	EducationSecondary   EducationTier = "secondary"
	EducationAssociate   EducationTier = "associate"
	EducationBachelor    EducationTier = "bachelor"
	EducationMaster      EducationTier = "master"
	EducationDoctorate   EducationTier = "doctorate"
)

// ExperienceTier is the canonical work-experience requirement.
type ExperienceTier string

// Experience tiers.
const (
	ExperienceUnspecified ExperienceTier = "unspecified"
	ExperienceNewGraduate ExperienceTier = "new-graduate"
	ExperienceUnderOne    ExperienceTier = "<1y"
	ExperienceOneToThree  ExperienceTier = "1-3y"
	ExperienceThreeToFive ExperienceTier = "3-5y"
	ExperienceFiveToTen   ExperienceTier = "5-10y"
	ExperienceTenPlus     ExperienceTier = "10y+"
)

// NormalizedRecord is the canonical posting handed to persistence.
type NormalizedRecord struct {
	Title            string            `json:"title"`
	Company          string            `json:"company"`
	Location         string            `json:"location"`
	SalaryMin        *int              `json:"salary_min"`
	SalaryMax        *int              `json:"salary_max"`
	Education        EducationTier     `json:"education"`
	Experience       ExperienceTier    `json:"experience"`
	Description      string            `json:"description"`
	Requirements     string            `json:"requirements,omitempty"`
	PostedDate       *civil.Date       `json:"posted_date"`
	Deadline         *civil.Date       `json:"deadline"`
	Source           string            `json:"source"`
	SourceExternalID string            `json:"source_external_id"`
	URL              string            `json:"url,omitempty"`
	CompanyType      string            `json:"company_type,omitempty"`
	CompanySize      string            `json:"company_size,omitempty"`
	Industry         string            `json:"industry,omitempty"`
	RecruitmentType  string            `json:"recruitment_type,omitempty"`
	TargetGroup      string            `json:"target_group,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CrawledAt        time.Time         `json:"crawled_at"`
}

// DedupKey returns the stable dedup key for the record.
func (r NormalizedRecord) DedupKey() string {
	return DedupKey(r.Source, r.SourceExternalID)
}

// DedupKey formats the dedup store key for a source and its external id.
func DedupKey(source, externalID string) string {
	return fmt.Sprintf("crawler:duplicate:%s:%s", source, externalID)
}

// DefaultLastRunKey is where the orchestrator records the last completed pass.
const DefaultLastRunKey = "crawler:last_run"

// Stage names the pipeline step an extractor run reached.
type Stage string

// Pipeline stages in order.
const (
	StageIdle       Stage = "idle"
	StageFetching   Stage = "fetching"
	StageCleaning   Stage = "cleaning"
	StageDeduping   Stage = "deduping"
	StagePersisting Stage = "persisting"
	StageDone       Stage = "done"
)

// RunStatus is the terminal outcome of one extractor run.
type RunStatus string

// Run outcomes.
const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// PersistPath reports which persistence path accepted a batch.
type PersistPath string

// Persistence paths.
const (
	PersistPathNone   PersistPath = ""
	PersistPathAPI    PersistPath = "api"
	PersistPathDirect PersistPath = "direct"
)

// RunResult summarizes one extractor's run inside a pass.
type RunResult struct {
	Extractor  string        `json:"extractor"`
	Status     RunStatus     `json:"status"`
	Stage      Stage         `json:"stage"`
	Discovered int           `json:"discovered"`
	Valid      int           `json:"valid"`
	Dropped    int           `json:"dropped"`
	Unique     int           `json:"unique"`
	Path       PersistPath   `json:"path,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Err        error         `json:"-"`
	ErrorText  string        `json:"error,omitempty"`
}

// Failed reports whether the run ended without persisting anything it found.
func (r RunResult) Failed() bool {
	return r.Status == RunStatusFailed || r.Status == RunStatusCanceled
}

// PassSummary is the aggregated view of one orchestrator pass.
type PassSummary struct {
	RunID      string               `json:"run_id"`
	Keyword    string               `json:"keyword"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Results    map[string]RunResult `json:"results"`
}

// Attributes are the message attributes published alongside a summary.
func (p PassSummary) Attributes() map[string]string {
	return map[string]string{"run_id": p.RunID, "keyword": p.Keyword}
}

// TotalUnique sums unique records across extractors.
func (p PassSummary) TotalUnique() int {
	total := 0
	for _, r := range p.Results {
		total += r.Unique
	}
	return total
}
