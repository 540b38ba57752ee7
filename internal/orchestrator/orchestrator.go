// Package orchestrator runs every registered extractor through the
// crawl, clean, dedup and persist pipeline and aggregates the results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/id/uuid"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/metrics"
)

// ErrPassInProgress is returned by Trigger while another pass is running.
var ErrPassInProgress = errors.New("crawl pass already in progress")

const (
	defaultMaxConcurrent = 5
	defaultInterval      = time.Hour
	lastRunTimeout       = 5 * time.Second
)

// Cleaner normalizes and validates a raw batch.
type Cleaner interface {
	BatchClean(raws []crawler.RawRecord) ([]crawler.NormalizedRecord, int)
}

// Deduper filters already-persisted records and stores the last-run marker.
type Deduper interface {
	FilterUnseen(ctx context.Context, records []crawler.NormalizedRecord) ([]crawler.NormalizedRecord, error)
	TouchLastRun(ctx context.Context, key string, at time.Time) error
}

// Saver persists a batch.
type Saver interface {
	Save(ctx context.Context, records []crawler.NormalizedRecord) (crawler.PersistPath, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config controls pass scheduling.
type Config struct {
	MaxConcurrent int
	Interval      time.Duration
	LastRunKey    string
}

// Deps are the pipeline collaborators. Publisher is optional.
type Deps struct {
	Cleaner   Cleaner
	Dedup     Deduper
	Saver     Saver
	Publisher crawler.Publisher
	Clock     crawler.Clock
	Sleep     Sleeper
	Logger    *zap.Logger
}

// Orchestrator owns the registered extractors and runs passes over them.
type Orchestrator struct {
	cfg  Config
	deps Deps

	mu         sync.RWMutex
	extractors []crawler.Extractor
	names      map[string]struct{}
	last       *crawler.PassSummary

	passMu  sync.Mutex
	running atomic.Bool
	logger  *zap.Logger
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.LastRunKey == "" {
		cfg.LastRunKey = crawler.DefaultLastRunKey
	}
	if deps.Clock == nil {
		deps.Clock = crawler.SystemClock
	}
	if deps.Sleep == nil {
		deps.Sleep = crawler.Sleep
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		names:  make(map[string]struct{}),
		logger: deps.Logger.Named("orchestrator"),
	}
}

// Register adds an extractor. Names must be unique because results are keyed by name.
func (o *Orchestrator) Register(ex crawler.Extractor) error {
	if ex == nil {
		return errors.New("extractor is nil")
	}
	name := ex.Name()
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.names[name]; dup {
		return fmt.Errorf("%w: %s", crawler.ErrDuplicateExtractor, name)
	}
	o.names[name] = struct{}{}
	o.extractors = append(o.extractors, ex)
	o.logger.Info("registered extractor", zap.String("extractor", name))
	return nil
}

// Extractors returns the registered names in registration order.
func (o *Orchestrator) Extractors() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.extractors))
	for _, ex := range o.extractors {
		out = append(out, ex.Name())
	}
	return out
}

// Running reports whether a pass is executing.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// LastPass returns the most recently completed pass.
func (o *Orchestrator) LastPass() (crawler.PassSummary, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return crawler.PassSummary{}, false
	}
	return *o.last, true
}

// RunAll executes one pass and always returns one result per registered
// extractor. Passes are serialized; a second caller waits for the first.
func (o *Orchestrator) RunAll(ctx context.Context, keyword string, concurrent bool) crawler.PassSummary {
	o.passMu.Lock()
	defer o.passMu.Unlock()
	return o.runPass(ctx, keyword, concurrent)
}

// Trigger starts a concurrent pass in the background and returns its done
// channel, or ErrPassInProgress if one is already running.
func (o *Orchestrator) Trigger(ctx context.Context, keyword string) (<-chan crawler.PassSummary, error) {
	if !o.passMu.TryLock() {
		return nil, ErrPassInProgress
	}
	done := make(chan crawler.PassSummary, 1)
	go func() {
		defer o.passMu.Unlock()
		done <- o.runPass(ctx, keyword, true)
		close(done)
	}()
	return done, nil
}

// ScheduledRun runs passes back to back with Interval between them until ctx
// is done, then returns ctx's error.
func (o *Orchestrator) ScheduledRun(ctx context.Context, keyword string) error {
	o.logger.Info("scheduled runs started",
		zap.String("keyword", keyword), zap.Duration("interval", o.cfg.Interval))
	for {
		if err := ctx.Err(); err != nil {
			o.logger.Info("scheduled runs stopped", zap.Error(err))
			return err
		}
		summary := o.RunAll(ctx, keyword, true)
		o.logger.Info("pass complete; sleeping",
			zap.String("run_id", summary.RunID),
			zap.Int("count", summary.TotalUnique()),
			zap.Duration("interval", o.cfg.Interval))
		if err := o.deps.Sleep(ctx, o.cfg.Interval); err != nil {
			o.logger.Info("scheduled runs stopped", zap.Error(err))
			return err
		}
	}
}

func (o *Orchestrator) runPass(ctx context.Context, keyword string, concurrent bool) crawler.PassSummary {
	o.running.Store(true)
	metrics.SetPassInProgress(true)
	defer func() {
		o.running.Store(false)
		metrics.SetPassInProgress(false)
	}()

	o.mu.RLock()
	extractors := append([]crawler.Extractor(nil), o.extractors...)
	o.mu.RUnlock()

	summary := crawler.PassSummary{
		RunID:     uuid.NewRunID(),
		Keyword:   keyword,
		StartedAt: o.deps.Clock(),
		Results:   make(map[string]crawler.RunResult, len(extractors)),
	}
	logger := o.logger.With(zap.String("run_id", summary.RunID), zap.String("keyword", keyword))
	logger.Info("pass started", zap.Int("count", len(extractors)), zap.Bool("concurrent", concurrent))

	results := make([]crawler.RunResult, len(extractors))
	if concurrent && len(extractors) > 1 {
		var g errgroup.Group
		g.SetLimit(min(o.cfg.MaxConcurrent, len(extractors)))
		for i, ex := range extractors {
			g.Go(func() error {
				results[i] = o.runOne(ctx, ex, keyword, logger)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, ex := range extractors {
			results[i] = o.runOne(ctx, ex, keyword, logger)
		}
	}
	for _, res := range results {
		summary.Results[res.Extractor] = res
	}
	summary.FinishedAt = o.deps.Clock()

	o.afterPass(ctx, summary, logger)

	o.mu.Lock()
	o.last = &summary
	o.mu.Unlock()
	return summary
}

// afterPass writes the last-run marker and publishes the summary. Both outlive
// a canceled pass context so monitoring still sees the pass.
func (o *Orchestrator) afterPass(ctx context.Context, summary crawler.PassSummary, logger *zap.Logger) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), lastRunTimeout)
	defer cancel()

	if o.deps.Dedup != nil {
		if err := o.deps.Dedup.TouchLastRun(bg, o.cfg.LastRunKey, summary.FinishedAt); err != nil {
			logger.Warn("failed to record last run", zap.Error(err))
		}
	}
	if o.deps.Publisher != nil {
		if id, err := o.deps.Publisher.Publish(bg, summary); err != nil {
			logger.Warn("failed to publish pass summary", zap.Error(err))
		} else {
			logger.Debug("published pass summary", zap.String("message_id", id))
		}
	}

	failed := 0
	for _, res := range summary.Results {
		if res.Failed() {
			failed++
		}
	}
	logger.Info("pass finished",
		zap.Int("extractors", len(summary.Results)),
		zap.Int("failed", failed),
		zap.Int("unique", summary.TotalUnique()),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
}

// runOne drives one extractor through the pipeline. It never panics.
func (o *Orchestrator) runOne(ctx context.Context, ex crawler.Extractor, keyword string, passLogger *zap.Logger) (res crawler.RunResult) {
	name := ex.Name()
	logger := passLogger.With(zap.String("extractor", name))
	start := o.deps.Clock()
	res = crawler.RunResult{Extractor: name, Stage: crawler.StageIdle}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("extractor panicked",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res = crawler.RunResult{
				Extractor: name,
				Status:    crawler.RunStatusFailed,
				Stage:     res.Stage,
				Err:       fmt.Errorf("extractor %s panicked: %v", name, r),
			}
		}
		res.Elapsed = o.deps.Clock().Sub(start)
		if res.Err != nil {
			res.ErrorText = res.Err.Error()
		}
		metrics.ObserveExtractorRun(name, string(res.Status), res.Elapsed)
		logger.Info("extractor finished",
			zap.String("status", string(res.Status)),
			zap.String("stage", string(res.Stage)),
			zap.Int("discovered", res.Discovered),
			zap.Int("unique", res.Unique),
			zap.String("path", string(res.Path)),
			zap.Error(res.Err))
	}()

	if err := ctx.Err(); err != nil {
		res.Status = crawler.RunStatusCanceled
		res.Err = err
		return res
	}

	res.Stage = crawler.StageFetching
	raws, crawlErr := ex.Crawl(ctx, keyword)
	res.Discovered = len(raws)
	metrics.AddRecords(name, "discovered", len(raws))
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Status = crawler.RunStatusCanceled
		res.Err = ctxErr
		return res
	}
	if crawlErr != nil {
		logger.Warn("crawl returned an error", zap.Int("count", len(raws)), zap.Error(crawlErr))
		if len(raws) == 0 {
			res.Status = crawler.RunStatusFailed
			res.Err = crawlErr
			return res
		}
	}

	res.Stage = crawler.StageCleaning
	valid, dropped := o.deps.Cleaner.BatchClean(raws)
	res.Valid, res.Dropped = len(valid), dropped
	metrics.AddRecords(name, "valid", len(valid))
	metrics.AddRecords(name, "dropped", dropped)

	res.Stage = crawler.StageDeduping
	unique := valid
	if o.deps.Dedup != nil {
		var err error
		unique, err = o.deps.Dedup.FilterUnseen(ctx, valid)
		if err != nil {
			logger.Warn("dedup lookup degraded; keeping unverified records", zap.Error(err))
		}
	}
	res.Unique = len(unique)
	metrics.AddRecords(name, "unique", len(unique))

	res.Stage = crawler.StagePersisting
	if len(unique) > 0 {
		path, err := o.deps.Saver.Save(ctx, unique)
		if err != nil {
			res.Status = crawler.RunStatusFailed
			res.Err = errors.Join(err, crawlErr)
			return res
		}
		res.Path = path
		metrics.AddRecords(name, "persisted", len(unique))
	}

	res.Stage = crawler.StageDone
	res.Status = crawler.RunStatusSucceeded
	if crawlErr != nil {
		res.Status = crawler.RunStatusPartial
		res.Err = crawlErr
	}
	return res
}

