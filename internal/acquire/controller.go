package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/franz/cratekeeper/internal/identify"
	"github.com/franz/cratekeeper/internal/importer"
	"github.com/franz/cratekeeper/internal/report"
	"github.com/franz/cratekeeper/internal/store"
	"github.com/franz/cratekeeper/internal/util"
)

// Config holds acquisition controller settings
type Config struct {
	StagingDir string
	// ConfidenceThreshold is the inclusive identification gate for
	// untrusted sources; trusted sources always pass
	ConfidenceThreshold float64
}

// CollectionHook is notified when a single-track request completes. The
// full release is fetched and imported either way; the hook lets a
// playlist or collection layer record which track was actually asked for.
type CollectionHook interface {
	ReleaseImported(ctx context.Context, job *store.Job, releaseID int64) error
}

// NoopCollectionHook is the default hook
type NoopCollectionHook struct{}

func (NoopCollectionHook) ReleaseImported(context.Context, *store.Job, int64) error { return nil }

// Controller owns the acquisition job state machine: submission,
// cancellation, the download-then-import run driven by the worker pool,
// and terminal-state mapping.
type Controller struct {
	store    *store.Store
	engine   *importer.Engine
	logger   *report.EventLogger
	fetchers map[SourceKind]Fetcher
	hook     CollectionHook
	cfg      Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a controller. Sources without a fetcher in the map are
// rejected at submission.
func New(s *store.Store, engine *importer.Engine, logger *report.EventLogger, fetchers map[SourceKind]Fetcher, hook CollectionHook, cfg Config) *Controller {
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.85
	}
	if hook == nil {
		hook = NoopCollectionHook{}
	}
	return &Controller{
		store:    s,
		engine:   engine,
		logger:   logger,
		fetchers: fetchers,
		hook:     hook,
		cfg:      cfg,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SubmitOptions carries the optional submission parameters
type SubmitOptions struct {
	QualityTier string
	Requester   string
	SingleTrack bool
}

// Submit validates the locator, persists a pending job and returns its id
func (c *Controller) Submit(kind SourceKind, locator string, opts SubmitOptions) (string, error) {
	if _, ok := c.fetchers[kind]; !ok {
		return "", fmt.Errorf("%w: no fetcher configured for source %q", util.ErrInvalidConfig, kind)
	}
	if err := kind.ValidateLocator(locator); err != nil {
		return "", err
	}

	job := &store.Job{
		ID:          uuid.NewString(),
		Source:      string(kind),
		Locator:     locator,
		QualityTier: opts.QualityTier,
		Status:      store.JobPending,
		SingleTrack: opts.SingleTrack,
		Requester:   opts.Requester,
	}
	if err := c.store.InsertJob(job); err != nil {
		return "", err
	}

	util.InfoLog("Queued %s job %s: %s", kind, job.ID, locator)
	c.logger.LogJobSubmitted(job.ID, job.Source, locator, opts.Requester)
	return job.ID, nil
}

// Cancel stops a job if it has not started importing. Pending jobs flip
// straight to cancelled; downloading jobs get their fetch context revoked.
// Importing and terminal jobs refuse.
func (c *Controller) Cancel(id string) error {
	job, err := c.store.GetJob(id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %s", util.ErrNotFound, id)
	}

	// The cancelled state is written conditionally so a worker that has
	// already moved the job into importing wins the race, and it must be
	// visible before the fetch context is revoked, or the worker reads a
	// still-downloading row and fails the job instead
	ok, err := c.store.CancelJob(id)
	if err != nil {
		return err
	}
	if !ok {
		status := job.Status
		if current, gerr := c.store.GetJob(id); gerr == nil && current != nil {
			status = current.Status
		}
		return fmt.Errorf("%w: job %s is %s", util.ErrNotCancellable, id, status)
	}
	c.mu.Lock()
	if cancel, ok := c.cancels[id]; ok {
		cancel()
	}
	c.mu.Unlock()
	util.InfoLog("Cancelled job %s", id)
	c.logger.LogJobState(id, store.JobCancelled, "cancelled by operator")
	return nil
}

// Run drives one claimed job to a terminal state. It is the task the
// worker pool executes; the job arrives already marked downloading.
func (c *Controller) Run(ctx context.Context, job *store.Job) {
	kind := SourceKind(job.Source)

	attempts, err := c.store.IncrementJobAttempts(job.ID)
	if err != nil {
		util.WarnLog("Failed to count attempt for job %s: %v", job.ID, err)
	}
	util.InfoLog("Starting job %s (%s, attempt %d)", job.ID, kind, attempts)
	c.logger.LogJobState(job.ID, store.JobDownloading, "")

	fetcher, ok := c.fetchers[kind]
	if !ok {
		c.fail(job, fmt.Errorf("%w: no fetcher for source %q", util.ErrInvalidConfig, kind))
		return
	}

	// Cancellable only while fetching; Cancel revokes this context
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels[job.ID] = cancelFetch
	c.mu.Unlock()

	// Trusted sources earn a larger retry budget
	retryCfg := util.DefaultRetryConfig()
	if kind.Trusted() {
		retryCfg = util.TrustedRetryConfig()
	}

	sink := newJobProgress(c.store, c.logger, job.ID)
	dir, err := util.RetryWithBackoff(fetchCtx, retryCfg, func() (string, error) {
		return fetcher.Fetch(fetchCtx, job.Locator, job.QualityTier, sink)
	}, "fetch "+job.ID)

	c.mu.Lock()
	delete(c.cancels, job.ID)
	c.mu.Unlock()
	cancelFetch()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Operator cancellation already set the terminal state;
			// daemon shutdown leaves the job for requeue on restart
			current, gerr := c.store.GetJob(job.ID)
			if gerr == nil && current != nil && current.Status == store.JobCancelled {
				util.InfoLog("Job %s cancelled during download", job.ID)
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
		c.fail(job, fmt.Errorf("download failed: %w", err))
		return
	}

	// Cancellation may have come from another process while the fetch
	// was in flight
	if current, gerr := c.store.GetJob(job.ID); gerr == nil && current != nil && current.Status == store.JobCancelled {
		util.InfoLog("Job %s cancelled, discarding fetched files", job.ID)
		removeStaging(dir)
		return
	}

	if err := c.store.UpdateJobStatus(job.ID, store.JobImporting, ""); err != nil {
		c.fail(job, err)
		return
	}
	c.logger.LogJobState(job.ID, store.JobImporting, "")

	threshold := c.cfg.ConfidenceThreshold
	if kind.Trusted() {
		threshold = 0
	}

	// Authoritative fetchers stage the identity they downloaded under;
	// tag heuristics only run when no such record exists
	var ident identify.Identifier = identify.NewTagIdentifier()
	if id := ReadStagedIdentity(dir); id != nil {
		ident = identify.Static{ID: *id}
	}

	cand, err := c.engine.NewCandidate(ctx, job.ID, dir, job.Source, job.Locator, ident, threshold)
	if err != nil {
		c.fail(job, fmt.Errorf("candidate rejected (files kept in %s): %w", dir, err))
		return
	}

	c.finish(ctx, job, c.engine.Import(ctx, cand))
	removeStagingWrapper(dir)
}

// finish maps an import outcome onto the job's terminal state
func (c *Controller) finish(ctx context.Context, job *store.Job, out importer.Outcome) {
	switch out.Kind {
	case importer.OutcomeCommitted:
		c.store.SetJobRelease(job.ID, out.ReleaseID)
		c.store.UpdateJobStatus(job.ID, store.JobComplete, "")
		c.logger.LogJobState(job.ID, store.JobComplete, "")
		if job.SingleTrack {
			if err := c.hook.ReleaseImported(ctx, job, out.ReleaseID); err != nil {
				util.WarnLog("Collection hook failed for job %s: %v", job.ID, err)
			}
		}

	case importer.OutcomeDuplicate:
		c.store.SetJobRelease(job.ID, out.ReleaseID)
		c.store.UpdateJobStatus(job.ID, store.JobDuplicate, out.Reason)
		c.logger.LogJobState(job.ID, store.JobDuplicate, out.Reason)

	case importer.OutcomeNeedsReview:
		c.store.SetJobReview(job.ID, out.ReviewID)
		c.store.UpdateJobStatus(job.ID, store.JobPendingReview, out.Reason)
		c.logger.LogJobState(job.ID, store.JobPendingReview, out.Reason)

	case importer.OutcomeFatal:
		c.fail(job, out.Err)
	}
}

func (c *Controller) fail(job *store.Job, err error) {
	util.ErrorLog("Job %s failed: %v", job.ID, err)
	c.store.UpdateJobStatus(job.ID, store.JobFailed, err.Error())
	c.logger.LogJobState(job.ID, store.JobFailed, err.Error())
}

// Sweep deletes terminal jobs older than the retention age
func (c *Controller) Sweep(olderThan time.Duration) (int, error) {
	removed, err := c.store.SweepTerminalJobs(time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		util.InfoLog("Swept %d terminal job(s) older than %s", removed, olderThan)
		c.logger.LogSweep(int64(removed), olderThan)
	}
	return removed, nil
}
