package importapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
	"github.com/marketplace/backend/internal/domain/catalog"
	csvimport "github.com/marketplace/backend/internal/infrastructure/import"
	"github.com/marketplace/backend/internal/infrastructure/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/marketplace/backend/internal/application/import"

// ReasonErrorThreshold is the failure reason when too many rows were rejected
const ReasonErrorThreshold = "error threshold exceeded"

var errWindowAborted = errors.New("window aborted by fatal row")

// JobRunner drives one job from its checkpoint until it completes, pauses,
// is cancelled, fails, or the worker shuts down.
type JobRunner struct {
	jobs       bulk.ImportJobRepository
	files      FileStore
	attributes catalog.AttributeReader
	capacity   *CapacityChecker
	processor  *RowProcessor
	metrics    Metrics
	opts       Options
	workerID   string
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewJobRunner creates a new JobRunner. workerID identifies this process;
// every run leases its job under workerID plus a per-run suffix.
func NewJobRunner(
	jobs bulk.ImportJobRepository,
	files FileStore,
	attributes catalog.AttributeReader,
	capacity *CapacityChecker,
	processor *RowProcessor,
	metrics Metrics,
	opts Options,
	workerID string,
	log *zap.Logger,
) *JobRunner {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if workerID == "" {
		workerID = uuid.NewString()
	}
	return &JobRunner{
		jobs:       jobs,
		files:      files,
		attributes: attributes,
		capacity:   capacity,
		processor:  processor,
		metrics:    metrics,
		opts:       opts.withDefaults(),
		workerID:   workerID,
		logger:     log.Named("import-runner"),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

// WorkerID returns the name of this runner's process
func (r *JobRunner) WorkerID() string {
	return r.workerID
}

// runState is the per-run working set
type runState struct {
	job     *bulk.ImportJob
	leaseID string
	scope   *JobScope
	tracker *bulk.CheckpointTracker
	errLog  *ErrorLog
	log     *logger.ContextLogger
}

// Run claims the job and processes it. Jobs that are not processing or are
// leased by any run, including another run in this process, are skipped
// without error.
func (r *JobRunner) Run(ctx context.Context, jobID uuid.UUID) error {
	leaseID := r.workerID + "/" + uuid.NewString()[:8]
	now := r.now()
	claimed, err := r.jobs.Claim(ctx, jobID, leaseID, now.Add(r.opts.LeaseDuration), now)
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	if !claimed {
		r.logger.Debug("Job not claimable, skipping", zap.String("job_id", jobID.String()))
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "import.job.run",
		trace.WithAttributes(
			attribute.String("import.job_id", jobID.String()),
			attribute.String("import.lease_id", leaseID),
		),
	)
	defer span.End()

	ctx, cancel := context.WithCancelCause(ctx)
	var heartbeat sync.WaitGroup
	heartbeat.Add(1)
	go func() {
		defer heartbeat.Done()
		r.heartbeat(ctx, cancel, jobID, leaseID)
	}()
	defer func() {
		cancel(nil)
		heartbeat.Wait()
	}()

	job, err := r.jobs.FindByID(ctx, jobID)
	if err != nil {
		r.release(ctx, jobID, leaseID)
		span.RecordError(err)
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	job.ExtendLease(leaseID, now.Add(r.opts.LeaseDuration))

	ctx, _ = logger.WithJobID(ctx, r.logger, jobID.String())
	st := &runState{
		job:     job,
		leaseID: leaseID,
		tracker: bulk.NewCheckpointTracker(job.LastProcessedRow),
		errLog:  NewErrorLog(),
		log:     logger.WithLogger(ctx, r.logger),
	}
	span.SetAttributes(
		attribute.String("import.strategy", string(job.ProcessingStrategy)),
		attribute.Int("import.resume_from", job.LastProcessedRow),
	)
	st.log.Info("Import run started",
		zap.String("strategy", string(job.ProcessingStrategy)),
		zap.Int("checkpoint", job.LastProcessedRow),
		zap.Int("total_records", job.TotalRecords),
	)

	err = r.run(ctx, st)
	if err != nil && errors.Is(context.Cause(ctx), bulk.ErrLeaseLost) {
		st.log.Warn("Lease lost, abandoning run", zap.Int("checkpoint", st.job.LastProcessedRow))
		err = nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("import.status", string(st.job.Status)),
		attribute.Int("import.checkpoint", st.job.LastProcessedRow),
	)
	return err
}

func (r *JobRunner) run(ctx context.Context, st *runState) error {
	if stop, err := r.applyControl(ctx, st); stop {
		return err
	}

	if st.job.CatalogID != nil {
		if _, _, err := r.capacity.Snapshot(ctx, *st.job.CatalogID); err != nil {
			return r.fail(ctx, st, fmt.Sprintf("catalog unavailable: %v", err))
		}
	}

	defs, err := r.attributes.ListAttributes(ctx, st.job.CatalogID)
	if err != nil {
		return r.fail(ctx, st, fmt.Sprintf("failed to load attribute definitions: %v", err))
	}
	index := NewAttributeIndex(defs)
	st.scope = &JobScope{JobID: st.job.ID, CatalogID: st.job.CatalogID, Attributes: index}

	src, err := r.files.Open(ctx, st.job.SourceKey)
	if err != nil {
		return r.fail(ctx, st, fmt.Sprintf("source unreadable: %v", err))
	}
	defer src.Close()

	reader, err := csvimport.NewRowReader(src, index.Columns(),
		csvimport.WithDelimiter(r.opts.FieldDelimiter),
		csvimport.WithValueDelimiter(r.opts.ValueDelimiter),
	)
	if err != nil {
		return r.fail(ctx, st, fmt.Sprintf("source unreadable: %v", err))
	}
	if err := reader.Skip(st.job.LastProcessedRow); err != nil {
		return r.fail(ctx, st, fmt.Sprintf("cannot resume from row %d: %v", st.job.LastProcessedRow, err))
	}

	window := 1
	if st.job.ProcessingStrategy == bulk.StrategyParallel {
		window = r.opts.ParallelWindow
	}

	for {
		if stop, err := r.applyControl(ctx, st); stop {
			return err
		}

		records, readErr := readWindow(reader, window)
		if len(records) > 0 {
			var outcomes []RowOutcome
			if window == 1 {
				outcomes = []RowOutcome{r.processor.Process(ctx, st.scope, records[0])}
			} else {
				outcomes = r.processWindow(ctx, st.scope, records)
			}
			if ctx.Err() != nil {
				return r.interrupt(ctx, st)
			}
			if stop, err := r.commit(ctx, st, outcomes); stop {
				return err
			}
		}

		switch {
		case readErr == io.EOF:
			return r.finish(ctx, st, st.job.Complete)
		case readErr != nil:
			return r.fail(ctx, st, fmt.Sprintf("source unreadable: %v", readErr))
		}
	}
}

// readWindow reads up to n records. The error, if any, applies after the
// returned records.
func readWindow(reader *csvimport.RowReader, n int) ([]*csvimport.Record, error) {
	records := make([]*csvimport.Record, 0, n)
	for len(records) < n {
		rec, err := reader.Next()
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// processWindow applies a window of rows concurrently. Once a row turns out
// fatal, rows not yet started are left unprocessed.
func (r *JobRunner) processWindow(ctx context.Context, scope *JobScope, records []*csvimport.Record) []RowOutcome {
	outcomes := make([]RowOutcome, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.ParallelWorkers)

	for i, rec := range records {
		if gctx.Err() != nil {
			outcomes[i] = fatalOutcome(
				bulk.NewRowError(scope.JobID, rec.RowNumber, bulk.ErrorTypeSystem, "row not processed"),
				gctx.Err())
			continue
		}
		g.Go(func() error {
			outcomes[i] = r.processor.Process(gctx, scope, rec)
			if outcomes[i].Kind == OutcomeFatal {
				return errWindowAborted
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// commit folds the resolved prefix of the outcomes into the job and persists
// it. Outcomes after the first unresolved row are dropped and reprocessed on
// retry.
func (r *JobRunner) commit(ctx context.Context, st *runState, outcomes []RowOutcome) (bool, error) {
	// Rows after the first unresolved one are not committed even when they
	// resolved; they are processed again on retry.
	var cause *RowOutcome
	for i := range outcomes {
		o := outcomes[i]
		if !o.Resolved() {
			if cause == nil || (isCancellation(cause.Cause) && !isCancellation(o.Cause)) {
				cause = &outcomes[i]
			}
			continue
		}
		if cause != nil {
			continue
		}
		st.tracker.Resolve(o.Resolution())
		st.errLog.Record(o)
	}
	rows := st.tracker.Drain()
	entries := st.errLog.Flush(rows)
	if cause != nil && cause.Error != nil && !isCancellation(cause.Cause) {
		entries = append(entries, cause.Error)
	}

	if err := st.job.ApplyProgress(rows...); err != nil {
		return true, r.fail(ctx, st, fmt.Sprintf("checkpoint rejected: %v", err))
	}
	st.job.ExtendLease(st.leaseID, r.now().Add(r.opts.LeaseDuration))

	if err := r.jobs.SaveProgress(ctx, st.job, entries); err != nil {
		if errors.Is(err, bulk.ErrLeaseLost) {
			st.log.Warn("Lease lost, abandoning run", zap.Int("checkpoint", st.job.LastProcessedRow))
			return true, nil
		}
		if ctx.Err() != nil {
			return true, r.interrupt(ctx, st)
		}
		return true, r.fail(ctx, st, fmt.Sprintf("failed to save progress: %v", err))
	}

	for _, o := range outcomes {
		if o.Resolved() && o.RowNumber <= st.job.LastProcessedRow {
			r.metrics.RowProcessed(ctx, o.Kind.String())
		}
	}

	if cause != nil {
		reason := "row processing stopped"
		if cause.Cause != nil {
			reason = fmt.Sprintf("row %d: %v", cause.RowNumber, cause.Cause)
		}
		r.metrics.RowProcessed(ctx, OutcomeFatal.String())
		return true, r.fail(ctx, st, reason)
	}
	if st.job.ExceedsErrorThreshold(r.opts.ErrorThreshold) {
		return true, r.fail(ctx, st, ReasonErrorThreshold)
	}
	return false, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// applyControl honours a pending pause or cancel request at a row boundary
func (r *JobRunner) applyControl(ctx context.Context, st *runState) (bool, error) {
	if ctx.Err() != nil {
		return true, r.interrupt(ctx, st)
	}
	req, err := r.jobs.ReadControl(ctx, st.job.ID)
	if err != nil {
		if ctx.Err() != nil {
			return true, r.interrupt(ctx, st)
		}
		st.log.Warn("Failed to read control request", zap.Error(err))
		return false, nil
	}

	switch req {
	case bulk.ControlPause:
		st.log.Info("Pausing import", zap.Int("checkpoint", st.job.LastProcessedRow))
		before := *st.job
		err := r.finish(ctx, st, st.job.Pause)
		if !errors.Is(err, bulk.ErrControlChanged) {
			return true, err
		}
		// the pause was superseded, most likely by a cancel
		*st.job = before
		return r.applyControl(ctx, st)
	case bulk.ControlCancel:
		st.log.Info("Cancelling import", zap.Int("checkpoint", st.job.LastProcessedRow))
		return true, r.finish(ctx, st, st.job.Cancel)
	}
	return false, nil
}

func (r *JobRunner) fail(ctx context.Context, st *runState, reason string) error {
	st.log.Error("Import failed", zap.String("reason", reason), zap.Int("checkpoint", st.job.LastProcessedRow))
	return r.finish(ctx, st, func() error { return st.job.Fail(reason) })
}

// finish applies a transition out of processing and persists it fenced on the lease
func (r *JobRunner) finish(ctx context.Context, st *runState, transition func() error) error {
	if err := transition(); err != nil {
		return err
	}
	if err := r.jobs.Finalize(ctx, st.job, st.leaseID); err != nil {
		if errors.Is(err, bulk.ErrLeaseLost) {
			st.log.Warn("Lease lost before finalizing", zap.String("status", string(st.job.Status)))
			return nil
		}
		if errors.Is(err, bulk.ErrControlChanged) {
			return err
		}
		return fmt.Errorf("failed to finalize job %s: %w", st.job.ID, err)
	}

	r.metrics.JobFinished(ctx, st.job.Status, st.job.Duration())
	st.log.Info("Import run finished",
		zap.String("status", string(st.job.Status)),
		zap.Int("processed", st.job.ProcessedRecords),
		zap.Int("succeeded", st.job.SuccessCount),
		zap.Int("errors", st.job.ErrorCount),
		zap.Int("warnings", st.job.WarningCount),
	)
	return nil
}

// interrupt gives the job back without changing its status so the recovery
// poller can pick it up again from the checkpoint.
func (r *JobRunner) interrupt(ctx context.Context, st *runState) error {
	st.log.Info("Import run interrupted", zap.Int("checkpoint", st.job.LastProcessedRow))
	r.release(ctx, st.job.ID, st.leaseID)
	return ctx.Err()
}

func (r *JobRunner) release(ctx context.Context, jobID uuid.UUID, leaseID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.jobs.Release(ctx, jobID, leaseID); err != nil {
		r.logger.Warn("Failed to release job lease", zap.String("job_id", jobID.String()), zap.Error(err))
	}
}

// heartbeat renews the lease while rows are in flight so the recovery poller
// never sees a live run as abandoned. Once the lease is gone the run is
// cancelled with ErrLeaseLost.
func (r *JobRunner) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, jobID uuid.UUID, leaseID string) {
	ticker := time.NewTicker(r.opts.LeaseRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := r.jobs.RenewLease(ctx, jobID, leaseID, r.now().Add(r.opts.LeaseDuration))
		switch {
		case err == nil:
		case errors.Is(err, bulk.ErrLeaseLost):
			cancel(bulk.ErrLeaseLost)
			return
		case ctx.Err() != nil:
			return
		default:
			r.logger.Warn("Failed to renew job lease",
				zap.String("job_id", jobID.String()),
				zap.String("lease_id", leaseID),
				zap.Error(err))
		}
	}
}
