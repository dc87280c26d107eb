package importapp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
	"github.com/marketplace/backend/internal/domain/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type runnerFixture struct {
	jobs    *memJobRepo
	files   *memFiles
	store   *memCatalog
	metrics *recordingMetrics
	opts    Options
	runner  *JobRunner
}

func newRunnerFixture(t *testing.T, mutate ...func(*Options)) *runnerFixture {
	t.Helper()
	opts := DefaultOptions()
	opts.PersistenceBackoff = time.Millisecond
	for _, m := range mutate {
		m(&opts)
	}

	f := &runnerFixture{
		jobs:    newMemJobRepo(),
		files:   newMemFiles(),
		store:   newMemCatalog(),
		metrics: newRecordingMetrics(),
		opts:    opts,
	}
	f.runner = f.newRunner("worker-1")
	return f
}

func (f *runnerFixture) newRunner(workerID string) *JobRunner {
	logger := zap.NewNop()
	capacity := NewCapacityChecker(f.store)
	processor := NewRowProcessor(capacity, f.store, f.opts, logger)
	return NewJobRunner(f.jobs, f.files, f.store, capacity, processor, f.metrics, f.opts, workerID, logger)
}

// startJob stores content and saves a job that is already processing
func (f *runnerFixture) startJob(t *testing.T, content string, strategy bulk.ProcessingStrategy, catalogID *uuid.UUID) *bulk.ImportJob {
	t.Helper()
	ctx := context.Background()

	job, err := bulk.NewImportJob(uuid.New(), "test import", "", catalogID, strategy, 2)
	require.NoError(t, err)

	key := SourceKey(job.ID, uuid.New(), "products.csv")
	require.NoError(t, f.files.Save(ctx, key, stringsReader(content), int64(len(content))))
	require.NoError(t, job.AttachSource(key, "products.csv", int64(len(content)), 0))
	require.NoError(t, job.Start())
	require.NoError(t, f.jobs.Save(ctx, job))
	return job
}

func (f *runnerFixture) load(t *testing.T, id uuid.UUID) *bulk.ImportJob {
	t.Helper()
	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

// assertCommitInvariants checks every persisted checkpoint of the job
func (f *runnerFixture) assertCommitInvariants(t *testing.T, id uuid.UUID) {
	t.Helper()
	last := 0
	for _, c := range f.jobs.commitsOf(id) {
		assert.Equal(t, c.SuccessCount+c.ErrorCount, c.ProcessedRecords, "processed must equal success+error")
		assert.Equal(t, c.LastProcessedRow, c.ProcessedRecords, "checkpoint must equal resolved rows")
		assert.GreaterOrEqual(t, c.LastProcessedRow, last, "checkpoint must not move backwards")
		last = c.LastProcessedRow
	}
}

func TestJobRunner_CompletesCleanFile(t *testing.T) {
	for _, strategy := range []bulk.ProcessingStrategy{bulk.StrategySequential, bulk.StrategyParallel} {
		t.Run(string(strategy), func(t *testing.T) {
			f := newRunnerFixture(t, func(o *Options) {
				o.ParallelWindow = 4
				o.ParallelWorkers = 3
			})
			job := f.startJob(t, productCSV(10), strategy, nil)

			require.NoError(t, f.runner.Run(context.Background(), job.ID))

			got := f.load(t, job.ID)
			assert.Equal(t, bulk.JobStatusCompleted, got.Status)
			assert.Equal(t, 10, got.ProcessedRecords)
			assert.Equal(t, 10, got.SuccessCount)
			assert.Equal(t, 0, got.ErrorCount)
			assert.Equal(t, 10, got.LastProcessedRow)
			assert.NotNil(t, got.CompletedAt)
			assert.Empty(t, got.WorkerID)
			assert.Empty(t, f.jobs.errorsOf(job.ID))
			assert.Equal(t, 10, f.metrics.count("success"))
			assert.Equal(t, []bulk.JobStatus{bulk.JobStatusCompleted}, f.metrics.finished)
			f.assertCommitInvariants(t, job.ID)
		})
	}
}

func TestJobRunner_PartialSuccess(t *testing.T) {
	for _, strategy := range []bulk.ProcessingStrategy{bulk.StrategySequential, bulk.StrategyParallel} {
		t.Run(string(strategy), func(t *testing.T) {
			f := newRunnerFixture(t, func(o *Options) { o.ParallelWindow = 3 })
			job := f.startJob(t, productCSV(8, 2, 5, 7), strategy, nil)

			require.NoError(t, f.runner.Run(context.Background(), job.ID))

			got := f.load(t, job.ID)
			assert.Equal(t, bulk.JobStatusCompleted, got.Status)
			assert.Equal(t, 5, got.SuccessCount)
			assert.Equal(t, 3, got.ErrorCount)
			assert.Equal(t, 8, got.ProcessedRecords)

			errs := f.jobs.errorsOf(job.ID)
			require.Len(t, errs, 3)
			for i, row := range []int{2, 5, 7} {
				assert.Equal(t, row, errs[i].RowNumber)
				assert.Equal(t, bulk.ErrorTypeValidation, errs[i].ErrorType)
				assert.Equal(t, "name", errs[i].Field)
			}
			f.assertCommitInvariants(t, job.ID)
		})
	}
}

func TestJobRunner_EmptyNameOnSecondRow(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, "name,price\nWidget,9.99\n,5.00\n", bulk.StrategySequential, nil)

	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 1, got.ErrorCount)

	errs := f.jobs.errorsOf(job.ID)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].RowNumber)
	assert.Equal(t, bulk.ErrorTypeValidation, errs[0].ErrorType)
	assert.Equal(t, "name", errs[0].Field)
	assert.Equal(t, bulk.SeverityError, errs[0].Severity)
}

func TestJobRunner_PauseAndResume(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(6), bulk.StrategySequential, nil)

	f.store.onWrite = func(d *catalog.ProductDraft) {
		if d.Name == "P3" {
			require.NoError(t, f.jobs.RequestControl(context.Background(), job.ID, bulk.ControlPause))
		}
	}
	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	paused := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusPaused, paused.Status)
	assert.Equal(t, 3, paused.LastProcessedRow)
	assert.Equal(t, 3, paused.ProcessedRecords)
	assert.Equal(t, bulk.ControlNone, paused.ControlRequest)
	assert.NotNil(t, paused.PausedAt)

	f.store.onWrite = nil
	require.NoError(t, paused.Resume())
	require.NoError(t, f.jobs.Save(context.Background(), paused))
	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	done := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCompleted, done.Status)
	assert.Equal(t, 6, done.SuccessCount)
	assert.NotNil(t, done.ResumedAt)
	for i := 1; i <= 6; i++ {
		assert.Equal(t, 1, f.store.writesOf(fmt.Sprintf("P%d", i)), "row %d must be applied exactly once", i)
	}
	f.assertCommitInvariants(t, job.ID)
}

func TestJobRunner_Cancel(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(6), bulk.StrategySequential, nil)

	f.store.onWrite = func(d *catalog.ProductDraft) {
		if d.Name == "P2" {
			require.NoError(t, f.jobs.RequestControl(context.Background(), job.ID, bulk.ControlCancel))
		}
	}
	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCancelled, got.Status)
	assert.Equal(t, 2, got.ProcessedRecords)
	assert.Equal(t, 2, got.LastProcessedRow)
	assert.NotNil(t, got.CanceledAt)
	for i := 3; i <= 6; i++ {
		assert.Zero(t, f.store.writesOf(fmt.Sprintf("P%d", i)), "row %d must not be touched", i)
	}
	assert.Equal(t, []bulk.JobStatus{bulk.JobStatusCancelled}, f.metrics.finished)
}

func TestJobRunner_FatalThenRetry(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(6), bulk.StrategySequential, nil)

	f.store.setWriteErr(func(d *catalog.ProductDraft) error {
		if d.Name == "P4" {
			return fmt.Errorf("dial tcp: %w", catalog.ErrStoreUnavailable)
		}
		return nil
	})
	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	failed := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusFailed, failed.Status)
	assert.Equal(t, 3, failed.LastProcessedRow)
	assert.Equal(t, 3, failed.ProcessedRecords)
	assert.Contains(t, failed.FailureReason, "row 4")
	assert.NotNil(t, failed.FailedAt)

	errs := f.jobs.errorsOf(job.ID)
	require.Len(t, errs, 1)
	assert.Equal(t, 4, errs[0].RowNumber)
	assert.Equal(t, bulk.ErrorTypeSystem, errs[0].ErrorType)

	f.store.setWriteErr(nil)
	require.NoError(t, failed.Retry())
	require.NoError(t, f.jobs.Save(context.Background(), failed))
	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	done := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, done.RetryCount)
	assert.Equal(t, 6, done.SuccessCount)
	assert.Equal(t, 0, done.ErrorCount)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, 1, f.store.writesOf(fmt.Sprintf("P%d", i)), "row %d must not be reprocessed", i)
	}
	f.assertCommitInvariants(t, job.ID)
}

func TestJobRunner_ParallelFatalStopsAtPrefix(t *testing.T) {
	f := newRunnerFixture(t, func(o *Options) {
		o.ParallelWindow = 4
		o.ParallelWorkers = 2
	})
	job := f.startJob(t, productCSV(16), bulk.StrategyParallel, nil)

	f.store.setWriteErr(func(d *catalog.ProductDraft) error {
		if d.Name == "P10" {
			return catalog.ErrStoreUnavailable
		}
		return nil
	})
	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusFailed, got.Status)
	assert.Equal(t, 9, got.LastProcessedRow)
	assert.Equal(t, 9, got.SuccessCount)
	assert.Contains(t, got.FailureReason, "row 10")
	for i := 13; i <= 16; i++ {
		assert.Zero(t, f.store.writesOf(fmt.Sprintf("P%d", i)), "row %d is beyond the failing window", i)
	}
	f.assertCommitInvariants(t, job.ID)
}

func TestJobRunner_CapacityIsRowScoped(t *testing.T) {
	f := newRunnerFixture(t)
	cat := f.store.addCatalog("Shoes", 2)
	job := f.startJob(t, productCSV(4), bulk.StrategySequential, &cat.ID)

	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 2, got.ErrorCount)

	errs := f.jobs.errorsOf(job.ID)
	require.Len(t, errs, 2)
	assert.Equal(t, bulk.ErrorTypeCapacity, errs[0].ErrorType)
	assert.Equal(t, 3, errs[0].RowNumber)
	assert.Equal(t, 4, errs[1].RowNumber)
}

func TestJobRunner_CatalogDeletedFailsJob(t *testing.T) {
	f := newRunnerFixture(t)
	missing := uuid.New()
	job := f.startJob(t, productCSV(2), bulk.StrategySequential, &missing)

	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "catalog unavailable")
	assert.Zero(t, got.ProcessedRecords)
}

func TestJobRunner_SourceUnreadableFailsJob(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(2), bulk.StrategySequential, nil)
	f.files.openErr = errors.New("bucket gone")

	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "source unreadable")
}

func TestJobRunner_ErrorThreshold(t *testing.T) {
	f := newRunnerFixture(t, func(o *Options) { o.ErrorThreshold = 1 })
	job := f.startJob(t, productCSV(6, 1, 2, 3), bulk.StrategySequential, nil)

	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusFailed, got.Status)
	assert.Equal(t, ReasonErrorThreshold, got.FailureReason)
	assert.Equal(t, 2, got.ErrorCount)
	assert.Equal(t, 2, got.LastProcessedRow)
}

func TestJobRunner_LenientAttributesWarn(t *testing.T) {
	f := newRunnerFixture(t, func(o *Options) { o.AttributeStrictness = StrictnessLenient })
	f.store.defs = []catalog.AttributeDefinition{sizeAttribute(nil)}
	job := f.startJob(t, "name,price,Size\nShirt,10,\"S,M\"\nHat,5,XXL\n", bulk.StrategySequential, nil)

	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 0, got.ErrorCount)
	assert.Equal(t, 1, got.WarningCount)

	errs := f.jobs.errorsOf(job.ID)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].RowNumber)
	assert.Equal(t, bulk.SeverityWarning, errs[0].Severity)
	assert.Equal(t, "Size", errs[0].Field)
	assert.Equal(t, "XXL", errs[0].Value)
}

func TestJobRunner_SkipsJobLeasedByAnotherWorker(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(2), bulk.StrategySequential, nil)

	claimed, err := f.jobs.Claim(context.Background(), job.ID, "worker-2", time.Now().Add(time.Minute), time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusProcessing, got.Status)
	assert.Equal(t, "worker-2", got.WorkerID)
	assert.Zero(t, got.ProcessedRecords)
}

func TestJobRunner_SkipsJobsNotProcessing(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(2), bulk.StrategySequential, nil)
	stored := f.load(t, job.ID)
	require.NoError(t, stored.Cancel())
	require.NoError(t, f.jobs.Save(context.Background(), stored))

	require.NoError(t, f.runner.Run(context.Background(), job.ID))
	assert.Zero(t, f.store.writesOf("P1"))
}

func TestJobRunner_InterruptedRunResumes(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(4), bulk.StrategySequential, nil)

	ctx, cancel := context.WithCancel(context.Background())
	f.store.onWrite = func(d *catalog.ProductDraft) {
		if d.Name == "P2" {
			cancel()
		}
	}
	err := f.runner.Run(ctx, job.ID)
	require.ErrorIs(t, err, context.Canceled)

	interrupted := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusProcessing, interrupted.Status)
	assert.Equal(t, 1, interrupted.LastProcessedRow)
	assert.Empty(t, interrupted.WorkerID)

	f.store.onWrite = nil
	restarted := f.newRunner("worker-2")
	require.NoError(t, restarted.Run(context.Background(), job.ID))

	done := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCompleted, done.Status)
	assert.Equal(t, 4, done.ProcessedRecords)
	assert.Equal(t, 1, f.store.writesOf("P1"))
	f.assertCommitInvariants(t, job.ID)
}

func TestJobRunner_TruncatedSourceFailsResume(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(2), bulk.StrategySequential, nil)

	stored := f.load(t, job.ID)
	stored.LastProcessedRow = 5
	stored.ProcessedRecords = 5
	stored.SuccessCount = 5
	f.jobs.jobs[job.ID] = *stored

	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "cannot resume from row 5")
}

func TestJobRunner_SecondRunInSameProcessIsSkipped(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(4, 2), bulk.StrategySequential, nil)

	var secondErr error
	f.store.onWrite = func(d *catalog.ProductDraft) {
		time.Sleep(20 * time.Millisecond)
		if d.Name == "P1" {
			secondErr = f.runner.Run(context.Background(), job.ID)
		}
	}
	require.NoError(t, f.runner.Run(context.Background(), job.ID))
	require.NoError(t, secondErr)

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Len(t, f.jobs.errorsOf(job.ID), 1)
	for _, name := range []string{"P1", "P3", "P4"} {
		assert.Equal(t, 1, f.store.writesOf(name), "%s must be applied once", name)
	}
	assert.Equal(t, 1, f.jobs.claimCount())
	f.assertCommitInvariants(t, job.ID)
}

func TestJobRunner_ConcurrentRunsProcessRowsOnce(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(4, 2), bulk.StrategySequential, nil)
	f.store.onWrite = func(*catalog.ProductDraft) { time.Sleep(20 * time.Millisecond) }

	errs := make(chan error, 2)
	for range 2 {
		go func() { errs <- f.runner.Run(context.Background(), job.ID) }()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Len(t, f.jobs.errorsOf(job.ID), 1)
	assert.Equal(t, 1, f.store.writesOf("P1"))
	f.assertCommitInvariants(t, job.ID)
}

func TestJobRunner_HeartbeatKeepsSlowRowLeased(t *testing.T) {
	f := newRunnerFixture(t, func(o *Options) {
		o.LeaseDuration = 200 * time.Millisecond
		o.LeaseRenewInterval = 20 * time.Millisecond
	})
	job := f.startJob(t, productCSV(2), bulk.StrategySequential, nil)

	var rivalErr error
	f.store.onWrite = func(d *catalog.ProductDraft) {
		if d.Name == "P1" {
			// outlives the lease taken at claim time
			time.Sleep(300 * time.Millisecond)
			rivalErr = f.newRunner("worker-2").Run(context.Background(), job.ID)
		}
	}
	require.NoError(t, f.runner.Run(context.Background(), job.ID))
	require.NoError(t, rivalErr)

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, f.store.writesOf("P1"))
	assert.Equal(t, 1, f.jobs.claimCount(), "the rival run must not get the lease")
	assert.Positive(t, f.jobs.renewalCount())
}

func TestJobRunner_LostLeaseStopsRun(t *testing.T) {
	f := newRunnerFixture(t, func(o *Options) {
		o.LeaseDuration = time.Second
		o.LeaseRenewInterval = 10 * time.Millisecond
	})
	job := f.startJob(t, productCSV(3), bulk.StrategySequential, nil)

	f.store.onWrite = func(d *catalog.ProductDraft) {
		if d.Name == "P1" {
			f.jobs.setLeaseHolder(job.ID, "worker-9/recovered")
			time.Sleep(100 * time.Millisecond)
		}
	}
	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusProcessing, got.Status)
	assert.Equal(t, "worker-9/recovered", got.WorkerID)
	assert.Zero(t, got.ProcessedRecords)
	assert.Zero(t, f.store.writesOf("P2"))
}

func TestJobRunner_CancelDuringPauseWins(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.startJob(t, productCSV(4), bulk.StrategySequential, nil)

	f.store.onWrite = func(d *catalog.ProductDraft) {
		if d.Name == "P2" {
			require.NoError(t, f.jobs.RequestControl(context.Background(), job.ID, bulk.ControlPause))
		}
	}
	cancelled := false
	f.jobs.beforeFinalize = func(j *bulk.ImportJob) {
		if j.Status == bulk.JobStatusPaused && !cancelled {
			cancelled = true
			require.NoError(t, f.jobs.RequestControl(context.Background(), job.ID, bulk.ControlCancel))
		}
	}
	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCancelled, got.Status)
	assert.Nil(t, got.PausedAt)
	assert.NotNil(t, got.CanceledAt)
	assert.Equal(t, bulk.ControlNone, got.ControlRequest)
	assert.Equal(t, 2, got.LastProcessedRow)
	assert.Equal(t, []bulk.JobStatus{bulk.JobStatusCancelled}, f.metrics.finished)
}

func TestJobRunner_RetryAfterErrorThreshold(t *testing.T) {
	f := newRunnerFixture(t, func(o *Options) { o.ErrorThreshold = 1 })
	job := f.startJob(t, productCSV(6, 1, 2, 3), bulk.StrategySequential, nil)

	require.NoError(t, f.runner.Run(context.Background(), job.ID))
	failed := f.load(t, job.ID)
	require.Equal(t, bulk.JobStatusFailed, failed.Status)
	require.Equal(t, ReasonErrorThreshold, failed.FailureReason)

	require.NoError(t, failed.Retry())
	require.NoError(t, f.jobs.Save(context.Background(), failed))
	require.NoError(t, f.runner.Run(context.Background(), job.ID))

	got := f.load(t, job.ID)
	assert.Equal(t, bulk.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ErrorCount)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, 6, got.LastProcessedRow)
	f.assertCommitInvariants(t, job.ID)
}
