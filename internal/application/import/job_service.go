package importapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
	"github.com/marketplace/backend/internal/domain/catalog"
	"github.com/marketplace/backend/internal/domain/shared"
	csvimport "github.com/marketplace/backend/internal/infrastructure/import"
	"go.uber.org/zap"
)

// CodeInvalidFile is returned when an uploaded file cannot be imported at all
const CodeInvalidFile = "INVALID_FILE"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// JobService exposes the import job operations
type JobService struct {
	jobs       bulk.ImportJobRepository
	rowErrors  bulk.RowErrorRepository
	attributes catalog.AttributeReader
	capacity   *CapacityChecker
	files      FileStore
	queue      JobQueue
	opts       Options
	logger     *zap.Logger
}

// NewJobService creates a new JobService
func NewJobService(
	jobs bulk.ImportJobRepository,
	rowErrors bulk.RowErrorRepository,
	attributes catalog.AttributeReader,
	capacity *CapacityChecker,
	files FileStore,
	queue JobQueue,
	opts Options,
	logger *zap.Logger,
) *JobService {
	return &JobService{
		jobs:       jobs,
		rowErrors:  rowErrors,
		attributes: attributes,
		capacity:   capacity,
		files:      files,
		queue:      queue,
		opts:       opts.withDefaults(),
		logger:     logger.Named("import-service"),
	}
}

// CreateJob creates a pending job
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (*JobResponse, error) {
	if req.CatalogID != nil {
		if _, _, err := s.capacity.Snapshot(ctx, *req.CatalogID); err != nil {
			return nil, err
		}
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = s.opts.DefaultStrategy
	}
	maxRetries := s.opts.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	job, err := bulk.NewImportJob(req.OwnerID, req.Name, req.Description, req.CatalogID, strategy, maxRetries)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Import job created",
		zap.String("job_id", job.ID.String()),
		zap.String("owner_id", job.OwnerID.String()),
		zap.String("strategy", string(job.ProcessingStrategy)),
	)
	return ToJobResponse(job), nil
}

// SubmitFile stores the source, checks that it can be read, starts the job
// and hands it to the worker pool. A file-level problem rejects the upload
// and leaves the job pending.
func (s *JobService) SubmitFile(ctx context.Context, jobID uuid.UUID, fileName string, size int64, r io.Reader) (*SubmitResult, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != bulk.JobStatusPending {
		return nil, shared.NewDomainError(bulk.CodeInvalidState,
			fmt.Sprintf("Cannot submit a file to job in state: %s", job.Status))
	}
	if size > s.opts.MaxFileSize {
		return nil, invalidFile(csvimport.ErrFileTooLarge)
	}
	if !strings.EqualFold(path.Ext(fileName), ".csv") {
		return nil, shared.NewDomainError(CodeInvalidFile, "Only .csv files are supported")
	}

	// each upload gets its own key so a concurrent submit that loses the
	// version race only discards its own copy
	key := SourceKey(job.ID, uuid.New(), fileName)
	if err := s.files.Save(ctx, key, &sizeLimitReader{r: r, left: s.opts.MaxFileSize}, size); err != nil {
		if errors.Is(err, csvimport.ErrFileTooLarge) {
			s.discard(ctx, key)
			return nil, invalidFile(csvimport.ErrFileTooLarge)
		}
		return nil, fmt.Errorf("failed to store import file: %w", err)
	}

	total, header, err := s.inspect(ctx, job, key)
	if err != nil {
		s.discard(ctx, key)
		return nil, err
	}

	if err := job.AttachSource(key, path.Base(fileName), size, total); err != nil {
		s.discard(ctx, key)
		return nil, err
	}
	if err := job.Start(); err != nil {
		s.discard(ctx, key)
		return nil, err
	}
	if job.CatalogID != nil {
		capacity, count, err := s.capacity.Snapshot(ctx, *job.CatalogID)
		if err != nil {
			s.discard(ctx, key)
			return nil, err
		}
		job.SnapshotCatalog(capacity, count)
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		s.discard(ctx, key)
		return nil, err
	}

	s.enqueue(ctx, job.ID)
	s.logger.Info("Import file accepted",
		zap.String("job_id", job.ID.String()),
		zap.String("file_name", job.FileName),
		zap.Int("total_records", total),
		zap.Strings("missing_columns", header.Missing),
		zap.Strings("unknown_columns", header.Unknown),
	)

	return &SubmitResult{
		Job:          ToJobResponse(job),
		Accepted:     true,
		TotalRecords: total,
		Header:       header,
	}, nil
}

// inspect reopens the stored file, reads its header and counts its records
func (s *JobService) inspect(ctx context.Context, job *bulk.ImportJob, key string) (int, csvimport.HeaderReport, error) {
	defs, err := s.attributes.ListAttributes(ctx, job.CatalogID)
	if err != nil {
		return 0, csvimport.HeaderReport{}, fmt.Errorf("failed to load attribute definitions: %w", err)
	}

	src, err := s.files.Open(ctx, key)
	if err != nil {
		return 0, csvimport.HeaderReport{}, fmt.Errorf("failed to reopen import file: %w", err)
	}
	defer src.Close()

	reader, err := csvimport.NewRowReader(src, NewAttributeIndex(defs).Columns(),
		csvimport.WithDelimiter(s.opts.FieldDelimiter),
		csvimport.WithValueDelimiter(s.opts.ValueDelimiter),
	)
	if err != nil {
		if csvimport.IsFileError(err) {
			return 0, csvimport.HeaderReport{}, invalidFile(err)
		}
		return 0, csvimport.HeaderReport{}, err
	}

	total, err := reader.CountRecords()
	if err != nil {
		return 0, csvimport.HeaderReport{}, fmt.Errorf("failed to count records: %w", err)
	}
	if total == 0 {
		return 0, csvimport.HeaderReport{}, shared.NewDomainError(CodeInvalidFile, "File contains no data rows")
	}
	return total, reader.Header(), nil
}

// GetJob returns the current state of a job
func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*JobResponse, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToJobResponse(job), nil
}

// ListJobs returns jobs newest first unless a sort is requested
func (s *JobService) ListJobs(ctx context.Context, filter JobListFilter) (*JobListResponse, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	domainFilter := bulk.ImportJobFilter{
		OwnerID:   filter.OwnerID,
		CatalogID: filter.CatalogID,
		SortBy:    filter.SortBy,
		SortOrder: filter.SortOrder,
	}
	if filter.Status != "" {
		status := bulk.JobStatus(filter.Status)
		if !status.IsValid() {
			return nil, shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Invalid job status: %s", filter.Status))
		}
		domainFilter.Status = &status
	}

	result, err := s.jobs.FindAll(ctx, domainFilter, page, pageSize)
	if err != nil {
		return nil, err
	}

	items := make([]*JobResponse, len(result.Items))
	for i, j := range result.Items {
		items[i] = ToJobResponse(j)
	}
	return &JobListResponse{
		Items:      items,
		TotalCount: result.TotalCount,
		Page:       result.Page,
		PageSize:   result.PageSize,
	}, nil
}

// ListErrors returns a job's error log ordered by row number
func (s *JobService) ListErrors(ctx context.Context, jobID uuid.UUID, page, pageSize int) (*RowErrorListResponse, error) {
	if _, err := s.jobs.FindByID(ctx, jobID); err != nil {
		return nil, err
	}
	page, pageSize = normalizePage(page, pageSize)

	result, err := s.rowErrors.FindByJob(ctx, jobID, page, pageSize)
	if err != nil {
		return nil, err
	}

	items := make([]*RowErrorResponse, len(result.Items))
	for i, e := range result.Items {
		items[i] = ToRowErrorResponse(e)
	}
	return &RowErrorListResponse{
		Items:      items,
		TotalCount: result.TotalCount,
		Page:       result.Page,
		PageSize:   result.PageSize,
	}, nil
}

// PauseJob asks the runner to stop at the next row boundary
func (s *JobService) PauseJob(ctx context.Context, id uuid.UUID) (*JobResponse, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := job.RequestPause(); err != nil {
		return nil, err
	}
	if err := s.jobs.RequestControl(ctx, id, bulk.ControlPause); err != nil {
		return nil, err
	}

	s.logger.Info("Pause requested", zap.String("job_id", id.String()))
	return ToJobResponse(job), nil
}

// CancelJob cancels a paused job right away or asks the runner to stop a
// processing one at the next row boundary.
func (s *JobService) CancelJob(ctx context.Context, id uuid.UUID) (*JobResponse, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	wasPaused := job.Status == bulk.JobStatusPaused
	if err := job.RequestCancel(); err != nil {
		return nil, err
	}
	if wasPaused {
		err = s.jobs.Save(ctx, job)
	} else {
		err = s.jobs.RequestControl(ctx, id, bulk.ControlCancel)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cancel requested", zap.String("job_id", id.String()), zap.Bool("immediate", wasPaused))
	return ToJobResponse(job), nil
}

// ResumeJob continues a paused job from its checkpoint
func (s *JobService) ResumeJob(ctx context.Context, id uuid.UUID) (*JobResponse, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := job.Resume(); err != nil {
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, err
	}

	s.enqueue(ctx, id)
	s.logger.Info("Import resumed", zap.String("job_id", id.String()), zap.Int("checkpoint", job.LastProcessedRow))
	return ToJobResponse(job), nil
}

// RetryJob restarts a failed job from its checkpoint
func (s *JobService) RetryJob(ctx context.Context, id uuid.UUID) (*JobResponse, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := job.Retry(); err != nil {
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, err
	}

	s.enqueue(ctx, id)
	s.logger.Info("Import retried",
		zap.String("job_id", id.String()),
		zap.Int("retry_count", job.RetryCount),
		zap.Int("checkpoint", job.LastProcessedRow),
	)
	return ToJobResponse(job), nil
}

// DeleteJob removes a job, its error log and its stored file
func (s *JobService) DeleteJob(ctx context.Context, id uuid.UUID) error {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.CanDelete() {
		return shared.NewDomainError(bulk.CodeInvalidState,
			fmt.Sprintf("Cannot delete job in state: %s", job.Status))
	}
	if err := s.jobs.Delete(ctx, id); err != nil {
		return err
	}
	if job.HasSource() {
		s.discard(ctx, job.SourceKey)
	}

	s.logger.Info("Import job deleted", zap.String("job_id", id.String()))
	return nil
}

// enqueue hands the job to the worker pool. A failure is only logged: the job
// is already durable in processing and the recovery poller will pick it up.
func (s *JobService) enqueue(ctx context.Context, id uuid.UUID) {
	if err := s.queue.Enqueue(ctx, id); err != nil {
		s.logger.Warn("Failed to enqueue import job, leaving it to recovery",
			zap.String("job_id", id.String()), zap.Error(err))
	}
}

func (s *JobService) discard(ctx context.Context, key string) {
	if err := s.files.Delete(ctx, key); err != nil {
		s.logger.Warn("Failed to delete import file", zap.String("key", key), zap.Error(err))
	}
}

// SourceKey returns the storage key of one upload of a job's file
func SourceKey(jobID, uploadID uuid.UUID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "source.csv"
	}
	return fmt.Sprintf("imports/%s/%s/%s", jobID, uploadID, name)
}

// sizeLimitReader fails once more than left bytes were read, so a body that
// lies about its size cannot be stored truncated.
type sizeLimitReader struct {
	r    io.Reader
	left int64
}

func (l *sizeLimitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n, csvimport.ErrFileTooLarge
	}
	return n, err
}

func invalidFile(err error) error {
	msg := err.Error()
	if len(msg) > 0 {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}
	return shared.NewDomainError(CodeInvalidFile, msg)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// IsInvalidFile reports whether err rejected an upload as a whole
func IsInvalidFile(err error) bool {
	var de *shared.DomainError
	return errors.As(err, &de) && de.Code == CodeInvalidFile
}
