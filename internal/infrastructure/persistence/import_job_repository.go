package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
	"github.com/marketplace/backend/internal/domain/shared"
	"github.com/marketplace/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// rowErrorBatchSize bounds the number of error log rows per INSERT statement
const rowErrorBatchSize = 500

// GormImportJobRepository implements bulk.ImportJobRepository and
// bulk.RowErrorRepository using GORM.
//
// Two write paths coexist. Service transitions go through Save and are
// guarded by the row version. Runner writes (SaveProgress, Finalize) are
// fenced on the run holding the lease and bump the version themselves,
// so a service write based on an older read fails with a conflict.
type GormImportJobRepository struct {
	db *gorm.DB
}

// NewGormImportJobRepository creates a new GormImportJobRepository
func NewGormImportJobRepository(db *gorm.DB) *GormImportJobRepository {
	return &GormImportJobRepository{db: db}
}

// FindByID finds an import job by ID
func (r *GormImportJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*bulk.ImportJob, error) {
	var model models.ImportJobModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindAll returns import jobs with pagination and filtering. Unknown sort
// fields fall back to created_at; order defaults to DESC.
func (r *GormImportJobRepository) FindAll(
	ctx context.Context,
	filter bulk.ImportJobFilter,
	page, pageSize int,
) (*bulk.ImportJobListResult, error) {
	query := r.db.WithContext(ctx).Model(&models.ImportJobModel{})
	if filter.OwnerID != nil {
		query = query.Where("owner_id = ?", *filter.OwnerID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.CatalogID != nil {
		query = query.Where("catalog_id = ?", *filter.CatalogID)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, translateError(err)
	}

	if page > 0 && pageSize > 0 {
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}

	var jobModels []models.ImportJobModel
	order := ValidateSortField(filter.SortBy, ImportJobSortFields, "created_at") + " " + ValidateSortOrder(filter.SortOrder)
	if err := query.Order(order + ", id DESC").Find(&jobModels).Error; err != nil {
		return nil, translateError(err)
	}

	jobs := make([]*bulk.ImportJob, len(jobModels))
	for i := range jobModels {
		jobs[i] = jobModels[i].ToDomain()
	}

	return &bulk.ImportJobListResult{
		Items:      jobs,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// FindRunnable returns processing jobs no worker holds a live lease on
func (r *GormImportJobRepository) FindRunnable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.ImportJobModel{}).
		Where("status = ?", string(bulk.JobStatusProcessing)).
		Where("(worker_id IS NULL OR lease_expires_at IS NULL OR lease_expires_at < ?)", now).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, translateError(err)
	}
	return ids, nil
}

// Save inserts a new job or updates an existing one guarded by its version.
// On success job.Version reflects the stored row.
func (r *GormImportJobRepository) Save(ctx context.Context, job *bulk.ImportJob) error {
	model := models.ImportJobModelFromDomain(job)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cols := model.StateColumns()
		cols["version"] = gorm.Expr("version + 1")

		result := tx.Model(&models.ImportJobModel{}).
			Where("id = ? AND version = ?", job.ID, job.Version).
			Updates(cols)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			job.Version++
			return nil
		}

		var exists int64
		if err := tx.Model(&models.ImportJobModel{}).Where("id = ?", job.ID).Count(&exists).Error; err != nil {
			return err
		}
		if exists > 0 {
			return shared.ErrConcurrencyConflict
		}
		return tx.Create(model).Error
	})
	return translateError(err)
}

// RequestControl records a pause or cancel request while the job is processing
func (r *GormImportJobRepository) RequestControl(ctx context.Context, id uuid.UUID, req bulk.ControlRequest) error {
	result := r.db.WithContext(ctx).
		Model(&models.ImportJobModel{}).
		Where("id = ? AND status = ?", id, string(bulk.JobStatusProcessing)).
		Updates(map[string]any{
			"control_request": string(req),
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	job, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return shared.NewDomainError(bulk.CodeInvalidState, "Cannot "+string(req)+" job in state: "+string(job.Status))
}

// ReadControl returns the pending control request of a job
func (r *GormImportJobRepository) ReadControl(ctx context.Context, id uuid.UUID) (bulk.ControlRequest, error) {
	var model models.ImportJobModel
	if err := r.db.WithContext(ctx).Select("control_request").Where("id = ?", id).First(&model).Error; err != nil {
		return bulk.ControlNone, translateError(err)
	}
	return bulk.ControlRequest(model.ControlRequest), nil
}

// Claim takes the job's lease when it is free or expired. A live lease is
// never re-entered, not even under the same lease ID.
func (r *GormImportJobRepository) Claim(ctx context.Context, id uuid.UUID, leaseID string, leaseUntil, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ImportJobModel{}).
		Where("id = ? AND status = ?", id, string(bulk.JobStatusProcessing)).
		Where("(worker_id IS NULL OR lease_expires_at IS NULL OR lease_expires_at < ?)", now).
		Updates(map[string]any{
			"worker_id":        leaseID,
			"lease_expires_at": leaseUntil,
		})
	if result.Error != nil {
		return false, translateError(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// RenewLease extends a lease still held under leaseID
func (r *GormImportJobRepository) RenewLease(ctx context.Context, id uuid.UUID, leaseID string, leaseUntil time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.ImportJobModel{}).
		Where("id = ? AND worker_id = ? AND status = ?", id, leaseID, string(bulk.JobStatusProcessing)).
		Update("lease_expires_at", leaseUntil)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return bulk.ErrLeaseLost
	}
	return nil
}

// SaveProgress commits counters, checkpoint, lease and the error log entries
// of the committed rows atomically. Only the progress columns are written so
// a control request recorded meanwhile survives.
func (r *GormImportJobRepository) SaveProgress(ctx context.Context, job *bulk.ImportJob, rowErrors []*bulk.RowError) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ImportJobModel{}).
			Where("id = ? AND worker_id = ? AND status = ?", job.ID, job.WorkerID, string(bulk.JobStatusProcessing)).
			Updates(map[string]any{
				"processed_records":  job.ProcessedRecords,
				"success_count":      job.SuccessCount,
				"error_count":        job.ErrorCount,
				"warning_count":      job.WarningCount,
				"last_processed_row": job.LastProcessedRow,
				"lease_expires_at":   job.LeaseExpiresAt,
				"version":            gorm.Expr("version + 1"),
				"updated_at":         time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return bulk.ErrLeaseLost
		}

		if len(rowErrors) > 0 {
			rows := make([]*models.RowErrorModel, len(rowErrors))
			for i, e := range rowErrors {
				rows[i] = models.RowErrorModelFromDomain(e)
			}
			if err := tx.CreateInBatches(rows, rowErrorBatchSize).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, bulk.ErrLeaseLost) {
			return err
		}
		return translateError(err)
	}
	job.Version++
	return nil
}

// Finalize persists a transition out of processing applied by the run
// holding the lease. The stored control request and lease are cleared by
// the domain transition itself. A pause only lands while the stored request
// is still "pause", so a cancel recorded meanwhile is not lost.
func (r *GormImportJobRepository) Finalize(ctx context.Context, job *bulk.ImportJob, leaseID string) error {
	model := models.ImportJobModelFromDomain(job)

	var version int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cols := model.StateColumns()
		cols["version"] = gorm.Expr("version + 1")

		query := tx.Model(&models.ImportJobModel{}).
			Where("id = ? AND worker_id = ? AND status = ?", job.ID, leaseID, string(bulk.JobStatusProcessing))
		if job.Status == bulk.JobStatusPaused {
			query = query.Where("control_request = ?", string(bulk.ControlPause))
		}
		result := query.Updates(cols)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if job.Status == bulk.JobStatusPaused {
				var held int64
				if err := tx.Model(&models.ImportJobModel{}).
					Where("id = ? AND worker_id = ? AND status = ?", job.ID, leaseID, string(bulk.JobStatusProcessing)).
					Count(&held).Error; err != nil {
					return err
				}
				if held > 0 {
					return bulk.ErrControlChanged
				}
			}
			return bulk.ErrLeaseLost
		}
		return tx.Model(&models.ImportJobModel{}).Where("id = ?", job.ID).Pluck("version", &version).Error
	})
	if err != nil {
		if errors.Is(err, bulk.ErrLeaseLost) || errors.Is(err, bulk.ErrControlChanged) {
			return err
		}
		return translateError(err)
	}
	job.Version = version
	return nil
}

// Release drops the lease if leaseID still holds it
func (r *GormImportJobRepository) Release(ctx context.Context, id uuid.UUID, leaseID string) error {
	err := r.db.WithContext(ctx).
		Model(&models.ImportJobModel{}).
		Where("id = ? AND worker_id = ?", id, leaseID).
		Updates(map[string]any{
			"worker_id":        nil,
			"lease_expires_at": nil,
		}).Error
	return translateError(err)
}

// Delete removes the job together with its error log
func (r *GormImportJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&models.RowErrorModel{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.ImportJobModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
	return translateError(err)
}

// FindByJob returns a page of the job's error log ordered by row number
func (r *GormImportJobRepository) FindByJob(ctx context.Context, jobID uuid.UUID, page, pageSize int) (*bulk.RowErrorListResult, error) {
	query := r.db.WithContext(ctx).Model(&models.RowErrorModel{}).Where("job_id = ?", jobID)

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, translateError(err)
	}

	if page > 0 && pageSize > 0 {
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}

	var rows []models.RowErrorModel
	if err := query.Order("row_number ASC, created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}

	items := make([]*bulk.RowError, len(rows))
	for i := range rows {
		items[i] = rows[i].ToDomain()
	}

	return &bulk.RowErrorListResult{
		Items:      items,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// CountByJob returns the number of error log entries of a job
func (r *GormImportJobRepository) CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.RowErrorModel{}).Where("job_id = ?", jobID).Count(&count).Error
	return count, translateError(err)
}

// Compile-time interface compliance check
var (
	_ bulk.ImportJobRepository = (*GormImportJobRepository)(nil)
	_ bulk.RowErrorRepository  = (*GormImportJobRepository)(nil)
)
