package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	importapp "github.com/marketplace/backend/internal/application/import"
	"github.com/marketplace/backend/internal/domain/bulk"
	"github.com/marketplace/backend/internal/interfaces/http/dto"
	"github.com/marketplace/backend/internal/interfaces/http/middleware"
)

// ImportJobService is the job lifecycle surface the handler drives
type ImportJobService interface {
	CreateJob(ctx context.Context, req importapp.CreateJobRequest) (*importapp.JobResponse, error)
	SubmitFile(ctx context.Context, jobID uuid.UUID, fileName string, size int64, r io.Reader) (*importapp.SubmitResult, error)
	GetJob(ctx context.Context, id uuid.UUID) (*importapp.JobResponse, error)
	ListJobs(ctx context.Context, filter importapp.JobListFilter) (*importapp.JobListResponse, error)
	ListErrors(ctx context.Context, jobID uuid.UUID, page, pageSize int) (*importapp.RowErrorListResponse, error)
	PauseJob(ctx context.Context, id uuid.UUID) (*importapp.JobResponse, error)
	ResumeJob(ctx context.Context, id uuid.UUID) (*importapp.JobResponse, error)
	CancelJob(ctx context.Context, id uuid.UUID) (*importapp.JobResponse, error)
	RetryJob(ctx context.Context, id uuid.UUID) (*importapp.JobResponse, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// TemplateGenerator renders downloadable import templates
type TemplateGenerator interface {
	Generate(ctx context.Context, catalogID *uuid.UUID, format importapp.TemplateFormat) (*importapp.Template, error)
}

// ImportHandler handles the product import job API. Jobs are scoped to the
// caller identified by middleware.RequireUser; another user's job is
// reported as not found.
type ImportHandler struct {
	BaseHandler
	jobs        ImportJobService
	templates   TemplateGenerator
	maxFileSize int64
}

// NewImportHandler creates a new ImportHandler
func NewImportHandler(jobs ImportJobService, templates TemplateGenerator, maxFileSize int64) *ImportHandler {
	return &ImportHandler{
		jobs:        jobs,
		templates:   templates,
		maxFileSize: maxFileSize,
	}
}

// Create godoc
//
//	@Summary		Create import job
//	@Description	Creates a pending import job. The CSV file is submitted separately.
//	@Tags			import
//	@ID				createImportJob
//	@Accept			json
//	@Produce		json
//	@Param			X-User-ID	header		string							true	"Caller ID"
//	@Param			request		body		dto.CreateImportJobRequest		true	"Job definition"
//	@Success		201			{object}	APIResponse[importapp.JobResponse]
//	@Failure		400			{object}	dto.ErrorResponse
//	@Failure		401			{object}	dto.ErrorResponse
//	@Failure		404			{object}	dto.ErrorResponse
//	@Failure		500			{object}	dto.ErrorResponse
//	@Router			/import/jobs [post]
func (h *ImportHandler) Create(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}

	var req dto.CreateImportJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	var catalogID *uuid.UUID
	if req.CatalogID != nil && *req.CatalogID != "" {
		id, err := uuid.Parse(*req.CatalogID)
		if err != nil {
			h.BadRequest(c, "Invalid catalog_id: must be a UUID")
			return
		}
		catalogID = &id
	}

	job, err := h.jobs.CreateJob(c.Request.Context(), importapp.CreateJobRequest{
		Name:        req.Name,
		Description: req.Description,
		CatalogID:   catalogID,
		OwnerID:     userID,
		Strategy:    bulk.ProcessingStrategy(req.Strategy),
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, job)
}

// Submit godoc
//
//	@Summary		Upload import file
//	@Description	Stores the CSV source of a pending job, validates its header and starts processing
//	@Tags			import
//	@ID				submitImportFile
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Caller ID"
//	@Param			id			path		string	true	"Job ID"	format(uuid)
//	@Param			file		formData	file	true	"CSV file"
//	@Success		202			{object}	APIResponse[importapp.SubmitResult]
//	@Failure		400			{object}	dto.ErrorResponse
//	@Failure		401			{object}	dto.ErrorResponse
//	@Failure		404			{object}	dto.ErrorResponse
//	@Failure		409			{object}	dto.ErrorResponse
//	@Failure		413			{object}	dto.ErrorResponse
//	@Failure		422			{object}	dto.ErrorResponse
//	@Failure		500			{object}	dto.ErrorResponse
//	@Router			/import/jobs/{id}/file [post]
func (h *ImportHandler) Submit(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.BadRequest(c, "file is required")
		return
	}
	defer file.Close()

	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", h.maxFileSize))
		return
	}

	result, err := h.jobs.SubmitFile(c.Request.Context(), job.ID, header.Filename, header.Size, file)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, result)
}

// List godoc
//
//	@Summary		List import jobs
//	@Description	Lists the caller's import jobs, newest first
//	@Tags			import
//	@ID				listImportJobs
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Caller ID"
//	@Param			status		query		string	false	"Status filter"	Enums(pending, processing, paused, completed, failed, cancelled)
//	@Param			catalog_id	query		string	false	"Catalog filter"	format(uuid)
//	@Param			sort_by		query		string	false	"Sort field"	Enums(created_at, updated_at, name, status)
//	@Param			sort_order	query		string	false	"Sort order"	Enums(asc, desc)
//	@Param			page		query		int		false	"Page number"	default(1)
//	@Param			page_size	query		int		false	"Page size"		default(20)	maximum(100)
//	@Success		200			{object}	APIResponse[[]importapp.JobResponse]
//	@Failure		400			{object}	dto.ErrorResponse
//	@Failure		401			{object}	dto.ErrorResponse
//	@Failure		500			{object}	dto.ErrorResponse
//	@Router			/import/jobs [get]
func (h *ImportHandler) List(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}

	var query dto.ListImportJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	filter := importapp.JobListFilter{
		OwnerID:   &userID,
		Status:    query.Status,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	if query.CatalogID != "" {
		id, err := uuid.Parse(query.CatalogID)
		if err != nil {
			h.BadRequest(c, "Invalid catalog_id: must be a UUID")
			return
		}
		filter.CatalogID = &id
	}

	result, err := h.jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Items, result.TotalCount, result.Page, result.PageSize)
}

// Get godoc
//
//	@Summary		Get import job
//	@Description	Returns a job with its counters and progress
//	@Tags			import
//	@ID				getImportJob
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Caller ID"
//	@Param			id			path		string	true	"Job ID"	format(uuid)
//	@Success		200			{object}	APIResponse[importapp.JobResponse]
//	@Failure		400			{object}	dto.ErrorResponse
//	@Failure		401			{object}	dto.ErrorResponse
//	@Failure		404			{object}	dto.ErrorResponse
//	@Router			/import/jobs/{id} [get]
func (h *ImportHandler) Get(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	h.Success(c, job)
}

// Errors godoc
//
//	@Summary		List row errors
//	@Description	Pages through a job's error log in row order
//	@Tags			import
//	@ID				listImportJobErrors
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Caller ID"
//	@Param			id			path		string	true	"Job ID"	format(uuid)
//	@Param			page		query		int		false	"Page number"	default(1)
//	@Param			page_size	query		int		false	"Page size"		default(20)
//	@Success		200			{object}	APIResponse[[]importapp.RowErrorResponse]
//	@Failure		400			{object}	dto.ErrorResponse
//	@Failure		401			{object}	dto.ErrorResponse
//	@Failure		404			{object}	dto.ErrorResponse
//	@Router			/import/jobs/{id}/errors [get]
func (h *ImportHandler) Errors(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	var query dto.PageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	result, err := h.jobs.ListErrors(c.Request.Context(), job.ID, query.Page, query.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Items, result.TotalCount, result.Page, result.PageSize)
}

// Pause godoc
//
//	@Summary		Pause import job
//	@Description	Requests a pause. A running job stops at the next row boundary.
//	@Tags			import
//	@ID				pauseImportJob
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Caller ID"
//	@Param			id			path		string	true	"Job ID"	format(uuid)
//	@Success		200			{object}	APIResponse[importapp.JobResponse]
//	@Failure		401			{object}	dto.ErrorResponse
//	@Failure		404			{object}	dto.ErrorResponse
//	@Failure		409			{object}	dto.ErrorResponse
//	@Router			/import/jobs/{id}/pause [post]
func (h *ImportHandler) Pause(c *gin.Context) {
	h.control(c, h.jobs.PauseJob)
}

// Resume godoc
//
//	@Summary		Resume import job
//	@Description	Resumes a paused job from its last checkpoint
//	@Tags			import
//	@ID				resumeImportJob
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Caller ID"
//	@Param			id			path		string	true	"Job ID"	format(uuid)
//	@Success		200			{object}	APIResponse[importapp.JobResponse]
//	@Failure		401			{object}	dto.ErrorResponse
//	@Failure		404			{object}	dto.ErrorResponse
//	@Failure		409			{object}	dto.ErrorResponse
//	@Router			/import/jobs/{id}/resume [post]
func (h *ImportHandler) Resume(c *gin.Context) {
	h.control(c, h.jobs.ResumeJob)
}

// Cancel godoc
//
//	@Summary		Cancel import job
//	@Description	Cancels a job. Rows already applied are kept.
//	@Tags			import
//	@ID				cancelImportJob
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Caller ID"
//	@Param			id			path		string	true	"Job ID"	format(uuid)
//	@Success		200			{object}	APIResponse[importapp.JobResponse]
//	@Failure		401			{object}	dto.ErrorResponse
//	@Failure		404			{object}	dto.ErrorResponse
//	@Failure		409			{object}	dto.ErrorResponse
//	@Router			/import/jobs/{id}/cancel [post]
func (h *ImportHandler) Cancel(c *gin.Context) {
	h.control(c, h.jobs.CancelJob)
}

// Retry godoc
//
//	@Summary		Retry import job
//	@Description	Re-runs a failed job from its last checkpoint while retries remain
//	@Tags			import
//	@ID				retryImportJob
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Caller ID"
//	@Param			id			path		string	true	"Job ID"	format(uuid)
//	@Success		200			{object}	APIResponse[importapp.JobResponse]
//	@Failure		401			{object}	dto.ErrorResponse
//	@Failure		404			{object}	dto.ErrorResponse
//	@Failure		409			{object}	dto.ErrorResponse
//	@Router			/import/jobs/{id}/retry [post]
func (h *ImportHandler) Retry(c *gin.Context) {
	h.control(c, h.jobs.RetryJob)
}

// Delete godoc
//
//	@Summary		Delete import job
//	@Description	Deletes a job that is not running, with its error log and stored file
//	@Tags			import
//	@ID				deleteImportJob
//	@Param			X-User-ID	header		string	true	"Caller ID"
//	@Param			id			path		string	true	"Job ID"	format(uuid)
//	@Success		204
//	@Failure		401	{object}	dto.ErrorResponse
//	@Failure		404	{object}	dto.ErrorResponse
//	@Failure		409	{object}	dto.ErrorResponse
//	@Router			/import/jobs/{id} [delete]
func (h *ImportHandler) Delete(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	if err := h.jobs.DeleteJob(c.Request.Context(), job.ID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// Template godoc
//
//	@Summary		Download import template
//	@Description	Returns a header-only template. With catalog_id the columns include the catalog's attributes.
//	@Tags			import
//	@ID				getImportTemplate
//	@Produce		text/csv
//	@Produce		application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
//	@Param			X-User-ID	header		string	true	"Caller ID"
//	@Param			catalog_id	query		string	false	"Catalog ID"	format(uuid)
//	@Param			format		query		string	false	"File format"	Enums(csv, xlsx)	default(csv)
//	@Success		200			{file}		file
//	@Failure		400			{object}	dto.ErrorResponse
//	@Failure		401			{object}	dto.ErrorResponse
//	@Failure		500			{object}	dto.ErrorResponse
//	@Router			/import/template [get]
func (h *ImportHandler) Template(c *gin.Context) {
	var query dto.TemplateQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	var catalogID *uuid.UUID
	if query.CatalogID != "" {
		id, err := uuid.Parse(query.CatalogID)
		if err != nil {
			h.BadRequest(c, "Invalid catalog_id: must be a UUID")
			return
		}
		catalogID = &id
	}

	tpl, err := h.templates.Generate(c.Request.Context(), catalogID, importapp.TemplateFormat(query.Format))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tpl.FileName))
	c.Data(http.StatusOK, tpl.ContentType, tpl.Content)
}

// control runs a pause/resume/cancel/retry request against an owned job
func (h *ImportHandler) control(c *gin.Context, op func(context.Context, uuid.UUID) (*importapp.JobResponse, error)) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	updated, err := op(c.Request.Context(), job.ID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, updated)
}

func (h *ImportHandler) caller(c *gin.Context) (uuid.UUID, bool) {
	userID, err := getUserID(c)
	if err != nil || userID == uuid.Nil {
		h.Unauthorized(c, "A valid "+middleware.UserIDHeader+" header is required")
		return uuid.Nil, false
	}
	return userID, true
}

// ownedJob loads the job named by the :id parameter. A job owned by someone
// else gets the same 404 as a missing one.
func (h *ImportHandler) ownedJob(c *gin.Context) (*importapp.JobResponse, bool) {
	userID, ok := h.caller(c)
	if !ok {
		return nil, false
	}
	id, ok := h.parseID(c, "id")
	if !ok {
		return nil, false
	}

	job, err := h.jobs.GetJob(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	if job.OwnerID != userID {
		h.NotFound(c, "Import job not found")
		return nil, false
	}
	return job, true
}
