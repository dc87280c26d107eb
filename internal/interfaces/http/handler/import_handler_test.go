package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	importapp "github.com/marketplace/backend/internal/application/import"
	"github.com/marketplace/backend/internal/domain/bulk"
	"github.com/marketplace/backend/internal/domain/shared"
	"github.com/marketplace/backend/internal/interfaces/http/dto"
	"github.com/marketplace/backend/internal/interfaces/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockImportJobService implements ImportJobService for testing
type MockImportJobService struct {
	mock.Mock
}

func (m *MockImportJobService) CreateJob(ctx context.Context, req importapp.CreateJobRequest) (*importapp.JobResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*importapp.JobResponse), args.Error(1)
}

func (m *MockImportJobService) SubmitFile(ctx context.Context, jobID uuid.UUID, fileName string, size int64, r io.Reader) (*importapp.SubmitResult, error) {
	body, _ := io.ReadAll(r)
	args := m.Called(ctx, jobID, fileName, size, string(body))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*importapp.SubmitResult), args.Error(1)
}

func (m *MockImportJobService) GetJob(ctx context.Context, id uuid.UUID) (*importapp.JobResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*importapp.JobResponse), args.Error(1)
}

func (m *MockImportJobService) ListJobs(ctx context.Context, filter importapp.JobListFilter) (*importapp.JobListResponse, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*importapp.JobListResponse), args.Error(1)
}

func (m *MockImportJobService) ListErrors(ctx context.Context, jobID uuid.UUID, page, pageSize int) (*importapp.RowErrorListResponse, error) {
	args := m.Called(ctx, jobID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*importapp.RowErrorListResponse), args.Error(1)
}

func (m *MockImportJobService) PauseJob(ctx context.Context, id uuid.UUID) (*importapp.JobResponse, error) {
	return m.jobResult(m.Called(ctx, id))
}

func (m *MockImportJobService) ResumeJob(ctx context.Context, id uuid.UUID) (*importapp.JobResponse, error) {
	return m.jobResult(m.Called(ctx, id))
}

func (m *MockImportJobService) CancelJob(ctx context.Context, id uuid.UUID) (*importapp.JobResponse, error) {
	return m.jobResult(m.Called(ctx, id))
}

func (m *MockImportJobService) RetryJob(ctx context.Context, id uuid.UUID) (*importapp.JobResponse, error) {
	return m.jobResult(m.Called(ctx, id))
}

func (m *MockImportJobService) DeleteJob(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockImportJobService) jobResult(args mock.Arguments) (*importapp.JobResponse, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*importapp.JobResponse), args.Error(1)
}

// MockTemplateGenerator implements TemplateGenerator for testing
type MockTemplateGenerator struct {
	mock.Mock
}

func (m *MockTemplateGenerator) Generate(ctx context.Context, catalogID *uuid.UUID, format importapp.TemplateFormat) (*importapp.Template, error) {
	args := m.Called(ctx, catalogID, format)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*importapp.Template), args.Error(1)
}

const testMaxFileSize = 1 << 10

type importTestEnv struct {
	router    *gin.Engine
	jobs      *MockImportJobService
	templates *MockTemplateGenerator
	userID    uuid.UUID
}

func setupImportHandler(t *testing.T) *importTestEnv {
	t.Helper()

	env := &importTestEnv{
		jobs:      new(MockImportJobService),
		templates: new(MockTemplateGenerator),
		userID:    uuid.New(),
	}
	h := NewImportHandler(env.jobs, env.templates, testMaxFileSize)

	router := gin.New()
	router.Use(middleware.RequestID())
	api := router.Group("/import", middleware.RequireUser())
	api.POST("/jobs", h.Create)
	api.GET("/jobs", h.List)
	api.GET("/jobs/:id", h.Get)
	api.DELETE("/jobs/:id", h.Delete)
	api.POST("/jobs/:id/file", h.Submit)
	api.GET("/jobs/:id/errors", h.Errors)
	api.POST("/jobs/:id/pause", h.Pause)
	api.POST("/jobs/:id/resume", h.Resume)
	api.POST("/jobs/:id/cancel", h.Cancel)
	api.POST("/jobs/:id/retry", h.Retry)
	api.GET("/template", h.Template)
	env.router = router

	t.Cleanup(func() {
		env.jobs.AssertExpectations(t)
		env.templates.AssertExpectations(t)
	})
	return env
}

func (e *importTestEnv) do(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set(middleware.UserIDHeader, e.userID.String())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *importTestEnv) ownJob(status bulk.JobStatus) *importapp.JobResponse {
	return &importapp.JobResponse{
		ID:                 uuid.New(),
		Name:               "Spring catalogue",
		OwnerID:            e.userID,
		Status:             string(status),
		ProcessingStrategy: string(bulk.StrategySequential),
		MaxRetries:         3,
	}
}

func multipartBody(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestImportHandler_RequiresUser(t *testing.T) {
	env := setupImportHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/import/jobs", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeUnauthorized, errorCode(t, w))
}

func TestImportHandler_Create(t *testing.T) {
	t.Run("creates job for caller", func(t *testing.T) {
		env := setupImportHandler(t)
		catalogID := uuid.New()
		maxRetries := 5
		created := env.ownJob(bulk.JobStatusPending)

		env.jobs.On("CreateJob", mock.Anything, importapp.CreateJobRequest{
			Name:       "Spring catalogue",
			CatalogID:  &catalogID,
			OwnerID:    env.userID,
			Strategy:   bulk.StrategyParallel,
			MaxRetries: &maxRetries,
		}).Return(created, nil)

		body := `{"name":"Spring catalogue","catalog_id":"` + catalogID.String() + `","processing_strategy":"parallel","max_retries":5}`
		w := env.do(http.MethodPost, "/import/jobs", strings.NewReader(body), "application/json")

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp APIResponse[importapp.JobResponse]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, created.ID, resp.Data.ID)
	})

	t.Run("defaults left to the service", func(t *testing.T) {
		env := setupImportHandler(t)
		env.jobs.On("CreateJob", mock.Anything, mock.MatchedBy(func(req importapp.CreateJobRequest) bool {
			return req.CatalogID == nil && req.Strategy == "" && req.MaxRetries == nil && req.OwnerID == env.userID
		})).Return(env.ownJob(bulk.JobStatusPending), nil)

		w := env.do(http.MethodPost, "/import/jobs", strings.NewReader(`{"name":"x"}`), "application/json")
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		env := setupImportHandler(t)
		w := env.do(http.MethodPost, "/import/jobs", strings.NewReader(`{"processing_strategy":"random"}`), "application/json")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, errorCode(t, w))
	})

	t.Run("malformed json", func(t *testing.T) {
		env := setupImportHandler(t)
		w := env.do(http.MethodPost, "/import/jobs", strings.NewReader(`{"name":`), "application/json")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown catalog", func(t *testing.T) {
		env := setupImportHandler(t)
		env.jobs.On("CreateJob", mock.Anything, mock.Anything).
			Return(nil, shared.NewDomainError("CATALOG_NOT_FOUND", "Catalog not found"))

		body := `{"name":"x","catalog_id":"` + uuid.NewString() + `"}`
		w := env.do(http.MethodPost, "/import/jobs", strings.NewReader(body), "application/json")

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, dto.ErrCodeCatalogNotFound, errorCode(t, w))
	})
}

func TestImportHandler_Submit(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		env := setupImportHandler(t)
		job := env.ownJob(bulk.JobStatusPending)
		content := "sku,name,price\nA-1,Widget,9.99\n"

		env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)
		env.jobs.On("SubmitFile", mock.Anything, job.ID, "products.csv", int64(len(content)), content).
			Return(&importapp.SubmitResult{Job: job, Accepted: true, TotalRecords: 1}, nil)

		body, ct := multipartBody(t, "products.csv", content)
		w := env.do(http.MethodPost, "/import/jobs/"+job.ID.String()+"/file", body, ct)

		assert.Equal(t, http.StatusAccepted, w.Code)
		var resp APIResponse[importapp.SubmitResult]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Data.Accepted)
		assert.Equal(t, 1, resp.Data.TotalRecords)
	})

	t.Run("file too large", func(t *testing.T) {
		env := setupImportHandler(t)
		job := env.ownJob(bulk.JobStatusPending)
		env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)

		body, ct := multipartBody(t, "big.csv", strings.Repeat("x", testMaxFileSize+1))
		w := env.do(http.MethodPost, "/import/jobs/"+job.ID.String()+"/file", body, ct)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, dto.ErrCodeRequestTooLarge, errorCode(t, w))
		env.jobs.AssertNotCalled(t, "SubmitFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing file", func(t *testing.T) {
		env := setupImportHandler(t)
		job := env.ownJob(bulk.JobStatusPending)
		env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)

		w := env.do(http.MethodPost, "/import/jobs/"+job.ID.String()+"/file", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid file", func(t *testing.T) {
		env := setupImportHandler(t)
		job := env.ownJob(bulk.JobStatusPending)
		env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)
		env.jobs.On("SubmitFile", mock.Anything, job.ID, "empty.csv", mock.Anything, mock.Anything).
			Return(nil, shared.NewDomainError(importapp.CodeInvalidFile, "File contains no data rows"))

		body, ct := multipartBody(t, "empty.csv", "sku,name\n")
		w := env.do(http.MethodPost, "/import/jobs/"+job.ID.String()+"/file", body, ct)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidFile, errorCode(t, w))
	})

	t.Run("job not pending", func(t *testing.T) {
		env := setupImportHandler(t)
		job := env.ownJob(bulk.JobStatusProcessing)
		env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)
		env.jobs.On("SubmitFile", mock.Anything, job.ID, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, shared.NewDomainError(bulk.CodeInvalidState, "Cannot submit a file to job in state: processing"))

		body, ct := multipartBody(t, "products.csv", "sku\nA\n")
		w := env.do(http.MethodPost, "/import/jobs/"+job.ID.String()+"/file", body, ct)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestImportHandler_Get(t *testing.T) {
	t.Run("own job", func(t *testing.T) {
		env := setupImportHandler(t)
		job := env.ownJob(bulk.JobStatusProcessing)
		env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)

		w := env.do(http.MethodGet, "/import/jobs/"+job.ID.String(), nil, "")

		assert.Equal(t, http.StatusOK, w.Code)
		var resp APIResponse[importapp.JobResponse]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, job.ID, resp.Data.ID)
	})

	t.Run("someone else's job is hidden", func(t *testing.T) {
		env := setupImportHandler(t)
		job := env.ownJob(bulk.JobStatusProcessing)
		job.OwnerID = uuid.New()
		env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)

		w := env.do(http.MethodGet, "/import/jobs/"+job.ID.String(), nil, "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, dto.ErrCodeNotFound, errorCode(t, w))
	})

	t.Run("missing job", func(t *testing.T) {
		env := setupImportHandler(t)
		id := uuid.New()
		env.jobs.On("GetJob", mock.Anything, id).Return(nil, shared.ErrNotFound)

		w := env.do(http.MethodGet, "/import/jobs/"+id.String(), nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		env := setupImportHandler(t)
		w := env.do(http.MethodGet, "/import/jobs/not-a-uuid", nil, "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, errorCode(t, w))
	})
}

func TestImportHandler_List(t *testing.T) {
	t.Run("scoped to caller", func(t *testing.T) {
		env := setupImportHandler(t)
		catalogID := uuid.New()
		jobs := []*importapp.JobResponse{env.ownJob(bulk.JobStatusCompleted)}

		env.jobs.On("ListJobs", mock.Anything, importapp.JobListFilter{
			OwnerID:   &env.userID,
			Status:    "completed",
			CatalogID: &catalogID,
			Page:      2,
			PageSize:  10,
		}).Return(&importapp.JobListResponse{Items: jobs, TotalCount: 11, Page: 2, PageSize: 10}, nil)

		w := env.do(http.MethodGet, "/import/jobs?status=completed&page=2&page_size=10&catalog_id="+catalogID.String(), nil, "")

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, int64(11), resp.Meta.Total)
		assert.Equal(t, 2, resp.Meta.TotalPages)
		assert.Len(t, resp.Data, 1)
	})

	t.Run("invalid status", func(t *testing.T) {
		env := setupImportHandler(t)
		w := env.do(http.MethodGet, "/import/jobs?status=running", nil, "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, errorCode(t, w))
	})

	t.Run("page size over limit", func(t *testing.T) {
		env := setupImportHandler(t)
		w := env.do(http.MethodGet, "/import/jobs?page_size=500", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("sort passed through", func(t *testing.T) {
		env := setupImportHandler(t)
		env.jobs.On("ListJobs", mock.Anything, importapp.JobListFilter{
			OwnerID:   &env.userID,
			SortBy:    "name",
			SortOrder: "asc",
		}).Return(&importapp.JobListResponse{Page: 1, PageSize: 20}, nil)

		w := env.do(http.MethodGet, "/import/jobs?sort_by=name&sort_order=asc", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown sort field", func(t *testing.T) {
		env := setupImportHandler(t)
		w := env.do(http.MethodGet, "/import/jobs?sort_by=owner_id", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestImportHandler_Errors(t *testing.T) {
	env := setupImportHandler(t)
	job := env.ownJob(bulk.JobStatusCompleted)
	env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)
	env.jobs.On("ListErrors", mock.Anything, job.ID, 1, 50).Return(&importapp.RowErrorListResponse{
		Items: []*importapp.RowErrorResponse{
			{ID: uuid.New(), RowNumber: 3, ErrorType: "validation", Severity: "error", Field: "price", Message: "price must be positive"},
		},
		TotalCount: 1,
		Page:       1,
		PageSize:   50,
	}, nil)

	w := env.do(http.MethodGet, "/import/jobs/"+job.ID.String()+"/errors?page=1&page_size=50", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp APIResponse[[]importapp.RowErrorResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 3, resp.Data[0].RowNumber)
	assert.Equal(t, "price", resp.Data[0].Field)
}

func TestImportHandler_Control(t *testing.T) {
	tests := []struct {
		action string
		method string
	}{
		{"pause", "PauseJob"},
		{"resume", "ResumeJob"},
		{"cancel", "CancelJob"},
		{"retry", "RetryJob"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			env := setupImportHandler(t)
			job := env.ownJob(bulk.JobStatusProcessing)
			updated := *job
			updated.PendingControl = tt.action

			env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)
			env.jobs.On(tt.method, mock.Anything, job.ID).Return(&updated, nil)

			w := env.do(http.MethodPost, "/import/jobs/"+job.ID.String()+"/"+tt.action, nil, "")

			assert.Equal(t, http.StatusOK, w.Code)
			var resp APIResponse[importapp.JobResponse]
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.action, resp.Data.PendingControl)
		})
	}

	t.Run("invalid state is a conflict", func(t *testing.T) {
		env := setupImportHandler(t)
		job := env.ownJob(bulk.JobStatusCompleted)
		env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)
		env.jobs.On("PauseJob", mock.Anything, job.ID).
			Return(nil, shared.NewDomainError(bulk.CodeInvalidState, "Cannot pause job in state: completed"))

		w := env.do(http.MethodPost, "/import/jobs/"+job.ID.String()+"/pause", nil, "")

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidState, errorCode(t, w))
	})

	t.Run("retries exhausted", func(t *testing.T) {
		env := setupImportHandler(t)
		job := env.ownJob(bulk.JobStatusFailed)
		env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)
		env.jobs.On("RetryJob", mock.Anything, job.ID).
			Return(nil, shared.NewDomainError(bulk.CodeRetriesExhausted, "Job has used all 3 retries"))

		w := env.do(http.MethodPost, "/import/jobs/"+job.ID.String()+"/retry", nil, "")

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, dto.ErrCodeRetriesExhausted, errorCode(t, w))
	})

	t.Run("other owner cannot cancel", func(t *testing.T) {
		env := setupImportHandler(t)
		job := env.ownJob(bulk.JobStatusProcessing)
		job.OwnerID = uuid.New()
		env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)

		w := env.do(http.MethodPost, "/import/jobs/"+job.ID.String()+"/cancel", nil, "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		env.jobs.AssertNotCalled(t, "CancelJob", mock.Anything, mock.Anything)
	})
}

func TestImportHandler_Delete(t *testing.T) {
	env := setupImportHandler(t)
	job := env.ownJob(bulk.JobStatusCompleted)
	env.jobs.On("GetJob", mock.Anything, job.ID).Return(job, nil)
	env.jobs.On("DeleteJob", mock.Anything, job.ID).Return(nil)

	w := env.do(http.MethodDelete, "/import/jobs/"+job.ID.String(), nil, "")

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestImportHandler_Template(t *testing.T) {
	t.Run("csv by default", func(t *testing.T) {
		env := setupImportHandler(t)
		env.templates.On("Generate", mock.Anything, (*uuid.UUID)(nil), importapp.TemplateFormat("")).
			Return(&importapp.Template{
				FileName:    "products_import_template.csv",
				ContentType: "text/csv",
				Content:     []byte("sku,name,description,price\n"),
			}, nil)

		w := env.do(http.MethodGet, "/import/template", nil, "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="products_import_template.csv"`)
		assert.Equal(t, "sku,name,description,price\n", w.Body.String())
	})

	t.Run("catalog xlsx", func(t *testing.T) {
		env := setupImportHandler(t)
		catalogID := uuid.New()
		env.templates.On("Generate", mock.Anything, &catalogID, importapp.TemplateFormatXLSX).
			Return(&importapp.Template{
				FileName:    "catalog_template.xlsx",
				ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
				Content:     []byte("PK"),
			}, nil)

		w := env.do(http.MethodGet, "/import/template?format=xlsx&catalog_id="+catalogID.String(), nil, "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Disposition"), "catalog_template.xlsx")
	})

	t.Run("unsupported format", func(t *testing.T) {
		env := setupImportHandler(t)
		w := env.do(http.MethodGet, "/import/template?format=pdf", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
