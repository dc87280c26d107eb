package importapp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
	"github.com/marketplace/backend/internal/domain/catalog"
	"github.com/marketplace/backend/internal/domain/shared"
	"github.com/stretchr/testify/mock"
)

// memJobRepo is an in-memory ImportJobRepository and RowErrorRepository with
// the same fencing rules as the GORM implementation.
type memJobRepo struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]bulk.ImportJob
	rowErrors map[uuid.UUID][]*bulk.RowError
	// snapshots of every committed checkpoint, for invariant checks
	commits  []bulk.ImportJob
	claims   int
	renewals int
	// beforeFinalize runs at the start of every Finalize
	beforeFinalize func(job *bulk.ImportJob)
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{
		jobs:      make(map[uuid.UUID]bulk.ImportJob),
		rowErrors: make(map[uuid.UUID][]*bulk.RowError),
	}
}

func (r *memJobRepo) FindByID(_ context.Context, id uuid.UUID) (*bulk.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &j, nil
}

func (r *memJobRepo) FindAll(_ context.Context, filter bulk.ImportJobFilter, page, pageSize int) (*bulk.ImportJobListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []*bulk.ImportJob
	for _, j := range r.jobs {
		if filter.OwnerID != nil && j.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		if filter.CatalogID != nil && (j.CatalogID == nil || *j.CatalogID != *filter.CatalogID) {
			continue
		}
		j := j
		items = append(items, &j)
	}
	sort.Slice(items, func(a, b int) bool { return items[a].CreatedAt.After(items[b].CreatedAt) })

	total := int64(len(items))
	start := (page - 1) * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return &bulk.ImportJobListResult{Items: items[start:end], TotalCount: total, Page: page, PageSize: pageSize}, nil
}

func (r *memJobRepo) FindRunnable(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, j := range r.jobs {
		if j.Status == bulk.JobStatusProcessing && (j.WorkerID == "" || j.LeaseExpiresAt == nil || j.LeaseExpiresAt.Before(now)) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (r *memJobRepo) Save(_ context.Context, job *bulk.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if ok {
		if stored.Version != job.Version {
			return shared.ErrConcurrencyConflict
		}
		job.Version++
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *memJobRepo) RequestControl(_ context.Context, id uuid.UUID, req bulk.ControlRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return shared.ErrNotFound
	}
	if j.Status != bulk.JobStatusProcessing {
		return shared.NewDomainError(bulk.CodeInvalidState, "job is not processing")
	}
	j.ControlRequest = req
	r.jobs[id] = j
	return nil
}

func (r *memJobRepo) ReadControl(_ context.Context, id uuid.UUID) (bulk.ControlRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id].ControlRequest, nil
}

func (r *memJobRepo) Claim(_ context.Context, id uuid.UUID, leaseID string, leaseUntil, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != bulk.JobStatusProcessing {
		return false, nil
	}
	if j.WorkerID != "" && j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.Before(now) {
		return false, nil
	}
	j.WorkerID = leaseID
	j.LeaseExpiresAt = &leaseUntil
	r.jobs[id] = j
	r.claims++
	return true, nil
}

func (r *memJobRepo) RenewLease(_ context.Context, id uuid.UUID, leaseID string, leaseUntil time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != bulk.JobStatusProcessing || j.WorkerID != leaseID {
		return bulk.ErrLeaseLost
	}
	j.LeaseExpiresAt = &leaseUntil
	r.jobs[id] = j
	r.renewals++
	return nil
}

func (r *memJobRepo) SaveProgress(_ context.Context, job *bulk.ImportJob, rowErrors []*bulk.RowError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok || stored.Status != bulk.JobStatusProcessing || stored.WorkerID != job.WorkerID {
		return bulk.ErrLeaseLost
	}
	stored.ProcessedRecords = job.ProcessedRecords
	stored.SuccessCount = job.SuccessCount
	stored.ErrorCount = job.ErrorCount
	stored.WarningCount = job.WarningCount
	stored.LastProcessedRow = job.LastProcessedRow
	stored.LeaseExpiresAt = job.LeaseExpiresAt
	stored.Version++
	r.jobs[job.ID] = stored
	r.rowErrors[job.ID] = append(r.rowErrors[job.ID], rowErrors...)
	r.commits = append(r.commits, stored)
	return nil
}

func (r *memJobRepo) Finalize(_ context.Context, job *bulk.ImportJob, leaseID string) error {
	if r.beforeFinalize != nil {
		r.beforeFinalize(job)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok || stored.Status != bulk.JobStatusProcessing || stored.WorkerID != leaseID {
		return bulk.ErrLeaseLost
	}
	if job.Status == bulk.JobStatusPaused && stored.ControlRequest != bulk.ControlPause {
		return bulk.ErrControlChanged
	}
	job.Version = stored.Version + 1
	r.jobs[job.ID] = *job
	r.commits = append(r.commits, *job)
	return nil
}

func (r *memJobRepo) Release(_ context.Context, id uuid.UUID, leaseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if ok && j.WorkerID == leaseID {
		j.WorkerID = ""
		j.LeaseExpiresAt = nil
		r.jobs[id] = j
	}
	return nil
}

func (r *memJobRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.jobs, id)
	delete(r.rowErrors, id)
	return nil
}

func (r *memJobRepo) FindByJob(_ context.Context, jobID uuid.UUID, page, pageSize int) (*bulk.RowErrorListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := append([]*bulk.RowError(nil), r.rowErrors[jobID]...)
	sort.SliceStable(items, func(a, b int) bool { return items[a].RowNumber < items[b].RowNumber })

	total := int64(len(items))
	start := (page - 1) * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return &bulk.RowErrorListResult{Items: items[start:end], TotalCount: total, Page: page, PageSize: pageSize}, nil
}

func (r *memJobRepo) CountByJob(_ context.Context, jobID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rowErrors[jobID])), nil
}

func (r *memJobRepo) errorsOf(jobID uuid.UUID) []*bulk.RowError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*bulk.RowError(nil), r.rowErrors[jobID]...)
}

// setLeaseHolder hands the stored lease to someone else
func (r *memJobRepo) setLeaseHolder(id uuid.UUID, leaseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.WorkerID = leaseID
	r.jobs[id] = j
}

func (r *memJobRepo) claimCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claims
}

func (r *memJobRepo) renewalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renewals
}

func (r *memJobRepo) commitsOf(jobID uuid.UUID) []bulk.ImportJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bulk.ImportJob
	for _, c := range r.commits {
		if c.ID == jobID {
			out = append(out, c)
		}
	}
	return out
}

// memFiles is an in-memory FileStore
type memFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	openErr error
	// beforeSave runs at the start of every Save
	beforeSave func(key string)
}

func newMemFiles() *memFiles {
	return &memFiles{objects: make(map[string][]byte)}
}

func (f *memFiles) Save(_ context.Context, key string, r io.Reader, _ int64) error {
	if f.beforeSave != nil {
		f.beforeSave(key)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *memFiles) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, shared.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *memFiles) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *memFiles) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *memFiles) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// memCatalog is an in-memory catalog store with failure injection
type memCatalog struct {
	mu       sync.Mutex
	catalogs map[uuid.UUID]*catalog.Catalog
	defs     []catalog.AttributeDefinition
	products map[string]*memProduct
	writes   map[string]int

	// writeErr, when set, is returned for matching drafts before any write
	writeErr func(d *catalog.ProductDraft) error
	// onWrite runs after a successful write
	onWrite func(d *catalog.ProductDraft)
}

type memProduct struct {
	catalog.Product
	Draft catalog.ProductDraft
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		catalogs: make(map[uuid.UUID]*catalog.Catalog),
		products: make(map[string]*memProduct),
		writes:   make(map[string]int),
	}
}

func (c *memCatalog) addCatalog(name string, capacity int) *catalog.Catalog {
	cat := &catalog.Catalog{ID: uuid.New(), Name: name, Capacity: capacity}
	c.mu.Lock()
	c.catalogs[cat.ID] = cat
	c.mu.Unlock()
	return cat
}

func (c *memCatalog) FindCatalog(_ context.Context, id uuid.UUID) (*catalog.Catalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, ok := c.catalogs[id]
	if !ok {
		return nil, catalog.ErrCatalogNotFound
	}
	cp := *cat
	return &cp, nil
}

func (c *memCatalog) CountProducts(_ context.Context, catalogID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countLocked(catalogID), nil
}

func (c *memCatalog) countLocked(catalogID uuid.UUID) int64 {
	var n int64
	for _, p := range c.products {
		if p.CatalogID != nil && *p.CatalogID == catalogID {
			n++
		}
	}
	return n
}

func (c *memCatalog) ListAttributes(_ context.Context, catalogID *uuid.UUID) ([]catalog.AttributeDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []catalog.AttributeDefinition
	for _, d := range c.defs {
		if d.CatalogID == nil || (catalogID != nil && *d.CatalogID == *catalogID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *memCatalog) FindBySKU(_ context.Context, _ *uuid.UUID, sku string) (*catalog.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[strings.ToLower(sku)]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	cp := p.Product
	return &cp, nil
}

func (c *memCatalog) Create(_ context.Context, draft *catalog.ProductDraft) (*catalog.Product, error) {
	if err := c.injected(draft); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if draft.CatalogID != nil {
		if cat, ok := c.catalogs[*draft.CatalogID]; ok && cat.Remaining(c.countLocked(cat.ID)) == 0 {
			c.mu.Unlock()
			return nil, catalog.ErrCapacityExceeded
		}
	}
	key := draft.SKU
	if key == "" {
		key = uuid.NewString()
	}
	p := &memProduct{
		Product: catalog.Product{ID: uuid.New(), CatalogID: draft.CatalogID, SKU: draft.SKU},
		Draft:   *draft,
	}
	c.products[strings.ToLower(key)] = p
	c.writes[draft.Name]++
	c.mu.Unlock()

	if c.onWrite != nil {
		c.onWrite(draft)
	}
	cp := p.Product
	return &cp, nil
}

func (c *memCatalog) Update(_ context.Context, id uuid.UUID, draft *catalog.ProductDraft) error {
	if err := c.injected(draft); err != nil {
		return err
	}

	c.mu.Lock()
	for _, p := range c.products {
		if p.ID == id {
			p.Draft = *draft
		}
	}
	c.writes[draft.Name]++
	c.mu.Unlock()

	if c.onWrite != nil {
		c.onWrite(draft)
	}
	return nil
}

func (c *memCatalog) injected(draft *catalog.ProductDraft) error {
	c.mu.Lock()
	fn := c.writeErr
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(draft)
}

func (c *memCatalog) setWriteErr(fn func(d *catalog.ProductDraft) error) {
	c.mu.Lock()
	c.writeErr = fn
	c.mu.Unlock()
}

func (c *memCatalog) writesOf(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[name]
}

func (c *memCatalog) product(sku string) (*memProduct, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[strings.ToLower(sku)]
	return p, ok
}

// MockJobQueue is a mock implementation of JobQueue
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// recordingMetrics counts metric calls
type recordingMetrics struct {
	mu       sync.Mutex
	rows     map[string]int
	finished []bulk.JobStatus
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{rows: make(map[string]int)}
}

func (m *recordingMetrics) RowProcessed(_ context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[outcome]++
}

func (m *recordingMetrics) JobFinished(_ context.Context, status bulk.JobStatus, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, status)
}

func (m *recordingMetrics) count(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[outcome]
}

// productCSV builds a file of n products named P1..Pn with SKUs SKU-1..SKU-n.
// Rows listed in blankName get an empty name.
func productCSV(n int, blankName ...int) string {
	blank := make(map[int]bool, len(blankName))
	for _, r := range blankName {
		blank[r] = true
	}
	var b strings.Builder
	b.WriteString("name,sku,price\n")
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("P%d", i)
		if blank[i] {
			name = ""
		}
		fmt.Fprintf(&b, "%s,SKU-%d,%d.50\n", name, i, i)
	}
	return b.String()
}

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}

// sizeAttribute is a multi-select attribute with options S, M and L
func sizeAttribute(catalogID *uuid.UUID) catalog.AttributeDefinition {
	return catalog.AttributeDefinition{
		ID:          uuid.New(),
		CatalogID:   catalogID,
		Name:        "Size",
		MultiSelect: true,
		Options: []catalog.AttributeOption{
			{ID: uuid.New(), Value: "S"},
			{ID: uuid.New(), Value: "M"},
			{ID: uuid.New(), Value: "L"},
		},
	}
}

// colorAttribute is a required single-select attribute
func colorAttribute(catalogID *uuid.UUID) catalog.AttributeDefinition {
	return catalog.AttributeDefinition{
		ID:        uuid.New(),
		CatalogID: catalogID,
		Name:      "Color",
		Required:  true,
		Options: []catalog.AttributeOption{
			{ID: uuid.New(), Value: "Red"},
			{ID: uuid.New(), Value: "Blue"},
		},
	}
}
