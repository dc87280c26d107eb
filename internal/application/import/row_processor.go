package importapp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
	"github.com/marketplace/backend/internal/domain/catalog"
	csvimport "github.com/marketplace/backend/internal/infrastructure/import"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AttributeIndex resolves attribute columns to definitions by name
type AttributeIndex struct {
	defs   []catalog.AttributeDefinition
	byName map[string]int
}

// NewAttributeIndex indexes definitions by case-insensitive name
func NewAttributeIndex(defs []catalog.AttributeDefinition) *AttributeIndex {
	idx := &AttributeIndex{
		defs:   defs,
		byName: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		key := strings.ToLower(strings.TrimSpace(d.Name))
		if _, exists := idx.byName[key]; !exists {
			idx.byName[key] = i
		}
	}
	return idx
}

// Lookup returns the definition for an attribute column
func (x *AttributeIndex) Lookup(name string) (*catalog.AttributeDefinition, bool) {
	i, ok := x.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return &x.defs[i], true
}

// Definitions returns the indexed definitions
func (x *AttributeIndex) Definitions() []catalog.AttributeDefinition {
	return x.defs
}

// Columns returns the parser columns for the indexed attributes
func (x *AttributeIndex) Columns() *csvimport.ColumnSet {
	cols := make([]csvimport.AttributeColumn, 0, len(x.defs))
	for _, d := range x.defs {
		cols = append(cols, csvimport.AttributeColumn{
			Name:        d.Name,
			Required:    d.Required,
			MultiSelect: d.MultiSelect,
		})
	}
	return csvimport.ProductColumns(cols...)
}

// JobScope carries what every row of one run shares
type JobScope struct {
	JobID      uuid.UUID
	CatalogID  *uuid.UUID
	Attributes *AttributeIndex
}

// RowProcessor validates one record and applies it to the catalog
type RowProcessor struct {
	validator  *csvimport.FieldValidator
	capacity   *CapacityChecker
	products   catalog.ProductWriter
	strictness Strictness
	attempts   int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewRowProcessor creates a new RowProcessor
func NewRowProcessor(
	capacity *CapacityChecker,
	products catalog.ProductWriter,
	opts Options,
	logger *zap.Logger,
) *RowProcessor {
	opts = opts.withDefaults()
	return &RowProcessor{
		validator:  csvimport.NewFieldValidator(csvimport.ProductRules()),
		capacity:   capacity,
		products:   products,
		strictness: opts.AttributeStrictness,
		attempts:   opts.PersistenceAttempts,
		backoff:    opts.PersistenceBackoff,
		logger:     logger,
	}
}

// Process turns a record into an outcome. It never returns an error: row
// problems become error outcomes and system conditions become fatal ones.
func (p *RowProcessor) Process(ctx context.Context, scope *JobScope, rec *csvimport.Record) RowOutcome {
	row := rec.RowNumber

	if rec.ParseErr != nil {
		return errorOutcome(bulk.NewRowError(scope.JobID, row, bulk.ErrorTypeValidation, rec.ParseErr.Error()))
	}

	if errs := p.validator.Validate(rec.Fields); len(errs) > 0 {
		return errorOutcome(fieldErrorsToRowError(scope.JobID, row, errs))
	}

	draft, err := buildDraft(scope.CatalogID, rec)
	if err != nil {
		return errorOutcome(bulk.NewRowError(scope.JobID, row, bulk.ErrorTypeValidation, err.Error()))
	}

	selections, warnings, rejected := p.resolveAttributes(scope, rec)
	if rejected != nil {
		return errorOutcome(rejected)
	}
	draft.Attributes = selections

	created, err := p.persist(ctx, scope, draft)
	if err == nil {
		return successOutcome(row, created, warnings)
	}

	switch {
	case errors.Is(err, catalog.ErrCapacityExceeded):
		return errorOutcome(bulk.NewRowError(scope.JobID, row, bulk.ErrorTypeCapacity, err.Error()))
	case isFatal(err) || ctx.Err() != nil:
		return fatalOutcome(bulk.NewRowError(scope.JobID, row, bulk.ErrorTypeSystem, err.Error()), err)
	default:
		return errorOutcome(bulk.NewRowError(scope.JobID, row, bulk.ErrorTypePersistence,
			fmt.Sprintf("failed after %d attempts: %v", p.attempts, err)))
	}
}

func isFatal(err error) bool {
	return errors.Is(err, catalog.ErrStoreUnavailable) ||
		errors.Is(err, catalog.ErrCatalogNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retryable reports whether another persistence attempt may succeed
func retryable(err error) bool {
	return !isFatal(err) && !errors.Is(err, catalog.ErrCapacityExceeded)
}

// persist upserts the product by SKU, retrying transient failures with
// exponential backoff.
func (p *RowProcessor) persist(ctx context.Context, scope *JobScope, draft *catalog.ProductDraft) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		created, err := p.upsert(ctx, scope, draft)
		if err == nil {
			return created, nil
		}
		lastErr = err
		if !retryable(err) || attempt == p.attempts {
			break
		}

		wait := p.backoff * time.Duration(1<<(attempt-1))
		p.logger.Debug("Retrying product write",
			zap.String("job_id", scope.JobID.String()),
			zap.String("sku", draft.SKU),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}
	return false, lastErr
}

func (p *RowProcessor) upsert(ctx context.Context, scope *JobScope, draft *catalog.ProductDraft) (bool, error) {
	if draft.SKU != "" {
		existing, err := p.products.FindBySKU(ctx, scope.CatalogID, draft.SKU)
		switch {
		case err == nil:
			return false, p.products.Update(ctx, existing.ID, draft)
		case !errors.Is(err, catalog.ErrProductNotFound):
			return false, err
		}
	}

	if err := p.capacity.CheckCreate(ctx, scope.CatalogID); err != nil {
		return false, err
	}
	if _, err := p.products.Create(ctx, draft); err != nil {
		return false, err
	}
	return true, nil
}

// resolveAttributes maps attribute cells to option IDs. In strict mode the
// first problem rejects the row; in lenient mode each problem drops its
// attribute and becomes a warning.
func (p *RowProcessor) resolveAttributes(scope *JobScope, rec *csvimport.Record) ([]catalog.AttributeSelection, []*bulk.RowError, *bulk.RowError) {
	if scope.Attributes == nil {
		return nil, nil, nil
	}

	var (
		selections []catalog.AttributeSelection
		warnings   []*bulk.RowError
	)
	for _, def := range scope.Attributes.Definitions() {
		values := rec.Attributes[def.Name]
		if len(values) == 0 {
			values = lookupFold(rec.Attributes, def.Name)
		}

		problem, value := checkAttribute(&def, values)
		if problem == "" {
			if len(values) > 0 {
				selections = append(selections, selectOptions(&def, values))
			}
			continue
		}

		if p.strictness == StrictnessStrict {
			return nil, nil, bulk.NewRowError(scope.JobID, rec.RowNumber, bulk.ErrorTypeValidation, problem).
				WithField(def.Name, value)
		}
		warnings = append(warnings,
			bulk.NewRowWarning(scope.JobID, rec.RowNumber, bulk.ErrorTypeValidation, problem+"; attribute ignored").
				WithField(def.Name, value))
	}
	return selections, warnings, nil
}

// checkAttribute returns a message and the offending value when the cell does
// not fit the definition.
func checkAttribute(def *catalog.AttributeDefinition, values []string) (string, string) {
	if len(values) == 0 {
		if def.Required {
			return fmt.Sprintf("attribute '%s' is required", def.Name), ""
		}
		return "", ""
	}
	if !def.MultiSelect && len(values) > 1 {
		return fmt.Sprintf("attribute '%s' accepts a single value", def.Name), strings.Join(values, ",")
	}
	for _, v := range values {
		if _, ok := def.FindOption(v); !ok {
			return fmt.Sprintf("unknown option '%s' for attribute '%s'", v, def.Name), v
		}
	}
	return "", ""
}

func selectOptions(def *catalog.AttributeDefinition, values []string) catalog.AttributeSelection {
	sel := catalog.AttributeSelection{AttributeID: def.ID}
	seen := make(map[uuid.UUID]bool, len(values))
	for _, v := range values {
		opt, _ := def.FindOption(v)
		if !seen[opt.ID] {
			seen[opt.ID] = true
			sel.OptionIDs = append(sel.OptionIDs, opt.ID)
		}
	}
	return sel
}

func lookupFold(attrs map[string][]string, name string) []string {
	for k, v := range attrs {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// buildDraft converts validated fields into a product draft
func buildDraft(catalogID *uuid.UUID, rec *csvimport.Record) (*catalog.ProductDraft, error) {
	price, err := decimal.NewFromString(rec.Get(csvimport.ColumnPrice))
	if err != nil {
		return nil, fmt.Errorf("invalid price: %w", err)
	}

	stock := 0
	if s := rec.Get(csvimport.ColumnStockQuantity); s != "" {
		stock, err = strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid stock_quantity: %w", err)
		}
	}

	status := catalog.ProductStatusActive
	if s := rec.Get(csvimport.ColumnStatus); s != "" {
		status = catalog.ProductStatus(strings.ToLower(s))
	}

	return &catalog.ProductDraft{
		CatalogID:     catalogID,
		SKU:           rec.Get(csvimport.ColumnSKU),
		Name:          rec.Get(csvimport.ColumnName),
		Description:   rec.Get(csvimport.ColumnDescription),
		Price:         price,
		StockQuantity: stock,
		Status:        status,
	}, nil
}

// fieldErrorsToRowError folds every field failure of a row into its single log entry
func fieldErrorsToRowError(jobID uuid.UUID, row int, errs []csvimport.FieldError) *bulk.RowError {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return bulk.NewRowError(jobID, row, bulk.ErrorTypeValidation, strings.Join(msgs, "; ")).
		WithField(errs[0].Column, errs[0].Value)
}
