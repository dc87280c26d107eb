package importapp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/catalog"
)

// CapacityChecker gates product creation on the catalog's remaining room.
// It re-reads capacity and count on every call, so concurrent jobs and
// edits made while a job runs are observed.
type CapacityChecker struct {
	catalogs catalog.CatalogReader
}

// NewCapacityChecker creates a new CapacityChecker
func NewCapacityChecker(catalogs catalog.CatalogReader) *CapacityChecker {
	return &CapacityChecker{catalogs: catalogs}
}

// CheckCreate returns catalog.ErrCapacityExceeded when one more product would
// not fit. Jobs without a catalog are never limited.
func (c *CapacityChecker) CheckCreate(ctx context.Context, catalogID *uuid.UUID) error {
	if catalogID == nil {
		return nil
	}

	cat, err := c.catalogs.FindCatalog(ctx, *catalogID)
	if err != nil {
		return err
	}
	if !cat.Bounded() {
		return nil
	}

	count, err := c.catalogs.CountProducts(ctx, *catalogID)
	if err != nil {
		return err
	}
	if cat.Remaining(count) == 0 {
		return fmt.Errorf("catalog %s holds %d of %d products: %w", cat.Name, count, cat.Capacity, catalog.ErrCapacityExceeded)
	}
	return nil
}

// Snapshot returns the capacity and product count of the catalog right now
func (c *CapacityChecker) Snapshot(ctx context.Context, catalogID uuid.UUID) (capacity int, count int64, err error) {
	cat, err := c.catalogs.FindCatalog(ctx, catalogID)
	if err != nil {
		return 0, 0, err
	}
	count, err = c.catalogs.CountProducts(ctx, catalogID)
	if err != nil {
		return 0, 0, err
	}
	return cat.Capacity, count, nil
}
