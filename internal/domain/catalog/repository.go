package catalog

import (
	"context"

	"github.com/google/uuid"
)

// CatalogReader reads catalog capacity information
type CatalogReader interface {
	// FindCatalog returns ErrCatalogNotFound when the catalog does not exist
	FindCatalog(ctx context.Context, id uuid.UUID) (*Catalog, error)

	// CountProducts returns the current number of products in the catalog
	CountProducts(ctx context.Context, catalogID uuid.UUID) (int64, error)
}

// AttributeReader lists the attribute definitions applicable to a catalog.
// A nil catalogID returns only global definitions.
type AttributeReader interface {
	ListAttributes(ctx context.Context, catalogID *uuid.UUID) ([]AttributeDefinition, error)
}

// ProductWriter persists imported products
type ProductWriter interface {
	// FindBySKU returns ErrProductNotFound when no product matches
	FindBySKU(ctx context.Context, catalogID *uuid.UUID, sku string) (*Product, error)

	// Create inserts a product and must fail with ErrCapacityExceeded when the
	// catalog is full at the time of the write.
	Create(ctx context.Context, draft *ProductDraft) (*Product, error)

	// Update overwrites the fields and attribute values of an existing product
	Update(ctx context.Context, id uuid.UUID, draft *ProductDraft) error
}
