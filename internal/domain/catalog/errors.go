package catalog

import "github.com/marketplace/backend/internal/domain/shared"

// Catalog errors surfaced by the collaborator ports
var (
	ErrCatalogNotFound  = shared.NewDomainError("CATALOG_NOT_FOUND", "Catalog not found")
	ErrProductNotFound  = shared.NewDomainError("PRODUCT_NOT_FOUND", "Product not found")
	ErrCapacityExceeded = shared.NewDomainError("CAPACITY_EXCEEDED", "Catalog capacity exceeded")
	ErrStoreUnavailable = shared.NewDomainError("STORE_UNAVAILABLE", "Product store is unavailable")
)
