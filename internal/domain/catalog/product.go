package catalog

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductStatus represents the status of a product
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
)

// IsValid checks if the status is valid
func (s ProductStatus) IsValid() bool {
	return s == ProductStatusActive || s == ProductStatusInactive
}

// ProductDraft carries the normalized values of one imported row
type ProductDraft struct {
	CatalogID     *uuid.UUID
	SKU           string
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
	Status        ProductStatus
	Attributes    []AttributeSelection
}

// Product is the minimal view of an existing product the importer needs
type Product struct {
	ID        uuid.UUID
	CatalogID *uuid.UUID
	SKU       string
}
