package models

import (
	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/catalog"
	"github.com/shopspring/decimal"
)

// CatalogModel is a product container with an optional capacity (0 = unbounded)
type CatalogModel struct {
	BaseModel
	Name     string `gorm:"type:varchar(200);not null"`
	Capacity int    `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (CatalogModel) TableName() string {
	return "catalogs"
}

// ToDomain converts the persistence model to a domain Catalog
func (m *CatalogModel) ToDomain() *catalog.Catalog {
	return &catalog.Catalog{
		ID:       m.ID,
		Name:     m.Name,
		Capacity: m.Capacity,
	}
}

// AttributeDefinitionModel describes an attribute; a NULL catalog makes it global
type AttributeDefinitionModel struct {
	BaseModel
	CatalogID   *uuid.UUID             `gorm:"type:uuid;index"`
	Name        string                 `gorm:"type:varchar(100);not null"`
	MultiSelect bool                   `gorm:"not null;default:false"`
	Required    bool                   `gorm:"not null;default:false"`
	Position    int                    `gorm:"not null;default:0"`
	Options     []AttributeOptionModel `gorm:"foreignKey:AttributeID"`
}

// TableName returns the table name for GORM
func (AttributeDefinitionModel) TableName() string {
	return "attribute_definitions"
}

// ToDomain converts the persistence model to a domain AttributeDefinition
func (m *AttributeDefinitionModel) ToDomain() catalog.AttributeDefinition {
	def := catalog.AttributeDefinition{
		ID:          m.ID,
		CatalogID:   m.CatalogID,
		Name:        m.Name,
		MultiSelect: m.MultiSelect,
		Required:    m.Required,
		Options:     make([]catalog.AttributeOption, len(m.Options)),
	}
	for i, opt := range m.Options {
		def.Options[i] = catalog.AttributeOption{ID: opt.ID, Value: opt.Value}
	}
	return def
}

// AttributeOptionModel is one allowed value of an attribute
type AttributeOptionModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key"`
	AttributeID uuid.UUID `gorm:"type:uuid;not null;index"`
	Value       string    `gorm:"type:varchar(100);not null"`
	Position    int       `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (AttributeOptionModel) TableName() string {
	return "attribute_options"
}

// ProductModel is the persistence model for products written by imports
type ProductModel struct {
	BaseModel
	CatalogID     *uuid.UUID      `gorm:"type:uuid;index"`
	SKU           *string         `gorm:"column:sku;type:varchar(100);index"`
	Name          string          `gorm:"type:varchar(200);not null"`
	Description   string          `gorm:"type:text;not null;default:''"`
	Price         decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	StockQuantity int             `gorm:"not null;default:0"`
	Status        string          `gorm:"type:varchar(20);not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the persistence model to the importer's Product view
func (m *ProductModel) ToDomain() *catalog.Product {
	p := &catalog.Product{ID: m.ID, CatalogID: m.CatalogID}
	if m.SKU != nil {
		p.SKU = *m.SKU
	}
	return p
}

// ApplyDraft copies the normalized row values onto the model
func (m *ProductModel) ApplyDraft(d *catalog.ProductDraft) {
	m.CatalogID = d.CatalogID
	m.SKU = nil
	if d.SKU != "" {
		sku := d.SKU
		m.SKU = &sku
	}
	m.Name = d.Name
	m.Description = d.Description
	m.Price = d.Price
	m.StockQuantity = d.StockQuantity
	m.Status = string(d.Status)
}

// ProductAttributeValueModel links a product to one chosen attribute option
type ProductAttributeValueModel struct {
	ProductID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	AttributeID uuid.UUID `gorm:"type:uuid;primaryKey"`
	OptionID    uuid.UUID `gorm:"type:uuid;primaryKey"`
}

// TableName returns the table name for GORM
func (ProductAttributeValueModel) TableName() string {
	return "product_attribute_values"
}

// AttributeValueModelsFromSelections flattens resolved selections into link rows
func AttributeValueModelsFromSelections(productID uuid.UUID, selections []catalog.AttributeSelection) []ProductAttributeValueModel {
	var rows []ProductAttributeValueModel
	for _, sel := range selections {
		for _, optionID := range sel.OptionIDs {
			rows = append(rows, ProductAttributeValueModel{
				ProductID:   productID,
				AttributeID: sel.AttributeID,
				OptionID:    optionID,
			})
		}
	}
	return rows
}
