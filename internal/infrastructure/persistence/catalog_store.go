package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/catalog"
	"github.com/marketplace/backend/internal/domain/shared"
	"github.com/marketplace/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCatalogStore serves the importer's catalog ports from the catalog,
// attribute and product tables.
type GormCatalogStore struct {
	db *gorm.DB
}

// NewGormCatalogStore creates a new GormCatalogStore
func NewGormCatalogStore(db *gorm.DB) *GormCatalogStore {
	return &GormCatalogStore{db: db}
}

// FindCatalog finds a catalog by ID
func (s *GormCatalogStore) FindCatalog(ctx context.Context, id uuid.UUID) (*catalog.Catalog, error) {
	var model models.CatalogModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, s.notFound(err, catalog.ErrCatalogNotFound)
	}
	return model.ToDomain(), nil
}

// CountProducts returns the current number of products in the catalog
func (s *GormCatalogStore) CountProducts(ctx context.Context, catalogID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ProductModel{}).Where("catalog_id = ?", catalogID).Count(&count).Error
	return count, translateError(err)
}

// ListAttributes returns global definitions first, then the catalog's own,
// each with options in display order
func (s *GormCatalogStore) ListAttributes(ctx context.Context, catalogID *uuid.UUID) ([]catalog.AttributeDefinition, error) {
	query := s.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, value ASC")
		})
	if catalogID == nil {
		query = query.Where("catalog_id IS NULL")
	} else {
		query = query.Where("catalog_id IS NULL OR catalog_id = ?", *catalogID)
	}

	var defs []models.AttributeDefinitionModel
	if err := query.Order("catalog_id IS NOT NULL, position ASC, name ASC").Find(&defs).Error; err != nil {
		return nil, translateError(err)
	}

	result := make([]catalog.AttributeDefinition, len(defs))
	for i := range defs {
		result[i] = defs[i].ToDomain()
	}
	return result, nil
}

// FindBySKU matches the SKU case-insensitively within the catalog scope
func (s *GormCatalogStore) FindBySKU(ctx context.Context, catalogID *uuid.UUID, sku string) (*catalog.Product, error) {
	query := s.db.WithContext(ctx).Where("LOWER(sku) = LOWER(?)", sku)
	if catalogID == nil {
		query = query.Where("catalog_id IS NULL")
	} else {
		query = query.Where("catalog_id = ?", *catalogID)
	}

	var model models.ProductModel
	if err := query.Order("created_at ASC").First(&model).Error; err != nil {
		return nil, s.notFound(err, catalog.ErrProductNotFound)
	}
	return model.ToDomain(), nil
}

// Create inserts the product and its attribute values. For bounded catalogs
// the catalog row is locked while counting so concurrent imports cannot
// overfill it.
func (s *GormCatalogStore) Create(ctx context.Context, draft *catalog.ProductDraft) (*catalog.Product, error) {
	now := time.Now()
	model := &models.ProductModel{
		BaseModel: models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
	}
	model.ApplyDraft(draft)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if draft.CatalogID != nil {
			var cat models.CatalogModel
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", *draft.CatalogID).
				First(&cat).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return catalog.ErrCatalogNotFound
				}
				return err
			}
			if cat.Capacity > 0 {
				var count int64
				if err := tx.Model(&models.ProductModel{}).Where("catalog_id = ?", cat.ID).Count(&count).Error; err != nil {
					return err
				}
				if count >= int64(cat.Capacity) {
					return catalog.ErrCapacityExceeded
				}
			}
		}

		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return insertAttributeValues(tx, model.ID, draft.Attributes)
	})
	if err != nil {
		return nil, s.writeError(err)
	}
	return model.ToDomain(), nil
}

// Update overwrites the product's fields and replaces its attribute values
func (s *GormCatalogStore) Update(ctx context.Context, id uuid.UUID, draft *catalog.ProductDraft) error {
	var model models.ProductModel
	model.ApplyDraft(draft)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ProductModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"catalog_id":     model.CatalogID,
				"sku":            model.SKU,
				"name":           model.Name,
				"description":    model.Description,
				"price":          model.Price,
				"stock_quantity": model.StockQuantity,
				"status":         model.Status,
				"updated_at":     time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return catalog.ErrProductNotFound
		}

		if err := tx.Where("product_id = ?", id).Delete(&models.ProductAttributeValueModel{}).Error; err != nil {
			return err
		}
		return insertAttributeValues(tx, id, draft.Attributes)
	})
	return s.writeError(err)
}

func insertAttributeValues(tx *gorm.DB, productID uuid.UUID, selections []catalog.AttributeSelection) error {
	rows := models.AttributeValueModelsFromSelections(productID, selections)
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

// notFound replaces the generic not-found sentinel with a port specific one
func (s *GormCatalogStore) notFound(err error, sentinel error) error {
	err = translateError(err)
	if errors.Is(err, shared.ErrNotFound) {
		return sentinel
	}
	return err
}

func (s *GormCatalogStore) writeError(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if isForeignKeyViolation(err) {
		return catalog.ErrCatalogNotFound
	}
	return translateError(err)
}

// Compile-time interface compliance check
var (
	_ catalog.CatalogReader   = (*GormCatalogStore)(nil)
	_ catalog.AttributeReader = (*GormCatalogStore)(nil)
	_ catalog.ProductWriter   = (*GormCatalogStore)(nil)
)
