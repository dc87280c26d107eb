package importapp

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/catalog"
	"github.com/marketplace/backend/internal/domain/shared"
	csvimport "github.com/marketplace/backend/internal/infrastructure/import"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// failingAttributes returns an error for every catalog
type failingAttributes struct{}

func (failingAttributes) ListAttributes(context.Context, *uuid.UUID) ([]catalog.AttributeDefinition, error) {
	return nil, errors.New("attribute service timeout")
}

func newTemplateService(catalogs catalog.CatalogReader, attrs catalog.AttributeReader) *TemplateService {
	s := NewTemplateService(catalogs, attrs, DefaultOptions(), zap.NewNop())
	s.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }
	return s
}

func readCSV(t *testing.T, content []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(content)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestTemplateService_SizeAttribute(t *testing.T) {
	store := newMemCatalog()
	cat := store.addCatalog("Summer Shirts", 0)
	store.defs = []catalog.AttributeDefinition{sizeAttribute(&cat.ID)}
	s := newTemplateService(store, store)

	tpl, err := s.Generate(context.Background(), &cat.ID, TemplateFormatCSV)
	require.NoError(t, err)

	assert.Equal(t, "products_import_template_summer-shirts_20240309_140507.csv", tpl.FileName)
	assert.Equal(t, "text/csv", tpl.ContentType)

	records := readCSV(t, tpl.Content)
	require.Len(t, records, 2)
	header, sample := records[0], records[1]
	require.Contains(t, header, "Size")

	for i, h := range header {
		if h == "Size" {
			assert.Equal(t, "S,M,L", sample[i])
		}
	}
}

func TestTemplateService_HeaderMatchesParser(t *testing.T) {
	store := newMemCatalog()
	cat := store.addCatalog("Tees", 0)
	store.defs = []catalog.AttributeDefinition{sizeAttribute(&cat.ID), colorAttribute(&cat.ID)}
	s := newTemplateService(store, store)

	tpl, err := s.Generate(context.Background(), &cat.ID, TemplateFormatCSV)
	require.NoError(t, err)

	reader, err := csvimport.NewRowReader(bytes.NewReader(tpl.Content), NewAttributeIndex(store.defs).Columns())
	require.NoError(t, err)
	assert.False(t, reader.Header().HasIssues())

	rec, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"S", "M", "L"}, rec.Attributes["Size"])
	assert.Equal(t, []string{"Red"}, rec.Attributes["Color"])

	p := newTestProcessor(newMemCatalog(), StrictnessStrict)
	out := p.Process(context.Background(), &JobScope{JobID: uuid.New(), Attributes: NewAttributeIndex(store.defs)}, rec)
	assert.Equal(t, OutcomeSuccess, out.Kind, "the sample row must import cleanly")
}

func TestTemplateService_GenericWithoutCatalog(t *testing.T) {
	store := newMemCatalog()
	s := newTemplateService(store, store)

	tpl, err := s.Generate(context.Background(), nil, "")
	require.NoError(t, err)

	assert.Equal(t, "products_import_template_20240309_140507.csv", tpl.FileName)
	records := readCSV(t, tpl.Content)
	assert.Equal(t, []string{"name", "sku", "price", "description", "stock_quantity", "status"}, records[0])
}

func TestTemplateService_FallsBackOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(store *memCatalog) (catalog.AttributeReader, uuid.UUID)
	}{
		{
			name: "unknown catalog",
			setup: func(store *memCatalog) (catalog.AttributeReader, uuid.UUID) {
				return store, uuid.New()
			},
		},
		{
			name: "attribute lookup fails",
			setup: func(store *memCatalog) (catalog.AttributeReader, uuid.UUID) {
				return failingAttributes{}, store.addCatalog("Shoes", 5).ID
			},
		},
	}

	generic := regexp.MustCompile(`^products_import_template_\d{8}_\d{6}\.csv$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemCatalog()
			attrs, id := tt.setup(store)
			s := newTemplateService(store, attrs)

			tpl, err := s.Generate(context.Background(), &id, TemplateFormatCSV)
			require.NoError(t, err)
			assert.Regexp(t, generic, tpl.FileName)
			assert.Len(t, readCSV(t, tpl.Content)[0], 6)
		})
	}
}

func TestTemplateService_XLSX(t *testing.T) {
	store := newMemCatalog()
	cat := store.addCatalog("Shirts", 0)
	store.defs = []catalog.AttributeDefinition{sizeAttribute(&cat.ID)}
	s := newTemplateService(store, store)

	tpl, err := s.Generate(context.Background(), &cat.ID, TemplateFormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, "products_import_template_shirts_20240309_140507.xlsx", tpl.FileName)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", tpl.ContentType)

	f, err := excelize.OpenReader(bytes.NewReader(tpl.Content))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Products", "Instructions"}, f.GetSheetList())

	rows, err := f.GetRows("Products")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "name *", rows[0][0])
	assert.Equal(t, "sku", rows[0][1])
	assert.Equal(t, "price *", rows[0][2])
	assert.Equal(t, "Size", rows[0][6])
	assert.Equal(t, "S,M,L", rows[1][6])

	title, err := f.GetCellValue("Instructions", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Product Import Instructions", title)
}

func TestTemplateService_RejectsUnknownFormat(t *testing.T) {
	store := newMemCatalog()
	s := newTemplateService(store, store)

	_, err := s.Generate(context.Background(), nil, "pdf")
	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "INVALID_FORMAT", de.Code)
}
