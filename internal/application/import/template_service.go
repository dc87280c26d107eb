package importapp

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/catalog"
	"github.com/marketplace/backend/internal/domain/shared"
	csvimport "github.com/marketplace/backend/internal/infrastructure/import"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// TemplateFormat is the file format of a generated template
type TemplateFormat string

const (
	TemplateFormatCSV  TemplateFormat = "csv"
	TemplateFormatXLSX TemplateFormat = "xlsx"
)

const (
	templateSheet     = "Products"
	instructionsSheet = "Instructions"
	templatePrefix    = "products_import_template"
)

// Template is a generated import template file
type Template struct {
	FileName    string
	ContentType string
	Content     []byte
}

// templateColumn is one header column with its documentation
type templateColumn struct {
	csvimport.Column
	Description string
	Sample      string
}

// TemplateService builds downloadable import templates
type TemplateService struct {
	catalogs   catalog.CatalogReader
	attributes catalog.AttributeReader
	valueDelim string
	logger     *zap.Logger
	now        func() time.Time
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(
	catalogs catalog.CatalogReader,
	attributes catalog.AttributeReader,
	opts Options,
	logger *zap.Logger,
) *TemplateService {
	opts = opts.withDefaults()
	return &TemplateService{
		catalogs:   catalogs,
		attributes: attributes,
		valueDelim: opts.ValueDelimiter,
		logger:     logger.Named("import-template"),
		now:        time.Now,
	}
}

// Generate returns a template for the catalog, or the generic template when
// no catalog is given or the catalog template cannot be built.
func (s *TemplateService) Generate(ctx context.Context, catalogID *uuid.UUID, format TemplateFormat) (*Template, error) {
	if format == "" {
		format = TemplateFormatCSV
	}
	if format != TemplateFormatCSV && format != TemplateFormatXLSX {
		return nil, shared.NewDomainError("INVALID_FORMAT", fmt.Sprintf("Unsupported template format: %s", format))
	}

	if catalogID != nil {
		tpl, err := s.catalogTemplate(ctx, *catalogID, format)
		if err == nil {
			return tpl, nil
		}
		s.logger.Warn("Falling back to generic import template",
			zap.String("catalog_id", catalogID.String()),
			zap.Error(err),
		)
	}
	return s.render(templatePrefix, s.columns(nil), format)
}

func (s *TemplateService) catalogTemplate(ctx context.Context, catalogID uuid.UUID, format TemplateFormat) (*Template, error) {
	cat, err := s.catalogs.FindCatalog(ctx, catalogID)
	if err != nil {
		return nil, err
	}
	defs, err := s.attributes.ListAttributes(ctx, &catalogID)
	if err != nil {
		return nil, err
	}

	prefix := templatePrefix
	if slug := cat.Slug(); slug != "" {
		prefix += "_" + slug
	}
	return s.render(prefix, s.columns(defs), format)
}

// columns lists the template columns in the same order the parser expects them
func (s *TemplateService) columns(defs []catalog.AttributeDefinition) []templateColumn {
	set := NewAttributeIndex(defs).Columns()
	out := make([]templateColumn, 0, set.Len())
	for _, c := range set.Columns() {
		tc := templateColumn{Column: c}
		if c.Kind == csvimport.KindScalar {
			tc.Description, tc.Sample = scalarDocs[c.Name].description, scalarDocs[c.Name].sample
		} else if def, ok := findDefinition(defs, c.Name); ok {
			tc.Sample = strings.Join(def.SampleValues(), s.valueDelim)
			tc.Description = attributeDescription(def, s.valueDelim)
		}
		out = append(out, tc)
	}
	return out
}

var scalarDocs = map[string]struct{ description, sample string }{
	csvimport.ColumnName:          {"Product name, up to 200 characters", "Sample Product"},
	csvimport.ColumnSKU:           {"Stock keeping unit; an existing SKU updates that product", "SKU-001"},
	csvimport.ColumnPrice:         {"Unit price, a non-negative decimal", "19.99"},
	csvimport.ColumnDescription:   {"Free text, up to 2000 characters", "A sample product description"},
	csvimport.ColumnStockQuantity: {"Units in stock, a non-negative integer", "10"},
	csvimport.ColumnStatus:        {"active or inactive (default active)", "active"},
}

func attributeDescription(def *catalog.AttributeDefinition, delim string) string {
	values := make([]string, len(def.Options))
	for i, o := range def.Options {
		values[i] = o.Value
	}
	if def.MultiSelect {
		return fmt.Sprintf("One or more of %s, separated by '%s'", strings.Join(values, ", "), delim)
	}
	return fmt.Sprintf("One of %s", strings.Join(values, ", "))
}

func findDefinition(defs []catalog.AttributeDefinition, name string) (*catalog.AttributeDefinition, bool) {
	for i := range defs {
		if strings.EqualFold(strings.TrimSpace(defs[i].Name), name) {
			return &defs[i], true
		}
	}
	return nil, false
}

func (s *TemplateService) render(prefix string, cols []templateColumn, format TemplateFormat) (*Template, error) {
	fileName := fmt.Sprintf("%s_%s.%s", prefix, s.now().Format("20060102_150405"), format)
	if format == TemplateFormatXLSX {
		content, err := renderXLSX(cols)
		if err != nil {
			return nil, err
		}
		return &Template{
			FileName:    fileName,
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Content:     content,
		}, nil
	}

	content, err := renderCSV(cols)
	if err != nil {
		return nil, err
	}
	return &Template{FileName: fileName, ContentType: "text/csv", Content: content}, nil
}

func renderCSV(cols []templateColumn) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(cols))
	sample := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Name
		sample[i] = c.Sample
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.Write(sample); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write csv template: %w", err)
	}
	return buf.Bytes(), nil
}

func renderXLSX(cols []templateColumn) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return nil, err
	}
	requiredStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return nil, err
	}

	for i, col := range cols {
		header, _ := excelize.CoordinatesToCellName(i+1, 1)
		sample, _ := excelize.CoordinatesToCellName(i+1, 2)

		text, style := col.Name, headerStyle
		if col.Required {
			text, style = col.Name+csvimport.RequiredMarker, requiredStyle
		}
		if err := f.SetCellValue(templateSheet, header, text); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(templateSheet, header, header, style); err != nil {
			return nil, err
		}
		if err := f.SetCellStr(templateSheet, sample, col.Sample); err != nil {
			return nil, err
		}

		colName, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(templateSheet, colName, colName, 20); err != nil {
			return nil, err
		}
	}

	if err := writeInstructions(f, cols); err != nil {
		return nil, err
	}

	idx, err := f.GetSheetIndex(templateSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write xlsx template: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInstructions(f *excelize.File, cols []templateColumn) error {
	if _, err := f.NewSheet(instructionsSheet); err != nil {
		return err
	}

	rows := [][]any{
		{"Product Import Instructions"},
		{},
		{"Save the Products sheet as UTF-8 CSV before uploading. Columns marked * are required."},
		{"Rows with an existing SKU update that product; other rows create new products."},
		{"Invalid rows are reported individually and do not stop the import."},
		{},
		{"Column", "Description", "Required", "Example"},
	}
	for _, col := range cols {
		required := "Optional"
		if col.Required {
			required = "Required"
		}
		rows = append(rows, []any{col.Name, col.Description, required, col.Sample})
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(instructionsSheet, cell, &row); err != nil {
			return err
		}
	}

	widths := map[string]float64{"A": 25, "B": 60, "C": 15, "D": 40}
	for col, w := range widths {
		if err := f.SetColWidth(instructionsSheet, col, col, w); err != nil {
			return err
		}
	}
	return nil
}
