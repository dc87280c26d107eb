package csvimport

import "strings"

// Scalar product columns, in template order
const (
	ColumnName          = "name"
	ColumnSKU           = "sku"
	ColumnPrice         = "price"
	ColumnDescription   = "description"
	ColumnStockQuantity = "stock_quantity"
	ColumnStatus        = "status"
)

// RequiredMarker is appended to required headers in generated templates and
// tolerated when reading them back.
const RequiredMarker = " *"

// ColumnKind separates product fields from attribute columns
type ColumnKind int

const (
	KindScalar ColumnKind = iota
	KindAttribute
)

// Column describes one expected header column
type Column struct {
	Name        string
	Kind        ColumnKind
	Required    bool
	MultiSelect bool
}

// AttributeColumn describes a catalog attribute that becomes a column
type AttributeColumn struct {
	Name        string
	Required    bool
	MultiSelect bool
}

// ColumnSet is the ordered list of columns a file for a catalog may carry
type ColumnSet struct {
	columns []Column
	index   map[string]int
}

var scalarColumns = []Column{
	{Name: ColumnName, Kind: KindScalar, Required: true},
	{Name: ColumnSKU, Kind: KindScalar},
	{Name: ColumnPrice, Kind: KindScalar, Required: true},
	{Name: ColumnDescription, Kind: KindScalar},
	{Name: ColumnStockQuantity, Kind: KindScalar},
	{Name: ColumnStatus, Kind: KindScalar},
}

// ProductColumns returns the scalar product columns followed by one column per
// attribute. Attributes whose name collides with an earlier column are dropped.
func ProductColumns(attributes ...AttributeColumn) *ColumnSet {
	set := &ColumnSet{
		columns: make([]Column, 0, len(scalarColumns)+len(attributes)),
		index:   make(map[string]int, len(scalarColumns)+len(attributes)),
	}
	for _, c := range scalarColumns {
		set.add(c)
	}
	for _, a := range attributes {
		set.add(Column{
			Name:        strings.TrimSpace(a.Name),
			Kind:        KindAttribute,
			Required:    a.Required,
			MultiSelect: a.MultiSelect,
		})
	}
	return set
}

func (s *ColumnSet) add(c Column) {
	key := normalizeHeader(c.Name)
	if key == "" {
		return
	}
	if _, exists := s.index[key]; exists {
		return
	}
	s.index[key] = len(s.columns)
	s.columns = append(s.columns, c)
}

// Columns returns the columns in order
func (s *ColumnSet) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Names returns the header names in order
func (s *ColumnSet) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// Attributes returns only the attribute columns
func (s *ColumnSet) Attributes() []Column {
	var attrs []Column
	for _, c := range s.columns {
		if c.Kind == KindAttribute {
			attrs = append(attrs, c)
		}
	}
	return attrs
}

// Lookup resolves a raw header cell to its column, ignoring case,
// surrounding space and the required marker.
func (s *ColumnSet) Lookup(header string) (Column, bool) {
	i, ok := s.index[normalizeHeader(header)]
	if !ok {
		return Column{}, false
	}
	return s.columns[i], true
}

// Len returns the number of columns
func (s *ColumnSet) Len() int {
	return len(s.columns)
}

func normalizeHeader(h string) string {
	h = strings.TrimSpace(h)
	h = strings.TrimSuffix(h, strings.TrimSpace(RequiredMarker))
	return strings.ToLower(strings.TrimSpace(h))
}
