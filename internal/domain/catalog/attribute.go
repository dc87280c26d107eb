package catalog

import (
	"strings"

	"github.com/google/uuid"
)

// AttributeOption is one allowed value of an attribute definition
type AttributeOption struct {
	ID    uuid.UUID
	Value string
}

// AttributeDefinition describes an attribute that products of a catalog may carry.
// Definitions without a CatalogID are global and apply to every catalog.
type AttributeDefinition struct {
	ID          uuid.UUID
	CatalogID   *uuid.UUID
	Name        string
	MultiSelect bool
	Required    bool
	Options     []AttributeOption
}

// FindOption looks up an option by value, case-insensitively
func (d *AttributeDefinition) FindOption(value string) (AttributeOption, bool) {
	for _, opt := range d.Options {
		if strings.EqualFold(opt.Value, value) {
			return opt, true
		}
	}
	return AttributeOption{}, false
}

// SampleValues returns the example cell values for a template row:
// every option for multi-select attributes, the first one otherwise.
func (d *AttributeDefinition) SampleValues() []string {
	if len(d.Options) == 0 {
		return nil
	}
	if !d.MultiSelect {
		return []string{d.Options[0].Value}
	}
	values := make([]string, 0, len(d.Options))
	for _, opt := range d.Options {
		values = append(values, opt.Value)
	}
	return values
}

// AttributeSelection is the resolved set of options chosen for one attribute
type AttributeSelection struct {
	AttributeID uuid.UUID
	OptionIDs   []uuid.UUID
}
