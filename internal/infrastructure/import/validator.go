package csvimport

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// FieldType represents the expected type of a field
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeDecimal FieldType = "decimal"
)

// FieldRule defines validation rules for a field
type FieldRule struct {
	Column     string
	Type       FieldType
	Required   bool
	MaxLength  int
	MinValue   *decimal.Decimal
	MaxValue   *decimal.Decimal
	MaxScale   *int32
	OneOf      []string
	CustomFunc func(value string) error
}

// FieldRuleBuilder helps build field rules fluently
type FieldRuleBuilder struct {
	rule FieldRule
}

// Field creates a new field rule builder
func Field(column string) *FieldRuleBuilder {
	return &FieldRuleBuilder{
		rule: FieldRule{
			Column: column,
			Type:   TypeString,
		},
	}
}

// Required marks the field as required
func (b *FieldRuleBuilder) Required() *FieldRuleBuilder {
	b.rule.Required = true
	return b
}

// String sets the field type to string
func (b *FieldRuleBuilder) String() *FieldRuleBuilder {
	b.rule.Type = TypeString
	return b
}

// Int sets the field type to integer
func (b *FieldRuleBuilder) Int() *FieldRuleBuilder {
	b.rule.Type = TypeInt
	return b
}

// Decimal sets the field type to decimal
func (b *FieldRuleBuilder) Decimal() *FieldRuleBuilder {
	b.rule.Type = TypeDecimal
	return b
}

// MaxLength sets the maximum length in characters
func (b *FieldRuleBuilder) MaxLength(n int) *FieldRuleBuilder {
	b.rule.MaxLength = n
	return b
}

// MinValue sets the minimum numeric value
func (b *FieldRuleBuilder) MinValue(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MinValue = &v
	return b
}

// MaxValue sets the maximum numeric value
func (b *FieldRuleBuilder) MaxValue(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MaxValue = &v
	return b
}

// MaxScale limits the number of decimal places
func (b *FieldRuleBuilder) MaxScale(places int32) *FieldRuleBuilder {
	b.rule.MaxScale = &places
	return b
}

// OneOf restricts the value to a fixed set, compared case-insensitively
func (b *FieldRuleBuilder) OneOf(values ...string) *FieldRuleBuilder {
	b.rule.OneOf = values
	return b
}

// Custom sets a custom validation function
func (b *FieldRuleBuilder) Custom(fn func(value string) error) *FieldRuleBuilder {
	b.rule.CustomFunc = fn
	return b
}

// Build returns the built field rule
func (b *FieldRuleBuilder) Build() FieldRule {
	return b.rule
}

// Bounds of the product columns; prices are stored as DECIMAL(18,4) and
// stock as a 32-bit INTEGER.
var (
	maxPrice         = decimal.RequireFromString("99999999999999.9999")
	maxStockQuantity = decimal.NewFromInt(math.MaxInt32)
)

const priceScale = 4

// ProductRules returns the rules for the scalar product columns
func ProductRules() []FieldRule {
	return []FieldRule{
		Field(ColumnName).Required().MaxLength(200).Build(),
		Field(ColumnPrice).Required().Decimal().MinValue(decimal.Zero).MaxValue(maxPrice).MaxScale(priceScale).Build(),
		Field(ColumnSKU).MaxLength(64).Build(),
		Field(ColumnStockQuantity).Int().MinValue(decimal.Zero).MaxValue(maxStockQuantity).Build(),
		Field(ColumnStatus).OneOf("active", "inactive").Build(),
		Field(ColumnDescription).MaxLength(2000).Build(),
	}
}

// FieldValidator validates fields according to rules. It holds no per-row
// state and is safe for concurrent use.
type FieldValidator struct {
	rules []FieldRule
}

// NewFieldValidator creates a new field validator
func NewFieldValidator(rules []FieldRule) *FieldValidator {
	return &FieldValidator{rules: rules}
}

// Validate checks the fields of one row and returns every violation in rule order
func (v *FieldValidator) Validate(fields map[string]string) []FieldError {
	var errs []FieldError

	for _, rule := range v.rules {
		value := fields[rule.Column]

		if value == "" {
			if rule.Required {
				errs = append(errs, NewFieldError(rule.Column, ErrCodeImportRequiredField,
					fmt.Sprintf("field '%s' is required", rule.Column), ""))
			}
			continue
		}

		if err := validateType(value, rule.Type); err != nil {
			errs = append(errs, NewFieldError(rule.Column, ErrCodeImportInvalidType,
				fmt.Sprintf("expected %s", rule.Type), value))
			continue
		}

		if rule.MaxLength > 0 && utf8.RuneCountInString(value) > rule.MaxLength {
			errs = append(errs, NewFieldError(rule.Column, ErrCodeImportInvalidLength,
				fmt.Sprintf("length must be at most %d", rule.MaxLength), value))
			continue
		}

		if rule.Type == TypeInt || rule.Type == TypeDecimal {
			if err := validateRange(value, rule.MinValue, rule.MaxValue); err != nil {
				errs = append(errs, NewFieldError(rule.Column, ErrCodeImportInvalidRange, err.Error(), value))
				continue
			}
		}

		if rule.Type == TypeDecimal && rule.MaxScale != nil {
			if err := validateScale(value, *rule.MaxScale); err != nil {
				errs = append(errs, NewFieldError(rule.Column, ErrCodeImportInvalidRange, err.Error(), value))
				continue
			}
		}

		if len(rule.OneOf) > 0 && !containsFold(rule.OneOf, value) {
			errs = append(errs, NewFieldError(rule.Column, ErrCodeImportInvalidValue,
				fmt.Sprintf("must be one of: %s", strings.Join(rule.OneOf, ", ")), value))
			continue
		}

		if rule.CustomFunc != nil {
			if err := rule.CustomFunc(value); err != nil {
				errs = append(errs, NewFieldError(rule.Column, ErrCodeImportValidation, err.Error(), value))
			}
		}
	}

	return errs
}

// validateType validates a value against expected type
func validateType(value string, fieldType FieldType) error {
	switch fieldType {
	case TypeInt:
		_, err := strconv.ParseInt(value, 10, 64)
		return err
	case TypeDecimal:
		_, err := decimal.NewFromString(value)
		return err
	}
	return nil
}

// validateRange validates numeric value against min/max
func validateRange(value string, min, max *decimal.Decimal) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return err
	}

	if min != nil && d.LessThan(*min) {
		return fmt.Errorf("value must be at least %s", min.String())
	}
	if max != nil && d.GreaterThan(*max) {
		return fmt.Errorf("value must be at most %s", max.String())
	}
	return nil
}

// validateScale rejects values with more than places decimal digits.
// Trailing zeros do not count.
func validateScale(value string, places int32) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return err
	}
	if !d.Equal(d.Truncate(places)) {
		return fmt.Errorf("value must have at most %d decimal places", places)
	}
	return nil
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
