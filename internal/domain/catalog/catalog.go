package catalog

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Catalog is the product container an import job targets.
// Capacity <= 0 means the catalog is unbounded.
type Catalog struct {
	ID       uuid.UUID
	Name     string
	Capacity int
}

// Bounded reports whether the catalog enforces a product limit
func (c *Catalog) Bounded() bool {
	return c.Capacity > 0
}

// Remaining returns how many products can still be created given the current count.
// It returns -1 for unbounded catalogs.
func (c *Catalog) Remaining(current int64) int64 {
	if !c.Bounded() {
		return -1
	}
	left := int64(c.Capacity) - current
	if left < 0 {
		return 0
	}
	return left
}

// Slug returns a filename-safe form of the catalog name
func (c *Catalog) Slug() string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(c.Name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
