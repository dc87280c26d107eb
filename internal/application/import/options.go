package importapp

import (
	"time"

	"github.com/marketplace/backend/internal/domain/bulk"
)

// Strictness controls how invalid attribute values are handled
type Strictness string

const (
	// StrictnessStrict rejects the whole row
	StrictnessStrict Strictness = "strict"
	// StrictnessLenient drops the attribute and records a warning
	StrictnessLenient Strictness = "lenient"
)

// IsValid checks if the strictness is valid
func (s Strictness) IsValid() bool {
	return s == StrictnessStrict || s == StrictnessLenient
}

// Options tune the import engine
type Options struct {
	MaxFileSize         int64
	DefaultStrategy     bulk.ProcessingStrategy
	DefaultMaxRetries   int
	ParallelWindow      int
	ParallelWorkers     int
	PersistenceAttempts int
	PersistenceBackoff  time.Duration
	FieldDelimiter      rune
	ValueDelimiter      string
	AttributeStrictness Strictness
	// ErrorThreshold fails a job once its error count exceeds it; 0 disables
	ErrorThreshold     int
	LeaseDuration      time.Duration
	LeaseRenewInterval time.Duration
}

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	return Options{
		MaxFileSize:         50 << 20,
		DefaultStrategy:     bulk.StrategySequential,
		DefaultMaxRetries:   3,
		ParallelWindow:      64,
		ParallelWorkers:     8,
		PersistenceAttempts: 3,
		PersistenceBackoff:  100 * time.Millisecond,
		FieldDelimiter:      ',',
		ValueDelimiter:      ",",
		AttributeStrictness: StrictnessStrict,
		LeaseDuration:       2 * time.Minute,
	}
}

// withDefaults fills zero values from DefaultOptions
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = d.MaxFileSize
	}
	if !o.DefaultStrategy.IsValid() {
		o.DefaultStrategy = d.DefaultStrategy
	}
	if o.DefaultMaxRetries < 0 {
		o.DefaultMaxRetries = 0
	}
	if o.ParallelWindow <= 0 {
		o.ParallelWindow = d.ParallelWindow
	}
	if o.ParallelWorkers <= 0 {
		o.ParallelWorkers = d.ParallelWorkers
	}
	if o.PersistenceAttempts <= 0 {
		o.PersistenceAttempts = d.PersistenceAttempts
	}
	if o.PersistenceBackoff < 0 {
		o.PersistenceBackoff = 0
	}
	if o.FieldDelimiter == 0 {
		o.FieldDelimiter = d.FieldDelimiter
	}
	if o.ValueDelimiter == "" {
		o.ValueDelimiter = d.ValueDelimiter
	}
	if !o.AttributeStrictness.IsValid() {
		o.AttributeStrictness = d.AttributeStrictness
	}
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = d.LeaseDuration
	}
	if o.LeaseRenewInterval <= 0 || o.LeaseRenewInterval >= o.LeaseDuration {
		o.LeaseRenewInterval = o.LeaseDuration / 3
	}
	return o
}
