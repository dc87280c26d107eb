package importapp

import (
	"github.com/marketplace/backend/internal/domain/bulk"
)

// OutcomeKind is the result class of one processed row
type OutcomeKind int

const (
	// OutcomeSuccess means the product was created or updated
	OutcomeSuccess OutcomeKind = iota
	// OutcomeError means the row was rejected; the job continues
	OutcomeError
	// OutcomeFatal means a system condition stops the job; the row stays unresolved
	OutcomeFatal
)

// String returns the metric label of the kind
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// RowOutcome is the result of processing one row
type RowOutcome struct {
	RowNumber int
	Kind      OutcomeKind
	// Created distinguishes a new product from an update on success
	Created  bool
	Error    *bulk.RowError
	Warnings []*bulk.RowError
	// Cause is the underlying error of a fatal outcome
	Cause error
}

// Resolved reports whether the row counts toward the checkpoint
func (o RowOutcome) Resolved() bool {
	return o.Kind != OutcomeFatal
}

// Resolution folds the outcome into the job counters
func (o RowOutcome) Resolution() bulk.RowResolution {
	return bulk.RowResolution{
		RowNumber: o.RowNumber,
		Succeeded: o.Kind == OutcomeSuccess,
		Warnings:  len(o.Warnings),
	}
}

// RowErrors returns the error log entries the outcome produces
func (o RowOutcome) RowErrors() []*bulk.RowError {
	entries := make([]*bulk.RowError, 0, len(o.Warnings)+1)
	if o.Error != nil {
		entries = append(entries, o.Error)
	}
	return append(entries, o.Warnings...)
}

func successOutcome(rowNumber int, created bool, warnings []*bulk.RowError) RowOutcome {
	return RowOutcome{RowNumber: rowNumber, Kind: OutcomeSuccess, Created: created, Warnings: warnings}
}

func errorOutcome(rowErr *bulk.RowError) RowOutcome {
	return RowOutcome{RowNumber: rowErr.RowNumber, Kind: OutcomeError, Error: rowErr}
}

func fatalOutcome(rowErr *bulk.RowError, cause error) RowOutcome {
	return RowOutcome{RowNumber: rowErr.RowNumber, Kind: OutcomeFatal, Error: rowErr, Cause: cause}
}
