// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns.
//
// Structure:
//   - base.go: BaseModel and AggregateModel
//   - import_job.go: import_jobs
//   - row_error.go: import_row_errors
//   - catalog.go: catalogs, attribute definitions and options, products and their attribute values
package models
