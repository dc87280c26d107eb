package dto

// CreateImportJobRequest is the body of POST /import/jobs
type CreateImportJobRequest struct {
	Name        string  `json:"name" binding:"required,max=200" example:"Spring catalogue"`
	Description string  `json:"description" binding:"max=2000"`
	CatalogID   *string `json:"catalog_id" binding:"omitempty,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	Strategy    string  `json:"processing_strategy" binding:"omitempty,oneof=sequential parallel" example:"sequential"`
	MaxRetries  *int    `json:"max_retries" binding:"omitempty,min=0,max=20" example:"3"`
}

// ListImportJobsQuery filters GET /import/jobs
type ListImportJobsQuery struct {
	Status    string `form:"status" binding:"omitempty,oneof=pending processing paused completed failed cancelled"`
	CatalogID string `form:"catalog_id" binding:"omitempty,uuid"`
	SortBy    string `form:"sort_by" binding:"omitempty,oneof=created_at updated_at name status"`
	SortOrder string `form:"sort_order" binding:"omitempty,oneof=asc desc ASC DESC"`
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// PageQuery pages a job's error log
type PageQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=500"`
}

// TemplateQuery selects the template to download
type TemplateQuery struct {
	CatalogID string `form:"catalog_id" binding:"omitempty,uuid"`
	Format    string `form:"format" binding:"omitempty,oneof=csv xlsx"`
}
