package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportJobModel_WorkerMapsToNull(t *testing.T) {
	job, err := bulk.NewImportJob(uuid.New(), "Spring", "", nil, bulk.StrategySequential, 0)
	require.NoError(t, err)

	m := ImportJobModelFromDomain(job)
	assert.Nil(t, m.WorkerID)

	cols := m.StateColumns()
	assert.Contains(t, cols, "worker_id")
	assert.Equal(t, 0, cols["max_retries"], "zero must be written, not replaced by a default")

	until := time.Now().Add(time.Minute)
	job.ExtendLease("worker-a", until)
	m = ImportJobModelFromDomain(job)
	require.NotNil(t, m.WorkerID)
	assert.Equal(t, "worker-a", *m.WorkerID)

	back := m.ToDomain()
	assert.Equal(t, "worker-a", back.WorkerID)
	assert.Equal(t, job.Version, back.Version)
	assert.Equal(t, bulk.JobStatusPending, back.Status)
}
