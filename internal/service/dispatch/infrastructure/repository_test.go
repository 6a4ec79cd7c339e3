package infrastructure

import (
	"context"
	"os"
	"testing"
	"time"

	"dispatch/internal/service/dispatch/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(trigger domain.BatchTrigger, started time.Time, errMsg string) *domain.BatchRun {
	return &domain.BatchRun{
		ID:         uuid.NewString(),
		Trigger:    trigger,
		Signature:  "A|B",
		Groups:     2,
		Created:    1,
		Failed:     1,
		Error:      errMsg,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
}

func TestMapperKeepsErrorNullability(t *testing.T) {
	now := time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC)

	model := FromDomainBatchRun(run(domain.TriggerAuto, now, ""))
	assert.False(t, model.Error.Valid)

	failed := run(domain.TriggerManual, now, "upstream unreachable")
	model = FromDomainBatchRun(failed)
	assert.True(t, model.Error.Valid)
	assert.Equal(t, failed, ToDomainBatchRun(model))
}

func TestOpenMySQLRejectsBadDSN(t *testing.T) {
	_, err := OpenMySQL("not a dsn")
	assert.Error(t, err)
}

func TestMemoryRepositoryNewestFirstAndBounded(t *testing.T) {
	repo := NewMemoryBatchRunRepository(3)
	ctx := context.Background()
	base := time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, run(domain.TriggerAuto, base.Add(time.Duration(i)*time.Minute), "")))
	}

	runs, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, base.Add(4*time.Minute), runs[0].StartedAt)
	assert.Equal(t, base.Add(2*time.Minute), runs[2].StartedAt)

	runs, _ = repo.ListRecent(ctx, 1)
	assert.Len(t, runs, 1)
}

func TestGormRepositoryRoundTrip(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}
	db, err := OpenMySQL(dsn)
	require.NoError(t, err)

	repo := NewGormBatchRunRepository(db)
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)
	saved := run(domain.TriggerManual, started, "batching failed")
	require.NoError(t, repo.Save(ctx, saved))

	runs, err := repo.ListRecent(ctx, 50)
	require.NoError(t, err)
	var found bool
	for _, r := range runs {
		if r.ID == saved.ID {
			found = true
			assert.Equal(t, "batching failed", r.Error)
			assert.Equal(t, saved.Created, r.Created)
		}
	}
	assert.True(t, found)
}
