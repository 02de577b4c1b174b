package database_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/NolanEssertaize/Know-it-backend/internal/database"
	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// eachBackend runs fn on SQLite and, when POSTGRES_URL is set, on PostgreSQL
func eachBackend(t *testing.T, fn func(t *testing.T, db *gorm.DB)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, testutil.SQLiteTest(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, testutil.PGTest(t)) })
}

func TestTryConsumeGrantsUpToLimit(t *testing.T) {
	repo := database.NewUsageRepository(testutil.SQLiteTest(t))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		granted, used, err := repo.TryConsume(ctx, "u1", "2026-03-10", models.ActionSession, 3)
		require.NoError(t, err)
		assert.True(t, granted, "call %d", i)
		assert.Equal(t, i, used)
	}

	granted, used, err := repo.TryConsume(ctx, "u1", "2026-03-10", models.ActionSession, 3)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 3, used)

	// Generations have their own counter
	granted, used, err = repo.TryConsume(ctx, "u1", "2026-03-10", models.ActionGeneration, 3)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 1, used)
}

func TestTryConsumeConcurrentNeverOverAdmits(t *testing.T) {
	eachBackend(t, func(t *testing.T, db *gorm.DB) {
		repo := database.NewUsageRepository(db)
		ctx := context.Background()

		const limit, requests = 10, 40
		var admitted int64
		var wg sync.WaitGroup
		for i := 0; i < requests; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				granted, _, err := repo.TryConsume(ctx, "u1", "2026-03-10", models.ActionGeneration, limit)
				assert.NoError(t, err)
				if granted {
					atomic.AddInt64(&admitted, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(limit), admitted)

		usage, err := repo.Get(ctx, "u1", "2026-03-10")
		require.NoError(t, err)
		assert.Equal(t, limit, usage.GenerationsUsed)
		assert.Equal(t, 0, usage.SessionsUsed)
	})
}

func TestUsageIsKeyedByDate(t *testing.T) {
	repo := database.NewUsageRepository(testutil.SQLiteTest(t))
	ctx := context.Background()

	granted, _, err := repo.TryConsume(ctx, "u1", "2026-03-10", models.ActionSession, 1)
	require.NoError(t, err)
	require.True(t, granted)

	granted, _, err = repo.TryConsume(ctx, "u1", "2026-03-10", models.ActionSession, 1)
	require.NoError(t, err)
	assert.False(t, granted)

	granted, used, err := repo.TryConsume(ctx, "u1", "2026-03-11", models.ActionSession, 1)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 1, used)

	// The previous day is untouched
	previous, err := repo.Get(ctx, "u1", "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, 1, previous.SessionsUsed)
}

func TestGetWithoutRowReadsZero(t *testing.T) {
	db := testutil.SQLiteTest(t)
	repo := database.NewUsageRepository(db)

	usage, err := repo.Get(context.Background(), "nobody", "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.SessionsUsed)
	assert.Equal(t, 0, usage.GenerationsUsed)

	var count int64
	require.NoError(t, db.Model(&models.DailyUsage{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTryConsumeZeroLimitNeverGrants(t *testing.T) {
	repo := database.NewUsageRepository(testutil.SQLiteTest(t))

	granted, used, err := repo.TryConsume(context.Background(), "u1", "2026-03-10", models.ActionSession, 0)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 0, used)
}

func TestTryConsumeRejectsUnknownKind(t *testing.T) {
	repo := database.NewUsageRepository(testutil.SQLiteTest(t))

	_, _, err := repo.TryConsume(context.Background(), "u1", "2026-03-10", models.ActionKind("upload"), 5)
	assert.Error(t, err)
}
