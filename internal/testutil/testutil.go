// Package testutil provides shared test infrastructure.
package testutil

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/database"
	"github.com/NolanEssertaize/Know-it-backend/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SQLiteTest opens a private in-memory SQLite database with all tables migrated.
// It is closed when the test ends.
func SQLiteTest(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := database.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("sqlitetest: open database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("sqlitetest: migrate: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// PGTest connects to POSTGRES_URL, migrates, and empties the application tables
// before and after the test. If POSTGRES_URL is not set, the test is skipped.
// Tests using it must not run in parallel with each other.
func PGTest(t *testing.T) *gorm.DB {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("pgtest: database handle: %v", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		_ = sqlDB.Close()
		t.Fatalf("pgtest: migrate: %v", err)
	}

	truncateAll(t, db)
	t.Cleanup(func() {
		truncateAll(t, db)
		_ = sqlDB.Close()
	})
	return db
}

func truncateAll(t *testing.T, db *gorm.DB) {
	t.Helper()

	tables := make([]string, 0, len(models.AllModels()))
	for _, model := range models.AllModels() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			t.Fatalf("pgtest: parse model: %v", err)
		}
		tables = append(tables, stmt.Schema.Table)
	}
	if err := db.Exec("TRUNCATE TABLE " + strings.Join(tables, ", ")).Error; err != nil {
		t.Fatalf("pgtest: truncate: %v", err)
	}
}

// RedisTest connects to REDIS_URL and flushes the selected database.
// If REDIS_URL is not set, the test is skipped.
func RedisTest(t *testing.T) *redis.Client {
	t.Helper()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("redistest: parse url: %v", err)
	}
	client := redis.NewClient(opt)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("redistest: connect: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("redistest: flush: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}

// Clock is a manually advanced clock, safe for concurrent use
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
