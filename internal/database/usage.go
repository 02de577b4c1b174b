package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageRepository keeps the per-user, per-day counters of metered actions
type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Get returns the counters of userID on date. A day without a row reads as zero
// and nothing is written.
func (r *UsageRepository) Get(ctx context.Context, userID, date string) (*models.DailyUsage, error) {
	var usage models.DailyUsage
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND usage_date = ?", userID, date).
		Take(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.DailyUsage{UserID: userID, UsageDate: date}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	return &usage, nil
}

// TryConsume increments the kind counter of (userID, date) only while it is below limit.
// The comparison and the increment run as one conditional UPDATE, so concurrent
// callers never admit more than limit in total. It returns whether a unit was
// granted and the counter observed afterwards.
func (r *UsageRepository) TryConsume(ctx context.Context, userID, date string, kind models.ActionKind, limit int) (bool, int, error) {
	column := kind.Column()
	if column == "" {
		return false, 0, fmt.Errorf("unknown action kind %q", kind)
	}
	if limit < 0 {
		limit = 0
	}

	db := r.db.WithContext(ctx)

	row := models.DailyUsage{UserID: userID, UsageDate: date}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "usage_date"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return false, 0, fmt.Errorf("failed to create usage row: %w", err)
	}

	increment := gorm.Expr(column+" + ?", 1)
	res := db.Model(&models.DailyUsage{}).
		Where("user_id = ? AND usage_date = ? AND "+column+" < ?", userID, date, limit).
		Updates(map[string]interface{}{
			column:       increment,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, 0, fmt.Errorf("failed to consume usage: %w", res.Error)
	}
	granted := res.RowsAffected == 1

	usage, err := r.Get(ctx, userID, date)
	if err != nil {
		return granted, 0, err
	}
	return granted, usage.Used(kind), nil
}
