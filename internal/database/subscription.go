package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionRepository persists user subscriptions and the store transactions applied to them
type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Find returns the subscription of userID or ErrNotFound
func (r *SubscriptionRepository) Find(ctx context.Context, userID string) (*models.Subscription, error) {
	return findSubscription(r.db.WithContext(ctx), userID)
}

// GetOrCreate returns the subscription of userID, creating the free default on first access.
// Concurrent first accesses converge on one row through the unique user_id key.
func (r *SubscriptionRepository) GetOrCreate(ctx context.Context, userID string) (*models.Subscription, error) {
	return getOrCreateSubscription(r.db.WithContext(ctx), userID)
}

func findSubscription(db *gorm.DB, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := db.Where("user_id = ?", userID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

func getOrCreateSubscription(db *gorm.DB, userID string) (*models.Subscription, error) {
	sub, err := findSubscription(db, userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Losing the insert race is fine, the re-read below returns the winner
	def := models.DefaultSubscription(userID)
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(def).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create default subscription: %w", err)
	}

	return findSubscription(db, userID)
}

// Activate applies a verified store purchase to the user's subscription.
// Each (platform, transaction id) is applied at most once; replaying it returns
// the current state with applied=false.
func (r *SubscriptionRepository) Activate(ctx context.Context, userID string, a models.Activation) (*models.Subscription, bool, error) {
	var (
		result  *models.Subscription
		applied bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getOrCreateSubscription(tx, userID); err != nil {
			return err
		}

		var sub models.Subscription
		if err := lockForUpdate(tx).Where("user_id = ?", userID).Take(&sub).Error; err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}

		record := models.StoreTransaction{
			UserID:                userID,
			Platform:              a.Platform,
			TransactionID:         a.TransactionID,
			OriginalTransactionID: a.OriginalTransactionID,
			ProductID:             a.ProductID,
			PlanTier:              a.Tier,
			Environment:           a.Environment,
			ExpiresAt:             a.ExpiresAt.UTC(),
			PurchasedAt:           utcPtr(a.PurchasedAt),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform"}, {Name: "transaction_id"}},
			DoNothing: true,
		}).Create(&record)
		if res.Error != nil {
			return fmt.Errorf("failed to record store transaction: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			var existing models.StoreTransaction
			err := tx.Where("platform = ? AND transaction_id = ?", string(a.Platform), a.TransactionID).Take(&existing).Error
			if err != nil {
				return fmt.Errorf("failed to load store transaction: %w", err)
			}
			if existing.UserID != userID {
				return ErrTransactionClaimed
			}
			logging.Debugf("Store transaction already applied - user_id: %s, transaction_id: %s", userID, a.TransactionID)
			result = &sub
			return nil
		}

		expiresAt := a.ExpiresAt.UTC()
		updates := map[string]interface{}{
			"plan_tier":                     string(a.Tier),
			"status":                        string(models.StatusActive),
			"store_platform":                string(a.Platform),
			"store_product_id":              stringPtr(a.ProductID),
			"store_transaction_id":          stringPtr(a.TransactionID),
			"store_original_transaction_id": stringPtr(a.OriginalTransactionID),
			"store_purchase_token":          stringPtr(a.PurchaseToken),
			"expires_at":                    &expiresAt,
			"purchased_at":                  utcPtr(a.PurchasedAt),
		}
		if err := tx.Model(&sub).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to activate subscription: %w", err)
		}

		updated, err := findSubscription(tx, userID)
		if err != nil {
			return err
		}
		result = updated
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

// MarkStatus flips the status of a subscription and keeps its tier
func (r *SubscriptionRepository) MarkStatus(ctx context.Context, userID string, status models.SubscriptionStatus) (*models.Subscription, error) {
	var result *models.Subscription
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := getOrCreateSubscription(tx, userID)
		if err != nil {
			return err
		}
		if sub.Status == status {
			result = sub
			return nil
		}
		if err := tx.Model(sub).Update("status", string(status)).Error; err != nil {
			return fmt.Errorf("failed to update subscription status: %w", err)
		}
		result, err = findSubscription(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ObserveExpiry marks an active paid subscription whose expiry has passed as expired.
// It is a single conditional update and reports whether a row changed.
func (r *SubscriptionRepository) ObserveExpiry(ctx context.Context, userID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ? AND status = ? AND plan_tier <> ? AND expires_at IS NOT NULL AND expires_at <= ?",
			userID, string(models.StatusActive), string(models.PlanFree), now.UTC()).
		Updates(map[string]interface{}{
			"status":     string(models.StatusExpired),
			"updated_at": now.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to observe subscription expiry: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FindUserByOriginalTransaction returns the user that owns a store subscription chain
func (r *SubscriptionRepository) FindUserByOriginalTransaction(ctx context.Context, platform models.StorePlatform, originalTransactionID string) (string, error) {
	var record models.StoreTransaction
	err := r.db.WithContext(ctx).
		Where("platform = ? AND original_transaction_id = ?", string(platform), originalTransactionID).
		Order("created_at DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load store transaction: %w", err)
	}
	return record.UserID, nil
}

// FindByPurchaseToken finds the subscription holding a Google Play purchase token
func (r *SubscriptionRepository) FindByPurchaseToken(ctx context.Context, purchaseToken string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("store_platform = ? AND store_purchase_token = ?", string(models.PlatformGoogle), purchaseToken).
		Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
