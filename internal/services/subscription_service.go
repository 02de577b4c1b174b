package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/database"
	"github.com/NolanEssertaize/Know-it-backend/internal/metrics"
	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"

	"github.com/cenkalti/backoff/v4"
)

// SubscriptionRepository is the storage the subscription service needs
type SubscriptionRepository interface {
	Find(ctx context.Context, userID string) (*models.Subscription, error)
	GetOrCreate(ctx context.Context, userID string) (*models.Subscription, error)
	Activate(ctx context.Context, userID string, a models.Activation) (*models.Subscription, bool, error)
	MarkStatus(ctx context.Context, userID string, status models.SubscriptionStatus) (*models.Subscription, error)
	ObserveExpiry(ctx context.Context, userID string, now time.Time) (bool, error)
	FindUserByOriginalTransaction(ctx context.Context, platform models.StorePlatform, originalTransactionID string) (string, error)
	FindByPurchaseToken(ctx context.Context, purchaseToken string) (*models.Subscription, error)
}

// RetryPolicy bounds retries of transient store failures
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// SubscriptionService owns the per-user subscription state.
// State changes come only from verified purchases, store signals, or expiry observation.
type SubscriptionService struct {
	repo     SubscriptionRepository
	verifier Verifier
	retry    RetryPolicy
	now      func() time.Time
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(repo SubscriptionRepository, verifier Verifier, retry RetryPolicy) *SubscriptionService {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &SubscriptionService{
		repo:     repo,
		verifier: verifier,
		retry:    retry,
		now:      time.Now,
	}
}

// WithClock replaces the clock used for expiry decisions
func (s *SubscriptionService) WithClock(now func() time.Time) *SubscriptionService {
	s.now = now
	return s
}

// Get returns the user's subscription, creating the free default on first access.
// An active paid subscription past its expiry is recorded as expired here.
func (s *SubscriptionService) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sub.Status == models.StatusActive && sub.PlanTier.IsPaid() && !sub.IsActive(now) {
		expired, err := s.repo.ObserveExpiry(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		if expired {
			logging.Infof("Subscription expired - user_id: %s, tier: %s", userID, sub.PlanTier)
			sub.Status = models.StatusExpired
		}
	}
	return sub, nil
}

// Effective computes the entitlement used for quota lookups. It never writes;
// a user without a row is on the free plan.
func (s *SubscriptionService) Effective(ctx context.Context, userID string) (models.Entitlement, error) {
	sub, err := s.repo.Find(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Entitlement{Tier: models.PlanFree, IsActive: true}, nil
	}
	if err != nil {
		return models.Entitlement{}, err
	}
	return sub.Effective(s.now()), nil
}

// Activate applies a verified purchase. Replaying the same store transaction changes nothing.
func (s *SubscriptionService) Activate(ctx context.Context, userID string, a models.Activation) (*models.Subscription, error) {
	sub, applied, err := s.repo.Activate(ctx, userID, a)
	if err != nil {
		return nil, err
	}
	if applied {
		metrics.SubscriptionActivationsTotal.WithLabelValues(string(a.Tier)).Inc()
		logging.Infof("Subscription activated - user_id: %s, tier: %s, platform: %s, expires_at: %s",
			userID, a.Tier, a.Platform, a.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return sub, nil
}

// MarkCancelled records a store cancellation; the tier is kept
func (s *SubscriptionService) MarkCancelled(ctx context.Context, userID string) (*models.Subscription, error) {
	return s.repo.MarkStatus(ctx, userID, models.StatusCancelled)
}

// MarkGracePeriod records a store billing grace period; the tier is kept
func (s *SubscriptionService) MarkGracePeriod(ctx context.Context, userID string) (*models.Subscription, error) {
	return s.repo.MarkStatus(ctx, userID, models.StatusGracePeriod)
}

// MarkExpired records a store expiry signal; the tier is kept
func (s *SubscriptionService) MarkExpired(ctx context.Context, userID string) (*models.Subscription, error) {
	return s.repo.MarkStatus(ctx, userID, models.StatusExpired)
}

// UserForOriginalTransaction finds who owns a store subscription chain
func (s *SubscriptionService) UserForOriginalTransaction(ctx context.Context, platform models.StorePlatform, originalTransactionID string) (string, error) {
	return s.repo.FindUserByOriginalTransaction(ctx, platform, originalTransactionID)
}

// HoldsChain reports whether the user's current subscription is the store chain originalTransactionID
func (s *SubscriptionService) HoldsChain(ctx context.Context, userID string, platform models.StorePlatform, originalTransactionID string) (bool, error) {
	sub, err := s.repo.Find(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.StorePlatform == platform &&
		sub.StoreOriginalTransactionID != nil &&
		*sub.StoreOriginalTransactionID == originalTransactionID, nil
}

// UserForPurchaseToken finds who holds a Google Play purchase token
func (s *SubscriptionService) UserForPurchaseToken(ctx context.Context, purchaseToken string) (string, error) {
	sub, err := s.repo.FindByPurchaseToken(ctx, purchaseToken)
	if err != nil {
		return "", err
	}
	return sub.UserID, nil
}

// VerifyAndActivate verifies a receipt with the store and, only on success,
// activates it for the user. No lock is held while the store is called.
func (s *SubscriptionService) VerifyAndActivate(ctx context.Context, userID string, platform models.StorePlatform, receiptData, productID string) (*models.Subscription, *Receipt, error) {
	receipt, err := s.verify(ctx, platform, receiptData, productID)
	if err != nil {
		return nil, nil, err
	}

	sub, err := s.Activate(ctx, userID, receipt.Activation())
	if err != nil {
		if errors.Is(err, database.ErrTransactionClaimed) {
			return nil, nil, &VerificationError{Kind: ErrInvalidReceipt, Platform: platform, Message: "receipt already consumed", Err: err}
		}
		return nil, nil, fmt.Errorf("failed to activate subscription: %w", err)
	}
	return sub, receipt, nil
}

// verify retries StoreUnavailable with exponential backoff; other failures end at once
func (s *SubscriptionService) verify(ctx context.Context, platform models.StorePlatform, receiptData, productID string) (*Receipt, error) {
	b := backoff.NewExponentialBackOff()
	if s.retry.InitialInterval > 0 {
		b.InitialInterval = s.retry.InitialInterval
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retry.MaxAttempts-1)), ctx)

	var lastErr error
	attempt := 0
	receipt, err := backoff.RetryWithData(func() (*Receipt, error) {
		attempt++
		r, err := s.verifier.Verify(ctx, platform, receiptData, productID)
		metrics.ReceiptVerificationsTotal.WithLabelValues(string(platform), verificationResult(err)).Inc()
		if err == nil {
			return r, nil
		}
		lastErr = err
		if errors.Is(err, ErrStoreUnavailable) {
			logging.Warnf("Receipt verification attempt %d failed - platform: %s, error: %v", attempt, platform, err)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, policy)
	if err == nil {
		return receipt, nil
	}

	// Cancellation while waiting between attempts still reports the store failure
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if lastErr != nil && errors.Is(lastErr, ErrStoreUnavailable) {
			return nil, lastErr
		}
		return nil, storeUnavailable(platform, err, "verification cancelled")
	}
	return nil, err
}
