package models

import (
	"time"
)

// SubscriptionStatus is the lifecycle state of a subscription
type SubscriptionStatus string

const (
	StatusActive      SubscriptionStatus = "active"
	StatusExpired     SubscriptionStatus = "expired"
	StatusCancelled   SubscriptionStatus = "cancelled"
	StatusGracePeriod SubscriptionStatus = "grace_period"
)

// StorePlatform identifies the store that sold a subscription
type StorePlatform string

const (
	PlatformNone   StorePlatform = ""
	PlatformApple  StorePlatform = "apple"
	PlatformGoogle StorePlatform = "google"
)

// ParsePlatform accepts the platform names used by clients
func ParsePlatform(s string) (StorePlatform, bool) {
	switch s {
	case "apple", "ios":
		return PlatformApple, true
	case "google", "android":
		return PlatformGoogle, true
	}
	return PlatformNone, false
}

// Subscription is the per-user plan record and the source of entitlement.
// Exactly one row exists per user; it is never deleted.
type Subscription struct {
	BaseModel

	UserID string `json:"user_id" gorm:"not null;size:64;uniqueIndex"`

	PlanTier PlanTier           `json:"plan_type" gorm:"not null;size:20"`
	Status   SubscriptionStatus `json:"status" gorm:"not null;size:20;index"`

	// Store fields, empty for the default free plan
	StorePlatform              StorePlatform `json:"store_platform" gorm:"size:20"`
	StoreProductID             *string       `json:"store_product_id" gorm:"size:100"`
	StoreTransactionID         *string       `json:"store_transaction_id" gorm:"size:200"`
	StoreOriginalTransactionID *string       `json:"store_original_transaction_id" gorm:"size:200;index"`
	StorePurchaseToken         *string       `json:"-" gorm:"type:text"`

	ExpiresAt   *time.Time `json:"expires_at" gorm:"index"` // nil only for free
	PurchasedAt *time.Time `json:"purchased_at"`
}

// TableName pins the table name
func (Subscription) TableName() string {
	return "user_subscriptions"
}

// DefaultSubscription is the row lazily created on first access
func DefaultSubscription(userID string) *Subscription {
	return &Subscription{
		UserID:        userID,
		PlanTier:      PlanFree,
		Status:        StatusActive,
		StorePlatform: PlatformNone,
	}
}

// Entitlement is the effective plan derived from a subscription at a point in time
type Entitlement struct {
	Tier     PlanTier
	IsActive bool
}

// IsActive reports whether the subscription grants its stored tier at now.
// Grace period counts as inactive.
func (s *Subscription) IsActive(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if s.PlanTier == PlanFree {
		return true
	}
	return s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// Effective returns the tier quota lookups must use
func (s *Subscription) Effective(now time.Time) Entitlement {
	if s.IsActive(now) {
		return Entitlement{Tier: s.PlanTier, IsActive: true}
	}
	return Entitlement{Tier: PlanFree, IsActive: false}
}

// Activation carries a verified store purchase to be applied to a subscription
type Activation struct {
	Tier                  PlanTier
	Platform              StorePlatform
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	PurchaseToken         string
	Environment           string
	ExpiresAt             time.Time
	PurchasedAt           *time.Time
}
