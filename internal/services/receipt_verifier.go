package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/models"
)

// StorePurchase is what a store reports about one purchase
type StorePurchase struct {
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	PurchaseToken         string
	Environment           string
	ExpiresAt             time.Time
	PurchasedAt           *time.Time
	Revoked               bool
}

// StoreClient performs a single server-to-server lookup against one store.
// Failures are *VerificationError values, except credential or protocol errors
// which are returned as plain errors.
type StoreClient interface {
	Lookup(ctx context.Context, receiptData, productID string) (*StorePurchase, error)
}

// Receipt is a successful verification judgment
type Receipt struct {
	Platform models.StorePlatform
	Tier     models.PlanTier
	StorePurchase
}

// Activation converts the judgment into the state change it entitles
func (r *Receipt) Activation() models.Activation {
	return models.Activation{
		Tier:                  r.Tier,
		Platform:              r.Platform,
		ProductID:             r.ProductID,
		TransactionID:         r.TransactionID,
		OriginalTransactionID: r.OriginalTransactionID,
		PurchaseToken:         r.PurchaseToken,
		Environment:           r.Environment,
		ExpiresAt:             r.ExpiresAt,
		PurchasedAt:           r.PurchasedAt,
	}
}

// Verifier validates a receipt and resolves it to a plan tier. It never mutates local state.
type Verifier interface {
	Verify(ctx context.Context, platform models.StorePlatform, receiptData, productID string) (*Receipt, error)
}

// ProductCatalog maps store product ids to plan tiers
type ProductCatalog map[string]models.PlanTier

// NewProductCatalog builds the catalog of one store
func NewProductCatalog(studentProductID, unlimitedProductID string) ProductCatalog {
	catalog := ProductCatalog{}
	if studentProductID != "" {
		catalog[studentProductID] = models.PlanStudent
	}
	if unlimitedProductID != "" {
		catalog[unlimitedProductID] = models.PlanUnlimited
	}
	return catalog
}

// ReceiptVerifier dispatches verification to the store client selected by platform
type ReceiptVerifier struct {
	catalogs map[models.StorePlatform]ProductCatalog
	stores   map[models.StorePlatform]StoreClient
	now      func() time.Time
}

// NewReceiptVerifier creates a verifier. A platform without a store client fails verification.
func NewReceiptVerifier(catalogs map[models.StorePlatform]ProductCatalog, stores map[models.StorePlatform]StoreClient) *ReceiptVerifier {
	return &ReceiptVerifier{
		catalogs: catalogs,
		stores:   stores,
		now:      time.Now,
	}
}

// WithClock replaces the clock used for expiry checks
func (v *ReceiptVerifier) WithClock(now func() time.Time) *ReceiptVerifier {
	v.now = now
	return v
}

// TierFor returns the tier sold under productID on platform
func (v *ReceiptVerifier) TierFor(platform models.StorePlatform, productID string) (models.PlanTier, bool) {
	tier, ok := v.catalogs[platform][productID]
	return tier, ok
}

// Verify makes a single attempt; retrying StoreUnavailable is up to the caller.
func (v *ReceiptVerifier) Verify(ctx context.Context, platform models.StorePlatform, receiptData, productID string) (*Receipt, error) {
	tier, ok := v.TierFor(platform, productID)
	if !ok {
		return nil, &VerificationError{Kind: ErrUnknownProduct, Platform: platform, Message: fmt.Sprintf("product %q", productID)}
	}

	receiptData = strings.TrimSpace(receiptData)
	if receiptData == "" {
		return nil, invalidReceipt(platform, "empty receipt")
	}

	store := v.stores[platform]
	if store == nil {
		return nil, fmt.Errorf("%s store verification is not configured", platform)
	}

	purchase, err := store.Lookup(ctx, receiptData, productID)
	if err != nil {
		return nil, err
	}

	if purchase.ProductID != productID {
		return nil, invalidReceipt(platform, "receipt is for product %q, not %q", purchase.ProductID, productID)
	}
	if purchase.Revoked {
		return nil, invalidReceipt(platform, "purchase was revoked")
	}
	if !purchase.ExpiresAt.After(v.now()) {
		return nil, invalidReceipt(platform, "subscription expired at %s", purchase.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if purchase.TransactionID == "" {
		return nil, fmt.Errorf("%s store returned a purchase without transaction id", platform)
	}

	return &Receipt{Platform: platform, Tier: tier, StorePurchase: *purchase}, nil
}
