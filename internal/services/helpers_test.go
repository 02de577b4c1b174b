package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/database"
	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/internal/testutil"

	"gorm.io/gorm"
)

// fakeVerifier fails with errs in order, then returns receipt
type fakeVerifier struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	receipt *Receipt
}

func (f *fakeVerifier) Verify(_ context.Context, platform models.StorePlatform, receiptData, productID string) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	r := *f.receipt
	return &r, nil
}

func (f *fakeVerifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func studentReceipt(transactionID string, expiresAt time.Time) *Receipt {
	return &Receipt{
		Platform: models.PlatformApple,
		Tier:     models.PlanStudent,
		StorePurchase: StorePurchase{
			ProductID:             "com.knowit.student",
			TransactionID:         transactionID,
			OriginalTransactionID: "1000",
			Environment:           "sandbox",
			ExpiresAt:             expiresAt,
		},
	}
}

type testEnv struct {
	db            *gorm.DB
	clock         *testutil.Clock
	verifier      *fakeVerifier
	subscriptions *SubscriptionService
	admission     *AdmissionController
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()

	db := testutil.SQLiteTest(t)
	clock := testutil.NewClock(now)
	verifier := &fakeVerifier{receipt: studentReceipt("2000", now.Add(30*24*time.Hour))}

	subscriptions := NewSubscriptionService(
		database.NewSubscriptionRepository(db),
		verifier,
		RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond},
	).WithClock(clock.Now)
	admission := NewAdmissionController(subscriptions, database.NewUsageRepository(db)).WithClock(clock.Now)

	return &testEnv{
		db:            db,
		clock:         clock,
		verifier:      verifier,
		subscriptions: subscriptions,
		admission:     admission,
	}
}
