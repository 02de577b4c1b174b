package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestFreeTierAdmitsOneSessionPerDay(t *testing.T) {
	env := newTestEnv(t, day)
	ctx := context.Background()

	decision, err := env.admission.TryAdmit(ctx, "u1", models.ActionSession)
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
	assert.Equal(t, models.PlanFree, decision.Tier)

	report, err := env.admission.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", report.UsageDate)
	assert.Equal(t, 1, report.SessionsUsed)
	assert.Equal(t, 1, report.SessionsLimit)
	assert.Equal(t, 0, report.SessionsRemaining)
	assert.Equal(t, 1, report.GenerationsRemaining)

	decision, err = env.admission.TryAdmit(ctx, "u1", models.ActionSession)
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, 1, decision.Used)
	assert.Equal(t, 1, decision.Limit)
	assert.Equal(t, "Daily session limit reached (1/1). Upgrade your plan for more.", decision.Message())
}

func TestQuotaResetsOnNextUTCDay(t *testing.T) {
	env := newTestEnv(t, time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC))
	ctx := context.Background()

	decision, err := env.admission.TryAdmit(ctx, "u1", models.ActionSession)
	require.NoError(t, err)
	require.True(t, decision.Admitted)

	env.clock.Advance(2 * time.Minute)

	used, limit, remaining, err := env.admission.Remaining(ctx, "u1", models.ActionSession)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
	assert.Equal(t, 1, limit)
	assert.Equal(t, 1, remaining)

	decision, err = env.admission.TryAdmit(ctx, "u1", models.ActionSession)
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
}

func TestConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	env := newTestEnv(t, day)
	ctx := context.Background()

	_, _, err := env.subscriptions.VerifyAndActivate(ctx, "u1", models.PlatformApple, "2000", "com.knowit.student")
	require.NoError(t, err)

	const requests = 25
	var admitted, rejected int64
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := env.admission.TryAdmit(ctx, "u1", models.ActionGeneration)
			if !assert.NoError(t, err) {
				return
			}
			if decision.Admitted {
				atomic.AddInt64(&admitted, 1)
			} else {
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted)
	assert.Equal(t, int64(requests-10), rejected)
}

func TestExpiredPaidPlanUsesFreeLimits(t *testing.T) {
	env := newTestEnv(t, day)
	ctx := context.Background()

	_, err := env.subscriptions.Activate(ctx, "u1", studentReceipt("2100", day.Add(time.Hour)).Activation())
	require.NoError(t, err)

	ent, err := env.subscriptions.Effective(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanStudent, ent.Tier)

	env.clock.Advance(2 * time.Hour)

	ent, err = env.subscriptions.Effective(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, ent.Tier)
	assert.False(t, ent.IsActive)

	decision, err := env.admission.TryAdmit(ctx, "u1", models.ActionSession)
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
	assert.Equal(t, 1, decision.Limit)

	decision, err = env.admission.TryAdmit(ctx, "u1", models.ActionSession)
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
}

func TestGracePeriodUsesFreeLimits(t *testing.T) {
	env := newTestEnv(t, day)
	ctx := context.Background()

	_, err := env.subscriptions.Activate(ctx, "u1", studentReceipt("2200", day.Add(24*time.Hour)).Activation())
	require.NoError(t, err)
	_, err = env.subscriptions.MarkGracePeriod(ctx, "u1")
	require.NoError(t, err)

	report, err := env.admission.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, report.Tier)
	assert.Equal(t, 1, report.SessionsLimit)
}

func TestEffectiveDoesNotCreateRows(t *testing.T) {
	env := newTestEnv(t, day)

	ent, err := env.subscriptions.Effective(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, ent.Tier)
	assert.True(t, ent.IsActive)

	var count int64
	require.NoError(t, env.db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTryAdmitRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t, day)

	_, err := env.admission.TryAdmit(context.Background(), "u1", models.ActionKind("upload"))
	assert.Error(t, err)
}
