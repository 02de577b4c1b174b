package services

import (
	"context"
	"fmt"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/metrics"
	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"
)

// EntitlementSource yields the effective plan of a user without writing
type EntitlementSource interface {
	Effective(ctx context.Context, userID string) (models.Entitlement, error)
}

// UsageLedger holds per-day usage counters with an atomic consume
type UsageLedger interface {
	Get(ctx context.Context, userID, date string) (*models.DailyUsage, error)
	TryConsume(ctx context.Context, userID, date string, kind models.ActionKind, limit int) (bool, int, error)
}

// Decision is the outcome of an admission attempt. A rejection is a normal value, not an error.
type Decision struct {
	Admitted bool
	Kind     models.ActionKind
	Tier     models.PlanTier
	Used     int
	Limit    int
}

// Message is the user-facing explanation of a quota rejection
func (d Decision) Message() string {
	return fmt.Sprintf("Daily %s limit reached (%d/%d). Upgrade your plan for more.", d.Kind, d.Used, d.Limit)
}

// UsageReport is today's usage of every metered action
type UsageReport struct {
	UsageDate            string
	Tier                 models.PlanTier
	SessionsUsed         int
	SessionsLimit        int
	SessionsRemaining    int
	GenerationsUsed      int
	GenerationsLimit     int
	GenerationsRemaining int
}

// AdmissionController decides whether a user may perform a metered action now
// and charges the quota when it says yes. Charges are never refunded.
type AdmissionController struct {
	entitlements EntitlementSource
	ledger       UsageLedger
	now          func() time.Time
}

// NewAdmissionController creates a new admission controller
func NewAdmissionController(entitlements EntitlementSource, ledger UsageLedger) *AdmissionController {
	return &AdmissionController{
		entitlements: entitlements,
		ledger:       ledger,
		now:          time.Now,
	}
}

// WithClock replaces the clock that selects the usage day
func (a *AdmissionController) WithClock(now func() time.Time) *AdmissionController {
	a.now = now
	return a
}

// TryAdmit consumes one unit of kind for userID if today's quota allows it
func (a *AdmissionController) TryAdmit(ctx context.Context, userID string, kind models.ActionKind) (Decision, error) {
	if !kind.Valid() {
		return Decision{}, fmt.Errorf("unknown action kind %q", kind)
	}

	ent, err := a.entitlements.Effective(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve entitlement: %w", err)
	}

	limit := models.LimitFor(ent.Tier, kind)
	date := models.UsageDate(a.now())

	granted, used, err := a.ledger.TryConsume(ctx, userID, date, kind, limit)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{Admitted: granted, Kind: kind, Tier: ent.Tier, Used: used, Limit: limit}
	if granted {
		metrics.AdmissionsTotal.WithLabelValues(string(kind), "admitted").Inc()
	} else {
		metrics.AdmissionsTotal.WithLabelValues(string(kind), "quota_exceeded").Inc()
		logging.Debugf("Quota exceeded - user_id: %s, kind: %s, used: %d, limit: %d", userID, kind, used, limit)
	}
	return decision, nil
}

// Remaining reports today's used, limit and remaining counts for kind
func (a *AdmissionController) Remaining(ctx context.Context, userID string, kind models.ActionKind) (int, int, int, error) {
	report, err := a.Usage(ctx, userID)
	if err != nil {
		return 0, 0, 0, err
	}
	switch kind {
	case models.ActionSession:
		return report.SessionsUsed, report.SessionsLimit, report.SessionsRemaining, nil
	case models.ActionGeneration:
		return report.GenerationsUsed, report.GenerationsLimit, report.GenerationsRemaining, nil
	}
	return 0, 0, 0, fmt.Errorf("unknown action kind %q", kind)
}

// Usage is a read-only snapshot of today's usage under the current effective tier
func (a *AdmissionController) Usage(ctx context.Context, userID string) (*UsageReport, error) {
	ent, err := a.entitlements.Effective(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve entitlement: %w", err)
	}

	date := models.UsageDate(a.now())
	usage, err := a.ledger.Get(ctx, userID, date)
	if err != nil {
		return nil, err
	}

	limits := models.LimitsFor(ent.Tier)
	return &UsageReport{
		UsageDate:            date,
		Tier:                 ent.Tier,
		SessionsUsed:         usage.SessionsUsed,
		SessionsLimit:        limits.Sessions,
		SessionsRemaining:    remaining(usage.SessionsUsed, limits.Sessions),
		GenerationsUsed:      usage.GenerationsUsed,
		GenerationsLimit:     limits.Generations,
		GenerationsRemaining: remaining(usage.GenerationsUsed, limits.Generations),
	}, nil
}

func remaining(used, limit int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
