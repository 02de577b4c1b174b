package models

// PlanTier is a named subscription level
type PlanTier string

const (
	PlanFree      PlanTier = "free"
	PlanStudent   PlanTier = "student"
	PlanUnlimited PlanTier = "unlimited"
)

// Valid reports whether t is a known tier
func (t PlanTier) Valid() bool {
	switch t {
	case PlanFree, PlanStudent, PlanUnlimited:
		return true
	}
	return false
}

// IsPaid reports whether the tier comes from a store purchase
func (t PlanTier) IsPaid() bool {
	return t == PlanStudent || t == PlanUnlimited
}

// ActionKind is a metered action with its own daily counter
type ActionKind string

const (
	ActionSession    ActionKind = "session"
	ActionGeneration ActionKind = "generation"
)

// Column returns the daily_usage column that counts this kind
func (k ActionKind) Column() string {
	switch k {
	case ActionSession:
		return "sessions_used"
	case ActionGeneration:
		return "generations_used"
	}
	return ""
}

// Valid reports whether k is a known action kind
func (k ActionKind) Valid() bool {
	return k.Column() != ""
}

// PlanLimits holds the daily limits of one tier
type PlanLimits struct {
	Sessions    int
	Generations int
}

var planLimits = map[PlanTier]PlanLimits{
	PlanFree:      {Sessions: 1, Generations: 1},
	PlanStudent:   {Sessions: 10, Generations: 10},
	PlanUnlimited: {Sessions: 50, Generations: 50},
}

// LimitsFor returns the daily limits for a tier. Unknown tiers get Free limits.
func LimitsFor(tier PlanTier) PlanLimits {
	if limits, ok := planLimits[tier]; ok {
		return limits
	}
	return planLimits[PlanFree]
}

// LimitFor returns the daily limit of kind under tier
func LimitFor(tier PlanTier, kind ActionKind) int {
	limits := LimitsFor(tier)
	switch kind {
	case ActionSession:
		return limits.Sessions
	case ActionGeneration:
		return limits.Generations
	}
	return 0
}
