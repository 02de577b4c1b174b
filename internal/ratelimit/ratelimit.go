// Package ratelimit throttles request volume per client address and endpoint class.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/config"
)

// Class groups endpoints sharing one limit
type Class string

const (
	ClassDefault Class = "default"
	ClassAuth    Class = "auth"
	ClassAI      Class = "ai"
	ClassVerify  Class = "verify"
)

// Rate is a request budget per window
type Rate struct {
	Limit  int
	Window time.Duration
}

func (r Rate) String() string {
	switch r.Window {
	case time.Second:
		return fmt.Sprintf("%d/second", r.Limit)
	case time.Minute:
		return fmt.Sprintf("%d/minute", r.Limit)
	case time.Hour:
		return fmt.Sprintf("%d/hour", r.Limit)
	case 24 * time.Hour:
		return fmt.Sprintf("%d/day", r.Limit)
	}
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

// ParseRate reads rates like "10/minute"
func ParseRate(s string) (Rate, error) {
	limit, window, err := config.ParseRate(s)
	if err != nil {
		return Rate{}, err
	}
	return Rate{Limit: limit, Window: window}, nil
}

// Rates holds the rate of each class
type Rates map[Class]Rate

// For returns the rate of class, falling back to the default class
func (r Rates) For(class Class) Rate {
	if rate, ok := r[class]; ok {
		return rate
	}
	return r[ClassDefault]
}

// RatesFromConfig parses the configured per-class rates
func RatesFromConfig(cfg *config.Config) (Rates, error) {
	rates := Rates{}
	for class, value := range map[Class]string{
		ClassDefault: cfg.RateLimitDefault,
		ClassAuth:    cfg.RateLimitAuth,
		ClassAI:      cfg.RateLimitAI,
		ClassVerify:  cfg.RateLimitVerify,
	} {
		rate, err := ParseRate(value)
		if err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", class, err)
		}
		rates[class] = rate
	}
	return rates, nil
}

// Decision is the outcome of one rate check. Rejection is a normal value, not an error.
type Decision struct {
	Permitted  bool
	Limit      int
	Remaining  int
	RetryAfter int // seconds, set when not permitted
}

// Limiter decides whether a request from address to class may proceed.
// An error means the limiter itself failed, not that the request was rejected.
type Limiter interface {
	Allow(ctx context.Context, address string, class Class) (Decision, error)
}

// retryAfterSeconds rounds a wait up to whole seconds, never below one
func retryAfterSeconds(wait time.Duration) int {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
