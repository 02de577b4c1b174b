package ratelimit

import (
	"testing"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want Rate
	}{
		{"10/minute", Rate{Limit: 10, Window: time.Minute}},
		{" 5 / second ", Rate{Limit: 5, Window: time.Second}},
		{"100/hour", Rate{Limit: 100, Window: time.Hour}},
		{"1000/day", Rate{Limit: 1000, Window: 24 * time.Hour}},
	}
	for _, tt := range tests {
		got, err := ParseRate(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "10", "ten/minute", "0/minute", "-1/minute", "10/fortnight"} {
		_, err := ParseRate(bad)
		assert.Error(t, err, bad)
	}
}

func TestRateString(t *testing.T) {
	assert.Equal(t, "10/minute", Rate{Limit: 10, Window: time.Minute}.String())
	assert.Equal(t, "3/day", Rate{Limit: 3, Window: 24 * time.Hour}.String())
	assert.Equal(t, "3/1m30s", Rate{Limit: 3, Window: 90 * time.Second}.String())
}

func TestRatesFallBackToDefault(t *testing.T) {
	rates := Rates{
		ClassDefault: {Limit: 60, Window: time.Minute},
		ClassAI:      {Limit: 10, Window: time.Minute},
	}
	assert.Equal(t, 10, rates.For(ClassAI).Limit)
	assert.Equal(t, 60, rates.For(ClassVerify).Limit)
}

func TestRatesFromConfig(t *testing.T) {
	cfg := &config.Config{
		RateLimitDefault: "60/minute",
		RateLimitAuth:    "10/minute",
		RateLimitAI:      "20/hour",
		RateLimitVerify:  "5/minute",
	}
	rates, err := RatesFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, Rate{Limit: 20, Window: time.Hour}, rates.For(ClassAI))
	assert.Len(t, rates, 4)

	cfg.RateLimitVerify = "often"
	_, err = RatesFromConfig(cfg)
	assert.Error(t, err)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(-time.Second))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1100*time.Millisecond))
	assert.Equal(t, 60, retryAfterSeconds(time.Minute))
}
