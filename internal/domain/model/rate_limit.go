package model

import "time"

// Named limiters.
const (
	LimiterValidation   = "validation"
	LimiterUsage        = "usage"
	LimiterHelpRequest  = "help-request"
	LimiterRegeneration = "regeneration"
	LimiterLogin        = "login"
	LimiterGeneral      = "general"
)

// RateLimitPolicy configures one named limiter.
type RateLimitPolicy struct {
	Points        int           `yaml:"points"`
	Duration      time.Duration `yaml:"duration"`
	BlockDuration time.Duration `yaml:"block_duration"`
}

// DefaultRateLimitPolicies returns the stock policy table.
func DefaultRateLimitPolicies() map[string]RateLimitPolicy {
	return map[string]RateLimitPolicy{
		LimiterValidation:   {Points: 10, Duration: 15 * time.Minute, BlockDuration: 15 * time.Minute},
		LimiterUsage:        {Points: 5, Duration: time.Hour, BlockDuration: time.Hour},
		LimiterHelpRequest:  {Points: 3, Duration: time.Hour, BlockDuration: time.Hour},
		LimiterRegeneration: {Points: 3, Duration: 24 * time.Hour, BlockDuration: 24 * time.Hour},
		LimiterLogin:        {Points: 5, Duration: 15 * time.Minute, BlockDuration: 15 * time.Minute},
		LimiterGeneral:      {Points: 100, Duration: time.Minute, BlockDuration: time.Minute},
	}
}
