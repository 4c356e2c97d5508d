// Package config provides governor configuration - NO infrastructure URLs.
//
// This module contains ONLY configuration relevant to the decision loop:
//   - Attempt and cascade limits
//   - Breaker tuning
//   - Backoff/temperature policy
//
// Infrastructure configuration (store paths, tracing endpoints) belongs to the
// process bootstrap, not here.
package config

import (
	"fmt"

	"github.com/jeeves-cluster-organization/repairkernel/repairengine/typeutil"
)

// TemperaturePolicy maps an attempt index to a backoff temperature multiplier.
// The curve is linear from Min to Max over RampAttempts attempts and clamps at
// Max afterwards, so later retries always wait at least as long as earlier
// ones.
type TemperaturePolicy struct {
	Min          float64 `json:"min" yaml:"min"`
	Max          float64 `json:"max" yaml:"max"`
	RampAttempts int     `json:"ramp_attempts" yaml:"ramp_attempts"`
}

// Scale returns the temperature for a 1-based attempt index.
func (p TemperaturePolicy) Scale(attemptIndex int) float64 {
	if attemptIndex < 1 {
		attemptIndex = 1
	}
	if p.RampAttempts <= 1 || attemptIndex >= p.RampAttempts {
		return p.Max
	}
	span := p.Max - p.Min
	progress := float64(attemptIndex-1) / float64(p.RampAttempts-1)
	return p.Min + span*progress
}

// GovernorConfig holds decision-loop configuration.
type GovernorConfig struct {
	// Attempt Limits
	MaxAttempts     int `json:"max_attempts" yaml:"max_attempts"`
	MaxCascadeDepth int `json:"max_cascade_depth" yaml:"max_cascade_depth"`

	// Confidence
	PromoteThreshold float64 `json:"promote_threshold" yaml:"promote_threshold"`
	SmoothingStep    float64 `json:"smoothing_step" yaml:"smoothing_step"`

	// Breaker Tuning
	ErrorRateBudget   float64 `json:"error_rate_budget" yaml:"error_rate_budget"`
	MaxFailureStreak  int     `json:"max_failure_streak" yaml:"max_failure_streak"`
	ProbeAfterBlocked int     `json:"probe_after_blocked" yaml:"probe_after_blocked"`

	// Timeouts (seconds)
	ProducerTimeout int `json:"producer_timeout" yaml:"producer_timeout"`

	// Backoff
	RetryBaseIntervalMS int               `json:"retry_base_interval_ms" yaml:"retry_base_interval_ms"`
	RetryMaxIntervalMS  int               `json:"retry_max_interval_ms" yaml:"retry_max_interval_ms"`
	Temperature         TemperaturePolicy `json:"temperature" yaml:"temperature"`

	// Logging
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultGovernorConfig returns a GovernorConfig with default values.
func DefaultGovernorConfig() *GovernorConfig {
	return &GovernorConfig{
		// Attempt Limits
		MaxAttempts:     10,
		MaxCascadeDepth: 10,

		// Confidence
		PromoteThreshold: 0.9,
		SmoothingStep:    0.25,

		// Breaker Tuning
		ErrorRateBudget:   1.5,
		MaxFailureStreak:  5,
		ProbeAfterBlocked: 1,

		// Timeouts (seconds)
		ProducerTimeout: 120,

		// Backoff
		RetryBaseIntervalMS: 250,
		RetryMaxIntervalMS:  5000,
		Temperature: TemperaturePolicy{
			Min:          0.4,
			Max:          1.15,
			RampAttempts: 6,
		},

		// Logging
		LogLevel: "INFO",
	}
}

// GovernorConfigFromMap creates GovernorConfig from a map.
// Unknown keys are ignored.
func GovernorConfigFromMap(m map[string]any) *GovernorConfig {
	c := DefaultGovernorConfig()

	c.MaxAttempts = typeutil.SafeIntDefault(m["max_attempts"], c.MaxAttempts)
	c.MaxCascadeDepth = typeutil.SafeIntDefault(m["max_cascade_depth"], c.MaxCascadeDepth)
	c.PromoteThreshold = typeutil.SafeFloat64Default(m["promote_threshold"], c.PromoteThreshold)
	c.SmoothingStep = typeutil.SafeFloat64Default(m["smoothing_step"], c.SmoothingStep)
	c.ErrorRateBudget = typeutil.SafeFloat64Default(m["error_rate_budget"], c.ErrorRateBudget)
	c.MaxFailureStreak = typeutil.SafeIntDefault(m["max_failure_streak"], c.MaxFailureStreak)
	c.ProbeAfterBlocked = typeutil.SafeIntDefault(m["probe_after_blocked"], c.ProbeAfterBlocked)
	c.ProducerTimeout = typeutil.SafeIntDefault(m["producer_timeout"], c.ProducerTimeout)
	c.RetryBaseIntervalMS = typeutil.SafeIntDefault(m["retry_base_interval_ms"], c.RetryBaseIntervalMS)
	c.RetryMaxIntervalMS = typeutil.SafeIntDefault(m["retry_max_interval_ms"], c.RetryMaxIntervalMS)
	c.LogLevel = typeutil.SafeStringDefault(m["log_level"], c.LogLevel)

	if temp, ok := typeutil.SafeMapStringAny(m["temperature"]); ok {
		c.Temperature.Min = typeutil.SafeFloat64Default(temp["min"], c.Temperature.Min)
		c.Temperature.Max = typeutil.SafeFloat64Default(temp["max"], c.Temperature.Max)
		c.Temperature.RampAttempts = typeutil.SafeIntDefault(temp["ramp_attempts"], c.Temperature.RampAttempts)
	}

	return c
}

// ToMap converts config to a map.
func (c *GovernorConfig) ToMap() map[string]any {
	return map[string]any{
		"max_attempts":           c.MaxAttempts,
		"max_cascade_depth":      c.MaxCascadeDepth,
		"promote_threshold":      c.PromoteThreshold,
		"smoothing_step":         c.SmoothingStep,
		"error_rate_budget":      c.ErrorRateBudget,
		"max_failure_streak":     c.MaxFailureStreak,
		"probe_after_blocked":    c.ProbeAfterBlocked,
		"producer_timeout":       c.ProducerTimeout,
		"retry_base_interval_ms": c.RetryBaseIntervalMS,
		"retry_max_interval_ms":  c.RetryMaxIntervalMS,
		"temperature": map[string]any{
			"min":           c.Temperature.Min,
			"max":           c.Temperature.Max,
			"ramp_attempts": c.Temperature.RampAttempts,
		},
		"log_level": c.LogLevel,
	}
}

// Validate rejects configurations the decision loop cannot run safely with.
func (c *GovernorConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.MaxCascadeDepth < 1 {
		return fmt.Errorf("max_cascade_depth must be >= 1, got %d", c.MaxCascadeDepth)
	}
	if c.PromoteThreshold < 0 || c.PromoteThreshold > 1 {
		return fmt.Errorf("promote_threshold must be in [0,1], got %v", c.PromoteThreshold)
	}
	if c.SmoothingStep <= 0 || c.SmoothingStep > 1 {
		return fmt.Errorf("smoothing_step must be in (0,1], got %v", c.SmoothingStep)
	}
	if c.ErrorRateBudget <= 0 {
		return fmt.Errorf("error_rate_budget must be > 0, got %v", c.ErrorRateBudget)
	}
	if c.MaxFailureStreak < 1 {
		return fmt.Errorf("max_failure_streak must be >= 1, got %d", c.MaxFailureStreak)
	}
	if c.ProducerTimeout < 1 {
		return fmt.Errorf("producer_timeout must be >= 1 second, got %d", c.ProducerTimeout)
	}
	if c.RetryBaseIntervalMS < 0 || c.RetryMaxIntervalMS < c.RetryBaseIntervalMS {
		return fmt.Errorf("retry intervals invalid: base=%dms max=%dms", c.RetryBaseIntervalMS, c.RetryMaxIntervalMS)
	}
	if c.Temperature.Min <= 0 || c.Temperature.Max < c.Temperature.Min {
		return fmt.Errorf("temperature policy invalid: min=%v max=%v", c.Temperature.Min, c.Temperature.Max)
	}
	return nil
}
