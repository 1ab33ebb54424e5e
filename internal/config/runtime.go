// Package config loads scenario definitions and runtime settings for the
// allocation driver.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/capacity-allocator/model"
)

// DefaultRetryStep is the delay, in ticks, before a failed placement is
// retried.
const DefaultRetryStep model.Ticks = 10

// Runtime holds process-level settings read from the environment.
type Runtime struct {
	// DebugValidation runs the full timeline check after every Consume and
	// Cancel. Default: false
	DebugValidation bool

	// RetryStep is the delay before a failed placement is retried.
	// Default: DefaultRetryStep
	RetryStep model.Ticks
}

// RuntimeFromEnv reads ALLOC_DEBUG_VALIDATION and ALLOC_RETRY_STEP. Invalid
// values fall back to defaults.
func RuntimeFromEnv() Runtime {
	rt := Runtime{
		DebugValidation: strings.EqualFold(os.Getenv("ALLOC_DEBUG_VALIDATION"), "true"),
	}
	if raw := os.Getenv("ALLOC_RETRY_STEP"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			rt.RetryStep = model.Ticks(v)
		}
	}
	return rt.ApplyDefaults()
}

// ApplyDefaults replaces zero or invalid fields with their defaults.
func (r Runtime) ApplyDefaults() Runtime {
	if r.RetryStep <= 0 {
		r.RetryStep = DefaultRetryStep
	}
	return r
}
