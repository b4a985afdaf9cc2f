package pipeline

import (
	"Go2NetSentry/internal/metrics"
	"fmt"
	"time"
)

// Policy decides what happens to records the filter chain rejected.
type Policy string

const (
	// PolicyObserve forwards every record with its verdict.
	PolicyObserve Policy = "observe"
	// PolicyDrop counts and logs rejected records but keeps them from the sinks.
	PolicyDrop Policy = "drop"
)

// ParsePolicy validates a policy name. The empty string selects PolicyObserve.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyObserve:
		return PolicyObserve, nil
	case PolicyDrop:
		return PolicyDrop, nil
	default:
		return "", fmt.Errorf("unknown pipeline policy %q", s)
	}
}

// Verbosity controls how much the pipeline logs.
type Verbosity int

const (
	VerbosityNone Verbosity = iota
	VerbosityBasic
	VerbosityDetailed
)

// ParseVerbosity maps "none", "basic" and "detailed" to a Verbosity. The
// empty string selects VerbosityBasic.
func ParseVerbosity(s string) (Verbosity, error) {
	switch s {
	case "none":
		return VerbosityNone, nil
	case "", "basic":
		return VerbosityBasic, nil
	case "detailed":
		return VerbosityDetailed, nil
	default:
		return VerbosityNone, fmt.Errorf("unknown log verbosity %q", s)
	}
}

// Options tunes a Pipeline. The zero value observes, waits forever on sinks
// and logs nothing.
type Options struct {
	Policy      Policy
	SinkTimeout time.Duration
	// SinkQueueSize bounds the records waiting for each sink. Zero selects 64.
	SinkQueueSize int
	Verbosity     Verbosity
	// ProgressEvery logs a progress line every n packets at basic verbosity.
	ProgressEvery uint64
	Metrics       *metrics.Metrics
}
