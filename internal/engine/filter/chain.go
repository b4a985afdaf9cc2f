package filter

import (
	"Go2NetSentry/internal/core/model"
	"fmt"
)

// Config holds the thresholds of the filter chain.
type Config struct {
	MaxPayloadSize  int
	MinEntropy      float64
	MaxEntropy      float64
	SuspiciousPorts PortSet
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	ports, _ := ParsePorts(DefaultSuspiciousPorts)
	return Config{
		MaxPayloadSize:  2000,
		MinEntropy:      0.5,
		MaxEntropy:      8.0,
		SuspiciousPorts: ports,
	}
}

// Validate checks that the thresholds are consistent.
func (c Config) Validate() error {
	if c.MaxPayloadSize < 0 {
		return fmt.Errorf("max payload size must not be negative, got %d", c.MaxPayloadSize)
	}
	if c.MinEntropy > c.MaxEntropy {
		return fmt.Errorf("min entropy %.2f is above max entropy %.2f", c.MinEntropy, c.MaxEntropy)
	}
	return nil
}

// PayloadSizeExceeded rejects packets whose total length is above the limit.
func PayloadSizeExceeded(rec *model.FeatureRecord, cfg Config) bool {
	return rec.Length > cfg.MaxPayloadSize
}

// SuspiciousPort rejects packets sent to a port in the configured set.
func SuspiciousPort(rec *model.FeatureRecord, cfg Config) bool {
	return rec.DstPort != nil && cfg.SuspiciousPorts.Contains(*rec.DstPort)
}

// EntropyOutOfRange rejects packets whose entropy is outside [min, max].
func EntropyOutOfRange(rec *model.FeatureRecord, cfg Config) bool {
	return rec.Entropy < cfg.MinEntropy || rec.Entropy > cfg.MaxEntropy
}

// FlagAnomaly rejects TCP packets with none of SYN, ACK, FIN or RST set.
// A TCP packet whose header did not decode counts as an anomaly as well.
func FlagAnomaly(rec *model.FeatureRecord, _ Config) bool {
	if rec.Protocol != "TCP" {
		return false
	}
	return rec.TCP == nil || !rec.TCP.AnyFlag()
}

// Predicate reports whether a record should be rejected.
type Predicate func(rec *model.FeatureRecord, cfg Config) bool

type stage struct {
	reason model.Reason
	check  Predicate
}

var stages = []stage{
	{model.ReasonPayloadSizeExceeded, PayloadSizeExceeded},
	{model.ReasonSuspiciousPort, SuspiciousPort},
	{model.ReasonEntropyOutOfRange, EntropyOutOfRange},
	{model.ReasonFlagAnomaly, FlagAnomaly},
}

// Chain evaluates the predicates in a fixed order. The first predicate that
// rejects decides the verdict.
type Chain struct {
	cfg Config
}

// NewChain creates a filter chain.
func NewChain(cfg Config) *Chain {
	return &Chain{cfg: cfg}
}

// Config returns the thresholds the chain was built with.
func (c *Chain) Config() Config {
	return c.cfg
}

// Evaluate returns the verdict for a record.
func (c *Chain) Evaluate(rec *model.FeatureRecord) model.Verdict {
	for _, s := range stages {
		if s.check(rec, c.cfg) {
			return model.Reject(s.reason)
		}
	}
	return model.Pass
}
