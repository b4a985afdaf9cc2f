package filter

import (
	"Go2NetSentry/internal/core/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func port(p uint16) *uint16 { return &p }

func tcpRecord(dst uint16, flags model.TCPFields) *model.FeatureRecord {
	return &model.FeatureRecord{
		Protocol: "TCP",
		SrcPort:  port(50000),
		DstPort:  port(dst),
		Length:   60,
		TCP:      &flags,
		Entropy:  4.2,
	}
}

func TestEvaluate_SuspiciousPortScenario(t *testing.T) {
	chain := NewChain(DefaultConfig())

	bad := chain.Evaluate(tcpRecord(4444, model.TCPFields{SYN: true}))
	assert.Equal(t, model.Reject(model.ReasonSuspiciousPort), bad)

	good := chain.Evaluate(tcpRecord(80, model.TCPFields{SYN: true}))
	assert.Equal(t, model.Pass, good)
	assert.False(t, good.Rejected())
}

func TestEvaluate_FlagAnomaly(t *testing.T) {
	chain := NewChain(DefaultConfig())

	assert.Equal(t, model.ReasonFlagAnomaly, chain.Evaluate(tcpRecord(80, model.TCPFields{})).Reason)

	truncated := tcpRecord(80, model.TCPFields{})
	truncated.TCP = nil
	truncated.DstPort = nil
	assert.Equal(t, model.ReasonFlagAnomaly, chain.Evaluate(truncated).Reason)

	udp := &model.FeatureRecord{Protocol: "UDP", DstPort: port(53), Length: 80, Entropy: 3}
	assert.Equal(t, model.Pass, chain.Evaluate(udp))
}

func TestEvaluate_ShortCircuitOrder(t *testing.T) {
	chain := NewChain(DefaultConfig())

	rec := tcpRecord(4444, model.TCPFields{})
	rec.Length = 2001
	rec.Entropy = 0.1
	assert.Equal(t, model.ReasonPayloadSizeExceeded, chain.Evaluate(rec).Reason)

	rec.Length = 2000
	assert.Equal(t, model.ReasonSuspiciousPort, chain.Evaluate(rec).Reason)

	rec.DstPort = port(80)
	assert.Equal(t, model.ReasonEntropyOutOfRange, chain.Evaluate(rec).Reason)

	rec.Entropy = 1
	assert.Equal(t, model.ReasonFlagAnomaly, chain.Evaluate(rec).Reason)
}

func TestPredicates(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name string
		rec  model.FeatureRecord
		pred Predicate
		want bool
	}{
		{"payload at limit", model.FeatureRecord{Length: 2000}, PayloadSizeExceeded, false},
		{"payload over limit", model.FeatureRecord{Length: 2001}, PayloadSizeExceeded, true},
		{"port absent", model.FeatureRecord{}, SuspiciousPort, false},
		{"port in range", model.FeatureRecord{DstPort: port(138)}, SuspiciousPort, true},
		{"source port ignored", model.FeatureRecord{SrcPort: port(4444), DstPort: port(443)}, SuspiciousPort, false},
		{"entropy at min", model.FeatureRecord{Entropy: 0.5}, EntropyOutOfRange, false},
		{"entropy below min", model.FeatureRecord{Entropy: 0.49}, EntropyOutOfRange, true},
		{"entropy at max", model.FeatureRecord{Entropy: 8}, EntropyOutOfRange, false},
		{"rst only", model.FeatureRecord{Protocol: "TCP", TCP: &model.TCPFields{RST: true}}, FlagAnomaly, false},
		{"non tcp", model.FeatureRecord{Protocol: "ICMPv4"}, FlagAnomaly, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred(&tt.rec, cfg))
		})
	}
}

func TestParsePorts(t *testing.T) {
	set, err := ParsePorts([]string{"22", " 137-139 ", "", "65535"})
	require.NoError(t, err)
	assert.Len(t, set, 5)
	for _, p := range []uint16{22, 137, 138, 139, 65535} {
		assert.True(t, set.Contains(p), "port %d", p)
	}
	assert.False(t, set.Contains(140))

	for _, bad := range []string{"abc", "70000", "139-137", "10-x"} {
		_, err := ParsePorts([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2000, cfg.MaxPayloadSize)
	assert.Len(t, cfg.SuspiciousPorts, 20)

	cfg.MinEntropy = 9
	assert.Error(t, cfg.Validate())
}
