package natsfeed

import (
	"Go2NetSentry/internal/core/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "gons.features", Subject("gons.features", model.Pass))
	assert.Equal(t, "gons.features.rejected", Subject("gons.features", model.Reject(model.ReasonFlagAnomaly)))
}

func TestRecordStruct(t *testing.T) {
	dst := uint16(4444)
	ttl := uint8(128)
	rec := &model.FeatureRecord{
		Timestamp:     time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC),
		FlowID:        "flow-1",
		SrcIP:         "10.0.0.1",
		DstPort:       &dst,
		Protocol:      "TCP",
		Length:        60,
		TTL:           &ttl,
		TCP:           &model.TCPFields{SYN: true, Window: 64240},
		Entropy:       5.25,
		PacketsInFlow: 7,
	}

	st, err := RecordStruct(rec, model.Reject(model.ReasonSuspiciousPort))
	require.NoError(t, err)

	data, err := proto.Marshal(st)
	require.NoError(t, err)
	var decoded structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &decoded))

	m := decoded.AsMap()
	assert.Equal(t, "flow-1", m["flow_id"])
	assert.Equal(t, "2024-05-01T12:00:00.0000005Z", m["timestamp"])
	assert.Equal(t, 4444.0, m["dst_port"])
	assert.Equal(t, 128.0, m["ttl"])
	assert.Equal(t, 7.0, m["packets_in_flow"])
	assert.Equal(t, "suspicious_port", m["verdict"])
	_, hasSrcPort := m["src_port"]
	assert.False(t, hasSrcPort)

	tcp, ok := m["tcp"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, tcp["syn"])
	assert.Equal(t, 64240.0, tcp["window"])
}

func TestRecordStruct_NoTCP(t *testing.T) {
	st, err := RecordStruct(&model.FeatureRecord{Protocol: "UDP"}, model.Pass)
	require.NoError(t, err)
	_, ok := st.GetFields()["tcp"]
	assert.False(t, ok)
}
