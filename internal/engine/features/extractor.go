package features

import (
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/engine/entropy"
	"Go2NetSentry/internal/engine/flowtable"
	"Go2NetSentry/internal/engine/protocol"
	"fmt"
	"time"
)

// EntropyScope selects the bytes entropy is computed over.
type EntropyScope string

const (
	// ScopeFrame covers the full captured frame, headers included.
	ScopeFrame EntropyScope = "frame"
	// ScopePayload covers only the transport payload.
	ScopePayload EntropyScope = "payload"
)

// ParseEntropyScope validates a scope name. The empty string selects ScopeFrame.
func ParseEntropyScope(s string) (EntropyScope, error) {
	switch EntropyScope(s) {
	case "", ScopeFrame:
		return ScopeFrame, nil
	case ScopePayload:
		return ScopePayload, nil
	default:
		return "", fmt.Errorf("unknown entropy scope %q", s)
	}
}

// Extractor turns decoded packets into feature records, updating the flow
// table once per packet.
type Extractor struct {
	table *flowtable.Table
	scope EntropyScope
}

// NewExtractor creates an extractor bound to a flow table.
func NewExtractor(table *flowtable.Table, scope EntropyScope) *Extractor {
	if scope == "" {
		scope = ScopeFrame
	}
	return &Extractor{table: table, scope: scope}
}

// Extract builds the feature record for one decoded packet.
func (e *Extractor) Extract(info *model.PacketInfo) model.FeatureRecord {
	data := info.Data
	if e.scope == ScopePayload {
		data = info.Payload
	}

	flow := e.table.Observe(info.FlowKey(), info.Timestamp, info.Length)

	rec := model.FeatureRecord{
		Timestamp:      info.Timestamp,
		FlowID:         flow.ID,
		SrcMAC:         info.SrcMAC.String(),
		DstMAC:         info.DstMAC.String(),
		Protocol:       info.ProtocolName,
		SrcPort:        info.SrcPort,
		DstPort:        info.DstPort,
		Length:         info.Length,
		PayloadLength:  len(info.Payload),
		TTL:            info.TTL,
		Entropy:        entropy.Shannon(data),
		PacketsInFlow:  flow.PacketCount,
		InterArrivalMs: milliseconds(flow.InterArrival),
		FlowDurationMs: milliseconds(flow.Duration()),
	}
	if info.SrcIP.IsValid() {
		rec.SrcIP = info.SrcIP.String()
		rec.DstIP = info.DstIP.String()
	}
	if info.TCP != nil {
		tcp := *info.TCP
		rec.TCP = &tcp
	}
	return rec
}

// ExtractPacket decodes a raw packet and extracts its record. A decode error
// is returned alongside the record; the record is built from whatever fields
// decoded.
func (e *Extractor) ExtractPacket(raw model.RawPacket) (model.FeatureRecord, error) {
	info, err := protocol.ParsePacket(raw)
	return e.Extract(info), err
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
