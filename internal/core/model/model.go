package model

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket/layers"
)

// FlowKey identifies a directional flow. A->B and B->A are distinct keys.
// The zero netip.Addr stands for an absent network layer.
type FlowKey struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8 // IP protocol number, 0 when the packet carried no IP layer
}

// String renders the key as "src:sport->dst:dport/proto".
func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d", addrString(k.SrcIP), k.SrcPort, addrString(k.DstIP), k.DstPort, k.Protocol)
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

// RawPacket is one captured frame as handed over by a capture source.
type RawPacket struct {
	Timestamp time.Time
	Data      []byte
	LinkType  layers.LinkType
	// WireLength is the original length on the wire; it may exceed len(Data) when the
	// capture was truncated by the snap length.
	WireLength int
}

// TCPFields holds the TCP header fields used as features. It is only
// present for packets that carried a decodable TCP header.
type TCPFields struct {
	SYN    bool   `json:"syn"`
	ACK    bool   `json:"ack"`
	FIN    bool   `json:"fin"`
	RST    bool   `json:"rst"`
	Window uint16 `json:"window"`
}

// AnyFlag reports whether at least one of SYN, ACK, FIN or RST is set.
func (f *TCPFields) AnyFlag() bool {
	return f.SYN || f.ACK || f.FIN || f.RST
}

// PacketInfo holds the header fields decoded from a single raw packet.
// Pointer fields are nil when the protocol they belong to was not present.
type PacketInfo struct {
	Timestamp time.Time
	Length    int

	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr

	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8
	// ProtocolName is empty for packets without an IP layer.
	ProtocolName string
	TTL          *uint8

	SrcPort *uint16
	DstPort *uint16
	TCP     *TCPFields

	// Payload is the transport payload, or nil when none was decoded.
	Payload []byte
	// Data is the full captured frame.
	Data []byte
}

// FlowKey derives the directional flow key for the packet. Missing layers
// contribute zero values so that undecodable packets still map to a stable key.
func (p *PacketInfo) FlowKey() FlowKey {
	k := FlowKey{
		SrcIP:    p.SrcIP,
		DstIP:    p.DstIP,
		Protocol: p.Protocol,
	}
	if p.SrcPort != nil {
		k.SrcPort = *p.SrcPort
	}
	if p.DstPort != nil {
		k.DstPort = *p.DstPort
	}
	return k
}

// FlowSnapshot is a read-only copy of a flow record.
type FlowSnapshot struct {
	ID           string        `json:"id"`
	Key          FlowKey       `json:"-"`
	FirstSeen    time.Time     `json:"first_seen"`
	LastSeen     time.Time     `json:"last_seen"`
	PacketCount  uint64        `json:"packet_count"`
	ByteCount    uint64        `json:"byte_count"`
	InterArrival time.Duration `json:"inter_arrival_ns"`
}

// Duration is the time between the first and the latest packet of the flow.
func (s FlowSnapshot) Duration() time.Duration {
	return s.LastSeen.Sub(s.FirstSeen)
}

// FeatureRecord describes one packet and its flow context. Records are
// created by the feature extractor and never modified afterwards; consumers
// must treat the pointer fields as read-only.
type FeatureRecord struct {
	Timestamp time.Time `json:"timestamp"`
	FlowID    string    `json:"flow_id"`

	SrcMAC   string  `json:"src_mac"`
	DstMAC   string  `json:"dst_mac"`
	SrcIP    string  `json:"src_ip"`
	DstIP    string  `json:"dst_ip"`
	SrcPort  *uint16 `json:"src_port,omitempty"`
	DstPort  *uint16 `json:"dst_port,omitempty"`
	Protocol string  `json:"protocol"`

	Length        int `json:"length"`
	PayloadLength int `json:"payload_length"`

	TTL *uint8     `json:"ttl,omitempty"`
	TCP *TCPFields `json:"tcp,omitempty"`

	Entropy        float64 `json:"entropy"`
	PacketsInFlow  uint64  `json:"packets_in_flow"`
	InterArrivalMs float64 `json:"inter_arrival_ms"`
	FlowDurationMs float64 `json:"flow_duration_ms"`
}

// Score is the classifier output for a single feature record.
type Score struct {
	Label string
	Score float64
}
