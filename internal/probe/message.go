package probe

import (
	"Go2NetSentry/internal/core/model"
	"fmt"
	"strconv"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/nats-io/nats.go"
)

// Header names carried by every raw-frame message.
const (
	HeaderTimestamp  = "Capture-Timestamp"
	HeaderLinkType   = "Link-Type"
	HeaderWireLength = "Wire-Length"
)

// EncodeMsg wraps a raw packet in a NATS message. The frame bytes are the
// message body; capture metadata travels in headers.
func EncodeMsg(subject string, raw model.RawPacket) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = raw.Data
	msg.Header.Set(HeaderTimestamp, raw.Timestamp.UTC().Format(time.RFC3339Nano))
	msg.Header.Set(HeaderLinkType, strconv.Itoa(int(raw.LinkType)))
	msg.Header.Set(HeaderWireLength, strconv.Itoa(raw.WireLength))
	return msg
}

// DecodeMsg rebuilds a raw packet from a message produced by EncodeMsg.
// A missing link type means Ethernet and a missing wire length means the
// captured length.
func DecodeMsg(msg *nats.Msg) (model.RawPacket, error) {
	raw := model.RawPacket{
		Data:       msg.Data,
		LinkType:   layers.LinkTypeEthernet,
		WireLength: len(msg.Data),
	}

	ts := msg.Header.Get(HeaderTimestamp)
	if ts == "" {
		return raw, fmt.Errorf("message has no %s header", HeaderTimestamp)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return raw, fmt.Errorf("invalid %s header: %w", HeaderTimestamp, err)
	}
	raw.Timestamp = t

	if v := msg.Header.Get(HeaderLinkType); v != "" {
		lt, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return raw, fmt.Errorf("invalid %s header: %w", HeaderLinkType, err)
		}
		raw.LinkType = layers.LinkType(lt)
	}
	if v := msg.Header.Get(HeaderWireLength); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return raw, fmt.Errorf("invalid %s header: %w", HeaderWireLength, err)
		}
		raw.WireLength = n
	}
	return raw, nil
}
