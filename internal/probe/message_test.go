package probe

import (
	"Go2NetSentry/internal/core/model"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMsg(t *testing.T) {
	raw := model.RawPacket{
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC),
		Data:       []byte{0xde, 0xad, 0xbe, 0xef},
		LinkType:   layers.LinkTypeRaw,
		WireLength: 1500,
	}

	msg := EncodeMsg("gons.packets.raw", raw)
	assert.Equal(t, "gons.packets.raw", msg.Subject)
	assert.Equal(t, raw.Data, msg.Data)

	got, err := DecodeMsg(msg)
	require.NoError(t, err)
	assert.True(t, raw.Timestamp.Equal(got.Timestamp), "timestamp keeps nanosecond precision")
	assert.Equal(t, raw.LinkType, got.LinkType)
	assert.Equal(t, 1500, got.WireLength)
	assert.Equal(t, raw.Data, got.Data)
}

func TestDecodeMsg_Defaults(t *testing.T) {
	msg := nats.NewMsg("s")
	msg.Data = []byte{1, 2, 3}
	msg.Header.Set(HeaderTimestamp, "2024-05-01T12:00:00Z")

	got, err := DecodeMsg(msg)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, got.LinkType)
	assert.Equal(t, 3, got.WireLength)
}

func TestDecodeMsg_Errors(t *testing.T) {
	cases := map[string]func(*nats.Msg){
		"missing timestamp": func(m *nats.Msg) {},
		"bad timestamp":     func(m *nats.Msg) { m.Header.Set(HeaderTimestamp, "yesterday") },
		"bad link type": func(m *nats.Msg) {
			m.Header.Set(HeaderTimestamp, "2024-05-01T12:00:00Z")
			m.Header.Set(HeaderLinkType, "ethernet")
		},
		"bad wire length": func(m *nats.Msg) {
			m.Header.Set(HeaderTimestamp, "2024-05-01T12:00:00Z")
			m.Header.Set(HeaderWireLength, "-x")
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			msg := nats.NewMsg("s")
			mutate(msg)
			_, err := DecodeMsg(msg)
			assert.Error(t, err)
		})
	}
}

func TestSubscriber_HandleMsg(t *testing.T) {
	s := newSubscriber(nil, "gons.packets.raw")
	out := make(chan model.RawPacket, 1)
	handle := s.handleMsg(func(raw model.RawPacket) { out <- raw })

	handle(EncodeMsg("gons.packets.raw", model.RawPacket{Timestamp: time.Unix(1700000000, 0), Data: []byte{1}}))
	handle(nats.NewMsg("gons.packets.raw"))

	received, invalid := s.Counts()
	assert.EqualValues(t, 1, received)
	assert.EqualValues(t, 1, invalid)
	assert.Len(t, out, 1)

	s.Close()
	handle(EncodeMsg("gons.packets.raw", model.RawPacket{Timestamp: time.Unix(1700000000, 0)}))
	received, _ = s.Counts()
	assert.EqualValues(t, 1, received, "no frame is delivered after Close")
}

func TestSubscriber_ForwardUnblocksOnClose(t *testing.T) {
	s := newSubscriber(nil, "s")
	out := make(chan model.RawPacket)
	handle := s.handleMsg(func(raw model.RawPacket) {
		select {
		case out <- raw:
		case <-s.quit:
		}
	})

	done := make(chan struct{})
	go func() {
		handle(EncodeMsg("s", model.RawPacket{Timestamp: time.Unix(1700000000, 0)}))
		close(done)
	}()

	require.Eventually(t, func() bool {
		received, _ := s.Counts()
		return received == 1
	}, time.Second, 5*time.Millisecond)
	s.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked on a full channel after Close")
	}
}
