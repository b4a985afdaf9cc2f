package persistent

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/synth"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrames(t *testing.T) []model.RawPacket {
	t.Helper()
	udp, err := synth.Frame{SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2"), SrcPort: 5000, DstPort: 53}.UDP()
	require.NoError(t, err)
	arp, err := synth.Frame{}.ARP()
	require.NoError(t, err)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []model.RawPacket{
		{Timestamp: start, Data: udp, LinkType: layers.LinkTypeEthernet, WireLength: len(udp)},
		{Timestamp: start.Add(time.Millisecond), Data: arp, LinkType: layers.LinkTypeEthernet, WireLength: len(arp)},
	}
}

func TestWorker_Pcap(t *testing.T) {
	cfg := config.PersistenceConfig{Path: t.TempDir(), Encoding: "pcap", ChannelBufferSize: 10}
	w, err := NewWorker(cfg, layers.LinkTypeEthernet)
	require.NoError(t, err)

	frames := testFrames(t)
	for _, raw := range frames {
		w.Enqueue(raw)
	}
	w.Stop()

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	for i, want := range frames {
		data, ci, err := r.ReadPacketData()
		require.NoError(t, err, "packet %d", i)
		assert.Equal(t, want.Data, data)
		assert.True(t, want.Timestamp.Equal(ci.Timestamp))
	}
	_, _, err = r.ReadPacketData()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWorker_Text(t *testing.T) {
	cfg := config.PersistenceConfig{Path: t.TempDir(), Encoding: "text"}
	w, err := NewWorker(cfg, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, raw := range testFrames(t) {
		w.Enqueue(raw)
	}
	w.Stop()

	content, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "10.0.0.1:5000 -> 10.0.0.2:53, Proto: UDP")
	assert.Contains(t, lines[1], "Proto: non-IP")
}

func TestWorker_UnknownEncoding(t *testing.T) {
	_, err := NewWorker(config.PersistenceConfig{Path: t.TempDir(), Encoding: "gob"}, layers.LinkTypeEthernet)
	assert.Error(t, err)
}
