package pcap

import (
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/synth"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func writeTestPcap(t *testing.T, frames [][]byte, start time.Time) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create pcap: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * 10 * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("Failed to write packet: %v", err)
		}
	}
	return path
}

func TestReader_ReadPackets(t *testing.T) {
	tcp, err := synth.Frame{SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2"), SrcPort: 1, DstPort: 2}.TCP()
	if err != nil {
		t.Fatal(err)
	}
	arp, err := synth.Frame{}.ARP()
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	path := writeTestPcap(t, [][]byte{tcp, arp, tcp}, start)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()
	if reader.LinkType() != layers.LinkTypeEthernet {
		t.Errorf("Unexpected link type %s", reader.LinkType())
	}

	out := make(chan model.RawPacket, 10)
	count, err := reader.ReadPackets(context.Background(), out)
	if err != nil {
		t.Fatalf("ReadPackets failed: %v", err)
	}
	close(out)

	// Non-IP packets are delivered too.
	if count != 3 {
		t.Fatalf("Expected to read 3 packets, but got %d", count)
	}
	i := 0
	for raw := range out {
		if !raw.Timestamp.Equal(start.Add(time.Duration(i) * 10 * time.Millisecond)) {
			t.Errorf("Packet %d: unexpected timestamp %s", i, raw.Timestamp)
		}
		if raw.WireLength != len(raw.Data) || raw.LinkType != layers.LinkTypeEthernet {
			t.Errorf("Packet %d: unexpected metadata %+v", i, raw)
		}
		i++
	}
}

func TestReader_Cancelled(t *testing.T) {
	tcp, err := synth.Frame{SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2")}.UDP()
	if err != nil {
		t.Fatal(err)
	}
	reader, err := NewReader(writeTestPcap(t, [][]byte{tcp, tcp}, time.Now()))
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	count, err := reader.ReadPackets(ctx, make(chan model.RawPacket))
	if err == nil || count != 0 {
		t.Errorf("Expected cancellation before any packet, got %d packets, err %v", count, err)
	}
}

func TestNewReader_Errors(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.pcap")); err == nil {
		t.Error("Expected error for a missing file")
	}
	bogus := filepath.Join(t.TempDir(), "bogus.pcap")
	os.WriteFile(bogus, []byte("not a capture file"), 0644)
	if _, err := NewReader(bogus); err == nil {
		t.Error("Expected error for a non-pcap file")
	}
}
