package protocol

import (
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/synth"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
)

func rawPacket(t *testing.T, data []byte, err error) model.RawPacket {
	t.Helper()
	if err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}
	return model.RawPacket{Timestamp: time.Unix(1700000000, 0), Data: data, LinkType: layers.LinkTypeEthernet}
}

func TestParsePacket_TCP(t *testing.T) {
	frame := synth.Frame{
		SrcIP:   net.ParseIP("192.168.0.1"),
		DstIP:   net.ParseIP("10.0.0.5"),
		SrcPort: 40000,
		DstPort: 443,
		TTL:     128,
		Window:  8192,
		Flags:   synth.TCPFlags{SYN: true},
		Payload: []byte("hello"),
	}
	data, err := frame.TCP()
	info, err := ParsePacket(rawPacket(t, data, err))
	if err != nil {
		t.Fatalf("ParsePacket returned error: %v", err)
	}

	if info.SrcIP.String() != "192.168.0.1" || info.DstIP.String() != "10.0.0.5" {
		t.Errorf("Unexpected addresses %s -> %s", info.SrcIP, info.DstIP)
	}
	if info.Protocol != 6 || info.ProtocolName != "TCP" {
		t.Errorf("Expected TCP, got %d/%q", info.Protocol, info.ProtocolName)
	}
	if info.SrcPort == nil || *info.SrcPort != 40000 || info.DstPort == nil || *info.DstPort != 443 {
		t.Errorf("Unexpected ports %v %v", info.SrcPort, info.DstPort)
	}
	if info.TTL == nil || *info.TTL != 128 {
		t.Errorf("Expected TTL 128, got %v", info.TTL)
	}
	if info.TCP == nil {
		t.Fatal("TCP fields should be present for a TCP packet")
	}
	if !info.TCP.SYN || info.TCP.ACK || info.TCP.FIN || info.TCP.RST || info.TCP.Window != 8192 {
		t.Errorf("Unexpected TCP fields %+v", *info.TCP)
	}
	if string(info.Payload) != "hello" {
		t.Errorf("Expected payload 'hello', got %q", info.Payload)
	}
	if info.Length != len(data) {
		t.Errorf("Expected length %d, got %d", len(data), info.Length)
	}
	if info.SrcMAC.String() != synth.DefaultSrcMAC.String() {
		t.Errorf("Unexpected source MAC %s", info.SrcMAC)
	}
}

func TestParsePacket_UDPOverIPv6(t *testing.T) {
	frame := synth.Frame{
		SrcIP:   net.ParseIP("2001:db8::1"),
		DstIP:   net.ParseIP("2001:db8::2"),
		SrcPort: 5353,
		DstPort: 53,
		TTL:     32,
		Payload: []byte{1, 2, 3},
	}
	data, err := frame.UDP()
	info, err := ParsePacket(rawPacket(t, data, err))
	if err != nil {
		t.Fatalf("ParsePacket returned error: %v", err)
	}
	if info.ProtocolName != "UDP" || info.TCP != nil {
		t.Errorf("Expected UDP without TCP fields, got %q %+v", info.ProtocolName, info.TCP)
	}
	if info.SrcIP.String() != "2001:db8::1" {
		t.Errorf("Unexpected source %s", info.SrcIP)
	}
	if info.TTL == nil || *info.TTL != 32 {
		t.Errorf("Expected hop limit 32, got %v", info.TTL)
	}
	if string(info.Payload) != string([]byte{1, 2, 3}) {
		t.Errorf("Expected the UDP payload, got %v", info.Payload)
	}
}

func TestParsePacket_UndecodableDNSKeepsPayload(t *testing.T) {
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i*37 + 0x40)
	}

	for _, port := range []uint16{53, 9999} {
		frame := synth.Frame{
			SrcIP:   net.ParseIP("10.0.0.9"),
			DstIP:   net.ParseIP("10.0.0.53"),
			SrcPort: 40000,
			DstPort: port,
			Payload: payload,
		}
		data, err := frame.UDP()
		info, err := ParsePacket(rawPacket(t, data, err))
		if err != nil {
			t.Errorf("Port %d: a body that is not DNS must not be a decode error, got %v", port, err)
		}
		if string(info.Payload) != string(payload) {
			t.Errorf("Port %d: expected %d payload bytes, got %d", port, len(payload), len(info.Payload))
		}
		if info.DstPort == nil || *info.DstPort != port {
			t.Errorf("Port %d: unexpected destination port %v", port, info.DstPort)
		}
	}
}

func TestParsePacket_NonIP(t *testing.T) {
	data, err := synth.Frame{}.ARP()
	info, err := ParsePacket(rawPacket(t, data, err))
	if err != nil {
		t.Fatalf("ARP should decode cleanly: %v", err)
	}
	if info.SrcIP.IsValid() || info.ProtocolName != "" || info.Protocol != 0 {
		t.Errorf("Non-IP packet should have no network fields, got %+v", info)
	}
	if info.SrcPort != nil || info.TTL != nil || info.TCP != nil {
		t.Error("Non-IP packet should have no optional fields")
	}
	key := info.FlowKey()
	if key != (model.FlowKey{}) {
		t.Errorf("Expected zero flow key, got %v", key)
	}
}

func TestParsePacket_TruncatedTCP(t *testing.T) {
	frame := synth.Frame{SrcIP: net.ParseIP("10.1.1.1"), DstIP: net.ParseIP("10.1.1.2")}
	data, err := frame.TruncatedTCP([]byte{0x01, 0x02, 0x03})
	info, err := ParsePacket(rawPacket(t, data, err))
	if err == nil {
		t.Error("Expected a partial decode error for a truncated TCP header")
	}
	if info == nil {
		t.Fatal("ParsePacket must always return packet info")
	}
	if info.ProtocolName != "TCP" {
		t.Errorf("Expected protocol TCP from the IP header, got %q", info.ProtocolName)
	}
	if info.TCP != nil || info.SrcPort != nil || info.DstPort != nil {
		t.Errorf("TCP fields must stay unknown when the header did not decode, got %+v %v %v", info.TCP, info.SrcPort, info.DstPort)
	}
	if info.Payload != nil {
		t.Errorf("Expected no payload, got %v", info.Payload)
	}
}

func TestParsePacket_FirstFragment(t *testing.T) {
	src := synth.Frame{
		SrcIP:   net.ParseIP("10.2.2.1"),
		DstIP:   net.ParseIP("10.2.2.2"),
		SrcPort: 40000,
		DstPort: 80,
		Flags:   synth.TCPFlags{ACK: true},
		Payload: make([]byte, 64),
	}
	whole, err := src.TCP()
	if err != nil {
		t.Fatalf("Failed to build segment: %v", err)
	}
	segment := whole[14+20 : 14+20+32]

	data, err := src.TCPFragment(0, segment)
	info, err := ParsePacket(rawPacket(t, data, err))
	if err != nil {
		t.Errorf("A fragment is not a decode error: %v", err)
	}
	if info.ProtocolName != "Fragment" || info.Protocol != 6 {
		t.Errorf("Expected a TCP fragment, got %d/%q", info.Protocol, info.ProtocolName)
	}
	if info.TCP != nil || info.SrcPort != nil {
		t.Error("Fragments carry no transport fields")
	}
	if len(info.Payload) != len(segment) {
		t.Errorf("Expected %d fragment bytes, got %d", len(segment), len(info.Payload))
	}
}

func TestParsePacket_Garbage(t *testing.T) {
	info, _ := ParsePacket(model.RawPacket{Data: []byte{0xde, 0xad}, LinkType: layers.LinkTypeEthernet})
	if info == nil {
		t.Fatal("ParsePacket must always return packet info")
	}
	if info.Length != 2 {
		t.Errorf("Expected length 2, got %d", info.Length)
	}
}
