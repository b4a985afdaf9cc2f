// Package synth builds synthetic Ethernet frames for traffic generation and tests.
package synth

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	DefaultSrcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	DefaultDstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// TCPFlags selects the TCP control bits of a generated segment.
type TCPFlags struct {
	SYN, ACK, FIN, RST, PSH, URG bool
}

// Frame describes one generated packet. Zero values fall back to sensible
// defaults: IPv4, TTL 64, window 14600.
type Frame struct {
	SrcMAC, DstMAC net.HardwareAddr
	SrcIP, DstIP   net.IP
	SrcPort        uint16
	DstPort        uint16
	TTL            uint8
	Window         uint16
	Flags          TCPFlags
	Payload        []byte
}

func (f Frame) ethernet(ethType layers.EthernetType) *layers.Ethernet {
	src, dst := f.SrcMAC, f.DstMAC
	if src == nil {
		src = DefaultSrcMAC
	}
	if dst == nil {
		dst = DefaultDstMAC
	}
	return &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: ethType}
}

func (f Frame) network(proto layers.IPProtocol) (gopacket.SerializableLayer, gopacket.NetworkLayer, layers.EthernetType) {
	ttl := f.TTL
	if ttl == 0 {
		ttl = 64
	}
	if f.SrcIP.To4() == nil && f.SrcIP != nil {
		ip6 := &layers.IPv6{
			Version:    6,
			SrcIP:      f.SrcIP,
			DstIP:      f.DstIP,
			NextHeader: proto,
			HopLimit:   ttl,
		}
		return ip6, ip6, layers.EthernetTypeIPv6
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		SrcIP:    f.SrcIP.To4(),
		DstIP:    f.DstIP.To4(),
		TTL:      ttl,
		Protocol: proto,
	}
	return ip4, ip4, layers.EthernetTypeIPv4
}

// TCP serializes an Ethernet/IP/TCP frame.
func (f Frame) TCP() ([]byte, error) {
	ipLayer, netLayer, ethType := f.network(layers.IPProtocolTCP)
	window := f.Window
	if window == 0 {
		window = 14600
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(f.SrcPort),
		DstPort: layers.TCPPort(f.DstPort),
		SYN:     f.Flags.SYN,
		ACK:     f.Flags.ACK,
		FIN:     f.Flags.FIN,
		RST:     f.Flags.RST,
		PSH:     f.Flags.PSH,
		URG:     f.Flags.URG,
		Window:  window,
	}
	if err := tcp.SetNetworkLayerForChecksum(netLayer); err != nil {
		return nil, fmt.Errorf("failed to set checksum layer: %w", err)
	}
	return serialize(f.ethernet(ethType), ipLayer, tcp, gopacket.Payload(f.Payload))
}

// UDP serializes an Ethernet/IP/UDP frame.
func (f Frame) UDP() ([]byte, error) {
	ipLayer, netLayer, ethType := f.network(layers.IPProtocolUDP)
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(f.SrcPort),
		DstPort: layers.UDPPort(f.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(netLayer); err != nil {
		return nil, fmt.Errorf("failed to set checksum layer: %w", err)
	}
	return serialize(f.ethernet(ethType), ipLayer, udp, gopacket.Payload(f.Payload))
}

// ICMPEcho serializes an Ethernet/IPv4/ICMP echo request.
func (f Frame) ICMPEcho() ([]byte, error) {
	ipLayer, _, ethType := f.network(layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       1,
		Seq:      1,
	}
	return serialize(f.ethernet(ethType), ipLayer, icmp, gopacket.Payload(f.Payload))
}

// TruncatedTCP serializes an IPv4 frame that announces TCP but carries only
// the given bytes, too few for a TCP header.
func (f Frame) TruncatedTCP(stub []byte) ([]byte, error) {
	ipLayer, _, ethType := f.network(layers.IPProtocolTCP)
	return serialize(f.ethernet(ethType), ipLayer, gopacket.Payload(stub))
}

// TCPFragment serializes one IPv4 fragment of a TCP segment. The offset is
// in 8-byte units; more-fragments is always set.
func (f Frame) TCPFragment(offset uint16, data []byte) ([]byte, error) {
	ipLayer, _, ethType := f.network(layers.IPProtocolTCP)
	ip4, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return nil, fmt.Errorf("fragments are only generated for IPv4")
	}
	ip4.Flags = layers.IPv4MoreFragments
	ip4.FragOffset = offset
	return serialize(f.ethernet(ethType), ip4, gopacket.Payload(data))
}

// ARP serializes an ARP request, a frame without any IP layer.
func (f Frame) ARP() ([]byte, error) {
	eth := f.ethernet(layers.EthernetTypeARP)
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(eth.SrcMAC),
		SourceProtAddress: []byte(net.IPv4(10, 0, 0, 1).To4()),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(net.IPv4(10, 0, 0, 2).To4()),
	}
	return serialize(eth, arp)
}

func serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}
	return buf.Bytes(), nil
}
