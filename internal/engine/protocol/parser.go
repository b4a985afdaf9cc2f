package protocol

import (
	"Go2NetSentry/internal/core/model"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var decodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

// ParsePacket uses gopacket to decode a raw packet and extract the header fields
// used for feature extraction.
//
// It always returns a PacketInfo. Layers that could not be decoded are left at
// their defaults and reported through the returned error, which callers treat
// as informational: a malformed packet must still be tracked.
func ParsePacket(raw model.RawPacket) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp: raw.Timestamp,
		Length:    len(raw.Data),
		Data:      raw.Data,
	}

	packet := gopacket.NewPacket(raw.Data, raw.LinkType, decodeOptions)

	// Get link layer
	if l := packet.Layer(layers.LayerTypeEthernet); l != nil {
		eth := l.(*layers.Ethernet)
		info.SrcMAC = eth.SrcMAC
		info.DstMAC = eth.DstMAC
	}

	// Get network layer, IPv4 first
	var transport []byte
	fragment := false
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip4 := l.(*layers.IPv4)
		info.SrcIP = toAddr(ip4.SrcIP)
		info.DstIP = toAddr(ip4.DstIP)
		info.Protocol = uint8(ip4.Protocol)
		ttl := ip4.TTL
		info.TTL = &ttl
		fragment = ip4.Flags&layers.IPv4MoreFragments != 0 || ip4.FragOffset != 0
		transport = ip4.Payload
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip6 := l.(*layers.IPv6)
		info.SrcIP = toAddr(ip6.SrcIP)
		info.DstIP = toAddr(ip6.DstIP)
		info.Protocol = uint8(ip6.NextHeader)
		hop := ip6.HopLimit
		info.TTL = &hop
		transport = ip6.Payload
		if l := packet.Layer(layers.LayerTypeIPv6Fragment); l != nil {
			frag := l.(*layers.IPv6Fragment)
			info.Protocol = uint8(frag.NextHeader)
			fragment = true
		} else if t := packet.TransportLayer(); t != nil {
			// Extension headers sit between the fixed header and the transport.
			transport = transportBytes(packet, t.LayerType(), transport)
			switch t.LayerType() {
			case layers.LayerTypeTCP:
				info.Protocol = uint8(layers.IPProtocolTCP)
			case layers.LayerTypeUDP:
				info.Protocol = uint8(layers.IPProtocolUDP)
			}
		}
	}

	if !info.SrcIP.IsValid() {
		return info, decodeError(packet)
	}
	if fragment {
		info.ProtocolName = fragmentName
		if l := packet.Layer(gopacket.LayerTypeFragment); l != nil {
			info.Payload = l.LayerContents()
		}
		return info, nil
	}

	// Get transport layer
	info.ProtocolName = ProtocolName(info.Protocol)
	switch layers.IPProtocol(info.Protocol) {
	case layers.IPProtocolTCP:
		return info, decodeTCP(info, transport)
	case layers.IPProtocolUDP:
		return info, decodeUDP(info, transport)
	}
	if app := packet.ApplicationLayer(); app != nil {
		info.Payload = app.Payload()
	}
	return info, decodeError(packet)
}

// fragmentName labels IP fragments. Their transport header is either absent
// or not decoded, so they never carry ports or TCP fields.
const fragmentName = "Fragment"

// decodeTCP fills the TCP fields from the bytes that follow the IP header.
// A header that does not decode leaves ports and flags unknown.
func decodeTCP(info *model.PacketInfo, data []byte) error {
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("partial decode at TCP: %w", err)
	}
	src, dst := uint16(tcp.SrcPort), uint16(tcp.DstPort)
	info.SrcPort, info.DstPort = &src, &dst
	info.TCP = &model.TCPFields{
		SYN:    tcp.SYN,
		ACK:    tcp.ACK,
		FIN:    tcp.FIN,
		RST:    tcp.RST,
		Window: tcp.Window,
	}
	info.Payload = tcp.Payload
	return nil
}

func decodeUDP(info *model.PacketInfo, data []byte) error {
	var udp layers.UDP
	if err := udp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("partial decode at UDP: %w", err)
	}
	src, dst := uint16(udp.SrcPort), uint16(udp.DstPort)
	info.SrcPort, info.DstPort = &src, &dst
	info.Payload = udp.Payload
	return nil
}

// decodeError reports a gopacket decode failure. Failures above the
// transport header are not returned by ParsePacket for TCP and UDP, whose
// payload is kept as raw bytes.
func decodeError(packet gopacket.Packet) error {
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return fmt.Errorf("partial decode: %w", errLayer.Error())
	}
	return nil
}

// transportBytes returns the bytes the transport layer was decoded from,
// which is the payload of the layer right before it.
func transportBytes(packet gopacket.Packet, transport gopacket.LayerType, fallback []byte) []byte {
	all := packet.Layers()
	for i := 1; i < len(all); i++ {
		if all[i].LayerType() == transport {
			return all[i-1].LayerPayload()
		}
	}
	return fallback
}

// ProtocolName returns the conventional name of an IP protocol number, such as
// "TCP", "UDP" or "ICMPv4".
func ProtocolName(proto uint8) string {
	return layers.IPProtocol(proto).String()
}

func toAddr(ip []byte) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}
