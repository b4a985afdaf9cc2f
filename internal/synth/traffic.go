package synth

import (
	"fmt"
	"math/rand"
	"net"
	"sort"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ExploitedPorts are destination ports favoured by the attack scenarios.
var ExploitedPorts = []uint16{
	19, 135, 137, 138, 139, 445, 1433, 1720, 1900, 2323, 4444, 5555,
	6666, 6667, 6668, 6669, 11211, 12345, 31337, 54321,
}

var (
	ttls    = []uint8{32, 64, 128, 255}
	windows = []uint16{1024, 2048, 4096, 8192, 16384, 32768, 65535}
	ouis    = [][3]byte{{0x00, 0x1A, 0x2B}, {0x00, 0x1B, 0x44}, {0x00, 0x1C, 0xC0}, {0x00, 0x1D, 0xFA}, {0x00, 0x1E, 0x67}}
)

// Generator produces randomized traffic. It is not safe for concurrent use.
type Generator struct {
	rng    *rand.Rand
	Target net.IP
}

// NewGenerator creates a generator aimed at target.
func NewGenerator(seed int64, target net.IP) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed)), Target: target}
}

// Scenario generates count frames of one traffic pattern.
type Scenario func(g *Generator, count int) ([][]byte, error)

// Scenarios lists the available traffic patterns by name.
var Scenarios = map[string]Scenario{
	"benign":            (*Generator).Benign,
	"syn_flood":         (*Generator).SYNFlood,
	"ip_spoofing":       (*Generator).IPSpoofing,
	"malformed":         (*Generator).Malformed,
	"dns_amplification": (*Generator).DNSAmplification,
	"icmp_flood":        (*Generator).ICMPFlood,
	"http_flood":        (*Generator).HTTPFlood,
	"fin_scan":          (*Generator).FINScan,
	"arp":               (*Generator).ARPBurst,
}

// ScenarioNames returns the scenario names in sorted order.
func ScenarioNames() []string {
	names := make([]string, 0, len(Scenarios))
	for name := range Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Generator) privateIP() net.IP {
	switch g.rng.Intn(3) {
	case 0:
		return net.IPv4(10, byte(g.rng.Intn(256)), byte(g.rng.Intn(256)), byte(g.rng.Intn(256)))
	case 1:
		return net.IPv4(172, byte(16+g.rng.Intn(16)), byte(g.rng.Intn(256)), byte(g.rng.Intn(256)))
	default:
		return net.IPv4(192, 168, byte(g.rng.Intn(256)), byte(g.rng.Intn(256)))
	}
}

func (g *Generator) mac() net.HardwareAddr {
	oui := ouis[g.rng.Intn(len(ouis))]
	return net.HardwareAddr{oui[0], oui[1], oui[2], byte(g.rng.Intn(256)), byte(g.rng.Intn(256)), byte(g.rng.Intn(256))}
}

func (g *Generator) ephemeralPort() uint16 {
	return uint16(1024 + g.rng.Intn(65535-1024))
}

func (g *Generator) payload(min, max int) []byte {
	p := make([]byte, min+g.rng.Intn(max-min+1))
	g.rng.Read(p)
	return p
}

func (g *Generator) attackFrame() Frame {
	return Frame{
		SrcMAC:  g.mac(),
		DstMAC:  g.mac(),
		SrcIP:   g.privateIP(),
		DstIP:   g.Target,
		SrcPort: g.ephemeralPort(),
		DstPort: ExploitedPorts[g.rng.Intn(len(ExploitedPorts))],
		TTL:     ttls[g.rng.Intn(len(ttls))],
		Window:  windows[g.rng.Intn(len(windows))],
	}
}

func repeat(count int, build func(i int) ([]byte, error)) ([][]byte, error) {
	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		data, err := build(i)
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// Benign generates established TCP traffic towards common service ports
// with low-entropy text payloads.
func (g *Generator) Benign(count int) ([][]byte, error) {
	services := []uint16{80, 443, 8080, 993}
	return repeat(count, func(i int) ([]byte, error) {
		f := Frame{
			SrcIP:   g.privateIP(),
			DstIP:   g.Target,
			SrcPort: g.ephemeralPort(),
			DstPort: services[g.rng.Intn(len(services))],
			Flags:   TCPFlags{ACK: true, PSH: true},
			Payload: []byte(fmt.Sprintf("GET /index.html?page=%d HTTP/1.1\r\nHost: example.com\r\n\r\n", i)),
		}
		return f.TCP()
	})
}

// SYNFlood generates bare SYN segments to exploited ports.
func (g *Generator) SYNFlood(count int) ([][]byte, error) {
	return repeat(count, func(int) ([]byte, error) {
		f := g.attackFrame()
		f.Flags = TCPFlags{SYN: true}
		return f.TCP()
	})
}

// IPSpoofing generates SYN segments with random payloads from random sources.
func (g *Generator) IPSpoofing(count int) ([][]byte, error) {
	return repeat(count, func(int) ([]byte, error) {
		f := g.attackFrame()
		f.Flags = TCPFlags{SYN: true}
		f.Payload = g.payload(20, 1400)
		return f.TCP()
	})
}

// Malformed generates FIN+PSH+URG segments with random payloads.
func (g *Generator) Malformed(count int) ([][]byte, error) {
	return repeat(count, func(int) ([]byte, error) {
		f := g.attackFrame()
		f.Flags = TCPFlags{FIN: true, PSH: true, URG: true}
		f.Payload = g.payload(20, 1400)
		return f.TCP()
	})
}

// DNSAmplification generates DNS queries spoofed from the target.
func (g *Generator) DNSAmplification(count int) ([][]byte, error) {
	query, err := dnsQuery("example.com")
	if err != nil {
		return nil, err
	}
	return repeat(count, func(int) ([]byte, error) {
		f := Frame{
			SrcIP:   g.Target,
			DstIP:   net.IPv4(8, 8, 8, 8),
			SrcPort: g.ephemeralPort(),
			DstPort: 53,
			TTL:     ttls[g.rng.Intn(len(ttls))],
			Payload: query,
		}
		return f.UDP()
	})
}

// ICMPFlood generates echo requests from random sources.
func (g *Generator) ICMPFlood(count int) ([][]byte, error) {
	return repeat(count, func(int) ([]byte, error) {
		f := g.attackFrame()
		return f.ICMPEcho()
	})
}

// HTTPFlood generates PSH+ACK segments carrying GET requests to port 80.
func (g *Generator) HTTPFlood(count int) ([][]byte, error) {
	request := []byte(fmt.Sprintf("GET / HTTP/1.1\r\nHost: %s\r\n\r\n", g.Target))
	return repeat(count, func(int) ([]byte, error) {
		f := g.attackFrame()
		f.DstPort = 80
		f.Flags = TCPFlags{PSH: true, ACK: true}
		f.Payload = request
		return f.TCP()
	})
}

// FINScan generates FIN segments to consecutive destination ports from 1.
func (g *Generator) FINScan(count int) ([][]byte, error) {
	return repeat(count, func(i int) ([]byte, error) {
		f := g.attackFrame()
		f.DstPort = uint16(i%65535 + 1)
		f.Flags = TCPFlags{FIN: true}
		return f.TCP()
	})
}

// ARPBurst generates ARP requests, which carry no IP layer.
func (g *Generator) ARPBurst(count int) ([][]byte, error) {
	return repeat(count, func(int) ([]byte, error) {
		return Frame{SrcMAC: g.mac(), DstMAC: layers.EthernetBroadcast}.ARP()
	})
}

func dnsQuery(name string) ([]byte, error) {
	dns := &layers.DNS{
		ID:      0x1234,
		RD:      true,
		QDCount: 1,
		Questions: []layers.DNSQuestion{{
			Name:  []byte(name),
			Type:  layers.DNSType(255),
			Class: layers.DNSClassIN,
		}},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := dns.SerializeTo(buf, gopacket.SerializeOptions{FixLengths: true}); err != nil {
		return nil, fmt.Errorf("failed to serialize DNS query: %w", err)
	}
	return buf.Bytes(), nil
}
