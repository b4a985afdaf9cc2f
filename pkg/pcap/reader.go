package pcap

import (
	"Go2NetSentry/internal/core/model"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
)

const (
	pcapngMagic = 0x0A0D0D0A
	// liveReadTimeout bounds how long a live read blocks, so cancellation
	// is noticed on quiet links.
	liveReadTimeout = 500 * time.Millisecond
)

// Reader reads raw packets from a capture file or a live interface.
type Reader struct {
	source   gopacket.PacketDataSource
	linkType layers.LinkType
	close    func()
}

// NewReader opens a pcap or pcapng file. It needs no libpcap.
func NewReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	var magic [4]byte
	if _, err := io.ReadFull(file, magic[:]); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}

	r := &Reader{close: func() { file.Close() }}
	if binary.LittleEndian.Uint32(magic[:]) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open pcapng file: %w", err)
		}
		r.source, r.linkType = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open pcap file: %w", err)
		}
		r.source, r.linkType = pr, pr.LinkType()
	}
	return r, nil
}

// NewLiveReader opens a network interface for live capture through libpcap.
func NewLiveReader(iface string, snaplen int32, promisc bool, bpfFilter string) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, liveReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("error opening device %s: %w", iface, err)
	}
	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid BPF filter %q: %w", bpfFilter, err)
		}
		log.Printf("Applied BPF filter '%s' on %s", bpfFilter, iface)
	}
	return &Reader{source: handle, linkType: handle.LinkType(), close: handle.Close}, nil
}

// LinkType returns the link type of the capture source.
func (r *Reader) LinkType() layers.LinkType {
	return r.linkType
}

// Close releases the capture source.
func (r *Reader) Close() {
	r.close()
}

// ReadPackets sends every packet to out until the source is exhausted or ctx
// is cancelled. It does not close out and returns the number of packets sent.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- model.RawPacket) (int, error) {
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		data, ci, err := r.source.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return count, nil
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		default:
			return count, fmt.Errorf("failed to read packet: %w", err)
		}

		raw := model.RawPacket{
			Timestamp:  ci.Timestamp,
			Data:       data,
			LinkType:   r.linkType,
			WireLength: ci.Length,
		}
		select {
		case out <- raw:
			count++
		case <-ctx.Done():
			return count, ctx.Err()
		}
	}
}
