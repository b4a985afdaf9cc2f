package persistent

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/engine/protocol"
	"bufio"
	"fmt"
	"io"
	"log"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Worker writes captured frames to disk on a single goroutine, so the
// output keeps capture order.
type Worker struct {
	packetChan chan model.RawPacket
	done       chan struct{}
	stopOnce   sync.Once
	file       *os.File
	dropped    atomic.Uint64
	written    atomic.Uint64
}

// NewWorker creates the output file and starts the writer goroutine.
// linkType is recorded in the pcap header.
func NewWorker(cfg config.PersistenceConfig, linkType layers.LinkType) (*Worker, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persistence directory: %w", err)
	}

	bufferSize := cfg.ChannelBufferSize
	if bufferSize <= 0 {
		bufferSize = 10000
	}

	if cfg.Encoding != "pcap" && cfg.Encoding != "text" {
		return nil, fmt.Errorf("unknown persistence encoding %q", cfg.Encoding)
	}
	file, err := createOutputFile(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	var write func(raw model.RawPacket) error
	var flush func() error
	switch cfg.Encoding {
	case "pcap":
		pcapWriter := pcapgo.NewWriter(file)
		if err := pcapWriter.WriteFileHeader(65536, linkType); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write pcap file header: %w", err)
		}
		write = func(raw model.RawPacket) error {
			ci := gopacket.CaptureInfo{
				Timestamp:     raw.Timestamp,
				CaptureLength: len(raw.Data),
				Length:        max(raw.WireLength, len(raw.Data)),
			}
			return pcapWriter.WritePacket(ci, raw.Data)
		}
		flush = func() error { return nil }
	case "text":
		buf := bufio.NewWriter(file)
		write = func(raw model.RawPacket) error { return writeTextLine(buf, raw) }
		flush = buf.Flush
	}

	w := &Worker{
		packetChan: make(chan model.RawPacket, bufferSize),
		done:       make(chan struct{}),
		file:       file,
	}
	go w.run(write, flush)

	log.Printf("Persistent worker started, encoding: %s, writing to: %s", cfg.Encoding, file.Name())
	return w, nil
}

func createOutputFile(cfg config.PersistenceConfig) (*os.File, error) {
	ext := ".log"
	if cfg.Encoding == "pcap" {
		ext = ".pcap"
	}
	fileName := fmt.Sprintf("%s%s", time.Now().Format("2006-01-02_15-04-05.000"), ext)
	return os.OpenFile(filepath.Join(cfg.Path, fileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func (w *Worker) run(write func(model.RawPacket) error, flush func() error) {
	defer close(w.done)
	for raw := range w.packetChan {
		if err := write(raw); err != nil {
			log.Printf("PersistentWorker: Error writing packet: %v", err)
			continue
		}
		w.written.Add(1)
	}
	if err := flush(); err != nil {
		log.Printf("PersistentWorker: Error flushing output: %v", err)
	}
	if err := w.file.Close(); err != nil {
		log.Printf("PersistentWorker: Error closing file: %v", err)
	}
}

// writeTextLine renders one frame as a human-readable line.
func writeTextLine(w io.Writer, raw model.RawPacket) error {
	info, _ := protocol.ParsePacket(raw)
	proto := info.ProtocolName
	if proto == "" {
		proto = "non-IP"
	}
	_, err := fmt.Fprintf(w, "%s - %s -> %s, Proto: %s, Len: %d\n",
		raw.Timestamp.Format("2006-01-02 15:04:05.000"),
		endpoint(info.SrcIP, info.SrcPort),
		endpoint(info.DstIP, info.DstPort),
		proto,
		info.Length,
	)
	return err
}

func endpoint(ip netip.Addr, port *uint16) string {
	if !ip.IsValid() {
		return "-"
	}
	if port == nil {
		return ip.String()
	}
	return netip.AddrPortFrom(ip, *port).String()
}

// Enqueue hands a frame to the writer. The frame is dropped when the
// buffer is full so capture never blocks on disk.
func (w *Worker) Enqueue(raw model.RawPacket) {
	select {
	case w.packetChan <- raw:
	default:
		if w.dropped.Add(1)%1000 == 1 {
			log.Println("PersistentWorker: Channel is full, dropping packet.")
		}
	}
}

// Stop drains the buffer, closes the file and waits for the writer to exit.
// Enqueue must not be called after Stop.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.packetChan)
	})
	<-w.done
	log.Printf("Persistent worker stopped: %d packets written, %d dropped.", w.written.Load(), w.dropped.Load())
}

// Path returns the output file path.
func (w *Worker) Path() string {
	return w.file.Name()
}
