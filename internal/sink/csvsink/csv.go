// Package csvsink appends feature records to a CSV file.
package csvsink

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/factory"
	"Go2NetSentry/internal/metrics"
	imodel "Go2NetSentry/internal/model"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

func init() {
	factory.RegisterSink("csv", func(def config.SinkDef, _ *metrics.Metrics) (imodel.Sink, error) {
		return New(def.CSV.Path)
	})
}

// Header is the column layout of the CSV file.
var Header = []string{
	"timestamp", "flow_id", "src_mac", "dst_mac", "src_ip", "dst_ip", "src_port", "dst_port",
	"protocol", "length", "payload_length", "ttl", "syn", "ack", "fin", "rst", "window_size",
	"entropy", "packets_in_flow", "inter_arrival_ms", "flow_duration_ms", "verdict",
}

// Sink writes one row per record. Optional fields are left empty when absent.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// New opens path for appending and writes the header if the file is new.
func New(path string) (*Sink, error) {
	if path == "" {
		path = "captured_traffic.csv"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create csv directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat csv file: %w", err)
	}

	s := &Sink{file: file, w: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := s.w.Write(Header); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write csv header: %w", err)
		}
		s.w.Flush()
	}
	log.Printf("CSV sink writing to %s", path)
	return s, nil
}

func (s *Sink) Name() string { return "csv" }

// Consume appends one row and flushes it.
func (s *Sink) Consume(_ context.Context, rec *model.FeatureRecord, verdict model.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(Row(rec, verdict)); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// Row renders a record in Header order.
func Row(rec *model.FeatureRecord, verdict model.Verdict) []string {
	row := []string{
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.FlowID,
		rec.SrcMAC,
		rec.DstMAC,
		rec.SrcIP,
		rec.DstIP,
		optUint16(rec.SrcPort),
		optUint16(rec.DstPort),
		rec.Protocol,
		strconv.Itoa(rec.Length),
		strconv.Itoa(rec.PayloadLength),
		"",
		"", "", "", "", "",
		strconv.FormatFloat(rec.Entropy, 'f', 6, 64),
		strconv.FormatUint(rec.PacketsInFlow, 10),
		strconv.FormatFloat(rec.InterArrivalMs, 'f', 3, 64),
		strconv.FormatFloat(rec.FlowDurationMs, 'f', 3, 64),
		verdict.Reason.String(),
	}
	if rec.TTL != nil {
		row[11] = strconv.Itoa(int(*rec.TTL))
	}
	if rec.TCP != nil {
		row[12] = strconv.FormatBool(rec.TCP.SYN)
		row[13] = strconv.FormatBool(rec.TCP.ACK)
		row[14] = strconv.FormatBool(rec.TCP.FIN)
		row[15] = strconv.FormatBool(rec.TCP.RST)
		row[16] = strconv.Itoa(int(rec.TCP.Window))
	}
	return row
}

func optUint16(v *uint16) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(int(*v))
}
