package snapshot

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/factory"
	imodel "Go2NetSentry/internal/model"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	flowsFileName   = "flows.dat"
	summaryFileName = "summary.json"
)

func init() {
	factory.RegisterWriter("gob", func(def config.WriterDef) (imodel.Writer, error) {
		return NewWriter(def.RootPath, config.Duration(def.SnapshotInterval)), nil
	})
}

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	TotalFlows   int    `json:"total_flows"`
	TotalBytes   uint64 `json:"total_bytes"`
	TotalPackets uint64 `json:"total_packets"`
	Timestamp    string `json:"timestamp"`
}

// Writer handles writing flow table snapshots to disk in gob format.
// It implements the model.Writer interface.
type Writer struct {
	rootPath string
	interval time.Duration
}

// NewWriter creates a new snapshot writer.
func NewWriter(rootPath string, interval time.Duration) *Writer {
	if rootPath == "" {
		rootPath = "snapshots"
	}
	return &Writer{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *Writer) GetInterval() time.Duration {
	return w.interval
}

// Write serializes the flows into <root>/<timestamp>/flows.dat and writes a
// summary next to it. Empty snapshots are skipped.
func (w *Writer) Write(flows []model.FlowSnapshot, timestamp string) error {
	if len(flows) == 0 {
		return nil
	}

	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	flowsPath := filepath.Join(snapshotDir, flowsFileName)
	file, err := os.Create(flowsPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", flowsPath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(flows); err != nil {
		return fmt.Errorf("failed to encode flows to gob for file '%s': %w", flowsPath, err)
	}

	summary := SummaryData{
		TotalFlows: len(flows),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for _, flow := range flows {
		summary.TotalPackets += flow.PacketCount
		summary.TotalBytes += flow.ByteCount
	}

	summaryFile, err := os.Create(filepath.Join(snapshotDir, summaryFileName))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

// ReadFlows decodes a flows.dat file written by Write.
func ReadFlows(path string) ([]model.FlowSnapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var flows []model.FlowSnapshot
	if err := gob.NewDecoder(file).Decode(&flows); err != nil {
		return nil, fmt.Errorf("failed to decode gob file '%s': %w", path, err)
	}
	return flows, nil
}
