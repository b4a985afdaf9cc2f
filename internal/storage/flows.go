package storage

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/factory"
	imodel "Go2NetSentry/internal/model"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

func init() {
	factory.RegisterWriter("clickhouse", func(def config.WriterDef) (imodel.Writer, error) {
		return NewFlowWriter(def.ClickHouse, config.Duration(def.SnapshotInterval))
	})
}

const createFlowsTable = `
CREATE TABLE IF NOT EXISTS flow_metrics (
    Timestamp      DateTime,
    FlowID         String,
    SrcIP          Nullable(String),
    DstIP          Nullable(String),
    SrcPort        UInt16,
    DstPort        UInt16,
    Protocol       UInt8,
    StartTime      DateTime64(6),
    EndTime        DateTime64(6),
    ByteCount      UInt64,
    PacketCount    UInt64,
    InterArrivalMs Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (FlowID, Timestamp);
`

// SnapshotTimeLayout is the timestamp layout snapshots are labelled with.
const SnapshotTimeLayout = "2006-01-02_15-04-05"

// FlowWriter implements the model.Writer interface for ClickHouse.
type FlowWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewFlowWriter creates a new ClickHouse flow snapshot writer.
func NewFlowWriter(cfg config.ClickHouseConfig, interval time.Duration) (*FlowWriter, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := ensureTable(conn, createFlowsTable); err != nil {
		return nil, err
	}
	log.Println("Successfully connected to ClickHouse and ensured flow_metrics exists.")

	return &FlowWriter{conn: conn, interval: interval}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *FlowWriter) GetInterval() time.Duration {
	return w.interval
}

// Write inserts one row per flow into flow_metrics.
func (w *FlowWriter) Write(flows []model.FlowSnapshot, timestamp string) error {
	if len(flows) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO flow_metrics")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	snapshotTime, err := time.Parse(SnapshotTimeLayout, timestamp)
	if err != nil {
		snapshotTime = time.Now()
	}
	for i := range flows {
		if err := batch.Append(FlowRow(&flows[i], snapshotTime)...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d flows to ClickHouse", len(flows))
	return nil
}

// FlowRow converts a flow snapshot into a flow_metrics row.
func FlowRow(flow *model.FlowSnapshot, snapshotTime time.Time) []any {
	return []any{
		snapshotTime,
		flow.ID,
		addrOrNil(flow.Key.SrcIP.IsValid(), flow.Key.SrcIP.String()),
		addrOrNil(flow.Key.DstIP.IsValid(), flow.Key.DstIP.String()),
		flow.Key.SrcPort,
		flow.Key.DstPort,
		flow.Key.Protocol,
		flow.FirstSeen,
		flow.LastSeen,
		flow.ByteCount,
		flow.PacketCount,
		float64(flow.InterArrival) / float64(time.Millisecond),
	}
}

func addrOrNil(valid bool, s string) *string {
	if !valid {
		return nil
	}
	return &s
}
