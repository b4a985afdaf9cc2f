package storage

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/factory"
	"Go2NetSentry/internal/metrics"
	imodel "Go2NetSentry/internal/model"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

func init() {
	factory.RegisterSink("clickhouse", func(def config.SinkDef, _ *metrics.Metrics) (imodel.Sink, error) {
		return NewFeatureSink(def.ClickHouse)
	})
}

const createFeaturesTable = `
CREATE TABLE IF NOT EXISTS packet_features (
    Timestamp      DateTime64(6),
    FlowID         String,
    SrcMAC         String,
    DstMAC         String,
    SrcIP          String,
    DstIP          String,
    SrcPort        Nullable(UInt16),
    DstPort        Nullable(UInt16),
    Protocol       String,
    Length         UInt32,
    PayloadLength  UInt32,
    TTL            Nullable(UInt8),
    SynFlag        Nullable(UInt8),
    AckFlag        Nullable(UInt8),
    FinFlag        Nullable(UInt8),
    RstFlag        Nullable(UInt8),
    WindowSize     Nullable(UInt16),
    Entropy        Float64,
    PacketsInFlow  UInt64,
    InterArrivalMs Float64,
    FlowDurationMs Float64,
    Verdict        LowCardinality(String)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Verdict, Timestamp);
`

const (
	defaultBatchSize     = 5000
	defaultFlushInterval = 5 * time.Second
	sendTimeout          = 30 * time.Second
)

var errBufferFull = errors.New("clickhouse row buffer full")

type batchConn interface {
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

// FeatureSink buffers feature rows and inserts them into packet_features in
// batches from a background flusher, when a batch fills up and on every flush
// interval. Rows of a failed insert go back to the buffer and are retried.
// The buffer is bounded; rows that do not fit are rejected.
type FeatureSink struct {
	conn        batchConn
	batchSize   int
	maxBuffered int

	mu      sync.Mutex
	rows    [][]any
	dropped atomic.Uint64

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewFeatureSink connects to ClickHouse, ensures the table exists and starts
// the flusher.
func NewFeatureSink(cfg config.ClickHouseConfig) (*FeatureSink, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := ensureTable(conn, createFeaturesTable); err != nil {
		return nil, err
	}
	log.Println("Successfully connected to ClickHouse and ensured packet_features exists.")

	interval := config.Duration(cfg.FlushInterval)
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return newFeatureSink(conn, cfg.BatchSize, cfg.MaxBufferedRows, interval), nil
}

func newFeatureSink(conn batchConn, batchSize, maxBuffered int, interval time.Duration) *FeatureSink {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxBuffered <= 0 {
		maxBuffered = 10 * batchSize
	}
	s := &FeatureSink{
		conn:        conn,
		batchSize:   batchSize,
		maxBuffered: max(maxBuffered, batchSize),
		kick:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runFlusher(interval)
	return s
}

func (s *FeatureSink) Name() string { return "clickhouse" }

// Consume buffers one row and wakes the flusher once a batch is full. It
// never talks to ClickHouse itself.
func (s *FeatureSink) Consume(_ context.Context, rec *model.FeatureRecord, verdict model.Verdict) error {
	s.mu.Lock()
	if len(s.rows) >= s.maxBuffered {
		s.mu.Unlock()
		s.dropped.Add(1)
		return errBufferFull
	}
	s.rows = append(s.rows, FeatureRow(rec, verdict))
	full := len(s.rows) >= s.batchSize
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Dropped returns the number of rows rejected because the buffer was full.
func (s *FeatureSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Buffered returns the number of rows waiting to be inserted.
func (s *FeatureSink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *FeatureSink) runFlusher(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.kick:
		case <-s.done:
			return
		}
		if err := s.flush(); err != nil {
			log.Printf("Error flushing packet features, %d rows kept for retry: %v", s.Buffered(), err)
		}
	}
}

// flush inserts the buffered rows batch by batch and stops at the first
// failure, which puts that batch back in front of the buffer.
func (s *FeatureSink) flush() error {
	for {
		s.mu.Lock()
		n := min(len(s.rows), s.batchSize)
		if n == 0 {
			s.mu.Unlock()
			return nil
		}
		batch := s.rows[:n:n]
		s.rows = s.rows[n:]
		s.mu.Unlock()

		if err := s.send(batch); err != nil {
			s.requeue(batch)
			return err
		}
	}
}

func (s *FeatureSink) requeue(batch [][]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([][]any, 0, len(batch)+len(s.rows))
	rows = append(rows, batch...)
	rows = append(rows, s.rows...)
	if excess := len(rows) - s.maxBuffered; excess > 0 {
		// Keep the newest rows.
		rows = rows[excess:]
		s.dropped.Add(uint64(excess))
	}
	s.rows = rows
}

func (s *FeatureSink) send(rows [][]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO packet_features")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close stops the flusher, tries once more to send the remaining rows and
// closes the connection.
func (s *FeatureSink) Close() error {
	close(s.done)
	s.wg.Wait()
	err := s.flush()
	if err != nil {
		log.Printf("Closing clickhouse sink with %d unsent rows", s.Buffered())
	}
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// FeatureRow converts a record into a packet_features row. Absent optional
// fields become NULL.
func FeatureRow(rec *model.FeatureRecord, verdict model.Verdict) []any {
	var syn, ack, fin, rst *uint8
	var window *uint16
	if rec.TCP != nil {
		syn, ack, fin, rst = flag(rec.TCP.SYN), flag(rec.TCP.ACK), flag(rec.TCP.FIN), flag(rec.TCP.RST)
		w := rec.TCP.Window
		window = &w
	}
	return []any{
		rec.Timestamp,
		rec.FlowID,
		rec.SrcMAC,
		rec.DstMAC,
		rec.SrcIP,
		rec.DstIP,
		rec.SrcPort,
		rec.DstPort,
		rec.Protocol,
		uint32(rec.Length),
		uint32(rec.PayloadLength),
		rec.TTL,
		syn, ack, fin, rst,
		window,
		rec.Entropy,
		rec.PacketsInFlow,
		rec.InterArrivalMs,
		rec.FlowDurationMs,
		verdict.Reason.String(),
	}
}

func flag(set bool) *uint8 {
	v := uint8(0)
	if set {
		v = 1
	}
	return &v
}
