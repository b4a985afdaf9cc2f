package query

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/storage"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// AggregateRequest filters the verdict aggregation.
type AggregateRequest struct {
	Since   *time.Time `json:"since,omitempty"`
	Until   *time.Time `json:"until,omitempty"`
	Verdict string     `json:"verdict,omitempty"`
}

// VerdictSummary aggregates the stored packets with one verdict.
type VerdictSummary struct {
	Verdict string `json:"verdict"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	Flows   uint64 `json:"flows"`
}

// TraceRequest selects a flow by any subset of its key fields.
type TraceRequest struct {
	FlowKeys map[string]string `json:"flow_keys"`
	EndTime  *time.Time        `json:"end_time,omitempty"`
}

// FlowLifecycle describes a flow across all stored snapshots.
type FlowLifecycle struct {
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	TotalPackets uint64    `json:"total_packets"`
	TotalBytes   uint64    `json:"total_bytes"`
}

// Querier defines the interface for querying stored features and flows.
type Querier interface {
	AggregateVerdicts(ctx context.Context, req *AggregateRequest) ([]VerdictSummary, error)
	TraceFlow(ctx context.Context, req *TraceRequest) (*FlowLifecycle, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := storage.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// AggregateVerdicts counts packets, bytes and flows per verdict.
func (q *clickhouseQuerier) AggregateVerdicts(ctx context.Context, req *AggregateRequest) ([]VerdictSummary, error) {
	query, args := buildAggregateQuery(req)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var summaries []VerdictSummary
	for rows.Next() {
		var s VerdictSummary
		if err := rows.Scan(&s.Verdict, &s.Packets, &s.Bytes, &s.Flows); err != nil {
			return nil, fmt.Errorf("failed to scan aggregation result: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// TraceFlow executes a query to trace the lifecycle of a single flow.
func (q *clickhouseQuerier) TraceFlow(ctx context.Context, req *TraceRequest) (*FlowLifecycle, error) {
	query, args, err := buildTraceQuery(req)
	if err != nil {
		return nil, err
	}

	var result FlowLifecycle
	row := q.conn.QueryRow(ctx, query, args...)
	if err := row.Scan(&result.FirstSeen, &result.LastSeen, &result.TotalPackets, &result.TotalBytes); err != nil {
		return nil, fmt.Errorf("failed to scan flow lifecycle result: %w", err)
	}
	return &result, nil
}

func buildAggregateQuery(req *AggregateRequest) (string, []any) {
	var b strings.Builder
	b.WriteString(`
		SELECT
			Verdict,
			count() AS Packets,
			sum(Length) AS Bytes,
			uniqExact(FlowID) AS Flows
		FROM packet_features`)

	var where []string
	var args []any
	if req.Since != nil {
		where = append(where, "Timestamp >= ?")
		args = append(args, *req.Since)
	}
	if req.Until != nil {
		where = append(where, "Timestamp <= ?")
		args = append(args, *req.Until)
	}
	if req.Verdict != "" {
		where = append(where, "Verdict = ?")
		args = append(args, req.Verdict)
	}
	if len(where) > 0 {
		b.WriteString("\n\t\tWHERE " + strings.Join(where, " AND "))
	}
	b.WriteString("\n\t\tGROUP BY Verdict\n\t\tORDER BY Packets DESC")
	return b.String(), args
}

func buildTraceQuery(req *TraceRequest) (string, []any, error) {
	if len(req.FlowKeys) == 0 {
		return "", nil, fmt.Errorf("at least one flow key is required")
	}

	var b strings.Builder
	b.WriteString(`
		SELECT
			min(StartTime) AS FirstSeen,
			max(EndTime) AS LastSeen,
			max(PacketCount) AS TotalPackets,
			max(ByteCount) AS TotalBytes
		FROM flow_metrics`)

	keys := make([]string, 0, len(req.FlowKeys))
	for key := range req.FlowKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var where []string
	var args []any
	for _, key := range keys {
		// Only known columns may be used to prevent column injection.
		switch key {
		case "FlowID", "SrcIP", "DstIP", "SrcPort", "DstPort", "Protocol":
			where = append(where, key+" = ?")
			args = append(args, req.FlowKeys[key])
		default:
			return "", nil, fmt.Errorf("unsupported flow key: %s, only FlowID, SrcIP, DstIP, SrcPort, DstPort, Protocol are allowed", key)
		}
	}
	if req.EndTime != nil {
		where = append(where, "Timestamp <= ?")
		args = append(args, *req.EndTime)
	}
	b.WriteString("\n\t\tWHERE " + strings.Join(where, " AND "))
	return b.String(), args, nil
}
