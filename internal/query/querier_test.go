package query

import (
	"strings"
	"testing"
	"time"
)

func TestBuildAggregateQuery(t *testing.T) {
	query, args := buildAggregateQuery(&AggregateRequest{})
	if strings.Contains(query, "WHERE") || len(args) != 0 {
		t.Errorf("Unfiltered query should have no WHERE clause: %s", query)
	}

	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	query, args = buildAggregateQuery(&AggregateRequest{Since: &since, Verdict: "suspicious_port"})
	if !strings.Contains(query, "WHERE Timestamp >= ? AND Verdict = ?") {
		t.Errorf("Unexpected WHERE clause: %s", query)
	}
	if len(args) != 2 || args[1] != "suspicious_port" {
		t.Errorf("Unexpected args %v", args)
	}
}

func TestBuildTraceQuery(t *testing.T) {
	query, args, err := buildTraceQuery(&TraceRequest{FlowKeys: map[string]string{"SrcIP": "10.0.0.1", "DstPort": "443"}})
	if err != nil {
		t.Fatalf("buildTraceQuery failed: %v", err)
	}
	if !strings.Contains(query, "WHERE DstPort = ? AND SrcIP = ?") {
		t.Errorf("Keys should be applied in sorted order: %s", query)
	}
	if len(args) != 2 || args[0] != "443" || args[1] != "10.0.0.1" {
		t.Errorf("Unexpected args %v", args)
	}

	if _, _, err := buildTraceQuery(&TraceRequest{FlowKeys: map[string]string{"1=1; DROP": "x"}}); err == nil {
		t.Error("Expected error for an unknown column")
	}
	if _, _, err := buildTraceQuery(&TraceRequest{}); err == nil {
		t.Error("Expected error for an empty key set")
	}
}
