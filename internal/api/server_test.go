package api

import (
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/engine/flowtable"
	"Go2NetSentry/internal/engine/pipeline"
	"Go2NetSentry/internal/metrics"
	"Go2NetSentry/internal/query"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	table   *flowtable.Table
	metrics *metrics.Metrics
	stats   pipeline.Stats
}

func (f *fakeSource) Table() *flowtable.Table   { return f.table }
func (f *fakeSource) Stats() pipeline.Stats     { return f.stats }
func (f *fakeSource) Metrics() *metrics.Metrics { return f.metrics }

type fakeQuerier struct {
	lastAggregate *query.AggregateRequest
	err           error
}

func (q *fakeQuerier) AggregateVerdicts(_ context.Context, req *query.AggregateRequest) ([]query.VerdictSummary, error) {
	q.lastAggregate = req
	if q.err != nil {
		return nil, q.err
	}
	return []query.VerdictSummary{{Verdict: "pass", Packets: 10, Bytes: 1000, Flows: 2}}, nil
}

func (q *fakeQuerier) TraceFlow(_ context.Context, req *query.TraceRequest) (*query.FlowLifecycle, error) {
	if q.err != nil {
		return nil, q.err
	}
	return &query.FlowLifecycle{TotalPackets: 7}, nil
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func flowKey(srcPort uint16) model.FlowKey {
	return model.FlowKey{
		SrcIP:    netip.MustParseAddr("10.0.0.1"),
		DstIP:    netip.MustParseAddr("10.0.0.2"),
		SrcPort:  srcPort,
		DstPort:  443,
		Protocol: 6,
	}
}

func newTestServer(t *testing.T, querier query.Querier) (*Server, *fakeSource) {
	t.Helper()
	src := &fakeSource{
		table:   flowtable.New(flowtable.Config{NumShards: 4}),
		metrics: metrics.New(),
		stats:   pipeline.Stats{Processed: 5, Forwarded: 5, Verdicts: map[string]uint64{"pass": 4, "suspicious_port": 1}},
	}
	for i := 0; i < 3; i++ {
		src.table.Observe(flowKey(1000), base.Add(time.Duration(i)*time.Millisecond), 100)
	}
	src.table.Observe(flowKey(2000), base, 60)

	return NewServer("127.0.0.1:0", src, nil, querier), src
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, "GET", "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 5, body["processed"])
	assert.EqualValues(t, 2, body["active_flows"])
	assert.EqualValues(t, 1, body["verdicts"].(map[string]any)["suspicious_port"])
}

func TestTopFlows(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, "GET", "/api/v1/flows?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var flows []FlowView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flows))
	require.Len(t, flows, 1)
	assert.EqualValues(t, 1000, flows[0].SrcPort)
	assert.EqualValues(t, 3, flows[0].Packets)
	assert.InDelta(t, 2.0, flows[0].DurationMs, 1e-9)

	rec = do(t, s, "GET", "/api/v1/flows", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flows))
	assert.Len(t, flows, 2)

	rec = do(t, s, "GET", "/api/v1/flows?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookupFlow(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, "GET", "/api/v1/flows/lookup?src_ip=10.0.0.1&dst_ip=10.0.0.2&src_port=2000&dst_port=443&protocol=tcp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var flow FlowView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flow))
	assert.EqualValues(t, 1, flow.Packets)
	assert.EqualValues(t, 60, flow.Bytes)

	// Keys are directional.
	rec = do(t, s, "GET", "/api/v1/flows/lookup?src_ip=10.0.0.2&dst_ip=10.0.0.1&src_port=443&dst_port=2000&protocol=6", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "GET", "/api/v1/flows/lookup?src_ip=not-an-ip", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, "GET", "/api/v1/flows/lookup?protocol=sctp-ish", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, src := newTestServer(t, nil)
	src.metrics.PacketsProcessed.Add(3)

	rec := do(t, s, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go2netsentry_packets_processed_total 3")
}

func TestQueryEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, "POST", "/api/v1/verdicts/aggregate", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(t, s, "GET", "/ws", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	q := &fakeQuerier{}
	s, _ = newTestServer(t, q)

	rec = do(t, s, "POST", "/api/v1/verdicts/aggregate", `{"verdict":"pass","since":"2024-05-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, q.lastAggregate)
	assert.Equal(t, "pass", q.lastAggregate.Verdict)
	require.NotNil(t, q.lastAggregate.Since)
	var summaries []query.VerdictSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	assert.EqualValues(t, 10, summaries[0].Packets)

	rec = do(t, s, "POST", "/api/v1/flows/trace", `{"flow_keys":{"SrcPort":"1000"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_packets":7`)

	rec = do(t, s, "POST", "/api/v1/flows/trace", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q.err = errors.New("clickhouse down")
	rec = do(t, s, "POST", "/api/v1/flows/trace", `{"flow_keys":{"SrcPort":"1000"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StartShutdown(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
