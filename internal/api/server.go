// Package api serves the sensor's HTTP and WebSocket interface.
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
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

const (
	defaultFlowLimit = 20
	maxFlowLimit     = 1000
)

// Source is the running sensor the API reports on. *manager.Manager
// implements it.
type Source interface {
	Table() *flowtable.Table
	Stats() pipeline.Stats
	Metrics() *metrics.Metrics
}

// Server is the HTTP API server.
type Server struct {
	source  Source
	hub     *Hub
	querier query.Querier
	router  *mux.Router
	server  *http.Server
	lis     net.Listener
	started time.Time
}

// NewServer builds the router. hub and querier may be nil; their routes
// then answer 503.
func NewServer(listenAddr string, source Source, hub *Hub, querier query.Querier) *Server {
	s := &Server{
		source:  source,
		hub:     hub,
		querier: querier,
		router:  mux.NewRouter(),
		started: time.Now(),
	}

	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/ws", s.wsHandler).Methods("GET")
	s.router.Handle("/metrics", source.Metrics().Handler()).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/stats", s.statsHandler).Methods("GET")
	v1.HandleFunc("/flows", s.topFlowsHandler).Methods("GET")
	v1.HandleFunc("/flows/lookup", s.lookupFlowHandler).Methods("GET")
	v1.HandleFunc("/flows/trace", s.traceFlowHandler).Methods("POST")
	v1.HandleFunc("/verdicts/aggregate", s.aggregateVerdictsHandler).Methods("POST")

	s.server = &http.Server{
		Addr:              listenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", s.server.Addr, err)
	}
	s.lis = lis

	go func() {
		log.Printf("API server starting on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("API server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.lis == nil {
		return s.server.Addr
	}
	return s.lis.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
// WebSocket clients are released when the hub is closed.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("API server shutting down...")
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.Clients()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"clients": clients,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "websocket stream is not enabled", http.StatusServiceUnavailable)
		return
	}
	s.hub.ServeHTTP(w, r)
}

// statsResponse extends the pipeline counters with table state.
type statsResponse struct {
	pipeline.Stats
	ActiveFlows int       `json:"active_flows"`
	Watermark   time.Time `json:"watermark"`
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	table := s.source.Table()
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:       s.source.Stats(),
		ActiveFlows: table.Len(),
		Watermark:   table.Watermark(),
	})
}

// FlowView is the JSON form of a flow.
type FlowView struct {
	ID             string    `json:"id"`
	SrcIP          string    `json:"src_ip"`
	DstIP          string    `json:"dst_ip"`
	SrcPort        uint16    `json:"src_port"`
	DstPort        uint16    `json:"dst_port"`
	Protocol       uint8     `json:"protocol"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	Packets        uint64    `json:"packets"`
	Bytes          uint64    `json:"bytes"`
	InterArrivalMs float64   `json:"inter_arrival_ms"`
	DurationMs     float64   `json:"duration_ms"`
}

func newFlowView(f model.FlowSnapshot) FlowView {
	v := FlowView{
		ID:             f.ID,
		SrcPort:        f.Key.SrcPort,
		DstPort:        f.Key.DstPort,
		Protocol:       f.Key.Protocol,
		FirstSeen:      f.FirstSeen,
		LastSeen:       f.LastSeen,
		Packets:        f.PacketCount,
		Bytes:          f.ByteCount,
		InterArrivalMs: float64(f.InterArrival) / float64(time.Millisecond),
		DurationMs:     float64(f.Duration()) / float64(time.Millisecond),
	}
	if f.Key.SrcIP.IsValid() {
		v.SrcIP = f.Key.SrcIP.String()
	}
	if f.Key.DstIP.IsValid() {
		v.DstIP = f.Key.DstIP.String()
	}
	return v
}

func (s *Server) topFlowsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultFlowLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = min(n, maxFlowLimit)
	}

	flows := s.source.Table().Snapshot()
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].PacketCount != flows[j].PacketCount {
			return flows[i].PacketCount > flows[j].PacketCount
		}
		return flows[i].ByteCount > flows[j].ByteCount
	})
	if len(flows) > limit {
		flows = flows[:limit]
	}

	views := make([]FlowView, 0, len(flows))
	for _, f := range flows {
		views = append(views, newFlowView(f))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) lookupFlowHandler(w http.ResponseWriter, r *http.Request) {
	key, err := parseFlowKey(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flow, ok := s.source.Table().Get(key)
	if !ok {
		http.Error(w, fmt.Sprintf("flow %s not found", key), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newFlowView(flow))
}

// parseFlowKey reads a flow key from the src_ip, dst_ip, src_port, dst_port
// and protocol query parameters. Absent parameters stay zero.
func parseFlowKey(r *http.Request) (model.FlowKey, error) {
	q := r.URL.Query()
	var key model.FlowKey
	var err error

	if v := q.Get("src_ip"); v != "" {
		if key.SrcIP, err = netip.ParseAddr(v); err != nil {
			return key, fmt.Errorf("invalid src_ip: %w", err)
		}
	}
	if v := q.Get("dst_ip"); v != "" {
		if key.DstIP, err = netip.ParseAddr(v); err != nil {
			return key, fmt.Errorf("invalid dst_ip: %w", err)
		}
	}
	if key.SrcPort, err = parsePort(q.Get("src_port")); err != nil {
		return key, fmt.Errorf("invalid src_port: %w", err)
	}
	if key.DstPort, err = parsePort(q.Get("dst_port")); err != nil {
		return key, fmt.Errorf("invalid dst_port: %w", err)
	}
	if key.Protocol, err = parseProtocol(q.Get("protocol")); err != nil {
		return key, err
	}
	return key, nil
}

func parsePort(v string) (uint16, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 16)
	return uint16(n), err
}

func parseProtocol(v string) (uint8, error) {
	switch strings.ToLower(v) {
	case "":
		return 0, nil
	case "icmp":
		return 1, nil
	case "tcp":
		return 6, nil
	case "udp":
		return 17, nil
	case "icmpv6":
		return 58, nil
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid protocol %q", v)
	}
	return uint8(n), nil
}

func (s *Server) aggregateVerdictsHandler(w http.ResponseWriter, r *http.Request) {
	if s.querier == nil {
		http.Error(w, "no clickhouse storage is configured", http.StatusServiceUnavailable)
		return
	}
	var req query.AggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := s.querier.AggregateVerdicts(r.Context(), &req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query verdicts: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) traceFlowHandler(w http.ResponseWriter, r *http.Request) {
	if s.querier == nil {
		http.Error(w, "no clickhouse storage is configured", http.StatusServiceUnavailable)
		return
	}
	var req query.TraceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := s.querier.TraceFlow(r.Context(), &req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to trace flow: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
