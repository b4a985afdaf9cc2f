package factory

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/metrics"
	imodel "Go2NetSentry/internal/model"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubSink struct {
	name   string
	closed *int
}

func (s stubSink) Name() string { return s.name }
func (s stubSink) Consume(context.Context, *model.FeatureRecord, model.Verdict) error {
	return nil
}
func (s stubSink) Close() error {
	*s.closed++
	return nil
}

type stubWriter struct{ interval time.Duration }

func (w stubWriter) Write([]model.FlowSnapshot, string) error { return nil }
func (w stubWriter) GetInterval() time.Duration             { return w.interval }

func TestCreateSinks(t *testing.T) {
	closed := 0
	RegisterSink("test-ok", func(def config.SinkDef, _ *metrics.Metrics) (imodel.Sink, error) {
		return stubSink{name: def.CSV.Path, closed: &closed}, nil
	})
	RegisterSink("test-fail", func(config.SinkDef, *metrics.Metrics) (imodel.Sink, error) {
		return nil, errors.New("cannot connect")
	})

	cfg := config.Default()
	cfg.Sinks = []config.SinkDef{
		{Type: "test-ok", Enabled: true, CSV: config.CSVConfig{Path: "first"}},
		{Type: "test-fail", Enabled: false},
		{Type: "test-ok", Enabled: true, CSV: config.CSVConfig{Path: "second"}},
	}
	sinks, err := CreateSinks(cfg, nil)
	if err != nil {
		t.Fatalf("CreateSinks failed: %v", err)
	}
	if len(sinks) != 2 || sinks[0].Name() != "first" || sinks[1].Name() != "second" {
		t.Fatalf("Unexpected sinks %+v", sinks)
	}

	cfg.Sinks[1].Enabled = true
	if _, err := CreateSinks(cfg, nil); err == nil || !strings.Contains(err.Error(), "cannot connect") {
		t.Fatalf("Expected factory error, got %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected the sink created before the failure to be closed, got %d closes", closed)
	}

	cfg.Sinks = []config.SinkDef{{Type: "nope", Enabled: true}}
	if _, err := CreateSinks(cfg, nil); err == nil {
		t.Error("Expected error for unknown sink type")
	}
}

func TestCreateWriters(t *testing.T) {
	RegisterWriter("test-writer", func(def config.WriterDef) (imodel.Writer, error) {
		return stubWriter{interval: config.Duration(def.SnapshotInterval)}, nil
	})

	cfg := config.Default()
	cfg.Snapshot.Writers = []config.WriterDef{{Type: "test-writer", Enabled: true, SnapshotInterval: "5s"}}
	writers, err := CreateWriters(cfg)
	if err != nil {
		t.Fatalf("CreateWriters failed: %v", err)
	}
	if len(writers) != 1 || writers[0].GetInterval() != 5*time.Second {
		t.Errorf("Unexpected writers %+v", writers)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	RegisterSink("test-dup", func(config.SinkDef, *metrics.Metrics) (imodel.Sink, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	RegisterSink("test-dup", func(config.SinkDef, *metrics.Metrics) (imodel.Sink, error) { return nil, nil })
}
