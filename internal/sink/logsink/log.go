// Package logsink prints feature records to the standard logger.
package logsink

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/factory"
	"Go2NetSentry/internal/metrics"
	imodel "Go2NetSentry/internal/model"
	"context"
	"encoding/json"
	"fmt"
	"log"
)

func init() {
	factory.RegisterSink("log", func(config.SinkDef, *metrics.Metrics) (imodel.Sink, error) {
		return New(log.Default()), nil
	})
}

// Sink writes one JSON line per record.
type Sink struct {
	logger *log.Logger
}

// New creates a log sink writing to logger.
func New(logger *log.Logger) *Sink {
	return &Sink{logger: logger}
}

func (s *Sink) Name() string { return "log" }

func (s *Sink) Consume(_ context.Context, rec *model.FeatureRecord, verdict model.Verdict) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	s.logger.Printf("[%s] %s", verdict.Reason, data)
	return nil
}

func (s *Sink) Close() error { return nil }
