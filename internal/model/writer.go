package model

import (
	"Go2NetSentry/internal/core/model"
	"time"
)

// Writer defines a generic interface for persisting flow table snapshots.
type Writer interface {
	// Write persists one snapshot of the flow table taken at timestamp.
	Write(flows []model.FlowSnapshot, timestamp string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration
}
