package model

import (
	"Go2NetSentry/internal/core/model"
	"context"
)

// Sink receives every forwarded feature record together with its verdict.
// Consume must not retain or modify the record.
type Sink interface {
	Name() string
	Consume(ctx context.Context, rec *model.FeatureRecord, verdict model.Verdict) error
	Close() error
}
