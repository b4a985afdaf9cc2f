package model

import (
	"Go2NetSentry/internal/core/model"
	"context"
)

// Scorer classifies a single feature record using an external model.
type Scorer interface {
	Score(ctx context.Context, rec *model.FeatureRecord) (model.Score, error)
	Close() error
}
