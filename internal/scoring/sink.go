package scoring

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/factory"
	"Go2NetSentry/internal/metrics"
	imodel "Go2NetSentry/internal/model"
	"context"
	"log"
)

// NormalLabel is the label the model assigns to benign traffic.
const NormalLabel = "normal"

func init() {
	factory.RegisterSink("scorer", func(def config.SinkDef, m *metrics.Metrics) (imodel.Sink, error) {
		client, err := NewClient(def.Scorer.Addr, config.Duration(def.Scorer.Timeout))
		if err != nil {
			return nil, err
		}
		log.Printf("Scoring sink using service at %s", def.Scorer.Addr)
		return NewSink(client, m), nil
	})
}

// Sink scores every forwarded record, counts the labels and logs records the
// model does not consider normal.
type Sink struct {
	scorer  imodel.Scorer
	metrics *metrics.Metrics
}

// NewSink wraps a scorer. m may be nil.
func NewSink(scorer imodel.Scorer, m *metrics.Metrics) *Sink {
	return &Sink{scorer: scorer, metrics: m}
}

func (s *Sink) Name() string { return "scorer" }

func (s *Sink) Consume(ctx context.Context, rec *model.FeatureRecord, verdict model.Verdict) error {
	score, err := s.scorer.Score(ctx, rec)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Scores.WithLabelValues(score.Label).Inc()
	}
	if score.Label != NormalLabel {
		log.Printf("Flow %s scored as '%s' (%.3f), filter verdict %s", rec.FlowID, score.Label, score.Score, verdict)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.scorer.Close()
}
