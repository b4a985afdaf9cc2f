package factory

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/metrics"
	"Go2NetSentry/internal/model"
	"fmt"
	"log"
)

// SinkFactory creates a sink from its config definition.
type SinkFactory func(def config.SinkDef, m *metrics.Metrics) (model.Sink, error)

// WriterFactory creates a flow snapshot writer from its config definition.
type WriterFactory func(def config.WriterDef) (model.Writer, error)

var (
	sinkRegistry   = make(map[string]SinkFactory)
	writerRegistry = make(map[string]WriterFactory)
)

// RegisterSink registers a new sink type with its factory function.
func RegisterSink(name string, factory SinkFactory) {
	if _, exists := sinkRegistry[name]; exists {
		panic(fmt.Sprintf("sink type '%s' already registered", name))
	}
	sinkRegistry[name] = factory
}

// RegisterWriter registers a new snapshot writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := writerRegistry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	writerRegistry[name] = factory
}

// CreateSinks creates every enabled sink in config order. Sinks created
// before a failure are closed again.
func CreateSinks(cfg *config.Config, m *metrics.Metrics) ([]model.Sink, error) {
	var sinks []model.Sink
	for _, def := range cfg.Sinks {
		if !def.Enabled {
			continue
		}
		log.Printf("Creating sink of type: '%s'", def.Type)

		factory, ok := sinkRegistry[def.Type]
		if !ok {
			closeAll(sinks)
			return nil, fmt.Errorf("unknown sink type: '%s'", def.Type)
		}
		sink, err := factory(def, m)
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("error creating sink type '%s': %w", def.Type, err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// CreateWriters creates every enabled snapshot writer.
func CreateWriters(cfg *config.Config) ([]model.Writer, error) {
	var writers []model.Writer
	for _, def := range cfg.Snapshot.Writers {
		if !def.Enabled {
			continue
		}
		log.Printf("Creating snapshot writer of type: '%s'", def.Type)

		factory, ok := writerRegistry[def.Type]
		if !ok {
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}
		writer, err := factory(def)
		if err != nil {
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}
		writers = append(writers, writer)
	}
	return writers, nil
}

func closeAll(sinks []model.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Printf("Error closing sink '%s': %v", s.Name(), err)
		}
	}
}
