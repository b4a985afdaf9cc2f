package manager

import (
	"Go2NetSentry/internal/alerter"
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/engine/features"
	"Go2NetSentry/internal/engine/filter"
	"Go2NetSentry/internal/engine/flowtable"
	"Go2NetSentry/internal/engine/pipeline"
	"Go2NetSentry/internal/factory"
	"Go2NetSentry/internal/metrics"
	imodel "Go2NetSentry/internal/model"
	"Go2NetSentry/internal/notification"
	_ "Go2NetSentry/internal/scoring"        // Registers the scorer sink
	_ "Go2NetSentry/internal/sink/csvsink"   // Registers the csv sink
	_ "Go2NetSentry/internal/sink/logsink"   // Registers the log sink
	_ "Go2NetSentry/internal/sink/natsfeed"  // Registers the nats sink
	_ "Go2NetSentry/internal/snapshot"       // Registers the gob writer
	"Go2NetSentry/internal/storage"          // Registers the clickhouse sink and writer
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Manager owns the flow table and the pipeline, feeds packets to the
// pipeline from a single worker and runs the background jobs around it.
type Manager struct {
	table    *flowtable.Table
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	writers  []imodel.Writer
	alerter  *alerter.Alerter

	// Packets are processed by one worker so they stay in arrival order.
	packetChannel chan model.RawPacket
	workerWg      sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	reapInterval  time.Duration
	done          chan struct{}
	snapshotterWg sync.WaitGroup
	reaperWg      sync.WaitGroup
	stopOnce      sync.Once
}

// NewManager builds the runtime from the configuration. Extra sinks are
// appended after the configured ones.
func NewManager(cfg *config.Config, extraSinks ...imodel.Sink) (*Manager, error) {
	m := metrics.New()

	scope, err := features.ParseEntropyScope(cfg.Features.EntropyScope)
	if err != nil {
		return nil, err
	}
	chainCfg, err := cfg.FilterChainConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid filter config: %w", err)
	}
	policy, err := pipeline.ParsePolicy(cfg.Pipeline.Policy)
	if err != nil {
		return nil, err
	}
	verbosity, err := pipeline.ParseVerbosity(cfg.Log.Verbosity)
	if err != nil {
		return nil, err
	}

	table := flowtable.New(flowtable.Config{
		NumShards:   cfg.FlowTable.NumShards,
		MaxFlows:    cfg.FlowTable.MaxFlows,
		IdleTimeout: config.Duration(cfg.FlowTable.IdleTimeout),
	})
	table.OnEvict(func(_ model.FlowSnapshot, cause flowtable.EvictCause) {
		m.FlowsEvicted.WithLabelValues(cause.String()).Inc()
	})

	writers, err := factory.CreateWriters(cfg)
	if err != nil {
		return nil, err
	}
	sinks, err := factory.CreateSinks(cfg, m)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, extraSinks...)

	p := pipeline.New(features.NewExtractor(table, scope), filter.NewChain(chainCfg), sinks, pipeline.Options{
		Policy:        policy,
		SinkTimeout:   config.Duration(cfg.Pipeline.SinkTimeout),
		SinkQueueSize: cfg.Pipeline.SinkQueueSize,
		Verbosity:     verbosity,
		ProgressEvery: cfg.Log.ProgressEvery,
		Metrics:       m,
	})

	var alertr *alerter.Alerter
	if cfg.Alerter.Enabled {
		if cfg.SMTP.Host != "" {
			alertr, err = alerter.NewAlerter(&cfg.Alerter, func() map[string]uint64 { return p.Stats().Verdicts }, notification.NewEmailNotifier(cfg.SMTP))
			if err != nil {
				p.Close()
				return nil, fmt.Errorf("failed to create alerter: %w", err)
			}
			log.Println("Alerter enabled and initialized.")
		} else {
			log.Println("Alerter is enabled in config, but no notifiers are configured. Alerter will not run.")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		table:         table,
		pipeline:      p,
		metrics:       m,
		writers:       writers,
		alerter:       alertr,
		packetChannel: make(chan model.RawPacket, cfg.Pipeline.SizeOfPacketChannel),
		ctx:           ctx,
		cancel:        cancel,
		reapInterval:  config.Duration(cfg.FlowTable.ReapInterval),
		done:          make(chan struct{}),
	}, nil
}

// Start begins packet processing, the snapshotters and the reaper.
func (m *Manager) Start() {
	for _, writer := range m.writers {
		m.snapshotterWg.Add(1)
		go m.runSnapshotter(writer)
		log.Printf("Started snapshotter for a writer with interval %s.", writer.GetInterval())
	}

	if m.reapInterval > 0 {
		m.reaperWg.Add(1)
		go m.runReaper()
		log.Printf("Started idle flow reaper with interval %s", m.reapInterval)
	}

	if m.alerter != nil {
		m.alerter.Start()
	}

	m.workerWg.Add(1)
	go m.worker()
	log.Println("Manager started.")
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Manager) runSnapshotter(writer imodel.Writer) {
	defer m.snapshotterWg.Done()
	interval := writer.GetInterval()
	if interval <= 0 {
		log.Printf("Invalid interval %s for writer, snapshotter will not run.", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.takeSnapshot(writer)
		case <-m.done:
			m.takeSnapshot(writer)
			return
		}
	}
}

func (m *Manager) takeSnapshot(writer imodel.Writer) {
	timestamp := time.Now().Format(storage.SnapshotTimeLayout)
	flows := m.table.Snapshot()
	m.metrics.ActiveFlows.Set(float64(len(flows)))
	if err := writer.Write(flows, timestamp); err != nil {
		log.Printf("Error writing snapshot at %s: %v", timestamp, err)
		return
	}
	log.Printf("Completed snapshot of %d flows at %s.", len(flows), timestamp)
}

// runReaper periodically removes idle flows relative to capture time.
func (m *Manager) runReaper() {
	defer m.reaperWg.Done()
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if reaped := m.table.ReapIdle(); len(reaped) > 0 {
				log.Printf("Reaped %d idle flows.", len(reaped))
			}
			m.metrics.ActiveFlows.Set(float64(m.table.Len()))
		case <-m.done:
			log.Println("Reaper shutting down.")
			return
		}
	}
}

// Stop gracefully shuts down the manager. Calls after the first do nothing.
func (m *Manager) Stop() {
	m.stopOnce.Do(m.stop)
}

func (m *Manager) stop() {
	log.Println("Manager stopping...")
	// 1. Stop accepting new packets and drain the buffered ones.
	close(m.packetChannel)
	log.Println("Waiting for worker to finish...")
	m.workerWg.Wait()

	// 2. Let snapshotters take their final snapshot and stop the reaper.
	close(m.done)
	log.Println("Waiting for snapshotters and reaper to finish...")
	m.snapshotterWg.Wait()
	m.reaperWg.Wait()

	if m.alerter != nil {
		m.alerter.Stop()
	}

	// 3. Close the sinks last, after every record has been forwarded.
	m.cancel()
	if err := m.pipeline.Close(); err != nil {
		log.Printf("Error closing sinks: %v", err)
	}

	stats := m.pipeline.Stats()
	log.Printf("Manager stopped. %d packets processed, %d forwarded, %d suppressed.", stats.Processed, stats.Forwarded, stats.Suppressed)
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	for raw := range m.packetChannel {
		m.pipeline.Process(m.ctx, raw)
	}
}

// InputChannel returns the channel packets are fed through.
func (m *Manager) InputChannel() chan<- model.RawPacket {
	return m.packetChannel
}

// Table returns the flow table.
func (m *Manager) Table() *flowtable.Table {
	return m.table
}

// Stats returns the pipeline counters.
func (m *Manager) Stats() pipeline.Stats {
	return m.pipeline.Stats()
}

// Metrics returns the Prometheus collectors.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}
