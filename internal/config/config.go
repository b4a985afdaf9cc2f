package config

import (
	"Go2NetSentry/internal/engine/filter"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// CaptureConfig selects the packet source.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	PcapFile    string `yaml:"pcap_file"`
	SnapLen     int32  `yaml:"snap_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	BPFFilter   string `yaml:"bpf_filter"`
}

// FeaturesConfig tunes feature extraction.
type FeaturesConfig struct {
	EntropyScope string `yaml:"entropy_scope"`
}

// FlowTableConfig bounds the flow table.
type FlowTableConfig struct {
	NumShards    uint32 `yaml:"num_shards"`
	MaxFlows     int    `yaml:"max_flows"`
	IdleTimeout  string `yaml:"idle_timeout"`
	ReapInterval string `yaml:"reap_interval"`
}

// FilterConfig holds the filter chain thresholds.
type FilterConfig struct {
	MaxPayloadSize  int      `yaml:"max_payload_size"`
	MinEntropy      float64  `yaml:"min_entropy"`
	MaxEntropy      float64  `yaml:"max_entropy"`
	SuspiciousPorts []string `yaml:"suspicious_ports"`
}

// PipelineConfig controls the runtime manager and sink forwarding.
type PipelineConfig struct {
	Policy              string `yaml:"policy"`
	SinkTimeout         string `yaml:"sink_timeout"`
	SinkQueueSize       int    `yaml:"sink_queue_size"`
	SizeOfPacketChannel int    `yaml:"size_of_packet_channel"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Database      string `yaml:"database"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval string `yaml:"flush_interval"`
	// MaxBufferedRows bounds the rows kept while ClickHouse is slow or down.
	// Zero selects ten batches.
	MaxBufferedRows int `yaml:"max_buffered_rows"`
}

// CSVConfig configures the CSV sink.
type CSVConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig configures the feature feed.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ScorerConfig configures the remote scoring client.
type ScorerConfig struct {
	Addr    string `yaml:"addr"`
	Timeout string `yaml:"timeout"`
}

// SinkDef defines a single sink from the config file.
type SinkDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	CSV        CSVConfig        `yaml:"csv"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
	Scorer     ScorerConfig     `yaml:"scorer"`
}

// WriterDef defines a single flow snapshot writer.
type WriterDef struct {
	Type             string           `yaml:"type"`
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	RootPath         string           `yaml:"root_path"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
}

// SnapshotConfig lists the flow snapshot writers.
type SnapshotConfig struct {
	Writers []WriterDef `yaml:"writers"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// AlerterRule defines a threshold on the number of rejections with a given
// reason during one check interval.
type AlerterRule struct {
	Name      string `yaml:"name"`
	Reason    string `yaml:"reason"`
	Operator  string `yaml:"operator"`
	Threshold uint64 `yaml:"threshold"`
}

// AlerterConfig holds the alerter settings.
type AlerterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval string        `yaml:"check_interval"`
	Rules         []AlerterRule `yaml:"rules"`
}

// SMTPConfig holds the email notifier settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// ProbeConfig holds the NATS transport used between probes and sensors.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// PersistenceConfig controls raw capture persistence.
type PersistenceConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Path              string `yaml:"path"`
	Encoding          string `yaml:"encoding"`
	ChannelBufferSize int    `yaml:"channel_buffer_size"`
}

// LogConfig controls log verbosity.
type LogConfig struct {
	Verbosity     string `yaml:"verbosity"`
	ProgressEvery uint64 `yaml:"progress_every"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture     CaptureConfig     `yaml:"capture"`
	Features    FeaturesConfig    `yaml:"features"`
	FlowTable   FlowTableConfig   `yaml:"flow_table"`
	Filter      FilterConfig      `yaml:"filter"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Sinks       []SinkDef         `yaml:"sinks"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	API         APIConfig         `yaml:"api"`
	Alerter     AlerterConfig     `yaml:"alerter"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	Probe       ProbeConfig       `yaml:"probe"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			SnapLen:     1600,
			Promiscuous: true,
		},
		Features: FeaturesConfig{EntropyScope: "frame"},
		FlowTable: FlowTableConfig{
			NumShards:    256,
			MaxFlows:     100000,
			IdleTimeout:  "2m",
			ReapInterval: "10s",
		},
		Filter: FilterConfig{
			MaxPayloadSize:  2000,
			MinEntropy:      0.5,
			MaxEntropy:      8.0,
			SuspiciousPorts: append([]string(nil), filter.DefaultSuspiciousPorts...),
		},
		Pipeline: PipelineConfig{
			Policy:              "observe",
			SinkTimeout:         "2s",
			SinkQueueSize:       64,
			SizeOfPacketChannel: 10000,
		},
		API:     APIConfig{ListenAddr: ":8080"},
		Alerter: AlerterConfig{CheckInterval: "1m"},
		SMTP:    SMTPConfig{Port: 587},
		Probe: ProbeConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "gons.packets.raw",
		},
		Persistence: PersistenceConfig{
			Path:              "captures",
			Encoding:          "pcap",
			ChannelBufferSize: 10000,
		},
		Log: LogConfig{
			Verbosity:     "basic",
			ProgressEvery: 10000,
		},
	}
}

// LoadConfig reads the configuration from a YAML file, applies defaults for
// every field the file leaves out and validates the result.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FilterChainConfig converts the filter section into filter chain thresholds.
func (c *Config) FilterChainConfig() (filter.Config, error) {
	ports, err := filter.ParsePorts(c.Filter.SuspiciousPorts)
	if err != nil {
		return filter.Config{}, err
	}
	return filter.Config{
		MaxPayloadSize:  c.Filter.MaxPayloadSize,
		MinEntropy:      c.Filter.MinEntropy,
		MaxEntropy:      c.Filter.MaxEntropy,
		SuspiciousPorts: ports,
	}, nil
}

// Validate checks every section and reports the first problem found.
func (c *Config) Validate() error {
	switch c.Features.EntropyScope {
	case "", "frame", "payload":
	default:
		return invalid("features.entropy_scope %q must be frame or payload", c.Features.EntropyScope)
	}

	if c.FlowTable.MaxFlows < 0 {
		return invalid("flow_table.max_flows must not be negative")
	}
	if err := checkDuration("flow_table.idle_timeout", c.FlowTable.IdleTimeout, true); err != nil {
		return err
	}
	if err := checkDuration("flow_table.reap_interval", c.FlowTable.ReapInterval, true); err != nil {
		return err
	}

	fc, err := c.FilterChainConfig()
	if err != nil {
		return invalid("filter.suspicious_ports: %v", err)
	}
	if err := fc.Validate(); err != nil {
		return invalid("filter: %v", err)
	}

	switch c.Pipeline.Policy {
	case "", "observe", "drop":
	default:
		return invalid("pipeline.policy %q must be observe or drop", c.Pipeline.Policy)
	}
	if err := checkDuration("pipeline.sink_timeout", c.Pipeline.SinkTimeout, true); err != nil {
		return err
	}
	if c.Pipeline.SinkQueueSize < 0 {
		return invalid("pipeline.sink_queue_size must not be negative")
	}
	if c.Pipeline.SizeOfPacketChannel < 0 {
		return invalid("pipeline.size_of_packet_channel must not be negative")
	}

	for i, s := range c.Sinks {
		if !s.Enabled {
			continue
		}
		if s.Type == "" {
			return invalid("sinks[%d].type is required", i)
		}
		if s.Type == "scorer" {
			if err := checkDuration(fmt.Sprintf("sinks[%d].scorer.timeout", i), s.Scorer.Timeout, true); err != nil {
				return err
			}
		}
		if s.Type == "clickhouse" {
			if err := checkDuration(fmt.Sprintf("sinks[%d].clickhouse.flush_interval", i), s.ClickHouse.FlushInterval, true); err != nil {
				return err
			}
			if s.ClickHouse.MaxBufferedRows < 0 {
				return invalid("sinks[%d].clickhouse.max_buffered_rows must not be negative", i)
			}
		}
	}
	for i, w := range c.Snapshot.Writers {
		if !w.Enabled {
			continue
		}
		if err := checkDuration(fmt.Sprintf("snapshot.writers[%d].snapshot_interval", i), w.SnapshotInterval, false); err != nil {
			return err
		}
	}

	if c.Alerter.Enabled {
		if err := checkDuration("alerter.check_interval", c.Alerter.CheckInterval, false); err != nil {
			return err
		}
		for _, r := range c.Alerter.Rules {
			switch r.Operator {
			case ">", ">=", "<", "<=", "==":
			default:
				return invalid("alerter rule %q: unsupported operator %q", r.Name, r.Operator)
			}
		}
	}

	switch c.Persistence.Encoding {
	case "pcap", "text":
	default:
		if c.Persistence.Enabled {
			return invalid("persistence.encoding %q must be pcap or text", c.Persistence.Encoding)
		}
	}

	switch c.Log.Verbosity {
	case "", "none", "basic", "detailed":
	default:
		return invalid("log.verbosity %q must be none, basic or detailed", c.Log.Verbosity)
	}
	return nil
}

// checkDuration validates a duration string. Empty strings are accepted when
// optional is set; otherwise the duration must be positive.
func checkDuration(field, value string, optional bool) error {
	if value == "" && optional {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return invalid("%s: %v", field, err)
	}
	if d < 0 || (d == 0 && !optional) {
		return invalid("%s must be a positive duration", field)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Duration parses a duration that Validate already accepted. Empty strings
// yield zero.
func Duration(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, _ := time.ParseDuration(value)
	return d
}
