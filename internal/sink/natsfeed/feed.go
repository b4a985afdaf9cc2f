// Package natsfeed publishes feature records to NATS as protobuf Structs.
package natsfeed

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/factory"
	"Go2NetSentry/internal/metrics"
	imodel "Go2NetSentry/internal/model"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	factory.RegisterSink("nats", func(def config.SinkDef, _ *metrics.Metrics) (imodel.Sink, error) {
		return New(def.NATS)
	})
}

// DefaultSubject is used when the config leaves the subject empty.
const DefaultSubject = "gons.features"

// Feed publishes passing records on the subject and rejected records on
// "<subject>.rejected".
type Feed struct {
	nc      *nats.Conn
	subject string
}

// New connects to NATS.
func New(cfg config.NATSConfig) (*Feed, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	nc, err := nats.Connect(url, nats.Name("go2netsentry-feed"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Feature feed connected to NATS server at %s, subject '%s'", url, subject)
	return &Feed{nc: nc, subject: subject}, nil
}

func (f *Feed) Name() string { return "nats" }

func (f *Feed) Consume(_ context.Context, rec *model.FeatureRecord, verdict model.Verdict) error {
	msg, err := RecordStruct(rec, verdict)
	if err != nil {
		return err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return f.nc.Publish(Subject(f.subject, verdict), data)
}

// Close drains and closes the NATS connection.
func (f *Feed) Close() error {
	return f.nc.Drain()
}

// Subject returns the subject a record with the given verdict goes to.
func Subject(base string, verdict model.Verdict) string {
	if verdict.Rejected() {
		return base + ".rejected"
	}
	return base
}

// RecordStruct converts a record into a protobuf Struct. Absent optional
// fields are omitted.
func RecordStruct(rec *model.FeatureRecord, verdict model.Verdict) (*structpb.Struct, error) {
	fields := map[string]any{
		"timestamp":        rec.Timestamp.UTC().Format(time.RFC3339Nano),
		"flow_id":          rec.FlowID,
		"src_mac":          rec.SrcMAC,
		"dst_mac":          rec.DstMAC,
		"src_ip":           rec.SrcIP,
		"dst_ip":           rec.DstIP,
		"protocol":         rec.Protocol,
		"length":           rec.Length,
		"payload_length":   rec.PayloadLength,
		"entropy":          rec.Entropy,
		"packets_in_flow":  rec.PacketsInFlow,
		"inter_arrival_ms": rec.InterArrivalMs,
		"flow_duration_ms": rec.FlowDurationMs,
		"verdict":          verdict.Reason.String(),
	}
	if rec.SrcPort != nil {
		fields["src_port"] = int(*rec.SrcPort)
	}
	if rec.DstPort != nil {
		fields["dst_port"] = int(*rec.DstPort)
	}
	if rec.TTL != nil {
		fields["ttl"] = int(*rec.TTL)
	}
	if rec.TCP != nil {
		fields["tcp"] = map[string]any{
			"syn":    rec.TCP.SYN,
			"ack":    rec.TCP.ACK,
			"fin":    rec.TCP.FIN,
			"rst":    rec.TCP.RST,
			"window": int(rec.TCP.Window),
		}
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build record struct: %w", err)
	}
	return st, nil
}
