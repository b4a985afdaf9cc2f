// Package scoring classifies feature records through a remote gRPC scoring
// service. Requests and responses are google.protobuf.Struct messages, so no
// generated stubs are needed on either side.
package scoring

import (
	"Go2NetSentry/internal/core/model"
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "go2netsentry.scoring.v1.Scorer"
	ScoreMethod = "/" + ServiceName + "/Score"
)

// Client implements model.Scorer over gRPC.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient creates a client for the scoring service at addr. Extra dial
// options are appended after the insecure transport credentials.
func NewClient(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to scoring service: %w", err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Score sends the record's feature vector and returns the predicted label.
func (c *Client) Score(ctx context.Context, rec *model.FeatureRecord) (model.Score, error) {
	req, err := structpb.NewStruct(FeatureVector(rec))
	if err != nil {
		return model.Score{}, fmt.Errorf("failed to build feature vector: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, ScoreMethod, req, resp); err != nil {
		return model.Score{}, fmt.Errorf("scoring service call failed: %w", err)
	}
	return parseScore(resp)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// FeatureVector flattens a record into the dense columns the model was
// trained on. Absent optional fields become 0.
func FeatureVector(rec *model.FeatureRecord) map[string]any {
	v := map[string]any{
		"protocol":         rec.Protocol,
		"destination_port": 0.0,
		"length":           float64(rec.Length),
		"ttl":              0.0,
		"syn_flag":         0.0,
		"ack_flag":         0.0,
		"fin_flag":         0.0,
		"rst_flag":         0.0,
		"window_size":      0.0,
		"payload_size":     float64(rec.PayloadLength),
		"entropy":          rec.Entropy,
		"packets_in_flow":  float64(rec.PacketsInFlow),
		"inter_arrival_ms": rec.InterArrivalMs,
		"flow_duration_ms": rec.FlowDurationMs,
	}
	if rec.DstPort != nil {
		v["destination_port"] = float64(*rec.DstPort)
	}
	if rec.TTL != nil {
		v["ttl"] = float64(*rec.TTL)
	}
	if rec.TCP != nil {
		v["syn_flag"] = boolFloat(rec.TCP.SYN)
		v["ack_flag"] = boolFloat(rec.TCP.ACK)
		v["fin_flag"] = boolFloat(rec.TCP.FIN)
		v["rst_flag"] = boolFloat(rec.TCP.RST)
		v["window_size"] = float64(rec.TCP.Window)
	}
	return v
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func parseScore(resp *structpb.Struct) (model.Score, error) {
	fields := resp.GetFields()
	label, ok := fields["label"]
	if !ok {
		return model.Score{}, fmt.Errorf("scoring response has no label")
	}
	if _, isString := label.GetKind().(*structpb.Value_StringValue); !isString {
		return model.Score{}, fmt.Errorf("scoring response label is not a string")
	}
	return model.Score{
		Label: label.GetStringValue(),
		Score: fields["score"].GetNumberValue(),
	}, nil
}
