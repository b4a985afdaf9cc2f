package probe

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"log"

	"github.com/nats-io/nats.go"
)

// Publisher publishes captured frames to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ns-probe publisher"))
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish sends one raw frame with its capture metadata.
func (p *Publisher) Publish(raw model.RawPacket) error {
	return p.nc.PublishMsg(EncodeMsg(p.subject, raw))
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
