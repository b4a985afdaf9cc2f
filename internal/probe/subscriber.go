package probe

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"log"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// PacketHandler processes a received raw frame.
type PacketHandler func(raw model.RawPacket)

// Subscriber consumes raw frames from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string

	// mu is held for reading by running handlers; Close takes it for
	// writing so no handler runs after Close returns.
	mu     sync.RWMutex
	closed bool
	quit   chan struct{}
	once   sync.Once

	received atomic.Uint64
	invalid  atomic.Uint64
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ns-sensor subscriber"))
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return newSubscriber(nc, cfg.Subject), nil
}

func newSubscriber(nc *nats.Conn, subject string) *Subscriber {
	return &Subscriber{nc: nc, subject: subject, quit: make(chan struct{})}
}

// Start subscribes to the configured subject and hands every decodable
// frame to handler. Undecodable messages are logged and skipped.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, s.handleMsg(handler))
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for messages...", s.subject)
	return nil
}

func (s *Subscriber) handleMsg(handler PacketHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return
		}

		raw, err := DecodeMsg(msg)
		if err != nil {
			s.invalid.Add(1)
			log.Printf("Dropping invalid probe message: %v", err)
			return
		}
		s.received.Add(1)
		handler(raw)
	}
}

// Forward starts the subscription and pushes every frame into out, which is
// typically a manager's input channel. out must stay open until Close returns.
func (s *Subscriber) Forward(out chan<- model.RawPacket) error {
	return s.Start(func(raw model.RawPacket) {
		select {
		case out <- raw:
		case <-s.quit:
		}
	})
}

// Counts returns the number of frames delivered and messages dropped.
func (s *Subscriber) Counts() (received, invalid uint64) {
	return s.received.Load(), s.invalid.Load()
}

// Close unsubscribes, waits for running handlers and closes the NATS
// connection.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		close(s.quit)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.sub != nil {
			s.sub.Unsubscribe()
		}
		if s.nc != nil {
			s.nc.Close()
			log.Println("NATS connection closed.")
		}
	})
}
