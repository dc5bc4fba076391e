package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/poyrazK/cardgate/internal/core/domain"
)

// NATSSubjectPrefix is followed by the event type, e.g. cards.card.activated.
const NATSSubjectPrefix = "cards."

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

type NATSPublisher struct {
	conn natsConn
}

// ConnectNATS dials url, authenticating with token when it is set.
func ConnectNATS(url, token string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("cardgate"),
		nats.MaxReconnects(-1),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}

func NewNATSPublisher(conn natsConn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func (p *NATSPublisher) Publish(ctx context.Context, event domain.CardEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(NATSSubjectPrefix+string(event.Type), data); err != nil {
		return err
	}
	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}
	return p.conn.FlushTimeout(timeout)
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
