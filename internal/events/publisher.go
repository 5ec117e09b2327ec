// Package events broadcasts pool lifecycle milestones for downstream
// consumers (notification workers, analytics).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// PoolEvent is published on pool milestones and status changes.
type PoolEvent struct {
	PoolID     string    `json:"pool_id"`
	Kind       string    `json:"kind"` // milestone.half | milestone.full | status.changed
	Status     string    `json:"status,omitempty"`
	PledgedQty int       `json:"pledged_qty"`
	TargetQty  int       `json:"target_qty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	PublishPoolEvent(ctx context.Context, evt PoolEvent) error
	Close()
}

// NoopPublisher is wired when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishPoolEvent(context.Context, PoolEvent) error { return nil }
func (NoopPublisher) Close()                                            {}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) PublishPoolEvent(_ context.Context, evt PoolEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.conn.Publish("pools."+evt.Kind, data)
}

func (p *NATSPublisher) Close() {
	p.conn.Close()
}
