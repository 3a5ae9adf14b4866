package queue

import (
	"context"

	"go.uber.org/zap"
)

// NopPublisher logs events instead of sending them. Used when no broker is configured.
type NopPublisher struct {
	log *zap.Logger
}

// NewNopPublisher creates a publisher that only logs.
func NewNopPublisher(log *zap.Logger) *NopPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &NopPublisher{log: log}
}

// Publish implements Publisher.
func (p *NopPublisher) Publish(_ context.Context, event *Event) error {
	p.log.Debug("identity_event_dropped",
		zap.String("event_type", string(event.Type)),
		zap.String("portal_id", event.PortalID),
		zap.String("developer_id", event.DeveloperID),
	)
	return nil
}

// Close implements Publisher.
func (p *NopPublisher) Close() error { return nil }

var (
	_ Publisher  = (*NopPublisher)(nil)
	_ EventQueue = (*RabbitMQQueue)(nil)
	_ DLQPurger  = (*RabbitMQQueue)(nil)
)
