package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benvon/portal-identity/internal/metrics"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/queue"
	"go.uber.org/zap"
)

// AuditRecorder persists audit events
type AuditRecorder interface {
	Record(ctx context.Context, ev *models.AuditEvent) error
}

// EventObserver is told the outcome of every event the consumer handles.
type EventObserver interface {
	EventProcessed(eventType, outcome string)
}

// AuditConsumer turns identity events from the queue into audit records
type AuditConsumer struct {
	recorder  AuditRecorder
	publisher queue.Publisher
	observer  EventObserver
	logger    *zap.Logger
}

// ConsumerOption configures an AuditConsumer.
type ConsumerOption func(*AuditConsumer)

// WithObserver reports processing outcomes to o.
func WithObserver(o EventObserver) ConsumerOption {
	return func(c *AuditConsumer) { c.observer = o }
}

// NewAuditConsumer creates an audit consumer. Events that fail to record
// are republished through publisher until their retries run out. A nil
// publisher sends failures straight to the dead-letter queue.
func NewAuditConsumer(recorder AuditRecorder, publisher queue.Publisher, logger *zap.Logger, opts ...ConsumerOption) *AuditConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &AuditConsumer{recorder: recorder, publisher: publisher, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *AuditConsumer) observe(eventType queue.EventType, outcome string) {
	if c.observer != nil {
		c.observer.EventProcessed(string(eventType), outcome)
	}
}

// Run processes messages until ctx is done or msgs is closed.
func (c *AuditConsumer) Run(ctx context.Context, msgs <-chan *queue.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("message_channel_closed")
				return
			}
			if err := c.ProcessMessage(ctx, msg); err != nil {
				c.logger.Error("failed_to_process_event", zap.Error(err))
			}
		}
	}
}

// ProcessMessage records one event and acknowledges the message.
func (c *AuditConsumer) ProcessMessage(ctx context.Context, msg queue.MessageInterface) error {
	event := msg.GetEvent()
	if event == nil || !knownEvent(event.Type) {
		// Malformed or foreign messages go to the DLQ for inspection.
		if nackErr := msg.Nack(false); nackErr != nil {
			c.logger.Warn("failed_to_nack_event", zap.Error(nackErr))
		}
		if event == nil {
			c.observe("unknown", metrics.OutcomeDeadLettered)
			return fmt.Errorf("message carries no event")
		}
		c.observe(event.Type, metrics.OutcomeDeadLettered)
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	record, err := auditRecord(event)
	if err != nil {
		if nackErr := msg.Nack(false); nackErr != nil {
			c.logger.Warn("failed_to_nack_event", zap.Error(nackErr))
		}
		c.observe(event.Type, metrics.OutcomeDeadLettered)
		return err
	}

	if err := c.recorder.Record(ctx, record); err != nil {
		return c.handleRecordError(ctx, msg, event, err)
	}
	if ackErr := msg.Ack(); ackErr != nil {
		return fmt.Errorf("failed to ack event: %w", ackErr)
	}
	c.observe(event.Type, metrics.OutcomeRecorded)

	c.logger.Info("identity_event_recorded",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
		zap.String("portal_id", event.PortalID),
		zap.String("developer_id", event.DeveloperID),
	)
	return nil
}

// handleRecordError republishes the event with an incremented retry count.
// Once retries are exhausted, or when republishing fails, the message is
// dead-lettered.
func (c *AuditConsumer) handleRecordError(ctx context.Context, msg queue.MessageInterface, event *queue.Event, cause error) error {
	if event.CanRetry() && c.publisher != nil {
		retry := *event
		retry.IncrementRetry()
		err := c.publisher.Publish(ctx, &retry)
		if err == nil {
			if ackErr := msg.Ack(); ackErr != nil {
				c.logger.Warn("failed_to_ack_event_after_republish", zap.Error(ackErr))
			}
			c.observe(event.Type, metrics.OutcomeRetried)
			c.logger.Warn("identity_event_requeued",
				zap.String("event_id", event.ID.String()),
				zap.Int("retry_count", retry.RetryCount),
				zap.Error(cause),
			)
			return nil
		}
		c.logger.Error("failed_to_republish_event", zap.String("event_id", event.ID.String()), zap.Error(err))
	}

	if nackErr := msg.Nack(false); nackErr != nil {
		c.logger.Warn("failed_to_nack_event", zap.Error(nackErr))
	}
	c.observe(event.Type, metrics.OutcomeDeadLettered)
	return fmt.Errorf("event %s dead-lettered: %w", event.ID, cause)
}

func knownEvent(t queue.EventType) bool {
	switch t {
	case queue.EventDeveloperDeleting, queue.EventIdentityBound,
		queue.EventIdentityUnbound, queue.EventDeveloperProvisioned:
		return true
	}
	return false
}

func auditRecord(event *queue.Event) (*models.AuditEvent, error) {
	record := &models.AuditEvent{
		EventID:     event.ID,
		EventType:   string(event.Type),
		PortalID:    event.PortalID,
		DeveloperID: event.DeveloperID,
		OccurredAt:  event.CreatedAt,
	}
	if event.Provider != "" {
		provider := event.Provider
		record.Provider = &provider
	}
	if event.Subject != "" {
		subject := event.Subject
		record.Subject = &subject
	}
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event metadata: %w", err)
		}
		record.Metadata = raw
	}
	return record, nil
}
