package queue

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is a decoded identity event together with the delivery it
// arrived in.
type Message struct {
	Event       *Event
	RoutingKey  string
	Redelivered bool
	delivery    amqp.Delivery
}

func newMessage(event *Event, d amqp.Delivery) *Message {
	return &Message{
		Event:       event,
		RoutingKey:  d.RoutingKey,
		Redelivered: d.Redelivered,
		delivery:    d,
	}
}

// Ack acknowledges this delivery only.
func (m *Message) Ack() error {
	return m.delivery.Ack(false)
}

// Nack rejects this delivery. With requeue false the broker dead-letters it.
func (m *Message) Nack(requeue bool) error {
	return m.delivery.Nack(false, requeue)
}

// GetEvent returns the decoded event
func (m *Message) GetEvent() *Event {
	return m.Event
}

var _ MessageInterface = (*Message)(nil)
