package queue

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcknowledger struct {
	acked    []uint64
	nacked   []uint64
	requeued []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	f.requeued = append(f.requeued, requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func TestMessage_AckNack(t *testing.T) {
	t.Parallel()

	ack := &fakeAcknowledger{}
	event := NewEvent(EventIdentityUnbound, "portal-a", "dev-1")
	msg := newMessage(event, amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  7,
		RoutingKey:   string(EventIdentityUnbound),
		Redelivered:  true,
	})

	assert.Same(t, event, msg.GetEvent())
	assert.Equal(t, "identity.unbound", msg.RoutingKey)
	assert.True(t, msg.Redelivered)

	require.NoError(t, msg.Ack())
	require.NoError(t, msg.Nack(false))
	assert.Equal(t, []uint64{7}, ack.acked)
	assert.Equal(t, []uint64{7}, ack.nacked)
	assert.Equal(t, []bool{false}, ack.requeued)
}
