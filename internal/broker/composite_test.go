package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueTransport struct {
	*Memory
	closed int
}

func (q *queueTransport) DeadLetter(dest string) string { return dest + "-dead" }
func (q *queueTransport) Close() error {
	q.closed++
	return nil
}

func TestCompositeRoutesByDestination(t *testing.T) {
	log := NewMemory()
	queue := &queueTransport{Memory: NewMemory()}
	c := NewComposite(log).Route("shipping.notification", queue)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, Message{Destination: "payment.completed", Key: "ord-1"}))
	require.NoError(t, c.Publish(ctx, Message{Destination: "shipping.notification", Key: "ord-1"}))
	require.NoError(t, c.Publish(ctx, Message{Destination: c.DeadLetter("shipping.notification"), Key: "ord-1"}))

	assert.Len(t, log.Messages("payment.completed"), 1)
	assert.Empty(t, log.Messages("shipping.notification"))
	assert.Len(t, queue.Messages("shipping.notification"), 1)
	assert.Len(t, queue.Messages("shipping.notification-dead"), 1)
	assert.Equal(t, "payment.completed.dlq", c.DeadLetter("payment.completed"))

	require.NoError(t, c.Close())
	assert.Equal(t, 1, queue.closed)
}
