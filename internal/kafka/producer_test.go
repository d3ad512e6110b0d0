package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, ParseBrokers(""))
}

func TestDisabledProducerIsNoop(t *testing.T) {
	p := NewProducer(nil, Topics{Ticket: "tickets", Notification: "notifications"}, zap.NewNop())
	assert.False(t, p.Enabled())

	p.ProduceTicketEvent(context.Background(), "ticket.created", map[string]interface{}{"ticket_number": "T1"})
	require.NoError(t, p.SendNotification(context.Background(), Notification{Recipient: "u1", Template: "ticket_created"}))
	require.NoError(t, p.Close())
}

func TestTopicSelectsWriters(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, Topics{Ticket: "tickets"}, zap.NewNop())
	assert.True(t, p.Enabled())
	assert.Nil(t, p.notifications)
	require.NoError(t, p.SendNotification(context.Background(), Notification{Recipient: "u1"}))
	require.NoError(t, p.Close())
}
