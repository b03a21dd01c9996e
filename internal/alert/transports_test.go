package alert

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

func TestNewMailMessage(t *testing.T) {
	msg := Compose("run-1", theft(0, 3, 0.91))
	m := NewMailMessage("camera@example.com", []string{"guard@example.com", "owner@example.com"}, msg)

	assert.Equal(t, []string{"camera@example.com"}, m.GetHeader("From"))
	assert.Equal(t, []string{"guard@example.com", "owner@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{Subject}, m.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Frame: 3")
}

type fakePublisher struct {
	events []models.AlertEvent
	err    error
}

func (p *fakePublisher) PublishAlert(event models.AlertEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func TestBrokerTransport(t *testing.T) {
	pub := &fakePublisher{}
	tr := NewBrokerTransport("kafka", pub)

	assert.Equal(t, "kafka", tr.Name())
	require.NoError(t, tr.Send(context.Background(), Compose("run-1", theft(0, 4, 0.7))))
	require.Len(t, pub.events, 1)
	assert.Equal(t, int64(4), pub.events[0].FrameNumber)

	pub.err = errors.New("broker down")
	require.ErrorContains(t, tr.Send(context.Background(), Compose("run-1", theft(0, 5, 0.7))), "broker down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, tr.Send(ctx, Message{}), context.Canceled)
}

func TestMQTTTransportUnreachableBroker(t *testing.T) {
	tr := NewMQTTTransport("tcp://127.0.0.1:1", "test", "", "", "security/theft")
	assert.Equal(t, "mqtt", tr.Name())
	require.Error(t, tr.Send(context.Background(), Compose("run-1", theft(0, 1, 0.9))))
}
