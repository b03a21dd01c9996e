package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/theft-detection/internal/metrics"
	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

type recordingTransport struct {
	name string
	err  error
	sent chan Message
}

func newRecordingTransport(name string, err error) *recordingTransport {
	return &recordingTransport{name: name, err: err, sent: make(chan Message, 16)}
}

func (t *recordingTransport) Name() string { return t.name }

func (t *recordingTransport) Send(_ context.Context, msg Message) error {
	t.sent <- msg
	return t.err
}

func (t *recordingTransport) wait(tb testing.TB) Message {
	tb.Helper()
	select {
	case msg := <-t.sent:
		return msg
	case <-time.After(2 * time.Second):
		tb.Fatal("no message sent")
		return Message{}
	}
}

var epoch = time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)

func theft(at time.Duration, frame int64, conf float64) models.Detection {
	return models.Detection{
		Timestamp:   epoch.Add(at),
		FrameNumber: frame,
		Class:       models.ClassShoplifting,
		Confidence:  conf,
		BBox:        models.BBox{10, 20, 30, 40},
	}
}

func TestStateAllow(t *testing.T) {
	var s State
	cooldown := 30 * time.Second

	ok, s := s.Allow(epoch, cooldown)
	require.True(t, ok)
	assert.Equal(t, epoch, s.LastAlert)

	ok, s = s.Allow(epoch.Add(10*time.Second), cooldown)
	assert.False(t, ok)
	assert.Equal(t, epoch, s.LastAlert)

	ok, s = s.Allow(epoch.Add(30*time.Second), cooldown)
	assert.True(t, ok, "elapsed equal to the cooldown is enough")
	assert.Equal(t, epoch.Add(30*time.Second), s.LastAlert)
}

func TestDispatcherCooldown(t *testing.T) {
	transport := newRecordingTransport("fake", nil)
	m := metrics.New()
	d := NewDispatcher("run-1", 30*time.Second, time.Second, []Transport{transport}, zap.NewNop().Sugar(), m)

	assert.True(t, d.MaybeDispatch(theft(0, 1, 0.9)))
	msg := transport.wait(t)
	assert.Equal(t, int64(1), msg.Event.FrameNumber)
	assert.Equal(t, "run-1", msg.Event.RunID)

	assert.False(t, d.MaybeDispatch(theft(10*time.Second, 2, 0.9)))
	assert.Equal(t, epoch, d.State().LastAlert)

	assert.True(t, d.MaybeDispatch(theft(31*time.Second, 3, 0.9)))
	msg = transport.wait(t)
	assert.Equal(t, int64(3), msg.Event.FrameNumber)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsDispatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsSuppressed))
}

func TestDispatcherTransportFailureIsContained(t *testing.T) {
	failing := newRecordingTransport("smtp", errors.New("relay refused"))
	working := newRecordingTransport("mqtt", nil)
	m := metrics.New()
	d := NewDispatcher("run-1", time.Minute, time.Second, []Transport{failing, working}, zap.NewNop().Sugar(), m)

	assert.True(t, d.MaybeDispatch(theft(0, 7, 0.8)))
	failing.wait(t)
	working.wait(t)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.AlertSendErrors.WithLabelValues("smtp")) == 1
	}, time.Second, 10*time.Millisecond)
}

type blockingTransport struct {
	release chan struct{}
	calls   atomic.Int32
}

func (t *blockingTransport) Name() string { return "slow" }

func (t *blockingTransport) Send(ctx context.Context, _ Message) error {
	t.calls.Add(1)
	select {
	case <-t.release:
	case <-ctx.Done():
	}
	return nil
}

func TestDispatcherDoesNotBlockOnSlowTransport(t *testing.T) {
	slow := &blockingTransport{release: make(chan struct{})}
	defer close(slow.release)
	d := NewDispatcher("run-1", 30*time.Second, time.Minute, []Transport{slow}, zap.NewNop().Sugar(), nil)

	done := make(chan bool)
	go func() { done <- d.MaybeDispatch(theft(0, 1, 0.9)) }()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("MaybeDispatch waited for the transport")
	}
	assert.False(t, d.MaybeDispatch(theft(5*time.Second, 2, 0.9)))
}

func TestDispatcherConcurrentCallersShareOneWindow(t *testing.T) {
	transport := newRecordingTransport("fake", nil)
	d := NewDispatcher("run-1", 30*time.Second, time.Second, []Transport{transport}, zap.NewNop().Sugar(), nil)

	var wg sync.WaitGroup
	var dispatched atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if d.MaybeDispatch(theft(time.Duration(i)*time.Millisecond, int64(i+1), 0.9)) {
				dispatched.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), dispatched.Load())
}

func TestCompose(t *testing.T) {
	msg := Compose("run-9", theft(0, 12, 0.876))

	assert.Equal(t, Subject, msg.Subject)
	assert.True(t, strings.HasPrefix(msg.Body, "THEFT DETECTED!"))
	assert.Contains(t, msg.Body, "Timestamp: 2025-05-04T10:00:00Z")
	assert.Contains(t, msg.Body, "Frame: 12")
	assert.Contains(t, msg.Body, "Confidence: 0.88")
	assert.Contains(t, msg.Body, "Location: [10 20 30 40]")
	assert.Equal(t, models.AlertEvent{
		RunID:       "run-9",
		Timestamp:   epoch,
		FrameNumber: 12,
		Class:       models.ClassShoplifting,
		Confidence:  0.876,
		BBox:        models.BBox{10, 20, 30, 40},
	}, msg.Event)
}
