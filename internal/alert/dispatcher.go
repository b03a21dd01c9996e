// Package alert decides when a detection is worth a notification and hands
// the notification to best-effort transports.
//
// Sends are fire-and-forget: each dispatch starts a detached goroutine that
// is never joined. If the process exits while a send is still running the
// notification is lost; callers accept this.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Capitan-Parrot/theft-detection/internal/metrics"
	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

const Subject = "THEFT ALERT - Security System"

// Message is a composed alert ready for delivery
type Message struct {
	Subject string
	Body    string
	Event   models.AlertEvent
}

// Transport delivers a message. Errors are logged by the dispatcher and never retried.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// State is the time of the last dispatched alert; the zero value means none yet
type State struct {
	LastAlert time.Time
}

// Allow applies the cooldown rule for an alert candidate at ts and returns the state to keep
func (s State) Allow(ts time.Time, cooldown time.Duration) (bool, State) {
	if s.LastAlert.IsZero() || ts.Sub(s.LastAlert) >= cooldown {
		return true, State{LastAlert: ts}
	}
	return false, s
}

type Dispatcher struct {
	runID       string
	cooldown    time.Duration
	sendTimeout time.Duration
	transports  []Transport
	logger      *zap.SugaredLogger
	metrics     *metrics.Metrics

	mu    sync.Mutex
	state State
}

func NewDispatcher(runID string, cooldown, sendTimeout time.Duration, transports []Transport, logger *zap.SugaredLogger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		runID:       runID,
		cooldown:    cooldown,
		sendTimeout: sendTimeout,
		transports:  transports,
		logger:      logger,
		metrics:     m,
	}
}

// MaybeDispatch sends an alert for det unless one was sent within the cooldown.
// The state is updated before the send starts, so a slow transport cannot let a
// second alert through the same window.
func (d *Dispatcher) MaybeDispatch(det models.Detection) bool {
	d.mu.Lock()
	ok, next := d.state.Allow(det.Timestamp, d.cooldown)
	d.state = next
	d.mu.Unlock()

	if !ok {
		d.metrics.AlertSuppressed()
		d.logger.Debugf("Alert: frame %d suppressed by cooldown", det.FrameNumber)
		return false
	}

	d.metrics.AlertDispatched()
	msg := Compose(d.runID, det)
	d.logger.Infof("Alert: dispatching for frame %d (%s %.2f)", det.FrameNumber, det.Class, det.Confidence)
	go d.send(msg)
	return true
}

// State returns a copy of the current alert state
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) send(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	for _, t := range d.transports {
		if err := t.Send(ctx, msg); err != nil {
			d.metrics.AlertSendFailed(t.Name())
			d.logger.Warnf("Alert: %s send failed: %v", t.Name(), err)
			continue
		}
		d.logger.Infof("Alert: sent via %s", t.Name())
	}
}

// Compose builds the human readable alert for a detection
func Compose(runID string, det models.Detection) Message {
	body := fmt.Sprintf(`THEFT DETECTED!

Timestamp: %s
Frame: %d
Confidence: %.2f
Location: [%d %d %d %d]

Immediate action required!`,
		det.Timestamp.Format(time.RFC3339),
		det.FrameNumber,
		det.Confidence,
		det.BBox[0], det.BBox[1], det.BBox[2], det.BBox[3],
	)

	return Message{
		Subject: Subject,
		Body:    body,
		Event: models.AlertEvent{
			RunID:       runID,
			Timestamp:   det.Timestamp,
			FrameNumber: det.FrameNumber,
			Class:       det.Class,
			Confidence:  det.Confidence,
			BBox:        det.BBox,
		},
	}
}
