// Package runner drives the detection loop: pull a frame, run inference,
// log every detection, alert on theft and show the annotated frame.
package runner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/theft-detection/internal/imageproc"
	"github.com/Capitan-Parrot/theft-detection/internal/metrics"
	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

// FrameSource yields frames until io.EOF
type FrameSource interface {
	Next(ctx context.Context) (models.Frame, error)
	Close() error
}

type Detector interface {
	Detect(ctx context.Context, frame image.Image, confidence float64) ([]models.RawDetection, error)
}

type Dispatcher interface {
	MaybeDispatch(det models.Detection) bool
}

// LogSink persists the detection log once the loop has stopped
type LogSink interface {
	SaveDetectionLog(ctx context.Context, runID string, detections []models.Detection) error
}

type Display interface {
	Show(img image.Image) error
	Close()
}

type HeartbeatSender interface {
	SendHeartbeat(msg models.Heartbeat) error
}

type Settings struct {
	InputSize           int
	ConfidenceThreshold float64
	// Attempts is how many times a frame is sent to the detector before it is skipped
	Attempts          int
	ReportEvery       int
	HeartbeatInterval time.Duration
}

type Runner struct {
	runID    string
	source   FrameSource
	detector Detector
	classes  models.ClassTable
	settings Settings

	logger     *zap.SugaredLogger
	clock      clock.Clock
	dispatcher Dispatcher
	sink       LogSink
	display    Display
	metrics    *metrics.Metrics
	heartbeats HeartbeatSender

	frames     int64
	throughput float64
}

type Option func(*Runner)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Runner) { r.logger = logger }
}

func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

func WithDispatcher(d Dispatcher) Option {
	return func(r *Runner) { r.dispatcher = d }
}

func WithSink(s LogSink) Option {
	return func(r *Runner) { r.sink = s }
}

func WithDisplay(d Display) Option {
	return func(r *Runner) { r.display = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithHeartbeats(h HeartbeatSender) Option {
	return func(r *Runner) { r.heartbeats = h }
}

func New(runID string, source FrameSource, detector Detector, classes models.ClassTable, settings Settings, opts ...Option) *Runner {
	if settings.Attempts < 1 {
		settings.Attempts = 1
	}
	if settings.ReportEvery < 1 {
		settings.ReportEvery = 30
	}

	r := &Runner{
		runID:    runID,
		source:   source,
		detector: detector,
		classes:  classes,
		settings: settings,
		logger:   zap.NewNop().Sugar(),
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes frames until the source is exhausted or ctx is cancelled.
// The log is persisted exactly once on the way out, after which the source
// and the display are released.
func (r *Runner) Run(ctx context.Context) ([]models.Detection, error) {
	r.logger.Infof("Runner %s: started", r.runID)
	r.sendHeartbeat(models.CommandStart)

	detections := r.loop(ctx)

	persistErr := r.persist(ctx, detections)

	if err := r.source.Close(); err != nil {
		r.logger.Warnf("Runner %s: close source: %v", r.runID, err)
	}
	if r.display != nil {
		r.display.Close()
	}

	r.sendHeartbeat(models.CommandStop)
	r.logger.Infof("Runner %s: finished, %d frames, %d detections", r.runID, r.frames, len(detections))
	return detections, persistErr
}

// Frames is the number of frames processed; valid once Run has returned
func (r *Runner) Frames() int64 {
	return r.frames
}

// Throughput is the last reported frames per second
func (r *Runner) Throughput() float64 {
	return r.throughput
}

func (r *Runner) loop(ctx context.Context) []models.Detection {
	detections := []models.Detection{}

	heartbeat := r.newHeartbeatTicker()
	defer heartbeat.Stop()

	windowStart := r.clock.Now()
	windowFrames := 0

	for {
		if ctx.Err() != nil {
			r.logger.Infof("Runner %s: received stop", r.runID)
			return detections
		}

		frame, err := r.source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				r.logger.Infof("Runner %s: end of video", r.runID)
			case ctx.Err() != nil:
				r.logger.Infof("Runner %s: received stop", r.runID)
			default:
				r.logger.Warnf("Runner %s: frame source failed, stopping: %v", r.runID, err)
			}
			return detections
		}

		r.frames++
		r.metrics.FrameProcessed()
		detections = append(detections, r.processFrame(ctx, frame, r.frames)...)

		windowFrames++
		if windowFrames == r.settings.ReportEvery {
			r.reportThroughput(windowFrames, r.clock.Since(windowStart))
			windowStart = r.clock.Now()
			windowFrames = 0
		}

		select {
		case <-heartbeat.C:
			r.sendHeartbeat(models.CommandStart)
		default:
		}
	}
}

// processFrame returns the log entries of one frame; any failure leaves the frame empty
func (r *Runner) processFrame(ctx context.Context, frame models.Frame, frameNumber int64) []models.Detection {
	resized := imageproc.Resize(frame.Image, r.settings.InputSize)

	raw, err := r.detectWithRetries(ctx, resized, frameNumber)
	if err != nil {
		r.show(frame.Image, nil, frameNumber)
		return nil
	}

	scale := imageproc.NewScale(frame.Image.Bounds(), r.settings.InputSize)
	detections, err := Convert(raw, scale, r.classes, frameNumber, r.clock.Now())
	if err != nil {
		r.logger.Warnf("Runner %s: frame %d: %v", r.runID, frameNumber, err)
		r.show(frame.Image, nil, frameNumber)
		return nil
	}

	annotations := make([]imageproc.Annotation, 0, len(detections))
	for _, det := range detections {
		r.metrics.DetectionLogged(det.Class)
		if r.shouldAlert(det) && r.dispatcher != nil {
			r.dispatcher.MaybeDispatch(det)
		}
		annotations = append(annotations, imageproc.NewAnnotation(det, r.classes))
	}

	r.show(frame.Image, annotations, frameNumber)
	return detections
}

// show publishes the frame whether or not inference succeeded
func (r *Runner) show(img image.Image, annotations []imageproc.Annotation, frameNumber int64) {
	if r.display == nil {
		return
	}
	if err := r.display.Show(imageproc.Annotate(img, annotations)); err != nil {
		r.logger.Warnf("Runner %s: display frame %d: %v", r.runID, frameNumber, err)
	}
}

func (r *Runner) detectWithRetries(ctx context.Context, img image.Image, frameNumber int64) ([]models.RawDetection, error) {
	var lastErr error
	for attempt := 0; attempt < r.settings.Attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		start := r.clock.Now()
		raw, err := r.detector.Detect(ctx, img, r.settings.ConfidenceThreshold)
		r.metrics.InferenceDone(r.clock.Since(start), err)
		if err == nil {
			return raw, nil
		}

		lastErr = err
		r.logger.Warnf("Runner %s: detection error on frame %d (attempt %d/%d): %v",
			r.runID, frameNumber, attempt+1, r.settings.Attempts, err)
	}

	r.logger.Warnf("Runner %s: skipping frame %d", r.runID, frameNumber)
	return nil, lastErr
}

func (r *Runner) shouldAlert(det models.Detection) bool {
	return r.classes.IsAlert(det.Class) && det.Confidence > r.settings.ConfidenceThreshold
}

func (r *Runner) reportThroughput(frames int, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	r.throughput = float64(frames) / elapsed.Seconds()
	r.metrics.SetThroughput(r.throughput)
	r.logger.Infof("Runner %s: processed %d frames, %.2f FPS", r.runID, r.frames, r.throughput)
}

func (r *Runner) persist(ctx context.Context, detections []models.Detection) error {
	if r.sink == nil {
		return nil
	}

	// сохраняем лог даже после отмены контекста запуска
	if err := r.sink.SaveDetectionLog(context.WithoutCancel(ctx), r.runID, detections); err != nil {
		return fmt.Errorf("persist detection log: %w", err)
	}
	return nil
}

func (r *Runner) newHeartbeatTicker() *clock.Ticker {
	interval := r.settings.HeartbeatInterval
	if r.heartbeats == nil || interval <= 0 {
		// тикер, который не срабатывает за время запуска
		interval = 24 * time.Hour
	}
	return r.clock.Ticker(interval)
}

func (r *Runner) sendHeartbeat(action models.CommandAction) {
	if r.heartbeats == nil {
		return
	}
	if err := r.heartbeats.SendHeartbeat(models.Heartbeat{
		RunID:     r.runID,
		Action:    action,
		Frame:     r.frames,
		TimeStamp: r.clock.Now().UTC(),
	}); err != nil {
		r.logger.Warnf("Runner %s error sending heartbeat: %v", r.runID, err)
	}
}

// Convert rescales raw detections to frame pixels and labels them.
// A single malformed box rejects the whole frame.
func Convert(raw []models.RawDetection, scale imageproc.Scale, classes models.ClassTable, frameNumber int64, ts time.Time) ([]models.Detection, error) {
	detections := make([]models.Detection, 0, len(raw))
	for i, rd := range raw {
		box, err := imageproc.RescaleBox(rd.Box, scale)
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		detections = append(detections, models.Detection{
			Timestamp:   ts,
			FrameNumber: frameNumber,
			Class:       classes.Label(rd.ClassIndex),
			Confidence:  rd.Confidence,
			BBox:        box,
		})
	}
	return detections, nil
}
