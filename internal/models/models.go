package models

import (
	"image"
	"time"
)

type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// Frame is one still image pulled from a video source
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
}

// RawDetection is a single object as reported by the detector, box in model input space
type RawDetection struct {
	Box        []float64 `json:"box"` // [x1, y1, x2, y2]
	ClassIndex int       `json:"class"`
	Confidence float64   `json:"score"`
}

// BBox is a box in original frame pixels: [x1, y1, x2, y2]
type BBox [4]int

// Rect converts the box to an image.Rectangle
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b[0], b[1], b[2], b[3])
}

// Detection is one entry of the detection log
type Detection struct {
	Timestamp   time.Time `json:"timestamp"`
	FrameNumber int64     `json:"frame_number"`
	Class       string    `json:"class"`
	Confidence  float64   `json:"confidence"`
	BBox        BBox      `json:"bbox"`
}

// RunCommand is a control message addressed to a running detection loop
type RunCommand struct {
	RunID  string        `json:"run_id"`
	Action CommandAction `json:"action"`
}

type Heartbeat struct {
	RunID     string        `json:"RunID"`
	Action    CommandAction `json:"Action"`
	Frame     int64         `json:"Frame"`
	TimeStamp time.Time     `json:"TimeStamp"`
}

// AlertEvent is the structured form of an alert published to brokers
type AlertEvent struct {
	RunID       string    `json:"run_id"`
	Timestamp   time.Time `json:"timestamp"`
	FrameNumber int64     `json:"frame_number"`
	Class       string    `json:"class"`
	Confidence  float64   `json:"confidence"`
	BBox        BBox      `json:"bbox"`
}

type RunStatus string

const (
	RunStatusActive   RunStatus = "active"
	RunStatusFinished RunStatus = "finished"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted record of one detection loop execution
type Run struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Status     RunStatus  `json:"status"`
	Frames     int64      `json:"frames"`
	Detections int        `json:"detections"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
