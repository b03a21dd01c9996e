// Package storage persists the detection log of a finished run.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

// Sink stores a complete detection log
type Sink interface {
	SaveDetectionLog(ctx context.Context, runID string, detections []models.Detection) error
	String() string
}

// FileSink writes the log as a JSON array to a local path
type FileSink struct {
	Path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

// SaveDetectionLog replaces the file atomically: the array is written to a
// temp file in the same directory and renamed over Path.
func (s *FileSink) SaveDetectionLog(_ context.Context, _ string, detections []models.Detection) error {
	if detections == nil {
		detections = []models.Detection{}
	}

	data, err := json.MarshalIndent(detections, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.Path, err)
	}
	return nil
}

func (s *FileSink) String() string {
	return s.Path
}

// Multi fans a log out to several sinks. Every sink is attempted; the
// returned error joins the failures.
type Multi struct {
	sinks  []Sink
	logger *zap.SugaredLogger
}

func NewMulti(logger *zap.SugaredLogger, sinks ...Sink) *Multi {
	return &Multi{
		sinks: lo.Filter(sinks, func(s Sink, _ int) bool {
			return s != nil
		}),
		logger: logger,
	}
}

func (m *Multi) SaveDetectionLog(ctx context.Context, runID string, detections []models.Detection) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.SaveDetectionLog(ctx, runID, detections); err != nil {
			m.logger.Errorf("Storage: %s: %v", s, err)
			errs = append(errs, fmt.Errorf("save to %s: %w", s, err))
			continue
		}
		m.logger.Infof("Storage: saved %d detections to %s", len(detections), s)
	}
	return errors.Join(errs...)
}

func (m *Multi) String() string {
	return strings.Join(lo.Map(m.sinks, func(s Sink, _ int) string {
		return s.String()
	}), ",")
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

// ReadLog loads a log written by FileSink
func ReadLog(path string) ([]models.Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var detections []models.Detection
	if err := json.Unmarshal(data, &detections); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return detections, nil
}
