package display

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/theft-detection/internal/database"
	"github.com/Capitan-Parrot/theft-detection/internal/metrics"
	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

// RunStore reads persisted runs
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	ListDetections(ctx context.Context, runID string) ([]models.Detection, error)
}

// StopFunc asks the loop for runID to stop; false means no such active run
type StopFunc func(runID string) bool

type Server struct {
	router *mux.Router
	server *http.Server
	stream *Stream
	runs   RunStore
	stop   StopFunc
	logger *zap.SugaredLogger
}

// NewServer wires the routes. runs and stop may be nil.
func NewServer(addr string, m *metrics.Metrics, stream *Stream, runs RunStore, stop StopFunc, logger *zap.SugaredLogger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		stream: stream,
		runs:   runs,
		stop:   stop,
		logger: logger,
	}

	s.router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	if m != nil {
		s.router.Handle("/metrics", m.Handler()).Methods("GET")
	}
	s.router.Handle("/stream", stream).Methods("GET")
	s.router.HandleFunc("/snapshot", s.snapshotHandler).Methods("GET")
	s.router.HandleFunc("/runs/{run_id}", s.getRunHandler).Methods("GET")
	s.router.HandleFunc("/runs/{run_id}/detections", s.getDetectionsHandler).Methods("GET")
	s.router.HandleFunc("/runs/{run_id}/stop", s.stopRunHandler).Methods("POST")

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnf("Display: shutdown: %v", err)
		}
	}()

	go func() {
		s.logger.Infof("Display: serving on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Display: server error: %v", err)
		}
	}()
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"frames": s.stream.Frames(),
	})
}

func (s *Server) snapshotHandler(w http.ResponseWriter, _ *http.Request) {
	frame := s.stream.Snapshot()
	if frame == nil {
		http.Error(w, "No frame yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(frame)
}

// getRunHandler отдаёт запись о запуске по его ID
func (s *Server) getRunHandler(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "Run store not configured", http.StatusServiceUnavailable)
		return
	}
	runID := mux.Vars(r)["run_id"]

	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, run)
}

// getDetectionsHandler отдаёт лог детекций запуска
func (s *Server) getDetectionsHandler(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "Run store not configured", http.StatusServiceUnavailable)
		return
	}
	runID := mux.Vars(r)["run_id"]

	// Проверка существования запуска
	if _, err := s.runs.GetRun(r.Context(), runID); err != nil {
		s.writeStoreError(w, err)
		return
	}

	detections, err := s.runs.ListDetections(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if detections == nil {
		detections = []models.Detection{}
	}

	writeJSON(w, detections)
}

func (s *Server) stopRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	if s.stop == nil || !s.stop(runID) {
		http.Error(w, "Run not active", http.StatusNotFound)
		return
	}

	s.logger.Infof("Display: stop requested for run %s", runID)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, database.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	s.logger.Errorf("Display: database error: %v", err)
	http.Error(w, "Database error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
