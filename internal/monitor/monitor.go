package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hudlink/hudlink/internal/connection"
	"github.com/hudlink/hudlink/pkg/core"
)

// DefaultInterval is how often the status file is rewritten.
const DefaultInterval = time.Second

// LinkSource reports connection counters.
type LinkSource interface {
	Stats() connection.Stats
}

// StreamSource reports the scheduler state.
type StreamSource interface {
	Running() bool
	Config() core.StreamConfig
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Link     LinkSource
	Stream   StreamSource
	Path     string
	Interval time.Duration
	Logger   *slog.Logger
}

// Status is the document written to the status file.
type Status struct {
	Time      time.Time `json:"time"`
	State     string    `json:"state"`
	Endpoint  string    `json:"endpoint"`
	Streaming bool      `json:"streaming"`
	Mode      string    `json:"mode"`
	RateMs    int64     `json:"rateMs"`
	POI       bool      `json:"poi"`
	Map       bool      `json:"map"`
	Compass   bool      `json:"compass"`
	MaxDistM  float64   `json:"maxDistanceM"`
	Sent      uint64    `json:"sent"`
	SentBytes uint64    `json:"sentBytes"`
	Dropped   uint64    `json:"dropped"`
	Failures  uint64    `json:"failures"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current program status
func (s *Service) GetStatus() Status {
	st := s.deps.Link.Stats()
	cfg := s.deps.Stream.Config()
	return Status{
		Time:      time.Now().UTC(),
		State:     st.State.String(),
		Endpoint:  st.Endpoint.String(),
		Streaming: s.deps.Stream.Running(),
		Mode:      cfg.Mode.String(),
		RateMs:    cfg.UpdateInterval.Milliseconds(),
		POI:       cfg.EnablePOI,
		Map:       cfg.EnableMap,
		Compass:   cfg.EnableCompass,
		MaxDistM:  cfg.MaxPOIDistanceM,
		Sent:      st.Sent,
		SentBytes: st.SentBytes,
		Dropped:   st.Dropped,
		Failures:  st.Failures,
	}
}

// WriteStatus replaces the status file with the current status.
func (s *Service) WriteStatus() error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	tmp := s.deps.Path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, s.deps.Path)
}

// Start starts the status monitor goroutine
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stopChan, s.done)
}

func (s *Service) run(stop, done chan struct{}) {
	defer close(done)

	logger := s.deps.Logger
	logger.Debug("Starting status monitor", "path", s.deps.Path)

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.WriteStatus(); err != nil {
				logger.Error("Error writing status file", "error", err)
			}
		}
	}
}

// Stop stops the status monitor and writes a final status.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	if err := s.WriteStatus(); err != nil {
		s.deps.Logger.Error("Error writing status file", "error", err)
	}
}
