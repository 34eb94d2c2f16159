package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/exam"
	"github.com/stemsi/exstem-station/internal/model"
)

const enqueueTimeout = 2 * time.Second

// Enqueuer hands work to the background workers.
type Enqueuer interface {
	EnqueueRetry(ctx context.Context, item model.RetryAnswer) error
	EnqueueArchive(ctx context.Context, res model.Results) error
}

// StationService owns the station's current attempt. There is exactly one
// controller at a time; Reset replaces it with a fresh one in PhaseGate.
type StationService struct {
	deps  exam.Deps
	queue Enqueuer
	log   zerolog.Logger

	mu   sync.RWMutex
	ctrl *exam.Controller
}

// NewStationService creates the service and its first controller. queue may
// be nil, in which case failed answers and results stay local.
func NewStationService(deps exam.Deps, queue Enqueuer, log zerolog.Logger) *StationService {
	s := &StationService{
		queue: queue,
		log:   log.With().Str("component", "station_service").Logger(),
	}
	deps.OnAnswerFailed = s.enqueueRetry
	deps.OnFinished = s.enqueueArchive
	s.deps = deps
	s.ctrl = exam.NewController(deps, log)
	return s
}

// Controller returns the current attempt.
func (s *StationService) Controller() *exam.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctrl
}

// Reset discards the current attempt and starts over at the gate. A running
// attempt, or one still starting or finishing, cannot be discarded.
func (s *StationService) Reset() (*exam.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if phase := s.ctrl.Phase(); phase == model.PhaseActive {
		return nil, fmt.Errorf("reset in phase %s: %w", phase, exam.ErrWrongPhase)
	}
	if s.ctrl.Busy() {
		return nil, fmt.Errorf("reset while a start is in progress: %w", exam.ErrWrongPhase)
	}
	s.ctrl.Close()
	s.ctrl = exam.NewController(s.deps, s.log)
	s.log.Info().Msg("Station reset to gate")
	return s.ctrl, nil
}

// Close stops the current attempt's timer and outbox.
func (s *StationService) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.ctrl.Close()
}

func (s *StationService) enqueueRetry(sessionID string, a model.Answer, cause error) {
	if s.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	item := model.RetryAnswer{SessionID: sessionID, QuestionID: a.QuestionID, OptionID: a.OptionID, Attempts: 1}
	if err := s.queue.EnqueueRetry(ctx, item); err != nil {
		s.log.Error().Err(err).
			AnErr("cause", cause).
			Str("session_id", sessionID).
			Str("question_id", a.QuestionID).
			Msg("Enqueue answer retry failed")
	}
}

func (s *StationService) enqueueArchive(res model.Results) {
	if s.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	if err := s.queue.EnqueueArchive(ctx, res); err != nil {
		s.log.Error().Err(err).Str("session_id", res.SessionID).Msg("Enqueue result archive failed")
	}
}
