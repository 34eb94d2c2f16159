package service

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/exam"
	"github.com/stemsi/exstem-station/internal/model"
	"github.com/stemsi/exstem-station/internal/platform"
	"github.com/stemsi/exstem-station/internal/platform/platformstub"
	"github.com/stemsi/exstem-station/internal/validator"
)

func init() {
	validator.Setup()
}

type fakeQueue struct {
	mu       sync.Mutex
	retries  []model.RetryAnswer
	archived []model.Results
}

func (q *fakeQueue) EnqueueRetry(_ context.Context, item model.RetryAnswer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retries = append(q.retries, item)
	return nil
}

func (q *fakeQueue) EnqueueArchive(_ context.Context, res model.Results) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.archived = append(q.archived, res)
	return nil
}

// heldStart blocks StartSession until release is closed.
type heldStart struct {
	exam.Platform
	entered chan struct{}
	release chan struct{}
}

func (h *heldStart) StartSession(ctx context.Context, examID string, candidate model.CandidateIdentity) (*model.SessionStart, error) {
	close(h.entered)
	<-h.release
	return h.Platform.StartSession(ctx, examID, candidate)
}

func stubPlatform(t *testing.T) exam.Platform {
	t.Helper()
	stub := platformstub.New(platformstub.Config{
		ExamID:            "demo",
		GatePassword:      "rahasia",
		Blocks:            1,
		QuestionsPerBlock: 1,
		DurationSeconds:   600,
	}, zerolog.New(io.Discard))
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)
	return platform.New(srv.URL+"/api/v1", time.Second)
}

func newStation(t *testing.T, queue Enqueuer) *StationService {
	t.Helper()
	return newStationWith(t, stubPlatform(t), queue)
}

func newStationWith(t *testing.T, p exam.Platform, queue Enqueuer) *StationService {
	t.Helper()
	s := NewStationService(exam.Deps{
		Platform:      p,
		AnswerTimeout: time.Second,
	}, queue, zerolog.New(io.Discard))
	t.Cleanup(s.Close)
	return s
}

func startAttempt(t *testing.T, s *StationService) *exam.Controller {
	t.Helper()
	ctx := context.Background()
	ctrl := s.Controller()
	if ok, err := ctrl.Unlock(ctx, "demo", "rahasia"); err != nil || !ok {
		t.Fatalf("unlock: %v %v", ok, err)
	}
	if _, err := ctrl.Start(ctx, model.CandidateIdentity{ID: "c-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	return ctrl
}

func TestResetReplacesController(t *testing.T) {
	s := newStation(t, nil)
	before := s.Controller()

	after, err := s.Reset()
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if after == before || s.Controller() != after {
		t.Fatal("reset must install a fresh controller")
	}
	if after.Phase() != model.PhaseGate {
		t.Fatalf("phase = %s", after.Phase())
	}
}

func TestResetRejectedWhileActive(t *testing.T) {
	s := newStation(t, nil)
	ctrl := startAttempt(t, s)

	if _, err := s.Reset(); !errors.Is(err, exam.ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}
	if s.Controller() != ctrl {
		t.Fatal("active attempt must be kept")
	}
}

func TestResetRejectedWhileStarting(t *testing.T) {
	held := &heldStart{
		Platform: stubPlatform(t),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	s := newStationWith(t, held, nil)
	ctrl := s.Controller()
	ctx := context.Background()

	if ok, err := ctrl.Unlock(ctx, "demo", "rahasia"); err != nil || !ok {
		t.Fatalf("unlock: %v %v", ok, err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Start(ctx, model.CandidateIdentity{ID: "c-1"})
		done <- err
	}()
	<-held.entered

	if _, err := s.Reset(); !errors.Is(err, exam.ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}
	if s.Controller() != ctrl {
		t.Fatal("starting attempt must be kept")
	}

	close(held.release)
	if err := <-done; err != nil {
		t.Fatalf("start: %v", err)
	}
	if ctrl.Phase() != model.PhaseActive {
		t.Fatalf("phase = %s", ctrl.Phase())
	}
}

func TestFinishedResultsAreQueuedForArchive(t *testing.T) {
	q := &fakeQueue{}
	s := newStation(t, q)
	ctrl := startAttempt(t, s)

	if err := ctrl.Record("b1-q1", "a"); err != nil {
		t.Fatalf("record: %v", err)
	}
	res, err := ctrl.Finish(context.Background(), model.FinishManual, false)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.archived) != 1 || q.archived[0].SessionID != res.SessionID {
		t.Fatalf("archived = %+v", q.archived)
	}
	if q.archived[0].OverallPercent != 100 {
		t.Fatalf("overall = %v", q.archived[0].OverallPercent)
	}
}

func TestFailedAnswerIsQueuedForRetry(t *testing.T) {
	q := &fakeQueue{}
	s := newStation(t, q)

	s.enqueueRetry("sess-1", model.Answer{QuestionID: "q1", OptionID: "b"}, errors.New("timeout"))

	if len(q.retries) != 1 {
		t.Fatalf("retries = %+v", q.retries)
	}
	want := model.RetryAnswer{SessionID: "sess-1", QuestionID: "q1", OptionID: "b", Attempts: 1}
	if q.retries[0] != want {
		t.Fatalf("retry item = %+v, want %+v", q.retries[0], want)
	}
}

func TestNilQueueKeepsEverythingLocal(t *testing.T) {
	s := newStation(t, nil)
	s.enqueueRetry("sess-1", model.Answer{QuestionID: "q1", OptionID: "a"}, errors.New("x"))
	s.enqueueArchive(model.Results{SessionID: "sess-1"})
}
