// Package exam implements the candidate-side exam session core: the phase
// state machine, one-way block locking, the countdown, answer capture and
// result aggregation.
package exam

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/model"
	"golang.org/x/sync/singleflight"
)

// Deps wires a Controller to its collaborators. Store, Events and the hooks
// are optional.
type Deps struct {
	Platform Platform
	Store    StateStore
	Events   Publisher

	// OnAnswerFailed is called for every answer submission that did not
	// reach the platform.
	OnAnswerFailed func(sessionID string, a model.Answer, err error)
	// OnFinished is called once, after the session reached PhaseFinished.
	OnFinished func(res model.Results)

	RequestTimeout         time.Duration
	AnswerTimeout          time.Duration
	StoreTimeout           time.Duration
	TickInterval           time.Duration
	DefaultDurationSeconds int
	// FinishRetryInterval spaces the retries of a failed timeout finish.
	FinishRetryInterval time.Duration
	Now                 func() time.Time
}

// Controller orchestrates one candidate attempt. The phase field is the only
// place finishing is decided: Finish is the single writer of PhaseFinished.
//
// Lock order is navMu before mu.
type Controller struct {
	deps Deps
	log  zerolog.Logger
	gate *GateVerifier

	navMu sync.Mutex

	mu        sync.Mutex
	phase     model.Phase
	starting  bool
	finishing bool
	closed    bool
	examID    string
	session   *model.Session
	token     string
	roster    []model.Block
	results   *model.Results
	timer     *ExamTimer
	nav       *Navigator
	answers   *AnswerTracker

	finishGroup singleflight.Group
	done        chan struct{}
	closeOnce   sync.Once
}

// NewController creates a controller in PhaseGate.
func NewController(deps Deps, log zerolog.Logger) *Controller {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 10 * time.Second
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = 2 * time.Second
	}
	if deps.FinishRetryInterval <= 0 {
		deps.FinishRetryInterval = 5 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{
		deps:  deps,
		log:   log.With().Str("component", "session_controller").Logger(),
		gate:  NewGateVerifier(deps.Platform, deps.RequestTimeout),
		phase: model.PhaseGate,
		done:  make(chan struct{}),
	}
}

// Phase returns the current phase.
func (c *Controller) Phase() model.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Busy reports whether a start, resume or finish is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starting || c.finishing
}

// Session returns a copy of the active session, or nil before start.
func (c *Controller) Session() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Results returns the cached results once the session is finished.
func (c *Controller) Results() (*model.Results, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results, c.results != nil
}

// Unlock verifies the gate password and moves gate -> unlocked. A wrong
// password returns (false, nil) and leaves the phase alone.
func (c *Controller) Unlock(ctx context.Context, examID, password string) (bool, error) {
	if phase := c.Phase(); phase != model.PhaseGate {
		return false, wrongPhase("unlock", phase)
	}

	valid, err := c.gate.Verify(ctx, examID, password)
	if err != nil {
		return false, err
	}
	if !valid {
		c.log.Info().Str("exam_id", examID).Msg("Gate password rejected")
		return false, nil
	}

	c.mu.Lock()
	if c.phase != model.PhaseGate {
		phase := c.phase
		c.mu.Unlock()
		return false, wrongPhase("unlock", phase)
	}
	c.phase = model.PhaseUnlocked
	c.examID = strings.TrimSpace(examID)
	c.mu.Unlock()

	c.log.Info().Str("exam_id", examID).Msg("Exam unlocked")
	c.publish(Event{Type: EventPhase, Phase: model.PhaseUnlocked})
	return true, nil
}

// Start opens a session on the platform and moves unlocked -> active. On any
// failure nothing of the attempt is kept and the phase stays unlocked.
func (c *Controller) Start(ctx context.Context, candidate model.CandidateIdentity) (*model.Session, error) {
	candidate.ID = strings.TrimSpace(candidate.ID)
	if candidate.ID == "" {
		return nil, fmt.Errorf("candidate id is required: %w", ErrValidation)
	}

	examID, err := c.beginStart(model.PhaseUnlocked)
	if err != nil {
		return nil, err
	}
	defer c.endStart()

	rctx, cancel := context.WithTimeout(ctx, c.deps.RequestTimeout)
	roster, err := c.deps.Platform.ExamBlocks(rctx, examID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("load block roster: %w", err)
	}
	if len(roster) == 0 {
		return nil, ErrNoBlocks
	}

	rctx, cancel = context.WithTimeout(ctx, c.deps.RequestTimeout)
	started, err := c.deps.Platform.StartSession(rctx, examID, candidate)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	sess := &model.Session{
		ID:              started.SessionID,
		Token:           started.Token,
		ExamID:          examID,
		Candidate:       candidate,
		DurationSeconds: started.DurationSeconds,
		StartedAt:       c.deps.Now(),
	}

	tracker, nav := c.newAttempt(sess, roster)
	if err := nav.LoadFirst(ctx); err != nil {
		tracker.Close()
		return nil, fmt.Errorf("load first block: %w", err)
	}

	c.persist("save session", func(ctx context.Context) error {
		return c.deps.Store.SaveSession(ctx, model.SessionRecord{Session: *sess, Token: sess.Token, Blocks: roster})
	})

	if err := c.activate(sess, nav, tracker, sess.DurationSeconds); err != nil {
		tracker.Close()
		return nil, err
	}

	c.log.Info().
		Str("session_id", sess.ID).
		Str("exam_id", examID).
		Int("duration_seconds", sess.DurationSeconds).
		Int("blocks", len(roster)).
		Msg("Session started")

	out := *sess
	return &out, nil
}

// Resume reattaches a session persisted in the state store, restoring the
// lock set, the answers and the remaining time. A session whose time ran
// out while detached is finished with FinishTimeout straight away.
func (c *Controller) Resume(ctx context.Context, sessionID string) (*model.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required: %w", ErrValidation)
	}
	if c.deps.Store == nil {
		return nil, ErrSessionNotFound
	}

	if _, err := c.beginStart(model.PhaseGate, model.PhaseUnlocked); err != nil {
		return nil, err
	}
	defer c.endStart()

	sctx, cancel := context.WithTimeout(ctx, c.deps.StoreTimeout)
	defer cancel()

	rec, err := c.deps.Store.LoadSession(sctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess := rec.Session
	sess.Token = rec.Token

	if res, err := c.deps.Store.LoadResults(sctx, sessionID); err == nil && res != nil {
		c.mu.Lock()
		c.session = &sess
		c.examID = sess.ExamID
		c.roster = rec.Blocks
		c.results = res
		c.phase = model.PhaseFinished
		c.mu.Unlock()
		c.publish(Event{Type: EventPhase, SessionID: sess.ID, Phase: model.PhaseFinished})
		out := sess
		return &out, nil
	} else if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("load results: %w", err)
	}

	locked, err := c.deps.Store.LockedBlocks(sctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load locked blocks: %w", err)
	}
	saved, err := c.deps.Store.Answers(sctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}

	tracker, nav := c.newAttempt(&sess, rec.Blocks)
	tracker.Restore(saved)
	if err := nav.Restore(ctx, locked); err != nil {
		tracker.Close()
		return nil, fmt.Errorf("restore position: %w", err)
	}

	remaining := int(math.Ceil(sess.Deadline().Sub(c.deps.Now()).Seconds()))
	if remaining < 0 {
		remaining = 0
	}

	if err := c.activate(&sess, nav, tracker, remaining); err != nil {
		tracker.Close()
		return nil, err
	}

	c.log.Info().
		Str("session_id", sess.ID).
		Int("locked_blocks", len(locked)).
		Int("answers", len(saved)).
		Int("remaining_seconds", remaining).
		Msg("Session resumed")

	out := sess
	return &out, nil
}

// Record captures a choice for a question of the current, unlocked block.
func (c *Controller) Record(questionID, optionID string) error {
	c.navMu.Lock()
	defer c.navMu.Unlock()

	nav, tracker, sess, err := c.activeParts("record answer")
	if err != nil {
		return err
	}
	if err := c.acceptingAnswers(); err != nil {
		return err
	}

	q, block, ok := nav.Locate(questionID)
	if !ok {
		return fmt.Errorf("unknown question %q: %w", questionID, ErrValidation)
	}
	if nav.IsLocked(block.ID) {
		return fmt.Errorf("question %s: %w", questionID, ErrBlockLocked)
	}
	if cur, _, _ := nav.Position(); cur.ID != block.ID {
		return fmt.Errorf("question %s is not in the current block: %w", questionID, ErrValidation)
	}
	if !q.HasOption(optionID) {
		return fmt.Errorf("option %q does not belong to question %s: %w", optionID, questionID, ErrValidation)
	}

	if err := tracker.Record(questionID, optionID); err != nil {
		return err
	}
	c.persist("save answer", func(ctx context.Context) error {
		return c.deps.Store.SaveAnswer(ctx, sess.ID, model.Answer{QuestionID: questionID, OptionID: optionID})
	})
	return nil
}

// Advance moves one question forward or backward. Completing the last block
// finishes the session (manual) and returns its results in the outcome.
func (c *Controller) Advance(ctx context.Context, dir int) (NavOutcome, error) {
	c.navMu.Lock()
	nav, _, _, err := c.activeParts("navigate")
	if err != nil {
		c.navMu.Unlock()
		return NavOutcome{}, err
	}
	out, err := nav.Advance(ctx, dir)
	c.navMu.Unlock()
	if err != nil {
		return NavOutcome{}, err
	}

	if out.Kind == NavExamComplete {
		res, err := c.Finish(ctx, model.FinishManual, true)
		if err != nil {
			return out, err
		}
		out.Results = res
	}
	return out, nil
}

// Jump moves to a question of the current, unlocked block.
func (c *Controller) Jump(index int) error {
	c.navMu.Lock()
	defer c.navMu.Unlock()

	nav, _, _, err := c.activeParts("jump")
	if err != nil {
		return err
	}
	return nav.Jump(index)
}

// IsLocked reports whether a block is locked.
func (c *Controller) IsLocked(blockID string) bool {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	c.mu.Lock()
	nav := c.nav
	c.mu.Unlock()
	return nav != nil && nav.IsLocked(blockID)
}

// CountUnanswered counts unanswered questions across the exam, for the
// renderer's confirmation prompt.
func (c *Controller) CountUnanswered() int {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	c.mu.Lock()
	nav := c.nav
	c.mu.Unlock()
	if nav == nil {
		return 0
	}
	return nav.CountUnanswered()
}

// RemainingSeconds is the countdown value. Before a session starts it is the
// configured placeholder.
func (c *Controller) RemainingSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *Controller) remainingLocked() int {
	switch c.phase {
	case model.PhaseGate, model.PhaseUnlocked:
		return c.deps.DefaultDurationSeconds
	case model.PhaseActive:
		if c.timer != nil {
			return c.timer.Remaining()
		}
	}
	return 0
}

// View builds the renderer's view model.
func (c *Controller) View() model.PositionView {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	v := model.PositionView{
		Phase:            c.phase,
		RemainingSeconds: c.remainingLocked(),
		BlockCount:       len(c.roster),
		LockedBlockIDs:   []string{},
	}
	if c.nav == nil {
		return v
	}

	block, idx, qIdx := c.nav.Position()
	locked := c.nav.IsLocked(block.ID)
	v.Block = &model.BlockView{Block: block, Index: idx, Locked: locked}
	v.LockedBlockIDs = c.nav.LockedIDs()
	v.FailedAnswers = c.answers.Failures()

	qs := c.nav.CurrentQuestions()
	v.QuestionCount = len(qs)
	v.Answered = make([]bool, len(qs))
	for i, q := range qs {
		v.Answered[i] = c.answers.IsAnswered(q.ID)
	}
	if q := c.nav.CurrentQuestion(); q != nil {
		choice, answered := c.answers.Choice(q.ID)
		v.Question = &model.QuestionView{
			Question: *q,
			Index:    qIdx,
			Answered: answered,
			Choice:   choice,
			ReadOnly: locked || c.phase != model.PhaseActive,
		}
	}
	return v
}

// Finish ends the session. Once finished, every call returns the cached
// results without contacting the platform. Concurrent calls (for example a
// timer expiry racing a manual finish) share a single remote call and
// receive the same result. A manual finish with unanswered questions needs
// confirmed=true; a timeout finish never asks.
func (c *Controller) Finish(ctx context.Context, reason model.FinishReason, confirmed bool) (*model.Results, error) {
	c.mu.Lock()
	switch c.phase {
	case model.PhaseFinished:
		res := c.results
		c.mu.Unlock()
		return res, nil
	case model.PhaseActive:
	default:
		phase := c.phase
		c.mu.Unlock()
		return nil, wrongPhase("finish", phase)
	}
	sessionID := c.session.ID
	c.mu.Unlock()

	if reason == model.FinishManual && !confirmed {
		if n := c.CountUnanswered(); n > 0 {
			return nil, &UnansweredError{Count: n}
		}
	}

	v, err, _ := c.finishGroup.Do(sessionID, func() (any, error) {
		return c.finish(context.WithoutCancel(ctx), reason)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Results), nil
}

func (c *Controller) finish(ctx context.Context, reason model.FinishReason) (*model.Results, error) {
	// navMu orders this against Record: answers recorded before this point
	// are in the outbox ahead of the flush, later ones are rejected.
	c.navMu.Lock()
	c.mu.Lock()
	if c.phase == model.PhaseFinished {
		res := c.results
		c.mu.Unlock()
		c.navMu.Unlock()
		return res, nil
	}
	c.finishing = true
	timer, tracker, token := c.timer, c.answers, c.token
	sess := *c.session
	roster := c.roster
	c.mu.Unlock()
	c.navMu.Unlock()

	if c.deps.AnswerTimeout > 0 {
		fctx, cancel := context.WithTimeout(ctx, c.deps.AnswerTimeout)
		if err := tracker.Flush(fctx); err != nil {
			c.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Answer outbox not drained before finish")
		}
		cancel()
	}

	rctx, cancel := context.WithTimeout(ctx, c.deps.RequestTimeout)
	stats, err := c.deps.Platform.Finish(rctx, token)
	cancel()
	if err != nil {
		c.mu.Lock()
		c.finishing = false
		c.mu.Unlock()
		c.log.Error().Err(err).
			Str("session_id", sess.ID).
			Str("reason", string(reason)).
			Int("remaining_seconds", timer.Remaining()).
			Msg("Finish failed, session stays active")
		c.publish(Event{Type: EventFinishFailed, SessionID: sess.ID, Phase: model.PhaseActive, Error: err.Error()})
		return nil, fmt.Errorf("finish session: %w", err)
	}

	res := Aggregate(stats, roster)
	res.SessionID = sess.ID
	res.ExamID = sess.ExamID
	res.Reason = reason
	res.FinishedAt = c.deps.Now()

	c.mu.Lock()
	c.phase = model.PhaseFinished
	c.finishing = false
	c.results = &res
	c.mu.Unlock()

	timer.Stop()
	tracker.Close()

	c.persist("save results", func(ctx context.Context) error {
		return c.deps.Store.SaveResults(ctx, sess.ID, res)
	})

	c.log.Info().
		Str("session_id", sess.ID).
		Str("reason", string(reason)).
		Float64("overall_percent", res.OverallPercent).
		Int("correct", res.CorrectCount).
		Int("declared", res.DeclaredCount).
		Msg("Session finished")

	c.publish(Event{Type: EventPhase, SessionID: sess.ID, Phase: model.PhaseFinished})
	c.publish(Event{Type: EventFinished, SessionID: sess.ID, Phase: model.PhaseFinished, Results: &res})
	if c.deps.OnFinished != nil {
		c.deps.OnFinished(res)
	}
	return &res, nil
}

// Close discards the attempt: the timer and the answer outbox stop. The
// controller must not be reused.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	c.closed = true
	timer, tracker := c.timer, c.answers
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if tracker != nil {
		tracker.Close()
	}
}

// beginStart reserves the controller for a start or resume.
func (c *Controller) beginStart(allowed ...model.Phase) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := false
	for _, p := range allowed {
		if c.phase == p {
			ok = true
		}
	}
	if !ok || c.session != nil || c.closed {
		return "", wrongPhase("start", c.phase)
	}
	if c.starting {
		return "", fmt.Errorf("start already in progress: %w", ErrWrongPhase)
	}
	c.starting = true
	return c.examID, nil
}

func (c *Controller) endStart() {
	c.mu.Lock()
	c.starting = false
	c.mu.Unlock()
}

func (c *Controller) newAttempt(sess *model.Session, roster []model.Block) (*AnswerTracker, *Navigator) {
	token, sessionID := sess.Token, sess.ID

	submit := func(ctx context.Context, a model.Answer) error {
		return c.deps.Platform.SubmitAnswer(ctx, token, a)
	}
	onFailure := func(a model.Answer, err error) {
		c.publish(Event{Type: EventAnswerFailed, SessionID: sessionID, QuestionID: a.QuestionID, Error: err.Error()})
		if c.deps.OnAnswerFailed != nil {
			c.deps.OnAnswerFailed(sessionID, a, err)
		}
	}
	tracker := NewAnswerTracker(submit, c.deps.AnswerTimeout, onFailure, c.log)

	load := func(ctx context.Context, blockID string) ([]model.Question, error) {
		ctx, cancel := context.WithTimeout(ctx, c.deps.RequestTimeout)
		defer cancel()
		return c.deps.Platform.Questions(ctx, token, blockID)
	}
	nav := NewNavigator(roster, load, tracker)
	nav.OnLock(func(blockID string) {
		c.log.Info().Str("session_id", sessionID).Str("block_id", blockID).Msg("Block locked")
		c.persist("append lock", func(ctx context.Context) error {
			return c.deps.Store.AppendLock(ctx, sessionID, blockID)
		})
	})
	return tracker, nav
}

// activate enters PhaseActive and starts exactly one timer.
func (c *Controller) activate(sess *model.Session, nav *Navigator, tracker *AnswerTracker, remaining int) error {
	timer := NewExamTimer(c.deps.TickInterval)

	c.navMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.navMu.Unlock()
		return fmt.Errorf("session %s discarded before activation: %w", sess.ID, ErrWrongPhase)
	}
	c.session = sess
	c.token = sess.Token
	c.examID = sess.ExamID
	c.roster = nav.Blocks()
	c.nav = nav
	c.answers = tracker
	c.timer = timer
	c.phase = model.PhaseActive
	err := timer.Start(remaining, c.onTick(sess.ID), c.onExpire(sess.ID))
	c.mu.Unlock()
	c.navMu.Unlock()

	if err != nil {
		return fmt.Errorf("start timer: %w", err)
	}
	c.publish(Event{Type: EventPhase, SessionID: sess.ID, Phase: model.PhaseActive})
	return nil
}

func (c *Controller) onTick(sessionID string) func(int) {
	return func(remaining int) {
		r := remaining
		c.publish(Event{Type: EventTick, SessionID: sessionID, Remaining: &r})
	}
}

// onExpire finishes the session with FinishTimeout, retrying until the
// platform accepts it or the controller is closed. Answers are already
// refused once the countdown reaches zero.
func (c *Controller) onExpire(sessionID string) func() {
	return func() {
		c.log.Info().Str("session_id", sessionID).Msg("Time is up, finishing session")
		for attempt := 1; ; attempt++ {
			_, err := c.Finish(context.Background(), model.FinishTimeout, true)
			if err == nil || errors.Is(err, ErrWrongPhase) {
				return
			}
			c.log.Error().Err(err).
				Str("session_id", sessionID).
				Int("attempt", attempt).
				Msg("Timeout finish failed, retrying")

			select {
			case <-c.done:
				return
			case <-time.After(c.deps.FinishRetryInterval):
			}
		}
	}
}

func (c *Controller) activeParts(op string) (*Navigator, *AnswerTracker, *model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != model.PhaseActive {
		return nil, nil, nil, wrongPhase(op, c.phase)
	}
	return c.nav, c.answers, c.session, nil
}

// acceptingAnswers rejects answers once time is up or a finish is in flight.
func (c *Controller) acceptingAnswers() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finishing {
		return fmt.Errorf("record answer while finishing: %w", ErrWrongPhase)
	}
	if c.timer != nil && c.timer.Remaining() == 0 {
		return fmt.Errorf("record answer after time is up: %w", ErrWrongPhase)
	}
	return nil
}

// persist runs a best-effort state store write. Failures are logged; local
// state stays authoritative.
func (c *Controller) persist(what string, fn func(ctx context.Context) error) {
	if c.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.deps.StoreTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.log.Warn().Err(err).Str("op", what).Msg("State store write failed")
	}
}

func (c *Controller) publish(ev Event) {
	if c.deps.Events != nil {
		c.deps.Events.Publish(ev)
	}
}
