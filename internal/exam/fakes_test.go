package exam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/model"
)

var errDown = errors.New("platform down")

var quietLog = zerolog.New(io.Discard)

// fakePlatform is an in-memory platform with two-option questions. The
// correct option of every question is "a".
type fakePlatform struct {
	mu sync.Mutex

	password  string
	blocks    []model.Block
	questions map[string][]model.Question
	duration  int

	gateErr   error
	startErr  error
	answerErr error
	finishErr error
	loadErr   map[string]error

	// startGate and finishGate, when set, block StartSession and Finish
	// until they are closed.
	startGate  chan struct{}
	finishGate chan struct{}

	gateCalls   atomic.Int32
	startCalls  atomic.Int32
	finishCalls atomic.Int32
	submitted   []model.Answer
	loads       map[string]int
}

func newFakePlatform(blockSizes ...int) *fakePlatform {
	p := &fakePlatform{
		password:  "open-sesame",
		questions: map[string][]model.Question{},
		duration:  600,
		loadErr:   map[string]error{},
		loads:     map[string]int{},
	}
	for i, n := range blockSizes {
		id := fmt.Sprintf("b%d", i+1)
		p.blocks = append(p.blocks, model.Block{ID: id, Ordinal: i + 1, ExpectedQuestionCount: n})
		for j := 0; j < n; j++ {
			qid := fmt.Sprintf("%s-q%d", id, j+1)
			p.questions[id] = append(p.questions[id], model.Question{
				ID:      qid,
				BlockID: id,
				Code:    qid,
				Options: []model.Option{{ID: "a"}, {ID: "b"}},
			})
		}
	}
	return p
}

func (p *fakePlatform) VerifyGate(ctx context.Context, examID, password string) (bool, error) {
	p.gateCalls.Add(1)
	if p.gateErr != nil {
		return false, p.gateErr
	}
	return password == p.password, nil
}

func (p *fakePlatform) ExamBlocks(ctx context.Context, examID string) ([]model.Block, error) {
	return p.blocks, nil
}

func (p *fakePlatform) StartSession(ctx context.Context, examID string, candidate model.CandidateIdentity) (*model.SessionStart, error) {
	p.startCalls.Add(1)
	if p.startGate != nil {
		select {
		case <-p.startGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.startErr != nil {
		return nil, p.startErr
	}
	return &model.SessionStart{SessionID: "sess-1", Token: "tok-1", DurationSeconds: p.duration}, nil
}

func (p *fakePlatform) Questions(ctx context.Context, token, blockID string) ([]model.Question, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.loadErr[blockID]; err != nil {
		return nil, err
	}
	p.loads[blockID]++
	return p.questions[blockID], nil
}

func (p *fakePlatform) SubmitAnswer(ctx context.Context, token string, a model.Answer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answerErr != nil {
		return p.answerErr
	}
	p.submitted = append(p.submitted, a)
	return nil
}

func (p *fakePlatform) Finish(ctx context.Context, token string) ([]model.BlockResult, error) {
	p.finishCalls.Add(1)
	if p.finishGate != nil {
		select {
		case <-p.finishGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finishErr != nil {
		return nil, p.finishErr
	}

	// Only blocks the candidate loaded are reported, like a platform that
	// scores what it served.
	var stats []model.BlockResult
	answers := map[string]string{}
	for _, a := range p.submitted {
		answers[a.QuestionID] = a.OptionID
	}
	for _, b := range p.blocks {
		if p.loads[b.ID] == 0 {
			continue
		}
		correct := 0
		for _, q := range p.questions[b.ID] {
			if answers[q.ID] == "a" {
				correct++
			}
		}
		total := len(p.questions[b.ID])
		stats = append(stats, model.BlockResult{
			BlockID:      b.ID,
			CorrectCount: correct,
			TotalCount:   total,
			Percent:      float64(correct) / float64(total) * 100,
		})
	}
	return stats, nil
}

func (p *fakePlatform) submittedAnswers() []model.Answer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Answer, len(p.submitted))
	copy(out, p.submitted)
	return out
}

func (p *fakePlatform) setFinishErr(err error) {
	p.mu.Lock()
	p.finishErr = err
	p.mu.Unlock()
}

// memoryStore is an in-memory StateStore.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]model.SessionRecord
	locks   map[string][]string
	answers map[string]map[string]string
	results map[string]model.Results
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: map[string]model.SessionRecord{},
		locks:   map[string][]string{},
		answers: map[string]map[string]string{},
		results: map[string]model.Results{},
	}
}

func (s *memoryStore) SaveSession(ctx context.Context, rec model.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Session.ID] = rec
	return nil
}

func (s *memoryStore) LoadSession(ctx context.Context, id string) (*model.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &rec, nil
}

func (s *memoryStore) AppendLock(ctx context.Context, id, blockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.locks[id] {
		if b == blockID {
			return nil
		}
	}
	s.locks[id] = append(s.locks[id], blockID)
	return nil
}

func (s *memoryStore) LockedBlocks(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.locks[id]...)
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) SaveAnswer(ctx context.Context, id string, a model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answers[id] == nil {
		s.answers[id] = map[string]string{}
	}
	s.answers[id][a.QuestionID] = a.OptionID
	return nil
}

func (s *memoryStore) Answers(ctx context.Context, id string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for q, o := range s.answers[id] {
		out[q] = o
	}
	return out, nil
}

func (s *memoryStore) SaveResults(ctx context.Context, id string, res model.Results) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = res
	return nil
}

func (s *memoryStore) LoadResults(ctx context.Context, id string) (*model.Results, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &res, nil
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// staticAnswers is an AnswerState backed by a plain map.
type staticAnswers map[string]string

func (s staticAnswers) IsAnswered(id string) bool {
	_, ok := s[id]
	return ok
}
