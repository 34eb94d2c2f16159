package worker

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/exam"
	"github.com/stemsi/exstem-station/internal/model"
)

var errDown = errors.New("platform down")

type fakeState struct {
	records  map[string]model.SessionRecord
	finished map[string]bool
	choices  map[string]string
}

func (s *fakeState) LoadSession(ctx context.Context, id string) (*model.SessionRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, exam.ErrSessionNotFound
	}
	return &rec, nil
}

func (s *fakeState) IsFinished(ctx context.Context, id string) (bool, error) {
	return s.finished[id], nil
}

func (s *fakeState) AnswerChoice(ctx context.Context, id, q string) (string, bool, error) {
	o, ok := s.choices[q]
	return o, ok, nil
}

type fakeSubmitter struct {
	err    error
	tokens []string
	sent   []model.Answer
}

func (f *fakeSubmitter) SubmitAnswer(ctx context.Context, token string, a model.Answer) error {
	if f.err != nil {
		return f.err
	}
	f.tokens = append(f.tokens, token)
	f.sent = append(f.sent, a)
	return nil
}

func newRetryFixture() (*AnswerRetryWorker, *fakeState, *fakeSubmitter) {
	state := &fakeState{
		records:  map[string]model.SessionRecord{"s1": {Token: "tok-1"}},
		finished: map[string]bool{},
		choices:  map[string]string{"q1": "a"},
	}
	sub := &fakeSubmitter{}
	w := NewAnswerRetryWorker(nil, sub, state, 3, zerolog.New(io.Discard))
	return w, state, sub
}

func TestAnswerRetryResubmitsCurrentChoice(t *testing.T) {
	w, _, sub := newRetryFixture()

	_, again := w.handle(context.Background(), model.RetryAnswer{SessionID: "s1", QuestionID: "q1", OptionID: "a"})
	if again {
		t.Fatal("successful retry must not requeue")
	}
	if len(sub.sent) != 1 || sub.tokens[0] != "tok-1" {
		t.Fatalf("expected one resubmission with the session token, got %+v %v", sub.sent, sub.tokens)
	}
}

func TestAnswerRetryDropsStaleItems(t *testing.T) {
	cases := map[string]struct {
		item  model.RetryAnswer
		setup func(*fakeState)
	}{
		"superseded choice": {
			item: model.RetryAnswer{SessionID: "s1", QuestionID: "q1", OptionID: "b"},
		},
		"unknown session": {
			item: model.RetryAnswer{SessionID: "gone", QuestionID: "q1", OptionID: "a"},
		},
		"finished session": {
			item:  model.RetryAnswer{SessionID: "s1", QuestionID: "q1", OptionID: "a"},
			setup: func(s *fakeState) { s.finished["s1"] = true },
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w, state, sub := newRetryFixture()
			if tc.setup != nil {
				tc.setup(state)
			}
			if _, again := w.handle(context.Background(), tc.item); again {
				t.Fatal("stale item must be dropped")
			}
			if len(sub.sent) != 0 {
				t.Fatalf("stale item must not be resubmitted, sent %+v", sub.sent)
			}
		})
	}
}

func TestAnswerRetryGivesUpAtLimit(t *testing.T) {
	w, _, sub := newRetryFixture()
	sub.err = errDown

	item := model.RetryAnswer{SessionID: "s1", QuestionID: "q1", OptionID: "a"}
	for i := 1; i < 3; i++ {
		next, again := w.handle(context.Background(), item)
		if !again || next.Attempts != i {
			t.Fatalf("attempt %d: expected requeue with attempts=%d, got %v %d", i, i, again, next.Attempts)
		}
		item = next
	}
	if _, again := w.handle(context.Background(), item); again {
		t.Fatal("expected the worker to give up at the limit")
	}
}
