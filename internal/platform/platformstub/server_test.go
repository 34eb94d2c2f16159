package platformstub_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/model"
	"github.com/stemsi/exstem-station/internal/platform"
	"github.com/stemsi/exstem-station/internal/platform/platformstub"
	"github.com/stemsi/exstem-station/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

func newStub(t *testing.T, cfg platformstub.Config) *platform.Client {
	t.Helper()
	srv := httptest.NewServer(platformstub.New(cfg, zerolog.New(io.Discard)).Handler())
	t.Cleanup(srv.Close)
	return platform.New(srv.URL+"/api/v1", time.Second)
}

var baseConfig = platformstub.Config{
	ExamID:            "demo",
	GatePassword:      "rahasia",
	Blocks:            3,
	QuestionsPerBlock: 2,
	DurationSeconds:   600,
}

func TestStubFullAttempt(t *testing.T) {
	ctx := context.Background()
	c := newStub(t, baseConfig)

	if ok, err := c.VerifyGate(ctx, "demo", "salah"); err != nil || ok {
		t.Fatalf("wrong password: ok=%v err=%v", ok, err)
	}
	if ok, err := c.VerifyGate(ctx, "demo", "rahasia"); err != nil || !ok {
		t.Fatalf("right password: ok=%v err=%v", ok, err)
	}

	blocks, err := c.ExamBlocks(ctx, "demo")
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(blocks) != 3 || blocks[0].ExpectedQuestionCount != 2 {
		t.Fatalf("unexpected roster %+v", blocks)
	}

	start, err := c.StartSession(ctx, "demo", model.CandidateIdentity{ID: "c-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if start.DurationSeconds != 600 {
		t.Fatalf("duration = %d", start.DurationSeconds)
	}

	qs, err := c.Questions(ctx, start.Token, "b1")
	if err != nil || len(qs) != 2 {
		t.Fatalf("questions: %v %d", err, len(qs))
	}
	if err := c.SubmitAnswer(ctx, start.Token, model.Answer{QuestionID: qs[0].ID, OptionID: "a"}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := c.SubmitAnswer(ctx, start.Token, model.Answer{QuestionID: qs[1].ID, OptionID: "b"}); err != nil {
		t.Fatalf("answer: %v", err)
	}

	stats, err := c.Finish(ctx, start.Token)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("only the loaded block is scored, got %+v", stats)
	}
	if stats[0].BlockID != "b1" || stats[0].CorrectCount != 1 || stats[0].TotalCount != 2 {
		t.Fatalf("unexpected stats %+v", stats[0])
	}

	if _, err := c.Finish(ctx, start.Token); !errors.Is(err, platform.ErrRemote) {
		t.Fatalf("second finish should be rejected, got %v", err)
	}
}

func TestStubRejectsUnknownToken(t *testing.T) {
	c := newStub(t, baseConfig)

	_, err := c.Questions(context.Background(), "nope", "b1")
	var rerr *platform.RemoteError
	if !errors.As(err, &rerr) || rerr.Status != 401 || rerr.Code != "TOKEN_INVALID" {
		t.Fatalf("expected 401 TOKEN_INVALID, got %v", err)
	}
}

func TestStubInjectsAnswerFailures(t *testing.T) {
	cfg := baseConfig
	cfg.AnswerFailEvery = 2
	ctx := context.Background()
	c := newStub(t, cfg)

	start, err := c.StartSession(ctx, "demo", model.CandidateIdentity{ID: "c-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	a := model.Answer{QuestionID: "b1-q1", OptionID: "a"}
	if err := c.SubmitAnswer(ctx, start.Token, a); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if err := c.SubmitAnswer(ctx, start.Token, a); !errors.Is(err, platform.ErrRemote) {
		t.Fatalf("second answer should fail, got %v", err)
	}
}
