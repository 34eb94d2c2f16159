package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/exam"
	"github.com/stemsi/exstem-station/internal/platform"
	"github.com/stemsi/exstem-station/internal/platform/platformstub"
	"github.com/stemsi/exstem-station/internal/response"
	"github.com/stemsi/exstem-station/internal/service"
	"github.com/stemsi/exstem-station/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   response.ErrCode  `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

type examFixture struct {
	t       *testing.T
	engine  *gin.Engine
	station *service.StationService
}

func newExamFixture(t *testing.T, platformURL string) *examFixture {
	t.Helper()
	log := zerolog.New(io.Discard)

	station := service.NewStationService(exam.Deps{
		Platform:       platform.New(platformURL, time.Second),
		RequestTimeout: time.Second,
		AnswerTimeout:  time.Second,
	}, nil, log)
	t.Cleanup(station.Close)

	h := NewExamHandler(station, log)
	r := gin.New()
	g := r.Group("/api/v1/exam")
	g.GET("/state", h.GetState)
	g.POST("/gate/verify", h.VerifyGate)
	g.POST("/session/start", h.StartSession)
	g.POST("/session/resume", h.ResumeSession)
	g.POST("/answers", h.RecordAnswer)
	g.POST("/navigate", h.Navigate)
	g.POST("/navigate/jump", h.Jump)
	g.GET("/unanswered", h.GetUnanswered)
	g.POST("/finish", h.Finish)
	g.GET("/results", h.GetResults)
	g.POST("/reset", h.Reset)

	return &examFixture{t: t, engine: r, station: station}
}

func newStubPlatform(t *testing.T) string {
	t.Helper()
	stub := platformstub.New(platformstub.Config{
		ExamID:            "demo",
		GatePassword:      "rahasia",
		Blocks:            2,
		QuestionsPerBlock: 2,
		DurationSeconds:   600,
	}, zerolog.New(io.Discard))
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)
	return srv.URL + "/api/v1"
}

func (f *examFixture) do(method, path string, body any) (int, envelope) {
	f.t.Helper()
	var buf io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, "/api/v1/exam"+path, buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		f.t.Fatalf("%s %s: decode body %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func (f *examFixture) expect(method, path string, body any, status int) envelope {
	f.t.Helper()
	code, env := f.do(method, path, body)
	if code != status {
		f.t.Fatalf("%s %s: status = %d, want %d (error %+v)", method, path, code, status, env.Error)
	}
	return env
}

func (f *examFixture) expectError(method, path string, body any, status int, code response.ErrCode) envelope {
	f.t.Helper()
	env := f.expect(method, path, body, status)
	if env.Error == nil || env.Error.Code != code {
		f.t.Fatalf("%s %s: error = %+v, want %s", method, path, env.Error, code)
	}
	return env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

type stateData struct {
	State struct {
		Phase string `json:"phase"`
	} `json:"state"`
}

type outcomeData struct {
	Outcome struct {
		Kind          string `json:"kind"`
		Missing       int    `json:"missing"`
		LockedBlockID string `json:"locked_block_id"`
	} `json:"outcome"`
}

func (f *examFixture) unlockAndStart() {
	f.t.Helper()
	f.expect(http.MethodPost, "/gate/verify", gin.H{"exam_id": "demo", "password": "rahasia"}, http.StatusOK)
	f.expect(http.MethodPost, "/session/start", gin.H{"candidate": gin.H{"id": "c-1"}}, http.StatusCreated)
}

func TestGateRejectsWrongPassword(t *testing.T) {
	f := newExamFixture(t, newStubPlatform(t))

	env := f.expect(http.MethodGet, "/state", nil, http.StatusOK)
	if got := decode[stateData](t, env.Data).State.Phase; got != "gate" {
		t.Fatalf("initial phase = %s", got)
	}

	f.expectError(http.MethodPost, "/gate/verify", gin.H{"exam_id": "demo", "password": "salah"},
		http.StatusBadRequest, response.ErrInvalidGatePassword)
	f.expectError(http.MethodPost, "/session/start", gin.H{"candidate": gin.H{"id": "c-1"}},
		http.StatusConflict, response.ErrWrongPhase)

	env = f.expect(http.MethodPost, "/gate/verify", gin.H{"exam_id": "demo", "password": "rahasia"}, http.StatusOK)
	unlocked := decode[struct {
		Phase string `json:"phase"`
	}](t, env.Data)
	if unlocked.Phase != "unlocked" {
		t.Fatalf("phase after unlock = %s", unlocked.Phase)
	}
}

func TestRequestValidation(t *testing.T) {
	f := newExamFixture(t, newStubPlatform(t))

	env := f.expectError(http.MethodPost, "/gate/verify", gin.H{"exam_id": "  ", "password": "x"},
		http.StatusBadRequest, response.ErrValidation)
	if env.Error.Fields["exam_id"] == "" {
		t.Fatalf("expected exam_id field error, got %+v", env.Error.Fields)
	}

	f.unlockAndStart()
	f.expectError(http.MethodPost, "/navigate", gin.H{"direction": 2}, http.StatusBadRequest, response.ErrValidation)
	f.expectError(http.MethodPost, "/navigate/jump", gin.H{}, http.StatusBadRequest, response.ErrValidation)
	f.expectError(http.MethodPost, "/answers", gin.H{"question_id": "b1-q1", "option_id": "z"},
		http.StatusBadRequest, response.ErrValidation)
}

func TestFullAttemptOverHTTP(t *testing.T) {
	f := newExamFixture(t, newStubPlatform(t))
	f.unlockAndStart()

	f.expectError(http.MethodGet, "/results", nil, http.StatusConflict, response.ErrResultsNotReady)

	f.expect(http.MethodPost, "/answers", gin.H{"question_id": "b1-q1", "option_id": "a"}, http.StatusOK)

	env := f.expect(http.MethodPost, "/navigate", gin.H{"direction": 1}, http.StatusOK)
	if out := decode[outcomeData](t, env.Data).Outcome; out.Kind != "advanced" {
		t.Fatalf("outcome = %+v", out)
	}

	env = f.expect(http.MethodPost, "/navigate", gin.H{"direction": 1}, http.StatusOK)
	if out := decode[outcomeData](t, env.Data).Outcome; out.Kind != "incomplete" || out.Missing != 1 {
		t.Fatalf("outcome = %+v", out)
	}

	f.expect(http.MethodPost, "/answers", gin.H{"question_id": "b1-q2", "option_id": "b"}, http.StatusOK)
	env = f.expect(http.MethodPost, "/navigate", gin.H{"direction": 1}, http.StatusOK)
	if out := decode[outcomeData](t, env.Data).Outcome; out.LockedBlockID != "b1" {
		t.Fatalf("expected b1 locked, got %+v", out)
	}

	f.expectError(http.MethodPost, "/answers", gin.H{"question_id": "b1-q1", "option_id": "b"},
		http.StatusConflict, response.ErrBlockLocked)
	f.expect(http.MethodPost, "/navigate/jump", gin.H{"index": 1}, http.StatusOK)
	f.expectError(http.MethodPost, "/navigate/jump", gin.H{"index": 5}, http.StatusBadRequest, response.ErrValidation)

	env = f.expect(http.MethodGet, "/unanswered", nil, http.StatusOK)
	if n := decode[struct {
		Unanswered int `json:"unanswered"`
	}](t, env.Data).Unanswered; n != 2 {
		t.Fatalf("unanswered = %d", n)
	}

	env = f.expectError(http.MethodPost, "/finish", gin.H{"confirmed": false},
		http.StatusConflict, response.ErrUnansweredQuestions)
	if env.Error.Fields["unanswered"] != "2" {
		t.Fatalf("fields = %+v", env.Error.Fields)
	}

	f.expectError(http.MethodPost, "/reset", nil, http.StatusConflict, response.ErrWrongPhase)

	type resultsData struct {
		Results struct {
			Reason         string  `json:"reason"`
			OverallPercent float64 `json:"overall_percent"`
			Correct        int     `json:"correct"`
			Declared       int     `json:"declared"`
		} `json:"results"`
	}
	env = f.expect(http.MethodPost, "/finish", gin.H{"confirmed": true}, http.StatusOK)
	res := decode[resultsData](t, env.Data).Results
	if res.Reason != "manual" || res.Correct != 1 || res.Declared != 4 || res.OverallPercent != 25 {
		t.Fatalf("unexpected results %+v", res)
	}

	env = f.expect(http.MethodGet, "/results", nil, http.StatusOK)
	if again := decode[resultsData](t, env.Data).Results; again != res {
		t.Fatalf("cached results differ: %+v vs %+v", again, res)
	}

	env = f.expect(http.MethodPost, "/reset", nil, http.StatusOK)
	if got := decode[stateData](t, env.Data).State.Phase; got != "gate" {
		t.Fatalf("phase after reset = %s", got)
	}
}

func TestPlatformDownIsBadGateway(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := newExamFixture(t, url)
	f.expectError(http.MethodPost, "/gate/verify", gin.H{"exam_id": "demo", "password": "rahasia"},
		http.StatusBadGateway, response.ErrPlatformUnavailable)

	env := f.expect(http.MethodGet, "/state", nil, http.StatusOK)
	if got := decode[stateData](t, env.Data).State.Phase; got != "gate" {
		t.Fatalf("phase = %s", got)
	}
}

func TestResumeWithoutStateStore(t *testing.T) {
	f := newExamFixture(t, newStubPlatform(t))
	f.expectError(http.MethodPost, "/session/resume", gin.H{"session_id": "abc"},
		http.StatusNotFound, response.ErrSessionNotFound)
}

func TestMalformedBodyIsInvalidPayload(t *testing.T) {
	f := newExamFixture(t, newStubPlatform(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exam/gate/verify", bytes.NewBufferString(`{"exam_id":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != response.ErrInvalidPayload {
		t.Fatalf("got %d %+v", w.Code, env.Error)
	}
}
