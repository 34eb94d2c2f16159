package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/exam"
	"github.com/stemsi/exstem-station/internal/model"
	"github.com/stemsi/exstem-station/internal/platform"
	"github.com/stemsi/exstem-station/internal/response"
	"github.com/stemsi/exstem-station/internal/service"
)

// ExamHandler exposes the station's current attempt to the renderer.
type ExamHandler struct {
	station *service.StationService
	log     zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(station *service.StationService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		station: station,
		log:     log.With().Str("component", "exam_handler").Logger(),
	}
}

// GetState godoc
// GET /api/v1/exam/state
// Returns the phase, the current view model and the session, if any.
func (h *ExamHandler) GetState(c *gin.Context) {
	ctrl := h.station.Controller()
	response.Success(c, http.StatusOK, gin.H{
		"state":   ctrl.View(),
		"session": ctrl.Session(),
	})
}

// VerifyGate godoc
// POST /api/v1/exam/gate/verify
// Checks the exam's gate password and unlocks the station.
func (h *ExamHandler) VerifyGate(c *gin.Context) {
	var req model.VerifyGateRequest
	if !bind(c, &req) {
		return
	}

	ctrl := h.station.Controller()
	ok, err := ctrl.Unlock(c.Request.Context(), req.ExamID, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidGatePassword)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"phase": ctrl.Phase()})
}

// StartSession godoc
// POST /api/v1/exam/session/start
// Opens the session on the platform and starts the countdown.
func (h *ExamHandler) StartSession(c *gin.Context) {
	var req model.StartSessionRequest
	if !bind(c, &req) {
		return
	}

	ctrl := h.station.Controller()
	sess, err := ctrl.Start(c.Request.Context(), req.Candidate)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": sess, "state": ctrl.View()})
}

// ResumeSession godoc
// POST /api/v1/exam/session/resume
// Reattaches a session after a renderer or station restart.
func (h *ExamHandler) ResumeSession(c *gin.Context) {
	var req model.ResumeSessionRequest
	if !bind(c, &req) {
		return
	}

	ctrl := h.station.Controller()
	sess, err := ctrl.Resume(c.Request.Context(), req.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess, "state": ctrl.View()})
}

// RecordAnswer godoc
// POST /api/v1/exam/answers
func (h *ExamHandler) RecordAnswer(c *gin.Context) {
	var req model.RecordAnswerRequest
	if !bind(c, &req) {
		return
	}

	ctrl := h.station.Controller()
	if err := ctrl.Record(req.QuestionID, req.OptionID); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": ctrl.View()})
}

// Navigate godoc
// POST /api/v1/exam/navigate
// Moves one question forward or backward. An incomplete block is reported in
// the outcome, not as an error.
func (h *ExamHandler) Navigate(c *gin.Context) {
	var req model.NavigateRequest
	if !bind(c, &req) {
		return
	}

	ctrl := h.station.Controller()
	out, err := ctrl.Advance(c.Request.Context(), req.Direction)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"outcome": out, "state": ctrl.View()})
}

// Jump godoc
// POST /api/v1/exam/navigate/jump
func (h *ExamHandler) Jump(c *gin.Context) {
	var req model.JumpRequest
	if !bind(c, &req) {
		return
	}

	ctrl := h.station.Controller()
	if err := ctrl.Jump(*req.Index); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": ctrl.View()})
}

// GetUnanswered godoc
// GET /api/v1/exam/unanswered
func (h *ExamHandler) GetUnanswered(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"unanswered": h.station.Controller().CountUnanswered()})
}

// Finish godoc
// POST /api/v1/exam/finish
// Manual finish. Unanswered questions require confirmed=true.
func (h *ExamHandler) Finish(c *gin.Context) {
	var req model.FinishRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.station.Controller().Finish(c.Request.Context(), model.FinishManual, req.Confirmed)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"results": res})
}

// GetResults godoc
// GET /api/v1/exam/results
func (h *ExamHandler) GetResults(c *gin.Context) {
	res, ok := h.station.Controller().Results()
	if !ok {
		response.Fail(c, http.StatusConflict, response.ErrResultsNotReady)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": res})
}

// Reset godoc
// POST /api/v1/exam/reset
// Discards the attempt and returns the station to the gate.
func (h *ExamHandler) Reset(c *gin.Context) {
	ctrl, err := h.station.Reset()
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"state": ctrl.View()})
}

// fail maps core and platform errors onto the response envelope.
func (h *ExamHandler) fail(c *gin.Context, err error) {
	var unanswered *exam.UnansweredError

	switch {
	case errors.As(err, &unanswered):
		response.FailWithFields(c, http.StatusConflict, response.ErrUnansweredQuestions,
			map[string]string{"unanswered": strconv.Itoa(unanswered.Count)})
	case errors.Is(err, exam.ErrValidation):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"detail": err.Error()})
	case errors.Is(err, exam.ErrWrongPhase):
		response.Fail(c, http.StatusConflict, response.ErrWrongPhase)
	case errors.Is(err, exam.ErrBlockLocked):
		response.Fail(c, http.StatusConflict, response.ErrBlockLocked)
	case errors.Is(err, exam.ErrJumpNotAllowed):
		response.Fail(c, http.StatusConflict, response.ErrJumpNotAllowed)
	case errors.Is(err, exam.ErrNoBlocks):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoBlocks)
	case errors.Is(err, exam.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, platform.ErrRemote), errors.Is(err, context.DeadlineExceeded):
		h.log.Warn().Err(err).Str("request_id", response.RequestID(c)).Msg("Platform call failed")
		response.Fail(c, http.StatusBadGateway, response.ErrPlatformUnavailable)
	default:
		h.log.Error().Err(err).Str("request_id", response.RequestID(c)).Msg("Unhandled exam error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// Phase reports the current attempt's phase for the health probe.
func (h *ExamHandler) Phase() model.Phase {
	return h.station.Controller().Phase()
}
