// Package platformstub is an in-memory implementation of the platform API for
// local development and end-to-end tests. The first option of every question
// is the correct one.
package platformstub

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/model"
)

// Config describes the single exam the stub serves.
type Config struct {
	ExamID             string
	GatePassword       string
	Blocks             int
	QuestionsPerBlock  int
	OptionsPerQuestion int
	DurationSeconds    int
	// AnswerFailEvery makes every Nth answer submission fail with 503.
	// Zero disables failures.
	AnswerFailEvery int
}

type session struct {
	id      string
	token   string
	loaded  map[string]bool
	answers map[string]string
	done    bool
}

// Server holds the stub's state.
type Server struct {
	cfg    Config
	blocks []model.Block
	// questions by block id
	questions map[string][]model.Question
	correct   map[string]string
	log       zerolog.Logger

	mu        sync.Mutex
	sessions  map[string]*session // by token
	submitted int
}

// New builds the exam content from cfg.
func New(cfg Config, log zerolog.Logger) *Server {
	if cfg.OptionsPerQuestion < 2 {
		cfg.OptionsPerQuestion = 2
	}
	s := &Server{
		cfg:       cfg,
		questions: make(map[string][]model.Question),
		correct:   make(map[string]string),
		sessions:  make(map[string]*session),
		log:       log.With().Str("component", "platform_stub").Logger(),
	}

	for b := 1; b <= cfg.Blocks; b++ {
		block := model.Block{
			ID:                    fmt.Sprintf("b%d", b),
			Ordinal:               b,
			Title:                 fmt.Sprintf("Block %d", b),
			ExpectedQuestionCount: cfg.QuestionsPerBlock,
		}
		s.blocks = append(s.blocks, block)

		for q := 1; q <= cfg.QuestionsPerBlock; q++ {
			qid := fmt.Sprintf("%s-q%d", block.ID, q)
			question := model.Question{
				ID:      qid,
				BlockID: block.ID,
				Code:    fmt.Sprintf("%d.%d", b, q),
				Text:    fmt.Sprintf("Question %d of block %d", q, b),
			}
			for o := 0; o < cfg.OptionsPerQuestion; o++ {
				oid := string(rune('a' + o))
				question.Options = append(question.Options, model.Option{ID: oid, Text: strings.ToUpper(oid)})
			}
			s.questions[block.ID] = append(s.questions[block.ID], question)
			s.correct[qid] = "a"
		}
	}
	return s
}

// Handler returns the stub's routes under /api/v1.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	{
		api.POST("/gate/verify", s.verifyGate)
		api.GET("/exams/:exam_id/blocks", s.examBlocks)
		api.POST("/session/start", s.startSession)
		api.GET("/questions", s.requireSession, s.listQuestions)
		api.POST("/answer", s.requireSession, s.submitAnswer)
		api.POST("/finish", s.requireSession, s.finish)
	}
	return r
}

// ─── Envelope ───────────────────────────────────────────────────────────────

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) verifyGate(c *gin.Context) {
	var req struct {
		ExamID   string `json:"exam_id"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	valid := req.ExamID == s.cfg.ExamID && req.Password == s.cfg.GatePassword
	ok(c, gin.H{"valid": valid})
}

func (s *Server) examBlocks(c *gin.Context) {
	if c.Param("exam_id") != s.cfg.ExamID {
		fail(c, http.StatusNotFound, "EXAM_NOT_FOUND", "unknown exam")
		return
	}
	ok(c, gin.H{"blocks": s.blocks})
}

func (s *Server) startSession(c *gin.Context) {
	var req struct {
		ExamID    string                  `json:"exam_id"`
		Candidate model.CandidateIdentity `json:"candidate_identity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if req.ExamID != s.cfg.ExamID {
		fail(c, http.StatusNotFound, "EXAM_NOT_FOUND", "unknown exam")
		return
	}

	sess := &session{
		id:      uuid.NewString(),
		token:   uuid.NewString(),
		loaded:  make(map[string]bool),
		answers: make(map[string]string),
	}
	s.mu.Lock()
	s.sessions[sess.token] = sess
	s.mu.Unlock()

	s.log.Info().Str("session_id", sess.id).Str("candidate", req.Candidate.ID).Msg("Session started")
	ok(c, model.SessionStart{SessionID: sess.id, Token: sess.token, DurationSeconds: s.cfg.DurationSeconds})
}

func (s *Server) requireSession(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	s.mu.Lock()
	sess, found := s.sessions[token]
	done := found && sess.done
	s.mu.Unlock()

	switch {
	case !found:
		fail(c, http.StatusUnauthorized, "TOKEN_INVALID", "unknown session token")
	case done:
		fail(c, http.StatusConflict, "SESSION_FINISHED", "session already finished")
	default:
		c.Set("session", sess)
		c.Next()
	}
}

func (s *Server) listQuestions(c *gin.Context) {
	sess := c.MustGet("session").(*session)
	blockID := c.Query("block_id")
	questions, found := s.questions[blockID]
	if !found {
		fail(c, http.StatusNotFound, "BLOCK_NOT_FOUND", "unknown block")
		return
	}

	s.mu.Lock()
	sess.loaded[blockID] = true
	s.mu.Unlock()

	ok(c, gin.H{"questions": questions})
}

func (s *Server) submitAnswer(c *gin.Context) {
	sess := c.MustGet("session").(*session)
	var a model.Answer
	if err := c.ShouldBindJSON(&a); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if _, known := s.correct[a.QuestionID]; !known {
		fail(c, http.StatusNotFound, "QUESTION_NOT_FOUND", "unknown question")
		return
	}

	s.mu.Lock()
	s.submitted++
	injected := s.cfg.AnswerFailEvery > 0 && s.submitted%s.cfg.AnswerFailEvery == 0
	if !injected {
		sess.answers[a.QuestionID] = a.OptionID
	}
	s.mu.Unlock()

	if injected {
		fail(c, http.StatusServiceUnavailable, "UNAVAILABLE", "injected failure")
		return
	}
	ok(c, gin.H{"saved": true})
}

// finish scores only the blocks whose questions were loaded.
func (s *Server) finish(c *gin.Context) {
	sess := c.MustGet("session").(*session)

	s.mu.Lock()
	defer s.mu.Unlock()

	sess.done = true
	stats := make([]model.BlockResult, 0, len(s.blocks))
	for _, b := range s.blocks {
		if !sess.loaded[b.ID] {
			continue
		}
		correct := 0
		for _, q := range s.questions[b.ID] {
			if sess.answers[q.ID] == s.correct[q.ID] {
				correct++
			}
		}
		stats = append(stats, model.BlockResult{
			BlockID:      b.ID,
			CorrectCount: correct,
			TotalCount:   len(s.questions[b.ID]),
		})
	}

	s.log.Info().Str("session_id", sess.id).Int("blocks", len(stats)).Msg("Session finished")
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"block_stats": stats}})
}
