package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/stemsi/exstem-station/internal/logger"
	"github.com/stemsi/exstem-station/internal/platform/platformstub"
)

func main() {
	_ = godotenv.Load()

	var (
		addr string
		cfg  platformstub.Config
	)
	flag.StringVar(&addr, "addr", ":8050", "Listen address")
	flag.StringVar(&cfg.ExamID, "exam", "demo", "Exam id")
	flag.StringVar(&cfg.GatePassword, "password", "rahasia", "Gate password")
	flag.IntVar(&cfg.Blocks, "blocks", 3, "Number of blocks")
	flag.IntVar(&cfg.QuestionsPerBlock, "questions", 5, "Questions per block")
	flag.IntVar(&cfg.OptionsPerQuestion, "options", 4, "Options per question")
	flag.IntVar(&cfg.DurationSeconds, "duration", 1800, "Session duration in seconds")
	flag.IntVar(&cfg.AnswerFailEvery, "fail-every", 0, "Fail every Nth answer submission (0 = never)")
	flag.Parse()

	log := logger.Setup("info", "pretty")
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:              addr,
		Handler:           platformstub.New(cfg, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("exam", cfg.ExamID).
		Int("blocks", cfg.Blocks).
		Msg("Stub platform listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}
