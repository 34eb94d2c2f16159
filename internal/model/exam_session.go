package model

import (
	"time"
)

// Phase enumerates the lifecycle states of a candidate attempt.
type Phase string

const (
	PhaseGate     Phase = "gate"
	PhaseUnlocked Phase = "unlocked"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// FinishReason records what ended the attempt.
type FinishReason string

const (
	FinishManual  FinishReason = "manual"
	FinishTimeout FinishReason = "timeout"
)

// CandidateIdentity is forwarded to the platform on session start.
type CandidateIdentity struct {
	ID       string `json:"id" binding:"required,notblank,max=64"`
	FullName string `json:"full_name" binding:"omitempty,max=255"`
	Email    string `json:"email" binding:"omitempty,email"`
}

// Session is one candidate attempt. Everything but the phase is fixed once
// the platform has started the session.
type Session struct {
	ID              string            `json:"session_id"`
	Token           string            `json:"-"`
	ExamID          string            `json:"exam_id"`
	Candidate       CandidateIdentity `json:"candidate"`
	DurationSeconds int               `json:"duration_seconds"`
	StartedAt       time.Time         `json:"started_at"`
}

// Deadline is the instant the allotted time runs out.
func (s *Session) Deadline() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// SessionStart is the platform's answer to a session start call.
type SessionStart struct {
	SessionID       string `json:"session_id"`
	Token           string `json:"token"`
	DurationSeconds int    `json:"duration_seconds"`
}

// SessionRecord is the persisted slice of a session kept for reload survival.
type SessionRecord struct {
	Session Session `json:"session"`
	Token   string  `json:"token"`
	Blocks  []Block `json:"blocks"`
}

// VerifyGateRequest is the renderer payload for unlocking an exam.
type VerifyGateRequest struct {
	ExamID   string `json:"exam_id" binding:"required,notblank,max=64"`
	Password string `json:"password" binding:"required,max=128"`
}

// StartSessionRequest is the renderer payload for starting the attempt.
type StartSessionRequest struct {
	Candidate CandidateIdentity `json:"candidate" binding:"required"`
}

// ResumeSessionRequest is the renderer payload for reattaching after a reload.
type ResumeSessionRequest struct {
	SessionID string `json:"session_id" binding:"required,notblank,max=64"`
}

// FinishRequest is the renderer payload for a manual finish.
type FinishRequest struct {
	Confirmed bool `json:"confirmed"`
}

// StationLoginRequest authenticates the renderer against the station.
type StationLoginRequest struct {
	Secret string `json:"secret" binding:"required,min=6,max=128"`
}
