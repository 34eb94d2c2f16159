package exam

import "github.com/stemsi/exstem-station/internal/model"

type EventType string

const (
	EventTick         EventType = "tick"
	EventPhase        EventType = "phase"
	EventAnswerFailed EventType = "answer_failed"
	EventFinishFailed EventType = "finish_failed"
	EventFinished     EventType = "finished"
)

// Event is pushed to the renderer's event stream.
type Event struct {
	Type       EventType      `json:"event"`
	SessionID  string         `json:"session_id,omitempty"`
	Phase      model.Phase    `json:"phase,omitempty"`
	Remaining  *int           `json:"remaining_seconds,omitempty"`
	QuestionID string         `json:"question_id,omitempty"`
	Results    *model.Results `json:"results,omitempty"`
	Error      string         `json:"error,omitempty"`
}
