package model

// RetryAnswer is a failed answer submission waiting on the retry queue.
type RetryAnswer struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	OptionID   string `json:"option_id"`
	Attempts   int    `json:"attempts"`
}

// QueueBacklog is the number of items waiting on each worker queue.
type QueueBacklog struct {
	RetryAnswers   int64 `json:"retry_answers"`
	ArchiveResults int64 `json:"archive_results"`
}
