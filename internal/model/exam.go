package model

// Block is an ordered group of questions. ExpectedQuestionCount is the
// declared size and may exceed what the candidate ever loads.
type Block struct {
	ID                    string `json:"id"`
	Ordinal               int    `json:"ordinal"`
	Title                 string `json:"title,omitempty"`
	ExpectedQuestionCount int    `json:"expected_question_count"`
}

// BlockView is the renderer's view of the current block.
type BlockView struct {
	Block
	Index  int  `json:"index"`
	Locked bool `json:"locked"`
}

// QuestionView is the renderer's view of the current question.
type QuestionView struct {
	Question
	Index    int    `json:"index"`
	Answered bool   `json:"answered"`
	Choice   string `json:"choice,omitempty"`
	ReadOnly bool   `json:"read_only"`
}

// PositionView is the full view model handed to the renderer.
type PositionView struct {
	Phase            Phase         `json:"phase"`
	RemainingSeconds int           `json:"remaining_seconds"`
	BlockCount       int           `json:"block_count"`
	Block            *BlockView    `json:"block,omitempty"`
	Question         *QuestionView `json:"question,omitempty"`
	QuestionCount    int           `json:"question_count"`
	Answered         []bool        `json:"answered,omitempty"`
	LockedBlockIDs   []string      `json:"locked_block_ids"`
	FailedAnswers    int64         `json:"failed_answers"`
}
