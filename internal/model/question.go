package model

// Option is one selectable choice of a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question belongs to exactly one block.
type Question struct {
	ID      string   `json:"id"`
	BlockID string   `json:"block_id"`
	Code    string   `json:"code"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

// HasOption reports whether optionID is one of the question's choices.
func (q *Question) HasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// Answer is a candidate's choice for one question.
type Answer struct {
	QuestionID string `json:"question_id"`
	OptionID   string `json:"option_id"`
}

// RecordAnswerRequest is the renderer payload for selecting an option.
type RecordAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,notblank,max=64"`
	OptionID   string `json:"option_id" binding:"required,notblank,max=64"`
}

// NavigateRequest moves one question forward (+1) or backward (-1).
type NavigateRequest struct {
	Direction int `json:"direction" binding:"required,oneof=1 -1"`
}

// JumpRequest moves to a question of the current block by index.
type JumpRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}
