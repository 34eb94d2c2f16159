package exam

import (
	"context"
	"fmt"
	"sort"

	"github.com/stemsi/exstem-station/internal/model"
)

// QuestionLoader fetches the questions of one block.
type QuestionLoader func(ctx context.Context, blockID string) ([]model.Question, error)

// AnswerState is the read side of AnswerTracker the navigator needs.
type AnswerState interface {
	IsAnswered(questionID string) bool
}

type NavKind string

const (
	NavAdvanced     NavKind = "advanced"
	NavIncomplete   NavKind = "incomplete"
	NavExamComplete NavKind = "exam-complete"
	NavAtStart      NavKind = "at-start"
)

// NavOutcome is the result of one navigation step.
type NavOutcome struct {
	Kind          NavKind        `json:"kind"`
	Missing       int            `json:"missing,omitempty"`
	LockedBlockID string         `json:"locked_block_id,omitempty"`
	Results       *model.Results `json:"results,omitempty"`
}

// Navigator owns the block roster, the append-only lock set and the current
// position. It is not safe for concurrent use; Controller serializes access.
type Navigator struct {
	blocks    []model.Block
	locked    map[string]struct{}
	lockOrder []string
	cache     map[string][]model.Question

	blockIdx    int
	questionIdx int

	load    QuestionLoader
	answers AnswerState
	onLock  func(blockID string)
}

// NewNavigator orders the roster by ordinal. The roster is fixed afterwards.
func NewNavigator(blocks []model.Block, load QuestionLoader, answers AnswerState) *Navigator {
	roster := make([]model.Block, len(blocks))
	copy(roster, blocks)
	sort.SliceStable(roster, func(i, j int) bool { return roster[i].Ordinal < roster[j].Ordinal })

	return &Navigator{
		blocks:  roster,
		locked:  make(map[string]struct{}),
		cache:   make(map[string][]model.Question),
		load:    load,
		answers: answers,
	}
}

// OnLock registers a hook called once per newly locked block.
func (n *Navigator) OnLock(fn func(blockID string)) {
	n.onLock = fn
}

// LoadFirst loads the first block and positions on its first question.
func (n *Navigator) LoadFirst(ctx context.Context) error {
	if len(n.blocks) == 0 {
		return ErrNoBlocks
	}
	if _, err := n.questions(ctx, 0); err != nil {
		return err
	}
	n.blockIdx, n.questionIdx = 0, 0
	return nil
}

// Restore re-applies a persisted lock set and positions on the first block
// after the last locked one.
func (n *Navigator) Restore(ctx context.Context, lockedIDs []string) error {
	if len(n.blocks) == 0 {
		return ErrNoBlocks
	}
	wanted := make(map[string]struct{}, len(lockedIDs))
	for _, id := range lockedIDs {
		wanted[id] = struct{}{}
	}

	target := 0
	for i, b := range n.blocks {
		if _, ok := wanted[b.ID]; !ok {
			continue
		}
		if _, dup := n.locked[b.ID]; !dup {
			n.locked[b.ID] = struct{}{}
			n.lockOrder = append(n.lockOrder, b.ID)
		}
		if i+1 > target {
			target = i + 1
		}
	}
	if target >= len(n.blocks) {
		target = len(n.blocks) - 1
	}

	if _, err := n.questions(ctx, target); err != nil {
		return err
	}
	n.blockIdx, n.questionIdx = target, 0
	return nil
}

// Advance moves one question forward (+1) or backward (-1).
//
// Leaving a block forward requires every loaded question in it to be
// answered; the block is then locked for good. Leaving the final block
// forward yields NavExamComplete instead of a move.
func (n *Navigator) Advance(ctx context.Context, dir int) (NavOutcome, error) {
	if len(n.blocks) == 0 {
		return NavOutcome{}, ErrNoBlocks
	}
	switch dir {
	case 1:
		return n.forward(ctx)
	case -1:
		return n.backward(ctx)
	default:
		return NavOutcome{}, fmt.Errorf("direction must be +1 or -1: %w", ErrValidation)
	}
}

func (n *Navigator) forward(ctx context.Context) (NavOutcome, error) {
	cur := n.blocks[n.blockIdx]
	qs := n.cache[cur.ID]

	if n.questionIdx+1 < len(qs) {
		n.questionIdx++
		return NavOutcome{Kind: NavAdvanced}, nil
	}

	if missing := n.missingIn(cur.ID); missing > 0 {
		return NavOutcome{Kind: NavIncomplete, Missing: missing}, nil
	}

	if n.blockIdx == len(n.blocks)-1 {
		return NavOutcome{Kind: NavExamComplete}, nil
	}

	// Load before locking so a failed load leaves no state change.
	if _, err := n.questions(ctx, n.blockIdx+1); err != nil {
		return NavOutcome{}, err
	}

	n.lock(cur.ID)
	n.blockIdx++
	n.questionIdx = 0
	return NavOutcome{Kind: NavAdvanced, LockedBlockID: cur.ID}, nil
}

func (n *Navigator) backward(ctx context.Context) (NavOutcome, error) {
	if n.questionIdx > 0 {
		n.questionIdx--
		return NavOutcome{Kind: NavAdvanced}, nil
	}
	if n.blockIdx == 0 {
		return NavOutcome{Kind: NavAtStart}, nil
	}

	qs, err := n.questions(ctx, n.blockIdx-1)
	if err != nil {
		return NavOutcome{}, err
	}
	n.blockIdx--
	n.questionIdx = 0
	if len(qs) > 0 {
		n.questionIdx = len(qs) - 1
	}
	return NavOutcome{Kind: NavAdvanced}, nil
}

// Jump moves to a question of the current block. Locked blocks reject it,
// and it can never cross a block boundary.
func (n *Navigator) Jump(index int) error {
	if len(n.blocks) == 0 {
		return ErrNoBlocks
	}
	cur := n.blocks[n.blockIdx]
	if n.IsLocked(cur.ID) {
		return fmt.Errorf("block %s: %w", cur.ID, ErrJumpNotAllowed)
	}
	if index < 0 || index >= len(n.cache[cur.ID]) {
		return fmt.Errorf("question index %d out of range: %w", index, ErrValidation)
	}
	n.questionIdx = index
	return nil
}

// IsLocked reports whether the block has been locked.
func (n *Navigator) IsLocked(blockID string) bool {
	_, ok := n.locked[blockID]
	return ok
}

// LockedIDs returns the lock set in locking order.
func (n *Navigator) LockedIDs() []string {
	out := make([]string, len(n.lockOrder))
	copy(out, n.lockOrder)
	return out
}

// CountUnanswered counts unanswered questions across the whole roster.
// Blocks that were never loaded count their declared size.
func (n *Navigator) CountUnanswered() int {
	total := 0
	for _, b := range n.blocks {
		if _, loaded := n.cache[b.ID]; !loaded {
			total += b.ExpectedQuestionCount
			continue
		}
		total += n.missingIn(b.ID)
	}
	return total
}

// Blocks returns the ordered roster.
func (n *Navigator) Blocks() []model.Block {
	out := make([]model.Block, len(n.blocks))
	copy(out, n.blocks)
	return out
}

// Position returns the current block, its index and the question index.
func (n *Navigator) Position() (model.Block, int, int) {
	if len(n.blocks) == 0 {
		return model.Block{}, 0, 0
	}
	return n.blocks[n.blockIdx], n.blockIdx, n.questionIdx
}

// CurrentQuestions returns the loaded questions of the current block.
func (n *Navigator) CurrentQuestions() []model.Question {
	if len(n.blocks) == 0 {
		return nil
	}
	return n.cache[n.blocks[n.blockIdx].ID]
}

// CurrentQuestion returns the question under the cursor, or nil for an
// empty block.
func (n *Navigator) CurrentQuestion() *model.Question {
	qs := n.CurrentQuestions()
	if n.questionIdx >= len(qs) {
		return nil
	}
	q := qs[n.questionIdx]
	return &q
}

// Locate finds a loaded question and the block it belongs to.
func (n *Navigator) Locate(questionID string) (*model.Question, model.Block, bool) {
	for _, b := range n.blocks {
		for _, q := range n.cache[b.ID] {
			if q.ID == questionID {
				q := q
				return &q, b, true
			}
		}
	}
	return nil, model.Block{}, false
}

func (n *Navigator) questions(ctx context.Context, idx int) ([]model.Question, error) {
	b := n.blocks[idx]
	if qs, ok := n.cache[b.ID]; ok {
		return qs, nil
	}
	qs, err := n.load(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("load block %s: %w", b.ID, err)
	}
	if qs == nil {
		qs = []model.Question{}
	}
	n.cache[b.ID] = qs
	return qs, nil
}

func (n *Navigator) missingIn(blockID string) int {
	missing := 0
	for _, q := range n.cache[blockID] {
		if !n.answers.IsAnswered(q.ID) {
			missing++
		}
	}
	return missing
}

func (n *Navigator) lock(blockID string) {
	if _, ok := n.locked[blockID]; ok {
		return
	}
	n.locked[blockID] = struct{}{}
	n.lockOrder = append(n.lockOrder, blockID)
	if n.onLock != nil {
		n.onLock(blockID)
	}
}
