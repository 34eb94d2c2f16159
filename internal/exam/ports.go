package exam

import (
	"context"

	"github.com/stemsi/exstem-station/internal/model"
)

// GateClient verifies an exam's gate password remotely.
type GateClient interface {
	VerifyGate(ctx context.Context, examID, password string) (bool, error)
}

// Platform is the remote certification platform as the core consumes it.
// *platform.Client satisfies it.
type Platform interface {
	GateClient
	ExamBlocks(ctx context.Context, examID string) ([]model.Block, error)
	StartSession(ctx context.Context, examID string, candidate model.CandidateIdentity) (*model.SessionStart, error)
	Questions(ctx context.Context, token, blockID string) ([]model.Question, error)
	SubmitAnswer(ctx context.Context, token string, a model.Answer) error
	Finish(ctx context.Context, token string) ([]model.BlockResult, error)
}

// StateStore keeps the local slice of a session across renderer reloads.
// The lock set is append-only: implementations never remove members.
type StateStore interface {
	SaveSession(ctx context.Context, rec model.SessionRecord) error
	LoadSession(ctx context.Context, sessionID string) (*model.SessionRecord, error)
	AppendLock(ctx context.Context, sessionID, blockID string) error
	LockedBlocks(ctx context.Context, sessionID string) ([]string, error)
	SaveAnswer(ctx context.Context, sessionID string, a model.Answer) error
	Answers(ctx context.Context, sessionID string) (map[string]string, error)
	SaveResults(ctx context.Context, sessionID string, res model.Results) error
	LoadResults(ctx context.Context, sessionID string) (*model.Results, error)
}

// Publisher receives session events for the renderer.
type Publisher interface {
	Publish(ev Event)
}
