package exam

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// GateVerifier checks the shared gate password before any session may start.
type GateVerifier struct {
	client  GateClient
	timeout time.Duration
}

// NewGateVerifier creates a GateVerifier. A zero timeout leaves the caller's
// context as the only bound.
func NewGateVerifier(client GateClient, timeout time.Duration) *GateVerifier {
	return &GateVerifier{client: client, timeout: timeout}
}

// Verify reports whether password opens examID. An empty password fails
// locally with ErrValidation. A wrong password is (false, nil); any remote
// failure is returned as an error so callers can tell the two apart.
func (g *GateVerifier) Verify(ctx context.Context, examID, password string) (bool, error) {
	examID = strings.TrimSpace(examID)
	password = strings.TrimSpace(password)
	if examID == "" || password == "" {
		return false, fmt.Errorf("exam id and password are required: %w", ErrValidation)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	valid, err := g.client.VerifyGate(ctx, examID, password)
	if err != nil {
		return false, fmt.Errorf("verify gate: %w", err)
	}
	return valid, nil
}
