// Package platform talks to the remote certification platform. Every call is
// bounded by the client's timeout so a request that never resolves surfaces as
// a retryable error instead of leaving the station waiting.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stemsi/exstem-station/internal/model"
)

// ErrRemote marks every failure that originated on the platform side or on the
// way to it. Callers may retry the same operation.
var ErrRemote = errors.New("platform unavailable")

const maxBodyBytes = 4 << 20

// RemoteError describes a failed platform call.
type RemoteError struct {
	Op      string
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s: status %d (%s)", e.Op, e.Status, e.Code)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *RemoteError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRemote, e.Err}
	}
	return []error{ErrRemote}
}

// Client is an HTTP client for the platform API.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// New creates a Client. baseURL is the API root, e.g. https://host/api/v1.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: timeout,
	}
}

// envelope mirrors the platform's standard response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// VerifyGate checks the exam's gate password. A wrong password is (false, nil).
func (c *Client) VerifyGate(ctx context.Context, examID, password string) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	in := map[string]string{"exam_id": examID, "password": password}
	if err := c.do(ctx, "verify gate", http.MethodPost, "/gate/verify", "", in, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// ExamBlocks returns the exam's full ordered block roster.
func (c *Client) ExamBlocks(ctx context.Context, examID string) ([]model.Block, error) {
	var out struct {
		Blocks []model.Block `json:"blocks"`
	}
	path := "/exams/" + url.PathEscape(examID) + "/blocks"
	if err := c.do(ctx, "list blocks", http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Blocks, nil
}

// StartSession opens a session. The returned duration is authoritative.
func (c *Client) StartSession(ctx context.Context, examID string, candidate model.CandidateIdentity) (*model.SessionStart, error) {
	var out model.SessionStart
	in := map[string]any{"exam_id": examID, "candidate_identity": candidate}
	if err := c.do(ctx, "start session", http.MethodPost, "/session/start", "", in, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" || out.Token == "" || out.DurationSeconds <= 0 {
		return nil, &RemoteError{Op: "start session", Status: http.StatusOK, Err: errors.New("incomplete session payload")}
	}
	return &out, nil
}

// Questions fetches the questions of one block.
func (c *Client) Questions(ctx context.Context, token, blockID string) ([]model.Question, error) {
	var out struct {
		Questions []model.Question `json:"questions"`
	}
	path := "/questions?" + url.Values{"block_id": {blockID}}.Encode()
	if err := c.do(ctx, "load questions", http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Questions {
		if out.Questions[i].BlockID == "" {
			out.Questions[i].BlockID = blockID
		}
	}
	return out.Questions, nil
}

// SubmitAnswer persists one choice.
func (c *Client) SubmitAnswer(ctx context.Context, token string, a model.Answer) error {
	return c.do(ctx, "submit answer", http.MethodPost, "/answer", token, a, nil)
}

// Finish closes the session and returns the per-block statistics the platform
// computed. Blocks the candidate never reached may be missing.
func (c *Client) Finish(ctx context.Context, token string) ([]model.BlockResult, error) {
	var out struct {
		BlockStats []model.BlockResult `json:"block_stats"`
	}
	if err := c.do(ctx, "finish session", http.MethodPost, "/finish", token, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.BlockStats, nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	defer res.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(res.Body, maxBodyBytes)).Decode(&env)

	if res.StatusCode/100 != 2 {
		rerr := &RemoteError{Op: op, Status: res.StatusCode}
		if decodeErr == nil && env.Error != nil {
			rerr.Code = env.Error.Code
			rerr.Message = env.Error.Message
		}
		return rerr
	}
	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return &RemoteError{Op: op, Status: res.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &RemoteError{Op: op, Status: res.StatusCode, Err: errors.New("empty response data")}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &RemoteError{Op: op, Status: res.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}
