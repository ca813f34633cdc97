// Package backend implements the agent side of the telemetry/task backend
// contract. Payload shapes match the service endpoints; transport is plain
// JSON over HTTP.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yungbote/neurobridge-agent/internal/pkg/errors"
	"github.com/yungbote/neurobridge-agent/internal/platform/envutil"
	"github.com/yungbote/neurobridge-agent/internal/platform/logger"
	"github.com/yungbote/neurobridge-agent/internal/types"
)

// Client is the backend contract consumed by the agent.
type Client interface {
	// StartSession negotiates a telemetry session for one (learner, task)
	// pair. Not idempotent: never call twice concurrently for the same pair.
	StartSession(ctx context.Context, learnerID, taskID uuid.UUID) (string, error)

	// SendFrame transmits one encoded frame. Returned metrics are optional
	// and informational only.
	SendFrame(ctx context.Context, token string, frame []byte, capturedAt time.Time) (*types.FrameMetrics, error)

	// StopSession ends a telemetry session. Best effort: the backend times
	// out abandoned sessions on its own.
	StopSession(ctx context.Context, token string) error

	SubmitQuiz(ctx context.Context, taskID, learnerID uuid.UUID, answers []types.QuizAnswer) error

	// ListTasks fetches the task collection for a class. A non-nil learnerID
	// scopes the result to tasks visible to that learner.
	ListTasks(ctx context.Context, classID uuid.UUID, learnerID *uuid.UUID) ([]types.Task, error)

	// GetCompletion reports whether the learner already completed the task.
	// Consulted once at view open to short-circuit re-entry.
	GetCompletion(ctx context.Context, taskID, learnerID uuid.UUID) (bool, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
}

func New(log *logger.Logger, cfg Config) Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = envutil.Str("AGENT_BACKEND_BASE_URL", "http://localhost:5002")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = envutil.Duration("AGENT_BACKEND_TIMEOUT", 15*time.Second)
	}
	return &client{
		log:        log.With("client", "backend"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type startSessionRequest struct {
	LearnerID string `json:"learnerId"`
	TaskID    string `json:"taskId"`
}

type startSessionResponse struct {
	SessionToken string `json:"sessionToken"`
}

type frameRequest struct {
	SessionToken string `json:"sessionToken"`
	ImageBytes   string `json:"imageBytes"`
	Timestamp    string `json:"timestamp"`
}

type frameResponse struct {
	Metrics *types.FrameMetrics `json:"metrics,omitempty"`
}

type stopSessionRequest struct {
	SessionToken string `json:"sessionToken"`
}

type submitQuizRequest struct {
	TaskID    string             `json:"taskId"`
	LearnerID string             `json:"learnerId"`
	Answers   []types.QuizAnswer `json:"answers"`
}

type listTasksResponse struct {
	Tasks []types.Task `json:"tasks"`
}

type completionResponse struct {
	Completed bool `json:"completed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *client) StartSession(ctx context.Context, learnerID, taskID uuid.UUID) (string, error) {
	var out startSessionResponse
	req := startSessionRequest{LearnerID: learnerID.String(), TaskID: taskID.String()}
	if err := c.postJSON(ctx, "/session/start", req, &out); err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrSessionRejected, err)
	}
	token := strings.TrimSpace(out.SessionToken)
	if token == "" {
		return "", fmt.Errorf("%w: backend returned empty session token", apperrors.ErrSessionRejected)
	}
	return token, nil
}

func (c *client) SendFrame(ctx context.Context, token string, frame []byte, capturedAt time.Time) (*types.FrameMetrics, error) {
	req := frameRequest{
		SessionToken: token,
		ImageBytes:   base64.StdEncoding.EncodeToString(frame),
		Timestamp:    capturedAt.UTC().Format(time.RFC3339Nano),
	}
	var out frameResponse
	if err := c.postJSON(ctx, "/session/frame", req, &out); err != nil {
		return nil, err
	}
	return out.Metrics, nil
}

func (c *client) StopSession(ctx context.Context, token string) error {
	return c.postJSON(ctx, "/session/stop", stopSessionRequest{SessionToken: token}, nil)
}

func (c *client) SubmitQuiz(ctx context.Context, taskID, learnerID uuid.UUID, answers []types.QuizAnswer) error {
	req := submitQuizRequest{
		TaskID:    taskID.String(),
		LearnerID: learnerID.String(),
		Answers:   answers,
	}
	return c.postJSON(ctx, "/quiz/submit", req, nil)
}

func (c *client) ListTasks(ctx context.Context, classID uuid.UUID, learnerID *uuid.UUID) ([]types.Task, error) {
	path := "/tasks/byClass/" + classID.String()
	if learnerID != nil {
		path += "?learnerId=" + url.QueryEscape(learnerID.String())
	}
	var out listTasksResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *client) GetCompletion(ctx context.Context, taskID, learnerID uuid.UUID) (bool, error) {
	path := fmt.Sprintf("/tasks/%s/completion?taskId=%s&learnerId=%s",
		taskID.String(), url.QueryEscape(taskID.String()), url.QueryEscape(learnerID.String()))
	var out completionResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Completed, nil
}

func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	return c.do(req, path, out)
}

func (c *client) do(req *http.Request, path string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && strings.TrimSpace(er.Error) != "" {
			return fmt.Errorf("%s: %s", path, er.Error)
		}
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}
