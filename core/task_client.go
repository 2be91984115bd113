package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrBackendUnavailable is returned when a remote backend cannot be reached
	// or reports an error. The orchestrator never retries; it surfaces the
	// category and nothing else.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Task is the gateway's view of a task owned by the task backend.
type Task struct {
	TaskID   int64  `json:"task_id"`
	AuthorID int64  `json:"author_id"`
	Text     string `json:"text"`
}

// TaskClient abstracts the task backend: task CRUD plus the like/view
// engagement actions, which the task backend owns.
type TaskClient interface {
	CreateTask(ctx context.Context, authorID int64, text string) (int64, error)
	UpdateTask(ctx context.Context, taskID, userID int64, text string) error
	DeleteTask(ctx context.Context, taskID, userID int64) error
	GetTask(ctx context.Context, taskID, userID int64) (Task, error)
	ListTasks(ctx context.Context, userID int64, limit, offset int) ([]Task, error)
	SendLike(ctx context.Context, taskID, userID int64) error
	SendView(ctx context.Context, taskID, userID int64) error
}

// HTTPTaskClient calls the task backend's RPC endpoints over HTTP/JSON. One
// client is created at startup and shared across requests; each call runs
// under its own deadline so a slow backend cannot hold a request forever.
type HTTPTaskClient struct {
	client  *http.Client
	base    string
	timeout time.Duration
}

func NewHTTPTaskClient(baseURL string, timeout time.Duration) *HTTPTaskClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTaskClient{
		client:  &http.Client{Timeout: timeout},
		base:    baseURL,
		timeout: timeout,
	}
}

type createTaskRequest struct {
	AuthorID int64  `json:"author_id"`
	Text     string `json:"text"`
}

type createTaskResponse struct {
	TaskID int64 `json:"task_id"`
}

type taskActionRequest struct {
	TaskID int64  `json:"task_id"`
	UserID int64  `json:"user_id"`
	Text   string `json:"text,omitempty"`
}

type listTasksRequest struct {
	UserID int64 `json:"user_id"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

type listTasksResponse struct {
	Tasks []Task `json:"tasks"`
}

func (c *HTTPTaskClient) CreateTask(ctx context.Context, authorID int64, text string) (int64, error) {
	var resp createTaskResponse
	if err := c.call(ctx, "/tasks/create", createTaskRequest{AuthorID: authorID, Text: text}, &resp); err != nil {
		return 0, err
	}
	return resp.TaskID, nil
}

func (c *HTTPTaskClient) UpdateTask(ctx context.Context, taskID, userID int64, text string) error {
	return c.call(ctx, "/tasks/update", taskActionRequest{TaskID: taskID, UserID: userID, Text: text}, nil)
}

func (c *HTTPTaskClient) DeleteTask(ctx context.Context, taskID, userID int64) error {
	return c.call(ctx, "/tasks/delete", taskActionRequest{TaskID: taskID, UserID: userID}, nil)
}

func (c *HTTPTaskClient) GetTask(ctx context.Context, taskID, userID int64) (Task, error) {
	var task Task
	if err := c.call(ctx, "/tasks/get", taskActionRequest{TaskID: taskID, UserID: userID}, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (c *HTTPTaskClient) ListTasks(ctx context.Context, userID int64, limit, offset int) ([]Task, error) {
	var resp listTasksResponse
	if err := c.call(ctx, "/tasks/list", listTasksRequest{UserID: userID, Limit: limit, Offset: offset}, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *HTTPTaskClient) SendLike(ctx context.Context, taskID, userID int64) error {
	return c.call(ctx, "/events/like", taskActionRequest{TaskID: taskID, UserID: userID}, nil)
}

func (c *HTTPTaskClient) SendView(ctx context.Context, taskID, userID int64) error {
	return c.call(ctx, "/events/view", taskActionRequest{TaskID: taskID, UserID: userID}, nil)
}

// call posts a JSON payload to path and decodes the response into out when
// non-nil. Transport failures and backend-reported errors are both wrapped in
// ErrBackendUnavailable.
func (c *HTTPTaskClient) call(ctx context.Context, path string, payload any, out any) error {
	if c.base == "" {
		return fmt.Errorf("%w: task backend url not configured", ErrBackendUnavailable)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: task backend returned status %d", ErrBackendUnavailable, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	return nil
}
