package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// TaskStats carries the per-task engagement counters owned by the statistics backend.
type TaskStats struct {
	Likes int64 `json:"likes"`
	Views int64 `json:"views"`
}

// TopTask is one leaderboard entry keyed by task, before username enrichment.
type TopTask struct {
	TaskID   int64 `json:"task_id"`
	AuthorID int64 `json:"author_id"`
	Count    int64 `json:"count"`
}

// TopUser is one leaderboard entry keyed by user, before username enrichment.
type TopUser struct {
	UserID int64 `json:"user_id"`
	Likes  int64 `json:"likes"`
}

// StatsClient abstracts the statistics backend: counters and leaderboards.
type StatsClient interface {
	TaskStats(ctx context.Context, taskID int64) (TaskStats, error)
	TopTasks(ctx context.Context, orderBy string) ([]TopTask, error)
	TopUsers(ctx context.Context) ([]TopUser, error)
}

// HTTPStatsClient calls the statistics backend over HTTP/JSON, sharing one
// http.Client with a per-call deadline like the task client.
type HTTPStatsClient struct {
	client  *http.Client
	base    string
	timeout time.Duration
}

func NewHTTPStatsClient(baseURL string, timeout time.Duration) *HTTPStatsClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStatsClient{
		client:  &http.Client{Timeout: timeout},
		base:    baseURL,
		timeout: timeout,
	}
}

func (c *HTTPStatsClient) TaskStats(ctx context.Context, taskID int64) (TaskStats, error) {
	var stats TaskStats
	query := url.Values{"task_id": {strconv.FormatInt(taskID, 10)}}
	if err := c.get(ctx, "/stats/task", query, &stats); err != nil {
		return TaskStats{}, err
	}
	return stats, nil
}

func (c *HTTPStatsClient) TopTasks(ctx context.Context, orderBy string) ([]TopTask, error) {
	var resp struct {
		Tasks []TopTask `json:"tasks"`
	}
	query := url.Values{"order_by": {orderBy}}
	if err := c.get(ctx, "/stats/top_tasks", query, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *HTTPStatsClient) TopUsers(ctx context.Context) ([]TopUser, error) {
	var resp struct {
		Users []TopUser `json:"users"`
	}
	if err := c.get(ctx, "/stats/top_users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *HTTPStatsClient) get(ctx context.Context, path string, query url.Values, out any) error {
	if c.base == "" {
		return fmt.Errorf("%w: stats backend url not configured", ErrBackendUnavailable)
	}

	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: stats backend returned status %d", ErrBackendUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
