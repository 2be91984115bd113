package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// memoryTaskBackend fakes the task backend, including its ownership checks.
type memoryTaskBackend struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]Task
	fail   bool
}

func newMemoryTaskBackend() *memoryTaskBackend {
	return &memoryTaskBackend{tasks: map[int64]Task{}}
}

func (b *memoryTaskBackend) backendErr() error {
	return fmt.Errorf("%w: task backend down", ErrBackendUnavailable)
}

func (b *memoryTaskBackend) CreateTask(_ context.Context, authorID int64, text string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return 0, b.backendErr()
	}
	b.nextID++
	b.tasks[b.nextID] = Task{TaskID: b.nextID, AuthorID: authorID, Text: text}
	return b.nextID, nil
}

func (b *memoryTaskBackend) UpdateTask(_ context.Context, taskID, userID int64, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return b.backendErr()
	}
	task, ok := b.tasks[taskID]
	if !ok || task.AuthorID != userID {
		return b.backendErr()
	}
	task.Text = text
	b.tasks[taskID] = task
	return nil
}

func (b *memoryTaskBackend) DeleteTask(_ context.Context, taskID, userID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return b.backendErr()
	}
	task, ok := b.tasks[taskID]
	if !ok || task.AuthorID != userID {
		return b.backendErr()
	}
	delete(b.tasks, taskID)
	return nil
}

func (b *memoryTaskBackend) GetTask(_ context.Context, taskID, userID int64) (Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return Task{}, b.backendErr()
	}
	task, ok := b.tasks[taskID]
	if !ok || task.AuthorID != userID {
		return Task{}, b.backendErr()
	}
	return task, nil
}

func (b *memoryTaskBackend) ListTasks(_ context.Context, userID int64, limit, offset int) ([]Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, b.backendErr()
	}
	var all []Task
	for id := int64(1); id <= b.nextID; id++ {
		if task, ok := b.tasks[id]; ok && task.AuthorID == userID {
			all = append(all, task)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (b *memoryTaskBackend) SendLike(_ context.Context, taskID, userID int64) error {
	if b.fail {
		return b.backendErr()
	}
	return nil
}

func (b *memoryTaskBackend) SendView(_ context.Context, taskID, userID int64) error {
	if b.fail {
		return b.backendErr()
	}
	return nil
}

// fakeStatsBackend serves canned counters and leaderboards.
type fakeStatsBackend struct {
	stats    map[int64]TaskStats
	topTasks []TopTask
	topUsers []TopUser
	fail     bool
}

func (b *fakeStatsBackend) backendErr() error {
	return fmt.Errorf("%w: stats backend down", ErrBackendUnavailable)
}

func (b *fakeStatsBackend) TaskStats(_ context.Context, taskID int64) (TaskStats, error) {
	if b.fail {
		return TaskStats{}, b.backendErr()
	}
	return b.stats[taskID], nil
}

func (b *fakeStatsBackend) TopTasks(_ context.Context, _ string) ([]TopTask, error) {
	if b.fail {
		return nil, b.backendErr()
	}
	return b.topTasks, nil
}

func (b *fakeStatsBackend) TopUsers(_ context.Context) ([]TopUser, error) {
	if b.fail {
		return nil, b.backendErr()
	}
	return b.topUsers, nil
}

type routerFixture struct {
	router *gin.Engine
	repo   *memoryAccountRepo
	tasks  *memoryTaskBackend
	stats  *fakeStatsBackend
}

func newRouterFixture() *routerFixture {
	cfg := Config{
		TokenSecret: "test-secret",
		TokenTTL:    time.Hour,
		DigestSalt:  "test-salt",
	}
	repo := newMemoryAccountRepo()
	accounts := NewAccountService(repo, cfg.DigestSalt)
	resolver := NewUsernameResolver(repo, nil, time.Minute)
	tasks := newMemoryTaskBackend()
	stats := &fakeStatsBackend{stats: map[int64]TaskStats{}}
	return &routerFixture{
		router: NewRouter(cfg, accounts, resolver, tasks, stats),
		repo:   repo,
		tasks:  tasks,
		stats:  stats,
	}
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *routerFixture) signupAndLogin(t *testing.T, username, password string) string {
	t.Helper()
	if w := f.do(t, http.MethodPost, "/signup", "", gin.H{"username": username, "password": password}); w.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", w.Code, w.Body.String())
	}
	w := f.do(t, http.MethodPost, "/login", "", gin.H{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("login response missing token: %s", w.Body.String())
	}
	if got := w.Header().Get("Authorization"); got != "Bearer "+resp.Token {
		t.Fatalf("login should echo the token in the Authorization header, got %q", got)
	}
	return resp.Token
}

func TestSignupValidation(t *testing.T) {
	f := newRouterFixture()

	cases := []struct {
		name     string
		username string
		password string
		want     int
	}{
		{"ok", "alice01", "Passw0rd!", http.StatusCreated},
		{"short username", "a", "Passw0rd!", http.StatusNotAcceptable},
		{"uppercase username", "Alice01", "Passw0rd!", http.StatusNotAcceptable},
		{"weak password", "bob99", "password", http.StatusNotAcceptable},
		{"no symbol", "bob99", "Passw0rd1", http.StatusNotAcceptable},
		{"duplicate", "alice01", "Passw0rd!", http.StatusConflict},
	}
	for _, tc := range cases {
		w := f.do(t, http.MethodPost, "/signup", "", gin.H{"username": tc.username, "password": tc.password})
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.want, w.Code, w.Body.String())
		}
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newRouterFixture()
	f.signupAndLogin(t, "alice01", "Passw0rd!")

	if w := f.do(t, http.MethodPost, "/login", "", gin.H{"username": "alice01", "password": "WrongPass1!"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/login", "", gin.H{"username": "nobody99", "password": "Passw0rd!"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", w.Code)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	f := newRouterFixture()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/personal_data"},
		{http.MethodPut, "/personal_data"},
		{http.MethodPost, "/create_task"},
		{http.MethodPut, "/update_task"},
		{http.MethodDelete, "/delete_task"},
		{http.MethodGet, "/get_task?task_id=1"},
		{http.MethodGet, "/list_tasks"},
		{http.MethodPost, "/like"},
		{http.MethodPost, "/view"},
	}
	for _, p := range paths {
		if w := f.do(t, p.method, p.path, "", nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without token: expected 401, got %d", p.method, p.path, w.Code)
		}
		if w := f.do(t, p.method, p.path, "garbage-token", nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s with bad token: expected 401, got %d", p.method, p.path, w.Code)
		}
	}

	// No task may be created before authorization succeeds.
	if len(f.tasks.tasks) != 0 {
		t.Fatalf("unauthorized requests must not reach the backend: %+v", f.tasks.tasks)
	}
}

func TestPersonalDataFlow(t *testing.T) {
	f := newRouterFixture()
	token := f.signupAndLogin(t, "alice01", "Passw0rd!")

	w := f.do(t, http.MethodGet, "/personal_data", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("initial read returned %d: %s", w.Code, w.Body.String())
	}
	var profile ProfileView
	if err := json.Unmarshal(w.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.FirstName != nil || profile.Email != nil {
		t.Fatalf("fresh profile should be empty: %+v", profile)
	}

	if w := f.do(t, http.MethodPut, "/personal_data", token, gin.H{"email": "a@b.com"}); w.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/personal_data", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second read returned %d", w.Code)
	}
	profile = ProfileView{}
	if err := json.Unmarshal(w.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Email == nil || *profile.Email != "a@b.com" {
		t.Fatalf("email not updated: %s", w.Body.String())
	}
	if profile.FirstName != nil || profile.LastName != nil || profile.PhoneNumber != nil {
		t.Fatalf("sparse update touched other fields: %s", w.Body.String())
	}
}

func TestPersonalDataRejectsImpossibleDate(t *testing.T) {
	f := newRouterFixture()
	token := f.signupAndLogin(t, "alice01", "Passw0rd!")

	w := f.do(t, http.MethodPut, "/personal_data", token,
		gin.H{"birth_date": gin.H{"day": 31, "month": 2, "year": 1995}})
	if w.Code != http.StatusNotAcceptable {
		t.Fatalf("expected 406 for Feb 31, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTaskFlow(t *testing.T) {
	f := newRouterFixture()
	token := f.signupAndLogin(t, "alice01", "Passw0rd!")

	w := f.do(t, http.MethodPost, "/create_task", token, gin.H{"text": "hello"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		TaskID int64 `json:"task_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.TaskID == 0 {
		t.Fatalf("create response missing task_id: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/get_task?task_id=%d", created.TaskID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get returned %d: %s", w.Code, w.Body.String())
	}
	var task Task
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Text != "hello" || task.AuthorID != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}

	if w := f.do(t, http.MethodPut, "/update_task", token, gin.H{"task_id": created.TaskID, "text": "updated"}); w.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/list_tasks", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", w.Code, w.Body.String())
	}
	var listed struct {
		Tasks []Task `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Tasks) != 1 || listed.Tasks[0].Text != "updated" {
		t.Fatalf("unexpected list: %s", w.Body.String())
	}

	if w := f.do(t, http.MethodPost, "/like", token, gin.H{"task_id": created.TaskID}); w.Code != http.StatusOK {
		t.Fatalf("like returned %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/view", token, gin.H{"task_id": created.TaskID}); w.Code != http.StatusOK {
		t.Fatalf("view returned %d", w.Code)
	}

	if w := f.do(t, http.MethodDelete, "/delete_task", token, gin.H{"task_id": created.TaskID}); w.Code != http.StatusOK {
		t.Fatalf("delete returned %d", w.Code)
	}
	if len(f.tasks.tasks) != 0 {
		t.Fatalf("task not deleted: %+v", f.tasks.tasks)
	}
}

func TestTaskShapeValidation(t *testing.T) {
	f := newRouterFixture()
	token := f.signupAndLogin(t, "alice01", "Passw0rd!")

	if w := f.do(t, http.MethodPost, "/create_task", token, gin.H{"text": "  "}); w.Code != http.StatusNotAcceptable {
		t.Fatalf("empty text: expected 406, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/update_task", token, gin.H{"text": "no id"}); w.Code != http.StatusNotAcceptable {
		t.Fatalf("missing task_id: expected 406, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/get_task?task_id=abc", token, nil); w.Code != http.StatusNotAcceptable {
		t.Fatalf("bad task_id: expected 406, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/list_tasks?page=0", token, nil); w.Code != http.StatusNotAcceptable {
		t.Fatalf("bad page: expected 406, got %d", w.Code)
	}
}

func TestBackendFailureSurfacesAsInternalError(t *testing.T) {
	f := newRouterFixture()
	token := f.signupAndLogin(t, "alice01", "Passw0rd!")
	f.tasks.fail = true
	f.stats.fail = true

	if w := f.do(t, http.MethodPost, "/create_task", token, gin.H{"text": "hello"}); w.Code != http.StatusInternalServerError {
		t.Fatalf("create: expected 500, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/likes_and_views?task_id=1", "", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("counters: expected 500, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/most_popular_tasks", "", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("top tasks: expected 500, got %d", w.Code)
	}
}

func TestLikesAndViews(t *testing.T) {
	f := newRouterFixture()
	f.stats.stats[3] = TaskStats{Likes: 4, Views: 9}

	w := f.do(t, http.MethodGet, "/likes_and_views?task_id=3", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("counters returned %d: %s", w.Code, w.Body.String())
	}
	var counters TaskStats
	if err := json.Unmarshal(w.Body.Bytes(), &counters); err != nil {
		t.Fatalf("decode counters: %v", err)
	}
	if counters.Likes != 4 || counters.Views != 9 {
		t.Fatalf("unexpected counters: %+v", counters)
	}

	if w := f.do(t, http.MethodGet, "/likes_and_views", "", nil); w.Code != http.StatusNotAcceptable {
		t.Fatalf("missing task_id: expected 406, got %d", w.Code)
	}
}

func TestMostPopularTasksEnrichment(t *testing.T) {
	f := newRouterFixture()
	f.signupAndLogin(t, "alice01", "Passw0rd!")

	// Author 1 exists; author 999 does not and gets the placeholder.
	f.stats.topTasks = []TopTask{
		{TaskID: 10, AuthorID: 1, Count: 42},
		{TaskID: 11, AuthorID: 999, Count: 7},
	}

	w := f.do(t, http.MethodGet, "/most_popular_tasks?order_by=likes", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("leaderboard returned %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Tasks []struct {
			TaskID         int64  `json:"task_id"`
			AuthorID       int64  `json:"author_id"`
			AuthorUsername string `json:"author_username"`
			Count          int64  `json:"count"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(resp.Tasks) != 2 {
		t.Fatalf("expected 2 entries, got %s", w.Body.String())
	}
	if resp.Tasks[0].AuthorUsername != "alice01" || resp.Tasks[0].Count != 42 {
		t.Fatalf("unexpected first entry: %+v", resp.Tasks[0])
	}
	if resp.Tasks[1].AuthorUsername != "unknown" {
		t.Fatalf("resolution miss should use the placeholder, got %+v", resp.Tasks[1])
	}

	if w := f.do(t, http.MethodGet, "/most_popular_tasks?order_by=comments", "", nil); w.Code != http.StatusNotAcceptable {
		t.Fatalf("bad order_by: expected 406, got %d", w.Code)
	}
}

func TestMostPopularUsersEnrichment(t *testing.T) {
	f := newRouterFixture()
	f.signupAndLogin(t, "alice01", "Passw0rd!")

	f.stats.topUsers = []TopUser{
		{UserID: 1, Likes: 30},
		{UserID: 404, Likes: 5},
	}

	w := f.do(t, http.MethodGet, "/most_popular_users", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("leaderboard returned %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Users []struct {
			UserID   int64  `json:"user_id"`
			Username string `json:"username"`
			Likes    int64  `json:"likes"`
		} `json:"users"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(resp.Users) != 2 || resp.Users[0].Username != "alice01" || resp.Users[1].Username != "unknown" {
		t.Fatalf("unexpected leaderboard: %s", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture()
	if w := f.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", w.Code)
	}
}
