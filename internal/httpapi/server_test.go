package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/wpowiertowski/posse/internal/config"
	"github.com/wpowiertowski/posse/internal/interactions"
	"github.com/wpowiertowski/posse/internal/post"
	"github.com/wpowiertowski/posse/internal/syndicate"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

const testPostID = "0123456789abcdef01234567"

type fakePipeline struct {
	mu         sync.Mutex
	jobs       []syndicate.Job
	enqueueErr error
	catchUpN   int
	catchUpErr error
}

func (f *fakePipeline) Enqueue(ctx context.Context, job syndicate.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakePipeline) CatchUp(ctx context.Context, postID string) (int, error) {
	return f.catchUpN, f.catchUpErr
}

func (f *fakePipeline) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fakeSync struct {
	mu          sync.Mutex
	snapshot    *interactions.Snapshot
	storedCalls int
	syncCalls   int
}

func (f *fakeSync) SyncPost(ctx context.Context, postID string) (*interactions.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	return f.snapshot, nil
}

func (f *fakeSync) Stored(ctx context.Context, postID string) (*interactions.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storedCalls++
	return f.snapshot, f.snapshot != nil, nil
}

func (f *fakeSync) counts() (stored, synced int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storedCalls, f.syncCalls
}

type recvRecorder struct {
	mu    sync.Mutex
	posts []*post.Inbound
}

func (r *recvRecorder) PostReceived(p *post.Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, p)
}

func newTestServer(t *testing.T, sec config.SecurityConfig, pl *fakePipeline, sy *fakeSync) *Server {
	t.Helper()
	s, err := New(config.ServerConfig{Addr: "127.0.0.1:0"}, sec, pl, sy, nil, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func writeTokenFile(t *testing.T, token string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}
	return path
}

func doJSON(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookPublish(t *testing.T) {
	pl := &fakePipeline{}
	s := newTestServer(t, config.SecurityConfig{}, pl, &fakeSync{})
	h := s.Handler()

	valid := `{"id":"` + testPostID + `","title":"Hello","url":"https://example.com/hello","tags":[{"name":"#Tech","slug":"tech"}]}`

	rec := doJSON(h, http.MethodPost, "/webhook/publish", valid)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if pl.jobCount() != 1 {
		t.Fatalf("jobs = %d, want 1", pl.jobCount())
	}
	pl.mu.Lock()
	job := pl.jobs[0]
	pl.mu.Unlock()
	if job.Post.ID != testPostID {
		t.Errorf("job post id = %q", job.Post.ID)
	}
	if job.Accounts != nil || job.CatchUp {
		t.Errorf("webhook job should target all matching accounts")
	}
}

func TestWebhookPublishNotifiesReceiver(t *testing.T) {
	recv := &recvRecorder{}
	s, err := New(config.ServerConfig{Addr: "127.0.0.1:0"}, config.SecurityConfig{},
		&fakePipeline{}, &fakeSync{}, recv, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body := `{"id":"` + testPostID + `","title":"Hello","url":"https://example.com/hello"}`
	rec := doJSON(s.Handler(), http.MethodPost, "/webhook/publish", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	recv.mu.Lock()
	defer recv.mu.Unlock()
	if len(recv.posts) != 1 || recv.posts[0].ID != testPostID {
		t.Fatalf("receiver saw %d posts", len(recv.posts))
	}
}

func TestWebhookPublishNestedEnvelope(t *testing.T) {
	pl := &fakePipeline{}
	s := newTestServer(t, config.SecurityConfig{}, pl, &fakeSync{})

	body := `{"post":{"current":{"id":"` + testPostID + `","title":"Hi","url":"https://example.com/hi"}}}`
	rec := doJSON(s.Handler(), http.MethodPost, "/webhook/publish", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookPublishRejectsInvalid(t *testing.T) {
	pl := &fakePipeline{}
	s := newTestServer(t, config.SecurityConfig{}, pl, &fakeSync{})
	h := s.Handler()

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"missing required fields", "application/json", `{"title":"no id"}`, http.StatusBadRequest},
		{"not json", "application/json", `not json at all`, http.StatusBadRequest},
		{"wrong content type", "text/plain", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/publish", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if pl.jobCount() != 0 {
		t.Fatalf("rejected payloads reached the queue: %d jobs", pl.jobCount())
	}
}

func TestWebhookPublishQueueFull(t *testing.T) {
	pl := &fakePipeline{enqueueErr: syndicate.ErrQueueFull}
	s := newTestServer(t, config.SecurityConfig{}, pl, &fakeSync{})

	body := `{"id":"` + testPostID + `","title":"Hello","url":"https://example.com/hello"}`
	rec := doJSON(s.Handler(), http.MethodPost, "/webhook/publish", body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCatchUp(t *testing.T) {
	pl := &fakePipeline{catchUpN: 2}
	s := newTestServer(t, config.SecurityConfig{}, pl, &fakeSync{})
	h := s.Handler()

	rec := doJSON(h, http.MethodPost, "/webhook/publish/catch-up", `{"post_id":"`+testPostID+`"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Accounts int `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Accounts != 2 {
		t.Errorf("accounts = %d, want 2", resp.Accounts)
	}

	rec = doJSON(h, http.MethodPost, "/webhook/publish/catch-up", `{"post_id":"not-an-id"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id: status = %d, want 400", rec.Code)
	}
}

func TestGetInteractions(t *testing.T) {
	snap := &interactions.Snapshot{PostID: testPostID, UpdatedAt: time.Now().UTC()}
	sy := &fakeSync{snapshot: snap}
	s := newTestServer(t, config.SecurityConfig{}, &fakePipeline{}, sy)
	h := s.Handler()

	rec := doJSON(h, http.MethodGet, "/api/interactions/"+testPostID+"/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got interactions.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PostID != testPostID {
		t.Errorf("post id = %q", got.PostID)
	}
}

func TestGetInteractionsRejectsMalformedIDBeforeStorage(t *testing.T) {
	sy := &fakeSync{}
	s := newTestServer(t, config.SecurityConfig{}, &fakePipeline{}, sy)
	h := s.Handler()

	for _, id := range []string{"UPPERCASE0123456789abcde", "short", "0123456789abcdef012345679"} {
		rec := doJSON(h, http.MethodGet, "/api/interactions/"+id+"/", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("id %q: status = %d, want 400", id, rec.Code)
		}
	}
	if stored, _ := sy.counts(); stored != 0 {
		t.Fatalf("malformed ids reached storage: %d reads", stored)
	}
}

func TestGetInteractionsNotFound(t *testing.T) {
	s := newTestServer(t, config.SecurityConfig{}, &fakePipeline{}, &fakeSync{})
	rec := doJSON(s.Handler(), http.MethodGet, "/api/interactions/"+testPostID+"/", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetInteractionsReferrerAllowList(t *testing.T) {
	snap := &interactions.Snapshot{PostID: testPostID}
	s := newTestServer(t, config.SecurityConfig{ReferrerAllow: []string{"blog.example.com"}},
		&fakePipeline{}, &fakeSync{snapshot: snap})
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/interactions/"+testPostID+"/", nil)
	req.Header.Set("Referer", "https://blog.example.com/some-post/")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed referrer: status = %d, want 200", rec.Code)
	}

	for _, ref := range []string{"", "https://evil.example.net/", "garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/api/interactions/"+testPostID+"/", nil)
		if ref != "" {
			req.Header.Set("Referer", ref)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("referrer %q: status = %d, want 403", ref, rec.Code)
		}
	}
}

func TestTriggerSyncAuth(t *testing.T) {
	tokenFile := writeTokenFile(t, "sync-secret")
	sy := &fakeSync{snapshot: &interactions.Snapshot{PostID: testPostID}}
	s := newTestServer(t, config.SecurityConfig{TokenFile: tokenFile}, &fakePipeline{}, sy)
	h := s.Handler()

	target := "/api/interactions/" + testPostID + "/sync"

	rec := doJSON(h, http.MethodPost, target, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, target, nil)
	req.Header.Set("X-Internal-Token", "wrong")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", rec2.Code)
	}

	req = httptest.NewRequest(http.MethodPost, target, nil)
	req.Header.Set("X-Internal-Token", "sync-secret")
	rec3 := httptest.NewRecorder()
	h.ServeHTTP(rec3, req)
	if rec3.Code != http.StatusAccepted {
		t.Fatalf("valid token: status = %d, want 202: %s", rec3.Code, rec3.Body.String())
	}
}

func TestTriggerSyncCooldown(t *testing.T) {
	tokenFile := writeTokenFile(t, "sync-secret")
	sy := &fakeSync{snapshot: &interactions.Snapshot{PostID: testPostID}}
	s := newTestServer(t, config.SecurityConfig{TokenFile: tokenFile}, &fakePipeline{}, sy)
	h := s.Handler()

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/interactions/"+testPostID+"/sync", nil)
		req.Header.Set("X-Internal-Token", "sync-secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(); code != http.StatusAccepted {
		t.Fatalf("first sync: status = %d, want 202", code)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("second sync inside cooldown: status = %d, want 429", code)
	}
}

func TestTriggerSyncPerIPWindow(t *testing.T) {
	sy := &fakeSync{snapshot: &interactions.Snapshot{PostID: testPostID}}
	s := newTestServer(t, config.SecurityConfig{IPRate: 2, IPWindow: "200ms"}, &fakePipeline{}, sy)
	h := s.Handler()

	// Distinct ids keep the per-post cooldown out of the picture; the window
	// is keyed by client IP, which httptest keeps constant.
	do := func(i int) int {
		target := fmt.Sprintf("/api/interactions/%024x/sync", i)
		req := httptest.NewRequest(http.MethodPost, target, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := do(i); code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want 202", i, code)
		}
	}
	if code := do(2); code != http.StatusTooManyRequests {
		t.Fatalf("over threshold: status = %d, want 429", code)
	}

	time.Sleep(600 * time.Millisecond)
	if code := do(3); code != http.StatusAccepted {
		t.Fatalf("after window elapsed: status = %d, want 202", code)
	}
}

func TestTriggerSyncGlobalCap(t *testing.T) {
	sy := &fakeSync{snapshot: &interactions.Snapshot{PostID: testPostID}}
	s := newTestServer(t, config.SecurityConfig{GlobalRate: 3, GlobalWindow: "1m", IPRate: 100},
		&fakePipeline{}, sy)
	h := s.Handler()

	// Distinct IPs and distinct ids: only the shared cap can reject.
	do := func(i int) int {
		target := fmt.Sprintf("/api/interactions/%024x/sync", i)
		req := httptest.NewRequest(http.MethodPost, target, nil)
		req.RemoteAddr = fmt.Sprintf("10.0.0.%d:4321", i+1)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		if code := do(i); code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want 202", i, code)
		}
	}
	if code := do(3); code != http.StatusTooManyRequests {
		t.Fatalf("over global cap: status = %d, want 429", code)
	}
}

func TestCooldownSingleWinnerUnderConcurrency(t *testing.T) {
	s := newTestServer(t, config.SecurityConfig{}, &fakePipeline{}, &fakeSync{})

	const n = 16
	var wg sync.WaitGroup
	var passed atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.cooldownPass(testPostID) {
				passed.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := passed.Load(); got != 1 {
		t.Fatalf("concurrent triggers passed cooldown %d times, want 1", got)
	}
}

func TestTriggerSyncOpenWithoutToken(t *testing.T) {
	s := newTestServer(t, config.SecurityConfig{}, &fakePipeline{},
		&fakeSync{snapshot: &interactions.Snapshot{PostID: testPostID}})
	rec := doJSON(s.Handler(), http.MethodPost, "/api/interactions/"+testPostID+"/sync", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, config.SecurityConfig{}, &fakePipeline{}, &fakeSync{})
	rec := doJSON(s.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}
