package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/reviewiq/internal/config"
	"github.com/kalambet/reviewiq/internal/notify"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with canned JSON and 404s the rest.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"order not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return newClient(ts.server.URL, "test-token")
}

// useServer routes CLI commands at ts and captures table/JSON output.
func useServer(t *testing.T, ts *testServer) *bytes.Buffer {
	t.Helper()
	oldClient, oldOut := newAPIClient, out
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	buf := &bytes.Buffer{}
	out = buf
	noColor = true
	t.Cleanup(func() {
		newAPIClient, out = oldClient, oldOut
		rootCmd.SetArgs(nil)
	})
	return buf
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestClient_SendsBearerAndJSON(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /start-scrape": `{"order_id":"ab12cd34","task_id":7,"status":"queued"}`,
	})

	var resp struct {
		OrderID string `json:"order_id"`
		TaskID  int64  `json:"task_id"`
	}
	err := ts.client().post(context.Background(), "/start-scrape", map[string]string{"email": "a@b.co"}, &resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.OrderID != "ab12cd34" || resp.TaskID != 7 {
		t.Errorf("got %+v", resp)
	}

	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["email"] != "a@b.co" {
		t.Errorf("body = %v", body)
	}
}

func TestClient_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	err := ts.client().get(context.Background(), "/order/nope", &struct{}{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "server returned 404: order not found" {
		t.Errorf("error = %q", got)
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := newClient("http://127.0.0.1:1", "")
	err := c.get(context.Background(), "/health", nil)
	if err == nil || !strings.Contains(err.Error(), "is reviewiq running") {
		t.Errorf("got %v", err)
	}
}

func TestScrapeCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /start-scrape": `{"order_id":"ab12cd34","task_id":7,"status":"queued"}`,
	})
	useServer(t, ts)

	if err := execute(t, "scrape", "https://example.com/r", "--email", "owner@example.com", "--name", "Nautika"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var body map[string]string
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if body["restaurant_url"] != "https://example.com/r" || body["restaurant_name"] != "Nautika" {
		t.Errorf("body = %v", body)
	}
}

func TestScrapeCommand_RequiresEmail(t *testing.T) {
	ts := newTestServer(t, nil)
	useServer(t, ts)
	scrapeCmd.Flags().Set("email", "")

	err := execute(t, "scrape", "https://example.com/r")
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("got %v", err)
	}
	if len(ts.requests) != 0 {
		t.Error("no request expected without an email")
	}
}

func TestTasksList_RendersTable(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/tasks": `{"tasks":[{"id":3,"type":"scrape-and-report","status":"failed","retry_count":3,
			"created_at":"2025-06-01T12:00:00Z","error":"SessionError: navigate: timeout"}],"count":1}`,
	})
	buf := useServer(t, ts)

	if err := execute(t, "tasks", "list", "--status", "failed", "--limit", "5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.requests[0].Path; got != "/admin/tasks?limit=5&status=failed" {
		t.Errorf("path = %q", got)
	}
	for _, want := range []string{"scrape-and-report", "failed", "SessionError: navigate: timeout"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("table missing %q:\n%s", want, buf.String())
		}
	}
}

func TestTasksRetry(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /admin/tasks/3/retry": `{"status":"queued","task_id":9,"retried_id":3}`,
	})
	useServer(t, ts)

	if err := execute(t, "tasks", "retry", "3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Method != http.MethodPost {
		t.Errorf("method = %q", ts.requests[0].Method)
	}
}

func TestOrderCommand_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	useServer(t, ts)

	err := execute(t, "order", "nope")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("got %v", err)
	}
}

const replayListing = `<html><body>
<div data-automation="reviewCard">
  <a class="BMQDV _F G- wSSLS SwZTJ FGwzt">Ana</a>
  <div class="biGQs _P pZUbB osNWb"><div>Zagreb, Croatia</div><div>3 contributions</div></div>
  <svg class="UctUV" aria-label="5.0 of 5 bubbles"></svg>
  <div class="biGQs _P pZUbB ncFvv osNWb">Ana wrote a review May 2024</div>
  <div class="biGQs _P pZUbB KxBGd"><span>Fresh fish, kind staff.</span></div>
</div>
</body></html>`

func TestCrawlCommand_Replay(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "page-1.html"), []byte(replayListing), 0o644); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(t.TempDir(), "reviews.csv")
	useServer(t, newTestServer(t, nil))
	t.Cleanup(func() {
		crawlCmd.Flags().Set("replay", "")
		crawlCmd.Flags().Set("out", "")
	})

	if err := execute(t, "crawl", "--replay", dir, "--out", outPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Ana") || !strings.Contains(string(data), "Zagreb, Croatia") {
		t.Errorf("csv = %q", data)
	}
}

func TestCrawlCommand_NeedsTarget(t *testing.T) {
	useServer(t, newTestServer(t, nil))
	err := execute(t, "crawl")
	if err == nil || !strings.Contains(err.Error(), "--replay") {
		t.Fatalf("got %v", err)
	}
}

func TestNewNotifier(t *testing.T) {
	cfg := config.Config{}
	cfg.Notify.Backend = "log"
	n, err := newNotifier(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := n.(*notify.LogNotifier); !ok {
		t.Errorf("got %T, want *notify.LogNotifier", n)
	}

	cfg.Notify.Backend = "resend"
	cfg.Resend.APIKey = "re_test"
	n, err = newNotifier(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := n.(*notify.ResendNotifier); !ok {
		t.Errorf("got %T, want *notify.ResendNotifier", n)
	}

	cfg.Notify.Backend = "smtp"
	if _, err := newNotifier(cfg); err == nil {
		t.Error("expected error for smtp without host")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := pidFilePath(t.TempDir())
	if err := writePIDFile(path); err != nil {
		t.Fatal(err)
	}
	pid, err := readPIDFile(path)
	if err != nil || pid != os.Getpid() {
		t.Errorf("readPIDFile = %d, %v", pid, err)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorRed, "hello"); result != "hello" {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	noColor = false
	if result := colorize(colorRed, "hello"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestTruncateAndCountLabel(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate = %q", got)
	}
	if got := countLabel(100, 100); got != "100+" {
		t.Errorf("countLabel = %q", got)
	}
	if got := countLabel(3, 100); got != "3" {
		t.Errorf("countLabel = %q", got)
	}
}
