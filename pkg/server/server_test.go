package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mshafei721/AIAG-P/pkg/browser"
	"github.com/mshafei721/AIAG-P/pkg/metrics"
	"github.com/mshafei721/AIAG-P/pkg/ratelimit"
	"github.com/mshafei721/AIAG-P/pkg/schema"
	"github.com/mshafei721/AIAG-P/pkg/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeBrowser struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (b *fakeBrowser) Acquire(context.Context) (*browser.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acquired++
	return &browser.Context{}, nil
}

func (b *fakeBrowser) Release(*browser.Context) {
	b.mu.Lock()
	b.released++
	b.mu.Unlock()
}

func (b *fakeBrowser) NewPage(*browser.Context) (*rod.Page, error) { return nil, nil }

// fakeRunner returns canned results per method and tracks calls.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	delay time.Duration
	fail  error
}

func (r *fakeRunner) Execute(ctx context.Context, _ *rod.Page, cmd schema.Command, _ time.Duration) (any, *schema.StateDiff, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd.CommandMethod())
	delay, fail := r.delay, r.fail
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, nil, fail
	}
	switch cmd := cmd.(type) {
	case *schema.NavigateCommand:
		return &schema.NavigateResult{URL: cmd.URL, Title: "Example Domain", StatusCode: 200, LoadTimeMS: 12},
			&schema.StateDiff{URLChanged: true, DOMChanged: true, URL: cmd.URL}, nil
	case *schema.ClickCommand:
		return &schema.ClickResult{ElementFound: true, ElementVisible: true, ElementTag: "button", ElementText: "Go"},
			&schema.StateDiff{DOMChanged: true}, nil
	case *schema.FillCommand:
		return &schema.FillResult{ElementFound: true, ElementType: "text", TextEntered: cmd.Text, CurrentValue: cmd.Text, ValidationPassed: true},
			&schema.StateDiff{}, nil
	case *schema.ExtractCommand:
		return &schema.ExtractResult{ElementsFound: 1, Data: "hello"}, nil, nil
	case *schema.WaitCommand:
		return &schema.WaitResult{ConditionMet: true, FinalState: "complete"}, nil, nil
	}
	return nil, nil, context.Canceled
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRunner) setFail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

func (r *fakeRunner) setDelay(d time.Duration) {
	r.mu.Lock()
	r.delay = d
	r.mu.Unlock()
}

func newTestServer(t *testing.T, mutate func(cfg *Config, deps *Deps)) (*Server, *httptest.Server, *fakeRunner) {
	t.Helper()
	log := testLogger()
	mgr := session.NewManager(&fakeBrowser{}, nil, log)
	limiter := ratelimit.New(ratelimit.DefaultConfig().WithQuota(1000, time.Minute), log)
	runner := &fakeRunner{}

	cfg := DefaultConfig()
	deps := Deps{
		Sessions: mgr,
		Limiter:  limiter,
		Runner:   runner,
		Metrics:  metrics.New(metrics.WithRegistry(prometheus.NewRegistry())),
		Logger:   log,
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	s := New(cfg, deps)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		s.Shutdown(context.Background())
		ts.Close()
		limiter.Close()
	})
	return s, ts, runner
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// wireReply is the superset of reply fields the tests look at.
type wireReply struct {
	ID              string            `json:"id"`
	Success         bool              `json:"success"`
	ExecutionTimeMS int64             `json:"execution_time_ms"`
	SessionID       string            `json:"session_id"`
	FromCache       bool              `json:"from_cache"`
	StateDiff       *schema.StateDiff `json:"state_diff"`
	Error           string            `json:"error"`
	ErrorCode       string            `json:"error_code"`
	ErrorType       string            `json:"error_type"`
	Details         map[string]any    `json:"details"`
	URL             string            `json:"url"`
	Title           string            `json:"title"`
	Data            any               `json:"data"`
	ElementsFound   int               `json:"elements_found"`
	ConditionMet    bool              `json:"condition_met"`
}

func sendFrame(t *testing.T, ws *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := ws.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readReply(t *testing.T, ws *websocket.Conn) wireReply {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var r wireReply
	if err := ws.ReadJSON(&r); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return r
}

func TestNavigateRoundTrip(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)
	ws := dialWS(t, ts)

	sendFrame(t, ws, map[string]any{"id": "n1", "method": "navigate", "url": "https://example.com"})
	r := readReply(t, ws)

	if !r.Success {
		t.Fatalf("navigate failed: %s %s", r.ErrorCode, r.Error)
	}
	if r.ID != "n1" {
		t.Errorf("reply id = %q, want n1", r.ID)
	}
	if r.SessionID == "" {
		t.Error("reply carries no session id")
	}
	if r.URL != "https://example.com" {
		t.Errorf("url = %q, want https://example.com", r.URL)
	}
	if r.StateDiff == nil || !r.StateDiff.URLChanged {
		t.Errorf("state diff = %+v, want url_changed", r.StateDiff)
	}
}

func TestConnectionReusesBoundSession(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)
	ws := dialWS(t, ts)

	sendFrame(t, ws, map[string]any{"id": "a", "method": "navigate", "url": "https://example.com"})
	first := readReply(t, ws)
	sendFrame(t, ws, map[string]any{"id": "b", "method": "wait", "condition": "load"})
	second := readReply(t, ws)

	if !first.Success || !second.Success {
		t.Fatalf("commands failed: %+v %+v", first, second)
	}
	if first.SessionID != second.SessionID {
		t.Errorf("session ids differ: %q vs %q", first.SessionID, second.SessionID)
	}
}

func TestExplicitSessionRejectedForOtherClient(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)
	wsA := dialWS(t, ts)
	wsB := dialWS(t, ts)

	sendFrame(t, wsA, map[string]any{"id": "a", "method": "navigate", "url": "https://example.com"})
	ra := readReply(t, wsA)
	if !ra.Success {
		t.Fatalf("navigate failed: %s", ra.ErrorCode)
	}

	sendFrame(t, wsB, map[string]any{"id": "b", "method": "click", "selector": "button", "session_id": ra.SessionID})
	rb := readReply(t, wsB)
	if rb.Success {
		t.Fatal("foreign session accepted")
	}
	if rb.ErrorCode != string(schema.ErrCodeSessionNotOwned) {
		t.Errorf("error code = %s, want SESSION_NOT_OWNED", rb.ErrorCode)
	}
}

func TestUnknownSessionID(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)
	ws := dialWS(t, ts)

	sendFrame(t, ws, map[string]any{"id": "x", "method": "click", "selector": "button", "session_id": "no-such-session"})
	r := readReply(t, ws)
	if r.ErrorCode != string(schema.ErrCodeSessionNotFound) {
		t.Errorf("error code = %s, want SESSION_NOT_FOUND", r.ErrorCode)
	}
}

func TestExtractServedFromCacheUntilMutation(t *testing.T) {
	_, ts, runner := newTestServer(t, nil)
	ws := dialWS(t, ts)

	extract := map[string]any{"id": "e1", "method": "extract", "selector": "h1"}
	sendFrame(t, ws, extract)
	r1 := readReply(t, ws)
	if !r1.Success || r1.FromCache {
		t.Fatalf("first extract: success=%v from_cache=%v", r1.Success, r1.FromCache)
	}

	extract["id"] = "e2"
	sendFrame(t, ws, extract)
	r2 := readReply(t, ws)
	if !r2.Success || !r2.FromCache {
		t.Fatalf("second extract: success=%v from_cache=%v, want cached", r2.Success, r2.FromCache)
	}
	if got := runner.callCount(); got != 1 {
		t.Fatalf("runner calls = %d, want 1 (second served from cache)", got)
	}

	sendFrame(t, ws, map[string]any{"id": "c1", "method": "click", "selector": "button"})
	if r := readReply(t, ws); !r.Success {
		t.Fatalf("click failed: %s", r.ErrorCode)
	}

	extract["id"] = "e3"
	sendFrame(t, ws, extract)
	r3 := readReply(t, ws)
	if !r3.Success || r3.FromCache {
		t.Fatalf("post-click extract: success=%v from_cache=%v, want recomputed", r3.Success, r3.FromCache)
	}
	if got := runner.callCount(); got != 3 {
		t.Errorf("runner calls = %d, want 3", got)
	}
}

func TestRateLimitRejectsOverQuota(t *testing.T) {
	limiter := ratelimit.New(ratelimit.DefaultConfig().WithQuota(2, time.Minute), testLogger())
	t.Cleanup(limiter.Close)
	_, ts, _ := newTestServer(t, func(_ *Config, deps *Deps) {
		deps.Limiter = limiter
	})
	ws := dialWS(t, ts)

	for i, id := range []string{"r1", "r2"} {
		sendFrame(t, ws, map[string]any{"id": id, "method": "wait", "condition": "load"})
		if r := readReply(t, ws); !r.Success {
			t.Fatalf("command %d rejected: %s", i, r.ErrorCode)
		}
	}

	sendFrame(t, ws, map[string]any{"id": "r3", "method": "wait", "condition": "load"})
	r := readReply(t, ws)
	if r.ErrorCode != string(schema.ErrCodeRateLimited) {
		t.Fatalf("error code = %s, want RATE_LIMITED", r.ErrorCode)
	}
	if _, ok := r.Details["retry_after_ms"]; !ok {
		t.Errorf("details = %v, want retry_after_ms", r.Details)
	}
}

func TestUnsafeSelectorNeverReachesRunner(t *testing.T) {
	_, ts, runner := newTestServer(t, nil)
	ws := dialWS(t, ts)

	sendFrame(t, ws, map[string]any{"id": "u1", "method": "click", "selector": "a onclick=alert(1)"})
	r := readReply(t, ws)
	if r.ErrorCode != string(schema.ErrCodeUnsafeInput) {
		t.Fatalf("error code = %s, want UNSAFE_INPUT", r.ErrorCode)
	}
	if got := runner.callCount(); got != 0 {
		t.Errorf("runner calls = %d, want 0", got)
	}
}

func TestAuthRequiredOnFirstFrame(t *testing.T) {
	const key = "integration-test-key-0123456789"
	_, ts, runner := newTestServer(t, func(cfg *Config, _ *Deps) {
		cfg.APIKey = key
	})

	ws := dialWS(t, ts)
	sendFrame(t, ws, map[string]any{"id": "a1", "method": "wait", "condition": "load"})
	r := readReply(t, ws)
	if r.ErrorCode != string(schema.ErrCodeAuthFailed) {
		t.Fatalf("error code = %s, want AUTH_FAILED", r.ErrorCode)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("read after auth failure = %v, want close 1008", err)
	}
	if got := runner.callCount(); got != 0 {
		t.Errorf("runner calls = %d, want 0", got)
	}

	// Wrong key is rejected the same way.
	ws2 := dialWS(t, ts)
	sendFrame(t, ws2, map[string]any{"id": "a2", "method": "wait", "condition": "load", "api_key": "wrong-key-0123456789abcd"})
	if r := readReply(t, ws2); r.ErrorCode != string(schema.ErrCodeAuthFailed) {
		t.Errorf("error code = %s, want AUTH_FAILED", r.ErrorCode)
	}
}

func TestAuthStickyAfterFirstFrame(t *testing.T) {
	const key = "integration-test-key-0123456789"
	_, ts, _ := newTestServer(t, func(cfg *Config, _ *Deps) {
		cfg.APIKey = key
	})
	ws := dialWS(t, ts)

	sendFrame(t, ws, map[string]any{"id": "a1", "method": "wait", "condition": "load", "api_key": key})
	if r := readReply(t, ws); !r.Success {
		t.Fatalf("authenticated command failed: %s", r.ErrorCode)
	}

	// Later frames need no key.
	sendFrame(t, ws, map[string]any{"id": "a2", "method": "wait", "condition": "load"})
	if r := readReply(t, ws); !r.Success {
		t.Errorf("second command failed: %s", r.ErrorCode)
	}
}

func TestMalformedFramesCloseConnection(t *testing.T) {
	_, ts, _ := newTestServer(t, func(cfg *Config, _ *Deps) {
		cfg.MalformedFrameLimit = 2
	})
	ws := dialWS(t, ts)

	// One bad frame, then a good one: the streak resets.
	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	if r := readReply(t, ws); r.ErrorCode != string(schema.ErrCodeInvalidCommand) {
		t.Fatalf("error code = %s, want INVALID_COMMAND", r.ErrorCode)
	}
	sendFrame(t, ws, map[string]any{"id": "ok", "method": "wait", "condition": "load"})
	if r := readReply(t, ws); !r.Success {
		t.Fatalf("valid frame rejected: %s", r.ErrorCode)
	}

	// Two in a row hits the limit.
	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	readReply(t, ws)
	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	readReply(t, ws)
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseUnsupportedData) {
		t.Errorf("read = %v, want close 1003", err)
	}
}

func TestRepliesKeepSubmissionOrder(t *testing.T) {
	_, ts, runner := newTestServer(t, nil)
	runner.setDelay(20 * time.Millisecond)
	ws := dialWS(t, ts)

	ids := []string{"o1", "o2", "o3"}
	for _, id := range ids {
		sendFrame(t, ws, map[string]any{"id": id, "method": "navigate", "url": "https://example.com/" + id})
	}
	for _, want := range ids {
		r := readReply(t, ws)
		if !r.Success {
			t.Fatalf("command %s failed: %s", want, r.ErrorCode)
		}
		if r.ID != want {
			t.Fatalf("reply id = %q, want %q", r.ID, want)
		}
	}
}

func TestUnknownMethodKeepsRequestID(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)
	ws := dialWS(t, ts)

	sendFrame(t, ws, map[string]any{"id": "m1", "method": "teleport"})
	r := readReply(t, ws)
	if r.ErrorCode != string(schema.ErrCodeInvalidCommand) {
		t.Errorf("error code = %s, want INVALID_COMMAND", r.ErrorCode)
	}
	if r.ID != "m1" {
		t.Errorf("reply id = %q, want m1", r.ID)
	}
}

func TestValidationErrorNamesField(t *testing.T) {
	_, ts, runner := newTestServer(t, nil)
	ws := dialWS(t, ts)

	sendFrame(t, ws, map[string]any{"id": "v1", "method": "navigate"})
	r := readReply(t, ws)
	if r.ErrorCode != string(schema.ErrCodeInvalidParams) {
		t.Fatalf("error code = %s, want INVALID_PARAMS", r.ErrorCode)
	}
	if r.Details["field"] != "url" {
		t.Errorf("details = %v, want field=url", r.Details)
	}
	if got := runner.callCount(); got != 0 {
		t.Errorf("runner calls = %d, want 0", got)
	}
}

func TestTimeoutErrorThenRecovery(t *testing.T) {
	_, ts, runner := newTestServer(t, nil)
	runner.setFail(context.DeadlineExceeded)
	ws := dialWS(t, ts)

	sendFrame(t, ws, map[string]any{"id": "t1", "method": "navigate", "url": "https://example.com"})
	r := readReply(t, ws)
	if r.ErrorCode != string(schema.ErrCodeTimeout) {
		t.Fatalf("error code = %s, want TIMEOUT", r.ErrorCode)
	}

	// The session swaps its page and keeps serving.
	runner.setFail(nil)
	sendFrame(t, ws, map[string]any{"id": "t2", "method": "navigate", "url": "https://example.com"})
	if r := readReply(t, ws); !r.Success {
		t.Errorf("command after timeout failed: %s", r.ErrorCode)
	}
}

func TestInternalErrorsStayOpaque(t *testing.T) {
	_, ts, runner := newTestServer(t, nil)
	runner.setFail(io.ErrUnexpectedEOF)
	ws := dialWS(t, ts)

	sendFrame(t, ws, map[string]any{"id": "i1", "method": "navigate", "url": "https://example.com"})
	r := readReply(t, ws)
	if r.ErrorCode != string(schema.ErrCodeUnknown) {
		t.Fatalf("error code = %s, want UNKNOWN_ERROR", r.ErrorCode)
	}
	if strings.Contains(r.Error, "EOF") {
		t.Errorf("error message leaks internals: %q", r.Error)
	}
}

func TestHealthAndStatsEndpoints(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)
	ws := dialWS(t, ts)
	sendFrame(t, ws, map[string]any{"id": "h1", "method": "navigate", "url": "https://example.com"})
	readReply(t, ws)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	defer resp.Body.Close()
	var st Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Connections != 1 {
		t.Errorf("connections = %d, want 1", st.Connections)
	}
	if st.Sessions.Active != 1 {
		t.Errorf("active sessions = %d, want 1", st.Sessions.Active)
	}
	if st.RateLimit.Admitted == 0 {
		t.Error("rate limit admissions not counted")
	}
}

func TestConnectionLimitClosesExtraClients(t *testing.T) {
	_, ts, _ := newTestServer(t, func(cfg *Config, _ *Deps) {
		cfg.MaxConnections = 1
	})
	ws := dialWS(t, ts)
	// A served command proves the first connection is registered.
	sendFrame(t, ws, map[string]any{"id": "c1", "method": "wait", "condition": "load"})
	readReply(t, ws)

	ws2 := dialWS(t, ts)
	ws2.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws2.ReadMessage(); !websocket.IsCloseError(err, 4001) {
		t.Errorf("read = %v, want close 4001", err)
	}
}

func TestShutdownClosesClientsAndSessions(t *testing.T) {
	s, ts, _ := newTestServer(t, nil)
	ws := dialWS(t, ts)
	sendFrame(t, ws, map[string]any{"id": "s1", "method": "navigate", "url": "https://example.com"})
	readReply(t, ws)

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read = %v, want close 1001", err)
	}
	if got := s.sessions.Count(); got != 0 {
		t.Errorf("sessions after shutdown = %d, want 0", got)
	}

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", resp.StatusCode)
	}
}

func TestDisconnectClosesSessionsAfterGrace(t *testing.T) {
	s, ts, _ := newTestServer(t, func(cfg *Config, _ *Deps) {
		cfg.DisconnectGrace = 20 * time.Millisecond
	})
	ws := dialWS(t, ts)
	sendFrame(t, ws, map[string]any{"id": "d1", "method": "navigate", "url": "https://example.com"})
	readReply(t, ws)
	if got := s.sessions.Count(); got != 1 {
		t.Fatalf("sessions = %d, want 1", got)
	}

	ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.sessions.Count() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sessions still open after disconnect grace: %d", s.sessions.Count())
}
