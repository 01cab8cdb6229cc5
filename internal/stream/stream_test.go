package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketmux/internal/proxy"
)

func TestBackoffCurve(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, c := range cases {
		if got := Backoff(c.attempts); got != c.want {
			t.Fatalf("Backoff(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestClassifyFromResponse(t *testing.T) {
	err := errors.New("websocket: bad handshake")
	if got := Classify(err, &http.Response{StatusCode: 429}); got != ClassRateLimited {
		t.Fatalf("429 response classified as %v", got)
	}
	if got := Classify(err, &http.Response{StatusCode: 402}); got != ClassProxyPayment {
		t.Fatalf("402 response classified as %v", got)
	}
	if got := Classify(err, &http.Response{StatusCode: 502}); got != ClassBadGateway {
		t.Fatalf("502 response classified as %v", got)
	}
	if got := Classify(err, &http.Response{StatusCode: 500}); got != ClassTransient {
		t.Fatalf("500 response classified as %v", got)
	}
}

func TestClassifyFromErrorText(t *testing.T) {
	cases := []struct {
		err  string
		want Class
	}{
		{"proxy: got 429 Too Many Requests", ClassRateLimited},
		{"proxyconnect tcp: 402 Payment Required", ClassProxyPayment},
		{"unexpected response: 502 Bad Gateway", ClassBadGateway},
		{"read tcp: connection reset by peer", ClassTransient},
		{"i/o timeout", ClassTransient},
	}
	for _, c := range cases {
		if got := Classify(errors.New(c.err), nil); got != c.want {
			t.Fatalf("Classify(%q) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Subscribing:  "subscribing",
		Streaming:    "streaming",
		Closing:      "closing",
	} {
		if s.String() != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestKickWithoutConnection(t *testing.T) {
	c := NewClient(Config{Name: "test", URL: "ws://localhost:0"})
	// Must be safe at any time, in any state.
	c.Kick()
	c.Kick()
	if c.State() != Disconnected {
		t.Fatalf("state = %v, want disconnected", c.State())
	}
}

func TestRetryRateLimitedSkipsBackoff(t *testing.T) {
	c := NewClient(Config{Name: "test"})
	c.mu.Lock()
	c.attempts = 4 // a backoff wait here would be 16s
	c.mu.Unlock()

	start := time.Now()
	if !c.retry(context.Background(), ClassRateLimited, nil, errors.New("429 Too Many Requests")) {
		t.Fatalf("retry aborted")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("rate-limited retry waited %v, want immediate", elapsed)
	}

	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	if attempts != 4 {
		t.Fatalf("rate-limited retry consumed a backoff attempt: %d", attempts)
	}
}

func TestRetryTransientWaitsOutBackoff(t *testing.T) {
	c := NewClient(Config{Name: "test"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if c.retry(ctx, ClassTransient, nil, errors.New("connection reset")) {
		t.Fatalf("transient retry returned before the backoff elapsed")
	}
}

func TestKickWakesBackoffWait(t *testing.T) {
	c := NewClient(Config{Name: "test"})
	c.mu.Lock()
	c.attempts = 10 // pending wait would be the 30s cap
	c.mu.Unlock()

	done := make(chan bool, 1)
	go func() {
		done <- c.retry(context.Background(), ClassTransient, nil, errors.New("connection reset"))
	}()

	time.Sleep(50 * time.Millisecond)
	c.Kick()

	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("retry aborted after kick")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("kick did not wake the backoff wait")
	}
}

func TestNextEndpointRotatesPool(t *testing.T) {
	t.Setenv("STREAMTEST_PROXY_1", "10.0.0.1:8080")
	t.Setenv("STREAMTEST_PROXY_2", "10.0.0.2:8080")
	t.Setenv("STREAMTEST_PROXY_3", "10.0.0.3:8080")

	c := NewClient(Config{Name: "test", Pool: proxy.FromEnv("STREAMTEST_PROXY_", 1, 3)})

	hosts := make([]string, 4)
	for i := range hosts {
		ep := c.nextEndpoint()
		if ep == nil {
			t.Fatalf("attempt %d got no endpoint", i)
		}
		hosts[i] = ep.URL().Host
	}
	if hosts[0] == hosts[1] || hosts[1] == hosts[2] || hosts[0] == hosts[2] {
		t.Fatalf("successive attempts reused a proxy: %v", hosts)
	}
	if hosts[3] != hosts[0] {
		t.Fatalf("pool did not wrap around: %v", hosts)
	}
}

func TestRateLimitedReconnectsImmediately(t *testing.T) {
	var attempts, refreshes int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamed := make(chan struct{}, 1)
	c := NewClient(Config{
		Name: "test",
		URL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		RefreshHeader: func(context.Context, http.Header) error {
			atomic.AddInt32(&refreshes, 1)
			return nil
		},
		OnMessage: func(*Client, []byte) {
			select {
			case streamed <- struct{}{}:
			default:
			}
		},
	})
	c.mu.Lock()
	c.skipProxy = true // direct dial regardless of ambient proxy env
	c.mu.Unlock()

	start := time.Now()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-streamed:
	case <-time.After(2 * time.Second):
		t.Fatalf("never reached streaming after rate limits (%d attempts)", atomic.LoadInt32(&attempts))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("two rate-limited attempts took %v, backoff was not skipped", elapsed)
	}
	if got := atomic.LoadInt32(&refreshes); got < 3 {
		t.Fatalf("headers refreshed %d times across 3 attempts", got)
	}

	cancel()
	c.Kick()
	<-done
}

func TestSendWithoutConnection(t *testing.T) {
	c := NewClient(Config{Name: "test"})
	if err := c.Send(map[string]string{"type": "ping"}); err == nil {
		t.Fatalf("expected error sending on closed client")
	}
}
