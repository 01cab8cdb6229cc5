package stream

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"marketmux/internal/proxy"
	"marketmux/logger"
)

const handshakeTimeout = 15 * time.Second

// Config wires one venue subscription onto the shared connection skeleton.
type Config struct {
	// Name identifies the connection in logs and metrics, e.g. "lighter".
	Name string
	// URL is the venue stream endpoint.
	URL string
	// Header carries venue-required headers (auth cookies, account ids).
	Header http.Header

	// Pool is the venue's rotating proxy pool; Single is the venue's single
	// configured proxy checked when the pool is empty. When both yield
	// nothing the generic fallback applies, then no proxy.
	Pool   *proxy.Pool
	Single *proxy.Endpoint
	// AllowNoProxy lets a bad-gateway failure flip a sticky skip-proxy flag
	// for the rest of the process lifetime.
	AllowNoProxy bool

	// RefreshHeader runs before every dial to update per-session headers,
	// e.g. auth cookies that expire between reconnects. Failures are
	// classified and retried like dial failures.
	RefreshHeader func(ctx context.Context, header http.Header) error

	// Handshake sends the venue subscription after the transport opens.
	Handshake func(c *Client) error
	// OnMessage receives every raw frame. Malformed payloads must be handled
	// inside, never returned as errors.
	OnMessage func(c *Client, data []byte)

	// PingInterval enables client keepalive pings; AppPing replaces the
	// transport-level ping for venues that expect an application message.
	PingInterval time.Duration
	// IdleTimeout forces a hard reconnect when no frame has been seen for
	// this long despite pinging. Zero disables the idle check.
	IdleTimeout time.Duration
	AppPing     func(c *Client) error
}

// Client owns exactly one live venue subscription and keeps it alive
// indefinitely: proxy rotation, exponential backoff, rate-limit bypass and
// idle detection. Run drives the reconnect loop until the context ends.
type Client struct {
	cfg Config
	log *logger.Entry

	mu        sync.Mutex
	conn      *websocket.Conn
	attempts  int
	skipProxy bool

	writeMu  sync.Mutex
	state    atomic.Int32
	lastSeen atomic.Int64
	kicked   chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.RefreshHeader != nil && cfg.Header == nil {
		cfg.Header = http.Header{}
	}
	c := &Client{
		cfg:    cfg,
		log:    logger.GetLogger().WithComponent("stream").WithFields(logger.Fields{"venue": cfg.Name}),
		kicked: make(chan struct{}, 1),
	}
	c.state.Store(int32(Disconnected))
	return c
}

// Name identifies the connection for the liveness monitor.
func (c *Client) Name() string { return c.cfg.Name }

// State returns the current lifecycle position.
func (c *Client) State() State { return State(c.state.Load()) }

// Run connects and reconnects until ctx is cancelled. Every failure is
// classified: rate limits rotate to the next proxy immediately, everything
// else waits out the exponential backoff.
func (c *Client) Run(ctx context.Context) {
	for ctx.Err() == nil {
		c.state.Store(int32(Connecting))
		ep := c.nextEndpoint()

		if c.cfg.RefreshHeader != nil {
			if err := c.cfg.RefreshHeader(ctx, c.cfg.Header); err != nil {
				if !c.retry(ctx, Classify(err, nil), ep, err) {
					break
				}
				continue
			}
		}

		conn, resp, err := c.dial(ctx, ep)
		if err != nil {
			if !c.retry(ctx, Classify(err, resp), ep, err) {
				break
			}
			continue
		}

		c.setConn(conn)
		c.state.Store(int32(Subscribing))
		c.log.WithFields(logger.Fields{"proxy": ep.Redacted()}).Info("connected, subscribing")

		if c.cfg.Handshake != nil {
			if err := c.cfg.Handshake(c); err != nil {
				c.closeConn()
				if !c.retry(ctx, Classify(err, nil), ep, err) {
					break
				}
				continue
			}
		}

		c.state.Store(int32(Streaming))
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
		c.lastSeen.Store(time.Now().UnixMilli())

		err = c.readLoop(ctx)
		c.closeConn()
		c.state.Store(int32(Disconnected))
		if ctx.Err() != nil {
			break
		}
		if !c.retry(ctx, Classify(err, nil), ep, err) {
			break
		}
	}
	c.closeConn()
	c.state.Store(int32(Closing))
}

// retry applies the per-class reconnect policy. Returns false when the
// context ended during the wait.
func (c *Client) retry(ctx context.Context, class Class, ep *proxy.Endpoint, cause error) bool {
	c.state.Store(int32(Disconnected))

	entry := c.log.WithFields(logger.Fields{
		"class": class.String(),
		"proxy": ep.Redacted(),
	})
	if cause != nil {
		entry = entry.WithError(cause)
	}

	switch class {
	case ClassRateLimited:
		// Immediate reconnect with the next proxy; no backoff wait.
		entry.Warn("rate limited, rotating proxy immediately")
		return ctx.Err() == nil
	case ClassProxyPayment:
		entry.Warn("proxy reported payment required")
	case ClassBadGateway:
		if c.cfg.AllowNoProxy && ep != nil {
			c.mu.Lock()
			sticky := !c.skipProxy
			c.skipProxy = true
			c.mu.Unlock()
			if sticky {
				entry.Warn("bad gateway through proxy, disabling proxy for this venue")
			}
		} else {
			entry.Warn("bad gateway")
		}
	default:
		entry.Info("connection lost, scheduling reconnect")
	}

	c.mu.Lock()
	wait := Backoff(c.attempts)
	c.attempts++
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return false
	case <-c.kicked:
		entry.Info("kicked during backoff, reconnecting now")
		return true
	case <-time.After(wait):
		return true
	}
}

func (c *Client) nextEndpoint() *proxy.Endpoint {
	c.mu.Lock()
	skip := c.skipProxy
	c.mu.Unlock()
	if skip {
		return nil
	}
	if ep := c.cfg.Pool.Next(); ep != nil {
		return ep
	}
	if c.cfg.Single != nil {
		return c.cfg.Single
	}
	return proxy.Fallback()
}

func (c *Client) dial(ctx context.Context, ep *proxy.Endpoint) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	if u := ep.URL(); u != nil {
		dialer.Proxy = http.ProxyURL(u)
	}
	return dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	conn.SetPongHandler(func(string) error {
		c.lastSeen.Store(time.Now().UnixMilli())
		return nil
	})

	stopKeepalive := make(chan struct{})
	defer close(stopKeepalive)
	if c.cfg.PingInterval > 0 {
		go c.keepalive(ctx, conn, stopKeepalive)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.lastSeen.Store(time.Now().UnixMilli())
		logger.IncrementVenueRead(c.cfg.Name, len(data))
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(c, data)
		}
	}
}

func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				c.log.WithError(err).Debug("keepalive ping failed")
			}
			if c.cfg.IdleTimeout > 0 && c.idleFor() > c.cfg.IdleTimeout {
				c.log.WithFields(logger.Fields{"idle": c.idleFor().String()}).
					Warn("no frames despite pinging, forcing reconnect")
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) idleFor() time.Duration {
	last := c.lastSeen.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(last))
}

// Send marshals v as JSON and writes it to the live connection.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Ping sends the venue keepalive: the application-level ping when the venue
// defines one, otherwise a transport-level ping. Best effort.
func (c *Client) Ping() error {
	if c.cfg.AppPing != nil {
		return c.cfg.AppPing(c)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Kick forces the current transport closed and wakes any pending backoff
// wait so the run loop reconnects immediately. Safe to call at any time,
// from any state.
func (c *Client) Kick() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	select {
	case c.kicked <- struct{}{}:
	default:
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
