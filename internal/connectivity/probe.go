package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultPingInterval = 15 * time.Second
	pingTimeout         = 5 * time.Second

	defaultReconnectMin = 1 * time.Second
	defaultReconnectMax = 60 * time.Second

	// jitterDivisor controls the range of random jitter added to
	// reconnect backoff: jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2

	reconnectBackoffMultiplier = 2
)

// wsConn abstracts the presence connection so the Probe can be tested
// without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

type dialFunc func(ctx context.Context, url string, header http.Header) (wsConn, error)

// ProbeConfig configures a Probe. Zero durations use defaults.
type ProbeConfig struct {
	URL          string
	Token        string
	PingInterval time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Probe holds a WebSocket open to the presence endpoint and reports the
// link state to a Monitor: online while the connection is up and
// answering pings, offline otherwise.
type Probe struct {
	cfg     ProbeConfig
	monitor *Monitor
	logger  *slog.Logger
	dial    dialFunc
}

// NewProbe creates a Probe that drives monitor.
func NewProbe(cfg ProbeConfig, monitor *Monitor, logger *slog.Logger) *Probe {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}

	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}

	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = max(defaultReconnectMax, cfg.ReconnectMin)
	}

	return &Probe{
		cfg:     cfg,
		monitor: monitor,
		logger:  logger,
		dial:    dialWebsocket,
	}
}

func dialWebsocket(ctx context.Context, url string, header http.Header) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (p *Probe) header() http.Header {
	h := http.Header{}
	if p.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+p.cfg.Token)
	}

	return h
}

// Check dials once and reports whether the presence endpoint is
// reachable. The monitor is updated with the result.
func (p *Probe) Check(ctx context.Context) bool {
	conn, err := p.dial(ctx, p.cfg.URL, p.header())
	if err != nil {
		p.logger.Debug("connectivity check failed", slog.String("error", err.Error()))
		p.monitor.Set(false)

		return false
	}

	conn.Close(websocket.StatusNormalClosure, "check")
	p.monitor.Set(true)

	return true
}

// Run keeps the presence connection up until ctx is cancelled,
// reconnecting with exponential backoff. The monitor is set offline
// whenever the connection is down.
func (p *Probe) Run(ctx context.Context) error {
	backoff := p.cfg.ReconnectMin

	for {
		connected, err := p.session(ctx)

		p.monitor.Set(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if connected {
			backoff = p.cfg.ReconnectMin
		}

		p.logger.Warn("presence connection down, retrying",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff)/jitterDivisor + 1)) //nolint:gosec // G404: reconnect jitter

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*reconnectBackoffMultiplier, p.cfg.ReconnectMax)
	}
}

// session dials and holds one connection. It reports whether the dial
// succeeded and the error that ended the session.
func (p *Probe) session(ctx context.Context) (bool, error) {
	conn, err := p.dial(ctx, p.cfg.URL, p.header())
	if err != nil {
		return false, fmt.Errorf("dialing presence endpoint: %w", err)
	}

	p.monitor.Set(true)

	connCtx, cancel := context.WithCancel(ctx)
	readErr := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			if _, _, err := conn.Read(connCtx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	defer func() {
		cancel()
		<-done
	}()

	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "shutdown")
			return true, ctx.Err()
		case err := <-readErr:
			conn.Close(websocket.StatusGoingAway, "read failed")
			return true, fmt.Errorf("reading presence connection: %w", err)
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)

			pingCancel()

			if err != nil {
				conn.Close(websocket.StatusGoingAway, "ping failed")

				if ctx.Err() != nil {
					return true, ctx.Err()
				}

				return true, fmt.Errorf("pinging presence endpoint: %w", err)
			}
		}
	}
}
