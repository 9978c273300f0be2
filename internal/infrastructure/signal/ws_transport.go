package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TransportOptions tune the keep-alive and limits of one channel.
type TransportOptions struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// StaticToken is a TokenProvider that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Dialer opens signaling channels against a relay base URL such as
// ws://localhost:8080.
type Dialer struct {
	BaseURL          string
	Tokens           ports.TokenProvider
	Options          TransportOptions
	HandshakeTimeout time.Duration
	Logger           *zap.SugaredLogger

	// OnState, when set, sees each dial go through connecting and end in
	// open or closed. A returned transport is always open already.
	OnState func(path string, state domain.ChannelState)
}

// Dial opens the signaling room of one call.
func (d *Dialer) Dial(ctx context.Context, callID domain.CallID) (ports.SignalingTransport, error) {
	if callID == "" {
		return nil, fmt.Errorf("%w: empty call id", domain.ErrConnect)
	}
	return d.dial(ctx, "/api/v1/call/"+url.PathEscape(string(callID))+"/ws", d.logger().With("call_id", callID))
}

// DialControl opens the user's control channel.
func (d *Dialer) DialControl(ctx context.Context) (ports.SignalingTransport, error) {
	return d.dial(ctx, "/api/v1/control/ws", d.logger().With("channel", "control"))
}

func (d *Dialer) logger() *zap.SugaredLogger {
	if d.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return d.Logger
}

func (d *Dialer) dial(ctx context.Context, path string, logger *zap.SugaredLogger) (*WSTransport, error) {
	d.report(path, domain.ChannelConnecting)
	t, err := d.open(ctx, path, logger)
	if err != nil {
		d.report(path, domain.ChannelClosed)
		return nil, err
	}
	d.report(path, domain.ChannelOpen)
	return t, nil
}

func (d *Dialer) report(path string, state domain.ChannelState) {
	if d.OnState != nil {
		d.OnState(path, state)
	}
}

func (d *Dialer) open(ctx context.Context, path string, logger *zap.SugaredLogger) (*WSTransport, error) {
	if d.Tokens == nil {
		return nil, domain.ErrAuth
	}
	token, err := d.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	if token == "" {
		return nil, domain.ErrAuth
	}

	target, err := url.Parse(strings.TrimRight(d.BaseURL, "/") + path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnect, err)
	}
	q := target.Query()
	q.Set("token", token)
	target.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: relay answered %d", domain.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnect, err)
	}

	logger.Debugw("Signaling channel open", "path", path)
	return NewWSTransport(conn, d.Options, logger), nil
}

// WSTransport is a SignalingTransport over one websocket connection.
// Messages received before the first OnMessage subscriber are held and
// delivered to it in order.
type WSTransport struct {
	conn    *websocket.Conn
	opts    TransportOptions
	logger  *zap.SugaredLogger
	writeMu sync.Mutex

	mu         sync.Mutex
	cond       *sync.Cond
	state      domain.ChannelState
	handlers   map[int]func(domain.SignalEnvelope)
	order      []int
	nextID     int
	subscribed bool
	inbox      []domain.SignalEnvelope
	readerGone bool
	stopped    bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSTransport takes ownership of an open connection, so the transport
// starts in ChannelOpen. Dialer.OnState covers the connecting phase.
func NewWSTransport(conn *websocket.Conn, opts TransportOptions, logger *zap.SugaredLogger) *WSTransport {
	defaults := DefaultTransportOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaults.PongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}

	t := &WSTransport{
		conn:     conn,
		opts:     opts,
		logger:   logger,
		state:    domain.ChannelOpen,
		handlers: make(map[int]func(domain.SignalEnvelope)),
		done:     make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)

	go t.readLoop()
	go t.dispatch()
	go t.pingLoop()
	return t
}

func (t *WSTransport) State() domain.ChannelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WSTransport) Done() <-chan struct{} {
	return t.done
}

// Send fails with ErrChannelNotOpen once the channel has closed.
func (t *WSTransport) Send(env domain.SignalEnvelope) error {
	if t.State() != domain.ChannelOpen {
		t.logger.Warnw("Dropping signal on closed channel", "type", env.Type)
		return domain.ErrChannelNotOpen
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Warnw("Signal write failed", "type", env.Type, "error", err)
		t.shutdown(false)
		return fmt.Errorf("%w: %v", domain.ErrChannelNotOpen, err)
	}
	return nil
}

func (t *WSTransport) OnMessage(handler func(domain.SignalEnvelope)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.handlers[id] = handler
	t.order = append(t.order, id)
	t.subscribed = true
	t.cond.Broadcast()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.handlers, id)
			for i, v := range t.order {
				if v == id {
					t.order = append(t.order[:i], t.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Close is idempotent and may be called from inside a handler. Messages
// not yet delivered are dropped.
func (t *WSTransport) Close() error {
	t.shutdown(true)
	return nil
}

func (t *WSTransport) shutdown(local bool) {
	t.mu.Lock()
	t.state = domain.ChannelClosed
	if local {
		t.stopped = true
	} else {
		t.readerGone = true
	}
	t.cond.Broadcast()
	t.mu.Unlock()

	t.closeOnce.Do(func() {
		if local {
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(time.Second))
			t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			t.writeMu.Unlock()
		}
		t.conn.Close()
	})
}

func (t *WSTransport) readLoop() {
	t.conn.SetReadLimit(t.opts.MaxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
		return nil
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !t.isStopped() {
				t.logger.Infow("Signaling channel lost", "error", err)
			}
			t.shutdown(false)
			return
		}
		t.conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))

		var env domain.SignalEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warnw("Dropping malformed signal", "error", err, "size", len(data))
			continue
		}
		if err := env.Validate(); err != nil {
			t.logger.Warnw("Dropping invalid signal", "type", env.Type, "error", err)
			continue
		}

		t.mu.Lock()
		t.inbox = append(t.inbox, env)
		t.cond.Broadcast()
		t.mu.Unlock()
	}
}

func (t *WSTransport) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// dispatch delivers envelopes in receipt order. After the remote side goes
// away it drains what was already received before closing Done.
func (t *WSTransport) dispatch() {
	defer close(t.done)

	for {
		t.mu.Lock()
		for !t.stopped && !t.readerGone && (!t.subscribed || len(t.inbox) == 0) {
			t.cond.Wait()
		}
		if t.stopped || !t.subscribed || len(t.inbox) == 0 {
			t.mu.Unlock()
			return
		}

		env := t.inbox[0]
		t.inbox = t.inbox[1:]
		handlers := make([]func(domain.SignalEnvelope), 0, len(t.order))
		for _, id := range t.order {
			handlers = append(handlers, t.handlers[id])
		}
		t.mu.Unlock()

		for _, h := range handlers {
			h(env)
		}
	}
}

func (t *WSTransport) pingLoop() {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if t.State() != domain.ChannelOpen {
				return
			}
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.opts.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				t.logger.Debugw("Ping failed", "error", err)
				return
			}
		}
	}
}
