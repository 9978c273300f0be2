package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"
	rlog "hirecall/pkg/logger"
	"hirecall/pkg/tracing"
	"hirecall/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	channelCall    = "call"
	channelControl = "control"

	sendQueueSize = 64
)

// RelayOptions configure the relay's websocket handling.
type RelayOptions struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	ReplayBacklog     int
	MessagesPerSecond float64
	Burst             int
	CheckOrigin       func(r *http.Request) bool
}

func DefaultRelayOptions() RelayOptions {
	return RelayOptions{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    1 << 20,
		ReplayBacklog:     64,
		MessagesPerSecond: 50,
		Burst:             100,
	}
}

// RelayServer is the server half of signaling: one room per call and one
// control channel per connected user.
type RelayServer struct {
	calls    ports.CallService
	metrics  ports.RelayMetrics
	opts     RelayOptions
	upgrader websocket.Upgrader
	logs     *rlog.ContextLogger
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	rooms   map[domain.CallID]*room
	control map[domain.UserID]map[*client]struct{}
}

type room struct {
	id      domain.CallID
	members map[*client]struct{}
	backlog []backlogEntry
	closed  bool
}

type backlogEntry struct {
	from domain.UserID
	data []byte
}

type client struct {
	conn    *websocket.Conn
	user    domain.UserID
	channel string
	send    chan []byte
	limiter *rate.Limiter
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

func NewRelayServer(calls ports.CallService, metrics ports.RelayMetrics, opts RelayOptions, logger *zap.Logger) *RelayServer {
	defaults := DefaultRelayOptions()
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

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &RelayServer{
		calls:   calls,
		metrics: metrics,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logs:    rlog.NewContextLogger(logger),
		logger:  logger.Sugar(),
		rooms:   make(map[domain.CallID]*room),
		control: make(map[domain.UserID]map[*client]struct{}),
	}
}

// ServeCall upgrades the request and joins user to the call's room. The
// caller must have checked that user takes part in the call.
func (s *RelayServer) ServeCall(w http.ResponseWriter, r *http.Request, user domain.UserID, callID domain.CallID) {
	ctx := rlog.WithCallID(rlog.WithUserID(r.Context(), string(user)), string(callID))
	c, err := s.upgrade(ctx, w, r, user, channelCall)
	if err != nil {
		return
	}

	rm, ok := s.join(callID, c)
	if !ok {
		c.enqueue(s.encode(domain.NewCallEnded(callID)))
		c.close()
		s.finish(c)
		return
	}

	s.readLoop(c, func(data []byte, env domain.SignalEnvelope) {
		s.handleCallMessage(ctx, rm, c, data, env)
	})

	s.leave(rm, c)
	s.finish(c)
}

// ServeControl upgrades the request and registers the user's control channel.
func (s *RelayServer) ServeControl(w http.ResponseWriter, r *http.Request, user domain.UserID) {
	ctx := rlog.WithUserID(r.Context(), string(user))
	c, err := s.upgrade(ctx, w, r, user, channelControl)
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.control[user] == nil {
		s.control[user] = make(map[*client]struct{})
	}
	s.control[user][c] = struct{}{}
	s.mu.Unlock()

	s.readLoop(c, func(_ []byte, env domain.SignalEnvelope) {
		s.handleControlMessage(ctx, c, env)
	})

	s.mu.Lock()
	delete(s.control[user], c)
	if len(s.control[user]) == 0 {
		delete(s.control, user)
	}
	s.mu.Unlock()
	s.finish(c)
}

func (s *RelayServer) upgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, user domain.UserID, channel string) (*client, error) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("Websocket upgrade failed", "channel", channel, "user_id", user, "error", err)
		return nil, err
	}

	c := &client{
		conn:    conn,
		user:    user,
		channel: channel,
		send:    make(chan []byte, sendQueueSize),
		limiter: s.newLimiter(),
		logger:  s.logs.WithContext(ctx).Sugar().With("channel", channel, "conn_id", utils.GenerateConnectionID()),
	}
	s.metrics.RecordConnectionOpened(channel)
	c.logger.Infow("Relay connection opened")

	go s.writeLoop(c)
	return c, nil
}

// newLimiter returns an unlimited limiter when no rate is configured.
func (s *RelayServer) newLimiter() *rate.Limiter {
	if s.opts.MessagesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := s.opts.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), burst)
}

func (s *RelayServer) finish(c *client) {
	c.close()
	s.metrics.RecordConnectionClosed(c.channel)
	c.logger.Infow("Relay connection closed")
}

// join adds c to the room and replays the backlog sent by other users. It
// fails when the room was closed by a call-end.
func (s *RelayServer) join(callID domain.CallID, c *client) (*room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, exists := s.rooms[callID]
	if !exists {
		rm = &room{id: callID, members: make(map[*client]struct{})}
		s.rooms[callID] = rm
	}
	if rm.closed {
		return nil, false
	}

	for _, entry := range rm.backlog {
		if entry.from != c.user {
			c.enqueue(entry.data)
		}
	}
	rm.members[c] = struct{}{}
	return rm, true
}

func (s *RelayServer) leave(rm *room, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(rm.members, c)
	if len(rm.members) == 0 && s.rooms[rm.id] == rm {
		delete(s.rooms, rm.id)
	}
}

func (s *RelayServer) readLoop(c *client, handle func([]byte, domain.SignalEnvelope)) {
	c.conn.SetReadLimit(s.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Infow("Error reading from relay connection", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if !c.limiter.Allow() {
			s.metrics.RecordMessageDropped("rate_limited")
			s.sendError(c, "rate limit exceeded")
			continue
		}

		var env domain.SignalEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.metrics.RecordMessageDropped("malformed")
			s.sendError(c, "malformed message")
			continue
		}
		if err := env.Validate(); err != nil {
			s.metrics.RecordMessageDropped("invalid")
			s.sendError(c, err.Error())
			continue
		}

		handle(data, env)
	}
}

func (s *RelayServer) writeLoop(c *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Infow("Error writing to relay connection", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Infow("Error sending ping", "error", err)
				return
			}
		}
	}
}

func (s *RelayServer) handleCallMessage(ctx context.Context, rm *room, c *client, data []byte, env domain.SignalEnvelope) {
	ctx, span := tracing.TraceSignal(ctx, string(env.Type), string(c.user))
	defer span.End()

	switch env.Type {
	case domain.SignalWebRTC, domain.SignalOffer, domain.SignalAnswer, domain.SignalICECandidate:
		s.broadcast(rm, c, data, true)
		s.metrics.RecordMessageRelayed(env.Type)

	case domain.SignalSpeechTranscript:
		entry := domain.TranscriptEntry{User: c.user, Text: env.Text, Timestamp: env.At(time.Now())}
		if err := s.calls.AddTranscript(ctx, rm.id, entry); err != nil {
			tracing.RecordError(ctx, err)
			c.logger.Warnw("Failed to store transcript", "error", err)
			s.metrics.RecordMessageDropped("transcript_rejected")
			s.sendError(c, err.Error())
			return
		}
		s.broadcast(rm, nil, s.encode(domain.NewTranscript(entry)), false)
		s.metrics.RecordMessageRelayed(domain.SignalTranscript)

	case domain.SignalCallEnd:
		if _, err := s.calls.EndCall(ctx, rm.id); err != nil && !errors.Is(err, domain.ErrCallNotFound) {
			tracing.RecordError(ctx, err)
			c.logger.Warnw("Failed to end call", "error", err)
		}
		s.closeRoom(rm)
		s.metrics.RecordMessageRelayed(domain.SignalCallEnded)

	default:
		s.metrics.RecordMessageDropped("unsupported")
		s.sendError(c, "unsupported message type: "+string(env.Type))
	}
}

// broadcast sends data to every member except skip. With keep set, data is
// also kept for replay to members that join later, tagged with skip's user.
func (s *RelayServer) broadcast(rm *room, skip *client, data []byte, keep bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rm.closed {
		return
	}
	if keep && skip != nil && s.opts.ReplayBacklog > 0 {
		rm.backlog = append(rm.backlog, backlogEntry{from: skip.user, data: data})
		if len(rm.backlog) > s.opts.ReplayBacklog {
			rm.backlog = rm.backlog[len(rm.backlog)-s.opts.ReplayBacklog:]
		}
	}
	for member := range rm.members {
		if member != skip && !member.enqueue(data) {
			s.metrics.RecordMessageDropped("slow_consumer")
		}
	}
}

// closeRoom tells every member the call ended and closes their connections
// once the notice is written.
func (s *RelayServer) closeRoom(rm *room) {
	ended := s.encode(domain.NewCallEnded(rm.id))

	s.mu.Lock()
	if rm.closed {
		s.mu.Unlock()
		return
	}
	rm.closed = true
	rm.backlog = nil
	members := make([]*client, 0, len(rm.members))
	for member := range rm.members {
		members = append(members, member)
	}
	s.mu.Unlock()

	for _, member := range members {
		member.enqueue(ended)
		member.close()
	}
	s.logger.Infow("Call room closed", "call_id", rm.id, "members", len(members))
}

func (s *RelayServer) handleControlMessage(ctx context.Context, c *client, env domain.SignalEnvelope) {
	_, span := tracing.TraceSignal(ctx, string(env.Type), string(c.user))
	defer span.End()

	if len(env.Targets) == 0 {
		s.metrics.RecordMessageDropped("no_targets")
		s.sendError(c, "control message without targets")
		return
	}

	targets := env.Targets
	env.From = c.user
	env.Targets = nil
	data := s.encode(env)

	for _, target := range targets {
		if target == c.user {
			continue
		}

		s.mu.RLock()
		conns := make([]*client, 0, len(s.control[target]))
		for conn := range s.control[target] {
			conns = append(conns, conn)
		}
		s.mu.RUnlock()

		if len(conns) == 0 {
			s.metrics.RecordMessageDropped("offline")
			c.logger.Infow("Control target offline", "target", target, "type", env.Type)
			if env.Type == domain.SignalIncomingCall {
				declined := domain.NewCallDeclined(env.CallID, domain.DeclineReasonOffline, nil)
				declined.From = target
				c.enqueue(s.encode(declined))
			}
			continue
		}

		for _, conn := range conns {
			conn.enqueue(data)
		}
		s.metrics.RecordMessageRelayed(env.Type)
	}
}

func (s *RelayServer) sendError(c *client, message string) {
	c.enqueue(s.encode(domain.NewErrorEnvelope(message)))
}

func (s *RelayServer) encode(env domain.SignalEnvelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Errorw("Failed to encode signal", "type", env.Type, "error", err)
		return nil
	}
	return data
}

// Stats reports open rooms and connections for health checks.
func (s *RelayServer) Stats() (rooms, connections int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rm := range s.rooms {
		connections += len(rm.members)
	}
	for _, conns := range s.control {
		connections += len(conns)
	}
	return len(s.rooms), connections
}

// Close disconnects every client.
func (s *RelayServer) Close() {
	s.mu.RLock()
	var all []*client
	for _, rm := range s.rooms {
		for c := range rm.members {
			all = append(all, c)
		}
	}
	for _, conns := range s.control {
		for c := range conns {
			all = append(all, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}

// enqueue queues data for the writer without blocking.
func (c *client) enqueue(data []byte) bool {
	if data == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close lets the writer flush what is queued, then closes the connection.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
