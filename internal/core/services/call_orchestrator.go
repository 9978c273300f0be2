package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"
	"hirecall/pkg/retry"
	"hirecall/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CallDeps are the collaborators a CallOrchestrator drives.
type CallDeps struct {
	Self    domain.Participant
	API     ports.CallAPI
	Control ports.SignalingTransport
	Dialer  ports.TransportDialer
	Media   ports.MediaSource
	Peers   ports.PeerConnectionFactory

	// Recognition builds a fresh engine per call. Nil disables transcription.
	Recognition func() ports.RecognitionEngine
	RemoteSink  ports.RemoteMediaSink
	Metrics     ports.CallMetrics
	Observer    ports.CallObserver
	Logger      *zap.SugaredLogger
}

type CallConfig struct {
	Peer                  PeerSessionConfig
	TranscriptionOutgoing TranscriptionConfig
	TranscriptionIncoming TranscriptionConfig
	Reconnect             retry.Config
}

func DefaultCallConfig() CallConfig {
	reconnect := retry.DefaultConfig()
	reconnect.MaxAttempts = 5
	reconnect.InitialDelay = 500 * time.Millisecond
	reconnect.MaxDelay = 8 * time.Second
	return CallConfig{
		Peer:                  DefaultPeerSessionConfig(),
		TranscriptionOutgoing: DefaultTranscriptionConfig(domain.DirectionOutgoing),
		TranscriptionIncoming: DefaultTranscriptionConfig(domain.DirectionIncoming),
		Reconnect:             reconnect,
	}
}

// CallOrchestrator owns at most one call at a time. It ties the control
// channel, the per-call signaling channel, the peer session and the
// transcription session together.
//
// Every call gets a new attempt number. Callbacks carry the attempt they
// were created for and are dropped once it is no longer current, so late
// events from a torn down call never touch the next one.
type CallOrchestrator struct {
	deps    CallDeps
	cfg     CallConfig
	logger  *zap.SugaredLogger
	notices *eventQueue[func(ports.CallObserver)]

	controlUnsub func()

	mu            sync.Mutex
	phase         domain.CallPhase
	attempt       uint64
	direction     domain.Direction
	call          *domain.Call
	targets       []domain.UserID
	transport     ports.SignalingTransport
	unsubscribe   func()
	cancelWatch   context.CancelFunc
	peer          *PeerSession
	transcription *TranscriptionSession
	transcript    []domain.TranscriptEntry
	startedAt     time.Time
	connectedAt   time.Time
	closed        bool
}

func NewCallOrchestrator(deps CallDeps, cfg CallConfig) *CallOrchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopCallMetrics{}
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}

	o := &CallOrchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With("user_id", deps.Self.ID),
		phase:  domain.CallPhaseNone,
	}
	o.notices = newEventQueue(func(fn func(ports.CallObserver)) { fn(o.deps.Observer) })
	if deps.Control != nil {
		o.controlUnsub = deps.Control.OnMessage(o.handleControl)
	}
	return o
}

// PlaceCall creates a call with participants and rings them. It returns
// once the offer is out; the phase moves on as the callee answers.
func (o *CallOrchestrator) PlaceCall(ctx context.Context, participants []domain.Participant) (*domain.Call, error) {
	ctx, span := tracing.StartSpan(ctx, "call.place")
	defer span.End()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, domain.ErrSessionEnded
	}
	if !o.phase.Idle() {
		o.mu.Unlock()
		return nil, domain.ErrCallInProgress
	}
	attempt := o.beginLocked(domain.DirectionOutgoing)
	o.setPhaseLocked(domain.CallPhaseOutgoingRinging)
	o.mu.Unlock()

	o.deps.Metrics.RecordCallPlaced()

	call, err := o.deps.API.CreateCall(ctx, participants)
	if err != nil {
		tracing.RecordError(ctx, err)
		o.teardown(attempt, hangupSilent, err)
		return nil, err
	}
	span.SetAttributes(tracing.CallIDKey.String(string(call.ID)), attribute.Int("call.participants", len(call.Participants)))

	transport, err := o.deps.Dialer.Dial(ctx, call.ID)
	if err != nil {
		tracing.RecordError(ctx, err)
		o.teardown(attempt, hangupSilent, err)
		return nil, err
	}

	o.mu.Lock()
	if o.attempt != attempt || o.phase != domain.CallPhaseOutgoingRinging {
		o.mu.Unlock()
		_ = transport.Close()
		return nil, domain.ErrSessionEnded
	}
	o.call = call
	o.targets = call.PeerIDs(o.deps.Self.ID)
	o.attachTransportLocked(attempt, transport)
	peer := o.newPeerLocked(attempt, call.ID)
	targets := o.targets
	o.mu.Unlock()

	o.sendControl(domain.NewIncomingCall(call.ID, o.deps.Self.Description, targets))

	if err := peer.Start(ctx, domain.DirectionOutgoing); err != nil {
		tracing.RecordError(ctx, err)
		o.teardown(attempt, hangupAll, err)
		return nil, err
	}

	o.logger.Infow("Call placed", "call_id", call.ID, "targets", targets)
	return call.Clone(), nil
}

// AcceptCall answers the ringing incoming call.
func (o *CallOrchestrator) AcceptCall(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != domain.CallPhaseIncomingRinging {
		o.mu.Unlock()
		return domain.ErrNoActiveCall
	}
	attempt := o.attempt
	callID := o.call.ID
	targets := o.targets
	o.setPhaseLocked(domain.CallPhaseConnecting)
	o.mu.Unlock()

	ctx, span := tracing.TraceCall(ctx, "accept", string(callID))
	defer span.End()

	o.deps.Metrics.RecordCallAccepted()

	// The call channel is open before the caller learns of the accept, so
	// its offer is never missed.
	transport, err := o.deps.Dialer.Dial(ctx, callID)
	if err != nil {
		tracing.RecordError(ctx, err)
		o.teardown(attempt, hangupAll, err)
		return err
	}

	o.mu.Lock()
	if o.attempt != attempt || o.phase != domain.CallPhaseConnecting {
		o.mu.Unlock()
		_ = transport.Close()
		return domain.ErrSessionEnded
	}
	o.attachTransportLocked(attempt, transport)
	peer := o.newPeerLocked(attempt, callID)
	o.mu.Unlock()

	o.sendControl(domain.NewCallAccepted(callID, targets))

	if err := peer.Start(ctx, domain.DirectionIncoming); err != nil {
		tracing.RecordError(ctx, err)
		o.teardown(attempt, hangupAll, err)
		return err
	}
	o.logger.Infow("Call accepted", "call_id", callID)
	return nil
}

// DeclineCall rejects the ringing incoming call without touching media.
func (o *CallOrchestrator) DeclineCall(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != domain.CallPhaseIncomingRinging {
		o.mu.Unlock()
		return domain.ErrNoActiveCall
	}
	attempt := o.attempt
	callID := o.call.ID
	targets := o.targets
	o.mu.Unlock()

	o.sendControl(domain.NewCallDeclined(callID, domain.DeclineReasonRejected, targets))
	o.deps.Metrics.RecordCallDeclined(domain.DeclineReasonRejected)
	o.teardown(attempt, hangupSilent, nil)
	o.logger.Infow("Call declined", "call_id", callID)
	return nil
}

// EndCall hangs up. It is safe to call at any time and any number of times.
func (o *CallOrchestrator) EndCall(ctx context.Context) error {
	o.mu.Lock()
	phase := o.phase
	attempt := o.attempt
	o.mu.Unlock()

	switch {
	case phase.Idle():
		return nil
	case phase == domain.CallPhaseIncomingRinging:
		if err := o.DeclineCall(ctx); errors.Is(err, domain.ErrNoActiveCall) {
			// Accepted or ended concurrently.
			return o.EndCall(ctx)
		}
		return nil
	}
	o.teardown(attempt, hangupAll, nil)
	return nil
}

// Close ends any call and detaches from the control channel.
func (o *CallOrchestrator) Close() error {
	_ = o.EndCall(context.Background())

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if o.controlUnsub != nil {
		o.controlUnsub()
	}
	o.notices.close()
	return nil
}

// ToggleAudio flips the local microphone. Turning it back on during a
// connected call starts transcription if it is not already running.
func (o *CallOrchestrator) ToggleAudio() (bool, error) {
	peer, err := o.currentPeer()
	if err != nil {
		return false, err
	}
	enabled, err := peer.ToggleAudio()
	if err != nil || !enabled {
		return enabled, err
	}

	o.mu.Lock()
	attempt := o.attempt
	var ts *TranscriptionSession
	if o.phase == domain.CallPhaseActive && o.peer == peer {
		ts = o.transcription
	}
	o.mu.Unlock()

	if ts == nil || ts.IsListening() || ts.RestartPending() {
		return enabled, nil
	}
	if err := ts.Start(peer.LocalAudio()); err != nil {
		o.logger.Warnw("Transcription not started after unmute", "error", err)
		return enabled, nil
	}
	if !o.isCurrent(attempt) {
		ts.Stop()
	}
	return enabled, nil
}

func (o *CallOrchestrator) ToggleVideo() (bool, error) {
	peer, err := o.currentPeer()
	if err != nil {
		return false, err
	}
	return peer.ToggleVideo()
}

func (o *CallOrchestrator) Phase() domain.CallPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// CurrentCall returns a copy of the call in progress, or nil.
func (o *CallOrchestrator) CurrentCall() *domain.Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.call == nil {
		return nil
	}
	return o.call.Clone()
}

// Transcript returns the entries received for the current or last call.
func (o *CallOrchestrator) Transcript() []domain.TranscriptEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.TranscriptEntry(nil), o.transcript...)
}

// Listening reports whether local speech is being transcribed.
func (o *CallOrchestrator) Listening() bool {
	o.mu.Lock()
	ts := o.transcription
	o.mu.Unlock()
	return ts != nil && ts.IsListening()
}

// PeerState returns the negotiation state of the current peer session.
func (o *CallOrchestrator) PeerState() domain.PeerState {
	o.mu.Lock()
	peer := o.peer
	o.mu.Unlock()
	if peer == nil {
		return domain.PeerStateIdle
	}
	return peer.State()
}

func (o *CallOrchestrator) currentPeer() (*PeerSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.peer == nil {
		return nil, domain.ErrNoActiveCall
	}
	return o.peer, nil
}

func (o *CallOrchestrator) handleControl(env domain.SignalEnvelope) {
	switch env.Type {
	case domain.SignalIncomingCall:
		o.handleIncomingCall(env)

	case domain.SignalCallAccepted:
		o.mu.Lock()
		if o.matchesLocked(env.CallID) && o.phase == domain.CallPhaseOutgoingRinging {
			o.setPhaseLocked(domain.CallPhaseConnecting)
		}
		o.mu.Unlock()

	case domain.SignalCallDeclined:
		o.mu.Lock()
		matches := o.matchesLocked(env.CallID) && o.direction == domain.DirectionOutgoing
		attempt := o.attempt
		o.mu.Unlock()
		if matches {
			o.logger.Infow("Call declined by remote", "call_id", env.CallID, "reason", env.Reason)
			o.deps.Metrics.RecordCallDeclined(env.Reason)
			o.teardown(attempt, hangupRelay, fmt.Errorf("%w: %s", domain.ErrCallDeclined, env.Reason))
		}

	case domain.SignalCallEnd, domain.SignalCallEnded:
		o.mu.Lock()
		matches := o.matchesLocked(env.CallID)
		attempt := o.attempt
		o.mu.Unlock()
		if matches {
			o.logger.Infow("Call ended by remote", "call_id", env.CallID)
			o.teardown(attempt, hangupSilent, nil)
		}

	default:
		o.logger.Debugw("Ignoring control message", "type", env.Type)
	}
}

func (o *CallOrchestrator) handleIncomingCall(env domain.SignalEnvelope) {
	if env.CallID == "" {
		o.logger.Warnw("Incoming call without call id", "from", env.From)
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if !o.phase.Idle() {
		duplicate := o.call != nil && o.call.ID == env.CallID
		o.mu.Unlock()
		if !duplicate {
			o.logger.Infow("Declining incoming call while busy", "call_id", env.CallID, "from", env.From)
			o.sendControl(domain.NewCallDeclined(env.CallID, domain.DeclineReasonBusy, senderTargets(env)))
			o.deps.Metrics.RecordCallDeclined(domain.DeclineReasonBusy)
		}
		return
	}

	o.beginLocked(domain.DirectionIncoming)
	o.call = &domain.Call{
		ID:        env.CallID,
		CreatedAt: time.Now(),
		Status:    domain.CallStatusActive,
		Participants: []domain.Participant{
			{ID: env.From, Description: env.CallerName},
			o.deps.Self,
		},
	}
	o.targets = senderTargets(env)
	o.setPhaseLocked(domain.CallPhaseIncomingRinging)
	o.notifyLocked(func(obs ports.CallObserver) { obs.OnIncomingCall(env.CallID, env.CallerName, env.From) })
	o.mu.Unlock()

	o.logger.Infow("Incoming call", "call_id", env.CallID, "from", env.From, "caller", env.CallerName)
}

func (o *CallOrchestrator) callMessageHandler(attempt uint64) func(domain.SignalEnvelope) {
	return func(env domain.SignalEnvelope) {
		o.mu.Lock()
		if o.attempt != attempt || o.phase.Idle() {
			o.mu.Unlock()
			return
		}
		peer := o.peer
		o.mu.Unlock()

		switch inner := env.Unwrap(); {
		case inner.IsPeerSignal():
			if inner.Type == domain.SignalAnswer {
				o.markConnecting(attempt)
			}
			if peer == nil {
				return
			}
			if err := peer.ApplySignal(inner); err != nil {
				o.logger.Debugw("Peer signal not applied", "type", inner.Type, "error", err)
			}

		case env.Type == domain.SignalTranscript:
			entry := domain.TranscriptEntry{User: env.UserID, Text: env.Text, Timestamp: env.At(time.Now())}
			o.mu.Lock()
			if o.attempt == attempt {
				o.transcript = append(o.transcript, entry)
				o.notifyLocked(func(obs ports.CallObserver) { obs.OnTranscript(entry) })
			}
			o.mu.Unlock()

		case env.Type == domain.SignalCallEnd || env.Type == domain.SignalCallEnded:
			o.teardown(attempt, hangupSilent, nil)

		case env.Type == domain.SignalError:
			o.logger.Warnw("Relay reported an error", "message", env.Message)

		default:
			o.logger.Debugw("Ignoring call message", "type", env.Type)
		}
	}
}

func (o *CallOrchestrator) peerEventHandler(attempt uint64) func(PeerEvent) {
	return func(ev PeerEvent) {
		switch ev.Kind {
		case PeerEventSignal:
			transport := o.currentTransport(attempt)
			if transport == nil {
				o.logger.Debugw("Dropping peer signal without a channel", "type", ev.Signal.Type)
				return
			}
			if err := transport.Send(domain.WrapSignal(ev.Signal)); err != nil {
				o.logger.Warnw("Failed to send peer signal", "type", ev.Signal.Type, "error", err)
			}

		case PeerEventState:
			if ev.State == domain.PeerStateConnected {
				o.onPeerConnected(attempt)
			}

		case PeerEventReconnecting:
			if o.isCurrent(attempt) {
				o.notify(func(obs ports.CallObserver) { obs.OnReconnecting("media connection interrupted") })
			}

		case PeerEventRemoteTrack:
			if o.deps.RemoteSink != nil && o.isCurrent(attempt) {
				o.deps.RemoteSink.Consume(ev.Track)
			}

		case PeerEventFailed:
			o.mu.Lock()
			started, connected := o.startedAt, !o.connectedAt.IsZero()
			o.mu.Unlock()
			if o.teardown(attempt, hangupAll, ev.Err) && !connected {
				o.deps.Metrics.RecordNegotiation(time.Since(started), false)
			}
		}
	}
}

func (o *CallOrchestrator) onPeerConnected(attempt uint64) {
	o.mu.Lock()
	if o.attempt != attempt || o.phase.Idle() || o.peer == nil {
		o.mu.Unlock()
		return
	}
	o.setPhaseLocked(domain.CallPhaseActive)
	o.connectedAt = time.Now()
	negotiation := o.connectedAt.Sub(o.startedAt)
	peer := o.peer
	direction := o.direction
	ts := o.transcription
	if ts == nil && o.deps.Recognition != nil {
		ts = NewTranscriptionSession(
			o.deps.Recognition(),
			o.transcriptionConfig(direction),
			o.logger.With("call_id", o.call.ID),
			o.segmentHandler(attempt),
			func() { o.deps.Metrics.RecordTranscriptionRestart(direction) },
		)
		o.transcription = ts
	}
	o.mu.Unlock()

	o.deps.Metrics.RecordNegotiation(negotiation, true)
	o.logger.Infow("Call connected", "negotiation_ms", negotiation.Milliseconds())

	if ts == nil {
		return
	}
	if err := ts.Start(peer.LocalAudio()); err != nil {
		o.logger.Warnw("Transcription not started", "error", err)
		return
	}
	// The call may have ended while the engine was starting.
	if !o.isCurrent(attempt) {
		ts.Stop()
	}
}

func (o *CallOrchestrator) segmentHandler(attempt uint64) func(string) {
	return func(text string) {
		transport := o.currentTransport(attempt)
		if transport == nil {
			o.logger.Debugw("Dropping transcript segment without a channel")
			return
		}
		if err := transport.Send(domain.NewSpeechTranscript(text, time.Now())); err != nil {
			o.logger.Warnw("Failed to send transcript segment", "error", err)
			return
		}
		o.deps.Metrics.RecordTranscriptSegment()
	}
}

func (o *CallOrchestrator) transcriptionConfig(direction domain.Direction) TranscriptionConfig {
	if direction == domain.DirectionIncoming {
		return o.cfg.TranscriptionIncoming
	}
	return o.cfg.TranscriptionOutgoing
}

// attachTransportLocked subscribes to the call channel and watches it for
// an unexpected close.
func (o *CallOrchestrator) attachTransportLocked(attempt uint64, transport ports.SignalingTransport) {
	o.transport = transport
	o.unsubscribe = transport.OnMessage(o.callMessageHandler(attempt))
	ctx, cancel := context.WithCancel(context.Background())
	o.cancelWatch = cancel
	go o.watchTransport(ctx, attempt, transport)
}

func (o *CallOrchestrator) watchTransport(ctx context.Context, attempt uint64, transport ports.SignalingTransport) {
	select {
	case <-ctx.Done():
		return
	case <-transport.Done():
	}

	o.mu.Lock()
	if o.attempt != attempt || o.transport != transport || o.phase.Idle() {
		o.mu.Unlock()
		return
	}
	callID := o.call.ID
	unsubscribe := o.unsubscribe
	o.transport = nil
	o.unsubscribe = nil
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	o.logger.Warnw("Signaling channel lost, reconnecting", "call_id", callID)
	o.notify(func(obs ports.CallObserver) { obs.OnReconnecting("signaling connection lost") })

	cfg := o.cfg.Reconnect
	cfg.NonRetryableErrors = append(cfg.NonRetryableErrors, domain.ErrAuth)
	cfg.OnRetry = func(n int, err error, delay time.Duration) {
		o.logger.Debugw("Signaling reconnect failed", "attempt", n, "retry_in", delay, "error", err)
	}
	next, err := retry.RetryWithResult(ctx, cfg, func() (ports.SignalingTransport, error) {
		return o.deps.Dialer.Dial(ctx, callID)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.deps.Metrics.RecordSignalingReconnect(false)
		o.logger.Errorw("Signaling reconnect gave up", "call_id", callID, "error", err)
		o.teardown(attempt, hangupAll, fmt.Errorf("%w: %v", domain.ErrConnect, err))
		return
	}
	o.deps.Metrics.RecordSignalingReconnect(true)

	o.mu.Lock()
	if o.attempt != attempt || o.phase.Idle() {
		o.mu.Unlock()
		_ = next.Close()
		return
	}
	o.transport = next
	o.unsubscribe = next.OnMessage(o.callMessageHandler(attempt))
	o.mu.Unlock()

	o.logger.Infow("Signaling channel restored", "call_id", callID)
	o.watchTransport(ctx, attempt, next)
}

func (o *CallOrchestrator) newPeerLocked(attempt uint64, callID domain.CallID) *PeerSession {
	o.peer = NewPeerSession(callID, o.deps.Media, o.deps.Peers, o.cfg.Peer, o.logger, o.peerEventHandler(attempt))
	o.startedAt = time.Now()
	return o.peer
}

// hangup is who teardown tells that the call is over.
type hangup int

const (
	hangupSilent hangup = iota // the other side already knows
	hangupRelay                // end the call record, peers already left
	hangupAll                  // the relay and every peer
)

// teardown releases everything the given attempt holds, in order:
// transcription, then the peer session, then the call channel. It reports
// whether it did anything.
func (o *CallOrchestrator) teardown(attempt uint64, notify hangup, reason error) bool {
	o.mu.Lock()
	if o.attempt != attempt || o.phase.Idle() {
		o.mu.Unlock()
		return false
	}
	var callID domain.CallID
	if o.call != nil {
		callID = o.call.ID
		o.call.End(time.Now())
	}
	targets := o.targets
	transport, unsubscribe := o.transport, o.unsubscribe
	peer, ts := o.peer, o.transcription
	cancel := o.cancelWatch
	var duration time.Duration
	if !o.connectedAt.IsZero() {
		duration = time.Since(o.connectedAt)
	}
	o.transport, o.unsubscribe, o.cancelWatch = nil, nil, nil
	o.peer, o.transcription = nil, nil
	o.setPhaseLocked(domain.CallPhaseEnded)
	if reason != nil {
		o.notifyLocked(func(obs ports.CallObserver) { obs.OnCallError(reason) })
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if notify != hangupSilent && callID != "" && transport != nil {
		if err := transport.Send(domain.NewCallEnd(callID)); err != nil {
			o.logger.Debugw("Call end not sent on call channel", "error", err)
		}
	}
	if notify == hangupAll && callID != "" {
		end := domain.NewCallEnd(callID)
		end.Targets = targets
		o.sendControl(end)
	}
	if ts != nil {
		ts.Stop()
	}
	if peer != nil {
		peer.End()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if transport != nil {
		_ = transport.Close()
	}

	if duration > 0 {
		o.deps.Metrics.RecordCallEnded(duration)
	}
	if reason != nil {
		o.logger.Warnw("Call ended with error", "call_id", callID, "error", reason)
	} else {
		o.logger.Infow("Call ended", "call_id", callID, "duration", duration)
	}
	return true
}

// beginLocked starts a new attempt and forgets the previous call.
func (o *CallOrchestrator) beginLocked(direction domain.Direction) uint64 {
	o.attempt++
	o.direction = direction
	o.call = nil
	o.targets = nil
	o.transcript = nil
	o.startedAt = time.Time{}
	o.connectedAt = time.Time{}
	return o.attempt
}

func (o *CallOrchestrator) markConnecting(attempt uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt == attempt && o.phase == domain.CallPhaseOutgoingRinging {
		o.setPhaseLocked(domain.CallPhaseConnecting)
	}
}

func (o *CallOrchestrator) matchesLocked(callID domain.CallID) bool {
	return !o.phase.Idle() && o.call != nil && o.call.ID == callID
}

func (o *CallOrchestrator) isCurrent(attempt uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempt == attempt && !o.phase.Idle()
}

func (o *CallOrchestrator) currentTransport(attempt uint64) ports.SignalingTransport {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt != attempt || o.phase.Idle() {
		return nil
	}
	return o.transport
}

func (o *CallOrchestrator) setPhaseLocked(phase domain.CallPhase) {
	if o.phase == phase {
		return
	}
	o.logger.Debugw("Call phase changed", "from", o.phase, "to", phase)
	o.phase = phase
	o.notifyLocked(func(obs ports.CallObserver) { obs.OnPhaseChange(phase) })
}

func (o *CallOrchestrator) notifyLocked(fn func(ports.CallObserver)) {
	o.notices.push(fn)
}

func (o *CallOrchestrator) notify(fn func(ports.CallObserver)) {
	o.notices.push(fn)
}

func (o *CallOrchestrator) sendControl(env domain.SignalEnvelope) {
	if o.deps.Control == nil {
		return
	}
	if err := o.deps.Control.Send(env); err != nil {
		o.logger.Warnw("Failed to send control message", "type", env.Type, "call_id", env.CallID, "error", err)
	}
}

func senderTargets(env domain.SignalEnvelope) []domain.UserID {
	if env.From == "" {
		return nil
	}
	return []domain.UserID{env.From}
}

type noopObserver struct{}

func (noopObserver) OnIncomingCall(domain.CallID, string, domain.UserID) {}
func (noopObserver) OnPhaseChange(domain.CallPhase)                      {}
func (noopObserver) OnTranscript(domain.TranscriptEntry)                 {}
func (noopObserver) OnReconnecting(string)                               {}
func (noopObserver) OnCallError(error)                                   {}

type noopCallMetrics struct{}

func (noopCallMetrics) RecordCallPlaced()                               {}
func (noopCallMetrics) RecordCallAccepted()                             {}
func (noopCallMetrics) RecordCallDeclined(string)                       {}
func (noopCallMetrics) RecordCallEnded(time.Duration)                   {}
func (noopCallMetrics) RecordNegotiation(time.Duration, bool)           {}
func (noopCallMetrics) RecordTranscriptionRestart(domain.Direction)     {}
func (noopCallMetrics) RecordTranscriptSegment()                        {}
func (noopCallMetrics) RecordSignalingReconnect(bool)                   {}
