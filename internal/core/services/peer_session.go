package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type PeerEventKind string

const (
	PeerEventSignal       PeerEventKind = "signal"
	PeerEventState        PeerEventKind = "state"
	PeerEventConnectivity PeerEventKind = "connectivity"
	PeerEventReconnecting PeerEventKind = "reconnecting"
	PeerEventRemoteTrack  PeerEventKind = "remote-track"
	PeerEventFailed       PeerEventKind = "failed"
)

// PeerEvent is everything a peer session reports to its owner.
type PeerEvent struct {
	Kind         PeerEventKind
	Signal       domain.SignalEnvelope
	State        domain.PeerState
	Connectivity domain.Connectivity
	Track        *webrtc.TrackRemote
	Err          error
}

type PeerSessionConfig struct {
	NegotiationTimeout time.Duration
	Constraints        ports.MediaConstraints
}

func DefaultPeerSessionConfig() PeerSessionConfig {
	return PeerSessionConfig{
		NegotiationTimeout: 30 * time.Second,
		Constraints:        ports.MediaConstraints{Audio: true, Video: true},
	}
}

// PeerSession drives one peer connection through the offer/answer exchange.
// Remote candidates that arrive before the remote description are buffered
// and applied in arrival order once it is set.
type PeerSession struct {
	callID  domain.CallID
	cfg     PeerSessionConfig
	media   ports.MediaSource
	factory ports.PeerConnectionFactory
	logger  *zap.SugaredLogger
	events  *eventQueue[PeerEvent]

	mu                   sync.Mutex
	state                domain.PeerState
	connectivity         domain.Connectivity
	direction            domain.Direction
	local                ports.LocalMedia
	pc                   ports.PeerConnection
	remoteTracks         []*webrtc.TrackRemote
	pendingCandidates    []webrtc.ICECandidateInit
	pendingOffer         *webrtc.SessionDescription
	remoteDescriptionSet bool
	negotiationTimer     *time.Timer
	closed               bool
}

func NewPeerSession(
	callID domain.CallID,
	media ports.MediaSource,
	factory ports.PeerConnectionFactory,
	cfg PeerSessionConfig,
	logger *zap.SugaredLogger,
	handler func(PeerEvent),
) *PeerSession {
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultPeerSessionConfig().NegotiationTimeout
	}
	return &PeerSession{
		callID:       callID,
		cfg:          cfg,
		media:        media,
		factory:      factory,
		logger:       logger.With("call_id", callID),
		events:       newEventQueue(handler),
		state:        domain.PeerStateIdle,
		connectivity: domain.ConnectivityNew,
	}
}

// Start acquires local media and, for outgoing calls, emits the offer.
// Incoming sessions wait for the offer, or answer one that arrived early.
func (s *PeerSession) Start(ctx context.Context, direction domain.Direction) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionEnded
	}
	if s.state != domain.PeerStateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", domain.ErrInvalidState, s.state)
	}
	s.direction = direction
	s.setStateLocked(domain.PeerStateGatheringMedia)
	s.mu.Unlock()

	local, err := s.media.Acquire(ctx, s.cfg.Constraints)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrMediaAccess, err)
		s.failLocked(err)
		return err
	}
	if s.closed {
		local.Stop()
		return domain.ErrSessionEnded
	}

	pc, err := s.factory.NewPeerConnection()
	if err != nil {
		local.Stop()
		err = fmt.Errorf("%w: create peer connection: %v", domain.ErrNegotiation, err)
		s.failLocked(err)
		return err
	}
	s.pc = pc
	s.local = local

	for _, track := range local.Tracks() {
		if _, err := pc.AddTrack(track.Local()); err != nil {
			err = fmt.Errorf("%w: add %s track: %v", domain.ErrNegotiation, track.Kind(), err)
			s.failLocked(err)
			return err
		}
	}

	pc.OnICECandidate(s.handleICECandidate)
	pc.OnConnectionStateChange(s.handleConnectionState)
	pc.OnTrack(s.handleTrack)
	s.negotiationTimer = time.AfterFunc(s.cfg.NegotiationTimeout, s.handleNegotiationTimeout)

	if direction == domain.DirectionOutgoing {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return s.negotiationFailedLocked("create offer", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			return s.negotiationFailedLocked("set local offer", err)
		}
		s.setStateLocked(domain.PeerStateOffering)
		s.emitLocked(domain.NewOffer(offer))
		s.logger.Infow("Offer sent")
		return nil
	}

	s.setStateLocked(domain.PeerStateAwaitingOffer)
	if s.pendingOffer != nil {
		offer := *s.pendingOffer
		s.pendingOffer = nil
		s.logger.Debugw("Processing offer received before media was ready")
		return s.applyOfferLocked(offer)
	}
	return nil
}

// ApplySignal applies one inbound peer signal. Candidate failures are logged
// and absorbed; offer/answer failures fail the session.
func (s *PeerSession) ApplySignal(env domain.SignalEnvelope) error {
	env = env.Unwrap()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state.Terminal() {
		s.logger.Debugw("Dropping signal for finished session", "type", env.Type)
		return domain.ErrSessionEnded
	}

	switch env.Type {
	case domain.SignalOffer:
		if env.SDP == nil {
			return fmt.Errorf("%w: offer without sdp", domain.ErrInvalidEnvelope)
		}
		if s.pc == nil {
			offer := *env.SDP
			s.pendingOffer = &offer
			s.logger.Debugw("Offer buffered until local media is ready")
			return nil
		}
		return s.applyOfferLocked(*env.SDP)

	case domain.SignalAnswer:
		if env.SDP == nil {
			return fmt.Errorf("%w: answer without sdp", domain.ErrInvalidEnvelope)
		}
		if s.state != domain.PeerStateOffering {
			s.logger.Warnw("Ignoring unexpected answer", "state", s.state)
			return nil
		}
		if err := s.pc.SetRemoteDescription(*env.SDP); err != nil {
			return s.negotiationFailedLocked("set remote answer", err)
		}
		s.remoteDescriptionSet = true
		s.flushCandidatesLocked()
		s.setStateLocked(domain.PeerStateNegotiating)
		return nil

	case domain.SignalICECandidate:
		if env.Candidate == nil {
			return fmt.Errorf("%w: ice-candidate without candidate", domain.ErrInvalidEnvelope)
		}
		if !s.remoteDescriptionSet {
			s.pendingCandidates = append(s.pendingCandidates, *env.Candidate)
			return nil
		}
		if err := s.pc.AddICECandidate(*env.Candidate); err != nil {
			s.logger.Warnw("Failed to add ICE candidate", "error", err)
		}
		return nil

	default:
		s.logger.Debugw("Ignoring signal", "type", env.Type)
		return nil
	}
}

func (s *PeerSession) applyOfferLocked(offer webrtc.SessionDescription) error {
	if s.direction == domain.DirectionOutgoing {
		s.logger.Warnw("Ignoring offer on outgoing session")
		return nil
	}
	if s.remoteDescriptionSet {
		s.logger.Warnw("Ignoring renegotiation offer")
		return nil
	}

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return s.negotiationFailedLocked("set remote offer", err)
	}
	s.remoteDescriptionSet = true
	s.flushCandidatesLocked()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return s.negotiationFailedLocked("create answer", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return s.negotiationFailedLocked("set local answer", err)
	}

	s.setStateLocked(domain.PeerStateNegotiating)
	s.emitLocked(domain.NewAnswer(answer))
	s.logger.Infow("Answer sent")
	return nil
}

func (s *PeerSession) flushCandidatesLocked() {
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.logger.Warnw("Failed to add buffered ICE candidate", "error", err)
		}
	}
	if len(pending) > 0 {
		s.logger.Debugw("Flushed buffered ICE candidates", "count", len(pending))
	}
}

func (s *PeerSession) handleICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emitLocked(domain.NewICECandidate(c.ToJSON()))
}

func (s *PeerSession) handleConnectionState(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	conn := toConnectivity(state)
	if conn == s.connectivity {
		return
	}
	s.connectivity = conn
	s.events.push(PeerEvent{Kind: PeerEventConnectivity, Connectivity: conn})
	s.logger.Infow("Peer connection state changed", "state", state.String())

	switch conn {
	case domain.ConnectivityConnected:
		s.stopTimerLocked()
		if !s.state.Terminal() {
			s.setStateLocked(domain.PeerStateConnected)
		}
	case domain.ConnectivityDisconnected:
		s.events.push(PeerEvent{Kind: PeerEventReconnecting})
	case domain.ConnectivityFailed:
		s.failLocked(domain.ErrConnectionFailed)
	}
}

func (s *PeerSession) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.remoteTracks = append(s.remoteTracks, track)
	pc := s.pc
	s.events.push(PeerEvent{Kind: PeerEventRemoteTrack, Track: track})
	s.mu.Unlock()

	s.logger.Infow("Remote track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)

	// Ask for a keyframe so video renders without waiting for the next one.
	if track.Kind() == webrtc.RTPCodecTypeVideo && pc != nil {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := pc.WriteRTCP(pli); err != nil {
			s.logger.Debugw("Failed to send PLI", "error", err)
		}
	}
}

func (s *PeerSession) handleNegotiationTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state.Terminal() || s.state == domain.PeerStateConnected {
		return
	}
	s.logger.Warnw("Negotiation timed out", "timeout", s.cfg.NegotiationTimeout, "state", s.state)
	s.failLocked(domain.ErrNegotiationTimeout)
}

// ToggleAudio flips the local audio track and returns whether it is now enabled.
func (s *PeerSession) ToggleAudio() (bool, error) {
	return s.toggle(func(m ports.LocalMedia) ports.MediaTrack { return m.Audio() })
}

// ToggleVideo flips the local video track and returns whether it is now enabled.
func (s *PeerSession) ToggleVideo() (bool, error) {
	return s.toggle(func(m ports.LocalMedia) ports.MediaTrack { return m.Video() })
}

func (s *PeerSession) toggle(pick func(ports.LocalMedia) ports.MediaTrack) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == nil {
		return false, fmt.Errorf("%w: no local media", domain.ErrInvalidState)
	}
	track := pick(s.local)
	if track == nil {
		return false, fmt.Errorf("%w: track not captured", domain.ErrInvalidState)
	}
	track.SetEnabled(!track.Enabled())
	return track.Enabled(), nil
}

// End releases the tracks and the peer connection. Safe to call repeatedly.
func (s *PeerSession) End() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()

	pc, local := s.pc, s.local
	s.pc, s.local = nil, nil
	s.pendingCandidates = nil
	s.pendingOffer = nil
	s.remoteDescriptionSet = false
	s.remoteTracks = nil
	s.connectivity = domain.ConnectivityClosed
	if s.state != domain.PeerStateFailed {
		s.setStateLocked(domain.PeerStateEnded)
	}
	s.mu.Unlock()

	if local != nil {
		local.Stop()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.logger.Warnw("Failed to close peer connection", "error", err)
		}
	}
	s.events.close()
	s.logger.Infow("Peer session ended")
}

func (s *PeerSession) State() domain.PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *PeerSession) Connectivity() domain.Connectivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectivity
}

// Connected reports whether the underlying connection is connected right now.
func (s *PeerSession) Connected() bool {
	return s.Connectivity() == domain.ConnectivityConnected
}

func (s *PeerSession) Direction() domain.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

// LocalAudio returns the captured audio track, or nil before capture.
func (s *PeerSession) LocalAudio() ports.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == nil {
		return nil
	}
	return s.local.Audio()
}

// BufferedCandidates returns a copy of the candidates waiting for a remote description.
func (s *PeerSession) BufferedCandidates() []webrtc.ICECandidateInit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), s.pendingCandidates...)
}

func (s *PeerSession) RemoteDescriptionSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteDescriptionSet
}

func (s *PeerSession) RemoteTracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), s.remoteTracks...)
}

func (s *PeerSession) negotiationFailedLocked(step string, err error) error {
	err = fmt.Errorf("%w: %s: %v", domain.ErrNegotiation, step, err)
	s.failLocked(err)
	return err
}

func (s *PeerSession) failLocked(err error) {
	if s.state.Terminal() {
		return
	}
	s.stopTimerLocked()
	s.logger.Errorw("Peer session failed", "error", err, "state", s.state)
	s.setStateLocked(domain.PeerStateFailed)
	s.events.push(PeerEvent{Kind: PeerEventFailed, Err: err})
}

func (s *PeerSession) setStateLocked(state domain.PeerState) {
	if s.state == state {
		return
	}
	s.state = state
	s.events.push(PeerEvent{Kind: PeerEventState, State: state})
}

func (s *PeerSession) emitLocked(env domain.SignalEnvelope) {
	s.events.push(PeerEvent{Kind: PeerEventSignal, Signal: env})
}

func (s *PeerSession) stopTimerLocked() {
	if s.negotiationTimer != nil {
		s.negotiationTimer.Stop()
		s.negotiationTimer = nil
	}
}

func toConnectivity(state webrtc.PeerConnectionState) domain.Connectivity {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectivityConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectivityConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectivityDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectivityFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectivityClosed
	default:
		return domain.ConnectivityNew
	}
}
