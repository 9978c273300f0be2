package domain

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// PeerState is the negotiation state of one peer session.
type PeerState string

const (
	PeerStateIdle           PeerState = "idle"
	PeerStateGatheringMedia PeerState = "gathering-media"
	PeerStateOffering       PeerState = "offering"
	PeerStateAwaitingOffer  PeerState = "awaiting-offer"
	PeerStateNegotiating    PeerState = "negotiating"
	PeerStateConnected      PeerState = "connected"
	PeerStateEnded          PeerState = "ended"
	PeerStateFailed         PeerState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s PeerState) Terminal() bool {
	return s == PeerStateEnded || s == PeerStateFailed
}

// Connectivity mirrors the peer connection state.
type Connectivity string

const (
	ConnectivityNew          Connectivity = "new"
	ConnectivityConnecting   Connectivity = "connecting"
	ConnectivityConnected    Connectivity = "connected"
	ConnectivityDisconnected Connectivity = "disconnected"
	ConnectivityFailed       Connectivity = "failed"
	ConnectivityClosed       Connectivity = "closed"
)

type CallPhase string

const (
	CallPhaseNone            CallPhase = "none"
	CallPhaseOutgoingRinging CallPhase = "outgoing-ringing"
	CallPhaseIncomingRinging CallPhase = "incoming-ringing"
	CallPhaseConnecting      CallPhase = "connecting"
	CallPhaseActive          CallPhase = "active"
	CallPhaseEnded           CallPhase = "ended"
)

// Idle reports whether a new call may be placed or received.
func (p CallPhase) Idle() bool {
	return p == CallPhaseNone || p == CallPhaseEnded
}

type ChannelState string

const (
	ChannelConnecting ChannelState = "connecting"
	ChannelOpen       ChannelState = "open"
	ChannelClosed     ChannelState = "closed"
)
