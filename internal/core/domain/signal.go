package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
)

type SignalType string

const (
	SignalOffer            SignalType = "offer"
	SignalAnswer           SignalType = "answer"
	SignalICECandidate     SignalType = "ice-candidate"
	SignalCallEnd          SignalType = "call-end"
	SignalSpeechTranscript SignalType = "speech-transcript"
	SignalWebRTC           SignalType = "webrtc-signal"
	SignalIncomingCall     SignalType = "incoming-video-call"
	SignalCallAccepted     SignalType = "call-accepted"
	SignalCallDeclined     SignalType = "call-declined"

	// Sent by the relay only.
	SignalTranscript SignalType = "transcript"
	SignalCallEnded  SignalType = "call-ended"
	SignalError      SignalType = "error"
)

const (
	DeclineReasonBusy     = "busy"
	DeclineReasonRejected = "declined"
	DeclineReasonOffline  = "offline"
)

// SignalEnvelope is the JSON message exchanged over signaling channels.
// Type selects which of the remaining fields are meaningful.
type SignalEnvelope struct {
	Type SignalType `json:"type"`

	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Signal    *SignalEnvelope            `json:"signal,omitempty"`

	Text      string     `json:"text,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	UserID    UserID     `json:"user_id,omitempty"`

	CallID     CallID `json:"callId,omitempty"`
	CallerName string `json:"callerName,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`

	// Control channel routing. From is stamped by the relay.
	From    UserID   `json:"from,omitempty"`
	Targets []UserID `json:"targets,omitempty"`
}

// UnmarshalJSON accepts sdp either as a {type, sdp} object or as a bare
// string, in which case the description type is taken from the envelope.
func (e *SignalEnvelope) UnmarshalJSON(data []byte) error {
	type plain SignalEnvelope
	var raw struct {
		plain
		SDP json.RawMessage `json:"sdp,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = SignalEnvelope(raw.plain)
	e.SDP = nil

	if len(raw.SDP) == 0 || string(raw.SDP) == "null" {
		return nil
	}

	if raw.SDP[0] == '"' {
		var sdp string
		if err := json.Unmarshal(raw.SDP, &sdp); err != nil {
			return err
		}
		desc := webrtc.SessionDescription{SDP: sdp}
		switch e.Type {
		case SignalOffer:
			desc.Type = webrtc.SDPTypeOffer
		case SignalAnswer:
			desc.Type = webrtc.SDPTypeAnswer
		}
		e.SDP = &desc
		return nil
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw.SDP, &desc); err != nil {
		return fmt.Errorf("decode sdp: %w", err)
	}
	e.SDP = &desc
	return nil
}

// Validate checks that the fields required by the envelope type are present.
// Unknown types are left to the consumer.
func (e *SignalEnvelope) Validate() error {
	switch e.Type {
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	case SignalOffer, SignalAnswer:
		if e.SDP == nil || e.SDP.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrInvalidEnvelope, e.Type)
		}
	case SignalICECandidate:
		if e.Candidate == nil {
			return fmt.Errorf("%w: ice-candidate without candidate", ErrInvalidEnvelope)
		}
	case SignalWebRTC:
		if e.Signal == nil {
			return fmt.Errorf("%w: webrtc-signal without signal", ErrInvalidEnvelope)
		}
		switch e.Signal.Type {
		case SignalOffer, SignalAnswer, SignalICECandidate:
		default:
			return fmt.Errorf("%w: webrtc-signal carries %q", ErrInvalidEnvelope, e.Signal.Type)
		}
		return e.Signal.Validate()
	case SignalSpeechTranscript, SignalTranscript:
		if e.Text == "" {
			return fmt.Errorf("%w: %s without text", ErrInvalidEnvelope, e.Type)
		}
	case SignalIncomingCall, SignalCallAccepted, SignalCallDeclined:
		if e.CallID == "" {
			return fmt.Errorf("%w: %s without callId", ErrInvalidEnvelope, e.Type)
		}
	}
	return nil
}

// Unwrap returns the inner peer signal of a webrtc-signal envelope, or the
// envelope itself.
func (e SignalEnvelope) Unwrap() SignalEnvelope {
	if e.Type == SignalWebRTC && e.Signal != nil {
		return *e.Signal
	}
	return e
}

// IsPeerSignal reports whether the envelope belongs to the offer/answer exchange.
func (e SignalEnvelope) IsPeerSignal() bool {
	switch e.Type {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// At returns the envelope timestamp or fallback when none was sent.
func (e SignalEnvelope) At(fallback time.Time) time.Time {
	if e.Timestamp == nil || e.Timestamp.IsZero() {
		return fallback
	}
	return *e.Timestamp
}

func NewOffer(sdp webrtc.SessionDescription) SignalEnvelope {
	return SignalEnvelope{Type: SignalOffer, SDP: &sdp}
}

func NewAnswer(sdp webrtc.SessionDescription) SignalEnvelope {
	return SignalEnvelope{Type: SignalAnswer, SDP: &sdp}
}

func NewICECandidate(c webrtc.ICECandidateInit) SignalEnvelope {
	return SignalEnvelope{Type: SignalICECandidate, Candidate: &c}
}

// WrapSignal wraps a peer signal for channels that carry other traffic too.
func WrapSignal(inner SignalEnvelope) SignalEnvelope {
	return SignalEnvelope{Type: SignalWebRTC, Signal: &inner}
}

func NewCallEnd(callID CallID) SignalEnvelope {
	return SignalEnvelope{Type: SignalCallEnd, CallID: callID}
}

func NewCallEnded(callID CallID) SignalEnvelope {
	return SignalEnvelope{Type: SignalCallEnded, CallID: callID}
}

func NewSpeechTranscript(text string, at time.Time) SignalEnvelope {
	return SignalEnvelope{Type: SignalSpeechTranscript, Text: text, Timestamp: &at}
}

func NewTranscript(entry TranscriptEntry) SignalEnvelope {
	at := entry.Timestamp
	return SignalEnvelope{Type: SignalTranscript, UserID: entry.User, Text: entry.Text, Timestamp: &at}
}

func NewIncomingCall(callID CallID, callerName string, targets []UserID) SignalEnvelope {
	return SignalEnvelope{Type: SignalIncomingCall, CallID: callID, CallerName: callerName, Targets: targets}
}

func NewCallAccepted(callID CallID, targets []UserID) SignalEnvelope {
	return SignalEnvelope{Type: SignalCallAccepted, CallID: callID, Targets: targets}
}

func NewCallDeclined(callID CallID, reason string, targets []UserID) SignalEnvelope {
	return SignalEnvelope{Type: SignalCallDeclined, CallID: callID, Reason: reason, Targets: targets}
}

func NewErrorEnvelope(message string) SignalEnvelope {
	return SignalEnvelope{Type: SignalError, Message: message}
}
