package domain

import "errors"

var (
	ErrAuth                     = errors.New("authentication token missing")
	ErrConnect                  = errors.New("signaling connect failed")
	ErrChannelNotOpen           = errors.New("signaling channel not open")
	ErrMediaAccess              = errors.New("media access denied")
	ErrNegotiation              = errors.New("negotiation failed")
	ErrNegotiationTimeout       = errors.New("negotiation timed out")
	ErrConnectionFailed         = errors.New("peer connection failed")
	ErrSessionEnded             = errors.New("session ended")
	ErrInvalidState             = errors.New("invalid state")
	ErrCallInProgress           = errors.New("call already in progress")
	ErrNoActiveCall             = errors.New("no active call")
	ErrNoAudioSource            = errors.New("no audio source")
	ErrTranscriptionUnavailable = errors.New("speech recognition unavailable")
	ErrCallNotFound             = errors.New("call not found")
	ErrCallEnded                = errors.New("call already ended")
	ErrNotParticipant           = errors.New("user is not a call participant")
	ErrInvalidEnvelope          = errors.New("invalid signal envelope")
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrCallDeclined             = errors.New("call declined")
)
