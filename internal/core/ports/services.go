package ports

import (
	"context"
	"time"

	"hirecall/internal/core/domain"
)

// CallAPI is the client view of the call REST endpoints.
type CallAPI interface {
	CreateCall(ctx context.Context, participants []domain.Participant) (*domain.Call, error)
	ListCallHistory(ctx context.Context, limit, offset int) ([]domain.CallWithTranscript, error)
}

type CallHistoryService interface {
	ListCalls(ctx context.Context, limit, offset int) ([]domain.CallWithTranscript, error)
}

// CallService owns call records on the relay.
type CallService interface {
	CreateCall(ctx context.Context, caller domain.Participant, participants []domain.Participant) (*domain.Call, error)
	GetCall(ctx context.Context, id domain.CallID) (*domain.Call, error)
	EndCall(ctx context.Context, id domain.CallID) (*domain.Call, error)
	AddTranscript(ctx context.Context, id domain.CallID, entry domain.TranscriptEntry) error
	History(ctx context.Context, user domain.UserID, limit, offset int) ([]domain.CallWithTranscript, error)
}

// CallObserver receives user-visible call events.
type CallObserver interface {
	OnIncomingCall(callID domain.CallID, callerName string, from domain.UserID)
	OnPhaseChange(phase domain.CallPhase)
	OnTranscript(entry domain.TranscriptEntry)
	OnReconnecting(reason string)
	OnCallError(err error)
}

type CallMetrics interface {
	RecordCallPlaced()
	RecordCallAccepted()
	RecordCallDeclined(reason string)
	RecordCallEnded(duration time.Duration)
	RecordNegotiation(duration time.Duration, success bool)
	RecordTranscriptionRestart(direction domain.Direction)
	RecordTranscriptSegment()
	RecordSignalingReconnect(success bool)
}

type RelayMetrics interface {
	RecordConnectionOpened(channel string)
	RecordConnectionClosed(channel string)
	RecordMessageRelayed(msgType domain.SignalType)
	RecordMessageDropped(reason string)
}
