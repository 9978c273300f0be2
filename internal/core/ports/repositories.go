package ports

import (
	"context"
	"time"

	"hirecall/internal/core/domain"
)

type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error)
	End(ctx context.Context, id domain.CallID, at time.Time) (*domain.Call, error)
	AppendTranscript(ctx context.Context, id domain.CallID, entry domain.TranscriptEntry) error
	Transcript(ctx context.Context, id domain.CallID) ([]domain.TranscriptEntry, error)
	// ListByUser returns the user's calls, newest first.
	ListByUser(ctx context.Context, user domain.UserID, limit, offset int) ([]domain.CallWithTranscript, error)
}
