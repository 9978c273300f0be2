package repositories

import (
	"context"
	"errors"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"
	"hirecall/pkg/tracing"
)

// tracedCallRepository opens a span around every store operation.
type tracedCallRepository struct {
	next    ports.CallRepository
	backend string
}

// WithTracing wraps repo so each operation is traced under backend.
func WithTracing(repo ports.CallRepository, backend string) ports.CallRepository {
	return &tracedCallRepository{next: repo, backend: backend}
}

func (r *tracedCallRepository) trace(ctx context.Context, op string, callID domain.CallID) (context.Context, func(error)) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, op, r.backend)
	if callID != "" {
		span.SetAttributes(tracing.CallIDKey.String(string(callID)))
	}
	start := time.Now()
	return ctx, func(err error) {
		tracing.MeasureDuration(ctx, start)
		// Lookups of unknown or ended calls are expected outcomes.
		if err != nil && !errors.Is(err, domain.ErrCallNotFound) && !errors.Is(err, domain.ErrCallEnded) {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}
}

func (r *tracedCallRepository) Create(ctx context.Context, call *domain.Call) (err error) {
	ctx, done := r.trace(ctx, "create", call.ID)
	defer func() { done(err) }()
	return r.next.Create(ctx, call)
}

func (r *tracedCallRepository) GetByID(ctx context.Context, id domain.CallID) (call *domain.Call, err error) {
	ctx, done := r.trace(ctx, "get", id)
	defer func() { done(err) }()
	return r.next.GetByID(ctx, id)
}

func (r *tracedCallRepository) End(ctx context.Context, id domain.CallID, at time.Time) (call *domain.Call, err error) {
	ctx, done := r.trace(ctx, "end", id)
	defer func() { done(err) }()
	return r.next.End(ctx, id, at)
}

func (r *tracedCallRepository) AppendTranscript(ctx context.Context, id domain.CallID, entry domain.TranscriptEntry) (err error) {
	ctx, done := r.trace(ctx, "append_transcript", id)
	defer func() { done(err) }()
	return r.next.AppendTranscript(ctx, id, entry)
}

func (r *tracedCallRepository) Transcript(ctx context.Context, id domain.CallID) (entries []domain.TranscriptEntry, err error) {
	ctx, done := r.trace(ctx, "transcript", id)
	defer func() { done(err) }()
	return r.next.Transcript(ctx, id)
}

func (r *tracedCallRepository) ListByUser(ctx context.Context, user domain.UserID, limit, offset int) (calls []domain.CallWithTranscript, err error) {
	ctx, done := r.trace(ctx, "list_by_user", "")
	tracing.AddSpanAttributes(ctx, tracing.UserIDKey.String(string(user)))
	defer func() { done(err) }()
	return r.next.ListByUser(ctx, user, limit, offset)
}
