package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"
)

type MemoryCallRepository struct {
	calls       map[domain.CallID]*domain.Call
	transcripts map[domain.CallID][]domain.TranscriptEntry
	mu          sync.RWMutex
}

func NewMemoryCallRepository() ports.CallRepository {
	return &MemoryCallRepository{
		calls:       make(map[domain.CallID]*domain.Call),
		transcripts: make(map[domain.CallID][]domain.TranscriptEntry),
	}
}

func (r *MemoryCallRepository) Create(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[call.ID]; exists {
		return fmt.Errorf("call already exists: %s", call.ID)
	}

	r.calls[call.ID] = call.Clone()
	return nil
}

func (r *MemoryCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}

	return call.Clone(), nil
}

func (r *MemoryCallRepository) End(ctx context.Context, id domain.CallID, at time.Time) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}
	if !call.End(at) {
		return nil, domain.ErrCallEnded
	}

	return call.Clone(), nil
}

func (r *MemoryCallRepository) AppendTranscript(ctx context.Context, id domain.CallID, entry domain.TranscriptEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[id]; !exists {
		return domain.ErrCallNotFound
	}

	r.transcripts[id] = append(r.transcripts[id], entry)
	return nil
}

func (r *MemoryCallRepository) Transcript(ctx context.Context, id domain.CallID) ([]domain.TranscriptEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.calls[id]; !exists {
		return nil, domain.ErrCallNotFound
	}

	return append([]domain.TranscriptEntry{}, r.transcripts[id]...), nil
}

func (r *MemoryCallRepository) ListByUser(ctx context.Context, user domain.UserID, limit, offset int) ([]domain.CallWithTranscript, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var calls []*domain.Call
	for _, call := range r.calls {
		if call.HasParticipant(user) {
			calls = append(calls, call)
		}
	}

	sort.Slice(calls, func(i, j int) bool {
		if calls[i].CreatedAt.Equal(calls[j].CreatedAt) {
			return calls[i].ID > calls[j].ID
		}
		return calls[i].CreatedAt.After(calls[j].CreatedAt)
	})

	if offset >= len(calls) {
		return []domain.CallWithTranscript{}, nil
	}
	calls = calls[offset:]
	if limit > 0 && limit < len(calls) {
		calls = calls[:limit]
	}

	result := make([]domain.CallWithTranscript, 0, len(calls))
	for _, call := range calls {
		result = append(result, domain.CallWithTranscript{
			Call:       *call.Clone(),
			Transcript: append([]domain.TranscriptEntry{}, r.transcripts[call.ID]...),
		})
	}
	return result, nil
}
