package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"
	"hirecall/pkg/cache"
	"hirecall/pkg/utils"
	"hirecall/pkg/validation"

	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 50
	previewLength       = 80
)

// CallHistoryService lists past calls with their transcripts.
type CallHistoryService struct {
	api          ports.CallAPI
	defaultLimit int
	logger       *zap.SugaredLogger
}

func NewCallHistoryService(api ports.CallAPI, defaultLimit int, logger *zap.SugaredLogger) *CallHistoryService {
	if defaultLimit <= 0 {
		defaultLimit = DefaultHistoryLimit
	}
	return &CallHistoryService{api: api, defaultLimit: defaultLimit, logger: logger}
}

// ListCalls returns one page of history, newest first. A zero limit means
// the default page size.
func (s *CallHistoryService) ListCalls(ctx context.Context, limit, offset int) ([]domain.CallWithTranscript, error) {
	if limit == 0 {
		limit = s.defaultLimit
	}
	if err := validation.ValidatePagination(limit, offset); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}

	calls, err := s.api.ListCallHistory(ctx, limit, offset)
	if err != nil {
		s.logger.Warnw("Failed to load call history", "limit", limit, "offset", offset, "error", err)
		return nil, err
	}
	return calls, nil
}

// CachedCallHistoryService keeps recently fetched pages for a short time.
type CachedCallHistoryService struct {
	next   ports.CallHistoryService
	cache  *cache.Cache[[]domain.CallWithTranscript]
	logger *zap.SugaredLogger
}

func NewCachedCallHistoryService(next ports.CallHistoryService, ttl time.Duration, logger *zap.SugaredLogger) *CachedCallHistoryService {
	return &CachedCallHistoryService{
		next:   next,
		cache:  cache.New[[]domain.CallWithTranscript](ttl),
		logger: logger,
	}
}

func (s *CachedCallHistoryService) ListCalls(ctx context.Context, limit, offset int) ([]domain.CallWithTranscript, error) {
	key := fmt.Sprintf("history:%d:%d", limit, offset)
	return s.cache.Get(ctx, key, func(ctx context.Context) ([]domain.CallWithTranscript, error) {
		s.logger.Debugw("Call history cache miss", "limit", limit, "offset", offset)
		return s.next.ListCalls(ctx, limit, offset)
	})
}

// Invalidate drops every cached page. Call it once a call has ended.
func (s *CachedCallHistoryService) Invalidate() {
	s.cache.Invalidate("history:")
}

func (s *CachedCallHistoryService) Stop() {
	s.cache.Stop()
}

// CallSummary is the one-line view of a past call.
type CallSummary struct {
	CallID     domain.CallID
	Peers      []domain.Participant
	StartedAt  time.Time
	Duration   time.Duration
	Status     domain.CallStatus
	EntryCount int
	Preview    string
}

// Summarize condenses a call for listing from self's point of view. Duration
// is zero for calls that have not ended.
func Summarize(c domain.CallWithTranscript, self domain.UserID) CallSummary {
	summary := CallSummary{
		CallID:     c.Call.ID,
		Peers:      c.Call.Peers(self),
		StartedAt:  c.Call.CreatedAt,
		Status:     c.Call.Status,
		EntryCount: len(c.Transcript),
	}
	if c.Call.EndedAt != nil && c.Call.EndedAt.After(c.Call.CreatedAt) {
		summary.Duration = c.Call.EndedAt.Sub(c.Call.CreatedAt)
	}
	if len(c.Transcript) > 0 {
		summary.Preview = utils.TruncateString(c.Transcript[0].Text, previewLength)
	}
	return summary
}

// PeerNames joins the peers' display names, falling back to their ids.
func (s CallSummary) PeerNames() string {
	names := make([]string, 0, len(s.Peers))
	for _, p := range s.Peers {
		if p.Description != "" {
			names = append(names, p.Description)
		} else {
			names = append(names, string(p.ID))
		}
	}
	return strings.Join(names, ", ")
}
