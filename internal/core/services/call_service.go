package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"
	"hirecall/pkg/utils"
	"hirecall/pkg/validation"

	"go.uber.org/zap"
)

type callService struct {
	repo   ports.CallRepository
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewCallService(repo ports.CallRepository, logger *zap.SugaredLogger) ports.CallService {
	return &callService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// CreateCall records a new active call. The caller is always the first
// participant and duplicates are dropped.
func (s *callService) CreateCall(ctx context.Context, caller domain.Participant, participants []domain.Participant) (*domain.Call, error) {
	if err := validation.ValidateUserID(string(caller.ID)); err != nil {
		return nil, invalid(err)
	}

	members := []domain.Participant{caller}
	ids := make([]string, 0, len(participants))
	seen := map[domain.UserID]bool{caller.ID: true}
	for _, p := range participants {
		if err := validation.ValidateUserID(string(p.ID)); err != nil {
			return nil, invalid(err)
		}
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		ids = append(ids, string(p.ID))
		members = append(members, p)
	}
	if err := validation.ValidateParticipants(ids); err != nil {
		return nil, invalid(err)
	}

	call := &domain.Call{
		ID:           domain.CallID(utils.GenerateCallID()),
		Participants: members,
		CreatedAt:    s.now(),
		Status:       domain.CallStatusActive,
	}
	if err := s.repo.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("failed to create call: %w", err)
	}

	s.logger.Infow("Call created",
		"call_id", call.ID,
		"caller", caller.ID,
		"participants", len(members),
	)
	return call, nil
}

func (s *callService) GetCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	return s.repo.GetByID(ctx, id)
}

// EndCall is idempotent: ending an ended call returns it unchanged.
func (s *callService) EndCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	call, err := s.repo.End(ctx, id, s.now())
	if errors.Is(err, domain.ErrCallEnded) {
		return s.repo.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Infow("Call ended", "call_id", id)
	return call, nil
}

func (s *callService) AddTranscript(ctx context.Context, id domain.CallID, entry domain.TranscriptEntry) error {
	entry.Text = utils.SanitizeString(entry.Text)
	if err := validation.ValidateTranscriptText(entry.Text); err != nil {
		return invalid(err)
	}

	call, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !call.HasParticipant(entry.User) {
		return domain.ErrNotParticipant
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	return s.repo.AppendTranscript(ctx, id, entry)
}

func (s *callService) History(ctx context.Context, user domain.UserID, limit, offset int) ([]domain.CallWithTranscript, error) {
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if err := validation.ValidatePagination(limit, offset); err != nil {
		return nil, invalid(err)
	}
	return s.repo.ListByUser(ctx, user, limit, offset)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
}
