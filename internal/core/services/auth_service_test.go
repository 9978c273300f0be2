package services

import (
	"context"
	"testing"
	"time"

	"hirecall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuthService_TokenRoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Minute, time.Hour, nil)

	token, err := auth.GenerateToken(alice.ID, "Alice")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.UserID)
	assert.Equal(t, "Alice", claims.Username)
	assert.Equal(t, string(alice.ID), claims.Subject)
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	auth := NewAuthService("secret", time.Minute, time.Hour, nil)

	t.Run("garbage", func(t *testing.T) {
		_, err := auth.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		token, err := NewAuthService("other", time.Minute, time.Hour, nil).GenerateToken(alice.ID, "Alice")
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := NewAuthService("secret", -time.Minute, time.Hour, nil).GenerateToken(alice.ID, "Alice")
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("refresh token used as access token", func(t *testing.T) {
		token, err := auth.GenerateRefreshToken(alice.ID)
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)

		claims, err := auth.ValidateRefreshToken(token)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, claims.UserID)
	})

	t.Run("access token used as refresh token", func(t *testing.T) {
		token, err := auth.GenerateToken(alice.ID, "Alice")
		require.NoError(t, err)
		_, err = auth.ValidateRefreshToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestAuthService_CheckCallPermission(t *testing.T) {
	repo := &MockCallRepository{}
	ended := activeCall("old", alice, bob)
	ended.End(time.Now())
	repo.On("GetByID", mock.Anything, domain.CallID("c1")).Return(activeCall("c1", alice, bob), nil)
	repo.On("GetByID", mock.Anything, domain.CallID("old")).Return(ended, nil)
	repo.On("GetByID", mock.Anything, domain.CallID("nope")).Return(nil, domain.ErrCallNotFound)

	auth := NewAuthService("secret", time.Minute, time.Hour, NewCallService(repo, zap.NewNop().Sugar()))
	ctx := context.Background()

	assert.NoError(t, auth.CheckCallPermission(ctx, bob.ID, "c1"))
	assert.ErrorIs(t, auth.CheckCallPermission(ctx, carol.ID, "c1"), domain.ErrNotParticipant)
	assert.ErrorIs(t, auth.CheckCallPermission(ctx, bob.ID, "old"), domain.ErrCallEnded)
	assert.ErrorIs(t, auth.CheckCallPermission(ctx, bob.ID, "nope"), domain.ErrCallNotFound)

	open := NewAuthService("secret", time.Minute, time.Hour, nil)
	assert.NoError(t, open.CheckCallPermission(ctx, carol.ID, "anything"))
}
