package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"hirecall/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestClient connects to HIRECALL_TEST_REDIS and uses database 15, which
// is flushed before each test.
func newTestClient(t *testing.T) *redis.Client {
	addr := os.Getenv("HIRECALL_TEST_REDIS")
	if addr == "" {
		t.Skip("HIRECALL_TEST_REDIS not set")
	}

	client, err := Connect(context.Background(), Options{Address: addr, DB: 15, PoolSize: 4}, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisCallRepository_Lifecycle(t *testing.T) {
	client := newTestClient(t)
	repo := NewRedisCallRepository(client, time.Hour)
	ctx := context.Background()

	alice := domain.Participant{ID: "alice", Description: "Alice"}
	bob := domain.Participant{ID: "bob", Description: "Bob"}
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first := &domain.Call{ID: "c1", Participants: []domain.Participant{alice, bob}, CreatedAt: base, Status: domain.CallStatusActive}
	second := &domain.Call{ID: "c2", Participants: []domain.Participant{alice}, CreatedAt: base.Add(time.Hour), Status: domain.CallStatusActive}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	assert.Error(t, repo.Create(ctx, first))

	require.NoError(t, repo.AppendTranscript(ctx, "c1", domain.TranscriptEntry{User: "bob", Text: "hi", Timestamp: base}))
	assert.ErrorIs(t, repo.AppendTranscript(ctx, "missing", domain.TranscriptEntry{Text: "x"}), domain.ErrCallNotFound)

	ended, err := repo.End(ctx, "c1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	_, err = repo.End(ctx, "c1", base.Add(2*time.Minute))
	assert.ErrorIs(t, err, domain.ErrCallEnded)

	ttl, err := client.TTL(ctx, "hirecall:call:c1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	calls, err := repo.ListByUser(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, domain.CallID("c2"), calls[0].Call.ID)
	assert.Equal(t, domain.CallID("c1"), calls[1].Call.ID)
	assert.Len(t, calls[1].Transcript, 1)

	bobs, err := repo.ListByUser(ctx, "bob", 10, 0)
	require.NoError(t, err)
	assert.Len(t, bobs, 1)
}

func TestMigrate_RebuildsUserIndex(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "hirecall:call:old",
		`{"id":"old","participants":[{"id":"dave","description":"Dave"}],"created_at":"2024-01-01T00:00:00Z","status":"ended"}`, 0).Err())
	require.NoError(t, setSchemaVersion(ctx, client, 1))

	require.NoError(t, Migrate(ctx, client, zap.NewNop().Sugar()))

	ids, err := client.ZRange(ctx, userCallsKey("dave"), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	version, err := getSchemaVersion(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}
