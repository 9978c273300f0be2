package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "hirecall:"

// RedisCallRepository stores each call as JSON, its transcript as a list and
// a per-user sorted set scored by creation time.
type RedisCallRepository struct {
	client   *redis.Client
	prefix   string
	endedTTL time.Duration
}

// NewRedisCallRepository returns a repository whose ended calls expire after
// endedTTL. Zero keeps them forever.
func NewRedisCallRepository(client *redis.Client, endedTTL time.Duration) ports.CallRepository {
	return &RedisCallRepository{
		client:   client,
		prefix:   keyPrefix + "call:",
		endedTTL: endedTTL,
	}
}

func (r *RedisCallRepository) callKey(id domain.CallID) string {
	return r.prefix + string(id)
}

func (r *RedisCallRepository) transcriptKey(id domain.CallID) string {
	return r.prefix + string(id) + ":transcript"
}

func userCallsKey(user domain.UserID) string {
	return fmt.Sprintf("%suser:%s:calls", keyPrefix, user)
}

func (r *RedisCallRepository) Create(ctx context.Context, call *domain.Call) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.callKey(call.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set call in Redis: %w", err)
	}
	if !created {
		return fmt.Errorf("call already exists: %s", call.ID)
	}

	score := float64(call.CreatedAt.UnixNano())
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range call.Participants {
			pipe.ZAdd(ctx, userCallsKey(p.ID), redis.Z{Score: score, Member: string(call.ID)})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index call participants: %w", err)
	}

	return nil
}

func (r *RedisCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	data, err := r.client.Get(ctx, r.callKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call from Redis: %w", err)
	}

	return decodeCall(data)
}

func decodeCall(data []byte) (*domain.Call, error) {
	var call domain.Call
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call: %w", err)
	}
	return &call, nil
}

// End updates the call under WATCH so concurrent hang-ups end it once.
func (r *RedisCallRepository) End(ctx context.Context, id domain.CallID, at time.Time) (*domain.Call, error) {
	key := r.callKey(id)
	var ended *domain.Call

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrCallNotFound
		}
		if err != nil {
			return err
		}

		call, err := decodeCall(data)
		if err != nil {
			return err
		}
		if !call.End(at) {
			return domain.ErrCallEnded
		}

		updated, err := json.Marshal(call)
		if err != nil {
			return fmt.Errorf("failed to marshal call: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, r.endedTTL)
			if r.endedTTL > 0 {
				pipe.Expire(ctx, r.transcriptKey(id), r.endedTTL)
			}
			return nil
		})
		if err == nil {
			ended = call
		}
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return ended, nil
	}

	return nil, fmt.Errorf("failed to end call %s: concurrent updates", id)
}

func (r *RedisCallRepository) AppendTranscript(ctx context.Context, id domain.CallID, entry domain.TranscriptEntry) error {
	exists, err := r.client.Exists(ctx, r.callKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check call in Redis: %w", err)
	}
	if exists == 0 {
		return domain.ErrCallNotFound
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript entry: %w", err)
	}

	if err := r.client.RPush(ctx, r.transcriptKey(id), data).Err(); err != nil {
		return fmt.Errorf("failed to append transcript in Redis: %w", err)
	}
	return nil
}

func (r *RedisCallRepository) Transcript(ctx context.Context, id domain.CallID) ([]domain.TranscriptEntry, error) {
	exists, err := r.client.Exists(ctx, r.callKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check call in Redis: %w", err)
	}
	if exists == 0 {
		return nil, domain.ErrCallNotFound
	}

	return r.transcript(ctx, id)
}

func (r *RedisCallRepository) transcript(ctx context.Context, id domain.CallID) ([]domain.TranscriptEntry, error) {
	raw, err := r.client.LRange(ctx, r.transcriptKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript from Redis: %w", err)
	}

	entries := make([]domain.TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		var entry domain.TranscriptEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transcript entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *RedisCallRepository) ListByUser(ctx context.Context, user domain.UserID, limit, offset int) ([]domain.CallWithTranscript, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}

	ids, err := r.client.ZRevRange(ctx, userCallsKey(user), int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list calls from Redis: %w", err)
	}

	result := make([]domain.CallWithTranscript, 0, len(ids))
	var expired []interface{}
	for _, idStr := range ids {
		id := domain.CallID(idStr)
		call, err := r.GetByID(ctx, id)
		if errors.Is(err, domain.ErrCallNotFound) {
			// Call expired, drop it from the index below
			expired = append(expired, idStr)
			continue
		}
		if err != nil {
			return nil, err
		}

		transcript, err := r.transcript(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, domain.CallWithTranscript{Call: *call, Transcript: transcript})
	}

	if len(expired) > 0 {
		r.client.ZRem(ctx, userCallsKey(user), expired...)
	}

	return result, nil
}
