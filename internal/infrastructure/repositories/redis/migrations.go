package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hirecall/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = keyPrefix + "schema:version"
	currentSchemaVersion = 2
)

// Migration represents a schema migration
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		logger.Debugw("Schema is up to date", "version", currentVersion)
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}

		logger.Infow("Running migration", "version", migration.Version)
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	logger.Infow("All migrations completed", "version", currentSchemaVersion)
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// Calls and transcripts are plain keys; nothing to create.
			Version: 1,
			Up:      func(ctx context.Context, client *redis.Client) error { return nil },
		},
		{
			Version: 2,
			Up:      rebuildUserIndex,
		},
	}
}

// rebuildUserIndex re-scores every stored call into its participants'
// history sets.
func rebuildUserIndex(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, keyPrefix+"call:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":transcript") {
			continue
		}

		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}

		var call domain.Call
		if err := json.Unmarshal(data, &call); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}

		score := float64(call.CreatedAt.UnixNano())
		for _, p := range call.Participants {
			if err := client.ZAdd(ctx, userCallsKey(p.ID), redis.Z{Score: score, Member: string(call.ID)}).Err(); err != nil {
				return err
			}
		}
	}
	return iter.Err()
}
