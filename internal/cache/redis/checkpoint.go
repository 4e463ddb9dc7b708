package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nest-markets/nestd/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using plain Redis keys.
// Cursors live at "checkpoint:{name}".
type CheckpointStore struct {
	rdb *redis.Client
}

// NewCheckpointStore creates a CheckpointStore backed by the given Client.
func NewCheckpointStore(c *Client) *CheckpointStore {
	return &CheckpointStore{rdb: c.Underlying()}
}

func checkpointKey(name string) string {
	return "checkpoint:" + name
}

// SaveCursor persists a cursor. Cursors never expire.
func (cs *CheckpointStore) SaveCursor(ctx context.Context, name, cursor string) error {
	if err := cs.rdb.Set(ctx, checkpointKey(name), cursor, 0).Err(); err != nil {
		return fmt.Errorf("redis: save cursor %s: %w", name, err)
	}
	return nil
}

// LoadCursor returns the stored cursor, or the empty string when none has
// been saved yet.
func (cs *CheckpointStore) LoadCursor(ctx context.Context, name string) (string, error) {
	cursor, err := cs.rdb.Get(ctx, checkpointKey(name)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("redis: load cursor %s: %w", name, err)
	}
	return cursor, nil
}

// Compile-time interface check.
var _ domain.CheckpointStore = (*CheckpointStore)(nil)
