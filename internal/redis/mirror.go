package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/banana-evolution/tapboard/internal/config"
	"github.com/banana-evolution/tapboard/internal/domain"
)

// BoardMirror keeps a realtime copy of the period leaderboards in Redis
// sorted sets. Postgres stays authoritative; the mirror exists for cheap
// ordered reads and is rebuilt by the reconcile worker after a restart.
type BoardMirror struct {
	client *redis.Client
	logger *slog.Logger
}

// NewBoardMirror creates a new Redis board mirror
func NewBoardMirror(cfg *config.RedisConfig, logger *slog.Logger) (*BoardMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &BoardMirror{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (m *BoardMirror) Close() error {
	return m.client.Close()
}

// boardKey returns the sorted-set key for one period board
func (m *BoardMirror) boardKey(periodType domain.PeriodType, periodKey string) string {
	return fmt.Sprintf("board:%s:%s", periodType, periodKey)
}

// nameKey returns the hash key caching display names
func (m *BoardMirror) nameKey() string {
	return "player:names"
}

// IncrementScore applies a score delta to the mirrored board entry.
func (m *BoardMirror) IncrementScore(ctx context.Context, periodType domain.PeriodType, periodKey, playerID string, delta int64) (int64, error) {
	key := m.boardKey(periodType, periodKey)
	score, err := m.client.ZIncrBy(ctx, key, float64(delta), playerID).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing mirrored score: %w", err)
	}
	return int64(score), nil
}

// SetPlayerName caches a player's display name for board reads.
func (m *BoardMirror) SetPlayerName(ctx context.Context, playerID, name string) error {
	if err := m.client.HSet(ctx, m.nameKey(), playerID, name).Err(); err != nil {
		return fmt.Errorf("setting player name: %w", err)
	}
	return nil
}

// TopN returns the highest-scoring mirrored entries with display names
// filled in from the name cache.
func (m *BoardMirror) TopN(ctx context.Context, periodType domain.PeriodType, periodKey string, n int) ([]domain.BoardEntry, error) {
	key := m.boardKey(periodType, periodKey)
	results, err := m.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	ids := make([]string, len(results))
	for i, result := range results {
		ids[i] = result.Member.(string)
	}
	names, err := m.client.HMGet(ctx, m.nameKey(), ids...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting player names: %w", err)
	}

	entries := make([]domain.BoardEntry, len(results))
	for i, result := range results {
		entry := domain.BoardEntry{
			Rank:     int64(i + 1),
			PlayerID: ids[i],
			Score:    int64(result.Score),
		}
		if i < len(names) {
			if name, ok := names[i].(string); ok {
				entry.Name = name
			}
		}
		entries[i] = entry
	}
	return entries, nil
}

// Count returns the number of players on one mirrored board.
func (m *BoardMirror) Count(ctx context.Context, periodType domain.PeriodType, periodKey string) (int64, error) {
	count, err := m.client.ZCard(ctx, m.boardKey(periodType, periodKey)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting board members: %w", err)
	}
	return count, nil
}

// ReplaceBoard rewrites one mirrored board from authoritative entries. Used
// by the reconcile worker; the delete and re-add run in a single pipeline.
func (m *BoardMirror) ReplaceBoard(ctx context.Context, periodType domain.PeriodType, periodKey string, entries []domain.BoardEntry) error {
	key := m.boardKey(periodType, periodKey)

	pipe := m.client.Pipeline()
	pipe.Del(ctx, key)
	for _, entry := range entries {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(entry.Score),
			Member: entry.PlayerID,
		})
		if entry.Name != "" {
			pipe.HSet(ctx, m.nameKey(), entry.PlayerID, entry.Name)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replacing board: %w", err)
	}
	return nil
}
