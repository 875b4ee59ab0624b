package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lobby-presence/internal/config"
	"github.com/lobby-presence/internal/domain"
	"github.com/redis/go-redis/v9"
)

const ratingIndexKey = "players:by_rating"

// PresenceCache mirrors the directory into Redis so sibling services can
// read player presence and the rating index without hitting this process.
// It is a write-only mirror; the directory is never rebuilt from it.
type PresenceCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPresenceCache creates a new Redis presence cache
func NewPresenceCache(cfg *config.RedisConfig, logger *slog.Logger) (*PresenceCache, error) {
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

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &PresenceCache{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *PresenceCache) Close() error {
	return c.client.Close()
}

// presenceKey returns the Redis key for a player's presence snapshot
func (c *PresenceCache) presenceKey(username string) string {
	return fmt.Sprintf("player:%s:presence", username)
}

// SetPresence writes one player's presence snapshot and rating index entry.
func (c *PresenceCache) SetPresence(ctx context.Context, snapshot domain.PlayerSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling presence: %w", err)
	}

	rating := snapshot.GlobalRatingMean - 3*snapshot.GlobalRatingDeviation
	if rating < 0 {
		rating = 0
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.presenceKey(snapshot.Username), data, 0)
	pipe.ZAdd(ctx, ratingIndexKey, redis.Z{Score: rating, Member: snapshot.Username})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing presence: %w", err)
	}
	return nil
}

// BatchSetPresence writes many snapshots in a single pipeline.
func (c *PresenceCache) BatchSetPresence(ctx context.Context, snapshots []domain.PlayerSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, snapshot := range snapshots {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshaling presence: %w", err)
		}
		rating := snapshot.GlobalRatingMean - 3*snapshot.GlobalRatingDeviation
		if rating < 0 {
			rating = 0
		}
		pipe.Set(ctx, c.presenceKey(snapshot.Username), data, 0)
		pipe.ZAdd(ctx, ratingIndexKey, redis.Z{Score: rating, Member: snapshot.Username})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing presence batch: %w", err)
	}
	return nil
}

// GetPresence reads one player's mirrored snapshot.
func (c *PresenceCache) GetPresence(ctx context.Context, username string) (*domain.PlayerSnapshot, error) {
	data, err := c.client.Get(ctx, c.presenceKey(username)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading presence: %w", err)
	}

	var snapshot domain.PlayerSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshaling presence: %w", err)
	}
	return &snapshot, nil
}

// RatedPlayer is one entry of the rating index.
type RatedPlayer struct {
	Username string  `json:"username"`
	Rating   float64 `json:"rating"`
}

// TopRated returns the n highest-rated mirrored players.
func (c *PresenceCache) TopRated(ctx context.Context, n int) ([]RatedPlayer, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, ratingIndexKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading rating index: %w", err)
	}

	players := make([]RatedPlayer, 0, len(results))
	for _, z := range results {
		username, ok := z.Member.(string)
		if !ok {
			continue
		}
		players = append(players, RatedPlayer{Username: username, Rating: z.Score})
	}
	return players, nil
}
