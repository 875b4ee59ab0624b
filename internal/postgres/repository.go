package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lobby-presence/internal/config"
	"github.com/lobby-presence/internal/domain"
)

// Relation kinds as stored in player_relations.
const (
	RelationFriend = "friend"
	RelationFoe    = "foe"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			username VARCHAR(64) PRIMARY KEY,
			clan VARCHAR(16),
			country VARCHAR(8),
			avatar_url TEXT,
			global_rating_mean DOUBLE PRECISION DEFAULT 0,
			global_rating_deviation DOUBLE PRECISION DEFAULT 0,
			leaderboard_rating_mean DOUBLE PRECISION DEFAULT 0,
			leaderboard_rating_deviation DOUBLE PRECISION DEFAULT 0,
			number_of_games INT DEFAULT 0,
			game_status VARCHAR(16) DEFAULT 'none',
			game_uid INT DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS player_relations (
			kind VARCHAR(8) NOT NULL,
			username VARCHAR(64) NOT NULL,
			position INT NOT NULL,
			PRIMARY KEY (kind, username)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_game_uid ON players(game_uid)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// SaveFriends replaces the persisted friend list wholesale.
func (r *Repository) SaveFriends(ctx context.Context, usernames []string) error {
	return r.replaceRelations(ctx, RelationFriend, usernames)
}

// SaveFoes replaces the persisted foe list wholesale.
func (r *Repository) SaveFoes(ctx context.Context, usernames []string) error {
	return r.replaceRelations(ctx, RelationFoe, usernames)
}

func (r *Repository) replaceRelations(ctx context.Context, kind string, usernames []string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM player_relations WHERE kind = $1`, kind); err != nil {
		return fmt.Errorf("clearing %s relations: %w", kind, err)
	}

	for position, username := range usernames {
		_, err := tx.Exec(ctx,
			`INSERT INTO player_relations (kind, username, position) VALUES ($1, $2, $3)`,
			kind, username, position,
		)
		if err != nil {
			return fmt.Errorf("inserting %s relation: %w", kind, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing relations: %w", err)
	}
	return nil
}

// LoadRelations returns the persisted list for kind, in stored order.
func (r *Repository) LoadRelations(ctx context.Context, kind string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT username FROM player_relations WHERE kind = $1 ORDER BY position`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s relations: %w", kind, err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("scanning relation: %w", err)
		}
		usernames = append(usernames, username)
	}
	return usernames, rows.Err()
}

// BatchUpsertPlayers writes a batch of player snapshots.
func (r *Repository) BatchUpsertPlayers(ctx context.Context, snapshots []domain.PlayerSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO players (
			username, clan, country, avatar_url,
			global_rating_mean, global_rating_deviation,
			leaderboard_rating_mean, leaderboard_rating_deviation,
			number_of_games, game_status, game_uid, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
		ON CONFLICT (username) DO UPDATE SET
			clan = EXCLUDED.clan,
			country = EXCLUDED.country,
			avatar_url = EXCLUDED.avatar_url,
			global_rating_mean = EXCLUDED.global_rating_mean,
			global_rating_deviation = EXCLUDED.global_rating_deviation,
			leaderboard_rating_mean = EXCLUDED.leaderboard_rating_mean,
			leaderboard_rating_deviation = EXCLUDED.leaderboard_rating_deviation,
			number_of_games = EXCLUDED.number_of_games,
			game_status = EXCLUDED.game_status,
			game_uid = EXCLUDED.game_uid,
			updated_at = CURRENT_TIMESTAMP
	`
	for _, s := range snapshots {
		batch.Queue(query,
			s.Username, s.Clan, s.Country, s.AvatarURL,
			s.GlobalRatingMean, s.GlobalRatingDeviation,
			s.LeaderboardRatingMean, s.LeaderboardRatingDeviation,
			s.NumberOfGames, string(s.GameStatus), s.GameUID,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range snapshots {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting player: %w", err)
		}
	}
	return nil
}
