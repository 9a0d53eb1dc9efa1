package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banana-evolution/tapboard/internal/config"
	"github.com/banana-evolution/tapboard/internal/domain"
	"github.com/banana-evolution/tapboard/internal/identity"
)

// Repository provides PostgreSQL-based data access. It is the durable side
// of the document-store collaborator: player records, period leaderboard
// entries and the auth event log all live here.
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
			id VARCHAR(128) PRIMARY KEY,
			email VARCHAR(320) NOT NULL DEFAULT '',
			email_verified BOOLEAN NOT NULL DEFAULT FALSE,
			currency VARCHAR(8) NOT NULL DEFAULT '€',
			money BIGINT NOT NULL DEFAULT 0,
			bananas BIGINT NOT NULL DEFAULT 0,
			taps JSONB,
			inventory JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_entries (
			period_type VARCHAR(10) NOT NULL,
			period_key VARCHAR(12) NOT NULL,
			player_id VARCHAR(128) NOT NULL,
			name VARCHAR(128) NOT NULL DEFAULT '',
			score BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (period_type, period_key, player_id)
		)`,
		`CREATE TABLE IF NOT EXISTS auth_events (
			id UUID PRIMARY KEY,
			player_id VARCHAR(128) NOT NULL,
			kind VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_board_entries_score
			ON leaderboard_entries(period_type, period_key, score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_events_player
			ON auth_events(player_id, created_at DESC)`,
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

// mapError folds driver failures into the domain error taxonomy: permission
// and auth failures become write rejections, connectivity problems become
// store-unavailable, everything else passes through for %w wrapping upstream.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "42501" || strings.HasPrefix(pgErr.Code, "28") {
			return fmt.Errorf("%w: %s", domain.ErrWriteRejected, pgErr.Message)
		}
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57") {
			return fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, pgErr.Message)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, context.Canceled) {
		return err
	}
	// Anything not recognized is a transport-level failure (dial errors,
	// dropped connections) rather than a statement the server evaluated.
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

// GetPlayer loads a player record by identity id.
func (r *Repository) GetPlayer(ctx context.Context, playerID string) (*domain.PlayerRecord, error) {
	query := `
		SELECT id, email, email_verified, currency, money, bananas, taps, inventory, created_at, updated_at
		FROM players
		WHERE id = $1
	`
	var (
		rec          domain.PlayerRecord
		tapsRaw      []byte
		inventoryRaw []byte
	)
	err := r.pool.QueryRow(ctx, query, playerID).Scan(
		&rec.ID,
		&rec.Email,
		&rec.EmailVerified,
		&rec.Currency,
		&rec.Money,
		&rec.Bananas,
		&tapsRaw,
		&inventoryRaw,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", mapError(err))
	}

	if tapsRaw != nil {
		var taps domain.TapCounters
		if err := json.Unmarshal(tapsRaw, &taps); err != nil {
			return nil, fmt.Errorf("decoding taps document: %w", err)
		}
		rec.Taps = &taps
	}
	if err := json.Unmarshal(inventoryRaw, &rec.Inventory); err != nil {
		return nil, fmt.Errorf("decoding inventory document: %w", err)
	}
	return &rec, nil
}

// CreatePlayer inserts a fresh player record with default state. The taps
// document is deliberately not written: the first tap increment creates it.
// A concurrent create of the same id is a no-op.
func (r *Repository) CreatePlayer(ctx context.Context, user identity.User) error {
	inventory, err := json.Marshal(domain.DefaultInventory())
	if err != nil {
		return fmt.Errorf("encoding inventory: %w", err)
	}

	query := `
		INSERT INTO players (id, email, email_verified, currency, money, bananas, inventory, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`
	now := time.Now()
	_, err = r.pool.Exec(ctx, query, user.ID, user.Email, user.EmailVerified, domain.CurrencyEuro, inventory, now)
	if err != nil {
		return fmt.Errorf("creating player: %w", mapError(err))
	}
	return nil
}

// MergeProfile refreshes the identity mirror fields and the shaped inventory
// on an existing record.
func (r *Repository) MergeProfile(ctx context.Context, user identity.User, inventory domain.Inventory) error {
	encoded, err := json.Marshal(inventory)
	if err != nil {
		return fmt.Errorf("encoding inventory: %w", err)
	}

	query := `
		UPDATE players
		SET email = $2, email_verified = $3, currency = $4, inventory = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.EmailVerified, domain.CurrencyEuro, encoded, time.Now())
	if err != nil {
		return fmt.Errorf("merging profile: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// ApplyTapDeltas applies the tap batch to the player record as a single
// upsert-with-merge statement. The bananas counter and the nested taps.all
// field are incremented in place, never read-modify-written, so concurrent
// batches cannot lose updates. The first batch for an identity creates the
// row and the taps document in the same statement.
func (r *Repository) ApplyTapDeltas(ctx context.Context, user identity.User, tapsDelta, bananasDelta int64) error {
	inventory, err := json.Marshal(domain.DefaultInventory())
	if err != nil {
		return fmt.Errorf("encoding inventory: %w", err)
	}

	// The CASE keeps the increment working against legacy rows where
	// taps.all is still the {key,value} object shape.
	query := `
		INSERT INTO players (id, email, email_verified, currency, money, bananas, taps, inventory, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, jsonb_build_object('all', $6::bigint), $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			bananas = players.bananas + $5,
			taps = jsonb_set(
				COALESCE(players.taps, '{}'::jsonb),
				'{all}',
				to_jsonb(
					CASE
						WHEN jsonb_typeof(players.taps->'all') = 'number'
							THEN (players.taps->>'all')::bigint
						ELSE COALESCE((players.taps->'all'->>'value')::bigint, 0)
					END + $6
				)
			),
			currency = $4,
			updated_at = $8
	`
	now := time.Now()
	_, err = r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.EmailVerified,
		domain.CurrencyEuro,
		bananasDelta,
		tapsDelta,
		inventory,
		now,
	)
	if err != nil {
		return fmt.Errorf("applying tap deltas: %w", mapError(err))
	}
	return nil
}

// ReplaceTaps overwrites the taps document with its normalized shape.
func (r *Repository) ReplaceTaps(ctx context.Context, playerID string, taps domain.TapCounters) error {
	encoded, err := json.Marshal(taps)
	if err != nil {
		return fmt.Errorf("encoding taps: %w", err)
	}

	query := `UPDATE players SET taps = $2, updated_at = $3 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, playerID, encoded, time.Now())
	if err != nil {
		return fmt.Errorf("replacing taps: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// SavePatch merges a partial update into the player record. Absent fields
// keep their stored values; the currency is pinned on every save.
func (r *Repository) SavePatch(ctx context.Context, playerID string, patch domain.PlayerPatch) error {
	var inventory []byte
	if patch.Inventory != nil {
		var err error
		inventory, err = json.Marshal(patch.Inventory)
		if err != nil {
			return fmt.Errorf("encoding inventory: %w", err)
		}
	}

	query := `
		UPDATE players
		SET money = COALESCE($2, money),
			bananas = COALESCE($3, bananas),
			inventory = COALESCE($4, inventory),
			currency = $5,
			updated_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, playerID, patch.Money, patch.Bananas, inventory, domain.CurrencyEuro, time.Now())
	if err != nil {
		return fmt.Errorf("saving patch: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// UpsertEntry applies an atomic score increment to the leaderboard entry at
// (period type, period key, player id), creating the entry on first
// contribution within that key. Returns the new score.
func (r *Repository) UpsertEntry(ctx context.Context, periodType domain.PeriodType, periodKey, playerID, name string, delta int64) (int64, error) {
	query := `
		INSERT INTO leaderboard_entries (period_type, period_key, player_id, name, score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (period_type, period_key, player_id)
		DO UPDATE SET
			score = leaderboard_entries.score + $5,
			name = $4,
			updated_at = $6
		RETURNING score
	`
	var score int64
	err := r.pool.QueryRow(ctx, query, periodType, periodKey, playerID, name, delta, time.Now()).Scan(&score)
	if err != nil {
		return 0, fmt.Errorf("upserting board entry: %w", mapError(err))
	}
	return score, nil
}

// TopEntries returns the highest-scoring entries for one period board.
func (r *Repository) TopEntries(ctx context.Context, periodType domain.PeriodType, periodKey string, limit int) ([]domain.BoardEntry, error) {
	query := `
		SELECT player_id, name, score, updated_at,
			ROW_NUMBER() OVER (ORDER BY score DESC) AS rank
		FROM leaderboard_entries
		WHERE period_type = $1 AND period_key = $2
		ORDER BY score DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, periodType, periodKey, limit)
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", mapError(err))
	}
	defer rows.Close()

	var entries []domain.BoardEntry
	for rows.Next() {
		var entry domain.BoardEntry
		if err := rows.Scan(&entry.PlayerID, &entry.Name, &entry.Score, &entry.UpdatedAt, &entry.Rank); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entries: %w", mapError(err))
	}
	return entries, nil
}

// AllEntries returns every entry for one period board, for mirror rebuilds.
func (r *Repository) AllEntries(ctx context.Context, periodType domain.PeriodType, periodKey string) ([]domain.BoardEntry, error) {
	query := `
		SELECT player_id, name, score, updated_at
		FROM leaderboard_entries
		WHERE period_type = $1 AND period_key = $2
	`
	rows, err := r.pool.Query(ctx, query, periodType, periodKey)
	if err != nil {
		return nil, fmt.Errorf("getting board entries: %w", mapError(err))
	}
	defer rows.Close()

	var entries []domain.BoardEntry
	for rows.Next() {
		var entry domain.BoardEntry
		if err := rows.Scan(&entry.PlayerID, &entry.Name, &entry.Score, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entries: %w", mapError(err))
	}
	return entries, nil
}

// EntryCount returns the number of players on one period board.
func (r *Repository) EntryCount(ctx context.Context, periodType domain.PeriodType, periodKey string) (int64, error) {
	query := `SELECT COUNT(*) FROM leaderboard_entries WHERE period_type = $1 AND period_key = $2`
	var count int64
	if err := r.pool.QueryRow(ctx, query, periodType, periodKey).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting entries: %w", mapError(err))
	}
	return count, nil
}

// RecordAuthEvent appends a login/logout entry to the auth log.
func (r *Repository) RecordAuthEvent(ctx context.Context, playerID string, kind domain.AuthEventKind) error {
	query := `INSERT INTO auth_events (id, player_id, kind, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, uuid.New(), playerID, kind, time.Now())
	if err != nil {
		return fmt.Errorf("recording auth event: %w", mapError(err))
	}
	return nil
}
