package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/banana-evolution/tapboard/internal/config"
	"github.com/banana-evolution/tapboard/internal/domain"
	"github.com/banana-evolution/tapboard/internal/identity"
	"github.com/banana-evolution/tapboard/internal/period"
)

// PlayerStore is the durable document store for player records and the auth
// log.
type PlayerStore interface {
	GetPlayer(ctx context.Context, playerID string) (*domain.PlayerRecord, error)
	CreatePlayer(ctx context.Context, user identity.User) error
	MergeProfile(ctx context.Context, user identity.User, inventory domain.Inventory) error
	ApplyTapDeltas(ctx context.Context, user identity.User, tapsDelta, bananasDelta int64) error
	ReplaceTaps(ctx context.Context, playerID string, taps domain.TapCounters) error
	SavePatch(ctx context.Context, playerID string, patch domain.PlayerPatch) error
	RecordAuthEvent(ctx context.Context, playerID string, kind domain.AuthEventKind) error
}

// BoardStore is the durable store for period leaderboard entries.
type BoardStore interface {
	UpsertEntry(ctx context.Context, periodType domain.PeriodType, periodKey, playerID, name string, delta int64) (int64, error)
	TopEntries(ctx context.Context, periodType domain.PeriodType, periodKey string, limit int) ([]domain.BoardEntry, error)
	EntryCount(ctx context.Context, periodType domain.PeriodType, periodKey string) (int64, error)
}

// BoardMirror is the optional realtime leaderboard mirror.
type BoardMirror interface {
	IncrementScore(ctx context.Context, periodType domain.PeriodType, periodKey, playerID string, delta int64) (int64, error)
	SetPlayerName(ctx context.Context, playerID, name string) error
	TopN(ctx context.Context, periodType domain.PeriodType, periodKey string, n int) ([]domain.BoardEntry, error)
	Count(ctx context.Context, periodType domain.PeriodType, periodKey string) (int64, error)
}

// Broadcaster pushes the current state of a changed document to live
// subscribers.
type Broadcaster interface {
	BroadcastGameState(playerID string, record *domain.PlayerRecord)
	BroadcastEntryUpdate(periodType domain.PeriodType, periodKey string, entry domain.BoardEntry)
}

// GameService owns the game's write path: the tap aggregator, the profile
// lifecycle and the legacy-shape normalizer. Collaborators are injected so
// tests can substitute fakes; the service keeps no shared mutable state of
// its own and leans entirely on the stores' atomic increments for
// concurrency safety.
type GameService struct {
	players PlayerStore
	boards  BoardStore
	mirror  BoardMirror
	hub     Broadcaster
	cfg     *config.BoardConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewGameService creates a new game service
func NewGameService(players PlayerStore, boards BoardStore, cfg *config.BoardConfig, logger *slog.Logger) *GameService {
	return &GameService{
		players: players,
		boards:  boards,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetMirror attaches the realtime board mirror.
func (s *GameService) SetMirror(mirror BoardMirror) {
	s.mirror = mirror
}

// SetHub attaches the live-subscription broadcaster.
func (s *GameService) SetHub(hub Broadcaster) {
	s.hub = hub
}

// SetClock overrides the time source. Tests use this to pin period keys.
func (s *GameService) SetClock(now func() time.Time) {
	s.now = now
}

// CommitTapBatch applies a tap batch for the given identity.
//
// Zero-or-negative batches return immediately without touching any store.
// The player-record write lands first; the three period-board writes are then
// issued concurrently and awaited jointly. There is no atomicity across the
// boards: a failure leaves the surviving windows updated, reported as a
// PartialLeaderboardError, and the player record stays authoritative. Nothing
// is retried here — a blind retry would double-count the deltas.
func (s *GameService) CommitTapBatch(ctx context.Context, user identity.User, tapsDelta, bananasDelta int64) error {
	if tapsDelta <= 0 && bananasDelta <= 0 {
		return nil
	}
	if !user.Authenticated() {
		return fmt.Errorf("%w: %w", domain.ErrWriteRejected, domain.ErrUnauthenticated)
	}

	if err := s.players.ApplyTapDeltas(ctx, user, tapsDelta, bananasDelta); err != nil {
		return fmt.Errorf("applying tap deltas: %w", err)
	}

	keys := period.Keys(s.now())
	name := user.DisplayName()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed = make(map[domain.PeriodType]error)
		scores = make(map[domain.PeriodType]int64)
	)
	for _, periodType := range domain.PeriodTypes {
		wg.Add(1)
		go func(periodType domain.PeriodType, periodKey string) {
			defer wg.Done()
			score, err := s.boards.UpsertEntry(ctx, periodType, periodKey, user.ID, name, tapsDelta)
			mu.Lock()
			if err != nil {
				failed[periodType] = err
			} else {
				scores[periodType] = score
			}
			mu.Unlock()
			if err == nil {
				s.mirrorIncrement(ctx, periodType, periodKey, user.ID, tapsDelta)
			}
		}(periodType, keys.For(periodType))
	}
	wg.Wait()

	if s.mirror != nil {
		if err := s.mirror.SetPlayerName(ctx, user.ID, name); err != nil {
			s.logger.Warn("failed to cache player name", "player_id", user.ID, "error", err)
		}
	}

	s.broadcastAfterBatch(ctx, user.ID, name, keys, scores)

	if len(failed) > 0 {
		return &domain.PartialLeaderboardError{Failed: failed}
	}
	return nil
}

// mirrorIncrement mirrors a board increment into Redis. Best-effort: the
// reconcile worker repairs any drift, so mirror failures are logged, not
// returned.
func (s *GameService) mirrorIncrement(ctx context.Context, periodType domain.PeriodType, periodKey, playerID string, delta int64) {
	if s.mirror == nil {
		return
	}
	if _, err := s.mirror.IncrementScore(ctx, periodType, periodKey, playerID, delta); err != nil {
		s.logger.Warn("failed to mirror board increment",
			"period_type", periodType,
			"period_key", periodKey,
			"player_id", playerID,
			"error", err,
		)
	}
}

// broadcastAfterBatch pushes the updated documents to live subscribers.
func (s *GameService) broadcastAfterBatch(ctx context.Context, playerID, name string, keys domain.PeriodKeys, scores map[domain.PeriodType]int64) {
	if s.hub == nil {
		return
	}

	for periodType, score := range scores {
		s.hub.BroadcastEntryUpdate(periodType, keys.For(periodType), domain.BoardEntry{
			PlayerID:  playerID,
			Name:      name,
			Score:     score,
			UpdatedAt: s.now(),
		})
	}

	record, err := s.players.GetPlayer(ctx, playerID)
	if err != nil {
		s.logger.Warn("failed to load player for broadcast", "player_id", playerID, "error", err)
		return
	}
	s.hub.BroadcastGameState(playerID, record)
}

// NormalizeTaps rewrites a legacy taps document into the flat {all: n}
// shape: per-period counters are dropped (the leaderboard entries replaced
// them) and a {key,value} all counter is coerced to a plain number. Records
// that are already clean issue no write at all, so the call is idempotent
// and safe on every profile load. Returns whether a write was issued.
func (s *GameService) NormalizeTaps(ctx context.Context, record *domain.PlayerRecord) (bool, error) {
	if record == nil || !record.Taps.NeedsNormalization() {
		return false, nil
	}

	clean := record.Taps.Normalized()
	if err := s.players.ReplaceTaps(ctx, record.ID, clean); err != nil {
		return false, fmt.Errorf("normalizing taps: %w", err)
	}
	record.Taps = &clean
	return true, nil
}

// EnsureProfile idempotently creates or refreshes the player record after a
// registration or login. The taps document is never seeded here — the first
// tap batch creates it.
func (s *GameService) EnsureProfile(ctx context.Context, user identity.User) error {
	if !user.Authenticated() {
		return fmt.Errorf("%w: %w", domain.ErrWriteRejected, domain.ErrUnauthenticated)
	}

	record, err := s.players.GetPlayer(ctx, user.ID)
	if domain.IsNotFoundError(err) {
		if err := s.players.CreatePlayer(ctx, user); err != nil {
			return fmt.Errorf("creating profile: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}

	if err := s.players.MergeProfile(ctx, user, record.Inventory.Shaped()); err != nil {
		return fmt.Errorf("merging profile: %w", err)
	}
	if _, err := s.NormalizeTaps(ctx, record); err != nil {
		return err
	}
	return nil
}

// LoadOrCreate returns the player's game state, creating the record with
// default state when absent. The returned copy always carries a taps
// document so the client has values to render; the stored record keeps taps
// absent until the first batch.
func (s *GameService) LoadOrCreate(ctx context.Context, user identity.User) (*domain.PlayerRecord, error) {
	if !user.Authenticated() {
		return nil, fmt.Errorf("%w: %w", domain.ErrWriteRejected, domain.ErrUnauthenticated)
	}

	record, err := s.players.GetPlayer(ctx, user.ID)
	if domain.IsNotFoundError(err) {
		if err := s.players.CreatePlayer(ctx, user); err != nil {
			return nil, fmt.Errorf("creating profile: %w", err)
		}
		record, err = s.players.GetPlayer(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("loading created profile: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	if _, err := s.NormalizeTaps(ctx, record); err != nil {
		return nil, err
	}

	if record.Taps == nil {
		record.Taps = &domain.TapCounters{All: domain.NewTapValue(0)}
	}
	record.Currency = domain.CurrencyEuro
	record.Inventory = record.Inventory.Shaped()
	return record, nil
}

// SaveGame merges a partial update from spending features into the player
// record. Tap counters cannot travel through this path by construction.
func (s *GameService) SaveGame(ctx context.Context, user identity.User, patch domain.PlayerPatch) error {
	if !user.Authenticated() {
		return fmt.Errorf("%w: %w", domain.ErrWriteRejected, domain.ErrUnauthenticated)
	}
	if patch.Empty() {
		return nil
	}
	if err := s.players.SavePatch(ctx, user.ID, patch); err != nil {
		return fmt.Errorf("saving game: %w", err)
	}
	return nil
}

// RecordAuthEvent appends a login/logout entry to the auth log.
func (s *GameService) RecordAuthEvent(ctx context.Context, user identity.User, kind domain.AuthEventKind) error {
	if !user.Authenticated() {
		return fmt.Errorf("%w: %w", domain.ErrWriteRejected, domain.ErrUnauthenticated)
	}
	if !kind.Valid() {
		return domain.ErrInvalidRequest
	}
	if err := s.players.RecordAuthEvent(ctx, user.ID, kind); err != nil {
		return fmt.Errorf("recording auth event: %w", err)
	}
	return nil
}

// CurrentKeys returns the period keys addressing the boards that are live
// right now.
func (s *GameService) CurrentKeys() domain.PeriodKeys {
	return period.Keys(s.now())
}

// Top returns the highest-scoring entries for one period board. An empty
// period key addresses the current window. Reads prefer the realtime mirror
// and fall back to the durable store when the mirror is missing or cold.
func (s *GameService) Top(ctx context.Context, periodType domain.PeriodType, periodKey string, limit int) ([]domain.BoardEntry, error) {
	if !periodType.Valid() {
		return nil, domain.ErrInvalidPeriod
	}
	if periodKey == "" {
		periodKey = s.CurrentKeys().For(periodType)
	}
	if limit <= 0 {
		limit = s.cfg.TopLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	if s.mirror != nil {
		entries, err := s.mirror.TopN(ctx, periodType, periodKey, limit)
		if err == nil && len(entries) > 0 {
			return entries, nil
		}
		if err != nil {
			s.logger.Warn("mirror read failed, falling back to durable store",
				"period_type", periodType,
				"period_key", periodKey,
				"error", err,
			)
		}
	}

	entries, err := s.boards.TopEntries(ctx, periodType, periodKey, limit)
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", err)
	}
	return entries, nil
}

// PlayerCount returns how many players hold an entry on one period board.
// An empty period key addresses the current window.
func (s *GameService) PlayerCount(ctx context.Context, periodType domain.PeriodType, periodKey string) (int64, error) {
	if !periodType.Valid() {
		return 0, domain.ErrInvalidPeriod
	}
	if periodKey == "" {
		periodKey = s.CurrentKeys().For(periodType)
	}

	if s.mirror != nil {
		if count, err := s.mirror.Count(ctx, periodType, periodKey); err == nil && count > 0 {
			return count, nil
		}
	}

	count, err := s.boards.EntryCount(ctx, periodType, periodKey)
	if err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return count, nil
}
