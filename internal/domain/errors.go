package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors
var (
	ErrWriteRejected    = errors.New("store rejected the write")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrUnauthenticated  = errors.New("not signed in")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrInvalidPeriod    = errors.New("invalid period type")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternalError    = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound)
}

// PartialLeaderboardError reports that the player-record write landed but one
// or more period-board writes did not. The lifetime counters on the player
// record remain authoritative; each failed window heals on the next batch.
type PartialLeaderboardError struct {
	Failed map[PeriodType]error
}

// Periods returns the failed period types in daily/weekly/monthly order.
func (e *PartialLeaderboardError) Periods() []PeriodType {
	periods := make([]PeriodType, 0, len(e.Failed))
	for p := range e.Failed {
		periods = append(periods, p)
	}
	order := map[PeriodType]int{PeriodDaily: 0, PeriodWeekly: 1, PeriodMonthly: 2}
	sort.Slice(periods, func(i, j int) bool {
		return order[periods[i]] < order[periods[j]]
	})
	return periods
}

func (e *PartialLeaderboardError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, p := range e.Periods() {
		names = append(names, string(p))
	}
	return fmt.Sprintf("leaderboard update failed for periods: %s", strings.Join(names, ", "))
}

// Unwrap exposes the per-period causes to errors.Is/As.
func (e *PartialLeaderboardError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, p := range e.Periods() {
		errs = append(errs, e.Failed[p])
	}
	return errs
}
