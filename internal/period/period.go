// Package period derives the calendar keys that namespace the time-windowed
// leaderboards. All keys are computed in one fixed timezone so "today" is the
// same for every player no matter where their device sits.
package period

import (
	"fmt"
	"time"

	"github.com/banana-evolution/tapboard/internal/domain"
)

// Anchor is the wall-clock zone the game's calendar windows are pinned to
// (Bangkok time). UTC+7 observes no DST, so a fixed offset is exact and the
// binary does not need a tzdata database.
var Anchor = time.FixedZone("UTC+7", 7*60*60)

// Keys derives the daily, ISO-week and monthly keys for the given instant,
// evaluated in the anchor zone. Pure and deterministic; safe to call on every
// batch.
func Keys(now time.Time) domain.PeriodKeys {
	return KeysIn(now, Anchor)
}

// KeysIn derives period keys against an explicit zone.
//
// The weekly key follows the ISO-8601 week rule: a week belongs to the year
// containing its Thursday, so December 31 can fall in week 1 of the next year
// and January 1 in week 52/53 of the previous one.
func KeysIn(now time.Time, loc *time.Location) domain.PeriodKeys {
	t := now.In(loc)
	year, week := t.ISOWeek()
	return domain.PeriodKeys{
		Daily:   t.Format("2006-01-02"),
		Weekly:  fmt.Sprintf("%04d-W%02d", year, week),
		Monthly: t.Format("2006-01"),
	}
}
