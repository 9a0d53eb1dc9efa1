package domain

import "time"

// PeriodType identifies one of the calendar windows a leaderboard tracks.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// PeriodTypes lists every window in daily/weekly/monthly order.
var PeriodTypes = []PeriodType{PeriodDaily, PeriodWeekly, PeriodMonthly}

// Valid reports whether the period type is a known window.
func (p PeriodType) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// PeriodKeys is the derived key triple for one instant. A new key implicitly
// starts a fresh zero baseline for its board; there is no reset operation.
type PeriodKeys struct {
	Daily   string `json:"dailyKey"`
	Weekly  string `json:"weeklyKey"`
	Monthly string `json:"monthlyKey"`
}

// For returns the key addressing the given period type.
func (k PeriodKeys) For(p PeriodType) string {
	switch p {
	case PeriodDaily:
		return k.Daily
	case PeriodWeekly:
		return k.Weekly
	case PeriodMonthly:
		return k.Monthly
	}
	return ""
}

// BoardEntry is one row of a time-windowed leaderboard, addressed by
// (period type, period key, player id). Score is the tap count committed
// while that key was current.
type BoardEntry struct {
	PlayerID  string    `json:"player_id"`
	Name      string    `json:"name"`
	Score     int64     `json:"score"`
	Rank      int64     `json:"rank,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TapBatch is a client-aggregated bundle of tap events, submitted as one
// delta pair instead of one store call per tap.
type TapBatch struct {
	PlayerID      string `json:"player_id"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	TapsDelta     int64  `json:"taps_delta"`
	BananasDelta  int64  `json:"bananas_delta"`
}
