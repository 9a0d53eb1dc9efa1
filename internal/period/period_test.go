package period_test

import (
	"testing"
	"time"

	"github.com/banana-evolution/tapboard/internal/domain"
	"github.com/banana-evolution/tapboard/internal/period"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		now  time.Time
		want domain.PeriodKeys
	}{
		{
			name: "plain midweek day",
			now:  time.Date(2024, time.June, 12, 15, 4, 5, 0, period.Anchor),
			want: domain.PeriodKeys{Daily: "2024-06-12", Weekly: "2024-W24", Monthly: "2024-06"},
		},
		{
			name: "new year's day 2024",
			now:  time.Date(2024, time.January, 1, 0, 0, 0, 0, period.Anchor),
			want: domain.PeriodKeys{Daily: "2024-01-01", Weekly: "2024-W01", Monthly: "2024-01"},
		},
		{
			name: "dec 31 2024 belongs to ISO week 1 of 2025",
			now:  time.Date(2024, time.December, 31, 23, 59, 59, 0, period.Anchor),
			want: domain.PeriodKeys{Daily: "2024-12-31", Weekly: "2025-W01", Monthly: "2024-12"},
		},
		{
			name: "jan 1 2021 belongs to ISO week 53 of 2020",
			now:  time.Date(2021, time.January, 1, 12, 0, 0, 0, period.Anchor),
			want: domain.PeriodKeys{Daily: "2021-01-01", Weekly: "2020-W53", Monthly: "2021-01"},
		},
		{
			name: "jan 1 2023 belongs to ISO week 52 of 2022",
			now:  time.Date(2023, time.January, 1, 0, 0, 0, 0, period.Anchor),
			want: domain.PeriodKeys{Daily: "2023-01-01", Weekly: "2022-W52", Monthly: "2023-01"},
		},
		{
			name: "sunday stays in the week started the previous monday",
			now:  time.Date(2024, time.January, 7, 10, 0, 0, 0, period.Anchor),
			want: domain.PeriodKeys{Daily: "2024-01-07", Weekly: "2024-W01", Monthly: "2024-01"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, period.Keys(tc.now))
		})
	}
}

func TestKeysAnchorsToFixedZone(t *testing.T) {
	t.Parallel()

	// 18:30 UTC on Dec 31 is already Jan 1 in the anchor zone, so every key
	// must roll regardless of the zone attached to the input.
	now := time.Date(2024, time.December, 31, 18, 30, 0, 0, time.UTC)
	keys := period.Keys(now)
	require.Equal(t, "2025-01-01", keys.Daily)
	require.Equal(t, "2025-W01", keys.Weekly)
	require.Equal(t, "2025-01", keys.Monthly)

	// The same instant expressed in another zone derives the same keys.
	newYork := time.FixedZone("UTC-5", -5*60*60)
	require.Equal(t, keys, period.Keys(now.In(newYork)))
}

func TestKeysDeterministic(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.August, 31, 9, 0, 0, 0, time.UTC)
	first := period.Keys(now)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, period.Keys(now))
	}
}

func TestKeysFor(t *testing.T) {
	t.Parallel()

	keys := domain.PeriodKeys{Daily: "d", Weekly: "w", Monthly: "m"}
	require.Equal(t, "d", keys.For(domain.PeriodDaily))
	require.Equal(t, "w", keys.For(domain.PeriodWeekly))
	require.Equal(t, "m", keys.For(domain.PeriodMonthly))
	require.Equal(t, "", keys.For(domain.PeriodType("yearly")))
}
