package engine

import (
	"testing"
	"time"

	"github.com/alpenclub/tripscope/pkg/club"
)

var base = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func TestNextScrapeFuture(t *testing.T) {
	got := NextScrape(club.StatusFuture, base.Add(30*24*time.Hour), base)
	if got == nil {
		t.Fatal("expected a scheduled time, got nil")
	}
	if want := base.Add(12 * time.Hour); !got.Equal(want) {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestNextScrapePastTiers(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    time.Duration // 0 means nil
	}{
		{"three days", 3 * 24 * time.Hour, 24 * time.Hour},
		{"one month", 30 * 24 * time.Hour, 7 * 24 * time.Hour},
		{"half year", 180 * 24 * time.Hour, 30 * 24 * time.Hour},
		{"two years", 730 * 24 * time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// dateEnd already at midnight so elapsed is exact.
			dateEnd := startOfDay(base).Add(-tt.elapsed)
			got := NextScrape(club.StatusPast, dateEnd, startOfDay(base))
			if tt.want == 0 {
				if got != nil {
					t.Fatalf("want nil, got %s", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected a scheduled time, got nil")
			}
			if want := startOfDay(base).Add(tt.want); !got.Equal(want) {
				t.Fatalf("want %s, got %s", want, got)
			}
		})
	}
}

func TestNextScrapeClosedDoubling(t *testing.T) {
	now := startOfDay(base)

	// Ended two days ago: doubling beats the 6h floor.
	got := NextScrape(club.StatusClosed, now.Add(-2*24*time.Hour), now)
	if got == nil {
		t.Fatal("expected a scheduled time, got nil")
	}
	if want := now.Add(4 * 24 * time.Hour); !got.Equal(want) {
		t.Fatalf("want %s, got %s", want, got)
	}

	// Ended an hour ago: the 6h floor wins.
	got = NextScrape(club.StatusClosed, now.Add(-time.Hour), now)
	if want := now.Add(6 * time.Hour); !got.Equal(want) {
		t.Fatalf("want %s, got %s", want, got)
	}

	// Closed three weeks ago: sparse tier.
	got = NextScrape(club.StatusClosed, now.Add(-21*24*time.Hour), now)
	if want := now.Add(21 * 24 * time.Hour); !got.Equal(want) {
		t.Fatalf("want %s, got %s", want, got)
	}

	// Closed a year ago: stable.
	if got := NextScrape(club.StatusClosed, now.Add(-365*24*time.Hour), now); got != nil {
		t.Fatalf("want nil, got %s", got)
	}
}

// The schedule must never move backwards as the clock advances: for a fixed
// status and end date, a later now yields a later (or no) next scrape.
func TestNextScrapeMonotonic(t *testing.T) {
	dateEnd := startOfDay(base)
	for _, status := range []string{club.StatusFuture, club.StatusPast, club.StatusClosed} {
		var prev *time.Time
		for d := time.Duration(0); d < 400*24*time.Hour; d += 13 * time.Hour {
			got := NextScrape(status, dateEnd, dateEnd.Add(d))
			if got == nil {
				continue
			}
			if prev != nil && got.Before(*prev) {
				t.Fatalf("%s: schedule moved backwards at +%s: %s before %s", status, d, got, prev)
			}
			prev = got
		}
	}
}

func TestActivityTimeStatus(t *testing.T) {
	a := &club.Activity{
		DateStart: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
		DateEnd:   time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC),
	}
	tests := []struct {
		now  time.Time
		want TimeStatus
	}{
		{time.Date(2025, 6, 19, 23, 0, 0, 0, time.UTC), TimeFuture},
		{time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), TimeCurrent},
		{time.Date(2025, 6, 21, 15, 0, 0, 0, time.UTC), TimeCurrent},
		// The day after the end date still counts as current.
		{time.Date(2025, 6, 22, 20, 0, 0, 0, time.UTC), TimeCurrent},
		{time.Date(2025, 6, 23, 0, 0, 1, 0, time.UTC), TimePast},
	}
	for _, tt := range tests {
		if got := ActivityTimeStatus(a, tt.now); got != tt.want {
			t.Errorf("at %s: want %s, got %s", tt.now, tt.want, got)
		}
	}
}
