package engine

import (
	"time"

	"github.com/alpenclub/tripscope/pkg/club"
)

// TimeStatus places an activity relative to the clock, independent of the
// closure status reported by the site.
type TimeStatus int

const (
	TimeFuture TimeStatus = iota
	TimeCurrent
	TimePast
)

func (s TimeStatus) String() string {
	switch s {
	case TimeFuture:
		return "future"
	case TimePast:
		return "past"
	default:
		return "current"
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ActivityTimeStatus trisects now against the activity's date range. The day
// after the end date still counts as current since multi-day outings roll in
// late.
func ActivityTimeStatus(a *club.Activity, now time.Time) TimeStatus {
	if now.Before(startOfDay(a.DateStart)) {
		return TimeFuture
	}
	if now.After(startOfDay(a.DateEnd).Add(24 * time.Hour)) {
		return TimePast
	}
	return TimeCurrent
}

// NextScrape computes when an activity becomes eligible for re-fetch, based
// on its reported status and how long ago it ended. nil means the activity
// is stable and never refreshed again.
//
// Future activities are re-checked every 12 hours until they transition.
// Past-but-not-closed activities back off in tiers and are abandoned after a
// year. Closed activities are re-checked on a doubling interval at first,
// then sparsely, then never.
func NextScrape(status string, dateEnd, now time.Time) *time.Time {
	var delta time.Duration

	switch status {
	case club.StatusFuture:
		delta = 12 * time.Hour

	case club.StatusPast:
		elapsed := now.Sub(startOfDay(dateEnd))
		switch {
		case elapsed < 7*24*time.Hour:
			delta = 24 * time.Hour
		case elapsed < 90*24*time.Hour:
			delta = 7 * 24 * time.Hour
		case elapsed < 365*24*time.Hour:
			delta = 30 * 24 * time.Hour
		default:
			return nil // give up
		}

	default: // club.StatusClosed
		elapsed := now.Sub(startOfDay(dateEnd))
		switch {
		case elapsed < 7*24*time.Hour:
			// Double the time since close, but at least 6 hours.
			delta = 2 * elapsed
			if delta < 6*time.Hour {
				delta = 6 * time.Hour
			}
		case elapsed < 90*24*time.Hour:
			delta = 21 * 24 * time.Hour
		default:
			return nil // closed long ago, all changes complete
		}
	}

	next := now.Add(delta)
	return &next
}
