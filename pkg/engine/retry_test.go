package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpenclub/tripscope/pkg/scrape"
	"github.com/alpenclub/tripscope/pkg/store/memory"
)

// flakyAdapter fails FetchActivityDetail with scripted errors before
// succeeding. Everything else is unused.
type flakyAdapter struct {
	fakeAdapter
	failures []error
	calls    int
}

func (f *flakyAdapter) FetchActivityDetail(ctx context.Context, activityURL string) (*scrape.ActivitySnapshot, error) {
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	return &scrape.ActivitySnapshot{ActivityURL: activityURL}, nil
}

func retryEngine(a scrape.Adapter) (*Engine, *[]time.Duration) {
	var slept []time.Duration
	e := New(Config{
		Adapter: a,
		Store:   memory.New(),
		Now:     func() time.Time { return base },
		Sleep:   func(d time.Duration) { slept = append(slept, d) },
	})
	return e, &slept
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	a := &flakyAdapter{failures: []error{
		&scrape.RetryableError{PageURL: "u", Message: "timeout", Delay: 5 * time.Second},
		&scrape.RetryableError{PageURL: "u", Message: "timeout", Delay: 10 * time.Second},
	}}
	e, slept := retryEngine(a)

	snap, err := e.fetchActivityDetail(context.Background(), "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap == nil || a.calls != 3 {
		t.Fatalf("expected success on attempt 3, got %d calls", a.calls)
	}

	var total time.Duration
	for _, d := range *slept {
		total += d
	}
	// Suggested delays plus the fixed settle after each.
	if want := (5+20+10+20) * time.Second; total < want {
		t.Fatalf("slept %s, want at least %s", total, want)
	}
}

func TestFetchRetryDefaultDelay(t *testing.T) {
	a := &flakyAdapter{failures: []error{
		&scrape.RetryableError{PageURL: "u", Message: "flaky"},
	}}
	e, slept := retryEngine(a)

	if _, err := e.fetchActivityDetail(context.Background(), "u"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*slept) != 2 || (*slept)[0] != 60*time.Second || (*slept)[1] != 20*time.Second {
		t.Fatalf("unexpected sleeps: %v", *slept)
	}
}

func TestFetchRetryExhaustion(t *testing.T) {
	transient := &scrape.RetryableError{PageURL: "u", Message: "timeout", Delay: time.Second}
	a := &flakyAdapter{failures: []error{transient, transient, transient}}
	e, _ := retryEngine(a)

	_, err := e.fetchActivityDetail(context.Background(), "u")
	var re *scrape.RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("want the last transient error back, got %v", err)
	}
	if a.calls != 3 {
		t.Fatalf("want exactly 3 attempts, got %d", a.calls)
	}
}

func TestFetchPermanentErrorNotRetried(t *testing.T) {
	a := &flakyAdapter{failures: []error{
		&scrape.PageFormatError{PageURL: "u", Message: "roster table missing"},
	}}
	e, slept := retryEngine(a)

	_, err := e.fetchActivityDetail(context.Background(), "u")
	var pf *scrape.PageFormatError
	if !errors.As(err, &pf) {
		t.Fatalf("want the page format error, got %v", err)
	}
	if a.calls != 1 {
		t.Fatalf("permanent error must not be retried, got %d calls", a.calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("no sleeps expected, got %v", *slept)
	}
}
