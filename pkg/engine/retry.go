package engine

import (
	"context"
	"errors"
	"time"

	"github.com/alpenclub/tripscope/pkg/scrape"
)

const (
	// maxFetchAttempts bounds how often one detail fetch is retried.
	maxFetchAttempts = 3
	// defaultRetryDelay applies when the error carries no suggestion.
	defaultRetryDelay = 60 * time.Second
	// settleDelay is always added after a retry delay to let the remote
	// session settle before the next navigation.
	settleDelay = 20 * time.Second
)

// fetchActivityDetail fetches one activity page, retrying transient failures
// up to maxFetchAttempts. Permanent errors propagate immediately; on retry
// exhaustion the last transient error is returned as fatal for this target.
func (e *Engine) fetchActivityDetail(ctx context.Context, activityURL string) (*scrape.ActivitySnapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		snap, err := e.adapter.FetchActivityDetail(ctx, activityURL)
		if err == nil {
			return snap, nil
		}

		var retryable *scrape.RetryableError
		if !errors.As(err, &retryable) {
			return nil, err
		}
		lastErr = err
		if attempt == maxFetchAttempts {
			break
		}

		delay := retryable.Delay
		if delay <= 0 {
			delay = defaultRetryDelay
		}
		e.log.Warnf("retryable error on %s: %s (attempt %d/%d, retrying in %s)",
			activityURL, retryable.Message, attempt, maxFetchAttempts, delay)
		e.sleep(delay)
		e.sleep(settleDelay)
	}
	return nil, lastErr
}
