package scrape

import (
	"fmt"
	"time"
)

// RetryableError is a transient failure (network hiccup, slow page, DNS blip)
// that may succeed if the same fetch is attempted again. Delay, when set, is
// the suggested wait before the next attempt.
type RetryableError struct {
	PageURL string
	Message string
	Delay   time.Duration
	Err     error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %s: %s", e.PageURL, e.Message)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// PageFormatError means the page loaded but its expected structure was
// absent. It signals site drift and is never retried.
type PageFormatError struct {
	PageURL string
	Message string
}

func (e *PageFormatError) Error() string {
	return fmt.Sprintf("page format: %s: %s", e.PageURL, e.Message)
}

// MissingContentError means the target no longer exists at the source.
// Never retried.
type MissingContentError struct {
	PageURL string
	Message string
}

func (e *MissingContentError) Error() string {
	return fmt.Sprintf("missing content: %s: %s", e.PageURL, e.Message)
}
