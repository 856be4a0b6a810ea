// Package store defines the storage contract the engine writes through.
// Two durable backends implement it (sqlite and dgraph) plus an in-memory
// one for tests and local development; all three must behave identically.
package store

import (
	"context"
	"errors"

	"github.com/alpenclub/tripscope/pkg/club"
)

// ErrIntegrity reports a natural-key uniqueness violation or a conflicting
// concurrent mutation. It is permanent; callers must not retry.
var ErrIntegrity = errors.New("store: integrity violation")

// Tx is the write scope of one atomic update. Writes issued through a Tx
// become visible together when the surrounding Update call returns nil, and
// not at all otherwise.
type Tx interface {
	CreatePerson(ctx context.Context, p *club.Person) error
	UpdatePerson(ctx context.Context, p *club.Person) error

	CreateActivity(ctx context.Context, a *club.Activity) error
	UpdateActivity(ctx context.Context, a *club.Activity) error

	CreateParticipation(ctx context.Context, pt *club.Participation) error
	UpdateParticipation(ctx context.Context, pt *club.Participation) error
	RemoveParticipation(ctx context.Context, profileURL, activityURL string) error
}

// Store is durable entity storage keyed by natural URLs. Find operations
// return (nil, nil) when no entity matches; errors are reserved for backend
// failures. Backends enforce uniqueness of profile_url and activity_url and
// of the (profile_url, activity_url) participation pair.
type Store interface {
	FindPersonByURL(ctx context.Context, profileURL string) (*club.Person, error)
	FindPersonByUsername(ctx context.Context, username string) (*club.Person, error)
	CreatePerson(ctx context.Context, p *club.Person) error
	UpdatePerson(ctx context.Context, p *club.Person) error

	FindActivityByURL(ctx context.Context, activityURL string) (*club.Activity, error)
	CreateActivity(ctx context.Context, a *club.Activity) error
	UpdateActivity(ctx context.Context, a *club.Activity) error

	FindParticipation(ctx context.Context, profileURL, activityURL string) (*club.Participation, error)
	CreateParticipation(ctx context.Context, pt *club.Participation) error
	UpdateParticipation(ctx context.Context, pt *club.Participation) error
	RemoveParticipation(ctx context.Context, profileURL, activityURL string) error

	// ListParticipationsForPerson returns the person's participations ordered
	// by the activity's start date, ascending.
	ListParticipationsForPerson(ctx context.Context, profileURL string) ([]club.Participation, error)

	// ListParticipationsForActivity returns the persisted roster of one
	// activity. Order is unspecified.
	ListParticipationsForActivity(ctx context.Context, activityURL string) ([]club.Participation, error)

	// Update runs fn against a write scope and commits it atomically.
	// A non-nil error from fn discards every write issued through the Tx.
	Update(ctx context.Context, fn func(tx Tx) error) error

	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// Stats summarizes what the store is tracking. PendingActivities counts
// activities with a scheduled refresh; StableActivities counts those whose
// next_scrape has gone null.
type Stats struct {
	Persons           int
	Activities        int
	Participations    int
	PendingActivities int
	StableActivities  int
}
