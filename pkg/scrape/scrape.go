// Package scrape defines the contract between the reconciliation engine and
// whatever fetches pages from the club site: the snapshot types the engine
// consumes and the error taxonomy it retries or gives up on.
package scrape

import (
	"context"
	"time"
)

// ProfileSnapshot is the normalized content of one member profile page.
type ProfileSnapshot struct {
	ProfileURL  string
	FullName    string
	PortraitURL string
	Email       string
	Branch      string
}

// ActivityStub is one row of a member's activity listing. It carries enough
// to decide whether a full detail fetch is needed, nothing more.
type ActivityStub struct {
	ActivityURL  string
	Name         string
	IsCanceled   bool
	IsFuture     bool
	Role         string
	Registration string
	MemberResult string
	// ActivityResult is the whole-activity outcome shown on past rows.
	ActivityResult string
}

// ParticipantSnapshot is one roster entry on an activity detail page.
type ParticipantSnapshot struct {
	ProfileURL   string
	Name         string
	Role         string
	IsCanceled   bool
	Registration string
	Result       string
}

// ActivitySnapshot is the full detail of one activity page, roster included.
// Participants preserve page order.
type ActivitySnapshot struct {
	ActivityURL  string
	Name         string
	DateStart    time.Time
	DateEnd      time.Time
	Committee    string
	Branch       string
	ActivityType string
	Difficulty   string
	LeaderRating string
	Mileage      string
	RouteName    string
	RouteURL     string
	Status       string
	Result       string
	Participants []ParticipantSnapshot
}

// Adapter fetches normalized snapshots from the club site. Implementations
// hold one navigable session; callers must not share an Adapter across
// concurrent engine instances.
type Adapter interface {
	// Login authenticates the session. Must be called before any fetch.
	Login(ctx context.Context, username, password string) error

	// FetchCurrentProfile returns the logged-in member's own profile.
	FetchCurrentProfile(ctx context.Context) (*ProfileSnapshot, error)

	// FetchProfile returns the profile at the given URL. A bare last path
	// component is resolved against the site's member root.
	FetchProfile(ctx context.Context, profileURL string) (*ProfileSnapshot, error)

	// FetchMemberActivityStubs lists the member's activities, canceled rows
	// included, in page order.
	FetchMemberActivityStubs(ctx context.Context, profileURL string) ([]ActivityStub, error)

	// FetchActivityDetail fetches one activity page and its roster.
	FetchActivityDetail(ctx context.Context, activityURL string) (*ActivitySnapshot, error)
}
