// Package club defines the persistent entities of the activity tracker:
// people, scheduled activities, and the participation records that join them.
package club

import "time"

// Activity lifecycle status as reported by the club site.
const (
	StatusFuture = "FU" // scheduled or currently happening
	StatusPast   = "PA" // has happened but not closed, may still change
	StatusClosed = "CL" // closed and unlikely to change
)

// Common registration and result strings observed on the site.
const (
	RegistrationRegistered = "Registered"
	RegistrationWaitlisted = "Waitlisted"
	RegistrationCanceled   = "Canceled"

	ResultSuccess      = "Success"
	ResultCanceled     = "Canceled"
	ResultTurnedAround = "Turned Around"
)

// Person is someone who joins activities. ProfileURL is the natural key;
// UserName is unique when set. A Person created from a roster sighting only
// has IsScraped=false and empty contact fields until their own profile page
// is fetched.
type Person struct {
	ProfileURL  string
	UserName    string
	FullName    string
	PortraitURL string
	Email       string
	Branch      string

	IsScraped   bool
	LastScraped *time.Time
}

// Stub reports whether this person has only been observed indirectly.
func (p *Person) Stub() bool {
	return !p.IsScraped
}

// Activity is one scheduled outing. ActivityURL is the natural key.
// NextScrape is nil once the activity is considered stable and no further
// refresh is scheduled.
type Activity struct {
	ActivityURL string
	Name        string
	DateStart   time.Time
	DateEnd     time.Time

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

	ScrapedAt        time.Time
	NextScrape       *time.Time
	ScrapeError      string
	ScrapeErrorCount int
	ScrapeErrorTime  *time.Time
}

// Participation joins one Person to one Activity. It is keyed by the
// (ProfileURL, ActivityURL) pair; at most one record exists per pair.
type Participation struct {
	ProfileURL  string
	ActivityURL string

	Role         string
	IsCanceled   bool
	Registration string
	Result       string
}
