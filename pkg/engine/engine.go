// Package engine drives the reconciliation cycle: it decides which
// activities are stale, fetches fresh snapshots through a scrape.Adapter,
// and merges them into a store.Store. One Engine owns one adapter session
// and must not be shared across goroutines.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/scrape"
	"github.com/alpenclub/tripscope/pkg/store"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// profileScrapeInterval is how long a scraped profile stays fresh before the
// next cycle refreshes it.
const profileScrapeInterval = 7 * 24 * time.Hour

// Config holds everything New needs to build an Engine.
type Config struct {
	Adapter  scrape.Adapter
	Store    store.Store
	Username string
	Password string

	// ForceFutureRescan refreshes future activities even when their
	// schedule says they are not due yet.
	ForceFutureRescan bool

	Log   Logger              // optional; nil = no logging
	Now   func() time.Time    // optional; nil = time.Now
	Sleep func(time.Duration) // optional; nil = time.Sleep
}

// Engine runs the per-person scrape cycle. Methods are synchronous and
// sequential; the adapter session processes one page at a time.
type Engine struct {
	adapter     scrape.Adapter
	store       store.Store
	username    string
	password    string
	forceFuture bool

	log   Logger
	now   func() time.Time
	sleep func(time.Duration)

	loggedIn      bool
	ownProfileURL string
}

func New(cfg Config) *Engine {
	e := &Engine{
		adapter:     cfg.Adapter,
		store:       cfg.Store,
		username:    cfg.Username,
		password:    cfg.Password,
		forceFuture: cfg.ForceFutureRescan,
		log:         cfg.Log,
		now:         cfg.Now,
		sleep:       cfg.Sleep,
	}
	if e.log == nil {
		e.log = nopLogger{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = time.Sleep
	}
	return e
}

// SetForceFutureRescan toggles refreshing future activities regardless of
// their schedule.
func (e *Engine) SetForceFutureRescan(force bool) {
	e.forceFuture = force
}

// Login authenticates the adapter session and makes sure the logged-in
// member's own profile is stored and fresh.
func (e *Engine) Login(ctx context.Context) error {
	if err := e.adapter.Login(ctx, e.username, e.password); err != nil {
		return err
	}
	e.loggedIn = true
	e.log.Infof("logged in as %s", e.username)

	own, err := e.store.FindPersonByUsername(ctx, e.username)
	if err != nil {
		return err
	}
	if own != nil && !e.profileStale(own) {
		e.ownProfileURL = own.ProfileURL
		return nil
	}

	snap, err := e.adapter.FetchCurrentProfile(ctx)
	if err != nil {
		return err
	}
	person, err := e.savePersonSnapshot(ctx, snap, e.username)
	if err != nil {
		return err
	}
	e.ownProfileURL = person.ProfileURL
	return nil
}

// profileStale reports whether a person's own page needs a re-fetch.
func (e *Engine) profileStale(p *club.Person) bool {
	if !p.IsScraped || p.LastScraped == nil {
		return true
	}
	return e.now().Sub(*p.LastScraped) > profileScrapeInterval
}

// savePersonSnapshot creates or updates the full person record for a fetched
// profile. A username is only attached for the logged-in member; anyone
// else's existing username survives the refresh.
func (e *Engine) savePersonSnapshot(ctx context.Context, snap *scrape.ProfileSnapshot, username string) (*club.Person, error) {
	now := e.now()
	p := &club.Person{
		ProfileURL:  snap.ProfileURL,
		UserName:    username,
		FullName:    snap.FullName,
		PortraitURL: snap.PortraitURL,
		Email:       snap.Email,
		Branch:      snap.Branch,
		IsScraped:   true,
		LastScraped: &now,
	}

	existing, err := e.store.FindPersonByURL(ctx, snap.ProfileURL)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := e.store.CreatePerson(ctx, p); err != nil {
			return nil, err
		}
		e.log.Infof("created person %s (%s)", p.FullName, p.ProfileURL)
		return p, nil
	}
	if p.UserName == "" {
		p.UserName = existing.UserName
	}
	if err := e.store.UpdatePerson(ctx, p); err != nil {
		return nil, err
	}
	e.log.Infof("refreshed person %s (%s)", p.FullName, p.ProfileURL)
	return p, nil
}

// resolveTarget returns the stored person whose activities this cycle will
// reconcile, fetching their profile first when unseen or stale. An empty
// profileURL means the logged-in member.
func (e *Engine) resolveTarget(ctx context.Context, profileURL string) (*club.Person, error) {
	if profileURL == "" {
		profileURL = e.ownProfileURL
	}
	if profileURL == e.ownProfileURL {
		// Login already ensured freshness.
		return e.store.FindPersonByURL(ctx, profileURL)
	}

	person, err := e.store.FindPersonByURL(ctx, profileURL)
	if err != nil {
		return nil, err
	}
	if person != nil && !e.profileStale(person) {
		return person, nil
	}

	snap, err := e.adapter.FetchProfile(ctx, profileURL)
	if err != nil {
		return nil, err
	}
	return e.savePersonSnapshot(ctx, snap, "")
}

// ScrapeProfile runs the full reconciliation cycle for one member: profile
// freshness, activity discovery, due-ness evaluation, detail fetch, merge.
// An empty profileURL targets the logged-in member. Activities committed
// before a fatal error stay committed.
func (e *Engine) ScrapeProfile(ctx context.Context, profileURL string) error {
	if !e.loggedIn {
		if err := e.Login(ctx); err != nil {
			return err
		}
	}

	target, err := e.resolveTarget(ctx, profileURL)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("engine: no person resolved for %q", profileURL)
	}

	stubs, err := e.adapter.FetchMemberActivityStubs(ctx, target.ProfileURL)
	if err != nil {
		return err
	}
	e.log.Infof("found %d activities for %s", len(stubs), target.FullName)

	for _, stub := range stubs {
		if err := e.processStub(ctx, target, stub); err != nil {
			return err
		}
	}
	return nil
}

// processStub reconciles one row of the member's activity listing.
func (e *Engine) processStub(ctx context.Context, target *club.Person, stub scrape.ActivityStub) error {
	existing, err := e.store.FindActivityByURL(ctx, stub.ActivityURL)
	if err != nil {
		return err
	}

	if existing == nil {
		if stub.IsCanceled {
			// Never tracked, canceled by this member: nothing to record.
			e.log.Debugf("skipping canceled %s", stub.ActivityURL)
			return nil
		}
		snap, err := e.fetchActivityDetail(ctx, stub.ActivityURL)
		if err != nil {
			return err
		}
		return e.storeActivity(ctx, nil, snap)
	}

	if stub.IsCanceled {
		// Drop only this member's participation. The activity and everyone
		// else's rows stay.
		pt, err := e.store.FindParticipation(ctx, target.ProfileURL, stub.ActivityURL)
		if err != nil {
			return err
		}
		if pt == nil {
			return nil
		}
		e.log.Infof("removing canceled participation of %s on %s", target.FullName, stub.ActivityURL)
		return e.store.RemoveParticipation(ctx, target.ProfileURL, stub.ActivityURL)
	}

	if !e.activityDue(existing) {
		return nil
	}

	snap, err := e.fetchActivityDetail(ctx, stub.ActivityURL)
	if err != nil {
		if berr := e.recordFetchError(ctx, existing, err); berr != nil {
			e.log.Errorf("recording fetch error on %s: %v", existing.ActivityURL, berr)
		}
		return err
	}
	return e.storeActivity(ctx, existing, snap)
}

// activityDue reports whether a tracked activity should be re-fetched now.
func (e *Engine) activityDue(a *club.Activity) bool {
	now := e.now()
	if e.forceFuture && ActivityTimeStatus(a, now) == TimeFuture {
		return true
	}
	return a.NextScrape != nil && !a.NextScrape.After(now)
}

// recordFetchError stamps the failure onto the activity so long-running
// trouble with one page is visible in the store.
func (e *Engine) recordFetchError(ctx context.Context, a *club.Activity, fetchErr error) error {
	now := e.now()
	a.ScrapeError = fetchErr.Error()
	a.ScrapeErrorCount++
	a.ScrapeErrorTime = &now
	return e.store.UpdateActivity(ctx, a)
}

// storeActivity commits one fetched snapshot: the activity record, its
// recomputed schedule, and the reconciled roster, all in one write scope.
// existing is nil on first observation.
func (e *Engine) storeActivity(ctx context.Context, existing *club.Activity, snap *scrape.ActivitySnapshot) error {
	now := e.now()
	a := &club.Activity{
		ActivityURL:  snap.ActivityURL,
		Name:         snap.Name,
		DateStart:    snap.DateStart,
		DateEnd:      snap.DateEnd,
		Committee:    snap.Committee,
		Branch:       snap.Branch,
		ActivityType: snap.ActivityType,
		Difficulty:   snap.Difficulty,
		LeaderRating: snap.LeaderRating,
		Mileage:      snap.Mileage,
		RouteName:    snap.RouteName,
		RouteURL:     snap.RouteURL,
		Status:       snap.Status,
		Result:       snap.Result,
		ScrapedAt:    now,
		NextScrape:   NextScrape(snap.Status, snap.DateEnd, now),
		// A successful fetch clears any recorded trouble.
	}

	merge, err := planRosterMerge(ctx, e.store, snap.ActivityURL, snap.Participants, e.log)
	if err != nil {
		return err
	}

	err = e.store.Update(ctx, func(tx store.Tx) error {
		if existing == nil {
			if err := tx.CreateActivity(ctx, a); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateActivity(ctx, a); err != nil {
				return err
			}
		}
		return merge.apply(ctx, tx)
	})
	if err != nil {
		return err
	}

	if a.NextScrape != nil {
		e.log.Infof("stored %s, next scrape %s", a.Name, a.NextScrape.Format(time.RFC3339))
	} else {
		e.log.Infof("stored %s, now stable", a.Name)
	}
	return nil
}

// UpdateSingleActivity fetches and merges exactly one already-known activity,
// regardless of its schedule.
func (e *Engine) UpdateSingleActivity(ctx context.Context, activityURL string) error {
	if !e.loggedIn {
		if err := e.Login(ctx); err != nil {
			return err
		}
	}

	existing, err := e.store.FindActivityByURL(ctx, activityURL)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("engine: activity %s not tracked", activityURL)
	}

	snap, err := e.fetchActivityDetail(ctx, activityURL)
	if err != nil {
		if berr := e.recordFetchError(ctx, existing, err); berr != nil {
			e.log.Errorf("recording fetch error on %s: %v", activityURL, berr)
		}
		return err
	}
	return e.storeActivity(ctx, existing, snap)
}
