// Package storetest is a conformance suite for store.Store backends. Every
// backend must pass it unchanged; the engine depends on the backends being
// behaviorally interchangeable.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

var (
	t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	alice = club.Person{
		ProfileURL: "https://club.example.org/members/alice",
		UserName:   "alice",
		FullName:   "Alice Example",
		Email:      "alice@example.org",
		Branch:     "Everett",
		IsScraped:  true,
	}
	bob = club.Person{
		ProfileURL: "https://club.example.org/members/bob",
		FullName:   "Bob Example",
	}
)

func activity(url string, start time.Time) club.Activity {
	return club.Activity{
		ActivityURL: url,
		Name:        url,
		DateStart:   start,
		DateEnd:     start.Add(24 * time.Hour),
		Status:      club.StatusFuture,
		ScrapedAt:   t0,
	}
}

// Run exercises one backend against the whole contract.
func Run(t *testing.T, factory Factory) {
	t.Run("FindMissReturnsNil", func(t *testing.T) { testFindMiss(t, factory(t)) })
	t.Run("PersonRoundTrip", func(t *testing.T) { testPersonRoundTrip(t, factory(t)) })
	t.Run("PersonUniqueness", func(t *testing.T) { testPersonUniqueness(t, factory(t)) })
	t.Run("ActivityRoundTrip", func(t *testing.T) { testActivityRoundTrip(t, factory(t)) })
	t.Run("ActivityNextScrapeNullable", func(t *testing.T) { testNextScrapeNullable(t, factory(t)) })
	t.Run("ParticipationLifecycle", func(t *testing.T) { testParticipationLifecycle(t, factory(t)) })
	t.Run("ParticipationIntegrity", func(t *testing.T) { testParticipationIntegrity(t, factory(t)) })
	t.Run("ListForPersonOrdered", func(t *testing.T) { testListForPersonOrdered(t, factory(t)) })
	t.Run("UpdateAtomicity", func(t *testing.T) { testUpdateAtomicity(t, factory(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, factory(t)) })
}

func testFindMiss(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	p, err := st.FindPersonByURL(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, p)

	p, err = st.FindPersonByUsername(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, p)

	a, err := st.FindActivityByURL(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, a)

	pt, err := st.FindParticipation(ctx, "nope", "nope")
	require.NoError(t, err)
	require.Nil(t, pt)
}

func testPersonRoundTrip(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	scraped := t0
	p := alice
	p.LastScraped = &scraped
	require.NoError(t, st.CreatePerson(ctx, &p))

	got, err := st.FindPersonByURL(ctx, alice.ProfileURL)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, alice.FullName, got.FullName)
	require.Equal(t, alice.Email, got.Email)
	require.True(t, got.IsScraped)
	require.NotNil(t, got.LastScraped)
	require.True(t, got.LastScraped.Equal(scraped))

	byName, err := st.FindPersonByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, byName)
	require.Equal(t, alice.ProfileURL, byName.ProfileURL)

	// Stub promotion: update fills in the contact fields.
	stub := bob
	require.NoError(t, st.CreatePerson(ctx, &stub))
	full := bob
	full.Email = "bob@example.org"
	full.IsScraped = true
	full.LastScraped = &scraped
	require.NoError(t, st.UpdatePerson(ctx, &full))

	got, err = st.FindPersonByURL(ctx, bob.ProfileURL)
	require.NoError(t, err)
	require.Equal(t, "bob@example.org", got.Email)
	require.True(t, got.IsScraped)
}

func testPersonUniqueness(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	p := alice
	require.NoError(t, st.CreatePerson(ctx, &p))

	dup := alice
	err := st.CreatePerson(ctx, &dup)
	require.ErrorIs(t, err, store.ErrIntegrity)

	sameName := club.Person{ProfileURL: "https://club.example.org/members/alice2", UserName: "alice"}
	err = st.CreatePerson(ctx, &sameName)
	require.ErrorIs(t, err, store.ErrIntegrity)

	// Empty usernames never collide.
	b := bob
	require.NoError(t, st.CreatePerson(ctx, &b))
	c := club.Person{ProfileURL: "https://club.example.org/members/carol", FullName: "Carol"}
	require.NoError(t, st.CreatePerson(ctx, &c))

	missing := club.Person{ProfileURL: "https://club.example.org/members/nobody"}
	err = st.UpdatePerson(ctx, &missing)
	require.ErrorIs(t, err, store.ErrIntegrity)
}

func testActivityRoundTrip(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	next := t0.Add(12 * time.Hour)
	errTime := t0.Add(-time.Hour)
	a := activity("https://club.example.org/activities/alpine-loop", t0)
	a.Committee = "Climbing"
	a.Difficulty = "Strenuous"
	a.Mileage = "12 mi"
	a.NextScrape = &next
	a.ScrapeError = "timeout"
	a.ScrapeErrorCount = 2
	a.ScrapeErrorTime = &errTime
	require.NoError(t, st.CreateActivity(ctx, &a))

	got, err := st.FindActivityByURL(ctx, a.ActivityURL)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, a.Committee, got.Committee)
	require.Equal(t, a.Difficulty, got.Difficulty)
	require.Equal(t, a.Mileage, got.Mileage)
	require.Equal(t, 2, got.ScrapeErrorCount)
	require.True(t, got.DateStart.Equal(a.DateStart))
	require.True(t, got.DateEnd.Equal(a.DateEnd))
	require.NotNil(t, got.NextScrape)
	require.True(t, got.NextScrape.Equal(next))
	require.NotNil(t, got.ScrapeErrorTime)
	require.True(t, got.ScrapeErrorTime.Equal(errTime))

	err = st.CreateActivity(ctx, &a)
	require.ErrorIs(t, err, store.ErrIntegrity)

	missing := activity("https://club.example.org/activities/ghost", t0)
	err = st.UpdateActivity(ctx, &missing)
	require.ErrorIs(t, err, store.ErrIntegrity)
}

func testNextScrapeNullable(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	next := t0.Add(12 * time.Hour)
	a := activity("https://club.example.org/activities/alpine-loop", t0)
	a.NextScrape = &next
	require.NoError(t, st.CreateActivity(ctx, &a))

	// The activity goes stable: next_scrape must read back as nil.
	a.NextScrape = nil
	a.Status = club.StatusClosed
	require.NoError(t, st.UpdateActivity(ctx, &a))

	got, err := st.FindActivityByURL(ctx, a.ActivityURL)
	require.NoError(t, err)
	require.Nil(t, got.NextScrape)
	require.Equal(t, club.StatusClosed, got.Status)
}

func seedPair(t *testing.T, st store.Store) (club.Person, club.Activity) {
	t.Helper()
	ctx := context.Background()
	p := alice
	require.NoError(t, st.CreatePerson(ctx, &p))
	a := activity("https://club.example.org/activities/alpine-loop", t0)
	require.NoError(t, st.CreateActivity(ctx, &a))
	return p, a
}

func testParticipationLifecycle(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()
	p, a := seedPair(t, st)

	pt := club.Participation{
		ProfileURL:   p.ProfileURL,
		ActivityURL:  a.ActivityURL,
		Role:         "Leader",
		Registration: club.RegistrationRegistered,
	}
	require.NoError(t, st.CreateParticipation(ctx, &pt))

	got, err := st.FindParticipation(ctx, p.ProfileURL, a.ActivityURL)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Leader", got.Role)

	pt.Role = "Co-Leader"
	pt.Result = club.ResultSuccess
	require.NoError(t, st.UpdateParticipation(ctx, &pt))
	got, err = st.FindParticipation(ctx, p.ProfileURL, a.ActivityURL)
	require.NoError(t, err)
	require.Equal(t, "Co-Leader", got.Role)
	require.Equal(t, club.ResultSuccess, got.Result)

	require.NoError(t, st.RemoveParticipation(ctx, p.ProfileURL, a.ActivityURL))
	got, err = st.FindParticipation(ctx, p.ProfileURL, a.ActivityURL)
	require.NoError(t, err)
	require.Nil(t, got)

	// Removing what is not there is not an error.
	require.NoError(t, st.RemoveParticipation(ctx, p.ProfileURL, a.ActivityURL))
}

func testParticipationIntegrity(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()
	p, a := seedPair(t, st)

	pt := club.Participation{ProfileURL: p.ProfileURL, ActivityURL: a.ActivityURL, Role: "Leader"}
	require.NoError(t, st.CreateParticipation(ctx, &pt))

	err := st.CreateParticipation(ctx, &pt)
	require.ErrorIs(t, err, store.ErrIntegrity)

	orphan := club.Participation{ProfileURL: "nope", ActivityURL: a.ActivityURL}
	err = st.CreateParticipation(ctx, &orphan)
	require.ErrorIs(t, err, store.ErrIntegrity)

	orphan = club.Participation{ProfileURL: p.ProfileURL, ActivityURL: "nope"}
	err = st.CreateParticipation(ctx, &orphan)
	require.ErrorIs(t, err, store.ErrIntegrity)

	ghost := club.Participation{ProfileURL: p.ProfileURL, ActivityURL: a.ActivityURL, Role: "x"}
	ghost.ProfileURL = "nope"
	err = st.UpdateParticipation(ctx, &ghost)
	require.ErrorIs(t, err, store.ErrIntegrity)
}

func testListForPersonOrdered(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	p := alice
	require.NoError(t, st.CreatePerson(ctx, &p))

	// Created out of date order on purpose.
	urls := []string{
		"https://club.example.org/activities/c",
		"https://club.example.org/activities/a",
		"https://club.example.org/activities/b",
	}
	starts := []time.Time{
		t0.Add(72 * time.Hour),
		t0,
		t0.Add(24 * time.Hour),
	}
	for i, url := range urls {
		a := activity(url, starts[i])
		require.NoError(t, st.CreateActivity(ctx, &a))
		pt := club.Participation{ProfileURL: p.ProfileURL, ActivityURL: url, Role: "Participant"}
		require.NoError(t, st.CreateParticipation(ctx, &pt))
	}

	pts, err := st.ListParticipationsForPerson(ctx, p.ProfileURL)
	require.NoError(t, err)
	require.Len(t, pts, 3)
	require.Equal(t, "https://club.example.org/activities/a", pts[0].ActivityURL)
	require.Equal(t, "https://club.example.org/activities/b", pts[1].ActivityURL)
	require.Equal(t, "https://club.example.org/activities/c", pts[2].ActivityURL)

	roster, err := st.ListParticipationsForActivity(ctx, urls[0])
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, p.ProfileURL, roster[0].ProfileURL)
}

func testUpdateAtomicity(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()
	p, a := seedPair(t, st)

	// fn fails after staging writes: none of them may land.
	err := st.Update(ctx, func(tx store.Tx) error {
		pt := club.Participation{ProfileURL: p.ProfileURL, ActivityURL: a.ActivityURL, Role: "Leader"}
		if err := tx.CreateParticipation(ctx, &pt); err != nil {
			return err
		}
		changed := a
		changed.Name = "renamed"
		if err := tx.UpdateActivity(ctx, &changed); err != nil {
			return err
		}
		return context.Canceled
	})
	require.Error(t, err)

	got, err := st.FindParticipation(ctx, p.ProfileURL, a.ActivityURL)
	require.NoError(t, err)
	require.Nil(t, got)

	act, err := st.FindActivityByURL(ctx, a.ActivityURL)
	require.NoError(t, err)
	require.Equal(t, a.Name, act.Name)

	// And a clean run commits everything together.
	err = st.Update(ctx, func(tx store.Tx) error {
		pt := club.Participation{ProfileURL: p.ProfileURL, ActivityURL: a.ActivityURL, Role: "Leader"}
		if err := tx.CreateParticipation(ctx, &pt); err != nil {
			return err
		}
		changed := a
		changed.Name = "renamed"
		return tx.UpdateActivity(ctx, &changed)
	})
	require.NoError(t, err)

	got, err = st.FindParticipation(ctx, p.ProfileURL, a.ActivityURL)
	require.NoError(t, err)
	require.NotNil(t, got)
	act, err = st.FindActivityByURL(ctx, a.ActivityURL)
	require.NoError(t, err)
	require.Equal(t, "renamed", act.Name)
}

func testStats(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()
	p, a := seedPair(t, st)

	next := t0.Add(12 * time.Hour)
	pending := activity("https://club.example.org/activities/pending", t0)
	pending.NextScrape = &next
	require.NoError(t, st.CreateActivity(ctx, &pending))

	pt := club.Participation{ProfileURL: p.ProfileURL, ActivityURL: a.ActivityURL}
	require.NoError(t, st.CreateParticipation(ctx, &pt))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Persons)
	require.Equal(t, 2, stats.Activities)
	require.Equal(t, 1, stats.Participations)
	require.Equal(t, 1, stats.PendingActivities)
	require.Equal(t, 1, stats.StableActivities)
}
