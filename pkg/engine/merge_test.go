package engine

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/scrape"
	"github.com/alpenclub/tripscope/pkg/store"
	"github.com/alpenclub/tripscope/pkg/store/memory"
)

const mergeActivityURL = "https://club.example.org/activities/alpine-loop"

func mergeStore(t *testing.T) *memory.DB {
	t.Helper()
	st := memory.New()
	err := st.CreateActivity(context.Background(), &club.Activity{
		ActivityURL: mergeActivityURL,
		Name:        "Alpine Loop",
		DateStart:   base,
		DateEnd:     base.Add(24 * time.Hour),
		Status:      club.StatusFuture,
	})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func applyMerge(t *testing.T, st store.Store, scraped []scrape.ParticipantSnapshot) {
	t.Helper()
	ctx := context.Background()
	m, err := planRosterMerge(ctx, st, mergeActivityURL, scraped, nopLogger{})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Update(ctx, func(tx store.Tx) error { return m.apply(ctx, tx) }); err != nil {
		t.Fatal(err)
	}
}

func rosterRoles(t *testing.T, st store.Store) map[string]string {
	t.Helper()
	pts, err := st.ListParticipationsForActivity(context.Background(), mergeActivityURL)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]string, len(pts))
	for _, pt := range pts {
		out[pt.ProfileURL] = pt.Role
	}
	return out
}

func participant(url, role string) scrape.ParticipantSnapshot {
	return scrape.ParticipantSnapshot{
		ProfileURL:   url,
		Name:         url,
		Role:         role,
		Registration: club.RegistrationRegistered,
	}
}

func TestMergeRosterScenario(t *testing.T) {
	st := mergeStore(t)

	applyMerge(t, st, []scrape.ParticipantSnapshot{
		participant("a", "Leader"),
		participant("b", "Participant"),
		participant("c", "Participant"),
	})

	// A demoted, B and C gone, D new.
	applyMerge(t, st, []scrape.ParticipantSnapshot{
		participant("a", "Co-Leader"),
		participant("d", "Participant"),
	})

	got := rosterRoles(t, st)
	if len(got) != 2 {
		t.Fatalf("want 2 participations, got %v", got)
	}
	if got["a"] != "Co-Leader" {
		t.Errorf("a: want Co-Leader, got %q", got["a"])
	}
	if got["d"] != "Participant" {
		t.Errorf("d: want Participant, got %q", got["d"])
	}
}

func TestMergeRosterIdempotent(t *testing.T) {
	st := mergeStore(t)
	snap := []scrape.ParticipantSnapshot{
		participant("a", "Leader"),
		participant("b", "Participant"),
	}

	applyMerge(t, st, snap)
	first := rosterRoles(t, st)
	applyMerge(t, st, snap)
	second := rosterRoles(t, st)

	if len(first) != len(second) {
		t.Fatalf("roster size changed: %v then %v", first, second)
	}
	for url, role := range first {
		if second[url] != role {
			t.Errorf("%s: role changed from %q to %q", url, role, second[url])
		}
	}
}

func TestMergeRosterConvergent(t *testing.T) {
	final := []scrape.ParticipantSnapshot{
		participant("b", "Leader"),
		participant("e", "Participant"),
	}

	// S1 then S2 on one store.
	seq := mergeStore(t)
	applyMerge(t, seq, []scrape.ParticipantSnapshot{
		participant("a", "Leader"),
		participant("b", "Participant"),
		participant("c", "Participant"),
	})
	applyMerge(t, seq, final)

	// S2 alone on a fresh store.
	direct := mergeStore(t)
	applyMerge(t, direct, final)

	gotSeq, gotDirect := rosterRoles(t, seq), rosterRoles(t, direct)
	seqKeys := make([]string, 0, len(gotSeq))
	for k := range gotSeq {
		seqKeys = append(seqKeys, k)
	}
	sort.Strings(seqKeys)
	if len(gotSeq) != len(gotDirect) {
		t.Fatalf("rosters diverged: %v vs %v", gotSeq, gotDirect)
	}
	for _, k := range seqKeys {
		if gotSeq[k] != gotDirect[k] {
			t.Errorf("%s: %q vs %q", k, gotSeq[k], gotDirect[k])
		}
	}
}

func TestMergeRosterRemovesAbsent(t *testing.T) {
	st := mergeStore(t)
	applyMerge(t, st, []scrape.ParticipantSnapshot{
		participant("a", "Leader"),
		participant("b", "Participant"),
	})
	applyMerge(t, st, []scrape.ParticipantSnapshot{
		participant("a", "Leader"),
	})

	if got := rosterRoles(t, st); len(got) != 1 || got["a"] == "" {
		t.Fatalf("want only a on the roster, got %v", got)
	}
	// The removed person's record survives, only the participation goes.
	p, err := st.FindPersonByURL(context.Background(), "b")
	if err != nil || p == nil {
		t.Fatalf("person b should still exist: %v %v", p, err)
	}
}

func TestMergeRosterCreatesStubsOnce(t *testing.T) {
	st := mergeStore(t)
	ctx := context.Background()

	m, err := planRosterMerge(ctx, st, mergeActivityURL, []scrape.ParticipantSnapshot{
		participant("a", "Leader"),
	}, nopLogger{})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.stubs) != 1 {
		t.Fatalf("want one planned stub, got %d", len(m.stubs))
	}
	if m.stubs[0].IsScraped {
		t.Error("stub must not claim to be scraped")
	}
	if err := st.Update(ctx, func(tx store.Tx) error { return m.apply(ctx, tx) }); err != nil {
		t.Fatal(err)
	}

	// Known person next time: no new stub.
	m, err = planRosterMerge(ctx, st, mergeActivityURL, []scrape.ParticipantSnapshot{
		participant("a", "Leader"),
	}, nopLogger{})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.stubs) != 0 {
		t.Fatalf("want no stubs for a known person, got %d", len(m.stubs))
	}
}
