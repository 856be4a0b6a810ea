package dgraph

import (
	"strings"
	"testing"
	"time"
)

func TestPairKeyRoundTrip(t *testing.T) {
	key := pairKey("https://club.example.org/members/alice", "https://club.example.org/activities/loop")
	p, a := splitPairKey(key)
	if p != "https://club.example.org/members/alice" || a != "https://club.example.org/activities/loop" {
		t.Fatalf("round trip broke: %q %q", p, a)
	}
}

func TestUpsertBodyPlainMutation(t *testing.T) {
	tr := newTx(nil)
	subject := tr.blank("profile_url", "u")
	tr.setStr(subject, "full_name", "Alice")

	body := tr.upsertBody()
	if strings.Contains(body, "upsert") || strings.Contains(body, "query") {
		t.Fatalf("no uid resolution needed, expected a plain mutation:\n%s", body)
	}
	if !strings.Contains(body, `_:b0 <full_name> "Alice" .`) {
		t.Fatalf("missing set triple:\n%s", body)
	}
}

func TestUpsertBodyWithQueryVars(t *testing.T) {
	tr := newTx(nil)
	subject := tr.ref("activity_url", "https://club.example.org/activities/loop")
	tr.setStr(subject, "name", "Alpine Loop")
	tr.del = append(tr.del, subject+" <next_scrape> * .")

	body := tr.upsertBody()
	for _, want := range []string{
		"upsert {",
		`v0 as var(func: eq(activity_url, "https://club.example.org/activities/loop"))`,
		"uid(v0) <name> \"Alpine Loop\" .",
		"delete {",
		"uid(v0) <next_scrape> * .",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestRefReusesVars(t *testing.T) {
	tr := newTx(nil)
	first := tr.ref("profile_url", "u")
	second := tr.ref("profile_url", "u")
	if first != second {
		t.Fatalf("same key must reuse the var: %q vs %q", first, second)
	}
	if len(tr.queryVars) != 1 {
		t.Fatalf("want one query var, got %d", len(tr.queryVars))
	}
}

func TestSetOptTimeDeletesOnExistingNode(t *testing.T) {
	tr := newTx(nil)
	existing := tr.ref("activity_url", "u")
	tr.setOptTime(existing, "next_scrape", nil)
	if len(tr.del) != 1 || !strings.Contains(tr.del[0], "<next_scrape> * .") {
		t.Fatalf("nil on an existing node must clear the predicate, got %v", tr.del)
	}

	// On a blank node there is nothing to clear.
	fresh := newTx(nil)
	blank := fresh.blank("activity_url", "u2")
	fresh.setOptTime(blank, "next_scrape", nil)
	if len(fresh.del) != 0 || len(fresh.set) != 0 {
		t.Fatalf("nil on a new node writes nothing, got set=%v del=%v", fresh.set, fresh.del)
	}
}

func TestDqlTimeFormat(t *testing.T) {
	ts := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	got := dqlTime(ts)
	if !strings.Contains(got, "2025-06-01T08:30:00Z") || !strings.Contains(got, "xs:dateTime") {
		t.Fatalf("unexpected dql time literal: %s", got)
	}
}
