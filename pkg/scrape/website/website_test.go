package website

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/scrape"
)

func mustDoc(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		in         string
		start, end string
	}{
		{"Sat, Jun 14, 2025", "2025-06-14", "2025-06-14"},
		{"Sat, Jun 14, 2025 from 8:00 AM - 5:00 PM", "2025-06-14", "2025-06-14"},
		{"Sat, Jun 14, 2025 – Sun, Jun 15, 2025", "2025-06-14", "2025-06-15"},
		{"Mon, Dec 1, 2025", "2025-12-01", "2025-12-01"},
	}
	for _, tt := range tests {
		start, end, err := parseDateRange(tt.in)
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if got := start.Format("2006-01-02"); got != tt.start {
			t.Errorf("%q: start %s, want %s", tt.in, got, tt.start)
		}
		if got := end.Format("2006-01-02"); got != tt.end {
			t.Errorf("%q: end %s, want %s", tt.in, got, tt.end)
		}
	}

	if _, _, err := parseDateRange("next Tuesday, probably"); err == nil {
		t.Error("garbage date should not parse")
	}
}

func TestParseProfile(t *testing.T) {
	doc := mustDoc(t, `
		<div class="profile-wrapper">
			<div class="portrait"><img src="/portraits/alice.jpg"></div>
			<h1>Alice Example</h1>
			<ul class="details no-bullets">
				<li>Member since 2019</li>
				<li>Branch: <a href="/branches/everett">Everett</a></li>
			</ul>
			<div class="email"><a href="mailto:alice@example.org">alice@example.org</a></div>
		</div>`)

	snap, err := parseProfile(doc, "https://club.example.org/members/alice/")
	if err != nil {
		t.Fatal(err)
	}
	if snap.ProfileURL != "https://club.example.org/members/alice" {
		t.Errorf("trailing slash should be stripped, got %q", snap.ProfileURL)
	}
	if snap.FullName != "Alice Example" || snap.Branch != "Everett" ||
		snap.Email != "alice@example.org" || snap.PortraitURL != "/portraits/alice.jpg" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestParseProfileMissingWrapper(t *testing.T) {
	doc := mustDoc(t, `<div class="something-else"></div>`)
	_, err := parseProfile(doc, "u")
	var pf *scrape.PageFormatError
	if !errors.As(err, &pf) {
		t.Fatalf("want PageFormatError, got %v", err)
	}
}

const stubsPage = `
<table class="listing">
	<tr class="activity-listing">
		<td data-th="Activity/Event"><a href="https://club.example.org/activities/alpine-loop">Alpine Loop</a></td>
		<td data-th="Status">Registered</td>
		<td data-th="Role">Leader</td>
	</tr>
	<tr class="activity-listing">
		<td data-th="Activity/Event"><a href="https://club.example.org/activities/river-paddle">River Paddle</a></td>
		<td data-th="Role: Result"><span>Participant</span><span>:</span><span>Successful</span></td>
		<td data-th="Registration Status">Registered</td>
		<td data-th="Trip Result">Success</td>
	</tr>
	<tr class="activity-listing">
		<td data-th="Activity/Event"><a href="https://club.example.org/activities/ridge-walk">Ridge Walk</a></td>
		<td data-th="Role: Result"><span>Participant</span></td>
		<td data-th="Registration Status">Canceled</td>
		<td data-th="Trip Result"></td>
	</tr>
</table>`

func TestParseActivityStubs(t *testing.T) {
	stubs, err := parseActivityStubs(mustDoc(t, stubsPage), "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(stubs) != 3 {
		t.Fatalf("want 3 stubs, got %d", len(stubs))
	}

	future := stubs[0]
	if !future.IsFuture || future.Role != "Leader" || future.Registration != "Registered" {
		t.Errorf("future row misparsed: %+v", future)
	}
	if future.IsCanceled {
		t.Error("registered future row must not be canceled")
	}

	past := stubs[1]
	if past.IsFuture || past.Role != "Participant" || past.MemberResult != "Successful" ||
		past.ActivityResult != "Success" {
		t.Errorf("past row misparsed: %+v", past)
	}

	canceled := stubs[2]
	if !canceled.IsCanceled {
		t.Errorf("canceled registration should mark the stub canceled: %+v", canceled)
	}
}

func TestParseActivityStubsNoTable(t *testing.T) {
	_, err := parseActivityStubs(mustDoc(t, `<p>nothing here</p>`), "u")
	var pf *scrape.PageFormatError
	if !errors.As(err, &pf) {
		t.Fatalf("want PageFormatError, got %v", err)
	}
}

func detailPage(banner, register string) string {
	return `
<h1 class="documentFirstHeading">Alpine Loop</h1>
` + banner + `
<div class="program-core">
	<ul class="details">
		<li>Sat, Jun 14, 2025 – Sun, Jun 15, 2025</li>
		<li><label>Committee:</label> <a href="/committees/climbing">Climbing</a></li>
		<li><label>Difficulty:</label> Strenuous</li>
		<li><label>Leader Rating:</label> For Beginners</li>
		<li><label>Activity Type:</label> Climb</li>
		<li><label>Branch:</label> Everett</li>
		<li>Mileage: 12 mi</li>
	</ul>
</div>
<div id="register-participant">` + register + `</div>
<div data-tab="roster-tab">
	<div class="roster-contact">
		<a href="https://club.example.org/members/alice?ajax_load=1">Alice Example</a>
		<div class="roster-position">Leader</div>
	</div>
	<div class="roster-contact"></div>
	<div class="roster-contact">
		<a href="https://club.example.org/members/bob">Bob Example</a>
	</div>
	<div class="roster-contact">
		<a href="https://club.example.org/members/bob">Bob Example</a>
	</div>
</div>`
}

func TestParseActivityDetail(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	banner := `<div class="error">This activity has been closed. The trip was successful.</div>`
	snap, err := parseActivityDetail(mustDoc(t, detailPage(banner, "")), "u", now)
	if err != nil {
		t.Fatal(err)
	}

	if snap.Name != "Alpine Loop" || snap.Committee != "Climbing" ||
		snap.Difficulty != "Strenuous" || snap.LeaderRating != "For Beginners" ||
		snap.ActivityType != "Climb" || snap.Branch != "Everett" || snap.Mileage != "12 mi" {
		t.Errorf("details misparsed: %+v", snap)
	}
	if !snap.DateStart.Equal(time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)) ||
		!snap.DateEnd.Equal(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("dates misparsed: %s %s", snap.DateStart, snap.DateEnd)
	}
	if snap.Status != club.StatusClosed || snap.Result != club.ResultSuccess {
		t.Errorf("closed successful trip misclassified: %s %s", snap.Status, snap.Result)
	}

	// Empty slots skipped, duplicate bob collapsed, missing role defaulted.
	if len(snap.Participants) != 2 {
		t.Fatalf("want 2 participants, got %+v", snap.Participants)
	}
	if snap.Participants[0].ProfileURL != "https://club.example.org/members/alice" {
		t.Errorf("ajax suffix should be stripped, got %q", snap.Participants[0].ProfileURL)
	}
	if snap.Participants[0].Role != "Leader" || snap.Participants[1].Role != "Participant" {
		t.Errorf("roles misparsed: %+v", snap.Participants)
	}
}

func TestParseActivityDetailClassification(t *testing.T) {
	past := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		banner   string
		register string
		now      time.Time
		status   string
		result   string
	}{
		{"canceled event", `<div class="error">This event has been canceled.</div>`, "", past, club.StatusClosed, club.ResultCanceled},
		{"turned around", `<div class="error">This activity has been closed. The party turned around.</div>`, "", past, club.StatusClosed, club.ResultTurnedAround},
		{"ended event", `<div class="error">This event already ended</div>`, "", past, club.StatusClosed, club.ResultSuccess},
		{"registration closed future", `<div class="error">Registration closed on Jun 1.</div>`, "", future, club.StatusFuture, ""},
		{"course part past", "", "This activity is part of the Basic Climbing Course", past, club.StatusClosed, club.ResultSuccess},
		{"course part future", "", "This activity is part of the Basic Climbing Course", future, club.StatusFuture, ""},
		{"plain past", "", "", past, club.StatusPast, club.ResultSuccess},
		{"plain future", "", "", future, club.StatusFuture, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := parseActivityDetail(mustDoc(t, detailPage(tt.banner, tt.register)), "u", tt.now)
			if err != nil {
				t.Fatal(err)
			}
			if snap.Status != tt.status || snap.Result != tt.result {
				t.Errorf("want %s/%q, got %s/%q", tt.status, tt.result, snap.Status, snap.Result)
			}
		})
	}
}

func TestParseActivityDetailMissing(t *testing.T) {
	doc := mustDoc(t, `<h1 class="documentFirstHeading">This page does not seem to exist</h1>`)
	_, err := parseActivityDetail(doc, "u", time.Now())
	var mc *scrape.MissingContentError
	if !errors.As(err, &mc) {
		t.Fatalf("want MissingContentError, got %v", err)
	}
}

func TestPageTitle(t *testing.T) {
	if got := pageTitle([]byte(`<html><head><title>
		Site Error</title></head></html>`)); got != "Site Error" {
		t.Errorf("got %q", got)
	}
	if got := pageTitle([]byte(`no html here`)); got != "" {
		t.Errorf("want empty title, got %q", got)
	}
}
