// Package dgraph is the graph Store backend, speaking Dgraph's HTTP API.
// Person and Activity are nodes; Participation is a keyed node holding one
// edge to each side, so the join carries its own fields and no entity owns
// the other. Each Update buffers every write into a single upsert mutation,
// which Dgraph applies atomically.
package dgraph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/store"
)

// Schema is applied through /alter before first use.
const Schema = `
profile_url: string @index(exact) @upsert .
user_name: string @index(exact) .
full_name: string .
portrait_url: string .
email: string .
branch: string .
is_scraped: bool .
last_scraped: datetime .

activity_url: string @index(exact) @upsert .
name: string .
date_start: datetime .
date_end: datetime .
committee: string .
activity_type: string .
difficulty: string .
leader_rating: string .
mileage: string .
route_name: string .
route_url: string .
status: string .
result: string .
scraped_at: datetime .
next_scrape: datetime .
scrape_error: string .
scrape_error_count: int .
scrape_error_time: datetime .

participation_key: string @index(exact) @upsert .
role: string .
is_canceled: bool .
registration: string .
participant: uid @reverse .
activity: uid @reverse .

type Person {
	profile_url
	user_name
	full_name
	portrait_url
	email
	branch
	is_scraped
	last_scraped
}

type Activity {
	activity_url
	name
	date_start
	date_end
	committee
	branch
	activity_type
	difficulty
	leader_rating
	mileage
	route_name
	route_url
	status
	result
	scraped_at
	next_scrape
	scrape_error
	scrape_error_count
	scrape_error_time
}

type Participation {
	participation_key
	role
	is_canceled
	registration
	result
	participant
	activity
}
`

// DB implements store.Store against a Dgraph HTTP endpoint.
type DB struct {
	endpoint   string
	httpClient *http.Client
}

// New constructs the backend. endpoint is the Dgraph alpha HTTP address,
// e.g. http://localhost:8080.
func New(endpoint string, timeout time.Duration) *DB {
	return &DB{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (d *DB) Close() error { return nil }

// EnsureSchema applies the predicate and type schema.
func (d *DB) EnsureSchema(ctx context.Context) error {
	_, err := d.post(ctx, "/alter", "application/dql", Schema)
	return err
}

func (d *DB) post(ctx context.Context, path, contentType, body string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+path, strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	out := string(raw)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("dgraph %s: %s: %s", path, resp.Status, out)
	}
	if errs := gjson.Get(out, "errors"); errs.Exists() && len(errs.Array()) > 0 {
		return "", fmt.Errorf("dgraph %s: %s", path, errs.Array()[0].Get("message").Str)
	}
	return out, nil
}

func (d *DB) query(ctx context.Context, q string) (string, error) {
	return d.post(ctx, "/query", "application/dql", q)
}

// quote renders a string as a DQL literal.
func quote(s string) string { return strconv.Quote(s) }

func dqlTime(t time.Time) string {
	return quote(t.UTC().Format(time.RFC3339Nano)) + "^^<xs:dateTime>"
}

const personFields = "profile_url user_name full_name portrait_url email branch is_scraped last_scraped"
const activityFields = "activity_url name date_start date_end committee branch activity_type difficulty leader_rating mileage route_name route_url status result scraped_at next_scrape scrape_error scrape_error_count scrape_error_time"
const participationFields = "participation_key role is_canceled registration result"

func parseOptTime(r gjson.Result) *time.Time {
	if !r.Exists() || r.Str == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, r.Str)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func parseReqTime(r gjson.Result) time.Time {
	if t := parseOptTime(r); t != nil {
		return *t
	}
	return time.Time{}
}

func personFromJSON(r gjson.Result) *club.Person {
	return &club.Person{
		ProfileURL:  r.Get("profile_url").Str,
		UserName:    r.Get("user_name").Str,
		FullName:    r.Get("full_name").Str,
		PortraitURL: r.Get("portrait_url").Str,
		Email:       r.Get("email").Str,
		Branch:      r.Get("branch").Str,
		IsScraped:   r.Get("is_scraped").Bool(),
		LastScraped: parseOptTime(r.Get("last_scraped")),
	}
}

func activityFromJSON(r gjson.Result) *club.Activity {
	return &club.Activity{
		ActivityURL:      r.Get("activity_url").Str,
		Name:             r.Get("name").Str,
		DateStart:        parseReqTime(r.Get("date_start")),
		DateEnd:          parseReqTime(r.Get("date_end")),
		Committee:        r.Get("committee").Str,
		Branch:           r.Get("branch").Str,
		ActivityType:     r.Get("activity_type").Str,
		Difficulty:       r.Get("difficulty").Str,
		LeaderRating:     r.Get("leader_rating").Str,
		Mileage:          r.Get("mileage").Str,
		RouteName:        r.Get("route_name").Str,
		RouteURL:         r.Get("route_url").Str,
		Status:           r.Get("status").Str,
		Result:           r.Get("result").Str,
		ScrapedAt:        parseReqTime(r.Get("scraped_at")),
		NextScrape:       parseOptTime(r.Get("next_scrape")),
		ScrapeError:      r.Get("scrape_error").Str,
		ScrapeErrorCount: int(r.Get("scrape_error_count").Int()),
		ScrapeErrorTime:  parseOptTime(r.Get("scrape_error_time")),
	}
}

func participationFromJSON(r gjson.Result) *club.Participation {
	key := r.Get("participation_key").Str
	profileURL, activityURL := splitPairKey(key)
	return &club.Participation{
		ProfileURL:   profileURL,
		ActivityURL:  activityURL,
		Role:         r.Get("role").Str,
		IsCanceled:   r.Get("is_canceled").Bool(),
		Registration: r.Get("registration").Str,
		Result:       r.Get("result").Str,
	}
}

func pairKey(profileURL, activityURL string) string {
	return profileURL + "|" + activityURL
}

func splitPairKey(key string) (string, string) {
	if i := strings.Index(key, "|"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func (d *DB) FindPersonByURL(ctx context.Context, profileURL string) (*club.Person, error) {
	return d.findPerson(ctx, "profile_url", profileURL)
}

func (d *DB) FindPersonByUsername(ctx context.Context, username string) (*club.Person, error) {
	if username == "" {
		return nil, nil
	}
	return d.findPerson(ctx, "user_name", username)
}

func (d *DB) findPerson(ctx context.Context, pred, value string) (*club.Person, error) {
	q := fmt.Sprintf(`{ q(func: eq(%s, %s)) @filter(type(Person)) { %s } }`, pred, quote(value), personFields)
	out, err := d.query(ctx, q)
	if err != nil {
		return nil, err
	}
	hit := gjson.Get(out, "data.q.0")
	if !hit.Exists() {
		return nil, nil
	}
	return personFromJSON(hit), nil
}

func (d *DB) FindActivityByURL(ctx context.Context, activityURL string) (*club.Activity, error) {
	q := fmt.Sprintf(`{ q(func: eq(activity_url, %s)) @filter(type(Activity)) { %s } }`, quote(activityURL), activityFields)
	out, err := d.query(ctx, q)
	if err != nil {
		return nil, err
	}
	hit := gjson.Get(out, "data.q.0")
	if !hit.Exists() {
		return nil, nil
	}
	return activityFromJSON(hit), nil
}

func (d *DB) FindParticipation(ctx context.Context, profileURL, activityURL string) (*club.Participation, error) {
	q := fmt.Sprintf(`{ q(func: eq(participation_key, %s)) @filter(type(Participation)) { %s } }`,
		quote(pairKey(profileURL, activityURL)), participationFields)
	out, err := d.query(ctx, q)
	if err != nil {
		return nil, err
	}
	hit := gjson.Get(out, "data.q.0")
	if !hit.Exists() {
		return nil, nil
	}
	return participationFromJSON(hit), nil
}

func (d *DB) ListParticipationsForPerson(ctx context.Context, profileURL string) ([]club.Participation, error) {
	q := fmt.Sprintf(`{
  q(func: type(Participation)) @cascade {
    %s
    participant @filter(eq(profile_url, %s)) { profile_url }
    activity { activity_url date_start }
  }
}`, participationFields, quote(profileURL))
	out, err := d.query(ctx, q)
	if err != nil {
		return nil, err
	}
	type row struct {
		pt    club.Participation
		start time.Time
	}
	var rows []row
	for _, hit := range gjson.Get(out, "data.q").Array() {
		rows = append(rows, row{
			pt:    *participationFromJSON(hit),
			start: parseReqTime(hit.Get("activity.0.date_start")),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].start.Equal(rows[j].start) {
			return rows[i].pt.ActivityURL < rows[j].pt.ActivityURL
		}
		return rows[i].start.Before(rows[j].start)
	})
	outRows := make([]club.Participation, 0, len(rows))
	for _, r := range rows {
		outRows = append(outRows, r.pt)
	}
	return outRows, nil
}

func (d *DB) ListParticipationsForActivity(ctx context.Context, activityURL string) ([]club.Participation, error) {
	q := fmt.Sprintf(`{
  q(func: type(Participation)) @cascade {
    %s
    activity @filter(eq(activity_url, %s)) { activity_url }
  }
}`, participationFields, quote(activityURL))
	out, err := d.query(ctx, q)
	if err != nil {
		return nil, err
	}
	var pts []club.Participation
	for _, hit := range gjson.Get(out, "data.q").Array() {
		pts = append(pts, *participationFromJSON(hit))
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].ProfileURL < pts[j].ProfileURL })
	return pts, nil
}

func (d *DB) Stats(ctx context.Context) (store.Stats, error) {
	q := `{
  persons(func: type(Person)) { total: count(uid) }
  activities(func: type(Activity)) { total: count(uid) }
  participations(func: type(Participation)) { total: count(uid) }
  pending(func: type(Activity)) @filter(has(next_scrape)) { total: count(uid) }
}`
	out, err := d.query(ctx, q)
	if err != nil {
		return store.Stats{}, err
	}
	s := store.Stats{
		Persons:           int(gjson.Get(out, "data.persons.0.total").Int()),
		Activities:        int(gjson.Get(out, "data.activities.0.total").Int()),
		Participations:    int(gjson.Get(out, "data.participations.0.total").Int()),
		PendingActivities: int(gjson.Get(out, "data.pending.0.total").Int()),
	}
	s.StableActivities = s.Activities - s.PendingActivities
	return s, nil
}

func (d *DB) CreatePerson(ctx context.Context, p *club.Person) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.CreatePerson(ctx, p) })
}

func (d *DB) UpdatePerson(ctx context.Context, p *club.Person) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.UpdatePerson(ctx, p) })
}

func (d *DB) CreateActivity(ctx context.Context, a *club.Activity) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.CreateActivity(ctx, a) })
}

func (d *DB) UpdateActivity(ctx context.Context, a *club.Activity) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.UpdateActivity(ctx, a) })
}

func (d *DB) CreateParticipation(ctx context.Context, pt *club.Participation) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.CreateParticipation(ctx, pt) })
}

func (d *DB) UpdateParticipation(ctx context.Context, pt *club.Participation) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.UpdateParticipation(ctx, pt) })
}

func (d *DB) RemoveParticipation(ctx context.Context, profileURL, activityURL string) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.RemoveParticipation(ctx, profileURL, activityURL) })
}

func (d *DB) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	t := newTx(d)
	if err := fn(t); err != nil {
		return err
	}
	return t.commit(ctx)
}
