package dgraph

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/store"
)

// tx buffers writes as RDF triples and commits them in one upsert block, so
// the whole update lands atomically or not at all. Nodes created earlier in
// the same tx are addressed by blank node; existing nodes by uid(var) from
// the upsert query block.
type tx struct {
	db *DB

	queryVars []string          // var blocks, in order
	varByKey  map[string]string // natural key -> var name
	refByKey  map[string]string // natural key -> node ref ("_:bN" or "uid(vN)")
	set       []string
	del       []string
	blankSeq  int
}

func newTx(d *DB) *tx {
	return &tx{
		db:       d,
		varByKey: make(map[string]string),
		refByKey: make(map[string]string),
	}
}

// ref returns a mutation-addressable reference for the node with the given
// natural key, adding an upsert query var on first use.
func (t *tx) ref(pred, value string) string {
	key := pred + "\x00" + value
	if r, ok := t.refByKey[key]; ok {
		return r
	}
	name := fmt.Sprintf("v%d", len(t.varByKey))
	t.varByKey[key] = name
	t.queryVars = append(t.queryVars, fmt.Sprintf("%s as var(func: eq(%s, %s))", name, pred, quote(value)))
	r := fmt.Sprintf("uid(%s)", name)
	t.refByKey[key] = r
	return r
}

// blank registers a fresh blank node for a natural key being created in this tx.
func (t *tx) blank(pred, value string) string {
	key := pred + "\x00" + value
	r := fmt.Sprintf("_:b%d", t.blankSeq)
	t.blankSeq++
	t.refByKey[key] = r
	return r
}

func (t *tx) setStr(subject, pred, value string) {
	t.set = append(t.set, fmt.Sprintf("%s <%s> %s .", subject, pred, quote(value)))
}

func (t *tx) setBool(subject, pred string, value bool) {
	t.set = append(t.set, fmt.Sprintf("%s <%s> %q^^<xs:boolean> .", subject, pred, strconv.FormatBool(value)))
}

func (t *tx) setInt(subject, pred string, value int) {
	t.set = append(t.set, fmt.Sprintf("%s <%s> %q^^<xs:int> .", subject, pred, strconv.Itoa(value)))
}

func (t *tx) setTime(subject, pred string, value time.Time) {
	t.set = append(t.set, fmt.Sprintf("%s <%s> %s .", subject, pred, dqlTime(value)))
}

// setOptTime writes the predicate or, on an existing node, clears it when nil.
func (t *tx) setOptTime(subject, pred string, value *time.Time) {
	if value != nil {
		t.setTime(subject, pred, *value)
	} else if strings.HasPrefix(subject, "uid(") {
		t.del = append(t.del, fmt.Sprintf("%s <%s> * .", subject, pred))
	}
}

func (t *tx) setEdge(subject, pred, object string) {
	t.set = append(t.set, fmt.Sprintf("%s <%s> %s .", subject, pred, object))
}

func (t *tx) writePerson(subject string, p *club.Person) {
	t.setStr(subject, "dgraph.type", "Person")
	t.setStr(subject, "profile_url", p.ProfileURL)
	t.setStr(subject, "user_name", p.UserName)
	t.setStr(subject, "full_name", p.FullName)
	t.setStr(subject, "portrait_url", p.PortraitURL)
	t.setStr(subject, "email", p.Email)
	t.setStr(subject, "branch", p.Branch)
	t.setBool(subject, "is_scraped", p.IsScraped)
	t.setOptTime(subject, "last_scraped", p.LastScraped)
}

func (t *tx) writeActivity(subject string, a *club.Activity) {
	t.setStr(subject, "dgraph.type", "Activity")
	t.setStr(subject, "activity_url", a.ActivityURL)
	t.setStr(subject, "name", a.Name)
	t.setTime(subject, "date_start", a.DateStart)
	t.setTime(subject, "date_end", a.DateEnd)
	t.setStr(subject, "committee", a.Committee)
	t.setStr(subject, "branch", a.Branch)
	t.setStr(subject, "activity_type", a.ActivityType)
	t.setStr(subject, "difficulty", a.Difficulty)
	t.setStr(subject, "leader_rating", a.LeaderRating)
	t.setStr(subject, "mileage", a.Mileage)
	t.setStr(subject, "route_name", a.RouteName)
	t.setStr(subject, "route_url", a.RouteURL)
	t.setStr(subject, "status", a.Status)
	t.setStr(subject, "result", a.Result)
	t.setTime(subject, "scraped_at", a.ScrapedAt)
	t.setOptTime(subject, "next_scrape", a.NextScrape)
	t.setStr(subject, "scrape_error", a.ScrapeError)
	t.setInt(subject, "scrape_error_count", a.ScrapeErrorCount)
	t.setOptTime(subject, "scrape_error_time", a.ScrapeErrorTime)
}

func (t *tx) writeParticipation(subject string, pt *club.Participation) {
	t.setStr(subject, "dgraph.type", "Participation")
	t.setStr(subject, "participation_key", pairKey(pt.ProfileURL, pt.ActivityURL))
	t.setStr(subject, "role", pt.Role)
	t.setBool(subject, "is_canceled", pt.IsCanceled)
	t.setStr(subject, "registration", pt.Registration)
	t.setStr(subject, "result", pt.Result)
}

func (t *tx) CreatePerson(ctx context.Context, p *club.Person) error {
	if _, staged := t.refByKey["profile_url\x00"+p.ProfileURL]; staged {
		return fmt.Errorf("%w: person %s", store.ErrIntegrity, p.ProfileURL)
	}
	existing, err := t.db.FindPersonByURL(ctx, p.ProfileURL)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: person %s", store.ErrIntegrity, p.ProfileURL)
	}
	if p.UserName != "" {
		other, err := t.db.FindPersonByUsername(ctx, p.UserName)
		if err != nil {
			return err
		}
		if other != nil {
			return fmt.Errorf("%w: username %s", store.ErrIntegrity, p.UserName)
		}
	}
	t.writePerson(t.blank("profile_url", p.ProfileURL), p)
	return nil
}

func (t *tx) UpdatePerson(ctx context.Context, p *club.Person) error {
	existing, err := t.db.FindPersonByURL(ctx, p.ProfileURL)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: person %s not found", store.ErrIntegrity, p.ProfileURL)
	}
	t.writePerson(t.ref("profile_url", p.ProfileURL), p)
	return nil
}

func (t *tx) CreateActivity(ctx context.Context, a *club.Activity) error {
	if _, staged := t.refByKey["activity_url\x00"+a.ActivityURL]; staged {
		return fmt.Errorf("%w: activity %s", store.ErrIntegrity, a.ActivityURL)
	}
	existing, err := t.db.FindActivityByURL(ctx, a.ActivityURL)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: activity %s", store.ErrIntegrity, a.ActivityURL)
	}
	t.writeActivity(t.blank("activity_url", a.ActivityURL), a)
	return nil
}

func (t *tx) UpdateActivity(ctx context.Context, a *club.Activity) error {
	existing, err := t.db.FindActivityByURL(ctx, a.ActivityURL)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: activity %s not found", store.ErrIntegrity, a.ActivityURL)
	}
	t.writeActivity(t.ref("activity_url", a.ActivityURL), a)
	return nil
}

func (t *tx) CreateParticipation(ctx context.Context, pt *club.Participation) error {
	key := pairKey(pt.ProfileURL, pt.ActivityURL)
	if _, staged := t.refByKey["participation_key\x00"+key]; staged {
		return fmt.Errorf("%w: participation %s", store.ErrIntegrity, key)
	}
	existing, err := t.db.FindParticipation(ctx, pt.ProfileURL, pt.ActivityURL)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: participation %s", store.ErrIntegrity, key)
	}

	// Both endpoints must resolve: either staged in this tx or already stored.
	personRef, ok, err := t.endpointRef(ctx, "profile_url", pt.ProfileURL)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: participation %s references missing person", store.ErrIntegrity, key)
	}
	activityRef, ok, err := t.endpointRef(ctx, "activity_url", pt.ActivityURL)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: participation %s references missing activity", store.ErrIntegrity, key)
	}

	subject := t.blank("participation_key", key)
	t.writeParticipation(subject, pt)
	t.setEdge(subject, "participant", personRef)
	t.setEdge(subject, "activity", activityRef)
	return nil
}

// endpointRef resolves a participation endpoint to a node reference,
// preferring nodes staged in this tx.
func (t *tx) endpointRef(ctx context.Context, pred, value string) (string, bool, error) {
	if r, staged := t.refByKey[pred+"\x00"+value]; staged {
		return r, true, nil
	}
	var exists bool
	var err error
	switch pred {
	case "profile_url":
		var p *club.Person
		p, err = t.db.FindPersonByURL(ctx, value)
		exists = p != nil
	case "activity_url":
		var a *club.Activity
		a, err = t.db.FindActivityByURL(ctx, value)
		exists = a != nil
	}
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, nil
	}
	return t.ref(pred, value), true, nil
}

func (t *tx) UpdateParticipation(ctx context.Context, pt *club.Participation) error {
	existing, err := t.db.FindParticipation(ctx, pt.ProfileURL, pt.ActivityURL)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: participation %s not found", store.ErrIntegrity, pairKey(pt.ProfileURL, pt.ActivityURL))
	}
	t.writeParticipation(t.ref("participation_key", pairKey(pt.ProfileURL, pt.ActivityURL)), pt)
	return nil
}

func (t *tx) RemoveParticipation(ctx context.Context, profileURL, activityURL string) error {
	subject := t.ref("participation_key", pairKey(profileURL, activityURL))
	t.del = append(t.del, fmt.Sprintf("%s * * .", subject))
	return nil
}

// upsertBody renders the buffered writes as one Dgraph upsert block, or a
// plain mutation when nothing needs uid resolution.
func (t *tx) upsertBody() string {
	var b strings.Builder
	indent := ""
	if len(t.queryVars) > 0 {
		b.WriteString("upsert {\n")
		b.WriteString("  query {\n")
		for _, v := range t.queryVars {
			b.WriteString("    " + v + "\n")
		}
		b.WriteString("  }\n")
		b.WriteString("  mutation {\n")
		indent = "  "
	} else {
		b.WriteString("{\n")
	}
	if len(t.set) > 0 {
		b.WriteString(indent + "  set {\n")
		for _, s := range t.set {
			b.WriteString(indent + "    " + s + "\n")
		}
		b.WriteString(indent + "  }\n")
	}
	if len(t.del) > 0 {
		b.WriteString(indent + "  delete {\n")
		for _, s := range t.del {
			b.WriteString(indent + "    " + s + "\n")
		}
		b.WriteString(indent + "  }\n")
	}
	if len(t.queryVars) > 0 {
		b.WriteString("  }\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func (t *tx) commit(ctx context.Context) error {
	if len(t.set) == 0 && len(t.del) == 0 {
		return nil
	}
	_, err := t.db.post(ctx, "/mutate?commitNow=true", "application/rdf", t.upsertBody())
	return err
}
