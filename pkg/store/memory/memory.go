// Package memory is an in-memory Store backend for tests and local
// development. Updates stage their writes on cloned maps and swap them in on
// commit, so a failed update leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/store"
)

type state struct {
	persons        map[string]club.Person        // by profile URL
	activities     map[string]club.Activity      // by activity URL
	participations map[string]club.Participation // by pair key
}

func (s *state) clone() *state {
	c := &state{
		persons:        make(map[string]club.Person, len(s.persons)),
		activities:     make(map[string]club.Activity, len(s.activities)),
		participations: make(map[string]club.Participation, len(s.participations)),
	}
	for k, v := range s.persons {
		c.persons[k] = v
	}
	for k, v := range s.activities {
		c.activities[k] = v
	}
	for k, v := range s.participations {
		c.participations[k] = v
	}
	return c
}

func pairKey(profileURL, activityURL string) string {
	return profileURL + "\x00" + activityURL
}

// DB implements store.Store on process memory.
type DB struct {
	mu sync.RWMutex
	st *state
}

// New returns an empty in-memory store.
func New() *DB {
	return &DB{st: &state{
		persons:        make(map[string]club.Person),
		activities:     make(map[string]club.Activity),
		participations: make(map[string]club.Participation),
	}}
}

func (d *DB) Close() error { return nil }

func (d *DB) FindPersonByURL(ctx context.Context, profileURL string) (*club.Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.st.persons[profileURL]; ok {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (d *DB) FindPersonByUsername(ctx context.Context, username string) (*club.Person, error) {
	if username == "" {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.st.persons {
		if p.UserName == username {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (d *DB) CreatePerson(ctx context.Context, p *club.Person) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.CreatePerson(ctx, p) })
}

func (d *DB) UpdatePerson(ctx context.Context, p *club.Person) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.UpdatePerson(ctx, p) })
}

func (d *DB) FindActivityByURL(ctx context.Context, activityURL string) (*club.Activity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if a, ok := d.st.activities[activityURL]; ok {
		ca := a
		return &ca, nil
	}
	return nil, nil
}

func (d *DB) CreateActivity(ctx context.Context, a *club.Activity) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.CreateActivity(ctx, a) })
}

func (d *DB) UpdateActivity(ctx context.Context, a *club.Activity) error {
	return d.Update(ctx, func(tx store.Tx) error { return tx.UpdateActivity(ctx, a) })
}

func (d *DB) FindParticipation(ctx context.Context, profileURL, activityURL string) (*club.Participation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if pt, ok := d.st.participations[pairKey(profileURL, activityURL)]; ok {
		cpt := pt
		return &cpt, nil
	}
	return nil, nil
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

func (d *DB) ListParticipationsForPerson(ctx context.Context, profileURL string) ([]club.Participation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []club.Participation
	for _, pt := range d.st.participations {
		if pt.ProfileURL == profileURL {
			out = append(out, pt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai := d.st.activities[out[i].ActivityURL]
		aj := d.st.activities[out[j].ActivityURL]
		if ai.DateStart.Equal(aj.DateStart) {
			return out[i].ActivityURL < out[j].ActivityURL
		}
		return ai.DateStart.Before(aj.DateStart)
	})
	return out, nil
}

func (d *DB) ListParticipationsForActivity(ctx context.Context, activityURL string) ([]club.Participation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []club.Participation
	for _, pt := range d.st.participations {
		if pt.ActivityURL == activityURL {
			out = append(out, pt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProfileURL < out[j].ProfileURL })
	return out, nil
}

func (d *DB) Stats(ctx context.Context) (store.Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := store.Stats{
		Persons:        len(d.st.persons),
		Activities:     len(d.st.activities),
		Participations: len(d.st.participations),
	}
	for _, a := range d.st.activities {
		if a.NextScrape != nil {
			s.PendingActivities++
		} else {
			s.StableActivities++
		}
	}
	return s, nil
}

func (d *DB) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	staged := d.st.clone()
	if err := fn(&tx{st: staged}); err != nil {
		return err
	}
	d.st = staged
	return nil
}

// tx applies writes to a staged clone of the store state.
type tx struct {
	st *state
}

func (t *tx) CreatePerson(ctx context.Context, p *club.Person) error {
	if _, ok := t.st.persons[p.ProfileURL]; ok {
		return fmt.Errorf("%w: person %s", store.ErrIntegrity, p.ProfileURL)
	}
	if p.UserName != "" {
		for _, other := range t.st.persons {
			if other.UserName == p.UserName {
				return fmt.Errorf("%w: username %s", store.ErrIntegrity, p.UserName)
			}
		}
	}
	t.st.persons[p.ProfileURL] = *p
	return nil
}

func (t *tx) UpdatePerson(ctx context.Context, p *club.Person) error {
	if _, ok := t.st.persons[p.ProfileURL]; !ok {
		return fmt.Errorf("%w: person %s not found", store.ErrIntegrity, p.ProfileURL)
	}
	t.st.persons[p.ProfileURL] = *p
	return nil
}

func (t *tx) CreateActivity(ctx context.Context, a *club.Activity) error {
	if _, ok := t.st.activities[a.ActivityURL]; ok {
		return fmt.Errorf("%w: activity %s", store.ErrIntegrity, a.ActivityURL)
	}
	t.st.activities[a.ActivityURL] = *a
	return nil
}

func (t *tx) UpdateActivity(ctx context.Context, a *club.Activity) error {
	if _, ok := t.st.activities[a.ActivityURL]; !ok {
		return fmt.Errorf("%w: activity %s not found", store.ErrIntegrity, a.ActivityURL)
	}
	t.st.activities[a.ActivityURL] = *a
	return nil
}

func (t *tx) CreateParticipation(ctx context.Context, pt *club.Participation) error {
	key := pairKey(pt.ProfileURL, pt.ActivityURL)
	if _, ok := t.st.participations[key]; ok {
		return fmt.Errorf("%w: participation %s/%s", store.ErrIntegrity, pt.ProfileURL, pt.ActivityURL)
	}
	if _, ok := t.st.persons[pt.ProfileURL]; !ok {
		return fmt.Errorf("%w: participation references missing person %s", store.ErrIntegrity, pt.ProfileURL)
	}
	if _, ok := t.st.activities[pt.ActivityURL]; !ok {
		return fmt.Errorf("%w: participation references missing activity %s", store.ErrIntegrity, pt.ActivityURL)
	}
	t.st.participations[key] = *pt
	return nil
}

func (t *tx) UpdateParticipation(ctx context.Context, pt *club.Participation) error {
	key := pairKey(pt.ProfileURL, pt.ActivityURL)
	if _, ok := t.st.participations[key]; !ok {
		return fmt.Errorf("%w: participation %s/%s not found", store.ErrIntegrity, pt.ProfileURL, pt.ActivityURL)
	}
	t.st.participations[key] = *pt
	return nil
}

func (t *tx) RemoveParticipation(ctx context.Context, profileURL, activityURL string) error {
	delete(t.st.participations, pairKey(profileURL, activityURL))
	return nil
}
