package engine

import (
	"context"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/scrape"
	"github.com/alpenclub/tripscope/pkg/store"
)

// rosterMerge is the planned reconciliation of one activity's persisted
// roster against a freshly scraped participant list. Planning reads committed
// state; apply issues only writes, so it can run inside a backend write scope
// that does not permit reads.
type rosterMerge struct {
	activityURL string
	stubs       []club.Person        // persons never seen before, created minimal
	creates     []club.Participation // page order
	updates     []club.Participation // page order
	removals    []string             // profile URLs present before, absent now
	log         Logger
}

// planRosterMerge diffs the scraped list against the persisted roster.
//
// Scraped participants win: an existing participation has its mutable fields
// overwritten, a new one is created (with a stub person when the participant
// has never been seen). Whatever persisted participation the snapshot does
// not mention is removed. Applying the same snapshot twice is a no-op;
// applying any snapshot sequence converges on the last snapshot alone.
func planRosterMerge(ctx context.Context, st store.Store, activityURL string, scraped []scrape.ParticipantSnapshot, log Logger) (*rosterMerge, error) {
	persisted, err := st.ListParticipationsForActivity(ctx, activityURL)
	if err != nil {
		return nil, err
	}
	leftover := make(map[string]bool, len(persisted))
	for _, pt := range persisted {
		leftover[pt.ProfileURL] = true
	}

	m := &rosterMerge{activityURL: activityURL, log: log}

	// Persons already planned as stubs, so a duplicate roster row cannot
	// double-create one.
	planned := make(map[string]bool)

	for _, sp := range scraped {
		known, err := st.FindPersonByURL(ctx, sp.ProfileURL)
		if err != nil {
			return nil, err
		}
		if known == nil && !planned[sp.ProfileURL] {
			m.stubs = append(m.stubs, club.Person{
				ProfileURL: sp.ProfileURL,
				FullName:   sp.Name,
				IsScraped:  false,
			})
			planned[sp.ProfileURL] = true
		}

		pt := club.Participation{
			ProfileURL:   sp.ProfileURL,
			ActivityURL:  activityURL,
			Role:         sp.Role,
			IsCanceled:   sp.IsCanceled,
			Registration: sp.Registration,
			Result:       sp.Result,
		}
		if leftover[sp.ProfileURL] {
			m.updates = append(m.updates, pt)
			delete(leftover, sp.ProfileURL)
		} else {
			m.creates = append(m.creates, pt)
		}
	}

	for profileURL := range leftover {
		m.removals = append(m.removals, profileURL)
	}
	return m, nil
}

func (m *rosterMerge) apply(ctx context.Context, tx store.Tx) error {
	for i := range m.stubs {
		if err := tx.CreatePerson(ctx, &m.stubs[i]); err != nil {
			return err
		}
		m.log.Debugf("created stub person %s", m.stubs[i].ProfileURL)
	}
	for i := range m.creates {
		if err := tx.CreateParticipation(ctx, &m.creates[i]); err != nil {
			return err
		}
		m.log.Debugf("added %s to %s", m.creates[i].ProfileURL, m.activityURL)
	}
	for i := range m.updates {
		if err := tx.UpdateParticipation(ctx, &m.updates[i]); err != nil {
			return err
		}
		m.log.Debugf("updated %s on %s", m.updates[i].ProfileURL, m.activityURL)
	}
	for _, profileURL := range m.removals {
		if err := tx.RemoveParticipation(ctx, profileURL, m.activityURL); err != nil {
			return err
		}
		m.log.Debugf("removed %s from %s", profileURL, m.activityURL)
	}
	return nil
}
