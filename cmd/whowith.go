package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/store"
)

var tripDateLayouts = []string{"2006-01-02", "1/2/2006", "1-2-2006"}

func parseTripDate(s string) (time.Time, error) {
	for _, layout := range tripDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (use YYYY-MM-DD)", s)
}

// whowithCmd represents the whowith command
var whowithCmd = &cobra.Command{
	Use:   "whowith <date>",
	Short: "Who was on the trip with me on a date?",
	Long: `Lists the target member's trips on the given date, everyone else on
those trips, and every other trip the member has shared with each of them.
Answers come from the database only; run scrape first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tripDate, err := parseTripDate(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		profile, _ := cmd.Flags().GetString("profile")
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			user = viper.GetString("club.username")
		}

		ctx := cmd.Context()
		target, err := selectPerson(ctx, st, profile, user)
		if err != nil {
			return err
		}
		return printCompanions(ctx, cmd.OutOrStdout(), st, target, tripDate)
	},
}

func init() {
	rootCmd.AddCommand(whowithCmd)
	whowithCmd.Flags().String("profile", "", "Identify the target member by profile URL")
	whowithCmd.Flags().String("user", "", "Identify the target member by username (default is club.username)")
}

// selectPerson resolves the target member, preferring the profile URL over
// the username when both are given.
func selectPerson(ctx context.Context, st store.Store, profileURL, username string) (*club.Person, error) {
	var p *club.Person
	var err error
	switch {
	case profileURL != "":
		p, err = st.FindPersonByURL(ctx, profileURL)
	case username != "":
		p, err = st.FindPersonByUsername(ctx, username)
	default:
		return nil, fmt.Errorf("need --profile or --user to identify the member")
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("no such member in the database; run scrape first")
	}
	return p, nil
}

func onDate(a *club.Activity, day time.Time) bool {
	return !day.Before(a.DateStart) && !day.After(a.DateEnd)
}

func printCompanions(ctx context.Context, out io.Writer, st store.Store, target *club.Person, tripDate time.Time) error {
	mine, err := st.ListParticipationsForPerson(ctx, target.ProfileURL)
	if err != nil {
		return err
	}

	// The member's own activities, keyed by URL, plus the subset that
	// covers the requested date.
	myURLs := make(map[string]*club.Activity, len(mine))
	var dayTrips []*club.Activity
	for _, pt := range mine {
		a, err := st.FindActivityByURL(ctx, pt.ActivityURL)
		if err != nil {
			return err
		}
		if a == nil {
			continue
		}
		myURLs[a.ActivityURL] = a
		if onDate(a, tripDate) {
			dayTrips = append(dayTrips, a)
		}
	}

	fmt.Fprintf(out, "%s\n", target.FullName)
	if len(dayTrips) == 0 {
		fmt.Fprintf(out, "  no trips on %s\n", tripDate.Format("2006-01-02"))
		return nil
	}
	for _, a := range dayTrips {
		fmt.Fprintf(out, "    %s: %s (%s)\n", a.DateStart.Format("2006-01-02"), a.Name, a.ActivityType)
	}

	// Everyone else on those trips.
	companions := make(map[string]*club.Person)
	for _, a := range dayTrips {
		roster, err := st.ListParticipationsForActivity(ctx, a.ActivityURL)
		if err != nil {
			return err
		}
		for _, pt := range roster {
			if pt.ProfileURL == target.ProfileURL || companions[pt.ProfileURL] != nil {
				continue
			}
			p, err := st.FindPersonByURL(ctx, pt.ProfileURL)
			if err != nil {
				return err
			}
			if p != nil {
				companions[pt.ProfileURL] = p
			}
		}
	}

	sorted := make([]*club.Person, 0, len(companions))
	for _, p := range companions {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FullName < sorted[j].FullName })

	// For each companion, every trip ever shared with the target.
	for _, companion := range sorted {
		fmt.Fprintf(out, "  %s\n", companion.FullName)
		theirs, err := st.ListParticipationsForPerson(ctx, companion.ProfileURL)
		if err != nil {
			return err
		}
		shared := false
		for _, pt := range theirs {
			if a := myURLs[pt.ActivityURL]; a != nil {
				fmt.Fprintf(out, "    %s: %-60s (%s)\n", a.DateStart.Format("2006-01-02"), a.Name, a.ActivityType)
				shared = true
			}
		}
		if !shared {
			fmt.Fprintf(out, "    no shared trips\n")
		}
		fmt.Fprintln(out)
	}
	return nil
}
