package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints statistics about the members and activities in the database.",
	Long:  "Prints statistics about the members and activities in the database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}

		if stats.Activities == 0 && stats.Persons == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "MEMBERS\tACTIVITIES\tPARTICIPATIONS\tPENDING\tSTABLE\t")
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t\n",
			stats.Persons, stats.Activities, stats.Participations,
			stats.PendingActivities, stats.StableActivities)
		w.Flush()

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
