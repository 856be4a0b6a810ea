package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alpenclub/tripscope/internal/utils"
)

// activityCmd represents the activity command
var activityCmd = &cobra.Command{
	Use:   "activity <activity-url>",
	Short: "Re-fetch and merge one already-known activity",
	Long: `Fetches one tracked activity page and reconciles its roster into the
database, regardless of what the activity's refresh schedule says.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unlock, err := lockIfSqlite(cmd)
		if err != nil {
			return err
		}
		defer unlock()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		eng, err := newEngine(st, false)
		if err != nil {
			return err
		}

		if err := eng.UpdateSingleActivity(cmd.Context(), args[0]); err != nil {
			return err
		}
		utils.Log.Infof("updated %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(activityCmd)
}
