package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alpenclub/tripscope/internal/utils"
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape a member's activity history into the database",
	Long: `Logs in to the club website, refreshes the target member's profile,
walks their activity history, and re-fetches every activity whose schedule
says it may still have changed. The logged-in member is the default target.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, _ := cmd.Flags().GetString("profile")
		forceFuture, _ := cmd.Flags().GetBool("force-future")

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

		eng, err := newEngine(st, forceFuture)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := eng.Login(ctx); err != nil {
			return err
		}
		if err := eng.ScrapeProfile(ctx, profile); err != nil {
			return err
		}
		utils.Log.Info("scrape complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().String("profile", "", "Profile URL (or its last path component) of the member to scrape; default is the logged-in member")
	scrapeCmd.Flags().Bool("force-future", false, "Re-fetch future activities even when their schedule says they are not due")
}
