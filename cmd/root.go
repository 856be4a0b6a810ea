package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/alpenclub/tripscope/internal/utils"
	"github.com/alpenclub/tripscope/pkg/engine"
	"github.com/alpenclub/tripscope/pkg/scrape/website"
	"github.com/alpenclub/tripscope/pkg/store"
	"github.com/alpenclub/tripscope/pkg/store/dgraph"
	"github.com/alpenclub/tripscope/pkg/store/memory"
	"github.com/alpenclub/tripscope/pkg/store/sqlite"
)

var cfgFile string

const fetchTimeout = 30 * time.Second

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tripscope",
	Short: "Track who did which club trips, with whom.",
	Long: `tripscope scrapes club members' activity histories from the club
website into a local database and answers questions about trips, rosters,
and trip companions. Re-fetching is scheduled per activity, so repeated runs
only touch what may still change.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tripscope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("store", "sqlite", "Storage backend: sqlite, dgraph or memory")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to the sqlite database (default is $HOME/tripscope.sqlite)")
	rootCmd.PersistentFlags().String("dgraph", "", "Dgraph alpha HTTP endpoint (used with --store dgraph)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".tripscope")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.tripscope.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default empty values for all keys
	viper.SetDefault("club.username", "")
	viper.SetDefault("club.password", "")
	viper.SetDefault("club.baseurl", "")
	viper.SetDefault("db.path", "")
	viper.SetDefault("dgraph.endpoint", "http://localhost:8080")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

// sqlitePath resolves the database file path from flags, config, or the home
// directory default, in that order.
func sqlitePath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("dbpath")
	if path == "" {
		path = viper.GetString("db.path")
	}
	if path == "" {
		path, _ = utils.GetAbsDBPath("")
	}
	return path
}

// openStore picks the storage backend from the --store flag.
func openStore(cmd *cobra.Command) (store.Store, error) {
	backend, _ := cmd.Flags().GetString("store")
	switch backend {
	case "sqlite", "":
		return sqlite.Open(sqlitePath(cmd))
	case "dgraph":
		endpoint, _ := cmd.Flags().GetString("dgraph")
		if endpoint == "" {
			endpoint = viper.GetString("dgraph.endpoint")
		}
		db := dgraph.New(endpoint, fetchTimeout)
		if err := db.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("dgraph at %s: %w", endpoint, err)
		}
		return db, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// newEngine wires the website adapter and credentials from config into a
// reconciliation engine over the given store.
func newEngine(st store.Store, forceFuture bool) (*engine.Engine, error) {
	baseURL := viper.GetString("club.baseurl")
	if baseURL == "" {
		return nil, fmt.Errorf("club.baseurl is not set; add it to your config file")
	}
	username := viper.GetString("club.username")
	password := viper.GetString("club.password")
	if username == "" || password == "" {
		return nil, fmt.Errorf("club.username and club.password are not set; add them to your config file")
	}

	adapter, err := website.New(baseURL, fetchTimeout)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Adapter:           adapter,
		Store:             st,
		Username:          username,
		Password:          password,
		ForceFutureRescan: forceFuture,
		Log:               utils.Log,
	}), nil
}

// lockIfSqlite takes the database file lock for write commands on the sqlite
// backend. The returned unlock func is a no-op for the other backends.
func lockIfSqlite(cmd *cobra.Command) (func(), error) {
	backend, _ := cmd.Flags().GetString("store")
	if backend != "sqlite" && backend != "" {
		return func() {}, nil
	}
	lock, err := utils.NewDBLock(sqlitePath(cmd))
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, err
	}
	return func() { _ = lock.Unlock() }, nil
}
