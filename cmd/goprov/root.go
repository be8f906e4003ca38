package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/goprov"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "goprov",
	Short: "goprov - source provenance for extracted knowledge-graph triples",
	Long: `goprov ties every (subject, predicate, object) triple extracted from a
document back to the sentences that justify it.

Each triple gets a source span: the evidence text, where the subject and
object occur, a confidence, and a reference to the document element the
evidence came from. Triples without evidence are reported as unresolved.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "goprov %s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.goprov/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().Int("concurrency", 0, "parallel resolution per chunk")
	rootCmd.PersistentFlags().Int("max-distance", 0, "maximum sentence distance for multi-sentence spans")
	rootCmd.PersistentFlags().Int("window", 0, "chunks kept for cross-chunk spans, counting the current one (5 reaches 4 prior chunks)")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("concurrency", rootCmd.PersistentFlags().Lookup("concurrency"))
	_ = viper.BindPFlag("resolution.max_sentence_distance", rootCmd.PersistentFlags().Lookup("max-distance"))
	_ = viper.BindPFlag("resolution.window_size", rootCmd.PersistentFlags().Lookup("window"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".goprov"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match GOPROV_*
	viper.SetEnvPrefix("GOPROV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// envKeys are the settings read from GOPROV_* variables.
var envKeys = []string{
	"db_path", "db_name", "storage_dir", "max_chunk_tokens", "concurrency",
	"segment_cache_ttl_seconds",
}

// loadConfig merges defaults, the config file, GOPROV_* variables and
// flags, in increasing priority.
func loadConfig(v *viper.Viper) (goprov.Config, error) {
	cfg := goprov.DefaultConfig()
	if f := v.ConfigFileUsed(); f != "" {
		if _, err := os.Stat(f); err == nil {
			loaded, err := goprov.LoadConfig(f)
			if err != nil {
				return cfg, err
			}
			cfg = loaded
		} else if cfgFile != "" {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	if s := v.GetString("db_path"); s != "" {
		cfg.DBPath = s
	}
	if s := v.GetString("db_name"); s != "" {
		cfg.DBName = s
	}
	if s := v.GetString("storage_dir"); s != "" {
		cfg.StorageDir = s
	}
	if n := v.GetInt("max_chunk_tokens"); n > 0 {
		cfg.MaxChunkTokens = n
	}
	if n := v.GetInt("concurrency"); n > 0 {
		cfg.Concurrency = n
	}
	if n := v.GetInt("segment_cache_ttl_seconds"); n > 0 {
		cfg.SegmentCacheTTLSeconds = n
	}
	if n := v.GetInt("resolution.max_sentence_distance"); n > 0 {
		cfg.Resolution.MaxSentenceDistance = n
	}
	if n := v.GetInt("resolution.window_size"); n > 0 {
		cfg.Resolution.WindowSize = n
	}
	return cfg, cfg.Validate()
}

// openEngine opens the engine described by the merged configuration.
func openEngine() (goprov.Engine, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return goprov.New(cfg)
}
