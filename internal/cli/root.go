// Package cli implements the command-line interface for the stacktodo CLI.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/stacktodo/stacktodo-go/internal/core"
)

// Global flags
var (
	verbose      bool
	quiet        bool
	raw          bool
	cacheBackend string
	retries      int
	timeout      time.Duration
	baseURL      string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "stacktodo",
	Short:   "stacktodo CLI – read Slack-published blogs and use Slack tools",
	Long:    `A command-line utility for reading posts published from Slack through stacktodo, joining teams and submitting forms.`,
	Version: core.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(core.NewLogger(verbose))
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false, "Emit raw JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&cacheBackend, "cache", "", fmt.Sprintf("Body cache backend: %s, %s or %s (default: $%s or %s)", core.CacheMemory, core.CacheFilesystem, core.CacheValkey, core.CacheEnvVar, core.CacheMemory))
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 0, "Retries for failed requests (5xx/429)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", fmt.Sprintf("API base URL (default: $%s or %s)", core.APIBaseEnvVar, core.APIBaseURL))
}

// resolveConfig applies command-line overrides to the environment config.
func resolveConfig() core.Config {
	cfg := core.LoadConfig()
	if cacheBackend != "" {
		cfg.CacheBackend = cacheBackend
	}
	if baseURL != "" {
		cfg.APIBaseURL = baseURL
	}
	return cfg
}
