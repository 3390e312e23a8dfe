// Command server runs the transcoding pipeline and its HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/socialnet/backend/internal/config"
	"github.com/socialnet/backend/internal/logger"
)

// Version is set at build time.
var Version = "dev"

var (
	envFile string
	cfg     *config.Config
	log     *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:     "server",
	Short:   "Media transcoding service",
	Version: Version,
	Long: `server normalizes uploaded videos to web-playable MP4, tracks each job
and reconciles finished assets back onto media records and course videos.

Run without a subcommand to serve.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		cfg = config.Load()

		log = logger.New(&logger.Config{
			Output:    os.Stdout,
			Level:     logger.ParseLevel(cfg.LogLevel),
			Component: "server",
		})
		logger.SetDefault(log)
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
