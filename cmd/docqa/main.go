// Docqa answers questions over a user's uploaded documents.
//
// Usage:
//
//	# Install the ONNX runtime for local embeddings
//	docqa init
//
//	# Start the HTTP API
//	docqa serve
//
//	# Ingest files for a user, creating the account if needed
//	docqa ingest --user me@example.com --create --password s3cret report.pdf sales.csv
//
//	# Ask from the terminal
//	docqa ask --user me@example.com "What were sales in the first week of April?"
//
// Configuration is read from ~/.config/docqa/config.yaml and DOCQA_*
// environment variables. See internal/config for details.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docqa/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	envFile    string
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docqa",
		Short: "Question answering over your documents",
		Long: `docqa ingests documents, embeds their text and answers questions
about them, citing the passages it used.`,
		Version:       version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/docqa/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env", "", ".env file loaded before reading the environment (default ./.env if present)")

	root.AddCommand(newInitCmd(), newServeCmd(), newIngestCmd(), newAskCmd(), newVersionCmd())
	return root
}

// loadEnv loads path into the process environment. Variables already set
// win. With no path, ./.env is loaded when it exists.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "docqa by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
