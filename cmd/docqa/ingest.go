package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docqa/internal/documents"
)

type ingestOptions struct {
	user     string
	create   bool
	password string
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions
	cmd := &cobra.Command{
		Use:   "ingest --user EMAIL FILE...",
		Short: "Ingest files for a user",
		Long: `Extract, chunk and embed files into a user's document set.

Examples:
  # Ingest into an existing account
  docqa ingest --user me@example.com q1.pdf q2.pdf

  # Create the account on first use
  docqa ingest --user me@example.com --create --password s3cret notes.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.user, "user", "", "owner email")
	cmd.Flags().BoolVar(&opts.create, "create", false, "register the user if missing")
	cmd.Flags().StringVar(&opts.password, "password", "", "password for --create")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runIngest(cmd *cobra.Command, opts ingestOptions, paths []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	userID, err := a.userID(ctx, opts.user, opts.create, opts.password)
	if err != nil {
		return err
	}

	uploads := make([]documents.Upload, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		defer f.Close()
		uploads = append(uploads, documents.Upload{Filename: filepath.Base(p), Body: f})
	}

	docs, err := a.documents.UploadBatch(ctx, userID, uploads)
	if err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%d bytes\t%d chunks\n", d.ID, d.Filename, d.Size, d.Chunks)
	}
	return nil
}
