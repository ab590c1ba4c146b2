package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docqa/internal/answer"
)

type askOptions struct {
	user   string
	topK   int
	stream bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask --user EMAIL QUESTION...",
		Short: "Answer a question from a user's documents",
		Long: `Answer a question using a user's ingested documents and list the
sources used.

Examples:
  docqa ask --user me@example.com "What were sales in the last week of April?"
  docqa ask --user me@example.com --stream summarize the Q1 report`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&opts.user, "user", "", "owner email")
	cmd.Flags().IntVar(&opts.topK, "top-k", 0, "chunks to retrieve (default from config)")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "print the answer as it is generated")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runAsk(cmd *cobra.Command, opts askOptions, question string) error {
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

	userID, err := a.userID(ctx, opts.user, false, "")
	if err != nil {
		return err
	}
	req := answer.Request{UserID: userID, Question: question, TopK: opts.topK}
	out := cmd.OutOrStdout()

	if !opts.stream {
		res, err := a.answers.Answer(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.Answer)
		printSources(out, res.Sources)
		return nil
	}

	stream, err := a.answers.AnswerStream(ctx, req)
	if err != nil {
		return err
	}
	for fragment, err := range stream.Fragments {
		if err != nil {
			return err
		}
		fmt.Fprint(out, fragment)
	}
	fmt.Fprintln(out)
	printSources(out, stream.Sources)
	return nil
}

func printSources(w io.Writer, sources []answer.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	for i, s := range sources {
		page := ""
		if s.Page != nil {
			page = fmt.Sprintf(" p.%d", *s.Page)
		}
		fmt.Fprintf(w, "[%d] %s%s\n", i+1, s.Filename, page)
	}
}
