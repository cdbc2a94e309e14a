/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/client"
	"github.com/Seednode/dungeonhonor/internal/workflow"
)

const histogramWidth = 40

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	barColor   = color.New(color.FgGreen)
	okColor    = color.New(color.FgGreen)
	mutedColor = color.New(color.Faint)
)

// renderHistogram draws one bar per behavior, scaled to the largest count.
func renderHistogram(w io.Writer, id behavior.Identity, buckets []behavior.Bucket) {
	titleColor.Fprintf(w, "%s (%s)\n", id.Name, id.Realm)

	if len(buckets) == 0 {
		mutedColor.Fprintln(w, "No behaviors recorded yet.")
		return
	}

	labelWidth, most := 0, 0
	for _, b := range buckets {
		labelWidth = max(labelWidth, len(b.Label))
		most = max(most, b.Count)
	}

	for _, b := range buckets {
		n := b.Count * histogramWidth / most
		if n == 0 && b.Count > 0 {
			n = 1
		}

		fmt.Fprintf(w, "  %-*s ", labelWidth, b.Label)
		barColor.Fprint(w, strings.Repeat("█", n))
		fmt.Fprintf(w, " %d\n", b.Count)
	}

	mutedColor.Fprintf(w, "  %d total\n", behavior.Total(buckets))
}

func newReportCmd() *cobra.Command {
	var (
		server  string
		name    string
		realm   string
		timeout time.Duration
		verbose bool
	)

	v := newViper()

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a player's report card from a running server.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			c, err := client.New(server, client.WithHTTPClient(&http.Client{Timeout: timeout}))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return runReport(ctx, cmd.OutOrStdout(), workflow.NewReport(c, logger), behavior.Identity{Name: name, Realm: realm})
		},
	}

	fs := cmd.Flags()

	fs.StringVarP(&server, "server", "s", "http://localhost:8080", "base url of a dungeonhonor server (env: DUNGEONHONOR_SERVER)")
	fs.StringVarP(&name, "name", "n", "", "player name (env: DUNGEONHONOR_NAME)")
	fs.StringVarP(&realm, "realm", "r", "", "player realm (env: DUNGEONHONOR_REALM)")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "time to wait for the server (env: DUNGEONHONOR_TIMEOUT)")
	fs.BoolVarP(&verbose, "verbose", "v", false, "display additional output (env: DUNGEONHONOR_VERBOSE)")

	bindEnv(v, fs)

	return cmd
}

func runReport(ctx context.Context, w io.Writer, rep *workflow.Report, id behavior.Identity) error {
	out := rep.Submit(ctx, id)

	switch out.State {
	case workflow.Success:
		renderHistogram(w, out.Identity, out.Buckets)

		return nil
	case workflow.Failed:
		if out.Invalid != nil {
			return out.Err
		}

		return fmt.Errorf("%s: %w", rep.View().Failure, out.Err)
	default:
		return out.Err
	}
}

// capturingWriter remembers the first failed write so the CLI can report
// it after the background tasks have drained.
type capturingWriter struct {
	workflow.Writer

	mu  sync.Mutex
	err error
}

func (c *capturingWriter) record(err error) error {
	if err != nil {
		c.mu.Lock()
		if c.err == nil {
			c.err = err
		}
		c.mu.Unlock()
	}

	return err
}

func (c *capturingWriter) SaveBehavior(ctx context.Context, s behavior.FeedbackSubmission) error {
	return c.record(c.Writer.SaveBehavior(ctx, s))
}

func (c *capturingWriter) SaveRejoinRating(ctx context.Context, r behavior.RejoinRating) error {
	return c.record(c.Writer.SaveRejoinRating(ctx, r))
}

func (c *capturingWriter) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

func parseRejoin(s string) (*bool, error) {
	var rating bool

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return nil, nil
	case "yes", "y", "true":
		rating = true
	case "no", "n", "false":
		rating = false
	default:
		return nil, fmt.Errorf("invalid --rejoin value %q (want yes or no)", s)
	}

	return &rating, nil
}

type rateOptions struct {
	slug     string
	player   behavior.Identity
	behavior behavior.Behavior
	rejoin   *bool
}

func runRate(ctx context.Context, w io.Writer, writer workflow.Writer, logger *zap.Logger, opts rateOptions) error {
	if strings.TrimSpace(opts.slug) == "" || strings.Contains(opts.slug, behavior.Delimiter) {
		return errors.New("--slug is required and may not contain " + behavior.Delimiter)
	}
	if err := opts.player.Validate(); err != nil {
		return err
	}

	cw := &capturingWriter{Writer: writer}
	tasks := workflow.NewTasks(logger)

	card := workflow.NewRunCard(opts.slug, opts.player, cw, tasks, logger)

	if err := card.RecordBehavior(ctx, opts.behavior); err != nil {
		return err
	}

	if opts.rejoin != nil {
		if err := card.RecordRejoinRating(ctx, *opts.rejoin); err != nil {
			return err
		}
	}

	if err := tasks.WaitContext(ctx); err != nil {
		return err
	}

	if err := cw.Err(); err != nil {
		return fmt.Errorf("%s: %w", workflow.StatusFailureMessage, err)
	}

	view := card.View()

	okColor.Fprintf(w, "Recorded %s for %s on run %s\n", view.Selected, view.Player, view.Slug)

	if view.Confirmation != "" {
		okColor.Fprintln(w, view.Confirmation)
	}

	return nil
}

func newRateCmd() *cobra.Command {
	var (
		server  string
		slug    string
		name    string
		realm   string
		tag     string
		rejoin  string
		timeout time.Duration
		verbose bool
	)

	v := newViper()

	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Tag a player's behavior for a completed run.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := behavior.ParseBehavior(tag)
			if err != nil {
				return fmt.Errorf("%w (want one of %s)", err, behaviorList())
			}

			rating, err := parseRejoin(rejoin)
			if err != nil {
				return err
			}

			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			c, err := client.New(server, client.WithHTTPClient(&http.Client{Timeout: timeout}))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return runRate(ctx, cmd.OutOrStdout(), c, logger, rateOptions{
				slug:     slug,
				player:   behavior.Identity{Name: name, Realm: realm},
				behavior: b,
				rejoin:   rating,
			})
		},
	}

	fs := cmd.Flags()

	fs.StringVarP(&server, "server", "s", "http://localhost:8080", "base url of a dungeonhonor server (env: DUNGEONHONOR_SERVER)")
	fs.StringVar(&slug, "slug", "", "run identifier (env: DUNGEONHONOR_SLUG)")
	fs.StringVarP(&name, "name", "n", "", "player name (env: DUNGEONHONOR_NAME)")
	fs.StringVarP(&realm, "realm", "r", "", "player realm (env: DUNGEONHONOR_REALM)")
	fs.StringVarP(&tag, "behavior", "b", "", "behavior to record (env: DUNGEONHONOR_BEHAVIOR)")
	fs.StringVar(&rejoin, "rejoin", "", "would you group with them again: yes or no (env: DUNGEONHONOR_REJOIN)")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "time to wait for the server (env: DUNGEONHONOR_TIMEOUT)")
	fs.BoolVarP(&verbose, "verbose", "v", false, "display additional output (env: DUNGEONHONOR_VERBOSE)")

	bindEnv(v, fs)

	return cmd
}

func behaviorList() string {
	all := behavior.Behaviors()

	names := make([]string, len(all))
	for i, b := range all {
		names[i] = fmt.Sprintf("%q", string(b))
	}

	return strings.Join(names, ", ")
}
