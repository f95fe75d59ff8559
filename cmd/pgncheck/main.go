// pgncheck parses one CCRL live PGN, from a room or a local file, and prints
// what the notifier would see: players, book state, fingerprint and opening.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/ccrl-live-notifier/internal/ccrllive"
	"github.com/park285/ccrl-live-notifier/internal/ccrlpgn"
	"github.com/park285/ccrl-live-notifier/internal/confsource"
	"github.com/park285/ccrl-live-notifier/internal/history"
	"github.com/park285/ccrl-live-notifier/internal/httpfast"
)

type options struct {
	room        string
	file        string
	baseURL     string
	configURL   string
	databaseURL string
	timeout     time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pgncheck:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "pgncheck (--room CODE | --file PATH)",
		Short:         "Inspect a CCRL live PGN the way the notifier does",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (opts.room == "") == (opts.file == "") {
				return fmt.Errorf("exactly one of --room or --file is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return check(ctx, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.room, "room", "", "room code to fetch")
	cmd.Flags().StringVar(&opts.file, "file", "", "local PGN file")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", envOr("CCRL_BASE_URL", ccrllive.DefaultBaseURL), "broadcast site")
	cmd.Flags().StringVar(&opts.configURL, "config", os.Getenv("CCRL_CONFIG_URL"), "notify config to resolve recipients against")
	cmd.Flags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "look the game up in notification history")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "overall deadline")
	return cmd
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func check(ctx context.Context, out io.Writer, opts *options) error {
	hc := httpfast.New(httpfast.WithTimeout(opts.timeout))

	doc, err := readPGN(ctx, hc, opts)
	if err != nil {
		return err
	}
	g, err := ccrlpgn.Parse(doc)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	describe(out, g)

	if opts.configURL != "" {
		src, err := confsource.Open(ctx, opts.configURL, hc)
		if err != nil {
			return err
		}
		cfg, err := confsource.NewLoader(src).Load(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "recipients: %s\n", strings.Join(cfg.Recipients(g.Event, g.White, g.Black), " "))
	}

	if opts.databaseURL != "" {
		repo, err := history.Open(ctx, opts.databaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()
		e, err := repo.Lookup(ctx, g.Fingerprint())
		if err != nil {
			return err
		}
		if e == nil {
			fmt.Fprintln(out, "history:    not notified")
		} else {
			fmt.Fprintf(out, "history:    notified %s in room %s to %s\n",
				e.NotifiedAt.Format(time.RFC3339), e.Room, strings.Join(e.Recipients, " "))
		}
	}
	return nil
}

func readPGN(ctx context.Context, hc *httpfast.Client, opts *options) (string, error) {
	if opts.file != "" {
		b, err := os.ReadFile(opts.file)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	doc, ok, err := ccrllive.NewClient(opts.baseURL, hc).FetchPGN(ctx, opts.room)
	if err != nil {
		return "", fmt.Errorf("fetch room %s: %w", opts.room, err)
	}
	if !ok {
		return "", fmt.Errorf("room %s is not broadcasting", opts.room)
	}
	return doc, nil
}

func describe(out io.Writer, g *ccrlpgn.Game) {
	book := len(g.BookLine())
	fmt.Fprintf(out, "white:      %s (%s)\n", g.White.Display(), g.White.Normalized())
	fmt.Fprintf(out, "black:      %s (%s)\n", g.Black.Display(), g.Black.Normalized())
	fmt.Fprintf(out, "event:      %s\n", g.Event)
	fmt.Fprintf(out, "date:       %s\n", g.Date)
	fmt.Fprintf(out, "moves:      %d (%d book)\n", len(g.Moves), book)
	fmt.Fprintf(out, "out of book: %t\n", g.OutOfBook())
	fmt.Fprintf(out, "fingerprint: %s\n", g.Fingerprint())
	if code, title := ccrlpgn.Opening(g); code != "" {
		fmt.Fprintf(out, "opening:    %s %s\n", code, title)
	}
}
