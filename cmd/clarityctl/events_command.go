package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/engine/events"
	"github.com/clarityhq/clarity/pkg/natsutil"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var (
		natsURL string
		subject string
		count   int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow completed search sessions published on NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signalContext(cmd)
			defer stop()

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			nc, err := natsutil.Connect(natsURL, "clarityctl", logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			// handlers run on the NATS dispatch goroutine; printing stays on this one
			ch := make(chan events.SessionCompleted, 16)
			sub, err := events.Subscribe(nc, subject, func(hctx context.Context, ev events.SessionCompleted) {
				select {
				case ch <- ev:
				case <-runCtx.Done():
				}
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			if err := nc.Flush(); err != nil {
				return fmt.Errorf("events: flush subscription: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s\n", sub.Subject)

			seen := 0
			for {
				select {
				case <-runCtx.Done():
					return nil
				case ev := <-ch:
					if err := printEvent(cmd.OutOrStdout(), ev, ctx.json); err != nil {
						return err
					}
					seen++
					if count > 0 && seen >= count {
						return nil
					}
				}
			}
		},
	}

	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://127.0.0.1:4222"
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", url, "NATS server URL")
	cmd.Flags().StringVar(&subject, "subject", events.SubjectSessionCompleted, "Subject to follow")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many events (0 means run until interrupted)")

	return cmd
}

func printEvent(w io.Writer, ev events.SessionCompleted, asJSON bool) error {
	if asJSON {
		// one event per line so the output can be piped
		return json.NewEncoder(w).Encode(ev)
	}
	failed := 0
	for _, s := range ev.Sources {
		if s.State != domain.TaskCompleted {
			failed++
		}
	}
	saved := "not saved"
	switch {
	case ev.Saved:
		saved = "saved to " + ev.BatchFile
	case ev.SaveError != "":
		saved = "save failed: " + ev.SaveError
	}
	_, err := fmt.Fprintf(w, "%s  %-24s %3d results  avg %.3f  %d/%d sources failed  %s\n",
		ev.CompletedAt.Format("2006-01-02 15:04:05"), truncate(ev.Query, 24),
		ev.Stats.TotalResults, ev.Stats.AverageScore, failed, len(ev.Sources), saved)
	return err
}
