package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/engine/search"
)

// errPollTimeout means a session did not complete within the wait budget.
var errPollTimeout = errors.New("session did not complete in time")

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var (
		sources  []string
		website  string
		autoSave bool
		wait     bool
		interval time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Start a search session and optionally wait for its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signalContext(cmd)
			defer stop()
			client := ctx.client()

			started, err := client.Initiate(runCtx, search.InitiateRequest{
				Query:      args[0],
				Sources:    sources,
				AutoSave:   autoSave,
				WebsiteURL: website,
			})
			if err != nil {
				return err
			}
			if !wait {
				if ctx.json {
					return writeJSON(cmd, started)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s started for %q (%d sources)\n", started.SessionID, started.Query, len(started.Tasks))
				return nil
			}

			out := cmd.ErrOrStderr()
			snap, err := waitForCompletion(runCtx, client, started.SessionID, interval, timeout, func(s search.Snapshot) {
				fmt.Fprintf(out, "%s: %d/%d sources done\n", s.Query, s.Progress.Completed, s.Progress.Total)
			})
			if snap.State != domain.SessionCompleted {
				return err
			}
			if ctx.json {
				if jerr := writeJSON(cmd, snap); jerr != nil {
					return jerr
				}
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&sources, "sources", nil, "Sources to search (default: trustpilot,yelp,google_reviews,news)")
	cmd.Flags().StringVar(&website, "website", "", "Brand website used as a scraping hint")
	cmd.Flags().BoolVar(&autoSave, "auto-save", true, "Persist the results when the session completes")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the session completes")
	cmd.Flags().DurationVar(&interval, "poll-interval", 2*time.Second, "Delay between status polls")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up waiting after this long")

	return cmd
}

// waitForCompletion polls a session until it completes, the timeout
// elapses or ctx is cancelled. progress is called whenever the number of
// finished sources changes. A completed snapshot is returned together with
// any persistence error the API reported for it.
func waitForCompletion(ctx context.Context, client *apiClient, id string, interval, timeout time.Duration, progress func(search.Snapshot)) (search.Snapshot, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	last := -1
	for {
		snap, err := client.Status(ctx, id)
		if snap.State == domain.SessionCompleted {
			return snap, err
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return snap, fmt.Errorf("session %s: %w", id, errPollTimeout)
			}
			return snap, err
		}
		if progress != nil && snap.Progress.Completed != last {
			last = snap.Progress.Completed
			progress(snap)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return snap, fmt.Errorf("session %s: %w", id, errPollTimeout)
			}
			return snap, ctx.Err()
		case <-timer.C:
		}
	}
}

func printSnapshot(w io.Writer, snap search.Snapshot) {
	fmt.Fprintf(w, "Session %s for %q completed\n", snap.SessionID, snap.Query)

	srcs := make([]string, 0, len(snap.Sources))
	for src := range snap.Sources {
		srcs = append(srcs, string(src))
	}
	sort.Strings(srcs)

	rows := make([][]string, 0, len(srcs))
	for _, src := range srcs {
		st := snap.Sources[domain.SourceType(src)]
		count := "-"
		if st.EntryCount != nil {
			count = strconv.Itoa(*st.EntryCount)
		}
		note := st.FailureReason
		if st.ProcessingError != "" {
			note = st.ProcessingError
		}
		rows = append(rows, []string{src, string(st.State), count, truncate(note, 60)})
	}
	fmt.Fprint(w, renderTable([]column{
		{Title: "Source"}, {Title: "State"}, {Title: "Entries", Numeric: true}, {Title: "Note"},
	}, rows))

	if snap.Stats != nil {
		fmt.Fprintf(w, "Results: %d, average score %.3f\n", snap.Stats.TotalResults, snap.Stats.AverageScore)
	}
	switch {
	case snap.Saved && snap.Batch != nil:
		fmt.Fprintf(w, "Saved %d entries to %s\n", snap.Batch.Count, snap.Batch.File)
	case snap.SaveError != "":
		fmt.Fprintf(w, "Save failed: %s\n", snap.SaveError)
	}
}
