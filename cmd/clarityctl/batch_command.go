package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/engine/search"
	"github.com/clarityhq/clarity/engine/store"
)

// brandTarget is one line of a brands file. JSON files parse too, since
// JSON is valid YAML.
type brandTarget struct {
	Name    string   `yaml:"name" json:"name"`
	Website string   `yaml:"website" json:"website,omitempty"`
	Sources []string `yaml:"sources" json:"sources,omitempty"`
}

var defaultBrands = []brandTarget{
	{Name: "Vivienne Westwood", Website: "https://www.viviennewestwood.com"},
	{Name: "Dior", Website: "https://www.dior.com"},
	{Name: "Hydroflask", Website: "https://www.hydroflask.com"},
}

// loadBrands reads either a top-level list or a document with a brands key.
func loadBrands(path string) ([]brandTarget, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read brands file: %w", err)
	}
	var list []brandTarget
	if err := yaml.Unmarshal(raw, &list); err != nil {
		var doc struct {
			Brands []brandTarget `yaml:"brands"`
		}
		if derr := yaml.Unmarshal(raw, &doc); derr != nil {
			return nil, fmt.Errorf("parse brands file %s: %w", path, err)
		}
		list = doc.Brands
	}

	out := make([]brandTarget, 0, len(list))
	for i, b := range list {
		b.Name = strings.TrimSpace(b.Name)
		if b.Name == "" {
			return nil, fmt.Errorf("brands file %s: entry %d has no name", path, i+1)
		}
		b.Website = strings.TrimSpace(b.Website)
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("brands file %s: no brands", path)
	}
	return out, nil
}

type batchOptions struct {
	sources   []string
	interval  time.Duration
	delay     time.Duration
	timeout   time.Duration
	dryRun    bool
	maxBrands int
	verify    bool
}

// batchResult is the outcome of one brand.
type batchResult struct {
	Brand     string  `json:"brand"`
	SessionID string  `json:"session_id,omitempty"`
	Status    string  `json:"status"`
	Results   int     `json:"results"`
	Average   float64 `json:"average_score"`
	Saved     bool    `json:"saved"`
	Error     string  `json:"error,omitempty"`
	Elapsed   float64 `json:"elapsed_seconds"`
}

const (
	batchOK         = "ok"
	batchSaveFailed = "save_failed"
	batchTimeout    = "timeout"
	batchError      = "error"
	batchSkipped    = "dry_run"
)

type batchReport struct {
	Results []batchResult `json:"results"`
	Found   []string      `json:"found,omitempty"`
	Missing []string      `json:"missing,omitempty"`
	Elapsed float64       `json:"elapsed_seconds"`
}

func (r batchReport) failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status != batchOK && res.Status != batchSkipped {
			n++
		}
	}
	return n
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var (
		opts       batchOptions
		brandsFile string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Collect and save reputation data for a list of brands",
		Long: "Runs one auto-saving search per brand, one brand at a time, then checks\n" +
			"that every brand shows up in the stored brand list.",
		RunE: func(cmd *cobra.Command, args []string) error {
			brands := defaultBrands
			if brandsFile != "" {
				var err error
				if brands, err = loadBrands(brandsFile); err != nil {
					return err
				}
			}
			if opts.maxBrands > 0 && opts.maxBrands < len(brands) {
				brands = brands[:opts.maxBrands]
			}

			runCtx, stop := signalContext(cmd)
			defer stop()

			report, err := runBatch(runCtx, ctx.client(), brands, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if ctx.json {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				printBatchReport(cmd.OutOrStdout(), report)
			}
			if n := report.failed(); n > 0 {
				return fmt.Errorf("batch: %d of %d brands failed", n, len(report.Results))
			}
			if len(report.Missing) > 0 {
				return fmt.Errorf("batch: %d brands missing after save", len(report.Missing))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&brandsFile, "brands-file", "", "YAML or JSON list of {name, website, sources}")
	cmd.Flags().StringSliceVar(&opts.sources, "sources", []string{"trustpilot", "yelp", "google_reviews", "news"}, "Sources for brands that name none")
	cmd.Flags().DurationVar(&opts.interval, "poll-interval", 2*time.Second, "Delay between status polls")
	cmd.Flags().DurationVar(&opts.delay, "delay", 5*time.Second, "Pause between brands")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Per-brand completion timeout")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "List what would be collected without calling the API")
	cmd.Flags().IntVar(&opts.maxBrands, "max-brands", 0, "Process at most this many brands (0 means all)")
	cmd.Flags().BoolVar(&opts.verify, "verify", true, "Check the stored brand list afterwards")

	return cmd
}

// runBatch processes brands sequentially. Per-brand failures land in the
// report; only cancellation aborts the run.
func runBatch(ctx context.Context, client *apiClient, brands []brandTarget, opts batchOptions, progress io.Writer) (batchReport, error) {
	start := time.Now()
	var report batchReport

	for i, b := range brands {
		sources := b.Sources
		if len(sources) == 0 {
			sources = opts.sources
		}
		prefix := fmt.Sprintf("[%d/%d] %s", i+1, len(brands), b.Name)

		if opts.dryRun {
			fmt.Fprintf(progress, "%s: would search %s\n", prefix, strings.Join(sources, ", "))
			report.Results = append(report.Results, batchResult{Brand: b.Name, Status: batchSkipped})
			continue
		}
		if i > 0 && opts.delay > 0 {
			if err := sleep(ctx, opts.delay); err != nil {
				return report, err
			}
		}

		res := collectBrand(ctx, client, b, sources, opts, func(s search.Snapshot) {
			fmt.Fprintf(progress, "%s: %d/%d sources done\n", prefix, s.Progress.Completed, s.Progress.Total)
		})
		if errors.Is(ctx.Err(), context.Canceled) {
			return report, ctx.Err()
		}
		fmt.Fprintf(progress, "%s: %s (%d results)\n", prefix, res.Status, res.Results)
		report.Results = append(report.Results, res)
	}

	if opts.verify && !opts.dryRun {
		found, missing, err := verifyBrands(ctx, client, report.Results)
		if err != nil {
			return report, err
		}
		report.Found, report.Missing = found, missing
	}
	report.Elapsed = time.Since(start).Seconds()
	return report, nil
}

func collectBrand(ctx context.Context, client *apiClient, b brandTarget, sources []string, opts batchOptions, progress func(search.Snapshot)) batchResult {
	start := time.Now()
	res := batchResult{Brand: b.Name}

	started, err := client.Initiate(ctx, search.InitiateRequest{
		Query:      b.Name,
		Sources:    sources,
		AutoSave:   true,
		WebsiteURL: b.Website,
	})
	if err != nil {
		res.Status, res.Error = batchError, err.Error()
		res.Elapsed = time.Since(start).Seconds()
		return res
	}
	res.SessionID = started.SessionID

	snap, err := waitForCompletion(ctx, client, started.SessionID, opts.interval, opts.timeout, progress)
	res.Elapsed = time.Since(start).Seconds()
	switch {
	case snap.State == domain.SessionCompleted:
		if snap.Stats != nil {
			res.Results = snap.Stats.TotalResults
			res.Average = snap.Stats.AverageScore
		}
		res.Saved = snap.Saved
		res.Status = batchOK
		if snap.SaveError != "" {
			res.Status, res.Error = batchSaveFailed, snap.SaveError
		}
	case errors.Is(err, errPollTimeout):
		res.Status, res.Error = batchTimeout, err.Error()
	default:
		res.Status, res.Error = batchError, err.Error()
	}
	return res
}

// verifyBrands checks that every brand that saved entries appears in the
// stored brand list. Names are compared in their stored form.
func verifyBrands(ctx context.Context, client *apiClient, results []batchResult) (found, missing []string, err error) {
	stored, err := client.Brands(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("verify brands: %w", err)
	}
	have := make(map[string]bool, len(stored))
	for _, b := range stored {
		have[b.Name] = true
	}
	for _, r := range results {
		if !r.Saved {
			continue
		}
		name, perr := store.PartitionName(r.Brand)
		if perr == nil && have[name] {
			found = append(found, r.Brand)
		} else {
			missing = append(missing, r.Brand)
		}
	}
	return found, missing, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func printBatchReport(w io.Writer, report batchReport) {
	rows := make([][]string, 0, len(report.Results))
	total := 0
	for _, r := range report.Results {
		total += r.Results
		saved := "no"
		if r.Saved {
			saved = "yes"
		}
		rows = append(rows, []string{
			r.Brand,
			r.Status,
			strconv.Itoa(r.Results),
			strconv.FormatFloat(r.Average, 'f', 3, 64),
			saved,
			strconv.FormatFloat(r.Elapsed, 'f', 1, 64) + "s",
		})
	}
	fmt.Fprint(w, renderTable([]column{
		{Title: "Brand"},
		{Title: "Status"},
		{Title: "Results", Numeric: true},
		{Title: "Avg score", Numeric: true},
		{Title: "Saved"},
		{Title: "Elapsed", Numeric: true},
	}, rows))

	failed := report.failed()
	fmt.Fprintf(w, "Brands: %d, successful: %d, failed: %d, total results: %d, elapsed: %.1fs\n",
		len(report.Results), len(report.Results)-failed, failed, total, report.Elapsed)
	if len(report.Found) > 0 {
		fmt.Fprintf(w, "Stored: %s\n", strings.Join(report.Found, ", "))
	}
	if len(report.Missing) > 0 {
		fmt.Fprintf(w, "Missing: %s\n", strings.Join(report.Missing, ", "))
	}
}
