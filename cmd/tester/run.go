package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/services/session"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
)

type runFlags struct {
	url             string
	mode            string
	headless        bool
	useAI           bool
	skipNewsletters bool
	submitSelector  string
	fields          map[string]string
	jsonOutput      bool
	verbose         bool
}

func newRunCmd(c *cli) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Test the forms of a website and report the tracking they fire",
		Example: "  tester run --url https://example.com/contact\n" +
			"  tester run --url https://example.com --field email=lead@example.com --mode manual --json",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.url, "url", "u", "", "page to test (required)")
	flags.StringVar(&f.mode, "mode", string(domain.ModeAuto), "fill mode: auto or manual")
	flags.BoolVar(&f.headless, "headless", true, "run the browser without a window")
	flags.BoolVar(&f.useAI, "ai", false, "ask the language model for a form page when none is found")
	flags.BoolVar(&f.skipNewsletters, "skip-newsletters", true, "skip newsletter-only forms")
	flags.StringVar(&f.submitSelector, "submit-selector", "", "CSS selector of the submit control")
	flags.StringToStringVarP(&f.fields, "field", "f", nil, "field override as label=value, repeatable")
	flags.BoolVar(&f.jsonOutput, "json", false, "print the result as JSON")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "print every action line")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func (f *runFlags) request() domain.TestRequest {
	headless := f.headless
	useAI := f.useAI
	skip := f.skipNewsletters
	return domain.TestRequest{
		URL:             f.url,
		Mode:            f.mode,
		Headless:        &headless,
		Fields:          domain.FieldOverrides(f.fields),
		SubmitSelector:  f.submitSelector,
		UseAI:           &useAI,
		SkipNewsletters: &skip,
	}
}

func (c *cli) run(ctx context.Context, f *runFlags) error {
	cfg, err := c.loadCfg()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	} else {
		cfg.Log.Level = "warn"
	}
	logger := c.logger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	testCfg, err := f.request().ToConfiguration()
	if err != nil {
		red.Fprintf(c.stderr, "✗ %s\n", err.Error())
		return errReported
	}

	r, closeRunner, err := c.newRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRunner(); err != nil {
			logger.Warn("Failed to stop browser driver", zap.Error(err))
		}
	}()

	var opts []session.RunOption
	var bar *progressbar.ProgressBar
	if !f.jsonOutput {
		cyan.Fprintf(c.stderr, "Testing %s\n", testCfg.URL)
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(c.stderr),
			progressbar.OptionSetDescription("   Starting browser..."),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
		opts = append(opts, session.WithActionHook(func(line string) {
			bar.Describe("   " + truncate(line, 60))
			_ = bar.Add(1)
		}))
	}

	if ctx == nil {
		ctx = context.Background()
	}
	result, err := r.Run(ctx, testCfg, opts...)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		if f.jsonOutput {
			return c.reportFailure(err)
		}
		_, message := domain.FailureOf(err)
		red.Fprintf(c.stderr, "✗ %s\n", message)
		return errReported
	}

	if f.jsonOutput {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printSummary(c.stdout, result, f.verbose)
	return nil
}

func printSummary(w io.Writer, result *domain.SessionResult, verbose bool) {
	fmt.Fprintln(w)
	if len(result.DetectedTools) == 0 {
		yellow.Fprintln(w, "No tracking tools detected")
	} else {
		tools := make([]string, len(result.DetectedTools))
		for i, t := range result.DetectedTools {
			tools[i] = string(t)
		}
		green.Fprintf(w, "✓ Detected tools: %s\n", strings.Join(tools, ", "))
	}

	if len(result.Events) > 0 {
		bold.Fprintf(w, "\nTracking events (%d)\n", len(result.Events))
		for _, e := range result.Events {
			status := green.Sprint(string(e.Status))
			if e.Status == domain.StatusFailed {
				status = red.Sprint(string(e.Status))
			}
			fmt.Fprintf(w, "  %-7s  %-20s  %s\n", status, e.Platform, e.EventName)
			dim.Fprintf(w, "           %s\n", domain.TruncateURL(e.URL))
		}
	}

	fmt.Fprintln(w)
	if result.ThankYouPage.Detected {
		green.Fprintf(w, "✓ Thank-you page: %s\n", result.ThankYouPage.URL)
	} else {
		yellow.Fprintln(w, "No thank-you page detected")
	}

	if verbose {
		bold.Fprintf(w, "\nActions (%d)\n", len(result.Actions))
		for _, a := range result.Actions {
			dim.Fprintf(w, "  %s\n", a)
		}
	}
	dim.Fprintf(w, "\n%d actions, %d requests, %d screenshots\n",
		len(result.Actions), len(result.Requests), len(result.Screenshots))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
