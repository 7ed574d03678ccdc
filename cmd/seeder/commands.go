package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/seeder/horosafe"
	"github.com/hazyhaar/seeder/seeder"
)

const previewRunes = 500

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check source files for schema errors",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "check-urls", Aliases: []string{"u"}, Usage: "probe every active source for reachability"},
		},
		Action: func(c *cli.Context) error {
			paths, err := requireArgs(c, "source file")
			if err != nil {
				return err
			}
			var check *seeder.CheckOptions
			if c.Bool("check-urls") {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				check = &seeder.CheckOptions{UserAgent: cfg.UserAgent}
				if cfg.AllowPrivateURLs {
					check.URLValidator = horosafe.AllowAll
				}
			}
			rep := seeder.Validate(c.Context, paths, check)
			w := c.App.Writer
			for _, e := range rep.Errors {
				fmt.Fprintf(w, "INVALID %s\n", e.Error())
			}
			ids := make([]string, 0, len(rep.Unreachable))
			for id := range rep.Unreachable {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(w, "UNREACHABLE %s: %s\n", id, rep.Unreachable[id])
			}
			fmt.Fprintf(w, "%d valid sources, %d errors", len(rep.Sources), len(rep.Errors))
			if check != nil {
				fmt.Fprintf(w, ", %d/%d unreachable", len(rep.Unreachable), rep.Checked)
			}
			fmt.Fprintln(w)
			if !rep.OK() {
				return cli.Exit("validation failed", 1)
			}
			return nil
		},
	}
}

func countCommand() *cli.Command {
	return &cli.Command{
		Name:      "count",
		Usage:     "Count sources per namespace and type",
		ArgsUsage: "FILE...",
		Action: func(c *cli.Context) error {
			paths, err := requireArgs(c, "source file")
			if err != nil {
				return err
			}
			sum, errs := seeder.Count(paths)
			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAMESPACE\tSOURCES")
			for _, ns := range sum.Namespaces() {
				fmt.Fprintf(tw, "%s\t%d\n", ns, sum.ByNamespace[ns])
			}
			fmt.Fprintln(tw, "\nTYPE\tSOURCES")
			types := make([]string, 0, len(sum.ByType))
			for t := range sum.ByType {
				types = append(types, string(t))
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Fprintf(tw, "%s\t%d\n", t, sum.ByType[seeder.SourceType(t)])
			}
			tw.Flush()
			fmt.Fprintf(c.App.Writer, "\ntotal %d, placeholders %d, inactive %d, invalid %d\n",
				sum.Total, sum.Placeholders, sum.Inactive, len(errs))
			return nil
		},
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create the state database",
		Action: func(c *cli.Context) error {
			svc, err := openService(c)
			if err != nil {
				return err
			}
			defer svc.Close()
			fmt.Fprintf(c.App.Writer, "state database ready at %s\n", svc.Config().StateDBPath)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Extract, score and deliver sources",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "show what would be processed without writing anything"},
			&cli.BoolFlag{Name: "extract-only", Usage: "extract and hash without scoring or delivering"},
			&cli.StringFlag{Name: "namespace", Aliases: []string{"n"}, Usage: "only sync this namespace"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "concurrent extractions (0 = config)"},
			&cli.BoolFlag{Name: "retry-failed", Usage: "also claim sources that failed before"},
			&cli.IntFlag{Name: "max-failed-retries", Usage: "with --retry-failed, skip sources that already failed this often (0 = no cap)"},
			&cli.BoolFlag{Name: "refresh", Usage: "re-extract completed sources and redeliver changed content"},
			&cli.BoolFlag{Name: "skip-health-check", Usage: "do not probe the knowledge store first"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve /healthz, /status and /metrics while syncing"},
		},
		Action: func(c *cli.Context) error {
			paths, err := requireArgs(c, "source file")
			if err != nil {
				return err
			}
			svc, err := openService(c)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()
			watchSignals(ctx, svc.Stop, cancel)

			res, err := svc.Sync(ctx, paths, seeder.SyncOptions{
				Namespace:        c.String("namespace"),
				DryRun:           c.Bool("dry-run"),
				ExtractOnly:      c.Bool("extract-only"),
				RetryFailed:      c.Bool("retry-failed"),
				MaxFailedRetries: c.Int("max-failed-retries"),
				Refresh:          c.Bool("refresh"),
				Workers:          c.Int("workers"),
				MetricsAddr:      c.String("metrics-addr"),
				SkipHealthCheck:  c.Bool("skip-health-check"),
			})
			if res != nil {
				printSync(c.App.Writer, res)
			}
			if errors.Is(err, seeder.ErrUnhealthy) {
				return cli.Exit(err.Error(), 1)
			}
			return err
		},
	}
}

// watchSignals stops claiming on the first interrupt and cancels in-flight
// work on the second.
func watchSignals(ctx context.Context, stop func(), cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			slog.Warn("seeder: finishing in-flight sources, interrupt again to abort")
			stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			slog.Warn("seeder: aborting")
			cancel()
		case <-ctx.Done():
		}
	}()
}

func printSync(w io.Writer, res *seeder.SyncResult) {
	for _, e := range res.Invalid {
		fmt.Fprintf(w, "INVALID %s\n", e.Error())
	}
	sum := res.Summary
	if sum == nil {
		return
	}
	ns := sum.Namespace
	if ns == "" {
		ns = "all"
	}
	if sum.DryRun {
		fmt.Fprintf(w, "dry run over %d sources (namespace %s)\n", res.Loaded, ns)
		keys := make([]string, 0, len(sum.Planned))
		for k := range sum.Planned {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-32s %d to process\n", k, sum.Planned[k])
		}
		fmt.Fprintf(w, "total %d\n", sum.Attempted)
		return
	}
	fmt.Fprintf(w, "run %s (namespace %s) took %s\n", sum.RunID, ns, sum.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "attempted %d  succeeded %d  skipped %d  failed %d  unchanged %d  extracted %d\n",
		sum.Attempted, sum.Succeeded, sum.Skipped, sum.Failed, sum.Unchanged, sum.Extracted)
	if sum.Recovered > 0 || sum.Released > 0 {
		fmt.Fprintf(w, "recovered %d stale, released %d on abort\n", sum.Recovered, sum.Released)
	}
	r := sum.Retry
	fmt.Fprintf(w, "retries: %d attempts, %d first try, %d after retry, %d exhausted, %d fatal, waited %s\n",
		r.TotalAttempts, r.FirstTry, r.AfterRetry, r.Exhausted, r.Fatal, r.TotalWait.Round(time.Millisecond))
	if sum.Stopped {
		fmt.Fprintln(w, "run stopped before every source was claimed")
	}
	for _, f := range sum.Failures {
		fmt.Fprintf(w, "FAILED %s [%s] %s\n", f.SourceID, f.Stage, f.Error)
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show source counts per status and recent runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "namespace", Aliases: []string{"n"}},
		},
		Action: func(c *cli.Context) error {
			svc, err := openService(c)
			if err != nil {
				return err
			}
			defer svc.Close()
			rep, err := svc.Status(c.Context, c.String("namespace"))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STATUS\tSOURCES")
			for _, st := range seeder.Statuses {
				if n := rep.Counts[st]; n > 0 {
					fmt.Fprintf(tw, "%s\t%d\n", st, n)
				}
			}
			fmt.Fprintf(tw, "total\t%d\n", rep.Total)
			tw.Flush()
			if len(rep.Namespaces) > 0 {
				fmt.Fprintf(c.App.Writer, "\nnamespaces: %s\n", strings.Join(rep.Namespaces, ", "))
			}
			if len(rep.Runs) == 0 {
				return nil
			}
			fmt.Fprintln(c.App.Writer)
			tw = tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tATTEMPTED\tOK\tSKIPPED\tFAILED\tUNCHANGED\tDURATION")
			for _, r := range rep.Runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n", r.RunID, r.StartedAt.Local().Format(time.DateTime),
					r.Attempted, r.Succeeded, r.Skipped, r.Failed, r.Unchanged, r.Duration.Round(time.Second))
			}
			return tw.Flush()
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List tracked sources",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "namespace", Aliases: []string{"n"}},
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}},
			&cli.IntFlag{Name: "limit", Value: 100},
		},
		Action: func(c *cli.Context) error {
			f := seeder.ListFilter{Namespace: c.String("namespace"), Limit: c.Int("limit")}
			if v := c.String("status"); v != "" {
				st, ok := seeder.ParseStatus(v)
				if !ok {
					return cli.Exit(fmt.Sprintf("unknown status %q", v), 2)
				}
				f.Status = st
			}
			svc, err := openService(c)
			if err != nil {
				return err
			}
			defer svc.Close()
			rows, err := svc.List(c.Context, f)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tTYPE\tSTATUS\tDOCUMENT\tCHUNKS\tUPDATED")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", r.SourceID, r.SourceType, r.Status,
					orDash(r.DocumentID), r.ChunkCount, r.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func failedCommand() *cli.Command {
	return &cli.Command{
		Name:  "failed",
		Usage: "Show failed sources, optionally requeueing them",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "namespace", Aliases: []string{"n"}},
			&cli.BoolFlag{Name: "requeue", Usage: "move every failed source back to pending"},
		},
		Action: func(c *cli.Context) error {
			svc, err := openService(c)
			if err != nil {
				return err
			}
			defer svc.Close()
			ns := c.String("namespace")
			if c.Bool("requeue") {
				n, err := svc.RequeueFailed(c.Context, ns)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "requeued %d sources\n", n)
				return nil
			}
			rows, err := svc.Failed(c.Context, ns)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(c.App.Writer, "no failed sources")
				return nil
			}
			for _, r := range rows {
				fmt.Fprintf(c.App.Writer, "%s (retries %d)\n  %s\n  %s\n", r.SourceID, r.RetryCount, r.URL, r.ErrorMessage)
			}
			return nil
		},
	}
}

func fetchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "web, video, repository, paper or file (default: detect)"},
	}
}

func fetch(c *cli.Context) (*seeder.FetchResult, error) {
	if c.NArg() != 1 {
		return nil, cli.Exit(c.Command.Name+": exactly one URL is required", 2)
	}
	t, ok := seeder.ParseSourceType(c.String("type"))
	if !ok {
		return nil, cli.Exit(fmt.Sprintf("unknown source type %q", c.String("type")), 2)
	}
	svc, err := openService(c)
	if err != nil {
		return nil, err
	}
	defer svc.Close()
	res, err := svc.Fetch(c.Context, c.Args().First(), t)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("fetch failed: %v", err), 1)
	}
	return res, nil
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Extract one URL and print the result without storing it",
		ArgsUsage: "URL",
		Flags:     fetchFlags(),
		Action: func(c *cli.Context) error {
			res, err := fetch(c)
			if err != nil {
				return err
			}
			w := c.App.Writer
			fmt.Fprintf(w, "title:    %s\n", res.Result.Title)
			fmt.Fprintf(w, "type:     %s (%s)\n", res.Source.Type, res.DocumentType)
			fmt.Fprintf(w, "length:   %d chars\n", len([]rune(res.Result.Content)))
			fmt.Fprintf(w, "hash:     %s\n", res.Hash)
			fmt.Fprintf(w, "quality:  %.1f (%s)\n", res.Score.Overall, res.Score.Grade)
			keys := make([]string, 0, len(res.Result.Metadata))
			for k := range res.Result.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "  %s: %s\n", k, res.Result.Metadata[k])
			}
			fmt.Fprintf(w, "\n%s\n", preview(res.Result.Content))
			return nil
		},
	}
}

func qualityCommand() *cli.Command {
	return &cli.Command{
		Name:      "quality",
		Usage:     "Extract one URL and print its quality breakdown",
		ArgsUsage: "URL",
		Flags:     fetchFlags(),
		Action: func(c *cli.Context) error {
			res, err := fetch(c)
			if err != nil {
				return err
			}
			s := res.Score
			w := c.App.Writer
			verdict := "PASS"
			if !res.Passes {
				verdict = "FAIL"
			}
			fmt.Fprintf(w, "%s: %.1f (%s) %s\n\n", res.Result.Title, s.Overall, s.Grade, verdict)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "length\t%.1f\n", s.Length)
			fmt.Fprintf(tw, "density\t%.1f\n", s.Density)
			fmt.Fprintf(tw, "structure\t%.1f\n", s.Structure)
			fmt.Fprintf(tw, "language\t%.1f\n", s.Language)
			fmt.Fprintf(tw, "uniqueness\t%.1f\n", s.Uniqueness)
			fmt.Fprintf(tw, "\nwords\t%d\n", s.WordCount)
			fmt.Fprintf(tw, "sentences\t%d\n", s.SentenceCount)
			fmt.Fprintf(tw, "avg sentence\t%.1f words\n", s.AvgSentenceLength)
			fmt.Fprintf(tw, "code ratio\t%.2f\n", s.CodeRatio)
			fmt.Fprintf(tw, "link density\t%.2f\n", s.LinkDensity)
			tw.Flush()
			if len(s.Issues) > 0 {
				fmt.Fprintln(w, "\nissues:")
				for _, is := range s.Issues {
					fmt.Fprintf(w, "  - %s\n", is)
				}
			}
			return nil
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check the knowledge store",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "stats", Usage: "also print the store statistics"},
		},
		Action: func(c *cli.Context) error {
			svc, err := openService(c)
			if err != nil {
				return err
			}
			defer svc.Close()
			h, err := svc.Health(c.Context)
			if h != nil {
				fmt.Fprintf(c.App.Writer, "%s: %s (%d documents)\n", svc.Config().APIBaseURL, h.Status, h.TotalContent)
			}
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if !c.Bool("stats") {
				return nil
			}
			stats, err := svc.StoreStats(c.Context)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, string(out))
			return nil
		},
	}
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewRunes {
		return content
	}
	return string(r[:previewRunes]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
