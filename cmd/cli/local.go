package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/fetchq-go/internal/app"
	"github.com/yourusername/fetchq-go/internal/bootstrap"
	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/internal/infrastructure"
)

func loadConfig() *domain.Config {
	config, err := app.LoadConfig(configFile)
	if err != nil {
		fail(err)
	}
	return config
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [url...]",
	Short: "Download urls in this process and wait for completion",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := loadConfig()
		if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
			config.Logging.Level = "warn"
		}

		log, err := bootstrap.NewLogger(config)
		if err != nil {
			fail(err)
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := bootstrap.Build(ctx, config, log, bootstrap.Options{History: true, Events: true})
		if err != nil {
			fail(err)
		}

		requests, err := fetchRequests(cmd, args)
		if err != nil {
			rt.Close()
			fail(err)
		}
		requestConfig := overridesFromFlags(cmd).Apply(rt.Orchestrator.Defaults())

		var console *infrastructure.ConsoleProgress
		if config.Progress.Console {
			console = infrastructure.NewConsoleProgress(os.Stderr)
			rt.Orchestrator.AddProgressSink(console)
		}

		results, runErr := rt.Orchestrator.SubmitBatch(ctx, requests, requestConfig)

		if console != nil {
			console.Finish(rt.Orchestrator.Summary())
		}
		// an interrupted run cancels queued work; running attempts get a bounded time to settle
		if err := rt.Shutdown(runErr == nil); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}

		failed := printResults(requests, results)
		if runErr != nil {
			fail(runErr)
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func fetchRequests(cmd *cobra.Command, args []string) ([]domain.Request, error) {
	cuts, _ := cmd.Flags().GetStringArray("cut")
	if len(cuts) == 0 {
		requests := make([]domain.Request, len(args))
		for i, a := range args {
			requests[i] = domain.Request{Source: a}
		}
		return requests, nil
	}

	if len(args) != 1 {
		return nil, fmt.Errorf("--cut requires exactly one url")
	}
	points, err := parseCutPoints(cuts)
	if err != nil {
		return nil, err
	}
	return []domain.Request{{Source: args[0], CutPoints: points}}, nil
}

// printResults writes one line per request and returns the number of failures
func printResults(requests []domain.Request, results []*domain.Result) int {
	failed := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTATUS\tATTEMPTS\tRESULT")
	for i, req := range requests {
		var r *domain.Result
		if i < len(results) {
			r = results[i]
		}
		if r == nil {
			failed++
			fmt.Fprintf(w, "%s\t%s\t-\tnot finished\n", truncate(req.Source, 40), domain.StatusCancelled)
			continue
		}
		if !r.Success {
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", truncate(r.Source, 40), r.Status, r.Attempts, resultSummary(r))
	}
	w.Flush()
	return failed
}

// parseCutPoints parses START[-END][=LABEL] values.
// Times are seconds or [HH:]MM:SS[.mmm].
func parseCutPoints(values []string) ([]domain.CutPoint, error) {
	points := make([]domain.CutPoint, 0, len(values))
	for _, v := range values {
		spec, label, _ := strings.Cut(v, "=")

		startText, endText, hasEnd := strings.Cut(spec, "-")
		start, err := parseTimestamp(startText)
		if err != nil {
			return nil, fmt.Errorf("invalid cut point %q: %w", v, err)
		}

		point := domain.CutPoint{Start: start, Label: strings.TrimSpace(label)}
		if hasEnd {
			end, err := parseTimestamp(endText)
			if err != nil {
				return nil, fmt.Errorf("invalid cut point %q: %w", v, err)
			}
			if end <= start {
				return nil, fmt.Errorf("invalid cut point %q: end must be after start", v)
			}
			point.End = end
		}
		points = append(points, point)
	}
	return points, nil
}

func parseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("too many fields in %q", s)
	}

	var total float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		// only the last field may carry a fraction
		if i < len(parts)-1 && n != float64(int64(n)) {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		total = total*60 + n
	}
	return time.Duration(total * float64(time.Second)).Round(time.Millisecond), nil
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Manage resume checkpoints",
}

func openResumeStore() (*app.ResumeStore, func() error) {
	config := loadConfig()
	store, closeFn, err := bootstrap.OpenResumeStore(context.Background(), config.Resume, nil)
	if err != nil {
		fail(err)
	}
	if store == nil {
		fail(fmt.Errorf("resume is disabled (backend: none)"))
	}
	return store, closeFn
}

var resumeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored checkpoints",
	Run: func(cmd *cobra.Command, args []string) {
		store, closeFn := openResumeStore()
		defer closeFn()

		checkpoints, err := store.ListAll(context.Background())
		if err != nil {
			fail(err)
		}
		if len(checkpoints) == 0 {
			fmt.Println("No checkpoints")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tTITLE\tPROGRESS\tMODIFIED")
		for _, cp := range checkpoints {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				truncate(cp.Source, 40),
				truncate(cp.Title, 30),
				checkpointProgress(cp),
				cp.LastModified.Format(time.RFC3339))
		}
		w.Flush()
	},
}

func checkpointProgress(cp *domain.ResumeCheckpoint) string {
	if cp.TotalBytes <= 0 {
		return infrastructure.FormatBytes(cp.DownloadedBytes)
	}
	return fmt.Sprintf("%s / %s", infrastructure.FormatBytes(cp.DownloadedBytes), infrastructure.FormatBytes(cp.TotalBytes))
}

var resumeGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove checkpoints older than --days",
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		if days < 0 {
			fail(fmt.Errorf("--days cannot be negative"))
		}
		if !cmd.Flags().Changed("days") {
			days = loadConfig().Resume.MaxAgeDays
		}

		store, closeFn := openResumeStore()
		defer closeFn()

		removed, err := store.GC(context.Background(), days)
		if err != nil {
			fail(err)
		}
		fmt.Printf("Removed %d checkpoint(s) older than %d day(s)\n", removed, days)
	},
}

var resumeClearCmd = &cobra.Command{
	Use:   "clear [source...]",
	Short: "Delete the checkpoints of the given sources, or all with --all",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		if len(args) == 0 && !all {
			fail(fmt.Errorf("give one or more sources or --all"))
		}

		store, closeFn := openResumeStore()
		defer closeFn()
		ctx := context.Background()

		sources := args
		if all {
			checkpoints, err := store.ListAll(ctx)
			if err != nil {
				fail(err)
			}
			sources = sources[:0]
			for _, cp := range checkpoints {
				sources = append(sources, cp.Source)
			}
		}

		for _, source := range sources {
			if err := store.Invalidate(ctx, source); err != nil {
				fail(err)
			}
		}
		fmt.Printf("Cleared %d checkpoint(s)\n", len(sources))
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		config := loadConfig()
		d := config.Orchestrator.Defaults

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		rows := [][2]string{
			{"server", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)},
			{"defaults.quality", d.Quality},
			{"defaults.format", d.Format},
			{"defaults.output_directory", d.OutputDirectory},
			{"defaults.parallelism", strconv.Itoa(d.Parallelism)},
			{"defaults.resume_enabled", strconv.FormatBool(d.ResumeEnabled)},
			{"defaults.retry_attempts", strconv.Itoa(d.RetryAttempts)},
			{"retry.base_delay", config.Retry.BaseDelay.String()},
			{"retry.max_delay", config.Retry.MaxDelay.String()},
			{"retry.jitter_factor", strconv.FormatFloat(config.Retry.JitterFactor, 'f', -1, 64)},
			{"resume.backend", config.Resume.Backend},
			{"resume.bucket_url", config.Resume.BucketURL},
			{"resume.redis_address", config.Resume.RedisAddress},
			{"resume.max_age_days", strconv.Itoa(config.Resume.MaxAgeDays)},
			{"progress.emit_interval", config.Progress.EmitInterval.String()},
			{"store.database_path", config.Store.DatabasePath},
			{"events.kafka_brokers", config.Events.KafkaBrokers},
			{"events.kafka_topic", config.Events.KafkaTopic},
			{"events.notify", strconv.FormatBool(config.Events.Notify)},
			{"tools.ytdlp_binary", config.Tools.YTDLPBinary},
			{"tools.ffmpeg_binary", config.Tools.FFmpegBinary},
			{"tools.logs_dir", config.Tools.LogsDir},
			{"logging.level", config.Logging.Level},
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\n", r[0], r[1])
		}
		w.Flush()
	},
}

func init() {
	addRequestFlags(fetchCmd)
	fetchCmd.Flags().StringArray("cut", nil, "Cut point START[-END][=LABEL], repeatable (single url only)")
	fetchCmd.Flags().BoolP("verbose", "v", false, "Log at the configured level instead of warn")

	resumeGCCmd.Flags().Int("days", 0, "Maximum checkpoint age in days (default from config)")
	resumeClearCmd.Flags().Bool("all", false, "Delete every checkpoint")
	resumeCmd.AddCommand(resumeListCmd, resumeGCCmd, resumeClearCmd)

	configCmd.AddCommand(configShowCmd)
}
