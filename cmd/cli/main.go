package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/fetchq-go/api/handlers"
	"github.com/yourusername/fetchq-go/internal/app"
	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/internal/infrastructure"
)

var (
	serverURL   string
	noAutoStart bool
	configFile  string
	rootCmd     = &cobra.Command{
		Use:   "fetchq",
		Short: "fetchq - concurrent media download orchestrator",
		Long: `A command-line interface for the fetchq download orchestrator.

Remote commands talk to a running fetchq-server and start it when needed.
The fetch, resume and config commands run locally.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(workersCmd)

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(configCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// call sends a JSON request and decodes the response into out.
// Non-2xx responses exit with the server's error message.
func call(method, path string, payload, out interface{}) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			fail(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		fail(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(data))
		os.Exit(1)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			fail(fmt.Errorf("invalid server response: %w", err))
		}
	}
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

var addCmd = &cobra.Command{
	Use:   "add [url...]",
	Short: "Submit a batch of downloads to the server",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		req := handlers.CreateBatchRequest{Config: overridesFromFlags(cmd)}
		cuts, _ := cmd.Flags().GetStringArray("cut")
		if len(cuts) > 0 {
			if len(args) != 1 {
				fail(fmt.Errorf("--cut requires exactly one url"))
			}
			points, err := parseCutPoints(cuts)
			if err != nil {
				fail(err)
			}
			source := handlers.SourceRequest{Source: args[0]}
			for _, p := range points {
				source.CutPoints = append(source.CutPoints, handlers.CutPointRequest{
					Start: p.Start.Seconds(),
					End:   p.End.Seconds(),
					Label: p.Label,
				})
			}
			req.Requests = []handlers.SourceRequest{source}
		} else {
			req.URLs = args
		}

		var status app.BatchStatus
		call(http.MethodPost, "/api/v1/batches", req, &status)

		fmt.Printf("Batch submitted successfully!\n")
		fmt.Printf("ID:    %s\n", status.ID)
		fmt.Printf("Tasks: %d\n", len(status.TaskIDs))

		if wait, _ := cmd.Flags().GetBool("wait"); wait {
			status = waitForBatch(status.ID)
			printBatch(status)
		}
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [id]",
	Short: "Show batch status and results",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		var status app.BatchStatus
		call(http.MethodGet, "/api/v1/batches/"+args[0], nil, &status)
		printBatch(status)
	},
}

func waitForBatch(id string) app.BatchStatus {
	for {
		var status app.BatchStatus
		call(http.MethodGet, "/api/v1/batches/"+id, nil, &status)
		if status.Done {
			return status
		}
		time.Sleep(time.Second)
	}
}

func printBatch(status app.BatchStatus) {
	state := "running"
	if status.Done {
		state = "done"
	}
	fmt.Printf("Batch %s (%s)\n", status.ID, state)
	if status.Error != "" {
		fmt.Printf("  Error: %s\n", status.Error)
	}
	if len(status.Results) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSOURCE\tSTATUS\tATTEMPTS\tRESULT")
	for _, r := range status.Results {
		if r == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			truncate(r.TaskID, 8),
			truncate(r.Source, 40),
			r.Status,
			r.Attempts,
			resultSummary(r))
	}
	w.Flush()
}

func resultSummary(r *domain.Result) string {
	if r.Success {
		if len(r.SegmentPaths) > 0 {
			return fmt.Sprintf("%s (+%d segments)", r.LocalPath, len(r.SegmentPaths))
		}
		return r.LocalPath
	}
	if r.Classification != nil {
		return fmt.Sprintf("%s: %s", r.Classification.Category, truncate(r.ErrorMessage, 60))
	}
	return truncate(r.ErrorMessage, 60)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks known to the server",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		status, _ := cmd.Flags().GetString("status")

		path := "/api/v1/tasks"
		if status != "" {
			path += "?status=" + url.QueryEscape(status)
		}

		var queue app.QueueStatus
		call(http.MethodGet, path, nil, &queue)

		fmt.Printf("Workers: %d | Queued: %d | Active: %d\n\n", queue.Workers, queue.QueueSize, queue.ActiveTasks)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tATTEMPTS\tCREATED")
		for _, t := range queue.Tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				truncate(t.ID, 8),
				truncate(t.Source, 40),
				t.Status,
				t.AttemptCount,
				t.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get task details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		var task domain.Task
		call(http.MethodGet, "/api/v1/tasks/"+args[0], nil, &task)

		fmt.Printf("Task Details:\n")
		fmt.Printf("  ID:       %s\n", task.ID)
		fmt.Printf("  Source:   %s\n", task.Source)
		fmt.Printf("  Status:   %s\n", task.Status)
		fmt.Printf("  Attempts: %d\n", task.AttemptCount)
		fmt.Printf("  Created:  %s\n", task.CreatedAt.Format(time.RFC3339))
		if task.LastError != "" {
			fmt.Printf("  Error:    %s\n", task.LastError)
		}
		if task.Result != nil && task.Result.LocalPath != "" {
			fmt.Printf("  File:     %s\n", task.Result.LocalPath)
			for _, p := range task.Result.SegmentPaths {
				fmt.Printf("  Segment:  %s\n", p)
			}
		}
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		call(http.MethodPost, "/api/v1/tasks/"+args[0]+"/cancel", nil, nil)
		fmt.Println("Task cancelled successfully")
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download statistics",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		var stats struct {
			Session app.Stats         `json:"session"`
			History *domain.TaskStats `json:"history"`
		}
		call(http.MethodGet, "/api/v1/stats?recent=0", nil, &stats)

		s := stats.Session
		fmt.Println("Session Statistics:")
		fmt.Printf("  Total:      %d\n", s.TotalTasks)
		fmt.Printf("  Successful: %d\n", s.Successful)
		fmt.Printf("  Failed:     %d\n", s.Failed)
		fmt.Printf("  Cancelled:  %d\n", s.Cancelled)
		fmt.Printf("  Resumed:    %d\n", s.Resumed)
		fmt.Printf("  Retries:    %d\n", s.Retries)
		fmt.Printf("  Avg time:   %s\n", infrastructure.FormatDuration(s.AverageTime))

		if h := stats.History; h != nil {
			fmt.Println("History:")
			fmt.Printf("  Total:      %d\n", h.Total)
			fmt.Printf("  Completed:  %d\n", h.Completed)
			fmt.Printf("  Failed:     %d\n", h.Failed)
			fmt.Printf("  Cancelled:  %d\n", h.Cancelled)
			fmt.Printf("  Resumed:    %d\n", h.Resumed)
		}
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers [n]",
	Short: "Resize the server's worker pool",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		var n int
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
			fail(fmt.Errorf("invalid worker count: %s", args[0]))
		}
		call(http.MethodPut, "/api/v1/workers", handlers.WorkersRequest{Workers: n}, nil)
		fmt.Printf("Worker pool resized to %d\n", n)
	},
}

func init() {
	addRequestFlags(addCmd)
	addCmd.Flags().StringArray("cut", nil, "Cut point START[-END][=LABEL], repeatable (single url only)")
	addCmd.Flags().BoolP("wait", "w", false, "Wait for the batch to finish")
	listCmd.Flags().StringP("status", "s", "", "Filter by status")
}

// addRequestFlags registers the per-request config overrides
func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("quality", "q", "", "Quality (best, worst, 1080p, 720p, ...)")
	cmd.Flags().StringP("format", "f", "", "Container format (mp4, webm, mkv)")
	cmd.Flags().StringP("output", "o", "", "Output directory")
	cmd.Flags().IntP("parallel", "p", 0, "Number of parallel downloads (1-10)")
	cmd.Flags().IntP("retries", "r", 0, "Retry attempts (0-10)")
	cmd.Flags().Bool("no-resume", false, "Disable resume of partial downloads")
}

// overridesFromFlags returns the overrides for flags set on the command line
func overridesFromFlags(cmd *cobra.Command) *handlers.ConfigOverrides {
	o := &handlers.ConfigOverrides{}
	flags := cmd.Flags()
	set := false

	if flags.Changed("quality") {
		v, _ := flags.GetString("quality")
		o.Quality, set = &v, true
	}
	if flags.Changed("format") {
		v, _ := flags.GetString("format")
		o.Format, set = &v, true
	}
	if flags.Changed("output") {
		v, _ := flags.GetString("output")
		o.OutputDirectory, set = &v, true
	}
	if flags.Changed("parallel") {
		v, _ := flags.GetInt("parallel")
		o.Parallelism, set = &v, true
	}
	if flags.Changed("retries") {
		v, _ := flags.GetInt("retries")
		o.RetryAttempts, set = &v, true
	}
	if flags.Changed("no-resume") {
		v, _ := flags.GetBool("no-resume")
		resume := !v
		o.ResumeEnabled, set = &resume, true
	}

	if !set {
		return nil
	}
	return o
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
