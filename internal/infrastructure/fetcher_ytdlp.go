package infrastructure

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

const (
	progressMarker = "fetchq-progress "
	doneMarker     = "fetchq-done "

	progressTemplate = "download:" + progressMarker +
		"%(progress.downloaded_bytes)s\t%(progress.total_bytes)s\t%(progress.total_bytes_estimate)s\t" +
		"%(progress.speed)s\t%(progress.eta)s\t%(progress.tmpfilename)s"
	doneTemplate = "after_move:" + doneMarker + "%(filepath)s\t%(id)s\t%(title)s\t%(duration)s"
)

// YTDLPFetcher implements Fetcher by running the yt-dlp binary
type YTDLPFetcher struct {
	binary      string
	logsDir     string
	eventLogger *logger.MultiLogger
	logger      *zap.Logger
}

// NewYTDLPFetcher creates a fetcher; command output is appended to a daily log in logsDir
func NewYTDLPFetcher(binary, logsDir string, eventLogger *logger.MultiLogger, log *zap.Logger) *YTDLPFetcher {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YTDLPFetcher{
		binary:      binary,
		logsDir:     logsDir,
		eventLogger: eventLogger,
		logger:      logger.OrNop(log),
	}
}

// FormatSelector builds the yt-dlp format selector for a quality/format pair
func FormatSelector(spec domain.FormatSpec) string {
	ext := spec.Format
	if ext == "" {
		ext = "mp4"
	}
	quality := strings.ToLower(spec.Quality)

	switch {
	case quality == "" || quality == "best":
		return fmt.Sprintf("best[ext=%s]/best", ext)
	case quality == "worst":
		return fmt.Sprintf("worst[ext=%s]/worst", ext)
	case strings.HasSuffix(quality, "p"):
		height := strings.TrimSuffix(quality, "p")
		if _, err := strconv.Atoi(height); err == nil {
			return fmt.Sprintf("best[height<=%s][ext=%s]/best[height<=%s]/best", height, ext, height)
		}
	}
	return fmt.Sprintf("best[ext=%s]/best", ext)
}

// BuildArgs returns the yt-dlp arguments for a fetch request
func (f *YTDLPFetcher) BuildArgs(req domain.FetchRequest) []string {
	args := []string{
		"--newline",
		"--no-simulate",
		"--progress",
		"--no-playlist",
		"--restrict-filenames",
		"--progress-template", progressTemplate,
		"--print", doneTemplate,
		"-f", FormatSelector(req.Format),
		"-o", "%(title)s.%(ext)s",
	}

	switch req.Format.Format {
	case "mp4", "mkv", "webm", "mov":
		args = append(args, "--merge-output-format", req.Format.Format)
	}

	if req.OutputDirectory != "" {
		args = append(args, "-P", req.OutputDirectory)
	}

	// Without a resume offset a leftover partial file is stale
	if req.ResumeOffset > 0 {
		args = append(args, "--continue")
	} else {
		args = append(args, "--no-continue")
	}

	return append(args, req.Source)
}

// Fetch runs one yt-dlp attempt
func (f *YTDLPFetcher) Fetch(ctx context.Context, req domain.FetchRequest) (*domain.FetchResult, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, errors.New("invalid url: empty source")
	}

	if req.OutputDirectory != "" {
		if err := os.MkdirAll(req.OutputDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	downloadLog, err := f.openLogFile()
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer downloadLog.Close()

	args := f.BuildArgs(req)
	f.writeLogHeader(downloadLog, req.Source, CommandLine(f.binary, args...))

	cmd := exec.CommandContext(ctx, f.binary, args...)
	killGroupOnCancel(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		f.writeLogFooter(downloadLog, false, err.Error())
		return nil, fmt.Errorf("failed to start yt-dlp: %w", err)
	}

	out := &outputHandler{req: req, log: downloadLog}
	var readers sync.WaitGroup
	readers.Add(2)
	go func() { defer readers.Done(); out.consume(stdout) }()
	go func() { defer readers.Done(); out.consume(stderr) }()
	readers.Wait()

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		f.writeLogFooter(downloadLog, false, "cancelled")
		return nil, ctx.Err()
	}
	if waitErr != nil {
		msg := out.lastError
		if msg == "" {
			msg = waitErr.Error()
		}
		f.writeLogFooter(downloadLog, false, msg)
		f.eventLogger.LogAppError("yt-dlp failed", zap.String("source", req.Source), zap.String("error", msg))
		return nil, fmt.Errorf("yt-dlp failed: %s", msg)
	}

	if out.result == nil {
		f.writeLogFooter(downloadLog, false, "no output file reported")
		return nil, errors.New("yt-dlp reported no output file")
	}

	f.writeLogFooter(downloadLog, true, "Downloaded: "+out.result.LocalPath)
	f.logger.Debug("Fetched", zap.String("source", req.Source), zap.String("path", out.result.LocalPath))
	return out.result, nil
}

// openLogFile opens the download log file for today
func (f *YTDLPFetcher) openLogFile() (*os.File, error) {
	if f.logsDir == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(f.logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	path := filepath.Join(f.logsDir, "download-"+time.Now().Format("20060102")+".log")
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (f *YTDLPFetcher) writeLogHeader(w io.Writer, source, cmdLine string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(w, "\n=== [%s] Fetch: %s ===\n$ %s\n", timestamp, source, cmdLine)
}

func (f *YTDLPFetcher) writeLogFooter(w io.Writer, success bool, message string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	fmt.Fprintf(w, "[%s] %s: %s\n=== END ===\n\n", timestamp, status, message)
}

// outputHandler interprets yt-dlp output lines of one attempt
type outputHandler struct {
	mu          sync.Mutex
	req         domain.FetchRequest
	log         io.Writer
	partialPath string
	lastError   string
	result      *domain.FetchResult
}

func (h *outputHandler) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.handle(scanner.Text())
	}
}

func (h *outputHandler) handle(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintln(h.log, line)

	if p, ok := ParseProgressLine(line); ok {
		if p.PartialPath != "" && p.PartialPath != h.partialPath {
			h.partialPath = p.PartialPath
			if h.req.OnPartial != nil {
				h.req.OnPartial(p.PartialPath)
			}
		}
		if h.req.OnProgress != nil {
			h.req.OnProgress(p.Downloaded, p.Total, p.Rate, p.ETA)
		}
		return
	}

	if res, ok := ParseDoneLine(line); ok {
		h.result = res
		return
	}

	if strings.HasPrefix(line, "ERROR:") {
		h.lastError = strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
	}
}

// ProgressLine is one parsed progress report
type ProgressLine struct {
	Downloaded  int64
	Total       int64
	Rate        float64
	ETA         time.Duration
	PartialPath string
}

// ParseProgressLine parses a line written by the progress template
func ParseProgressLine(line string) (ProgressLine, bool) {
	rest, ok := strings.CutPrefix(line, progressMarker)
	if !ok {
		return ProgressLine{}, false
	}
	fields := strings.Split(rest, "\t")
	if len(fields) < 6 {
		return ProgressLine{}, false
	}

	p := ProgressLine{
		Downloaded:  int64(parseNumber(fields[0])),
		Total:       int64(parseNumber(fields[1])),
		Rate:        parseNumber(fields[3]),
		ETA:         time.Duration(parseNumber(fields[4]) * float64(time.Second)),
		PartialPath: optional(fields[5]),
	}
	if p.Total == 0 {
		p.Total = int64(parseNumber(fields[2]))
	}
	return p, true
}

// ParseDoneLine parses the line printed after the final file was moved into place
func ParseDoneLine(line string) (*domain.FetchResult, bool) {
	rest, ok := strings.CutPrefix(line, doneMarker)
	if !ok {
		return nil, false
	}
	fields := strings.Split(rest, "\t")
	if len(fields) < 4 || optional(fields[0]) == "" {
		return nil, false
	}
	return &domain.FetchResult{
		LocalPath: fields[0],
		Metadata: domain.Metadata{
			ID:       optional(fields[1]),
			Title:    optional(fields[2]),
			Duration: time.Duration(parseNumber(fields[3]) * float64(time.Second)),
		},
	}, true
}

// parseNumber reads a template value; missing values are zero
func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func optional(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" || s == "None" {
		return ""
	}
	return s
}
