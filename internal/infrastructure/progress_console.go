package infrastructure

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/yourusername/fetchq-go/internal/domain"
)

// ConsoleProgress renders aggregate snapshots as a single rewritten terminal line
type ConsoleProgress struct {
	out    io.Writer
	mu     sync.Mutex
	width  int
	closed bool
}

// NewConsoleProgress creates a console sink; nil out writes to stderr
func NewConsoleProgress(out io.Writer) *ConsoleProgress {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleProgress{out: out}
}

// OnProgress implements domain.ProgressSink
func (p *ConsoleProgress) OnProgress(s domain.AggregateSnapshot) {
	line := FormatSnapshot(s)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	pad := ""
	if n := p.width - len(line); n > 0 {
		pad = fmt.Sprintf("%*s", n, "")
	}
	p.width = len(line)
	fmt.Fprintf(p.out, "\r%s%s", line, pad)
}

// Finish ends the progress line and prints the final totals
func (p *ConsoleProgress) Finish(s domain.AggregateSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	if p.width > 0 {
		fmt.Fprintln(p.out)
	}
	fmt.Fprintf(p.out, "[fetchq] Done: %d completed | %d failed | %s in %s\n",
		s.CompletedFiles,
		s.FailedFiles,
		FormatBytes(s.DownloadedBytes),
		FormatDuration(s.Elapsed),
	)
}

// FormatSnapshot renders one progress line
func FormatSnapshot(s domain.AggregateSnapshot) string {
	eta := "calculating..."
	if s.ETA > 0 {
		eta = FormatDuration(s.ETA)
	} else if s.ActiveCount == 0 {
		eta = "-"
	}

	total := "?"
	if s.TotalBytes > 0 {
		total = FormatBytes(s.TotalBytes)
	}

	return fmt.Sprintf("[fetchq] %.1f%% | %s / %s | %s/s | ETA: %s | files %d/%d | active %d",
		s.OverallPercent,
		FormatBytes(s.DownloadedBytes),
		total,
		FormatBytes(int64(s.Rate)),
		eta,
		s.CompletedFiles+s.FailedFiles,
		s.TotalFiles,
		s.ActiveCount,
	)
}

// FormatBytes formats bytes as a human-readable string
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// FormatDuration formats a duration as a human-readable string
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
