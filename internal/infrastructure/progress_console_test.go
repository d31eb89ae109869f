package infrastructure

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yourusername/fetchq-go/internal/domain"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{10 * 1024 * 1024, "10.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.00 TB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "2m 5s", FormatDuration(125*time.Second))
	assert.Equal(t, "1h 1m 1s", FormatDuration(time.Hour+time.Minute+time.Second))
}

func TestFormatSnapshot(t *testing.T) {
	line := FormatSnapshot(domain.AggregateSnapshot{
		DownloadedBytes: 1024,
		TotalBytes:      2048,
		Rate:            512,
		ETA:             2 * time.Second,
		TotalFiles:      3,
		CompletedFiles:  1,
		FailedFiles:     1,
		ActiveCount:     1,
		OverallPercent:  50,
	})
	assert.Equal(t, "[fetchq] 50.0% | 1.00 KB / 2.00 KB | 512 B/s | ETA: 2s | files 2/3 | active 1", line)

	line = FormatSnapshot(domain.AggregateSnapshot{TotalFiles: 1, ActiveCount: 1})
	assert.Contains(t, line, "0 B / ?")
	assert.Contains(t, line, "ETA: calculating...")

	line = FormatSnapshot(domain.AggregateSnapshot{TotalFiles: 1, CompletedFiles: 1})
	assert.Contains(t, line, "ETA: -")
}

func TestConsoleProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewConsoleProgress(&buf)

	p.OnProgress(domain.AggregateSnapshot{TotalFiles: 2, ActiveCount: 1, DownloadedBytes: 10 * 1024 * 1024})
	p.OnProgress(domain.AggregateSnapshot{TotalFiles: 2, ActiveCount: 1})
	p.Finish(domain.AggregateSnapshot{TotalFiles: 2, CompletedFiles: 2, DownloadedBytes: 2048, Elapsed: 3 * time.Second})
	p.OnProgress(domain.AggregateSnapshot{TotalFiles: 2})

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\r"))
	assert.Contains(t, out, "10.00 MB")
	assert.True(t, strings.HasSuffix(out, "[fetchq] Done: 2 completed | 0 failed | 2.00 KB in 3s\n"))

	lines := strings.Split(out, "\r")
	// the shorter second line is padded to overwrite the first
	assert.Equal(t, len(lines[1]), len(strings.SplitN(lines[2], "\n", 2)[0]))
}
