package infrastructure

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

const (
	maxLabelLength     = 100
	minSegmentDuration = time.Second
)

var (
	unsafeLabelChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	repeatedUnders   = regexp.MustCompile(`_+`)
)

// FFmpegSegmenter implements Segmenter with stream-copy ffmpeg cuts
type FFmpegSegmenter struct {
	binary      string
	eventLogger *logger.MultiLogger
	logger      *zap.Logger
}

// NewFFmpegSegmenter creates a segmenter using the given ffmpeg binary
func NewFFmpegSegmenter(binary string, eventLogger *logger.MultiLogger, log *zap.Logger) *FFmpegSegmenter {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegSegmenter{
		binary:      binary,
		eventLogger: eventLogger,
		logger:      logger.OrNop(log),
	}
}

// Segment cuts path into one file per cut point next to the source file
func (s *FFmpegSegmenter) Segment(ctx context.Context, path string, cuts []domain.CutPoint) ([]string, error) {
	if len(cuts) == 0 {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input file not found: %w", err)
	}

	outputs := SegmentPaths(path, cuts)
	for i, cut := range cuts {
		args := s.BuildArgs(path, outputs[i], cut.Start, SegmentDuration(cuts, i))

		s.logger.Debug("Cutting segment",
			zap.String("input", path),
			zap.String("output", outputs[i]),
			zap.String("command", CommandLine(s.binary, args...)))

		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, s.binary, args...)
		killGroupOnCancel(cmd)
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			msg := lastLine(stderr.String())
			s.eventLogger.LogAppError("ffmpeg failed",
				zap.String("input", path),
				zap.Int("segment", i+1),
				zap.String("error", msg))
			return nil, fmt.Errorf("ffmpeg failed on segment %d: %s", i+1, msg)
		}

		if info, err := os.Stat(outputs[i]); err != nil || info.Size() == 0 {
			return nil, fmt.Errorf("ffmpeg produced no output for segment %d", i+1)
		}
	}

	s.logger.Info("Segmented file", zap.String("input", path), zap.Int("segments", len(outputs)))
	return outputs, nil
}

// BuildArgs returns the ffmpeg arguments for one segment; a zero duration runs to the end
func (s *FFmpegSegmenter) BuildArgs(input, output string, start, duration time.Duration) []string {
	args := []string{"-i", input, "-ss", FormatTimestamp(start)}
	if duration > 0 {
		args = append(args, "-t", FormatTimestamp(duration))
	}
	return append(args, "-c", "copy", "-avoid_negative_ts", "make_zero", "-y", output)
}

// SegmentDuration returns the length of cut i. An explicit end wins, otherwise the
// segment runs to the next cut. The last open segment runs to the end of the file.
func SegmentDuration(cuts []domain.CutPoint, i int) time.Duration {
	cut := cuts[i]
	var end time.Duration
	switch {
	case cut.End > 0:
		end = cut.End
	case i+1 < len(cuts):
		end = cuts[i+1].Start
	default:
		return 0
	}
	if d := end - cut.Start; d > minSegmentDuration {
		return d
	}
	return minSegmentDuration
}

// SegmentPaths names the outputs NN_label.ext in the directory of path
func SegmentPaths(path string, cuts []domain.CutPoint) []string {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	paths := make([]string, len(cuts))
	for i, cut := range cuts {
		paths[i] = filepath.Join(dir, fmt.Sprintf("%02d_%s%s", i+1, SanitizeLabel(cut.Label), ext))
	}
	return paths
}

// SanitizeLabel makes a cut label safe to use as a file name
func SanitizeLabel(label string) string {
	s := unsafeLabelChars.ReplaceAllString(label, "_")
	s = repeatedUnders.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_. ")
	if len(s) > maxLabelLength {
		s = strings.TrimRight(s[:maxLabelLength], "_. ")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// FormatTimestamp renders d as HH:MM:SS.mmm
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return "no output"
}
