package domain

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeCheckpoint_ResumePercentage(t *testing.T) {
	cp := &ResumeCheckpoint{DownloadedBytes: 500000, TotalBytes: 1000000}
	assert.InDelta(t, 50.0, cp.ResumePercentage(), 0.0001)

	unknown := &ResumeCheckpoint{DownloadedBytes: 500000}
	assert.Equal(t, 0.0, unknown.ResumePercentage())
}

func TestResumeCheckpoint_IsValid(t *testing.T) {
	dir := t.TempDir()
	partial := filepath.Join(dir, "video.mp4.part")
	require.NoError(t, os.WriteFile(partial, make([]byte, 1024), 0644))

	cp := &ResumeCheckpoint{PartialPath: partial, DownloadedBytes: 1024}
	assert.True(t, cp.IsValid())

	cp.DownloadedBytes = 2048
	assert.False(t, cp.IsValid(), "size mismatch must invalidate")

	missing := &ResumeCheckpoint{PartialPath: filepath.Join(dir, "gone.part"), DownloadedBytes: 0}
	assert.False(t, missing.IsValid())

	assert.False(t, (&ResumeCheckpoint{PartialPath: dir}).IsValid())
	assert.False(t, (&ResumeCheckpoint{}).IsValid())
}

func TestResumeCheckpoint_Applicable(t *testing.T) {
	cfg := RequestConfig{Quality: "720p", Format: "mp4", OutputDirectory: "/out"}
	cp := &ResumeCheckpoint{ConfigFingerprint: cfg.Fingerprint()}

	assert.True(t, cp.Applicable(cfg.Fingerprint()))
	cfg.Quality = "1080p"
	assert.False(t, cp.Applicable(cfg.Fingerprint()))
}

func TestCheckpointKey(t *testing.T) {
	key := CheckpointKey("https://example.com/v/1")

	assert.True(t, strings.HasPrefix(key, "resume_"))
	assert.True(t, strings.HasSuffix(key, ".json"))
	assert.Len(t, key, len("resume_")+32+len(".json"))
	assert.Equal(t, key, CheckpointKey("https://example.com/v/1"))
	assert.NotEqual(t, key, CheckpointKey("https://example.com/v/2"))
}

func TestEncodeDecodeCheckpoint(t *testing.T) {
	cp := &ResumeCheckpoint{
		Source:            "src",
		ConfigFingerprint: "abc",
		PartialPath:       "/tmp/x.part",
		DownloadedBytes:   10,
		TotalBytes:        100,
		LastModified:      time.Now().UTC().Truncate(time.Second),
	}

	data, err := EncodeCheckpoint(cp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 1`)

	decoded, err := DecodeCheckpoint(data)
	require.NoError(t, err)
	assert.Equal(t, cp, decoded)
}

func TestDecodeCheckpoint_Errors(t *testing.T) {
	_, err := DecodeCheckpoint([]byte("{not json"))
	assert.Error(t, err)

	_, err = DecodeCheckpoint([]byte(`{"version": 2, "checkpoint": {}}`))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}
