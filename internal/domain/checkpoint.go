package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// CheckpointFormatVersion is the on-disk record version written by this build
const CheckpointFormatVersion = 1

// ResumeCheckpoint is the partial progress record of one (source, config) pair
type ResumeCheckpoint struct {
	Source            string    `json:"source"`
	ConfigFingerprint string    `json:"config_fingerprint"`
	PartialPath       string    `json:"partial_path"`
	OutputPath        string    `json:"output_path,omitempty"`
	VideoID           string    `json:"video_id,omitempty"`
	Title             string    `json:"title,omitempty"`
	DownloadedBytes   int64     `json:"downloaded_bytes"`
	TotalBytes        int64     `json:"total_bytes"`
	LastModified      time.Time `json:"last_modified"`
}

// IsValid checks that the partial file exists with the recorded size
func (c *ResumeCheckpoint) IsValid() bool {
	if c.PartialPath == "" {
		return false
	}
	info, err := os.Stat(c.PartialPath)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Size() == c.DownloadedBytes
}

// Applicable checks that the checkpoint was written for the same byte layout
func (c *ResumeCheckpoint) Applicable(fingerprint string) bool {
	return c.ConfigFingerprint == fingerprint
}

// ResumePercentage returns the completed share in percent
func (c *ResumeCheckpoint) ResumePercentage() float64 {
	if c.TotalBytes <= 0 {
		return 0
	}
	return float64(c.DownloadedBytes) / float64(c.TotalBytes) * 100
}

// CheckpointKey derives the stable record name for a source
func CheckpointKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return "resume_" + hex.EncodeToString(sum[:16]) + ".json"
}

// checkpointRecord is the versioned persisted form
type checkpointRecord struct {
	Version    int              `json:"version"`
	Checkpoint ResumeCheckpoint `json:"checkpoint"`
}

// EncodeCheckpoint serializes a checkpoint into the versioned record format
func EncodeCheckpoint(cp *ResumeCheckpoint) ([]byte, error) {
	return json.MarshalIndent(checkpointRecord{
		Version:    CheckpointFormatVersion,
		Checkpoint: *cp,
	}, "", "  ")
}

// DecodeCheckpoint parses a versioned record
func DecodeCheckpoint(data []byte) (*ResumeCheckpoint, error) {
	var rec checkpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if rec.Version != CheckpointFormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}
	cp := rec.Checkpoint
	return &cp, nil
}

// CheckpointBackend stores raw checkpoint records by key
type CheckpointBackend interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrCheckpointNotFound when the key is absent
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
