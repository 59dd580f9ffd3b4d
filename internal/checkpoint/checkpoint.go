// Package checkpoint persists the single "how far did we get" record of a run.
//
// The file is replaced, never appended: Write serializes into a temporary file
// in the same directory, syncs it, and renames it over the live path, so a
// reader sees either the previous checkpoint or the new one.
//
// A checkpoint is advisory. Load performs no validation of the input hash;
// deciding whether to trust the record is up to the caller, and a trusted
// record never licenses skipping rows. Re-processing relies on idempotent
// upserts instead.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Phase names the entity kind in flight.
type Phase string

const (
	PhaseLocations  Phase = "locations"
	PhaseUsers      Phase = "users"
	PhaseWorkspaces Phase = "workspaces"
	PhaseDevices    Phase = "devices"
	PhaseComplete   Phase = "complete"
)

// Checkpoint is the persisted progress record.
type Checkpoint struct {
	PipelineVersion string    `json:"pipeline_version"`
	InputHash       string    `json:"input_hash"`
	Phase           Phase     `json:"phase"`
	LastItemID      int       `json:"last_item_id"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Matches reports whether c was written by the same pipeline version over
// the same inputs.
func (c *Checkpoint) Matches(version, inputHash string) bool {
	if c == nil {
		return false
	}
	return c.PipelineVersion == version && c.InputHash == inputHash
}

// Store reads and atomically replaces one checkpoint file.
type Store struct {
	path string
}

// NewStore returns a store backed by path. Nothing is touched on disk until
// Write is called.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string { return s.path }

// Load returns the last written checkpoint, or nil if none exists yet.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.path, err)
	}
	return &cp, nil
}

// Write replaces the checkpoint with cp.
func (s *Store) Write(cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	// Removing after a successful rename is a harmless no-op.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}

	return syncDir(dir)
}

// syncDir makes the rename itself durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open checkpoint dir: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint dir: %w", err)
	}
	return nil
}
