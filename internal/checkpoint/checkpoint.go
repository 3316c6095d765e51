// Package checkpoint periodically persists the consumer's progress
// counters to disk as gob-encoded snapshots, so an operator can see
// (and a future restart could recover) cumulative throughput without
// replaying the spool. Adapted from the teacher's internal/snapshot.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stats is the set of counters checkpointed on each save.
type Stats struct {
	Applied      int64
	Skipped      int64
	DecodeFailed int64
	PolledEmpty  int64
}

// Checkpoint is the full serialisable state captured at a moment in time.
type Checkpoint struct {
	ID        string
	CreatedAt time.Time
	Stats     Stats
}

// Meta describes a checkpoint without loading the full data.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	FilePath  string    `json:"file_path"`
}

// Manager handles checkpoint CRUD backed by a directory on disk.
type Manager struct {
	dir string
}

// NewManager creates a Manager that stores checkpoints in dir.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir %s: %w", dir, err)
	}
	return &Manager{dir: dir}, nil
}

// Save serialises stats to disk as a new checkpoint and returns its metadata.
func (m *Manager) Save(stats Stats) (Meta, error) {
	cp := Checkpoint{
		ID:        "ckpt-" + uuid.NewString(),
		CreatedAt: time.Now(),
		Stats:     stats,
	}

	path := filepath.Join(m.dir, cp.ID+".ckpt")
	f, err := os.Create(path)
	if err != nil {
		return Meta{}, fmt.Errorf("checkpoint: create file: %w", err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	if err := enc.Encode(cp); err != nil {
		return Meta{}, fmt.Errorf("checkpoint: encode: %w", err)
	}

	info, _ := f.Stat()
	return Meta{
		ID:        cp.ID,
		CreatedAt: cp.CreatedAt,
		SizeBytes: info.Size(),
		FilePath:  path,
	}, nil
}

// List returns metadata for all checkpoints, sorted newest first.
func (m *Manager) List() ([]Meta, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list dir: %w", err)
	}

	var metas []Meta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ckpt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".ckpt")
		metas = append(metas, Meta{
			ID:        id,
			CreatedAt: info.ModTime(),
			SizeBytes: info.Size(),
			FilePath:  filepath.Join(m.dir, e.Name()),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Latest loads the most recently saved checkpoint, if any.
func (m *Manager) Latest() (*Checkpoint, bool, error) {
	metas, err := m.List()
	if err != nil {
		return nil, false, err
	}
	if len(metas) == 0 {
		return nil, false, nil
	}
	cp, err := m.Load(metas[0].ID)
	if err != nil {
		return nil, false, err
	}
	return cp, true, nil
}

// Load reads and decodes a checkpoint from disk by ID.
func (m *Manager) Load(id string) (*Checkpoint, error) {
	path := filepath.Join(m.dir, id+".ckpt")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", id, err)
	}
	defer f.Close()

	var cp Checkpoint
	dec := gob.NewDecoder(f)
	if err := dec.Decode(&cp); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", id, err)
	}
	return &cp, nil
}
