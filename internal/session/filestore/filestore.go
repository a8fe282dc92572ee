// Package filestore implements session.Store as one JSON file per session
// id, grounded directly on
// _examples/original_source/extensions/session.py's
// get_session_path/save_flow_to_session/load_flow_from_session (one
// sessions/<id>.json file per run).
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fudanyi/agentflow/internal/session"
)

// Store persists session.Snapshots as indented JSON files under Dir.
type Store struct {
	Dir string
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.Dir, sessionID+".json")
}

// Save writes snap to <Dir>/<SessionID>.json, overwriting any prior content.
func (s *Store) Save(ctx context.Context, snap session.Snapshot) error {
	if snap.SessionID == "" {
		return fmt.Errorf("filestore: snapshot has empty session id")
	}
	snap.SavedAt = time.Now()
	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return fmt.Errorf("filestore: marshal snapshot: %w", err)
	}
	tmp := s.path(snap.SessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("filestore: write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path(snap.SessionID))
}

// Load reads the snapshot for sessionID, returning session.ErrNotFound when
// the file does not exist.
func (s *Store) Load(ctx context.Context, sessionID string) (session.Snapshot, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return session.Snapshot{}, session.ErrNotFound
		}
		return session.Snapshot{}, fmt.Errorf("filestore: read snapshot: %w", err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("filestore: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Has reports whether a snapshot file exists for sessionID.
func (s *Store) Has(ctx context.Context, sessionID string) (bool, error) {
	_, err := os.Stat(s.path(sessionID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
