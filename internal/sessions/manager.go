// Package sessions is the in-process session store, optionally persisted
// as one JSON file per session.
package sessions

import (
	"context"
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

// Manager implements store.SessionStore in memory. With a storage
// directory every mutation is also written to disk and reloaded on start.
type Manager struct {
	sessions map[string]*store.SessionState
	mu       sync.RWMutex
	writeMu  sync.Mutex // orders disk writes so the newest snapshot lands last
	storage  string
	now      func() time.Time
}

// NewManager creates a manager. storage "" keeps sessions in memory only.
func NewManager(storage string) *Manager {
	m := &Manager{
		sessions: make(map[string]*store.SessionState),
		storage:  storage,
		now:      time.Now,
	}
	if storage != "" {
		os.MkdirAll(storage, 0o755)
		m.loadAll()
	}
	return m
}

// getOrInit returns the live session for id, creating it. Caller holds mu.
func (m *Manager) getOrInit(id string) *store.SessionState {
	s, ok := m.sessions[id]
	if !ok {
		s = store.NewSessionState(id, m.now())
		m.sessions[id] = s
	}
	return s
}

// Get returns a copy of the session, creating it on first reference.
func (m *Manager) Get(_ context.Context, id string) (*store.SessionState, error) {
	if id == "" {
		return nil, store.ErrInvalidSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot(m.getOrInit(id)), nil
}

func (m *Manager) IncrementErrorCount(_ context.Context, id string) (int, error) {
	if id == "" {
		return 0, store.ErrInvalidSessionID
	}
	m.mu.Lock()
	s := m.getOrInit(id)
	s.ErrorCount++
	s.Updated = m.now()
	n := s.ErrorCount
	m.mu.Unlock()

	return n, m.save(id)
}

func (m *Manager) UpdateContext(_ context.Context, id string, fields map[string]string) error {
	if id == "" {
		return store.ErrInvalidSessionID
	}
	m.mu.Lock()
	s := m.getOrInit(id)
	maps.Copy(s.Context, fields)
	s.Updated = m.now()
	m.mu.Unlock()

	return m.save(id)
}

func (m *Manager) SetLastError(_ context.Context, id, msg string, at time.Time) error {
	if id == "" {
		return store.ErrInvalidSessionID
	}
	m.mu.Lock()
	s := m.getOrInit(id)
	s.LastError = msg
	s.LastErrorTime = at
	s.Updated = m.now()
	m.mu.Unlock()

	return m.save(id)
}

// Sweep drops sessions idle since before, on disk too.
func (m *Manager) Sweep(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.Updated.Before(before) {
			stale = append(stale, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	if m.storage != "" {
		for _, id := range stale {
			if path, ok := m.path(id); ok {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return len(stale), err
				}
			}
		}
	}
	return len(stale), nil
}

func (m *Manager) Stats(context.Context) (store.SessionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := store.SessionStats{Total: len(m.sessions)}
	for _, s := range m.sessions {
		if s.ErrorCount > 0 {
			st.WithErrors++
		}
	}
	return st, nil
}

func (m *Manager) Close() error { return nil }

func snapshot(s *store.SessionState) *store.SessionState {
	cp := *s
	cp.Context = maps.Clone(s.Context)
	if cp.Context == nil {
		cp.Context = map[string]string{}
	}
	return &cp
}

func (m *Manager) path(id string) (string, bool) {
	filename := sanitizeFilename(id)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return "", false
	}
	return filepath.Join(m.storage, filename+".json"), true
}

// save persists a session to disk atomically.
func (m *Manager) save(id string) error {
	if m.storage == "" {
		return nil
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(snapshot(s), "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	sessionPath, ok := m.path(id)
	if !ok {
		return os.ErrInvalid
	}

	// Atomic write: temp file → rename
	tmpFile, err := os.CreateTemp(m.storage, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, sessionPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (m *Manager) loadAll() {
	files, err := os.ReadDir(m.storage)
	if err != nil {
		return
	}

	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(m.storage, f.Name()))
		if err != nil {
			continue
		}

		var s store.SessionState
		if err := json.Unmarshal(data, &s); err != nil || s.ID == "" {
			continue
		}
		if s.Context == nil {
			s.Context = map[string]string{}
		}
		m.sessions[s.ID] = &s
	}
}

func sanitizeFilename(id string) string {
	return strings.NewReplacer(":", "_", "+", "p").Replace(id)
}
