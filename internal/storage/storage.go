// Package storage persists session records as JSON files under a base
// directory, one subdirectory per session. Writes go through a temp file
// and rename so a crash never leaves a half-written history, and an
// advisory flock guards against concurrent instances sharing a data dir.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/strand-ai/strand/pkg/types"
)

// ErrNotFound is returned when a session record does not exist.
var ErrNotFound = errors.New("not found")

// Store is a file-backed persistence layer for sessions.
type Store struct {
	base  string
	mu    sync.Mutex
	locks map[string]*fileLock
}

// New creates a store rooted at base.
func New(base string) *Store {
	return &Store{base: base, locks: make(map[string]*fileLock)}
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.base, "sessions", sessionID)
}

func (s *Store) messagesPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "messages.json")
}

func (s *Store) infoPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "info.json")
}

// SaveMessages writes the full conversation history for a session.
func (s *Store) SaveMessages(sessionID string, messages []*types.Message) error {
	return s.writeJSON(s.messagesPath(sessionID), messages)
}

// LoadMessages reads a session's conversation history. A session with no
// persisted history yields (nil, nil).
func (s *Store) LoadMessages(sessionID string) ([]*types.Message, error) {
	data, err := os.ReadFile(s.messagesPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read messages: %w", err)
	}

	var messages []*types.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

// SaveInfo writes a session's identity record.
func (s *Store) SaveInfo(info types.SessionInfo) error {
	return s.writeJSON(s.infoPath(info.ID), info)
}

// LoadInfo reads a session's identity record.
func (s *Store) LoadInfo(sessionID string) (types.SessionInfo, error) {
	var info types.SessionInfo
	data, err := os.ReadFile(s.infoPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return info, ErrNotFound
		}
		return info, fmt.Errorf("read info: %w", err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("decode info: %w", err)
	}
	return info, nil
}

// ListSessions returns the ids of every persisted session.
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.base, "sessions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// DeleteSession removes every record for a session.
func (s *Store) DeleteSession(sessionID string) error {
	lock := s.getLock(sessionID)
	if err := lock.acquire(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.release()

	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// writeJSON marshals v and atomically replaces path.
func (s *Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	lock := s.getLock(path)
	if err := lock.acquire(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.release()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *Store) getLock(key string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &fileLock{path: filepath.Join(s.base, ".locks", hashKey(key))}
		s.locks[key] = lock
	}
	return lock
}
