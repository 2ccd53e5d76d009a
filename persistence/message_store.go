package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/lexcodex/toolrelay/framework"
)

// ErrInvalidSessionID rejects ids that are empty or unsafe as file names.
var ErrInvalidSessionID = errors.New("invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// MessageStore persists conversation transcripts per session.
type MessageStore interface {
	Append(ctx context.Context, sessionID string, interactions ...framework.Interaction) error
	History(ctx context.Context, sessionID string) ([]framework.Interaction, error)
	Sessions(ctx context.Context) ([]string, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}

// Open builds the store named by kind: "file", "sqlite" or "memory".
func Open(kind, path string) (MessageStore, error) {
	switch strings.ToLower(kind) {
	case "", "file":
		return NewFileMessageStore(path)
	case "sqlite":
		return NewSQLiteMessageStore(path)
	case "memory":
		return NewMemoryMessageStore(), nil
	default:
		return nil, fmt.Errorf("unknown message store %q", kind)
	}
}

func validateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// FileMessageStore keeps one JSON-lines file per session; appends never
// rewrite earlier lines.
type FileMessageStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileMessageStore builds a store in the provided root directory.
func NewFileMessageStore(root string) (*FileMessageStore, error) {
	if root == "" {
		return nil, errors.New("message store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileMessageStore{root: root}, nil
}

func (s *FileMessageStore) pathFor(id string) string {
	return filepath.Join(s.root, id+".jsonl")
}

// Append stores interactions for a session.
func (s *FileMessageStore) Append(ctx context.Context, sessionID string, interactions ...framework.Interaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if len(interactions) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.pathFor(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, in := range interactions {
		if err := enc.Encode(in); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// History returns the transcript of a session, empty when unknown.
func (s *FileMessageStore) History(ctx context.Context, sessionID string) ([]framework.Interaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, err := os.Open(s.pathFor(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []framework.Interaction
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var in framework.Interaction
		if err := json.Unmarshal(scanner.Bytes(), &in); err != nil {
			return nil, fmt.Errorf("session %s line %d: %w", sessionID, line, err)
		}
		out = append(out, in)
	}
	return out, scanner.Err()
}

// Sessions lists stored session ids in lexical order.
func (s *FileMessageStore) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".jsonl"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Clear removes stored messages. Clearing an unknown session is not an error.
func (s *FileMessageStore) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.pathFor(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileMessageStore) Close() error { return nil }

// MemoryMessageStore keeps transcripts in process memory.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	sessions map[string][]framework.Interaction
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{sessions: make(map[string][]framework.Interaction)}
}

func (s *MemoryMessageStore) Append(ctx context.Context, sessionID string, interactions ...framework.Interaction) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if len(interactions) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], interactions...)
	return nil
}

func (s *MemoryMessageStore) History(ctx context.Context, sessionID string) ([]framework.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]framework.Interaction(nil), s.sessions[sessionID]...), nil
}

func (s *MemoryMessageStore) Sessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryMessageStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryMessageStore) Close() error { return nil }
