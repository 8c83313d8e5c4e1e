package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"

	"github.com/opencode-ai/codeagent/internal/event"
	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/storage"
	"github.com/opencode-ai/codeagent/pkg/types"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBusy is returned when a turn already holds the session.
	ErrSessionBusy = errors.New("session is busy")
	// ErrMessageImmutable is returned when updating anything but the
	// in-progress assistant message.
	ErrMessageImmutable = errors.New("message is immutable")
)

// Store persists sessions as one JSON document each under
// <storage>/session/<id>.json. Writes to one session are serialised.
type Store struct {
	storage *storage.Storage
	bus     *event.Bus
	now     func() time.Time

	mu     sync.Mutex
	writes map[string]*sync.Mutex
	held   map[string]*storage.FileLock
}

// NewStore creates a store. bus may be nil.
func NewStore(s *storage.Storage, bus *event.Bus) *Store {
	return &Store{
		storage: s,
		bus:     bus,
		now:     time.Now,
		writes:  make(map[string]*sync.Mutex),
		held:    make(map[string]*storage.FileLock),
	}
}

func sessionKey(id string) []string {
	return []string{"session", id}
}

// Create starts an empty session for projectPath.
func (s *Store) Create(ctx context.Context, projectPath, title string) (*types.Session, error) {
	now := s.now().UnixMilli()
	sess := &types.Session{
		ID:          ulid.Make().String(),
		ProjectPath: projectPath,
		CreatedAt:   now,
		UpdatedAt:   now,
		Title:       title,
		Status:      types.SessionIdle,
		Messages:    []types.Message{},
	}
	if err := s.storage.Put(ctx, sessionKey(sess.ID), sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	logging.Debug().Str("session", sess.ID).Str("project", projectPath).Msg("session created")
	s.publish(event.SessionCreated, event.SessionData{Info: summarize(sess)})
	return sess, nil
}

// Get loads a session.
func (s *Store) Get(ctx context.Context, id string) (*types.Session, error) {
	var sess types.Session
	if err := s.storage.Get(ctx, sessionKey(id), &sess); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	if sess.Messages == nil {
		sess.Messages = []types.Message{}
	}
	return &sess, nil
}

// List returns summaries of every session, most recently updated first.
// Only the summary fields are extracted; message bodies are not decoded.
func (s *Store) List(ctx context.Context) ([]types.SessionSummary, error) {
	var out []types.SessionSummary
	err := s.storage.Scan(ctx, []string{"session"}, func(key string, data json.RawMessage) error {
		if !gjson.ValidBytes(data) {
			logging.Warn().Str("session", key).Msg("skipping unreadable session file")
			return nil
		}
		out = append(out, summaryFromJSON(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func summaryFromJSON(data []byte) types.SessionSummary {
	r := gjson.GetManyBytes(data, "id", "title", "projectPath", "createdAt", "updatedAt", "messages.#", "status")
	return types.SessionSummary{
		ID:           r[0].String(),
		Title:        r[1].String(),
		ProjectPath:  r[2].String(),
		CreatedAt:    r[3].Int(),
		UpdatedAt:    r[4].Int(),
		MessageCount: int(r[5].Int()),
		Status:       types.SessionStatus(r[6].String()),
	}
}

func summarize(sess *types.Session) *types.SessionSummary {
	return &types.SessionSummary{
		ID:           sess.ID,
		Title:        sess.Title,
		ProjectPath:  sess.ProjectPath,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		MessageCount: len(sess.Messages),
		Status:       sess.Status,
	}
}

// AddMessage appends msg to the session.
func (s *Store) AddMessage(ctx context.Context, id string, msg types.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message has no id")
	}
	_, err := s.update(ctx, id, func(sess *types.Session) error {
		for _, m := range sess.Messages {
			if m.ID == msg.ID {
				return fmt.Errorf("message %s already exists", msg.ID)
			}
		}
		sess.Messages = append(sess.Messages, msg.Clone())
		return nil
	})
	if err == nil {
		s.publish(event.MessageUpdated, event.MessageUpdatedData{SessionID: id, Info: &msg})
	}
	return err
}

// UpdateMessage replaces the in-progress assistant message. It must be the
// last message of the session and still be in progress; everything else is
// immutable once appended.
func (s *Store) UpdateMessage(ctx context.Context, id string, msg types.Message) error {
	_, err := s.update(ctx, id, func(sess *types.Session) error {
		n := len(sess.Messages)
		if n == 0 || sess.Messages[n-1].ID != msg.ID {
			return fmt.Errorf("%w: %s is not the last message", ErrMessageImmutable, msg.ID)
		}
		last := sess.Messages[n-1]
		if last.Role != types.RoleAssistant || last.Status != types.MessageInProgress {
			return fmt.Errorf("%w: %s is not in progress", ErrMessageImmutable, msg.ID)
		}
		sess.Messages[n-1] = msg.Clone()
		return nil
	})
	if err == nil {
		s.publish(event.MessageUpdated, event.MessageUpdatedData{SessionID: id, Info: &msg})
	}
	return err
}

// SetStatus records the session status.
func (s *Store) SetStatus(ctx context.Context, id string, status types.SessionStatus) error {
	_, err := s.update(ctx, id, func(sess *types.Session) error {
		sess.Status = status
		return nil
	})
	if err == nil {
		s.publish(event.SessionStatus, event.SessionStatusData{SessionID: id, Status: status})
	}
	return err
}

// SetTitle renames the session.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	sess, err := s.update(ctx, id, func(sess *types.Session) error {
		sess.Title = title
		return nil
	})
	if err == nil {
		s.publish(event.SessionUpdated, event.SessionData{Info: summarize(sess)})
	}
	return err
}

// SetCompaction records a summary replacing the messages before the
// boundary. The messages themselves stay in the document.
func (s *Store) SetCompaction(ctx context.Context, id string, c types.Compaction) error {
	_, err := s.update(ctx, id, func(sess *types.Session) error {
		for _, m := range sess.Messages {
			if m.ID == c.BoundaryMessageID {
				if c.CreatedAt == 0 {
					c.CreatedAt = s.now().UnixMilli()
				}
				sess.Compaction = &c
				return nil
			}
		}
		return fmt.Errorf("boundary message %s not in session", c.BoundaryMessageID)
	})
	if err == nil {
		s.publish(event.SessionCompacted, event.SessionCompactedData{SessionID: id, BoundaryMessageID: c.BoundaryMessageID})
	}
	return err
}

// Delete removes a session and its turn lock file. A session held by a
// running turn is not deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	lock, release, err := s.acquire(id)
	if err != nil {
		return err
	}
	defer release()

	if err := s.storage.Delete(ctx, sessionKey(id)); err != nil {
		return err
	}
	if err := lock.Remove(); err != nil {
		logging.Warn().Err(err).Str("session", id).Msg("failed to remove session lock")
	}
	logging.Debug().Str("session", id).Msg("session deleted")
	s.publish(event.SessionDeleted, event.SessionData{Info: summarize(sess)})
	return nil
}

// Prune deletes sessions not updated within olderThan and returns their
// ids. Busy sessions are skipped.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) ([]string, error) {
	summaries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-olderThan).UnixMilli()

	var pruned []string
	for _, sum := range summaries {
		if sum.UpdatedAt >= cutoff {
			continue
		}
		if err := s.Delete(ctx, sum.ID); err != nil {
			if errors.Is(err, ErrSessionBusy) {
				logging.Info().Str("session", sum.ID).Msg("not pruning busy session")
				continue
			}
			return pruned, err
		}
		pruned = append(pruned, sum.ID)
	}
	return pruned, nil
}

// Acquire takes the advisory turn lock for a session. It fails with
// ErrSessionBusy when another turn, in this process or another one, holds
// it, and with ErrSessionNotFound when the session does not exist. The
// returned release is safe to call more than once.
func (s *Store) Acquire(id string) (func(), error) {
	_, release, err := s.acquire(id)
	return release, err
}

func (s *Store) acquire(id string) (*storage.FileLock, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" || filepath.Base(id) != id {
		return nil, nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	if _, ok := s.held[id]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionBusy, id)
	}
	dir := filepath.Join(s.storage.BasePath(), "session")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	path := filepath.Join(dir, id+".turn")
	lock := storage.NewFileLock(path)
	if !lock.TryLock() {
		if pid, ok := storage.Holder(path); ok {
			return nil, nil, fmt.Errorf("%w: %s is held by process %d", ErrSessionBusy, id, pid)
		}
		return nil, nil, fmt.Errorf("%w: %s is held by another process", ErrSessionBusy, id)
	}

	// Checked under the lock so a concurrent Delete cannot leave a lock
	// file behind for a session that is gone.
	exists, err := s.storage.Exists(context.Background(), sessionKey(id))
	if err != nil || !exists {
		_ = lock.Remove()
		_ = lock.Unlock()
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.held[id] = lock

	var once sync.Once
	return lock, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.held, id)
			s.mu.Unlock()
			if err := lock.Unlock(); err != nil {
				logging.Warn().Err(err).Str("session", id).Msg("failed to release session lock")
			}
		})
	}, nil
}

// update applies fn to the stored session under the session's write lock
// and bumps UpdatedAt.
func (s *Store) update(ctx context.Context, id string, fn func(*types.Session) error) (*types.Session, error) {
	mu := s.writeLock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	sess.UpdatedAt = s.now().UnixMilli()
	if err := s.storage.Put(ctx, sessionKey(id), sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

func (s *Store) writeLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.writes[id]
	if !ok {
		mu = &sync.Mutex{}
		s.writes[id] = mu
	}
	return mu
}

func (s *Store) publish(t event.EventType, data any) {
	if s.bus != nil {
		s.bus.Publish(event.Event{Type: t, Data: data})
	}
}
