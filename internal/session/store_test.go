package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/codeagent/internal/event"
	"github.com/opencode-ai/codeagent/internal/storage"
	"github.com/opencode-ai/codeagent/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.New(t.TempDir()), nil)
}

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func textMessage(id string, role types.Role, text string) types.Message {
	return types.Message{
		ID:      id,
		Role:    role,
		Content: []types.ContentBlock{types.NewTextBlock(text)},
		Status:  types.MessageComplete,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sess, err := store.Create(ctx, "/work", "first")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, types.SessionIdle, sess.Status)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "/work", got.ProjectPath)
	assert.Equal(t, "first", got.Title)
	assert.NotNil(t, got.Messages)
	assert.Empty(t, got.Messages)
}

func TestStore_GetMissing(t *testing.T) {
	_, err := newTestStore(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_AddMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, err := store.Create(ctx, "/work", "")
	require.NoError(t, err)

	require.NoError(t, store.AddMessage(ctx, sess.ID, textMessage("m1", types.RoleUser, "hello")))
	require.NoError(t, store.AddMessage(ctx, sess.ID, textMessage("m2", types.RoleAssistant, "hi")))

	assert.Error(t, store.AddMessage(ctx, sess.ID, textMessage("m1", types.RoleUser, "again")), "duplicate id")
	assert.Error(t, store.AddMessage(ctx, sess.ID, textMessage("", types.RoleUser, "no id")))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "m1", got.Messages[0].ID)
	assert.Equal(t, "hi", types.PlainText(got.Messages[1].Content))
	assert.GreaterOrEqual(t, got.UpdatedAt, got.CreatedAt)
}

func TestStore_UpdateMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, err := store.Create(ctx, "/work", "")
	require.NoError(t, err)

	require.NoError(t, store.AddMessage(ctx, sess.ID, textMessage("u1", types.RoleUser, "question")))
	draft := types.Message{ID: "a1", Role: types.RoleAssistant, Status: types.MessageInProgress}
	require.NoError(t, store.AddMessage(ctx, sess.ID, draft))

	draft.Content = []types.ContentBlock{types.NewTextBlock("partial")}
	require.NoError(t, store.UpdateMessage(ctx, sess.ID, draft))

	draft.Status = types.MessageComplete
	draft.Content[0].Text = "final"
	require.NoError(t, store.UpdateMessage(ctx, sess.ID, draft))

	t.Run("completed message is immutable", func(t *testing.T) {
		draft.Content[0].Text = "changed"
		assert.ErrorIs(t, store.UpdateMessage(ctx, sess.ID, draft), ErrMessageImmutable)
	})

	t.Run("earlier message is immutable", func(t *testing.T) {
		err := store.UpdateMessage(ctx, sess.ID, textMessage("u1", types.RoleUser, "rewritten"))
		assert.ErrorIs(t, err, ErrMessageImmutable)
	})

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "question", types.PlainText(got.Messages[0].Content))
	assert.Equal(t, "final", types.PlainText(got.Messages[1].Content))
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	older, err := store.Create(ctx, "/a", "older")
	require.NoError(t, err)
	newer, err := store.Create(ctx, "/b", "newer")
	require.NoError(t, err)
	require.NoError(t, store.AddMessage(ctx, older.ID, textMessage("m1", types.RoleUser, "bump")))

	// A stray file is skipped.
	require.NoError(t, os.WriteFile(filepath.Join(store.storage.BasePath(), "session", "broken.json"), []byte("{not json"), 0644))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID, "most recently updated first")
	assert.Equal(t, 1, list[0].MessageCount)
	assert.Equal(t, "older", list[0].Title)
	assert.Equal(t, "/a", list[0].ProjectPath)
	assert.Equal(t, types.SessionIdle, list[0].Status)
	assert.Equal(t, newer.ID, list[1].ID)
	assert.Equal(t, 0, list[1].MessageCount)
}

func TestStore_SetCompaction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, err := store.Create(ctx, "/work", "")
	require.NoError(t, err)
	for _, m := range []types.Message{
		textMessage("m1", types.RoleUser, "one"),
		textMessage("m2", types.RoleAssistant, "two"),
		textMessage("m3", types.RoleUser, "three"),
	} {
		require.NoError(t, store.AddMessage(ctx, sess.ID, m))
	}

	assert.Error(t, store.SetCompaction(ctx, sess.ID, types.Compaction{Summary: "s", BoundaryMessageID: "missing"}))
	require.NoError(t, store.SetCompaction(ctx, sess.ID, types.Compaction{Summary: "earlier work", BoundaryMessageID: "m3"}))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 3, "compaction keeps the stored messages")

	history := got.History()
	require.Len(t, history, 2)
	assert.Equal(t, "compaction-m3", history[0].ID)
	assert.True(t, history[0].Synthetic)
	assert.Equal(t, "earlier work", types.PlainText(history[0].Content))
	assert.Equal(t, "m3", history[1].ID)
}

func TestStore_Acquire(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	s1, err := store.Create(ctx, "/a", "")
	require.NoError(t, err)
	s2, err := store.Create(ctx, "/b", "")
	require.NoError(t, err)

	release, err := store.Acquire(s1.ID)
	require.NoError(t, err)

	_, err = store.Acquire(s1.ID)
	assert.ErrorIs(t, err, ErrSessionBusy)

	other, err := store.Acquire(s2.ID)
	require.NoError(t, err, "locks are per session")
	other()

	release()
	release()

	again, err := store.Acquire(s1.ID)
	require.NoError(t, err)
	again()
}

func TestStore_AcquireUnknownSession(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(storage.New(dir), nil)

	_, err := store.Acquire("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoFileExists(t, filepath.Join(dir, "session", "missing.turn.lock"))

	_, err = store.Acquire("../s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_AcquireAcrossStores(t *testing.T) {
	dir := t.TempDir()
	a := NewStore(storage.New(dir), nil)
	b := NewStore(storage.New(dir), nil)
	sess, err := a.Create(context.Background(), "/a", "")
	require.NoError(t, err)

	release, err := a.Acquire(sess.ID)
	require.NoError(t, err)
	defer release()

	_, err = b.Acquire(sess.ID)
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.ErrorContains(t, err, fmt.Sprintf("process %d", os.Getpid()))
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	bus := event.NewBus()
	defer bus.Close()
	dir := t.TempDir()
	store := NewStore(storage.New(dir), bus)

	deleted := make(chan string, 1)
	unsub := bus.Subscribe(event.SessionDeleted, func(e event.Event) {
		deleted <- e.Data.(event.SessionData).Info.ID
	})
	defer unsub()

	sess, err := store.Create(ctx, "/work", "")
	require.NoError(t, err)

	release, err := store.Acquire(sess.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, store.Delete(ctx, sess.ID), ErrSessionBusy)
	release()

	require.NoError(t, store.Delete(ctx, sess.ID))
	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoFileExists(t, filepath.Join(dir, "session", sess.ID+".turn.lock"))

	select {
	case id := <-deleted:
		assert.Equal(t, sess.ID, id)
	case <-time.After(time.Second):
		t.Fatal("no session.deleted event")
	}
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return start }
	stale, err := store.Create(ctx, "/a", "stale")
	require.NoError(t, err)
	busy, err := store.Create(ctx, "/b", "busy")
	require.NoError(t, err)

	store.now = func() time.Time { return start.Add(48 * time.Hour) }
	fresh, err := store.Create(ctx, "/c", "fresh")
	require.NoError(t, err)

	release, err := store.Acquire(busy.ID)
	require.NoError(t, err)
	defer release()

	pruned, err := store.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, pruned)
	assert.NoFileExists(t, filepath.Join(store.storage.BasePath(), "session", stale.ID+".turn.lock"))

	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = store.Get(ctx, busy.ID)
	assert.NoError(t, err)
}
