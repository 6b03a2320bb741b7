package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/llmgate/internal/llmtypes"
	"github.com/user/llmgate/internal/store"
)

func newManager(t *testing.T, hs store.HistoryStore) *Manager {
	t.Helper()
	m := NewManager(hs, nil)
	t.Cleanup(m.Close)
	return m
}

func userMsg(text string) llmtypes.Message {
	return llmtypes.Message{Role: llmtypes.RoleUser, Content: llmtypes.TextContent(text)}
}

func TestManager_CreateAndGet(t *testing.T) {
	m := newManager(t, nil)

	info, err := m.Create()
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)

	got, ok := m.Get(info.ID)
	require.True(t, ok)
	assert.Equal(t, info.ID, got.ID)
	assert.False(t, got.Generating)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestManager_GetOrCreate(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	fresh, created, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, fresh.ID)

	again, created, err := m.GetOrCreate(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, fresh.ID, again.ID)

	named, created, err := m.GetOrCreate(ctx, "client-chosen")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "client-chosen", named.ID)
}

func TestManager_GetOrCreateRestoresFromStore(t *testing.T) {
	hs := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, hs.Save(ctx, "old", []llmtypes.Message{userMsg("hello"), userMsg("again")}))

	m := newManager(t, hs)
	info, created, err := m.GetOrCreate(ctx, "old")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, info.MessageCount)

	history, err := m.History("old")
	require.NoError(t, err)
	assert.Equal(t, "again", history[1].Content.AsText())
}

func TestManager_SingleGenerationPerSession(t *testing.T) {
	m := newManager(t, nil)
	info, _ := m.Create()

	ctx, token, err := m.BeginGeneration(info.ID)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.NoError(t, ctx.Err())

	_, _, err = m.BeginGeneration(info.ID)
	assert.ErrorIs(t, err, ErrBusy)

	got, _ := m.Get(info.ID)
	assert.True(t, got.Generating)

	got2, ok := m.GenerationContext(info.ID, token)
	require.True(t, ok)
	assert.Equal(t, ctx, got2)
	_, ok = m.GenerationContext(info.ID, "wrong")
	assert.False(t, ok)

	assert.False(t, m.EndGeneration(info.ID, "wrong"))
	assert.True(t, m.EndGeneration(info.ID, token))
	assert.Error(t, ctx.Err(), "ending a generation releases its context")

	_, _, err = m.BeginGeneration(info.ID)
	assert.NoError(t, err)

	_, _, err = m.BeginGeneration("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Cancel(t *testing.T) {
	m := newManager(t, nil)
	info, _ := m.Create()

	assert.False(t, m.Cancel(info.ID), "nothing in flight")

	ctx, token, err := m.BeginGeneration(info.ID)
	require.NoError(t, err)
	assert.True(t, m.Cancel(info.ID))

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("generation context not cancelled")
	}
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	got, _ := m.Get(info.ID)
	assert.True(t, got.Generating, "owner still holds the handle until EndGeneration")
	assert.True(t, m.EndGeneration(info.ID, token))
}

func TestManager_AppendIsOwnerExclusive(t *testing.T) {
	hs := store.NewMemoryStore()
	m := newManager(t, hs)
	ctx := context.Background()
	info, _ := m.Create()

	err := m.Append(ctx, info.ID, "", userMsg("no token"))
	assert.ErrorIs(t, err, ErrNotOwner)

	_, token, err := m.BeginGeneration(info.ID)
	require.NoError(t, err)

	require.NoError(t, m.Append(ctx, info.ID, token, userMsg("one"), userMsg("two")))
	assert.ErrorIs(t, m.Append(ctx, info.ID, "stale", userMsg("x")), ErrNotOwner)

	history, err := m.History(info.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotEmpty(t, history[0].ID, "ids are assigned on append")

	stored, err := hs.Load(ctx, info.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	m.EndGeneration(info.ID, token)
	assert.ErrorIs(t, m.Append(ctx, info.ID, token, userMsg("late")), ErrNotOwner)
}

func TestManager_ConnectionBinding(t *testing.T) {
	m := newManager(t, nil)
	info, _ := m.Create()

	prev, err := m.BindConnection(info.ID, "c1")
	require.NoError(t, err)
	assert.Empty(t, prev)

	prev, err = m.BindConnection(info.ID, "c2")
	require.NoError(t, err)
	assert.Equal(t, "c1", prev)

	assert.False(t, m.UnbindConnection(info.ID, "c1"), "superseded connection cannot unbind")
	assert.True(t, m.UnbindConnection(info.ID, "c2"))

	got, _ := m.Get(info.ID)
	assert.Empty(t, got.ConnID)

	_, err = m.BindConnection("missing", "c3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_DeleteCancelsAndForgets(t *testing.T) {
	hs := store.NewMemoryStore()
	m := newManager(t, hs)
	ctx := context.Background()
	info, _ := m.Create()

	genCtx, token, err := m.BeginGeneration(info.ID)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, info.ID, token, userMsg("hi")))

	require.NoError(t, m.Delete(ctx, info.ID))
	assert.Error(t, genCtx.Err())

	_, ok := m.Get(info.ID)
	assert.False(t, ok)
	exists, err := hs.Exists(ctx, info.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, m.Delete(ctx, info.ID), ErrNotFound)
}

func TestManager_ListOrdered(t *testing.T) {
	m := newManager(t, nil)
	a, _ := m.Create()
	time.Sleep(2 * time.Millisecond)
	b, _ := m.Create()

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := newManager(t, nil)
	info, _ := m.Create()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := m.BeginGeneration(info.ID); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
			m.Get(info.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestManager_CloseCancelsGenerations(t *testing.T) {
	m := NewManager(nil, nil)
	info, _ := m.Create()
	ctx, _, err := m.BeginGeneration(info.ID)
	require.NoError(t, err)

	m.Close()
	m.Close()

	assert.Error(t, ctx.Err())
	_, err = m.Create()
	assert.ErrorIs(t, err, ErrClosed)
}
