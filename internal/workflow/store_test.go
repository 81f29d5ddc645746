package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSQLite creates a store backed by a temp directory for isolation.
func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storeImplementations(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemStore(),
		"sqlite": newTestSQLite(t),
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := newTestMachine(t, RoleArchitect, nil)
			submit(t, m, map[string]any{"architectPlan": "plan", "hasUI": true, "brand": "acme"})

			state, err := m.Snapshot()
			require.NoError(t, err)
			require.NoError(t, store.Save(ctx, state))

			loaded, err := store.Load(ctx, "sess-1")
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, state.ID, loaded.ID)
			assert.Equal(t, RoleDesigner, loaded.CurrentRole)
			assert.True(t, loaded.Active)
			assert.Equal(t, Text("plan"), loaded.Context.ArchitectPlan)
			assert.Equal(t, "acme", loaded.Context.Extra["brand"])
			assert.Len(t, loaded.History, 1)
		})
	}
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			state, err := store.Load(context.Background(), "nobody")
			require.NoError(t, err)
			assert.Nil(t, state)
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			state, err := NewState("sess-2", RoleBuilder, "")
			require.NoError(t, err)
			require.NoError(t, store.Save(ctx, state))

			state.CurrentRole = RoleBlocked
			state.Active = false
			require.NoError(t, store.Save(ctx, state))

			loaded, err := store.Load(ctx, "sess-2")
			require.NoError(t, err)
			assert.Equal(t, RoleBlocked, loaded.CurrentRole)
			assert.False(t, loaded.Active)
		})
	}
}

func TestStore_HistoryAndDelete(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			state, err := NewState("sess-3", RoleArchitect, "")
			require.NoError(t, err)
			require.NoError(t, store.Save(ctx, state))

			recs := []TransitionRecord{
				{From: RoleArchitect, To: RoleDesigner, At: "t1"},
				{From: RoleDesigner, To: RoleDesignReview, At: "t2"},
				{From: RoleDesignReview, To: RoleDesigner, SentBack: true, Feedback: "add nav", At: "t3"},
			}
			for _, rec := range recs {
				require.NoError(t, store.RecordTransition(ctx, state, rec))
			}

			all, err := store.History(ctx, "sess-3", 0)
			require.NoError(t, err)
			assert.Equal(t, recs, all)

			last2, err := store.History(ctx, "sess-3", 2)
			require.NoError(t, err)
			assert.Equal(t, recs[1:], last2)

			require.NoError(t, store.Delete(ctx, "sess-3"))
			loaded, err := store.Load(ctx, "sess-3")
			require.NoError(t, err)
			assert.Nil(t, loaded)
			after, err := store.History(ctx, "sess-3", 0)
			require.NoError(t, err)
			assert.Empty(t, after)
		})
	}
}

func TestOpenSQLite_IdempotentReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.db")

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	state, err := NewState("sess-4", RoleArchitect, "")
	require.NoError(t, err)
	require.NoError(t, s1.Save(context.Background(), state))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	loaded, err := s2.Load(context.Background(), "sess-4")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.ID, loaded.ID)
}
