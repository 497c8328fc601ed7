package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

func newTestStore(t *testing.T, cfg *Config) Store {
	t.Helper()
	store, err := NewStore(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestSession(t *testing.T, store Store) *Session {
	t.Helper()
	created, err := store.Create(context.Background(), New("/repos/demo", time.Hour))
	require.NoError(t, err)
	return created
}

func TestStore_Create(t *testing.T) {
	store := newTestStore(t, nil)
	created := createTestSession(t, store)

	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, StatusActive, created.Status)
	assert.Contains(t, created.ID, IDPrefix)
}

func TestStore_Create_DuplicateID(t *testing.T) {
	store := newTestStore(t, nil)
	sess := New("/repos/demo", time.Hour)

	_, err := store.Create(context.Background(), sess)
	require.NoError(t, err)

	_, err = store.Create(context.Background(), sess)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStore_Create_InvalidID(t *testing.T) {
	store := newTestStore(t, nil)
	sess := New("/repos/demo", time.Hour)
	sess.ID = "not-a-session-id"

	_, err := store.Create(context.Background(), sess)
	assert.Error(t, err)
}

func TestStore_Create_CapacityExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 2
	store := newTestStore(t, cfg)

	createTestSession(t, store)
	createTestSession(t, store)

	_, err := store.Create(context.Background(), New("/repos/third", time.Hour))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestStore_Get_Missing(t *testing.T) {
	store := newTestStore(t, nil)
	_, err := store.Get(context.Background(), "ses_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Get_LazyExpiry(t *testing.T) {
	store := newTestStore(t, nil)
	sess := New("/repos/demo", time.Hour)
	sess.ExpiresAt = time.Now().Add(-time.Minute)

	_, err := store.Create(context.Background(), sess)
	require.NoError(t, err)

	// Expired record is invisible and purged by the read.
	_, err = store.Get(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestStore_Get_ReturnsIndependentCopy(t *testing.T) {
	store := newTestStore(t, nil)
	created := createTestSession(t, store)

	got, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)

	got.Labels["mutated"] = "yes"
	got.Metadata["mutated"] = true
	require.NoError(t, got.WorkflowState.MarkStepCompleted(workflow.StepAnalyze))

	fresh, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.Labels)
	assert.Empty(t, fresh.Metadata)
	assert.Empty(t, fresh.WorkflowState.CompletedSteps)
}

func TestStore_UpdateAtomic_IncrementsVersion(t *testing.T) {
	store := newTestStore(t, nil)
	created := createTestSession(t, store)

	updated, err := store.UpdateAtomic(context.Background(), created.ID, func(s *Session) error {
		s.MergeLabels(map[string]string{"team": "platform"})
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "platform", updated.Labels["team"])
}

func TestStore_UpdateAtomic_PreservesImmutableFields(t *testing.T) {
	store := newTestStore(t, nil)
	created := createTestSession(t, store)

	updated, err := store.UpdateAtomic(context.Background(), created.ID, func(s *Session) error {
		s.ID = "ses_hijacked"
		s.RepoPath = "/elsewhere"
		s.Version = 999
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "/repos/demo", updated.RepoPath)
	assert.Equal(t, int64(2), updated.Version)
}

func TestStore_UpdateAtomic_NoLostUpdates(t *testing.T) {
	store := newTestStore(t, nil)
	created := createTestSession(t, store)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := store.UpdateAtomic(context.Background(), created.ID, func(s *Session) error {
				s.MergeMetadata(map[string]interface{}{fmt.Sprintf("key-%d", i): i})
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)

	// Every increment is visible to the next caller and every mutator's
	// side effect survives.
	assert.Equal(t, int64(n+1), final.Version)
	assert.Len(t, final.Metadata, n)
}

func TestStore_UpdateAtomic_MutatorError(t *testing.T) {
	store := newTestStore(t, nil)
	created := createTestSession(t, store)

	_, err := store.UpdateAtomic(context.Background(), created.ID, func(s *Session) error {
		return fmt.Errorf("boom")
	})
	assert.Error(t, err)

	// Failed mutation must not bump the version.
	current, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.Version)
}

func TestStore_DeleteExpired(t *testing.T) {
	store := newTestStore(t, nil)
	live := createTestSession(t, store)

	expired := New("/repos/old", time.Hour)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	_, err := store.Create(context.Background(), expired)
	require.NoError(t, err)

	removed := store.DeleteExpired(context.Background())
	assert.Equal(t, 1, removed)

	_, err = store.Get(context.Background(), live.ID)
	assert.NoError(t, err)
}

func TestStore_StartCleanup_SweepsInBackground(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 5 * time.Millisecond
	st := newTestStore(t, cfg)

	expired := New("/repos/old", time.Hour)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	_, err := st.Create(context.Background(), expired)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Returns immediately; the sweep loop runs on its own goroutine.
	start := time.Now()
	st.StartCleanup(ctx)
	require.Less(t, time.Since(start), time.Second)

	// Inspect the table directly: Get purges expired records on read, which
	// would mask a sweep that never ran.
	impl := st.(*store)
	assert.Eventually(t, func() bool {
		impl.mu.RLock()
		_, ok := impl.sessions[expired.ID]
		impl.mu.RUnlock()
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestStore_GetRecentlyUpdated(t *testing.T) {
	store := newTestStore(t, nil)

	first := createTestSession(t, store)
	second := createTestSession(t, store)
	third := createTestSession(t, store)

	// Touch sessions in a known order.
	for _, id := range []string{third.ID, first.ID, second.ID} {
		time.Sleep(2 * time.Millisecond)
		_, err := store.UpdateAtomic(context.Background(), id, func(s *Session) error { return nil })
		require.NoError(t, err)
	}

	recent := store.GetRecentlyUpdated(context.Background(), 2)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, first.ID, recent[1].ID)
}

func TestStore_List_ByStatusAndLabels(t *testing.T) {
	store := newTestStore(t, nil)

	tagged := New("/repos/a", time.Hour)
	tagged.Labels["env"] = "prod"
	_, err := store.Create(context.Background(), tagged)
	require.NoError(t, err)

	createTestSession(t, store)

	active := StatusActive
	got := store.List(context.Background(), Filter{
		Status: &active,
		Labels: map[string]string{"env": "prod"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, tagged.ID, got[0].ID)

	failed := StatusFailed
	assert.Empty(t, store.GetByStatus(context.Background(), failed))
}

func TestStore_ExportImport_RoundTrip(t *testing.T) {
	store := newTestStore(t, nil)
	for i := 0; i < 3; i++ {
		sess := createTestSession(t, store)
		_, err := store.UpdateAtomic(context.Background(), sess.ID, func(s *Session) error {
			s.MergeLabels(map[string]string{"n": fmt.Sprint(i)})
			return nil
		})
		require.NoError(t, err)
	}

	exported := store.Export(context.Background())
	require.Len(t, exported, 3)

	store.Clear(context.Background())
	assert.Equal(t, 0, store.Len())

	require.NoError(t, store.Import(context.Background(), exported))

	reimported := store.Export(context.Background())
	require.Len(t, reimported, 3)

	byID := make(map[string]*Session)
	for _, s := range reimported {
		byID[s.ID] = s
	}
	for _, want := range exported {
		got, ok := byID[want.ID]
		require.True(t, ok)
		assert.Equal(t, want.Version, got.Version)
		assert.Equal(t, want.Labels, got.Labels)
		assert.Equal(t, want.RepoPath, got.RepoPath)
	}
}

func TestStore_Stats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 10
	store := newTestStore(t, cfg)

	sess := createTestSession(t, store)
	createTestSession(t, store)

	_, err := store.UpdateAtomic(context.Background(), sess.ID, func(s *Session) error {
		return s.AddStepError(workflow.StepBuildImage, "boom")
	})
	require.NoError(t, err)

	stats := store.Stats()
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 10, stats.MaxSessions)
}

func TestSession_CompleteShortenssExpiry(t *testing.T) {
	store := newTestStore(t, nil)
	created := createTestSession(t, store)

	updated, err := store.UpdateAtomic(context.Background(), created.ID, func(s *Session) error {
		s.Complete(true, time.Minute)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, updated.Status)
	assert.WithinDuration(t, time.Now().Add(time.Minute), updated.ExpiresAt, 5*time.Second)
}

func TestSession_AddStepErrorSetsFailedStatus(t *testing.T) {
	store := newTestStore(t, nil)
	created := createTestSession(t, store)

	updated, err := store.UpdateAtomic(context.Background(), created.ID, func(s *Session) error {
		return s.AddStepError(workflow.StepBuildImage, "msg")
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, updated.Status)
	assert.Equal(t, "msg", updated.WorkflowState.Errors[workflow.StepBuildImage])
}
