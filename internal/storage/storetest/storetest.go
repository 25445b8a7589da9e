// Package storetest holds the behaviour every coordinator.SessionStore
// implementation must share. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
)

// Factory returns an empty store
type Factory func(t *testing.T) coordinator.SessionStore

// Run exercises a store implementation
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("DuplicateSession", func(t *testing.T) { testDuplicateSession(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpdatePartial", func(t *testing.T) { testUpdatePartial(t, newStore(t)) })
	t.Run("ListOrdered", func(t *testing.T) { testListOrdered(t, newStore(t)) })
	t.Run("DeleteRemovesCells", func(t *testing.T) { testDeleteRemovesCells(t, newStore(t)) })
	t.Run("CellsAfter", func(t *testing.T) { testCellsAfter(t, newStore(t)) })
	t.Run("CreateCellAdvancesExecID", func(t *testing.T) { testCreateCellAdvancesExecID(t, newStore(t)) })
	t.Run("AppendOutputNumbers", func(t *testing.T) { testAppendOutputNumbers(t, newStore(t)) })
	t.Run("AppendOutputMissingCell", func(t *testing.T) { testAppendOutputMissingCell(t, newStore(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newStore(t)) })
}

func newSession(id int) *coordinator.Session {
	return &coordinator.Session{
		ID:               id,
		PID:              1000 + id,
		Path:             "/tmp/session",
		URL:              "127.0.0.1:6000",
		Status:           coordinator.SessionStatusReady,
		NextExecID:       0,
		LastActiveExecID: coordinator.NoExecID,
		StartTime:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func testCreateAndGet(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()
	want := newSession(3)
	require.NoError(t, s.CreateSession(ctx, want))

	got, err := s.GetSession(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.PID, got.PID)
	assert.Equal(t, want.Path, got.Path)
	assert.Equal(t, want.URL, got.URL)
	assert.Equal(t, coordinator.SessionStatusReady, got.Status)
	assert.Equal(t, 0, got.NextExecID)
	assert.Equal(t, coordinator.NoExecID, got.LastActiveExecID)
	assert.True(t, want.StartTime.Equal(got.StartTime), "start time %v != %v", got.StartTime, want.StartTime)
}

func testDuplicateSession(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(0)))
	assert.Error(t, s.CreateSession(ctx, newSession(0)))
}

func testGetMissing(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()

	_, err := s.GetSession(ctx, 42)
	assert.ErrorIs(t, err, coordinator.ErrNotFound)

	running := coordinator.SessionStatusRunning
	assert.ErrorIs(t, s.UpdateSession(ctx, 42, coordinator.SessionUpdate{Status: &running}), coordinator.ErrNotFound)
	assert.ErrorIs(t, s.CreateCell(ctx, 42, 0, "x"), coordinator.ErrNotFound)

	_, err = s.GetCells(ctx, 42)
	assert.ErrorIs(t, err, coordinator.ErrNotFound)
}

func testUpdatePartial(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(0)))

	next := 5
	require.NoError(t, s.UpdateSession(ctx, 0, coordinator.SessionUpdate{NextExecID: &next}))

	running := coordinator.SessionStatusRunning
	last := 4
	require.NoError(t, s.UpdateSession(ctx, 0, coordinator.SessionUpdate{Status: &running, LastActiveExecID: &last}))

	got, err := s.GetSession(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, coordinator.SessionStatusRunning, got.Status)
	assert.Equal(t, 5, got.NextExecID)
	assert.Equal(t, 4, got.LastActiveExecID)
	assert.Equal(t, 1000, got.PID)
}

func testListOrdered(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()

	empty, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, id := range []int{2, 0, 7} {
		require.NoError(t, s.CreateSession(ctx, newSession(id)))
	}

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 0, list[0].ID)
	assert.Equal(t, 2, list[1].ID)
	assert.Equal(t, 7, list[2].ID)
}

func testDeleteRemovesCells(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(1)))
	require.NoError(t, s.CreateCell(ctx, 1, 0, "x=1"))

	require.NoError(t, s.DeleteSession(ctx, 1))
	assert.ErrorIs(t, s.DeleteSession(ctx, 1), coordinator.ErrNotFound)

	_, err := s.GetSession(ctx, 1)
	assert.ErrorIs(t, err, coordinator.ErrNotFound)

	// a recreated session starts without the old cells
	require.NoError(t, s.CreateSession(ctx, newSession(1)))
	cells, err := s.GetCells(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cells)
}

func testCellsAfter(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(0)))
	require.NoError(t, s.CreateSession(ctx, newSession(1)))

	for _, execID := range []int{2, 0, 3, 1} {
		require.NoError(t, s.CreateCell(ctx, 0, execID, "code"))
	}
	require.NoError(t, s.CreateCell(ctx, 1, 9, "other session"))
	assert.Error(t, s.CreateCell(ctx, 0, 2, "duplicate"))

	after, err := s.GetCellsAfter(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, 2, after[0].ExecID)
	assert.Equal(t, 3, after[1].ExecID)
	assert.Equal(t, 0, after[0].SessionID)

	all, err := s.GetCellsAfter(ctx, 0, coordinator.NoExecID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, c := range all {
		assert.Equal(t, i, c.ExecID)
		assert.Equal(t, "code", c.Code)
	}

	none, err := s.GetCellsAfter(ctx, 0, 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testCreateCellAdvancesExecID(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(0)))

	require.NoError(t, s.CreateCell(ctx, 0, 0, "a"))
	got, err := s.GetSession(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NextExecID)

	require.NoError(t, s.CreateCell(ctx, 0, 4, "b"))
	require.NoError(t, s.CreateCell(ctx, 0, 2, "c"))
	got, err = s.GetSession(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, got.NextExecID, "an older exec id never lowers the counter")

	// a rejected duplicate leaves the counter alone
	assert.Error(t, s.CreateCell(ctx, 0, 4, "dup"))
	got, err = s.GetSession(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, got.NextExecID)
}

func testAppendOutputNumbers(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(0)))
	require.NoError(t, s.CreateCell(ctx, 0, 0, "print(1)"))

	msgs := []coordinator.OutputMessage{
		{Kind: coordinator.OutputStdout, Payload: "1\n"},
		{Kind: coordinator.OutputStderr, Payload: "warning\n"},
		{Kind: coordinator.OutputOther, Done: true},
	}
	for i, m := range msgs {
		stored, err := s.AppendOutput(ctx, 0, 0, m)
		require.NoError(t, err)
		assert.Equal(t, i, stored.Number)
	}

	cells, err := s.GetCells(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	out := cells[0].Output
	require.Len(t, out, 3)
	for i, m := range out {
		assert.Equal(t, i, m.Number)
		assert.Equal(t, msgs[i].Kind, m.Kind)
		assert.Equal(t, msgs[i].Payload, m.Payload)
		assert.Equal(t, msgs[i].Done, m.Done)
	}
}

func testAppendOutputMissingCell(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(0)))

	_, err := s.AppendOutput(ctx, 0, 5, coordinator.OutputMessage{Kind: coordinator.OutputStdout})
	assert.ErrorIs(t, err, coordinator.ErrNotFound)
}

func testConcurrentAppend(t *testing.T, s coordinator.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(0)))
	require.NoError(t, s.CreateCell(ctx, 0, 0, "loop"))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendOutput(ctx, 0, 0, coordinator.OutputMessage{Kind: coordinator.OutputStdout, Payload: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cells, err := s.GetCells(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cells[0].Output, n)
	for i, m := range cells[0].Output {
		assert.Equal(t, i, m.Number)
	}
}
