package runhistory

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysim/engine/rerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndListRecent(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UnixNano()
	require.NoError(t, s.Insert(Record{
		RunID: "run-1", NodeCount: 3, Outcome: OutcomeOK,
		StartedUnixNanos: base, DurationNanos: 1000,
	}))
	require.NoError(t, s.Insert(Record{
		RunID: "run-2", NodeCount: 5, Outcome: OutcomeFailed, ErrorText: "boom",
		StartedUnixNanos: base + 10, DurationNanos: 2000,
	}))

	recent, err := s.ListRecent(10)
	require.NoError(t, err)

	want := []Record{
		{RunID: "run-2", NodeCount: 5, Outcome: OutcomeFailed, ErrorText: "boom",
			StartedUnixNanos: base + 10, DurationNanos: 2000},
		{RunID: "run-1", NodeCount: 3, Outcome: OutcomeOK,
			StartedUnixNanos: base, DurationNanos: 1000},
	}
	if diff := cmp.Diff(want, recent); diff != "" {
		t.Errorf("ListRecent mismatch (-want +got):\n%s", diff)
	}
}

func TestGetUnknownRun(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("nope")
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.InvalidArgument))
}

func TestObserverRecordsCompletedRun(t *testing.T) {
	s := openTestStore(t)

	s.RunStarted("run-1", 4)
	s.NodeCompleted("run-1", "raytrace")
	s.RunFinished("run-1", nil)

	r, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, 4, r.NodeCount)
	assert.Equal(t, OutcomeOK, r.Outcome)
	assert.GreaterOrEqual(t, r.DurationNanos, int64(0))
}

func TestObserverClassifiesCancellation(t *testing.T) {
	s := openTestStore(t)

	s.RunStarted("run-1", 2)
	s.RunFinished("run-1", rerr.New(rerr.Cancelled, "run cancelled"))

	r, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, r.Outcome)
}

func TestObserverClassifiesFailure(t *testing.T) {
	s := openTestStore(t)

	s.RunStarted("run-1", 2)
	s.RunFinished("run-1", errors.New("device error"))

	r, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, r.Outcome)
	assert.Equal(t, "device error", r.ErrorText)
}

func TestFinishWithoutStartIsIgnored(t *testing.T) {
	s := openTestStore(t)
	s.RunFinished("untracked", nil)

	recent, err := s.ListRecent(10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert(Record{
		RunID: "run-1", NodeCount: 1, Outcome: OutcomeOK,
		StartedUnixNanos: time.Now().UnixNano(), DurationNanos: 1,
	}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	r, err := s2.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, r.Outcome)
}
