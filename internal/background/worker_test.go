package background

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remind-mem/remind/internal/model"
)

type fakeConsolidator struct {
	calls  int
	result *model.ConsolidationResult
	err    error
}

func (f *fakeConsolidator) Consolidate(ctx context.Context, force bool) (*model.ConsolidationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestRunWorker_RunsOnceAndReleasesLock(t *testing.T) {
	dataDir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger, err := NewWorkerLogger(dataDir)
	require.NoError(t, err)

	c := &fakeConsolidator{result: &model.ConsolidationResult{EpisodesProcessed: 2, ConceptsCreated: 1}}
	RunWorker(context.Background(), dataDir, dbPath, c, logger)

	assert.Equal(t, 1, c.calls)

	running, err := IsConsolidationRunning(dataDir, dbPath)
	require.NoError(t, err)
	assert.False(t, running, "worker must release its lock when done")
}

func TestRunWorker_SkipsWhenLockHeld(t *testing.T) {
	dataDir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger, err := NewWorkerLogger(dataDir)
	require.NoError(t, err)

	lock, ok, err := TryAcquire(dataDir, dbPath)
	require.NoError(t, err)
	require.True(t, ok)
	defer lock.Release()

	c := &fakeConsolidator{result: &model.ConsolidationResult{}}
	RunWorker(context.Background(), dataDir, dbPath, c, logger)

	assert.Equal(t, 0, c.calls, "worker must not run consolidation while another holds the lock")
}

func TestRunWorker_LogsAndReturnsOnConsolidationError(t *testing.T) {
	dataDir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger, err := NewWorkerLogger(dataDir)
	require.NoError(t, err)

	c := &fakeConsolidator{err: errors.New("llm unavailable")}
	RunWorker(context.Background(), dataDir, dbPath, c, logger)

	assert.Equal(t, 1, c.calls)

	running, err := IsConsolidationRunning(dataDir, dbPath)
	require.NoError(t, err)
	assert.False(t, running, "lock must still be released on failure")
}
