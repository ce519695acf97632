package dlq

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relic-hub/relic/common/models"
)

func TestQueue_WriteListRemove(t *testing.T) {
	q, err := NewQueue(t.TempDir())
	require.NoError(t, err)

	first := models.NewErrorRecord(`{"uuid":"a"}`, errors.New("transform data point: boom"))
	second := models.NewErrorRecord(`{"uuid":"b"}`, errors.New("persist raw data point: conn closed"))
	require.NoError(t, q.Write(first, errors.New("connection refused")))
	require.NoError(t, q.Write(second, nil))
	assert.Equal(t, uint64(2), q.Written())

	entries, err := q.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].Record.ID)
	assert.Equal(t, `{"uuid":"a"}`, entries[0].Record.InputData)
	assert.Equal(t, "connection refused", entries[0].Cause)
	assert.Empty(t, entries[1].Cause)

	limited, err := q.List(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, q.Remove(first.ID))
	entries, err = q.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, second.ID, entries[0].Record.ID)

	assert.Error(t, q.Remove(first.ID))
}

func TestQueue_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	q, err := NewQueue(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "error_1_x.json"), []byte("{broken"), 0o644))
	require.NoError(t, q.Write(models.NewErrorRecord("m", errors.New("e")), nil))

	entries, err := q.List(0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	n, err := q.Purge()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
}

func TestQueue_Nil(t *testing.T) {
	var q *Queue

	assert.NoError(t, q.Write(models.NewErrorRecord("m", nil), nil))
	assert.Zero(t, q.Written())
	_, err := q.List(0)
	assert.Error(t, err)
	_, err = q.Purge()
	assert.Error(t, err)
}

func TestNewQueue_RequiresDir(t *testing.T) {
	_, err := NewQueue("")
	assert.Error(t, err)
}
