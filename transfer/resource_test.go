package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileCommitRenamesPartialFile(t *testing.T) {
	dir := t.TempDir()
	resource, err := OpenFile(dir, "id1", "../escape/report.pdf", 4)
	require.NoError(t, err)

	_, err = resource.WriteAt([]byte("data"), 0)
	require.NoError(t, err)

	path, err := resource.Commit()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "id1_report.pdf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	_, err = resource.Commit()
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, resource.Discard())
}

func TestOpenFileDiscardRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	resource, err := OpenFile(dir, "id/2", "notes.txt", 0)
	require.NoError(t, err)

	partPath := filepath.Join(dir, "id_2_notes.txt.part")
	_, err = os.Stat(partPath)
	require.NoError(t, err)

	require.NoError(t, resource.Discard())
	_, err = os.Stat(partPath)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = resource.WriteAt([]byte("late"), 0)
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestOpenFileRequiresDirectory(t *testing.T) {
	_, err := OpenFile("", "id", "a.txt", 0)
	assert.Error(t, err)
}

func TestOpenFileRefusesShortCommit(t *testing.T) {
	dir := t.TempDir()
	resource, err := OpenFile(dir, "id3", "big.iso", 10)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "id3_big.iso.part"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	_, err = resource.WriteAt([]byte("abc"), 0)
	require.NoError(t, err)

	_, err = resource.Commit()
	assert.ErrorIs(t, err, ErrIncomplete)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenFileRejectsWritesPastDeclaredSize(t *testing.T) {
	resource, err := OpenFile(t.TempDir(), "id4", "a.txt", 4)
	require.NoError(t, err)
	defer resource.Discard()

	_, err = resource.WriteAt([]byte("abc"), 2)
	assert.Error(t, err)
	_, err = resource.WriteAt([]byte("abcd"), 0)
	assert.NoError(t, err)
}
