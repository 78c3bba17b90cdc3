package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStoreRoundTrip(t *testing.T) {
	store := NewRecordStore(filepath.Join(t.TempDir(), "tariffs_db.json"), true, nil)

	type rec struct {
		Plan string `json:"plan"`
	}

	require.NoError(t, store.Put("42", rec{Plan: "vip"}))

	var got rec
	found, err := store.Get("42", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "vip", got.Plan)

	found, err = store.Get("missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordStoreMissingFileReadsEmpty(t *testing.T) {
	store := NewRecordStore(filepath.Join(t.TempDir(), "nope.json"), false, nil)

	records, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordStoreCorruptFileFailOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strikes.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	open := NewRecordStore(path, true, nil)
	records, err := open.Load()
	require.NoError(t, err)
	assert.Empty(t, records)

	strict := NewRecordStore(path, false, nil)
	_, err = strict.Load()
	assert.Error(t, err)
}

func TestRecordStoreUpdateIsReadModifyWrite(t *testing.T) {
	store := NewRecordStore(filepath.Join(t.TempDir(), "db.json"), true, nil)

	require.NoError(t, store.Put("1", 1))
	require.NoError(t, store.Put("2", 2))

	var one, two int
	found, err := store.Get("1", &one)
	require.NoError(t, err)
	require.True(t, found)
	found, err = store.Get("2", &two)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, one)
	assert.Equal(t, 2, two)
}

func TestRecordStoreRecorderObservesOperations(t *testing.T) {
	counts := map[string]int{}
	store := NewRecordStore(filepath.Join(t.TempDir(), "db.json"), true, nil).
		WithRecorder(func(operation, status string) {
			counts[operation+"/"+status]++
		})

	require.NoError(t, store.Put("1", 1))
	var got int
	_, err := store.Get("1", &got)
	require.NoError(t, err)

	// Put loads then saves; Get loads once more.
	assert.Equal(t, 2, counts["load/success"])
	assert.Equal(t, 1, counts["save/success"])
}

func TestRecordStoreRecorderSeesFailOpenErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	counts := map[string]int{}
	store := NewRecordStore(path, true, nil).
		WithRecorder(func(operation, status string) {
			counts[operation+"/"+status]++
		})

	records, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 1, counts["load/error"])
}

func TestListFileIdempotentAdd(t *testing.T) {
	list, err := NewListFile(filepath.Join(t.TempDir(), "blacklist.txt"))
	require.NoError(t, err)

	assert.False(t, list.Contains("7"))
	require.NoError(t, list.Add("7"))
	require.NoError(t, list.Add("7"))
	assert.True(t, list.Contains("7"))
	assert.Equal(t, 1, list.Len())
}

func TestUserFilesSlotEnumeration(t *testing.T) {
	files, err := NewUserFiles(t.TempDir())
	require.NoError(t, err)

	dir, err := files.Dir("7")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "speaker_embedding_2.npz"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "speaker_embedding_0.npz"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gen_meta.json"), []byte("{}"), 0644))

	slots, err := files.OccupiedSlots("7")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, slots)

	slots, err = files.OccupiedSlots("nobody")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestUserFilesLogTail(t *testing.T) {
	files, err := NewUserFiles(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, files.AppendLog("7", "first"))
	require.NoError(t, files.AppendLog("7", "second"))
	require.NoError(t, files.AppendLog("7", "third"))

	lines, err := files.LogTail("7", 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "second")
	assert.Contains(t, lines[1], "third")

	lines, err = files.LogTail("nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
