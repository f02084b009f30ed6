package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleStore_SaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.json")
	store := NewScheduleStore(path)

	next := time.Date(2026, 9, 2, 8, 30, 0, 0, time.UTC)
	in := []*Schedule{
		{RepoUUID: "repo-b", Cadence: 3600, NextRun: next},
		{RepoUUID: "repo-a", Cadence: 86400, NextRun: next.Add(time.Hour)},
	}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	require.Len(t, out, 2)
	// saved sorted by uuid
	assert.Equal(t, "repo-a", out[0].RepoUUID)
	assert.Equal(t, int64(86400), out[0].Cadence)
	assert.Equal(t, "repo-b", out[1].RepoUUID)
	assert.True(t, out[1].NextRun.Equal(next))
}

func TestScheduleStore_MissingFileIsEmpty(t *testing.T) {
	store := NewScheduleStore(filepath.Join(t.TempDir(), "absent.json"))
	out, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestScheduleStore_SaveReplacesWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.json")
	store := NewScheduleStore(path)

	next := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Save([]*Schedule{
		{RepoUUID: "repo-a", Cadence: 60, NextRun: next},
		{RepoUUID: "repo-b", Cadence: 60, NextRun: next},
	}))
	require.NoError(t, store.Save([]*Schedule{
		{RepoUUID: "repo-b", Cadence: 120, NextRun: next},
	}))

	out, err := store.Load()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "repo-b", out[0].RepoUUID)
	assert.Equal(t, int64(120), out[0].Cadence)

	// no temp residue
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestScheduleStore_SkipsInvalidRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"repoUuid":"repo-a","cadence":60,"nextRunDate":"2026-09-02T08:30:00Z"},
		{"repoUuid":"","cadence":60,"nextRunDate":"2026-09-02T08:30:00Z"},
		{"repoUuid":"repo-c","cadence":0,"nextRunDate":"2026-09-02T08:30:00Z"}
	]`), 0o644))

	out, err := NewScheduleStore(path).Load()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "repo-a", out[0].RepoUUID)
}
