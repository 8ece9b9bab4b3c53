package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv3 "gopkg.in/yaml.v3"
)

func TestStore_IncConfigIDPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	assert.Zero(t, s.Snapshot().ConfigID)

	id, err := s.IncConfigID("MOP-R-bin2")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	id, err = s.IncConfigID("MOP-V-bin1")
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	reopened, err := Open(dir)
	require.NoError(t, err)
	snap := reopened.Snapshot()
	assert.Equal(t, 2, snap.ConfigID)
	assert.Equal(t, "MOP-V-bin1", snap.ConfigName)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestStore_RecordRun(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(7, "c_e_20261019_7_1_1_0.fits"))

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, reopened.Snapshot().LastMultrunNumber)
	assert.Equal(t, "c_e_20261019_7_1_1_0.fits", reopened.Snapshot().LastFilename)
}

func TestStore_FailedWriteKeepsState(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.IncConfigID("first")
	require.NoError(t, err)

	s.path = filepath.Join(dir, "missing", FileName)
	_, err = s.IncConfigID("second")
	require.Error(t, err)
	assert.Equal(t, 1, s.Snapshot().ConfigID)
	assert.Equal(t, "first", s.Snapshot().ConfigName)
}

func TestOpen_CorruptFileQuarantinedToZeroState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("config_id: [unterminated"), 0644))

	s, err := Open(dir)
	require.NoError(t, err)
	assert.Zero(t, s.Snapshot().ConfigID)
	assert.Contains(t, s.Recovery(), "starting from zero state")

	entries, err := os.ReadDir(filepath.Join(dir, QuarantineDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), FileName+".")
}

func TestOpen_CorruptFileRestoredFromBackup(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.IncConfigID("first")
	require.NoError(t, err)
	_, err = s.IncConfigID("second")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), []byte("config_id: [unterminated"), 0644))

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Snapshot().ConfigID)
	assert.Equal(t, "first", reopened.Snapshot().ConfigName)
	assert.Contains(t, reopened.Recovery(), "restored from backup")

	_, err = reopened.IncConfigID("third")
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Snapshot().ConfigID)
}

func TestAtomicWrite_CreatesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, AtomicWrite(path, map[string]string{"version": "1"}))
	require.NoError(t, AtomicWrite(path, map[string]string{"version": "2"}))

	var bak, cur map[string]string
	data, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	require.NoError(t, yamlv3.Unmarshal(data, &bak))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yamlv3.Unmarshal(data, &cur))

	assert.Equal(t, "1", bak["version"])
	assert.Equal(t, "2", cur["version"])
}

func TestAtomicWriteRaw_RejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ok: true\n"), 0644))

	err := AtomicWriteRaw(path, []byte("bad: [\n"))
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ok: true\n", string(data), "original must be untouched")

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".moptop-tmp-*"))
	assert.Empty(t, leftovers)
}
