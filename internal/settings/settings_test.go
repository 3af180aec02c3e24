package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mirror", s.Policy)
	assert.True(t, s.CreateLog)
	assert.Equal(t, path, s.Path)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	s := Default()
	s.Path = path
	s.SourceDir = "/data/photos"
	s.DestinationDir = "/backup/photos"
	s.Policy = "archive"
	s.CreateLog = false
	s.LogDir = "/var/log/dirsync"
	require.NoError(t, s.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestSave_KeepsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"concurrency": 12, "policy": "copy"}`), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "copy", s.Policy)

	s.SourceDir = "/src"
	require.NoError(t, s.Save())

	var doc map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.EqualValues(t, 12, doc["concurrency"])
	assert.Equal(t, "/src", doc["source_dir"])
	assert.Equal(t, "copy", doc["policy"])
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "parse settings")
}
