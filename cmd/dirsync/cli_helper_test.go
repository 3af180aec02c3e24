package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv isolates config, history, logs and locks under one temp dir.
type testEnv struct {
	t    *testing.T
	dir  string
	src  string
	dst  string
	logs string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		t:    t,
		dir:  dir,
		src:  filepath.Join(dir, "src"),
		dst:  filepath.Join(dir, "dst"),
		logs: filepath.Join(dir, "logs"),
	}
	require.NoError(t, os.MkdirAll(env.src, 0o755))
	t.Setenv("DIRSYNC_LOG_DIR", env.logs)
	t.Setenv("DIRSYNC_LOCK_DIR", filepath.Join(dir, "locks"))
	return env
}

func (e *testEnv) configPath() string  { return filepath.Join(e.dir, "config.json") }
func (e *testEnv) historyPath() string { return filepath.Join(e.dir, "history.db") }

func (e *testEnv) run(args ...string) (string, error) {
	return e.runContext(context.Background(), args...)
}

func (e *testEnv) runContext(ctx context.Context, args ...string) (string, error) {
	e.t.Helper()
	a := newApp()
	defer a.Close()

	var out bytes.Buffer
	a.root.SetOut(&out)
	a.root.SetErr(&out)
	a.root.SetArgs(append(args, "--config", e.configPath(), "--history", e.historyPath()))
	err := a.root.ExecuteContext(ctx)
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
