package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCommand(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, filepath.Join(env.src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(env.src, "docs", "b.txt"), "beta")
	writeFile(t, filepath.Join(env.dst, "old.txt"), "old")

	out, err := env.run("plan", env.src, env.dst)
	require.NoError(t, err)
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "docs/")
	assert.Contains(t, out, "old.txt")
	assert.Contains(t, out, "create=3 delete=1")

	// nothing was touched
	assert.NoFileExists(t, filepath.Join(env.dst, "a.txt"))
	assert.FileExists(t, filepath.Join(env.dst, "old.txt"))

	_, err = env.run("sync", env.src, env.dst)
	require.NoError(t, err)
	out, err = env.run("plan", env.src, env.dst)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to do")
}

func TestPlanCommand_CopyKeepsExtras(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, filepath.Join(env.dst, "extra.txt"), "x")

	out, err := env.run("plan", env.src, env.dst, "--policy", "copy", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "extra.txt")
	assert.Contains(t, out, "not in source")
	assert.Contains(t, out, "nothing to do")
}
