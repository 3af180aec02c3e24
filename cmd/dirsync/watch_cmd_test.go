package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchCommand_ResyncsOnChange(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, filepath.Join(env.src, "a.txt"), "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := env.runContext(ctx, "watch", env.src, env.dst, "--quiet-period", "50ms", "--no-history")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return fileExists(filepath.Join(env.dst, "a.txt"))
	}, 5*time.Second, 20*time.Millisecond, "initial sync")

	writeFile(t, filepath.Join(env.src, "b.txt"), "beta")
	require.Eventually(t, func() bool {
		return fileExists(filepath.Join(env.dst, "b.txt"))
	}, 10*time.Second, 50*time.Millisecond, "resync after change")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
