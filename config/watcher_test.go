package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileWatcherFiresOnModification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1"), 0o600))

	w := NewFileWatcher(path, 5*time.Millisecond, zap.NewNop())
	events := make(chan FileEvent, 4)
	w.OnChange(func(e FileEvent) { events <- e })

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("a: 2"), 0o600))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("watcher did not fire on file modification")
	}
}

func TestFileWatcherDoesNotFireWithoutModification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1"), 0o600))

	w := NewFileWatcher(path, 5*time.Millisecond, zap.NewNop())
	events := make(chan FileEvent, 4)
	w.OnChange(func(e FileEvent) { events <- e })

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	select {
	case <-events:
		t.Fatal("watcher fired without a file modification")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestFileWatcherStartIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1"), 0o600))

	w := NewFileWatcher(path, 5*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	w.Start(ctx)
	w.Start(ctx)
	w.Stop()
}

func TestFileWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1"), 0o600))

	w := NewFileWatcher(path, 5*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	w.Start(ctx)
	w.Stop()
	w.Stop()
}
