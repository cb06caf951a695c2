package rulefile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/findex/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	assert.Equal(t, "findex.config", filepath.Base(path))
	assert.Equal(t, "findex", filepath.Base(filepath.Dir(path)))

	assert.Equal(t, "/tmp/rules.txt", Resolve("/tmp/rules.txt"))
	assert.Equal(t, path, Resolve(""))
}

func TestLoadWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "findex.config")

	text, created, err := Load(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.DefaultRulesText, text)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultRulesText, string(data))

	text, created, err = Load(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.DefaultRulesText, text)
}

func TestSaveVerbatim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "findex.config")
	text := "# mine\r\n\n  * :: * :: * :: 5  \nbroken line\n"

	require.NoError(t, Save(path, text))
	got, created, err := Load(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, text, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "findex.config")
	require.NoError(t, Save(path, "* :: * :: * :: 5"))

	got := make(chan string, 8)
	w, err := NewWatcher(path, func(text string) { got <- text }, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other"), []byte("x"), 0o644))
	require.NoError(t, Save(path, "* :: * :: * :: 7"))

	select {
	case text := <-got:
		assert.True(t, strings.HasPrefix(text, "* :: * :: * :: 7"))
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "findex.config")
	w, err := NewWatcher(path, func(string) {}, 0)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}
