package watch

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kutluhann/p2p-file-sharing/chunk"
	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) share(path string) (*chunk.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return &chunk.Manifest{ID: id_tools.HashID{1}, Name: filepath.Base(path)}, nil
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestWatcher_SharesNewFilesOnce(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(dir, rec.share)
	require.NoError(t, err)
	defer w.Close()
	w.Settle = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	path := filepath.Join(dir, "new.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = f.WriteString("more data\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	require.Eventually(t, func() bool { return len(rec.list()) == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{path}, rec.list())
}

func TestNew_RejectsNonDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, ioutil.WriteFile(file, nil, 0644))
	_, err := New(file, (&recorder{}).share)
	assert.Error(t, err)
	_, err = New(filepath.Join(t.TempDir(), "missing"), (&recorder{}).share)
	assert.Error(t, err)
}
