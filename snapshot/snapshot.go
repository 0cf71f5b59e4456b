// Package snapshot persists the parts of a peer that survive a restart: its
// identifier and the identifiers of every fragment it knows about.
package snapshot

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"

	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

type Snapshot struct {
	ID    id_tools.HashID
	Known []id_tools.HashID
}

type record struct {
	ID    []byte   `msgpack:"id"`
	Known [][]byte `msgpack:"known"`
}

// File is a snapshot stored at a fixed path.
type File struct {
	Path string
}

func NewFile(path string) *File {
	return &File{Path: path}
}

// Load returns nil, nil when no snapshot has been saved yet.
func (f *File) Load() (*Snapshot, error) {
	buf, err := ioutil.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %s", f.Path)
	}
	var rec record
	if err := msgpack.Unmarshal(buf, &rec); err != nil {
		return nil, errors.Wrapf(err, "decode snapshot %s", f.Path)
	}
	if len(rec.ID) == 0 {
		return nil, errors.Errorf("snapshot %s has no identifier", f.Path)
	}
	snap := &Snapshot{ID: rec.ID, Known: make([]id_tools.HashID, 0, len(rec.Known))}
	for _, id := range rec.Known {
		snap.Known = append(snap.Known, id)
	}
	return snap, nil
}

// Save replaces the snapshot atomically.
func (f *File) Save(snap *Snapshot) error {
	rec := record{ID: snap.ID, Known: make([][]byte, 0, len(snap.Known))}
	for _, id := range snap.Known {
		rec.Known = append(rec.Known, id)
	}
	buf, err := msgpack.Marshal(&rec)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(f.Path))
	}
	return errors.Wrapf(renameio.WriteFile(f.Path, buf, 0644), "write snapshot %s", f.Path)
}
