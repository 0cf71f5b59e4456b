package chunk

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kutluhann/p2p-file-sharing/id_tools"
	"github.com/kutluhann/p2p-file-sharing/store"
)

var (
	// ErrRead wraps failures reading the source of a split. Nothing is
	// published when it is returned.
	ErrRead = errors.New("read source")
	// ErrCorrupt means stored fragment bytes no longer match their identifier.
	ErrCorrupt = errors.New("corrupt fragment")
)

// Engine splits files into content-addressed fragments and puts them back
// together.
type Engine struct {
	deriver  *id_tools.Deriver
	store    *store.Store
	size     int
	boundary string
}

func NewEngine(d *id_tools.Deriver, s *store.Store, fragmentSize int, boundary string) (*Engine, error) {
	if fragmentSize < 1 {
		return nil, errors.Errorf("fragment size must be positive, got %d", fragmentSize)
	}
	if err := CheckBoundary(boundary, fragmentSize); err != nil {
		return nil, err
	}
	if boundary == "" {
		boundary = Fixed
	}
	return &Engine{deriver: d, store: s, size: fragmentSize, boundary: boundary}, nil
}

func (e *Engine) Store() *store.Store {
	return e.store
}

func (e *Engine) Deriver() *id_tools.Deriver {
	return e.deriver
}

// Split chunks the file at path. See SplitReader.
func (e *Engine) Split(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrRead, "open %s: %v", path, err)
	}
	defer f.Close()
	return e.SplitReader(filepath.Base(path), f)
}

// SplitReader reads r to the end, storing each fragment under its digest as
// it goes, and finally stores the manifest. Fragment store failures are
// logged and the split carries on; a read failure aborts before the manifest
// is written.
func (e *Engine) SplitReader(name string, r io.Reader) (*Manifest, error) {
	sp, err := newSplitter(e.boundary, r, e.size)
	if err != nil {
		return nil, err
	}

	m := &Manifest{Name: name}
	for {
		data, err := sp.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrRead, "%s at offset %d: %v", name, m.Length, err)
		}

		id := e.deriver.Derive(data)
		m.Fragments = append(m.Fragments, id)
		m.Length += int64(len(data))

		if _, err := e.store.Put(id, data); err != nil {
			log.WithError(err).WithField("fragment", id.Short()).Warn("failed to store fragment")
		}
	}
	m.ID = ChainID(e.deriver, m.Fragments)

	buf, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	if _, err := e.store.Put(m.ID, buf); err != nil {
		log.WithError(err).WithField("manifest", m.ID.Short()).Warn("failed to store manifest")
	}

	log.WithFields(log.Fields{
		"file":      name,
		"manifest":  m.ID.Short(),
		"fragments": len(m.Fragments),
		"bytes":     m.Length,
	}).Info("file split")
	return m, nil
}

// Fragment loads the bytes of id from the store and checks them against id.
func (e *Engine) Fragment(id id_tools.HashID) ([]byte, error) {
	data, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !e.deriver.Derive(data).Equal(id) {
		return nil, errors.Wrap(ErrCorrupt, id.String())
	}
	return data, nil
}

// Manifest loads a stored manifest and verifies its chain.
func (e *Engine) Manifest(id id_tools.HashID) (*Manifest, error) {
	buf, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	m, err := UnmarshalManifest(buf)
	if err != nil {
		return nil, err
	}
	if !m.ID.Equal(id) {
		return nil, errors.Wrapf(ErrChainMismatch, "stored under %s but names %s", id, m.ID)
	}
	return m, m.Verify(e.deriver)
}

// Assemble writes the file described by m to w. Every fragment must be in the
// local store.
func (e *Engine) Assemble(m *Manifest, w io.Writer) error {
	if err := m.Verify(e.deriver); err != nil {
		return err
	}
	var written int64
	for i, id := range m.Fragments {
		data, err := e.Fragment(id)
		if err != nil {
			return errors.Wrapf(err, "fragment %d of %s", i, m.Name)
		}
		n, err := w.Write(data)
		written += int64(n)
		if err != nil {
			return errors.Wrapf(err, "write %s", m.Name)
		}
	}
	if written != m.Length {
		return errors.Errorf("assembled %d bytes of %s, manifest says %d", written, m.Name, m.Length)
	}
	return nil
}
