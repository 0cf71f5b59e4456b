package store

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"

	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

// ErrNotFound is returned by Get for identifiers with no file on disk.
var ErrNotFound = errors.New("fragment not found")

// Store keeps fragments and manifests as flat files named after their
// identifier. Files are write-once: once a file exists it is never
// rewritten, so concurrent writers of the same content are harmless.
type Store struct {
	root string
	ext  string

	// serializes the exists-then-write sequence for one process
	mu sync.Mutex
}

// New opens (and creates if needed) a store rooted at root. ext is appended
// to every file name; a missing leading dot is added.
func New(root, ext string) (s *Store, err error) {
	defer Return(&err)

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	err = os.MkdirAll(root, 0755)
	Ck(err)
	return &Store{root: root, ext: ext}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Path returns the file path for id.
func (s *Store) Path(id id_tools.HashID) string {
	return filepath.Join(s.root, id.FileName()+s.ext)
}

func (s *Store) Has(id id_tools.HashID) bool {
	_, err := os.Stat(s.Path(id))
	return err == nil
}

// Put writes data under id unless a file for id already exists. It reports
// whether a file was written.
func (s *Store) Put(id id_tools.HashID, data []byte) (written bool, err error) {
	defer Return(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(id)
	if s.Has(id) {
		log.WithField("path", path).Debug("fragment already stored")
		return false, nil
	}
	err = renameio.WriteFile(path, data, 0644)
	Ck(err)
	return true, nil
}

// Get reads the file stored under id.
func (s *Store) Get(id id_tools.HashID) ([]byte, error) {
	data, err := ioutil.ReadFile(s.Path(id))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, id.String())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", id)
	}
	return data, nil
}

// List returns the identifiers of every file in the store. Files that don't
// carry the store extension or don't parse as identifiers are skipped.
func (s *Store) List() ([]id_tools.HashID, error) {
	entries, err := ioutil.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.root)
	}
	var ids []id_tools.HashID
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), s.ext) {
			continue
		}
		id, err := id_tools.ParseFileName(strings.TrimSuffix(entry.Name(), s.ext))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
