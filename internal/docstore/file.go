package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"todo-go/internal/todo"
)

// FileStore is a MemoryStore persisted to a JSON file that several processes
// may share. Commits hold an exclusive lock on path+".lock", reload the file,
// apply and write it back atomically. A watcher on the directory picks up
// commits from other processes and delivers them to subscriptions.
type FileStore struct {
	*MemoryStore

	file    *storeFile
	watcher *fsnotify.Watcher
	logger  todo.Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ todo.DocumentStore = (*FileStore)(nil)

// NewFileStore opens (creating if needed) the store file at path.
func NewFileStore(path string, logger todo.Logger) (*FileStore, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	file := &storeFile{path: path}
	mem := NewMemoryStore()
	mem.persist = file

	// Read once up front so a corrupt file fails here rather than on first write.
	unlock, err := file.lock()
	if err != nil {
		return nil, fmt.Errorf("locking store file: %w", err)
	}
	data, err := file.load()
	unlock()
	if err != nil {
		return nil, fmt.Errorf("loading store file: %w", err)
	}
	mem.data = data

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch store directory: %w", err)
	}

	s := &FileStore{
		MemoryStore: mem,
		file:        file,
		watcher:     watcher,
		logger:      logger,
		done:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processEvents()
	return s, nil
}

// Path returns the store file location.
func (s *FileStore) Path() string { return s.file.path }

func (s *FileStore) processEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.file.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if err := s.MemoryStore.reload(); err != nil {
				s.logger.Warn("reloading store file failed", "path", s.file.path, "error", err)
				s.MemoryStore.reportError(err)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("store file watcher error", "path", s.file.path, "error", err)
		}
	}
}

// Close stops the watcher, then the store.
func (s *FileStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
		if cerr := s.MemoryStore.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// storeFile is the on-disk form of a FileStore.
type storeFile struct {
	path string
}

type fileContents struct {
	Collections collections `json:"collections"`
}

func (f *storeFile) lock() (func(), error) {
	lf, err := os.OpenFile(f.path+".lock", os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(lf); err != nil {
		lf.Close()
		return nil, err
	}
	return func() {
		unlockFile(lf)
		lf.Close()
	}, nil
}

func (f *storeFile) load() (collections, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(collections), nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return make(collections), nil
	}

	var contents fileContents
	if err := json.Unmarshal(raw, &contents); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	if contents.Collections == nil {
		contents.Collections = make(collections)
	}
	return contents.Collections, nil
}

// save writes to a temp file and renames it over the store file.
func (f *storeFile) save(data collections) error {
	raw, err := json.MarshalIndent(fileContents{Collections: data}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}
