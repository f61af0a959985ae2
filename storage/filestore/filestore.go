package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/storage"
)

var _ storage.Slots = (*FileStore)(nil)

// FileStore persists all slots in a single JSON document. Every mutation
// rewrites the document through a temp file and rename, so multi-key writes
// and deletes are atomic on disk.
type FileStore struct {
	path  string
	slots map[string][]byte
	lock  sync.Mutex
}

// Open loads the document at path, creating its directory if needed. A
// missing file is treated as empty.
func Open(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrapf(errors.ErrStorageUnavailable, "[filestore.Open] mkdir %s: %v", filepath.Dir(path), err)
	}

	fs := &FileStore{
		path:  path,
		slots: make(map[string][]byte),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return fs, nil
	case err != nil:
		return nil, errors.Wrapf(errors.ErrStorageUnavailable, "[filestore.Open] read %s: %v", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &fs.slots); err != nil {
			return nil, fmt.Errorf("[filestore.Open] decode %s: %w", path, err)
		}
	}
	return fs, nil
}

func (fs *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	v, ok := fs.slots[key]
	if !ok {
		return nil, errors.ErrSlotNotFound
	}
	return append([]byte(nil), v...), nil
}

func (fs *FileStore) Set(ctx context.Context, key string, value []byte) error {
	return fs.SetMany(ctx, map[string][]byte{key: value})
}

func (fs *FileStore) SetMany(_ context.Context, entries map[string][]byte) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	next := fs.copySlots()
	for k, v := range entries {
		next[k] = append([]byte(nil), v...)
	}
	if err := fs.flush(next); err != nil {
		return err
	}
	fs.slots = next
	return nil
}

func (fs *FileStore) Delete(_ context.Context, keys ...string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	next := fs.copySlots()
	for _, k := range keys {
		delete(next, k)
	}
	if err := fs.flush(next); err != nil {
		return err
	}
	fs.slots = next
	return nil
}

func (fs *FileStore) copySlots() map[string][]byte {
	next := make(map[string][]byte, len(fs.slots))
	for k, v := range fs.slots {
		next[k] = v
	}
	return next
}

func (fs *FileStore) flush(slots map[string][]byte) error {
	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("[filestore.flush] encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".slots-*")
	if err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "[filestore.flush] create temp: %v", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(errors.ErrStorageUnavailable, "[filestore.flush] write: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "[filestore.flush] close: %v", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "[filestore.flush] rename: %v", err)
	}
	return nil
}
