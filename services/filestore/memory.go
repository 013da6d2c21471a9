package filestore

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/trezcool/elimu/core"
)

// memoryStore keeps files in memory. For use in tests.
type memoryStore struct {
	mutex sync.RWMutex
	files map[string][]byte
}

var _ core.FileStore = (*memoryStore)(nil)

func NewMemoryStore() *memoryStore {
	return &memoryStore{files: make(map[string][]byte)}
}

func (st *memoryStore) Store(_ context.Context, name string, data []byte) (string, error) {
	ref := core.Hash(data)[:32] + filepath.Ext(name)
	st.mutex.Lock()
	defer st.mutex.Unlock()
	st.files[ref] = data
	return ref, nil
}

func (st *memoryStore) Open(_ context.Context, ref string) ([]byte, error) {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	data, ok := st.files[ref]
	if !ok {
		return nil, core.ErrFileNotFound
	}
	return data, nil
}
