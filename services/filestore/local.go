package filestore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
)

// localStore keeps files on disk under the configured upload directory.
// References are content hashes plus the original extension, so duplicate
// uploads collapse to one file.
type localStore struct {
	dir string
}

var _ core.FileStore = (*localStore)(nil)

func NewLocalStore(conf *core.Config) (*localStore, error) {
	dir := conf.UploadDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating upload dir %s", dir)
	}
	return &localStore{dir: dir}, nil
}

func (st *localStore) Store(_ context.Context, name string, data []byte) (string, error) {
	ref := core.Hash(data)[:32] + filepath.Ext(name)
	if err := os.WriteFile(filepath.Join(st.dir, ref), data, 0o644); err != nil {
		return "", errors.Wrapf(err, "storing file %s", name)
	}
	return ref, nil
}

func (st *localStore) Open(_ context.Context, ref string) ([]byte, error) {
	// refs are hashes; reject anything that could escape the dir
	if ref != filepath.Base(ref) {
		return nil, core.ErrFileNotFound
	}
	data, err := os.ReadFile(filepath.Join(st.dir, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrFileNotFound
		}
		return nil, errors.Wrapf(err, "opening file %s", ref)
	}
	return data, nil
}
