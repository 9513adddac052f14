package snapshot

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileBackend keeps each snapshot in a text file, <dir>/<key name>.txt,
// appending one blob per write.
type FileBackend struct {
	dir string
}

var _ Backend = &FileBackend{}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path returns the file that holds the given snapshot.
func (b *FileBackend) Path(key Key) string {
	return filepath.Join(b.dir, key.Name()+".txt")
}

func (b *FileBackend) Append(_ context.Context, key Key, blob []byte) (string, error) {
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return "", errors.Wrapf(err, "creating %#q", b.dir)
	}

	path := b.Path(key)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", errors.Wrapf(err, "opening %#q", path)
	}

	if _, err := f.Write(blob); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "appending to %#q", path)
	}

	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "closing %#q", path)
	}

	return path, nil
}

func (b *FileBackend) Read(_ context.Context, key Key) ([]byte, error) {
	path := b.Path(key)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "no file %#q", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %#q", path)
	}

	return data, nil
}
