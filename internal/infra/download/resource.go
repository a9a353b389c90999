package download

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
)

// FileResource is a prepared audio file on local disk.
type FileResource struct {
	path string
	once sync.Once
	err  error
}

// NewFileResource wraps an existing file.
func NewFileResource(path string) *FileResource {
	return &FileResource{path: path}
}

// Source returns the file path.
func (r *FileResource) Source() string {
	return r.path
}

// Release deletes the file. Only the first call does any work.
func (r *FileResource) Release() error {
	r.once.Do(func() {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			r.err = errors.Wrapf(err, "failed to remove %s", r.path)
		}
	})
	return r.err
}
