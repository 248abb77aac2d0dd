package container

import (
	"os"
	"path/filepath"
	"time"

	"github.com/absfs/absfs"
)

// osFS is a minimal absfs.FileSystem rooted at a directory on the host
// filesystem. Paths are confined under the root.
type osFS struct {
	root string
}

// NewOSFS returns an absfs.FileSystem backed by the host filesystem, rooted
// at dir. The directory is created if missing.
func NewOSFS(dir string) (absfs.FileSystem, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &osFS{root: dir}, nil
}

func (fs *osFS) path(name string) string {
	return filepath.Join(fs.root, filepath.FromSlash(name))
}

func (fs *osFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return os.OpenFile(fs.path(name), flag, perm)
}

func (fs *osFS) Open(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *osFS) Create(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
}

func (fs *osFS) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(fs.path(name), perm)
}

func (fs *osFS) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(fs.path(name), perm)
}

func (fs *osFS) Remove(name string) error {
	return os.Remove(fs.path(name))
}

func (fs *osFS) RemoveAll(path string) error {
	return os.RemoveAll(fs.path(path))
}

func (fs *osFS) Rename(oldpath, newpath string) error {
	return os.Rename(fs.path(oldpath), fs.path(newpath))
}

func (fs *osFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(fs.path(name))
}

func (fs *osFS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(fs.path(name), mode)
}

func (fs *osFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(fs.path(name), atime, mtime)
}

func (fs *osFS) Chown(name string, uid, gid int) error {
	return os.Chown(fs.path(name), uid, gid)
}

func (fs *osFS) Truncate(name string, size int64) error {
	return os.Truncate(fs.path(name), size)
}

func (fs *osFS) Separator() uint8 {
	return os.PathSeparator
}

func (fs *osFS) ListSeparator() uint8 {
	return os.PathListSeparator
}

func (fs *osFS) Chdir(dir string) error {
	return nil
}

func (fs *osFS) Getwd() (string, error) {
	return fs.root, nil
}

func (fs *osFS) TempDir() string {
	return os.TempDir()
}
