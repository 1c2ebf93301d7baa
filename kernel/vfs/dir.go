package vfs

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mkdir splits path into its parent directory and final component, resolves
// the parent, and dispatches to its Mkdir operation.
func Mkdir(path string, mode Mode) error {
	dirPath, base, err := splitDirBase(path)
	if err != nil {
		return err
	}
	dir, err := Resolve(dirPath)
	if err != nil {
		return errors.Wrap(err, "vfs.Mkdir "+path)
	}
	defer Release(dir)

	if !dir.Mode.IsDir() {
		return errnoErr("vfs.Mkdir "+path, unix.ENOTDIR)
	}

	_, err = dir.ops.Mkdir(dir, base, mode|ModeDir)
	if err != nil {
		return errors.Wrap(err, "vfs.Mkdir "+path)
	}
	return nil
}

// Rmdir splits path into its parent directory and final component, resolves
// the parent, and dispatches to its Rmdir operation.
func Rmdir(path string) error {
	dirPath, base, err := splitDirBase(path)
	if err != nil {
		return err
	}
	dir, err := Resolve(dirPath)
	if err != nil {
		return errors.Wrap(err, "vfs.Rmdir "+path)
	}
	defer Release(dir)

	if err := dir.ops.Rmdir(dir, base); err != nil {
		return errors.Wrap(err, "vfs.Rmdir "+path)
	}
	return nil
}

// Unlink splits path into its parent directory and final component, resolves
// the parent, and dispatches to its Unlink operation.
func Unlink(path string) error {
	dirPath, base, err := splitDirBase(path)
	if err != nil {
		return err
	}
	dir, err := Resolve(dirPath)
	if err != nil {
		return errors.Wrap(err, "vfs.Unlink "+path)
	}
	defer Release(dir)

	if err := dir.ops.Unlink(dir, base); err != nil {
		return errors.Wrap(err, "vfs.Unlink "+path)
	}
	return nil
}

// Readdir streams up to count decoded directory entries from fd, starting
// at its current offset, and advances the offset by the filesystem-defined
// entry stride consumed.
func Readdir(fd int, count int) ([]Dirent, error) {
	f, err := lookupFd(fd)
	if err != nil {
		return nil, err
	}
	if !f.Node.Mode.IsDir() {
		return nil, errnoErr("vfs.Readdir", unix.ENOTDIR)
	}

	entries, next, rerr := f.Node.ops.Readdir(f.Node, f.Offset, count)
	f.Offset = next
	if rerr != nil {
		return entries, errors.Wrap(rerr, "vfs.Readdir")
	}
	return entries, nil
}
