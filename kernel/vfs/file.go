package vfs

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Stat is a shallow snapshot of a node's attributes, per spec.md §4.6's
// "stat/fstat shallow-copy attributes" contract.
type Stat struct {
	Name  string
	Size  uint64
	Mode  Mode
	Nlink uint32
}

func statOf(n *Node) Stat {
	return Stat{Name: n.Name, Size: n.Size, Mode: n.Mode, Nlink: n.Nlink}
}

// accessAllowed reports whether the requested {read, write} bits are present
// in node's mode. This is the placeholder single-user policy spec.md §4.6
// calls out, deferred to §9 for anything richer.
func accessAllowed(mode Mode, flags uint32) bool {
	switch flags & ACCMODE {
	case RDONLY:
		return mode.Perm()&0400 != 0
	case WRONLY:
		return mode.Perm()&0200 != 0
	case RDWR:
		return mode.Perm()&0600 == 0600
	default:
		return false
	}
}

// Open resolves path (creating it first if missing and CREAT is set) and
// installs a new File in the fd table, returning its descriptor.
func Open(path string, flags uint32, mode Mode) (int, error) {
	node, err := Resolve(path)
	if err != nil {
		if errno, ok := Errno(err); !ok || errno != unix.ENOENT || flags&CREAT == 0 {
			return -1, err
		}

		dirPath, base, splitErr := splitDirBase(path)
		if splitErr != nil {
			return -1, splitErr
		}
		dir, dirErr := Resolve(dirPath)
		if dirErr != nil {
			return -1, errors.Wrap(dirErr, "vfs.Open "+path)
		}
		created, createErr := dir.ops.Create(dir, base, mode)
		Release(dir)
		if createErr != nil {
			return -1, errors.Wrap(createErr, "vfs.Open "+path)
		}
		node = created
	} else if flags&(CREAT|EXCL) == CREAT|EXCL {
		return -1, errnoErr("vfs.Open "+path, unix.EEXIST)
	}

	if flags&DIRECTORY != 0 && !node.Mode.IsDir() {
		return -1, errnoErr("vfs.Open "+path, unix.ENOTDIR)
	}
	if node.Mode.IsDir() && flags&ACCMODE != RDONLY {
		return -1, errnoErr("vfs.Open "+path, unix.EISDIR)
	}
	if !accessAllowed(node.Mode, flags) {
		return -1, errnoErr("vfs.Open "+path, unix.EACCES)
	}

	f := &File{Node: node, Flags: flags, Mode: mode}
	if flags&APPEND != 0 {
		f.Offset = int64(node.Size)
	}

	fd, err := allocFd(f)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// Close releases fd's File; once its refcount drops to zero the underlying
// node is released too.
func Close(fd int) error {
	f, err := freeFd(fd)
	if err != nil {
		return err
	}
	if f.RefCount <= 0 {
		Release(f.Node)
	}
	return nil
}

// Read transfers up to len(buf) bytes from fd's current offset, advancing
// it by the amount actually transferred.
func Read(fd int, buf []byte) (int, error) {
	f, err := lookupFd(fd)
	if err != nil {
		return -1, err
	}
	if f.Node.Mode.IsDir() {
		return -1, errnoErr("vfs.Read", unix.EISDIR)
	}

	n, rerr := f.Node.ops.Read(f.Node, f.Offset, buf)
	f.Offset += int64(n)
	if rerr != nil {
		return n, errors.Wrap(rerr, "vfs.Read")
	}
	return n, nil
}

// Write transfers len(buf) bytes to fd's node starting at its current
// offset (or the node's size first, if the fd was opened with APPEND),
// advancing the offset by the amount actually transferred.
func Write(fd int, buf []byte) (int, error) {
	f, err := lookupFd(fd)
	if err != nil {
		return -1, err
	}
	if f.Node.Mode.IsDir() {
		return -1, errnoErr("vfs.Write", unix.EISDIR)
	}

	if f.Flags&APPEND != 0 {
		f.Offset = int64(f.Node.Size)
	}

	n, werr := f.Node.ops.Write(f.Node, f.Offset, buf)
	f.Offset += int64(n)
	if werr != nil {
		return n, errors.Wrap(werr, "vfs.Write")
	}
	return n, nil
}

// Lseek repositions fd's offset per whence (SeekSet/SeekCur/SeekEnd),
// rejecting any request that would produce a negative offset.
func Lseek(fd int, offset int64, whence int) (int64, error) {
	f, err := lookupFd(fd)
	if err != nil {
		return -1, err
	}

	var newOffset int64
	switch whence {
	case SeekSet:
		newOffset = offset
	case SeekCur:
		newOffset = f.Offset + offset
	case SeekEnd:
		newOffset = int64(f.Node.Size) + offset
	default:
		return -1, errnoErr("vfs.Lseek", unix.EINVAL)
	}
	if newOffset < 0 {
		return -1, errnoErr("vfs.Lseek", unix.EINVAL)
	}

	f.Offset = newOffset
	return newOffset, nil
}

// StatPath resolves path and returns a shallow attribute snapshot.
func StatPath(path string) (Stat, error) {
	node, err := Resolve(path)
	if err != nil {
		return Stat{}, err
	}
	s := statOf(node)
	Release(node)
	return s, nil
}

// Fstat returns a shallow attribute snapshot of fd's node.
func Fstat(fd int) (Stat, error) {
	f, err := lookupFd(fd)
	if err != nil {
		return Stat{}, err
	}
	return statOf(f.Node), nil
}
