// Package vfs implements ardentos's virtual filesystem layer: filesystem
// registration, the mount table, the fixed-size file-descriptor table and
// the public open/close/read/write/stat/readdir/mkdir/rmdir/unlink
// operations that the syscall gate and the shell both call into.
//
// The VFS runs only after the heap is alive, so unlike kernel.Error (whose
// own doc comment explains it exists because no allocator is available
// during boot) errors here are ordinary Go errors: golang.org/x/sys/unix
// supplies the errno values the rest of the kernel's Non-goals/§7 error
// taxonomy names (-ENOENT, -ENOTDIR, -EISDIR, -EACCES, -EEXIST), wrapped
// with github.com/pkg/errors so a diagnostic can carry both the errno and
// the operation that produced it.
package vfs

import (
	"ardentos/kernel/sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mode carries both the node's type bit(s) and its permission bits, mirroring
// spec.md §3's "mode (type + permission bits)".
type Mode uint32

// ModeDir marks a node as a directory; absence means a regular file. Only
// one type bit is defined since this VFS never models symlinks/devices.
const ModeDir Mode = 1 << 31

// IsDir reports whether m carries the directory type bit.
func (m Mode) IsDir() bool { return m&ModeDir != 0 }

// Perm returns the permission bits of m (the low 9 bits).
func (m Mode) Perm() Mode { return m & 0777 }

// Open flags, numbered exactly as spec.md §6 "VFS flags" requires so the
// syscall gate can pass them through unchanged.
const (
	RDONLY    = 0
	WRONLY    = 1
	RDWR      = 2
	ACCMODE   = 3
	CREAT     = 0x40
	EXCL      = 0x80
	TRUNC     = 0x200
	APPEND    = 0x400
	DIRECTORY = 0x10000
)

// Seek whence values, per spec.md §6.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Dirent type tags, per spec.md §6.
const (
	DTFile = 1
	DTDir  = 2
)

// Dirent is one decoded directory entry returned by Readdir.
type Dirent struct {
	Ino    uint64
	Off    int64
	Reclen uint16
	Type   uint8
	Name   string
}

// Ops is the capability set a filesystem implementation exposes per node,
// replacing the teacher-generation's separate fops/iops function-pointer
// vtables (spec.md §9's vtable redesign note) with a single interface that
// every node of a given filesystem variant shares.
type Ops interface {
	// Lookup resolves name as a direct child of dir, which must be a
	// directory. Returns unix.ENOENT if no such entry exists.
	Lookup(dir *Node, name string) (*Node, error)

	// Create makes a new regular file named name inside dir and returns
	// its node. Returns unix.EEXIST if the name is already taken.
	Create(dir *Node, name string, mode Mode) (*Node, error)

	// Mkdir makes a new directory named name inside dir.
	Mkdir(dir *Node, name string, mode Mode) (*Node, error)

	// Unlink removes the non-directory entry named name from dir.
	Unlink(dir *Node, name string) error

	// Rmdir removes the empty directory entry named name from dir.
	Rmdir(dir *Node, name string) error

	// Read fills buf starting at offset bytes into n's content, returning
	// the number of bytes actually transferred.
	Read(n *Node, offset int64, buf []byte) (int, error)

	// Write stores buf starting at offset bytes into n's content,
	// returning the number of bytes actually transferred and growing n's
	// reported size if the write extends past it.
	Write(n *Node, offset int64, buf []byte) (int, error)

	// Readdir decodes up to count entries starting at the raw-slot offset
	// off, returning the entries found and the offset the next call
	// should resume at.
	Readdir(n *Node, off int64, count int) ([]Dirent, int64, error)
}

// Node is a VFS inode: one open-able file or directory. Nodes returned by
// Lookup are heap-allocated per call; per spec.md §3 the path resolver owns
// every intermediate node it walks through and must release them, handing
// only the final node back to its caller.
type Node struct {
	Name   string
	Size   uint64
	Mode   Mode
	Nlink  uint32
	Parent *Node

	sb  *Superblock
	ops Ops

	// Private is the filesystem's own per-node datum (e.g. FAT32's
	// {first_cluster, parent_dir_cluster, dir_entry_offset}).
	Private interface{}
}

// NewNode constructs a Node bound to ops, for use by filesystem drivers
// outside this package (which cannot set the unexported ops field
// directly). parent may be nil for a filesystem root.
func NewNode(name string, mode Mode, parent *Node, private interface{}, ops Ops) *Node {
	return &Node{Name: name, Mode: mode, Parent: parent, ops: ops, Private: private}
}

// Superblock is the in-memory representation of one mounted filesystem.
type Superblock struct {
	FSType      string
	BlockSize   uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	Root        *Node
	Private     interface{}
}

// FilesystemType is what a filesystem driver registers: a name plus the
// functions that turn a block device into a mounted/unmounted Superblock.
type FilesystemType struct {
	Name    string
	Mount   func(dev string, flags uint32) (*Superblock, error)
	Unmount func(sb *Superblock) error
}

type mountEntry struct {
	point string
	sb    *Superblock
}

// File is an open-file description: the VFS object an fd points at.
// Multiple fds may share one File via dup-style refcounting (not currently
// exposed to the syscall layer, but modeled here per spec.md §3/§8).
type File struct {
	Node     *Node
	Offset   int64
	Flags    uint32
	Mode     Mode
	RefCount int
}

const fdTableSize = 256

var (
	registryLock sync.Spinlock
	filesystems  = map[string]*FilesystemType{}

	mountLock sync.Spinlock
	mounts    []mountEntry

	fdLock sync.Spinlock
	fdTab  [fdTableSize]*File

	// cwd is the process-wide current working directory; ardentos has no
	// per-process model, so there is exactly one.
	cwdLock sync.Spinlock
	cwd     *Node
)

// errnoErr wraps errno with op for a diagnostic message while keeping errno
// itself recoverable via errors.Cause/Errno.
func errnoErr(op string, errno unix.Errno) error {
	return errors.Wrap(errno, op)
}

// Errno extracts the unix.Errno underlying err, if any. Returns (0, false)
// for a nil error or one that does not wrap an errno (e.g. a programming
// error from a misbehaving filesystem driver).
func Errno(err error) (unix.Errno, bool) {
	if err == nil {
		return 0, false
	}
	errno, ok := errors.Cause(err).(unix.Errno)
	return errno, ok
}

// Register adds fst to the filesystem-type registry. Registering a name
// that already exists is rejected with unix.EEXIST.
func Register(fst *FilesystemType) error {
	registryLock.Acquire()
	defer registryLock.Release()

	if _, exists := filesystems[fst.Name]; exists {
		return errnoErr("vfs.Register "+fst.Name, unix.EEXIST)
	}
	filesystems[fst.Name] = fst
	return nil
}

// Mount looks up fstype in the registry, mounts dev through it, and inserts
// the resulting superblock into the mount table at mountpoint. Mounting at
// "/" when no CWD is set also makes the new root the CWD.
func Mount(dev, mountpoint, fstype string, flags uint32) error {
	registryLock.Acquire()
	fst, ok := filesystems[fstype]
	registryLock.Release()
	if !ok {
		return errnoErr("vfs.Mount: unknown fstype "+fstype, unix.ENODEV)
	}

	sb, err := fst.Mount(dev, flags)
	if err != nil {
		return errors.Wrap(err, "vfs.Mount "+dev)
	}

	mountLock.Acquire()
	mounts = append(mounts, mountEntry{point: mountpoint, sb: sb})
	mountLock.Release()

	if mountpoint == "/" {
		cwdLock.Acquire()
		if cwd == nil {
			cwd = sb.Root
		}
		cwdLock.Release()
	}
	return nil
}

// Unmount removes the mount table entry backed by sb and calls its
// filesystem type's Unmount hook.
func Unmount(mountpoint string) error {
	mountLock.Acquire()
	idx := -1
	var sb *Superblock
	for i, m := range mounts {
		if m.point == mountpoint {
			idx, sb = i, m.sb
			break
		}
	}
	if idx >= 0 {
		mounts = append(mounts[:idx], mounts[idx+1:]...)
	}
	mountLock.Release()

	if sb == nil {
		return errnoErr("vfs.Unmount "+mountpoint, unix.EINVAL)
	}

	registryLock.Acquire()
	fst, ok := filesystems[sb.FSType]
	registryLock.Release()
	if ok && fst.Unmount != nil {
		return fst.Unmount(sb)
	}
	return nil
}

// findMount returns the mount entry whose mountpoint is the longest prefix
// of path, per spec.md §4.6's "longest-prefix match" rule.
func findMount(path string) (*mountEntry, bool) {
	mountLock.Acquire()
	defer mountLock.Release()

	best := -1
	bestLen := -1
	for i, m := range mounts {
		if len(m.point) > bestLen && hasPrefixComponent(path, m.point) {
			best, bestLen = i, len(m.point)
		}
	}
	if best < 0 {
		return nil, false
	}
	return &mounts[best], true
}

// hasPrefixComponent reports whether mountpoint is a path-component prefix
// of path (so "/ho" does not match "/home").
func hasPrefixComponent(path, mountpoint string) bool {
	if mountpoint == "/" {
		return true
	}
	if len(path) < len(mountpoint) {
		return false
	}
	if path[:len(mountpoint)] != mountpoint {
		return false
	}
	return len(path) == len(mountpoint) || path[len(mountpoint)] == '/'
}

// allocFd installs f in the first free fd slot and increments its refcount.
func allocFd(f *File) (int, error) {
	fdLock.Acquire()
	defer fdLock.Release()

	for i := range fdTab {
		if fdTab[i] == nil {
			fdTab[i] = f
			f.RefCount++
			return i, nil
		}
	}
	return -1, errnoErr("vfs.allocFd", unix.EMFILE)
}

// lookupFd returns the File installed at fd, if any.
func lookupFd(fd int) (*File, error) {
	if fd < 0 || fd >= fdTableSize {
		return nil, errnoErr("vfs.lookupFd", unix.EBADF)
	}
	fdLock.Acquire()
	f := fdTab[fd]
	fdLock.Release()
	if f == nil {
		return nil, errnoErr("vfs.lookupFd", unix.EBADF)
	}
	return f, nil
}

// freeFd decrements the refcount of the File installed at fd and, once it
// reaches zero, clears the slot.
func freeFd(fd int) (*File, error) {
	fdLock.Acquire()
	defer fdLock.Release()

	if fd < 0 || fd >= fdTableSize || fdTab[fd] == nil {
		return nil, errnoErr("vfs.freeFd", unix.EBADF)
	}
	f := fdTab[fd]
	f.RefCount--
	if f.RefCount <= 0 {
		fdTab[fd] = nil
	}
	return f, nil
}
