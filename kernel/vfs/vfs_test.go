package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// memDir/memFile back a tiny in-memory filesystem used to exercise the VFS
// public API without a real FAT32 block device underneath it.
type memDir struct {
	children map[string]*Node
}

type memFile struct {
	data []byte
}

type memOps struct{}

func (memOps) Lookup(dir *Node, name string) (*Node, error) {
	md := dir.Private.(*memDir)
	n, ok := md.children[name]
	if !ok {
		return nil, errnoErr("memfs.Lookup", unix.ENOENT)
	}
	return n, nil
}

func (memOps) Create(dir *Node, name string, mode Mode) (*Node, error) {
	md := dir.Private.(*memDir)
	if _, exists := md.children[name]; exists {
		return nil, errnoErr("memfs.Create", unix.EEXIST)
	}
	n := &Node{Name: name, Mode: mode, Parent: dir, ops: memOps{}, Private: &memFile{}}
	md.children[name] = n
	return n, nil
}

func (memOps) Mkdir(dir *Node, name string, mode Mode) (*Node, error) {
	md := dir.Private.(*memDir)
	if _, exists := md.children[name]; exists {
		return nil, errnoErr("memfs.Mkdir", unix.EEXIST)
	}
	n := &Node{Name: name, Mode: mode | ModeDir, Parent: dir, ops: memOps{}, Private: &memDir{children: map[string]*Node{}}}
	md.children[name] = n
	return n, nil
}

func (memOps) Unlink(dir *Node, name string) error {
	md := dir.Private.(*memDir)
	n, ok := md.children[name]
	if !ok {
		return errnoErr("memfs.Unlink", unix.ENOENT)
	}
	if n.Mode.IsDir() {
		return errnoErr("memfs.Unlink", unix.EISDIR)
	}
	delete(md.children, name)
	return nil
}

func (memOps) Rmdir(dir *Node, name string) error {
	md := dir.Private.(*memDir)
	n, ok := md.children[name]
	if !ok {
		return errnoErr("memfs.Rmdir", unix.ENOENT)
	}
	if !n.Mode.IsDir() {
		return errnoErr("memfs.Rmdir", unix.ENOTDIR)
	}
	if len(n.Private.(*memDir).children) != 0 {
		return errnoErr("memfs.Rmdir", unix.ENOTEMPTY)
	}
	delete(md.children, name)
	return nil
}

func (memOps) Read(n *Node, offset int64, buf []byte) (int, error) {
	mf := n.Private.(*memFile)
	if offset >= int64(len(mf.data)) {
		return 0, nil
	}
	c := copy(buf, mf.data[offset:])
	return c, nil
}

func (memOps) Write(n *Node, offset int64, buf []byte) (int, error) {
	mf := n.Private.(*memFile)
	end := offset + int64(len(buf))
	if end > int64(len(mf.data)) {
		grown := make([]byte, end)
		copy(grown, mf.data)
		mf.data = grown
	}
	copy(mf.data[offset:end], buf)
	if uint64(end) > n.Size {
		n.Size = uint64(end)
	}
	return len(buf), nil
}

func (memOps) Readdir(n *Node, off int64, count int) ([]Dirent, int64, error) {
	md := n.Private.(*memDir)
	names := make([]string, 0, len(md.children))
	for name := range md.children {
		names = append(names, name)
	}
	// Deterministic ordering for the test: sort is overkill for a handful
	// of fixture entries, so a simple insertion sort keeps this dependency
	// -free.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}

	start := int(off)
	if start > len(names) {
		start = len(names)
	}
	end := start + count
	if end > len(names) {
		end = len(names)
	}

	var out []Dirent
	for i := start; i < end; i++ {
		child := md.children[names[i]]
		typ := uint8(DTFile)
		if child.Mode.IsDir() {
			typ = DTDir
		}
		out = append(out, Dirent{Name: names[i], Type: typ})
	}
	return out, int64(end), nil
}

func mountMemfs(t *testing.T) {
	t.Helper()
	resetVFS()

	require.Nil(t, Register(&FilesystemType{
		Name: "memfs",
		Mount: func(dev string, flags uint32) (*Superblock, error) {
			root := &Node{Name: "", Mode: ModeDir | 0755, ops: memOps{}, Private: &memDir{children: map[string]*Node{}}}
			sb := &Superblock{FSType: "memfs", Root: root}
			root.sb = sb
			return sb, nil
		},
	}))
	require.Nil(t, Mount("mem0", "/", "memfs", 0))
}

func resetVFS() {
	registryLock.Acquire()
	filesystems = map[string]*FilesystemType{}
	registryLock.Release()

	mountLock.Acquire()
	mounts = nil
	mountLock.Release()

	fdLock.Acquire()
	fdTab = [fdTableSize]*File{}
	fdLock.Release()

	cwdLock.Acquire()
	cwd = nil
	cwdLock.Release()
}

func TestMountSetsCWDToRoot(t *testing.T) {
	mountMemfs(t)
	node, err := Resolve(".")
	require.Nil(t, err)
	require.True(t, node.Mode.IsDir())
}

func TestCreateWriteCloseReadBack(t *testing.T) {
	mountMemfs(t)

	fd, err := Open("/a.txt", CREAT|WRONLY, 0644)
	require.Nil(t, err)
	n, err := Write(fd, []byte("abc"))
	require.Nil(t, err)
	require.Equal(t, 3, n)
	require.Nil(t, Close(fd))

	st, err := StatPath("/a.txt")
	require.Nil(t, err)
	require.Equal(t, uint64(3), st.Size)

	fd2, err := Open("/a.txt", RDONLY, 0)
	require.Nil(t, err)
	buf := make([]byte, 3)
	n, err = Read(fd2, buf)
	require.Nil(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "abc", string(buf))
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	mountMemfs(t)
	_, err := Open("/missing.txt", RDONLY, 0)
	require.NotNil(t, err)
	errno, ok := Errno(err)
	require.True(t, ok)
	require.Equal(t, unix.ENOENT, errno)
}

func TestOpenCreatExclOnExistingFails(t *testing.T) {
	mountMemfs(t)
	fd, err := Open("/a.txt", CREAT|WRONLY, 0644)
	require.Nil(t, err)
	require.Nil(t, Close(fd))

	_, err = Open("/a.txt", CREAT|EXCL|WRONLY, 0644)
	require.NotNil(t, err)
	errno, ok := Errno(err)
	require.True(t, ok)
	require.Equal(t, unix.EEXIST, errno)
}

func TestMkdirListRmdir(t *testing.T) {
	mountMemfs(t)

	require.Nil(t, Mkdir("/d", 0755))

	fd, err := Open("/", DIRECTORY, 0)
	require.Nil(t, err)
	entries, err := Readdir(fd, 10)
	require.Nil(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "d", entries[0].Name)
	require.EqualValues(t, DTDir, entries[0].Type)
	require.Nil(t, Close(fd))

	require.Nil(t, Rmdir("/d"))
	require.NotNil(t, Rmdir("/d"), "a second rmdir of the same path must fail")
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	mountMemfs(t)

	require.Nil(t, Mkdir("/d", 0755))
	fd, err := Open("/d/x", CREAT|WRONLY, 0644)
	require.Nil(t, err)
	require.Nil(t, Close(fd))

	require.NotNil(t, Rmdir("/d"))
	require.Nil(t, Unlink("/d/x"))
	require.Nil(t, Rmdir("/d"))
}

func TestDotDotWalksToParentAndRoot(t *testing.T) {
	mountMemfs(t)

	require.Nil(t, Mkdir("/home", 0755))
	require.Nil(t, Mkdir("/home/user", 0755))

	root, err := Resolve("/home/user/../..")
	require.Nil(t, err)
	rootRef, _ := Resolve("/")
	require.Equal(t, rootRef.Private, root.Private)
}

func TestOpenDirectoryForWriteFails(t *testing.T) {
	mountMemfs(t)
	require.Nil(t, Mkdir("/d", 0755))

	_, err := Open("/d", WRONLY, 0)
	require.NotNil(t, err)
	errno, ok := Errno(err)
	require.True(t, ok)
	require.Equal(t, unix.EISDIR, errno)
}

func TestLseekRejectsNegativeResult(t *testing.T) {
	mountMemfs(t)
	fd, err := Open("/a.txt", CREAT|WRONLY, 0644)
	require.Nil(t, err)
	defer Close(fd)

	_, err = Lseek(fd, -1, SeekSet)
	require.NotNil(t, err)
}
