package vfs

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// splitPath breaks path into its non-empty, non-"." components, each still
// possibly being "..".
func splitPath(path string) []string {
	var out []string
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		out = append(out, part)
	}
	return out
}

// resolveStart picks the node a path walk begins from and the component
// list to walk: an absolute path starts at the longest-prefix-matching
// mount's root with the mountpoint's own components stripped off; a
// relative path starts at the current working directory.
func resolveStart(path string) (*Node, []string, error) {
	if strings.HasPrefix(path, "/") {
		m, ok := findMount(path)
		if !ok {
			return nil, nil, errnoErr("vfs.resolve "+path, unix.ENOENT)
		}
		full := splitPath(path)
		skip := len(splitPath(m.point))
		if skip > len(full) {
			skip = len(full)
		}
		return m.sb.Root, full[skip:], nil
	}

	cwdLock.Acquire()
	start := cwd
	cwdLock.Release()
	if start == nil {
		return nil, nil, errnoErr("vfs.resolve "+path, unix.ENOENT)
	}
	return start, splitPath(path), nil
}

// Resolve walks path to the node it names. The returned node must be
// released with Release once the caller is done with it, unless it is the
// same pointer as the walk's origin (root or CWD), which the caller does
// not own. Per spec.md §4.6/§9's chosen ownership rule, every intermediate
// node visited along the way is released by the resolver itself as soon as
// the next component has been looked up; only the final node survives.
func Resolve(path string) (*Node, error) {
	origin, components, err := resolveStart(path)
	if err != nil {
		return nil, err
	}

	cur := origin
	curIsOrigin := true
	for _, comp := range components {
		if comp == ".." {
			parent := cur.Parent
			if parent == nil {
				// Never cross a mount root upward; "/" and a
				// filesystem's own root stay put.
				continue
			}
			releaseIfOwned(cur, curIsOrigin)
			cur = parent
			curIsOrigin = false
			continue
		}

		if !cur.Mode.IsDir() {
			releaseIfOwned(cur, curIsOrigin)
			return nil, errnoErr("vfs.resolve "+path, unix.ENOTDIR)
		}

		next, err := cur.ops.Lookup(cur, comp)
		releaseIfOwned(cur, curIsOrigin)
		if err != nil {
			return nil, errors.Wrap(err, "vfs.resolve "+path)
		}
		cur = next
		curIsOrigin = false
	}

	return cur, nil
}

// releaseIfOwned frees n unless it is the walk's externally-owned origin.
func releaseIfOwned(n *Node, isOrigin bool) {
	if !isOrigin {
		Release(n)
	}
}

// Release discards a node obtained from Resolve/Lookup that the caller is
// done with. Nodes are plain heap values with no separate arena in this
// design, so Release is currently a no-op placed here so callers have a
// single, correct symbol to call — see spec.md §9 on the open question of
// node lifetime vs. open-file references.
func Release(n *Node) {}

// splitDirBase splits path into its parent directory path and final
// component, for operations (create/mkdir/unlink/rmdir) that must resolve
// the directory and then act on a name within it.
func splitDirBase(path string) (dir, base string, err error) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return "", "", errnoErr("vfs.splitDirBase "+path, unix.EINVAL)
	}
	base = comps[len(comps)-1]
	if base == ".." {
		return "", "", errnoErr("vfs.splitDirBase "+path, unix.EINVAL)
	}

	if strings.HasPrefix(path, "/") {
		dir = "/" + strings.Join(comps[:len(comps)-1], "/")
		return dir, base, nil
	}

	if len(comps) == 1 {
		return ".", base, nil
	}
	dir = strings.Join(comps[:len(comps)-1], "/")
	return dir, base, nil
}
