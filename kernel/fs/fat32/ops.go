package fat32

import (
	"ardentos/kernel/vfs"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// fatOps implements vfs.Ops for every node of one mounted FS. All nodes
// produced by a given mount share the same fatOps instance.
type fatOps struct {
	fs *FS
}

func datumOf(n *vfs.Node) *nodeDatum { return n.Private.(*nodeDatum) }

// entryScanResult is what walkDirEntries reports about one usable slot.
type entryScanResult struct {
	cluster uint32 // cluster the slot's bytes live in
	offset  uint32 // byte offset within that cluster
	name    string
	entry   rawDirent
}

// walkDirEntries calls visit for every usable (non-free, non-end, non-LFN,
// non-volume-label) entry in dir's chain, stopping at the first 0x00 name
// byte regardless of remaining cluster capacity (spec.md §4.7/§8). visit
// returns true to stop the walk early. It also reports, via freeSlot, the
// first reusable (0xE5) slot seen, and whether the chain ran out without
// hitting a 0x00 (meaning a new cluster must be appended to insert further).
func (o *fatOps) walkDirEntries(startCluster uint32, visit func(entryScanResult) (stop bool, err error)) (freeSlot *entryScanResult, exhausted bool, err error) {
	cluster := startCluster
	for cluster >= 2 && cluster <= o.fs.totalClusters+1 {
		buf, rerr := o.fs.readCluster(cluster)
		if rerr != nil {
			return freeSlot, false, rerr
		}

		for off := uint32(0); off+dirEntrySize <= o.fs.clusterSize; off += dirEntrySize {
			d := decodeDirent(buf, off)
			if d.shortName[0] == direntEnd {
				return freeSlot, false, nil
			}
			if d.shortName[0] == direntFree {
				if freeSlot == nil {
					freeSlot = &entryScanResult{cluster: cluster, offset: off}
				}
				continue
			}
			if d.attr&attrLongName == attrLongName || d.attr&attrVolumeID != 0 {
				continue
			}

			res := entryScanResult{cluster: cluster, offset: off, name: nameFrom83(d.shortName), entry: d}
			stop, verr := visit(res)
			if verr != nil {
				return freeSlot, false, verr
			}
			if stop {
				return freeSlot, false, nil
			}
		}

		next, nerr := o.fs.next(cluster)
		if nerr != nil {
			return freeSlot, false, nerr
		}
		if next >= endOfChainFloor {
			return freeSlot, true, nil
		}
		cluster = next
	}
	return freeSlot, true, nil
}

func (o *fatOps) makeNode(name string, res entryScanResult, parent *vfs.Node) *vfs.Node {
	mode := vfs.Mode(fileMode)
	if res.entry.attr&attrDirectory != 0 {
		mode = rootModeDir
	}
	return vfs.NewNode(name, mode, parent, &nodeDatum{
		firstCluster:   res.entry.cluster,
		parentDirClus:  res.cluster,
		dirEntryOffset: res.offset,
	}, o)
}

// Lookup implements vfs.Ops.
func (o *fatOps) Lookup(dir *vfs.Node, name string) (*vfs.Node, error) {
	var found *vfs.Node
	_, _, err := o.walkDirEntries(datumOf(dir).firstCluster, func(res entryScanResult) (bool, error) {
		if res.name == name {
			found = o.makeNode(name, res, dir)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "fat32.Lookup")
	}
	if found == nil {
		return nil, errors.Wrap(unix.ENOENT, "fat32.Lookup "+name)
	}
	return found, nil
}

// createEntry finds where to insert a new entry named name under dir
// (rejecting a collision), allocates a data cluster for it, writes the
// 32-byte record, and returns the node.
func (o *fatOps) createEntry(dir *vfs.Node, name string, mode vfs.Mode) (*vfs.Node, error) {
	shortName, err := nameTo83(name)
	if err != nil {
		return nil, err
	}

	dirDatum := datumOf(dir)
	var collision bool
	freeSlot, exhausted, err := o.walkDirEntries(dirDatum.firstCluster, func(res entryScanResult) (bool, error) {
		if res.name == name {
			collision = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "fat32.Create")
	}
	if collision {
		return nil, errors.Wrap(unix.EEXIST, "fat32.Create "+name)
	}

	dataCluster, err := o.fs.allocCluster()
	if err != nil {
		return nil, errors.Wrap(err, "fat32.Create")
	}
	if dataCluster == 0 {
		return nil, errors.Wrap(unix.ENOSPC, "fat32.Create: no free clusters")
	}
	if mode.IsDir() {
		if err := o.zeroCluster(dataCluster); err != nil {
			return nil, err
		}
	}

	attr := byte(0)
	if mode.IsDir() {
		attr = attrDirectory
	}
	newEntry := rawDirent{shortName: shortName, attr: attr, cluster: dataCluster}

	var targetCluster, targetOffset uint32
	if freeSlot != nil {
		targetCluster, targetOffset = freeSlot.cluster, freeSlot.offset
	} else if !exhausted {
		// walkDirEntries stopped at a genuine 0x00 terminator with no
		// free slot seen before it; that slot itself is free to use.
		targetCluster, targetOffset = o.lastScannedTerminator(dirDatum.firstCluster)
	} else {
		newCluster, aerr := o.fs.appendCluster(o.lastClusterOf(dirDatum.firstCluster))
		if aerr != nil {
			return nil, aerr
		}
		if err := o.zeroCluster(newCluster); err != nil {
			return nil, err
		}
		targetCluster, targetOffset = newCluster, 0
	}

	newEntry.offset = targetOffset
	if err := o.writeEntry(targetCluster, newEntry); err != nil {
		return nil, err
	}

	return vfs.NewNode(name, mode, dir, &nodeDatum{
		firstCluster:   dataCluster,
		parentDirClus:  targetCluster,
		dirEntryOffset: targetOffset,
	}, o), nil
}

// lastScannedTerminator re-finds the byte offset of the first 0x00 entry in
// the chain starting at startCluster. walkDirEntries already proved one
// exists without a preceding free slot, so this always succeeds.
func (o *fatOps) lastScannedTerminator(startCluster uint32) (uint32, uint32) {
	cluster := startCluster
	for cluster >= 2 {
		buf, err := o.fs.readCluster(cluster)
		if err != nil {
			return cluster, 0
		}
		for off := uint32(0); off+dirEntrySize <= o.fs.clusterSize; off += dirEntrySize {
			if buf[off] == direntEnd {
				return cluster, off
			}
		}
		next, err := o.fs.next(cluster)
		if err != nil || next >= endOfChainFloor {
			return cluster, 0
		}
		cluster = next
	}
	return startCluster, 0
}

func (o *fatOps) lastClusterOf(startCluster uint32) uint32 {
	cluster := startCluster
	for {
		next, err := o.fs.next(cluster)
		if err != nil || next >= endOfChainFloor {
			return cluster
		}
		cluster = next
	}
}

func (o *fatOps) zeroCluster(cluster uint32) error {
	return o.fs.writeCluster(cluster, make([]byte, o.fs.clusterSize))
}

func (o *fatOps) writeEntry(cluster uint32, d rawDirent) error {
	buf, err := o.fs.readCluster(cluster)
	if err != nil {
		return err
	}
	encodeDirent(buf, d)
	return o.fs.writeCluster(cluster, buf)
}

// Create implements vfs.Ops.
func (o *fatOps) Create(dir *vfs.Node, name string, mode vfs.Mode) (*vfs.Node, error) {
	return o.createEntry(dir, name, mode&^vfs.ModeDir)
}

// Mkdir implements vfs.Ops.
func (o *fatOps) Mkdir(dir *vfs.Node, name string, mode vfs.Mode) (*vfs.Node, error) {
	return o.createEntry(dir, name, mode|vfs.ModeDir)
}

// deleteEntry marks the directory entry identified by res as free (0xE5)
// and frees its cluster chain, if it has one.
func (o *fatOps) deleteEntry(res entryScanResult) error {
	if res.entry.cluster != 0 {
		if err := o.fs.freeChain(res.entry.cluster); err != nil {
			return errors.Wrap(err, "fat32: freeing cluster chain")
		}
	}

	buf, err := o.fs.readCluster(res.cluster)
	if err != nil {
		return err
	}
	buf[res.offset] = direntFree
	return o.fs.writeCluster(res.cluster, buf)
}

func (o *fatOps) findNamed(dirCluster uint32, name string) (entryScanResult, bool, error) {
	var found entryScanResult
	var ok bool
	_, _, err := o.walkDirEntries(dirCluster, func(res entryScanResult) (bool, error) {
		if res.name == name {
			found, ok = res, true
			return true, nil
		}
		return false, nil
	})
	return found, ok, err
}

// Unlink implements vfs.Ops.
func (o *fatOps) Unlink(dir *vfs.Node, name string) error {
	res, ok, err := o.findNamed(datumOf(dir).firstCluster, name)
	if err != nil {
		return errors.Wrap(err, "fat32.Unlink")
	}
	if !ok {
		return errors.Wrap(unix.ENOENT, "fat32.Unlink "+name)
	}
	if res.entry.attr&attrDirectory != 0 {
		return errors.Wrap(unix.EISDIR, "fat32.Unlink "+name)
	}
	return o.deleteEntry(res)
}

// Rmdir implements vfs.Ops.
func (o *fatOps) Rmdir(dir *vfs.Node, name string) error {
	res, ok, err := o.findNamed(datumOf(dir).firstCluster, name)
	if err != nil {
		return errors.Wrap(err, "fat32.Rmdir")
	}
	if !ok {
		return errors.Wrap(unix.ENOENT, "fat32.Rmdir "+name)
	}
	if res.entry.attr&attrDirectory == 0 {
		return errors.Wrap(unix.ENOTDIR, "fat32.Rmdir "+name)
	}

	nonEmpty := false
	_, _, werr := o.walkDirEntries(res.entry.cluster, func(entryScanResult) (bool, error) {
		nonEmpty = true
		return true, nil
	})
	if werr != nil {
		return errors.Wrap(werr, "fat32.Rmdir")
	}
	if nonEmpty {
		return errors.Wrap(unix.ENOTEMPTY, "fat32.Rmdir "+name)
	}

	return o.deleteEntry(res)
}

// Read implements vfs.Ops, per spec.md §4.7's "read / write" algorithm.
func (o *fatOps) Read(n *vfs.Node, offset int64, buf []byte) (int, error) {
	datum := datumOf(n)
	if offset < 0 || uint64(offset) >= n.Size {
		return 0, nil
	}

	clusterSize := uint64(o.fs.clusterSize)
	clusterOffset := uint64(offset) / clusterSize
	byteOffset := uint64(offset) % clusterSize

	cluster := datum.firstCluster
	for i := uint64(0); i < clusterOffset; i++ {
		next, err := o.fs.next(cluster)
		if err != nil {
			return 0, err
		}
		if next >= endOfChainFloor {
			return 0, nil
		}
		cluster = next
	}

	total := 0
	remaining := buf
	maxRead := n.Size - uint64(offset)
	for len(remaining) > 0 && uint64(total) < maxRead && cluster >= 2 {
		clusterBuf, err := o.fs.readCluster(cluster)
		if err != nil {
			return total, err
		}

		avail := uint64(len(clusterBuf)) - byteOffset
		want := uint64(len(remaining))
		if want > avail {
			want = avail
		}
		if want > maxRead-uint64(total) {
			want = maxRead - uint64(total)
		}

		copy(remaining, clusterBuf[byteOffset:byteOffset+want])
		remaining = remaining[want:]
		total += int(want)
		byteOffset = 0

		next, err := o.fs.next(cluster)
		if err != nil {
			return total, err
		}
		if next >= endOfChainFloor {
			break
		}
		cluster = next
	}
	return total, nil
}

// Write implements vfs.Ops, per spec.md §4.7's "read / write" algorithm,
// extending the chain (and the node's first_cluster, if it was empty) as
// the write grows past the current allocation.
func (o *fatOps) Write(n *vfs.Node, offset int64, buf []byte) (int, error) {
	datum := datumOf(n)
	clusterSize := uint64(o.fs.clusterSize)

	if datum.firstCluster == 0 {
		c, err := o.fs.appendCluster(0)
		if err != nil {
			return 0, err
		}
		if err := o.zeroCluster(c); err != nil {
			return 0, err
		}
		datum.firstCluster = c
		if err := o.rewriteEntryCluster(n, c); err != nil {
			return 0, err
		}
	}

	clusterOffset := uint64(offset) / clusterSize
	byteOffset := uint64(offset) % clusterSize

	cluster := datum.firstCluster
	for i := uint64(0); i < clusterOffset; i++ {
		next, err := o.fs.next(cluster)
		if err != nil {
			return 0, err
		}
		if next >= endOfChainFloor {
			nc, aerr := o.fs.appendCluster(cluster)
			if aerr != nil {
				return 0, aerr
			}
			if err := o.zeroCluster(nc); err != nil {
				return 0, err
			}
			next = nc
		}
		cluster = next
	}

	total := 0
	remaining := buf
	for len(remaining) > 0 {
		clusterBuf, err := o.fs.readCluster(cluster)
		if err != nil {
			return total, err
		}

		avail := clusterSize - byteOffset
		want := uint64(len(remaining))
		if want > avail {
			want = avail
		}

		copy(clusterBuf[byteOffset:byteOffset+want], remaining[:want])
		if err := o.fs.writeCluster(cluster, clusterBuf); err != nil {
			return total, err
		}

		remaining = remaining[want:]
		total += int(want)
		byteOffset = 0

		if len(remaining) == 0 {
			break
		}

		next, err := o.fs.next(cluster)
		if err != nil {
			return total, err
		}
		if next >= endOfChainFloor {
			nc, aerr := o.fs.appendCluster(cluster)
			if aerr != nil {
				return total, aerr
			}
			if err := o.zeroCluster(nc); err != nil {
				return total, err
			}
			next = nc
		}
		cluster = next
	}

	if uint64(offset)+uint64(total) > n.Size {
		n.Size = uint64(offset) + uint64(total)
	}
	return total, nil
}

// rewriteEntryCluster patches n's own directory entry with its (now
// allocated) first cluster number, used when a zero-length file gets its
// first write.
func (o *fatOps) rewriteEntryCluster(n *vfs.Node, cluster uint32) error {
	datum := datumOf(n)
	buf, err := o.fs.readCluster(datum.parentDirClus)
	if err != nil {
		// The owning directory entry may live further down its own
		// chain than parentDirClus alone; locating the exact cluster
		// holding dirEntryOffset is out of scope for this path since
		// createEntry always writes the entry in the same cluster it
		// allocates the node in for freshly-created files.
		return errors.Wrap(err, "fat32.Write: locating owning directory entry")
	}
	d := decodeDirent(buf, datum.dirEntryOffset)
	d.cluster = cluster
	encodeDirent(buf, d)
	return o.fs.writeCluster(datum.parentDirClus, buf)
}

// Readdir implements vfs.Ops. off is a raw-slot index (as spec.md §4.7
// "Resumes at file.offset / 32 entries" implies, generalized here to a
// direct slot counter since the VFS layer tracks file.Offset in the same
// units this driver advances it by).
func (o *fatOps) Readdir(n *vfs.Node, off int64, count int) ([]vfs.Dirent, int64, error) {
	datum := datumOf(n)
	slotsPerCluster := o.fs.clusterSize / dirEntrySize

	if count <= 0 {
		return nil, off, nil
	}

	skip := off
	var out []vfs.Dirent
	consumed := int64(0)

	cluster := datum.firstCluster
	for cluster >= 2 && cluster <= o.fs.totalClusters+1 && len(out) < count {
		buf, err := o.fs.readCluster(cluster)
		if err != nil {
			return out, consumed, err
		}

		for slot := int64(0); slot < int64(slotsPerCluster); slot++ {
			entryOff := uint32(slot) * dirEntrySize
			d := decodeDirent(buf, entryOff)
			if d.shortName[0] == direntEnd {
				return out, consumed, nil
			}
			if len(out) >= count {
				return out, consumed, nil
			}

			globalSlot := consumed
			consumed++
			if globalSlot < skip {
				continue
			}
			if d.shortName[0] == direntFree || d.attr&attrLongName == attrLongName || d.attr&attrVolumeID != 0 {
				continue
			}

			typ := uint8(vfs.DTFile)
			if d.attr&attrDirectory != 0 {
				typ = vfs.DTDir
			}
			out = append(out, vfs.Dirent{
				Ino:    uint64(d.cluster),
				Off:    consumed,
				Reclen: dirEntrySize,
				Type:   typ,
				Name:   nameFrom83(d.shortName),
			})
		}

		next, err := o.fs.next(cluster)
		if err != nil {
			return out, consumed, err
		}
		if next >= endOfChainFloor {
			break
		}
		cluster = next
	}
	return out, consumed, nil
}
