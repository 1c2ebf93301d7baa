package fat32

import (
	"encoding/binary"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// fatSectorFor returns the FAT sector containing cluster's 32-bit entry and
// the entry's byte offset within that sector.
func (fs *FS) fatSectorFor(cluster uint32) (sector uint64, offset int) {
	byteOffset := uint64(cluster) * 4
	sector = uint64(fs.fatOffsetSectors) + byteOffset/bootSectorSize
	offset = int(byteOffset % bootSectorSize)
	return
}

// next returns the cluster that follows cluster in its chain, or
// endOfChainMark if cluster is out of range or already terminal, per
// spec.md §4.7's "FAT navigation" rule.
func (fs *FS) next(cluster uint32) (uint32, error) {
	if cluster < 2 || cluster > fs.totalClusters+1 {
		return endOfChainMark, nil
	}

	sector, off := fs.fatSectorFor(cluster)
	buf := make([]byte, bootSectorSize)
	if err := readSectors(fs.dev, sector, 1, buf); err != nil {
		return 0, err
	}

	entry := binary.LittleEndian.Uint32(buf[off:]) & entryValueMask
	return entry, nil
}

// setEntry writes value into cluster's FAT entry, preserving the reserved
// high 4 bits, and mirrors the write to every secondary FAT copy.
func (fs *FS) setEntry(cluster uint32, value uint32) error {
	sector, off := fs.fatSectorFor(cluster)
	buf := make([]byte, bootSectorSize)
	if err := readSectors(fs.dev, sector, 1, buf); err != nil {
		return err
	}

	old := binary.LittleEndian.Uint32(buf[off:])
	binary.LittleEndian.PutUint32(buf[off:], (old&entryFlagsMask)|(value&entryValueMask))

	if err := writeSectors(fs.dev, sector, 1, buf); err != nil {
		return err
	}

	for fatIdx := uint32(1); fatIdx < fs.numFATs; fatIdx++ {
		mirrorSector := sector + uint64(fatIdx)*uint64(fs.fatSizeSectors)
		if err := writeSectors(fs.dev, mirrorSector, 1, buf); err != nil {
			return err
		}
	}
	return nil
}

// allocCluster performs a linear scan from cluster 2 for the first free FAT
// entry, marks it end-of-chain, and returns its index. Returns 0 (never a
// valid data cluster) if none is free.
func (fs *FS) allocCluster() (uint32, error) {
	fs.fatLock.Acquire()
	defer fs.fatLock.Release()

	for c := uint32(2); c < fs.totalClusters+2; c++ {
		entry, err := fs.next(c)
		if err != nil {
			return 0, err
		}
		if entry == freeCluster {
			if err := fs.setEntry(c, endOfChainMark); err != nil {
				return 0, err
			}
			return c, nil
		}
	}
	return 0, nil
}

// freeChain walks from start, freeing each cluster's FAT entry. A failed FAT
// write is added to a multierror.Error and the walk goes on, since later
// clusters can still be reclaimed; a failed FAT read, or a cycle in the
// chain, is added as well and ends the walk.
func (fs *FS) freeChain(start uint32) error {
	fs.fatLock.Acquire()
	defer fs.fatLock.Release()

	var result *multierror.Error
	cluster := start
	seen := map[uint32]bool{}
	for cluster >= 2 && cluster <= fs.totalClusters+1 {
		if seen[cluster] {
			result = multierror.Append(result, errors.Errorf("fat32: cycle detected in chain at cluster %d", cluster))
			break
		}
		seen[cluster] = true

		nextCluster, err := fs.next(cluster)
		if err != nil {
			result = multierror.Append(result, err)
			break
		}
		if err := fs.setEntry(cluster, freeCluster); err != nil {
			result = multierror.Append(result, err)
		}
		if nextCluster >= endOfChainFloor {
			break
		}
		cluster = nextCluster
	}
	return result.ErrorOrNil()
}

// appendCluster allocates a fresh cluster and links it as the successor of
// tail, returning the new cluster's index.
func (fs *FS) appendCluster(tail uint32) (uint32, error) {
	c, err := fs.allocCluster()
	if err != nil {
		return 0, err
	}
	if c == 0 {
		return 0, errors.Wrap(unix.ENOSPC, "fat32: no free clusters")
	}
	if tail != 0 {
		if err := fs.setEntry(tail, c); err != nil {
			return 0, err
		}
	}
	return c, nil
}
