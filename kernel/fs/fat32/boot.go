// Package fat32 implements a FAT32 filesystem driver over kernel/blkdev
// devices, registered as a kernel/vfs.FilesystemType. Grounded on
// other_examples' dargueta-disko FAT driver (drivers/fat/common.go) for the
// boot-sector field layout and the packed-struct-via-sector-buffer reading
// discipline; adapted from its io.Reader/binary.Read style to decode
// straight out of a 512-byte sector buffer, since this kernel's block
// devices speak in raw byte slices rather than streams.
package fat32

import (
	"encoding/binary"

	"ardentos/kernel/blkdev"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// bootSectorSize is the only sector size this driver accepts, per spec.md
// §4.7 ("Validates bytes-per-sector = 512").
const bootSectorSize = 512

// bootSector holds the fields of the on-disk FAT32 boot sector that the
// driver needs after mount; it is never written back to disk.
type bootSector struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	totalSectors32    uint32
	fatSize32         uint32
	rootCluster       uint32

	// FAT16 fields that must read as zero for a genuine FAT32 volume.
	rootEntryCount uint16
	fatSize16      uint16
}

// Field offsets within the 512-byte boot sector, per the standard Microsoft
// BPB/FAT32-extension layout.
const (
	offBytesPerSector    = 11
	offSectorsPerCluster = 13
	offReservedSectors   = 14
	offNumFATs           = 16
	offRootEntryCount    = 17
	offFATSize16         = 22
	offTotalSectors32    = 32
	offFATSize32         = 36
	offRootCluster       = 44
	offBootSignature     = 510
)

// parseBootSector decodes buf (a full 512-byte sector 0 read) into a
// bootSector, copying out exactly the fields this driver needs rather than
// overlaying the whole sector onto a struct (spec.md §4.7/§9: "copying 512
// bytes straight into a smaller struct is a classic overrun and is
// explicitly forbidden here").
func parseBootSector(buf []byte) (*bootSector, error) {
	if len(buf) < bootSectorSize {
		return nil, errors.Wrap(unix.EINVAL, "fat32: short boot sector read")
	}

	bs := &bootSector{
		bytesPerSector:    binary.LittleEndian.Uint16(buf[offBytesPerSector:]),
		sectorsPerCluster: buf[offSectorsPerCluster],
		reservedSectors:   binary.LittleEndian.Uint16(buf[offReservedSectors:]),
		numFATs:           buf[offNumFATs],
		rootEntryCount:    binary.LittleEndian.Uint16(buf[offRootEntryCount:]),
		fatSize16:         binary.LittleEndian.Uint16(buf[offFATSize16:]),
		totalSectors32:    binary.LittleEndian.Uint32(buf[offTotalSectors32:]),
		fatSize32:         binary.LittleEndian.Uint32(buf[offFATSize32:]),
		rootCluster:       binary.LittleEndian.Uint32(buf[offRootCluster:]),
	}

	if bs.bytesPerSector != bootSectorSize {
		return nil, errors.Wrapf(unix.EINVAL, "fat32: unsupported bytes-per-sector %d", bs.bytesPerSector)
	}
	if bs.rootEntryCount != 0 || bs.fatSize16 != 0 {
		return nil, errors.Wrap(unix.EINVAL, "fat32: FAT16 fields are non-zero; not a FAT32 volume")
	}
	if bs.sectorsPerCluster == 0 || bs.numFATs == 0 || bs.fatSize32 == 0 {
		return nil, errors.Wrap(unix.EINVAL, "fat32: malformed BPB")
	}

	return bs, nil
}

// readBootSector reads sector 0 of dev through the block-device registry.
func readBootSector(dev string) (*bootSector, error) {
	buf := make([]byte, bootSectorSize)
	if kerr := blkdev.Read(dev, 0, 1, buf); kerr != nil {
		return nil, errors.Wrap(unix.EIO, kerr.Error())
	}
	return parseBootSector(buf)
}
