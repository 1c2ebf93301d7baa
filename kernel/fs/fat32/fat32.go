package fat32

import (
	"ardentos/kernel/sync"
	"ardentos/kernel/vfs"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// endOfChainMark/endOfChainFloor and freeCluster are the reserved FAT32 entry values spec.md
// §3's "Cluster chain" data-model entry names.
const (
	freeCluster     = 0x00000000
	endOfChainMark  = 0x0FFFFFFF
	endOfChainFloor = 0x0FFFFFF8
	entryValueMask  = 0x0FFFFFFF
	entryFlagsMask  = 0xF0000000

	rootModeDir = vfs.ModeDir | 0755
	fileMode    = 0644
)

// FS is one mounted FAT32 filesystem: the boot-sector-derived geometry plus
// the block device it reads/writes through. A single coarse lock guards FAT
// allocation and entry updates, per spec.md §5.
type FS struct {
	dev string

	fatOffsetSectors  uint32
	dataOffsetSectors uint32
	totalClusters     uint32
	clusterSize       uint32
	sectorsPerCluster uint8
	rootCluster       uint32
	numFATs           uint32
	fatSizeSectors    uint32

	fatLock sync.Spinlock
}

// nodeDatum is the fs-private datum carried by every vfs.Node this driver
// hands out, per spec.md §3's "FAT32 inode datum".
type nodeDatum struct {
	firstCluster   uint32
	parentDirClus  uint32 // cluster that physically holds this node's own 32-byte directory entry
	dirEntryOffset uint32 // byte offset of that entry within parentDirClus
}

// Register installs this package's FilesystemType under the name "fat32".
func Register() error {
	return vfs.Register(&vfs.FilesystemType{
		Name:  "fat32",
		Mount: mount,
	})
}

// mount reads and validates the boot sector, derives the geometry spec.md
// §4.7 specifies, and constructs the root node.
func mount(dev string, flags uint32) (*vfs.Superblock, error) {
	bs, err := readBootSector(dev)
	if err != nil {
		return nil, errors.Wrap(err, "fat32.mount "+dev)
	}

	fatOffset := uint32(bs.reservedSectors)
	dataOffset := fatOffset + uint32(bs.numFATs)*bs.fatSize32
	if bs.totalSectors32 <= dataOffset {
		return nil, errors.Wrap(unix.EINVAL, "fat32.mount: data region does not fit total sectors")
	}
	totalClusters := (bs.totalSectors32 - dataOffset) / uint32(bs.sectorsPerCluster)

	fs := &FS{
		dev:               dev,
		fatOffsetSectors:  fatOffset,
		dataOffsetSectors: dataOffset,
		totalClusters:     totalClusters,
		clusterSize:       uint32(bs.bytesPerSector) * uint32(bs.sectorsPerCluster),
		sectorsPerCluster: bs.sectorsPerCluster,
		rootCluster:       bs.rootCluster,
		numFATs:           uint32(bs.numFATs),
		fatSizeSectors:    bs.fatSize32,
	}

	ops := &fatOps{fs: fs}
	root := vfs.NewNode("", rootModeDir, nil, &nodeDatum{
		firstCluster:  bs.rootCluster,
		parentDirClus: bs.rootCluster,
	}, ops)

	return &vfs.Superblock{
		FSType:      "fat32",
		BlockSize:   uint32(bs.bytesPerSector),
		TotalBlocks: uint64(bs.totalSectors32),
		Root:        root,
		Private:     fs,
	}, nil
}

// clusterToSector converts a cluster number to its first absolute sector,
// per spec.md §4.7's "Cluster ↔ sector" rule.
func (fs *FS) clusterToSector(cluster uint32) uint64 {
	return uint64(fs.dataOffsetSectors) + uint64(cluster-2)*uint64(fs.sectorsPerCluster)
}

// readCluster reads a whole cluster's worth of bytes.
func (fs *FS) readCluster(cluster uint32) ([]byte, error) {
	buf := make([]byte, fs.clusterSize)
	if kerr := readSectors(fs.dev, fs.clusterToSector(cluster), uint64(fs.sectorsPerCluster), buf); kerr != nil {
		return nil, kerr
	}
	return buf, nil
}

// writeCluster writes a whole cluster's worth of bytes.
func (fs *FS) writeCluster(cluster uint32, data []byte) error {
	return writeSectors(fs.dev, fs.clusterToSector(cluster), uint64(fs.sectorsPerCluster), data)
}
