package fat32

import (
	"ardentos/kernel/blkdev"

	"github.com/pkg/errors"
)

// readSectors/writeSectors adapt kernel/blkdev's kernel.Error return into an
// ordinary error, matching the rest of this package's error surface.
func readSectors(dev string, sector, count uint64, buf []byte) error {
	if kerr := blkdev.Read(dev, sector, count, buf); kerr != nil {
		return errors.Wrap(kerr, "fat32: block read")
	}
	return nil
}

func writeSectors(dev string, sector, count uint64, buf []byte) error {
	if kerr := blkdev.Write(dev, sector, count, buf); kerr != nil {
		return errors.Wrap(kerr, "fat32: block write")
	}
	return nil
}
