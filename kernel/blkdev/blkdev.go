// Package blkdev implements the process-wide block-device registry: a
// named-lookup table that drivers register against and the VFS's FAT32
// backend reads/writes through. Grounded on the teacher's driver
// registration idiom (device/tty and device/video/console each expose a
// Device interface that a concrete driver satisfies and a probe step
// attaches), generalized here to block devices with a (sector, count)
// read/write contract per spec.md §4.5.
package blkdev

import (
	"ardentos/kernel"
	"ardentos/kernel/klog"
	"ardentos/kernel/sync"

	"github.com/sirupsen/logrus"
)

// DefaultSectorSize is used for any device that does not report one of its
// own.
const DefaultSectorSize = 512

// Device is implemented by concrete block-device drivers (e.g.
// kernel/driver/ata's PIO disk). ReadAt/WriteAt operate in whole sectors:
// buf's length must be an exact multiple of the device's sector size.
type Device interface {
	// Name returns the device's registered name (e.g. "ata0").
	Name() string

	// SectorSize returns the device's sector size in bytes. Zero means the
	// registry should assume DefaultSectorSize.
	SectorSize() uint32

	// SectorCount returns the total number of addressable sectors.
	SectorCount() uint64

	// Writable reports whether Write is permitted against this device.
	Writable() bool

	// ReadAt fills buf (a whole number of sectors) starting at the given
	// sector.
	ReadAt(sector uint64, buf []byte) *kernel.Error

	// WriteAt writes buf (a whole number of sectors) starting at the given
	// sector. Called only when Writable() is true.
	WriteAt(sector uint64, buf []byte) *kernel.Error
}

// entry wraps a registered Device with the registry's own bookkeeping: an
// assigned major number and a per-device lock exposed to drivers so reads
// and writes against the same device never interleave.
type entry struct {
	dev   Device
	major uint32
	lock  sync.Spinlock
}

var (
	registryLock sync.Spinlock
	devices      = map[string]*entry{}
	nextMajor    = uint32(1)
)

// Register adds dev to the registry under its own Name(), assigning it a
// major number. Registering a name that already exists is rejected with
// kernel.Error rather than replacing the existing entry.
func Register(dev Device) *kernel.Error {
	if dev == nil || dev.Name() == "" {
		return &kernel.Error{Module: "blkdev", Message: "cannot register a nil device or one with an empty name"}
	}

	registryLock.Acquire()
	defer registryLock.Release()

	if _, exists := devices[dev.Name()]; exists {
		return &kernel.Error{Module: "blkdev", Message: "device \"" + dev.Name() + "\" already registered"}
	}

	major := nextMajor
	nextMajor++

	devices[dev.Name()] = &entry{dev: dev, major: major}
	klog.Log.WithFields(logrus.Fields{
		"device":  dev.Name(),
		"major":   major,
		"sectors": dev.SectorCount(),
	}).Info("blkdev: registered")
	return nil
}

// Unregister removes a previously-registered device, if present.
func Unregister(name string) {
	registryLock.Acquire()
	defer registryLock.Release()
	delete(devices, name)
}

// Devices returns every currently registered block device, in no
// particular order. Used by the shell's lsblk command.
func Devices() []Device {
	registryLock.Acquire()
	defer registryLock.Release()

	out := make([]Device, 0, len(devices))
	for _, e := range devices {
		out = append(out, e.dev)
	}
	return out
}

// Find looks up a registered device by name.
func Find(name string) (Device, *kernel.Error) {
	registryLock.Acquire()
	defer registryLock.Release()

	e, ok := devices[name]
	if !ok {
		return nil, &kernel.Error{Module: "blkdev", Message: "no such block device: " + name}
	}
	return e.dev, nil
}

// Major returns the major number assigned to name at registration, or false
// if no such device is registered.
func Major(name string) (uint32, bool) {
	registryLock.Acquire()
	defer registryLock.Release()

	e, ok := devices[name]
	if !ok {
		return 0, false
	}
	return e.major, true
}

func lookupEntry(name string) (*entry, *kernel.Error) {
	registryLock.Acquire()
	e, ok := devices[name]
	registryLock.Release()
	if !ok {
		return nil, &kernel.Error{Module: "blkdev", Message: "no such block device: " + name}
	}
	return e, nil
}

func sectorSize(dev Device) uint64 {
	if s := dev.SectorSize(); s != 0 {
		return uint64(s)
	}
	return DefaultSectorSize
}

// boundsCheck validates that [sector, sector+count) lies within dev's total
// sector count and that buf's length exactly matches count sectors.
func boundsCheck(dev Device, sector, count uint64, buf []byte) *kernel.Error {
	if count == 0 {
		return &kernel.Error{Module: "blkdev", Message: "zero-sector request"}
	}
	if sector+count > dev.SectorCount() {
		return &kernel.Error{Module: "blkdev", Message: "request exceeds device capacity"}
	}
	want := sectorSize(dev) * count
	if uint64(len(buf)) != want {
		return &kernel.Error{Module: "blkdev", Message: "buffer length does not match requested sector count"}
	}
	return nil
}

// Read reads count sectors starting at sector from the named device into
// buf, which must be exactly count*SectorSize() bytes.
func Read(name string, sector, count uint64, buf []byte) *kernel.Error {
	e, err := lookupEntry(name)
	if err != nil {
		return err
	}
	if err := boundsCheck(e.dev, sector, count, buf); err != nil {
		return err
	}

	e.lock.Acquire()
	defer e.lock.Release()
	return e.dev.ReadAt(sector, buf)
}

// Write writes buf (exactly count*SectorSize() bytes) to count sectors
// starting at sector on the named device. Rejected outright if the device
// is not writable.
func Write(name string, sector, count uint64, buf []byte) *kernel.Error {
	e, err := lookupEntry(name)
	if err != nil {
		return err
	}
	if !e.dev.Writable() {
		return &kernel.Error{Module: "blkdev", Message: "device \"" + name + "\" is read-only"}
	}
	if err := boundsCheck(e.dev, sector, count, buf); err != nil {
		return err
	}

	e.lock.Acquire()
	defer e.lock.Release()
	return e.dev.WriteAt(sector, buf)
}

// Lock returns the per-device spinlock for name, letting a driver hold it
// across a multi-step operation (e.g. an ATA command sequence) that Read/
// Write alone wouldn't cover. Returns nil if name is not registered.
func Lock(name string) *sync.Spinlock {
	registryLock.Acquire()
	e, ok := devices[name]
	registryLock.Release()
	if !ok {
		return nil
	}
	return &e.lock
}
