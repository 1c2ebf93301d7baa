package fat32

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// dirEntrySize is the fixed packed size of a FAT32 directory entry, per
// spec.md §3/§4.7.
const dirEntrySize = 32

// Directory-entry attribute bits, grounded on dargueta-disko's
// drivers/fat/common.go attribute constants, trimmed to the bits this
// driver actually inspects.
const (
	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
	attrLongName  = attrReadOnly | attrHidden | attrSystem | attrVolumeID
)

// Name byte 0 sentinels, per spec.md §4.7.
const (
	direntFree = 0xE5
	direntEnd  = 0x00
)

// rawDirent is a decoded 32-byte directory entry.
type rawDirent struct {
	shortName [11]byte
	attr      byte
	cluster   uint32
	size      uint32
	offset    uint32 // byte offset this entry occupies within its cluster buffer
}

// decodeDirent reads one 32-byte slot at byteOffset within a cluster buffer.
func decodeDirent(buf []byte, byteOffset uint32) rawDirent {
	slot := buf[byteOffset : byteOffset+dirEntrySize]
	var d rawDirent
	copy(d.shortName[:], slot[0:11])
	d.attr = slot[11]
	hi := binary.LittleEndian.Uint16(slot[20:22])
	lo := binary.LittleEndian.Uint16(slot[26:28])
	d.cluster = uint32(hi)<<16 | uint32(lo)
	d.size = binary.LittleEndian.Uint32(slot[28:32])
	d.offset = byteOffset
	return d
}

// encodeDirent writes d back into its 32-byte slot.
func encodeDirent(buf []byte, d rawDirent) {
	slot := buf[d.offset : d.offset+dirEntrySize]
	for i := range slot {
		slot[i] = 0
	}
	copy(slot[0:11], d.shortName[:])
	slot[11] = d.attr
	binary.LittleEndian.PutUint16(slot[20:22], uint16(d.cluster>>16))
	binary.LittleEndian.PutUint16(slot[26:28], uint16(d.cluster))
	binary.LittleEndian.PutUint32(slot[28:32], d.size)
}

// isUsableEntry reports whether d is neither free, end-of-entries, a
// long-filename fragment, nor a volume label — the set of entries spec.md
// §4.7's lookup/readdir scans actually consider.
func isUsableEntry(d rawDirent) bool {
	if d.shortName[0] == direntFree || d.shortName[0] == direntEnd {
		return false
	}
	if d.attr&attrLongName == attrLongName {
		return false
	}
	if d.attr&attrVolumeID != 0 {
		return false
	}
	return true
}

// invalidNameChars lists the characters spec.md §4.7 rejects on create.
const invalidNameChars = `\/:*?"<>|`

// nameTo83 converts a conventional (possibly lower-case) name into its
// space-padded, upper-cased 11-byte 8.3 form.
func nameTo83(name string) ([11]byte, error) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	if name == "" || strings.ContainsAny(name, invalidNameChars) {
		return out, errors.Wrap(unix.EINVAL, "fat32: invalid 8.3 name "+name)
	}

	base := name
	ext := ""
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		base, ext = name[:idx], name[idx+1:]
	}
	if len(base) > 8 || len(ext) > 3 {
		return out, errors.Wrap(unix.EINVAL, "fat32: name too long for 8.3: "+name)
	}

	copy(out[0:8], strings.ToUpper(base))
	copy(out[8:11], strings.ToUpper(ext))
	return out, nil
}

// nameFrom83 converts an on-disk 11-byte 8.3 name into its conventional,
// lower-cased form.
func nameFrom83(raw [11]byte) string {
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")

	name := strings.ToLower(base)
	if ext != "" {
		name += "." + strings.ToLower(ext)
	}
	return name
}
