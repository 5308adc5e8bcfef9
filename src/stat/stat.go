// Package stat implements the wire-format Stat_t record returned by the
// stat(2) syscall, laid out exactly as specified in §6 EXTERNAL INTERFACES:
//
//	u64 size; u32 file_type; u32 reserved; u64 mtime; u32 mode; u16 uid; u16 gid
//
// 32 bytes, little-endian. Servers build one of these for every T_STAT
// reply; the kernel never interprets the fields, it only copies the bytes
// between the server and the calling process (§4.4 IPC).
package stat

import (
	"defs"
	"util"
)

/// Size is the on-wire length of a Stat_t record.
const Size = 32

const (
	offSize     = 0
	offType     = 8
	offReserved = 12
	offMtime    = 16
	offMode     = 24
	offUid      = 28
	offGid      = 30
)

/// Stat_t is the in-kernel representation of a stat record.
type Stat_t struct {
	_size uint64
	_type uint32
	_mtime uint64
	_mode uint32
	_uid  uint16
	_gid  uint16
}

/// Wsize records the file size.
func (st *Stat_t) Wsize(v uint64) {
	st._size = v
}

/// Wtype records whether the entry is a file or directory (T_FILE/T_DIR).
func (st *Stat_t) Wtype(v uint32) {
	st._type = v
}

/// Wmtime records the modification time, in nanoseconds since the epoch.
func (st *Stat_t) Wmtime(v uint64) {
	st._mtime = v
}

/// Wmode records the file mode.
func (st *Stat_t) Wmode(v uint32) {
	st._mode = v
}

/// Wuid records the owning uid.
func (st *Stat_t) Wuid(v uint16) {
	st._uid = v
}

/// Wgid records the owning gid.
func (st *Stat_t) Wgid(v uint16) {
	st._gid = v
}

/// Size returns the stored size.
func (st *Stat_t) Size() uint64 {
	return st._size
}

/// Type returns the stored file type.
func (st *Stat_t) Type() uint32 {
	return st._type
}

/// Mtime returns the stored modification time.
func (st *Stat_t) Mtime() uint64 {
	return st._mtime
}

/// Mode returns the stored mode value.
func (st *Stat_t) Mode() uint32 {
	return st._mode
}

/// Uid returns the stored owner uid.
func (st *Stat_t) Uid() uint16 {
	return st._uid
}

/// Gid returns the stored owner gid.
func (st *Stat_t) Gid() uint16 {
	return st._gid
}

/// Bytes marshals the record into its 32-byte little-endian wire form. Using
/// explicit little-endian writes (rather than an unsafe struct cast) keeps
/// the wire format identical regardless of the host's native endianness,
/// which matters once a T_STAT reply is copied verbatim between two
/// user address spaces by the kernel.
func (st *Stat_t) Bytes() []uint8 {
	b := make([]uint8, Size)
	util.PutLE64(b, offSize, st._size)
	util.PutLE32(b, offType, st._type)
	util.PutLE32(b, offReserved, 0)
	util.PutLE64(b, offMtime, st._mtime)
	util.PutLE32(b, offMode, st._mode)
	util.PutLE16(b, offUid, st._uid)
	util.PutLE16(b, offGid, st._gid)
	return b
}

/// FromBytes parses a 32-byte wire record, e.g. a reply a client received
/// over IPC for T_STAT.
func FromBytes(b []uint8) *Stat_t {
	st := &Stat_t{}
	st._size = util.GetLE64(b, offSize)
	st._type = util.GetLE32(b, offType)
	st._mtime = util.GetLE64(b, offMtime)
	st._mode = util.GetLE32(b, offMode)
	st._uid = util.GetLE16(b, offUid)
	st._gid = util.GetLE16(b, offGid)
	return st
}

// DirEntSize is the on-wire length of one packed directory entry (§6
// DirEntry): a 64-byte NUL-padded name, a u32 file_type, and a u32 size.
// Mirrors defs.DirEntSize/defs.DirEntNameSz, the single source of truth
// for the fixed wire sizes package bounds-style constants centralize.
const DirEntSize = defs.DirEntSize
const dirEntNameSz = defs.DirEntNameSz

// DirEnt_t is one entry of a directory listing, as returned by reading a
// directory-typed fd (§6 "Read of a directory fd returns a packed array").
type DirEnt_t struct {
	Name     string
	FileType uint32
	Size     uint32
}

// Bytes marshals d into its fixed 72-byte wire form: the name is truncated
// and NUL-padded to 64 bytes, matching a real Plan-9-style DirEntry's fixed
// name field.
func (d DirEnt_t) Bytes() []uint8 {
	b := make([]uint8, DirEntSize)
	name := d.Name
	if len(name) > dirEntNameSz {
		name = name[:dirEntNameSz]
	}
	copy(b[:dirEntNameSz], name)
	util.PutLE32(b, dirEntNameSz, d.FileType)
	util.PutLE32(b, dirEntNameSz+4, d.Size)
	return b
}

// EncodeDirEnts packs a slice of entries back to back, the layout a
// directory fd's read(2) returns in a single server round-trip.
func EncodeDirEnts(ents []DirEnt_t) []uint8 {
	out := make([]uint8, 0, len(ents)*DirEntSize)
	for _, e := range ents {
		out = append(out, e.Bytes()...)
	}
	return out
}

// DecodeDirEnt unpacks one 72-byte record at offset off in b.
func DecodeDirEnt(b []uint8, off int) DirEnt_t {
	raw := b[off : off+dirEntNameSz]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return DirEnt_t{
		Name:     string(raw[:n]),
		FileType: util.GetLE32(b, off+dirEntNameSz),
		Size:     util.GetLE32(b, off+dirEntNameSz+4),
	}
}
