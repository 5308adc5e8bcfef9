package ipc

import (
	"defs"

	"util"
)

// Wire sub-format for the T_* tags carried in Msg_t.Data. The spec leaves
// per-tag payload layout to the server (§6 "IPC message": tag + data_len +
// opaque data), so this is Fornax's own choice, shared by every in-kernel
// server (package devfs) and the default filesystem server (package
// ramfs) so that a client never needs to know which kind of server it
// opened a path on.
//
// T_OPEN request: path bytes (UTF-8, no NUL). Reply: 4-byte LE handle.
// T_READ request:  u32 handle, u32 count, u64 offset (16 bytes).
// T_WRITE request: u32 handle, u64 offset, then payload bytes.
// T_STAT request:  u32 handle. Reply: 32-byte stat.Stat_t record.
// T_WSTAT request: u32 handle, u32 mask, 32-byte stat record.
// T_CLOSE request: u32 handle.
// T_CREATE request: u32 perm, then path bytes. Reply: 4-byte LE handle.
// T_REMOVE request: path bytes.
//
// R_ERROR replies carry the failing defs.Err_t magnitude as a 4-byte LE
// value in Data.

// EncodeOpen builds a T_OPEN request body for path.
func EncodeOpen(path []uint8) []uint8 {
	return append([]uint8{}, path...)
}

// EncodeHandle marshals a bare handle id, used for T_STAT/T_CLOSE requests
// and T_OPEN/T_CREATE replies.
func EncodeHandle(handle int) []uint8 {
	b := make([]uint8, 4)
	util.PutLE32(b, 0, uint32(handle))
	return b
}

// DecodeHandle reads back a handle id encoded by EncodeHandle.
func DecodeHandle(b []uint8) int {
	return int(util.GetLE32(b, 0))
}

// EncodeRead builds a T_READ request body.
func EncodeRead(handle, count int, offset int) []uint8 {
	b := make([]uint8, 16)
	util.PutLE32(b, 0, uint32(handle))
	util.PutLE32(b, 4, uint32(count))
	util.PutLE64(b, 8, uint64(offset))
	return b
}

// DecodeRead parses a T_READ request body.
func DecodeRead(b []uint8) (handle, count, offset int) {
	handle = int(util.GetLE32(b, 0))
	count = int(util.GetLE32(b, 4))
	offset = int(util.GetLE64(b, 8))
	return
}

// EncodeWrite builds a T_WRITE request body: handle, offset, then data.
func EncodeWrite(handle int, offset int, data []uint8) []uint8 {
	b := make([]uint8, 12+len(data))
	util.PutLE32(b, 0, uint32(handle))
	util.PutLE64(b, 4, uint64(offset))
	copy(b[12:], data)
	return b
}

// DecodeWrite parses a T_WRITE request body.
func DecodeWrite(b []uint8) (handle, offset int, data []uint8) {
	handle = int(util.GetLE32(b, 0))
	offset = int(util.GetLE64(b, 4))
	data = b[12:]
	return
}

// EncodeWrittenCount marshals the byte count a T_WRITE reply carries.
func EncodeWrittenCount(n int) []uint8 {
	b := make([]uint8, 4)
	util.PutLE32(b, 0, uint32(n))
	return b
}

// DecodeWrittenCount reads back a T_WRITE reply's byte count.
func DecodeWrittenCount(b []uint8) int {
	return int(util.GetLE32(b, 0))
}

// EncodeWstat builds a T_WSTAT request body: handle, mask, then the 32-byte
// stat record.
func EncodeWstat(handle, mask int, statBytes []uint8) []uint8 {
	b := make([]uint8, 8+len(statBytes))
	util.PutLE32(b, 0, uint32(handle))
	util.PutLE32(b, 4, uint32(mask))
	copy(b[8:], statBytes)
	return b
}

// DecodeWstat parses a T_WSTAT request body.
func DecodeWstat(b []uint8) (handle, mask int, statBytes []uint8) {
	handle = int(util.GetLE32(b, 0))
	mask = int(util.GetLE32(b, 4))
	statBytes = b[8:]
	return
}

// EncodeErr marshals a failing defs.Err_t's magnitude for an R_ERROR reply.
func EncodeErr(mag int) []uint8 {
	b := make([]uint8, 4)
	util.PutLE32(b, 0, uint32(mag))
	return b
}

// DecodeErr reads the magnitude out of an R_ERROR reply body, falling back
// to EIO if the reply is malformed (too short to carry a code).
func DecodeErr(b []uint8) int {
	if len(b) < 4 {
		return int(defs.EIO)
	}
	return int(util.GetLE32(b, 0))
}
