// Package ramfs implements Fornax's default filesystem server: an
// in-memory, flat path-keyed file store speaking the same T_* wire
// protocol as package devfs, mounted at /disk by the boot sequence in
// place of the on-disk journaled filesystem a bare-metal Plan 9/L4 kernel
// would bring up (§4.6 Filesystem server, §9 "a single default in-memory
// file server is sufficient for kernel-core scope"). Every file lives for
// the lifetime of the running kernel process; nothing is durable across a
// restart, which matches the spec's explicit filesystem Non-goals.
package ramfs

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"defs"
	"hashtable"
	"ipc"
	"stat"
)

type file_t struct {
	mu   sync.Mutex
	data []uint8
	mode uint32
	uid  uint16
	gid  uint16
}

type openHandle struct {
	f     *file_t
	path  string
	isDir bool
}

// Server_t is the /disk server: one channel, a flat file table, and a
// table of currently-open handles, mirroring package devfs's Server_t
// shape since both speak the identical wire protocol.
type Server_t struct {
	mu         sync.Mutex
	ch         *ipc.Chan_t
	files      map[string]*file_t
	handles    *hashtable.Hashtable_t
	nextHandle int32
}

// New builds an empty ramfs server.
func New() *Server_t {
	return &Server_t{
		ch:      ipc.NewChan(64),
		files:   make(map[string]*file_t),
		handles: hashtable.MkHash(64),
	}
}

// Chan returns the channel a namespace binds this server's root to.
func (s *Server_t) Chan() *ipc.Chan_t { return s.ch }

// DevNum reports this server's defs.D_RAWDISK device identity, the way a
// real disk-backed filesystem server would report the block device it
// sits on. It is never written into a file's own Stat_t (see the T_STAT
// case below): ramfs's per-file mode field is reserved for real
// wstat-settable bits, not a device number.
func (s *Server_t) DevNum() uint { return defs.Mkdev(defs.D_RAWDISK, 0) }

// Serve runs the receive loop until ctx is cancelled or the channel closes.
func (s *Server_t) Serve(ctx context.Context) {
	for {
		msg, cl, err := s.ch.Recv(ctx)
		if err != 0 {
			return
		}
		s.ch.Reply(cl, s.dispatch(msg))
	}
}

func okMsg(data []uint8) ipc.Msg_t { return ipc.Msg_t{Tag: ipc.R_OK, Data: data} }

func errMsg(e defs.Err_t) ipc.Msg_t {
	mag := e
	if mag < 0 {
		mag = -mag
	}
	return ipc.Msg_t{Tag: ipc.R_ERROR, Data: ipc.EncodeErr(int(mag))}
}

// cleanPath strips the leading slash a namespace-resolved path never
// actually carries once ns.Resolve rewrites it onto this server, and maps
// "." (ns.Resolve's stand-in for "open the mount's own root", § 4.5) onto
// the empty path this package uses to mean the root directory.
func cleanPath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

func (s *Server_t) dispatch(msg ipc.Msg_t) ipc.Msg_t {
	switch msg.Tag {
	case ipc.T_OPEN:
		path := cleanPath(string(msg.Data))
		s.mu.Lock()
		f, ok := s.files[path]
		isDir := !ok && s.isDirLocked(path)
		s.mu.Unlock()
		if !ok && !isDir {
			return errMsg(defs.ENOENT)
		}
		if isDir {
			return okMsg(ipc.EncodeHandle(int(s.openDir(path))))
		}
		return okMsg(ipc.EncodeHandle(int(s.openFile(f, path))))

	case ipc.T_CREATE:
		if len(msg.Data) < 4 {
			return errMsg(defs.EINVAL)
		}
		mode := uint32(msg.Data[0]) | uint32(msg.Data[1])<<8 |
			uint32(msg.Data[2])<<16 | uint32(msg.Data[3])<<24
		path := cleanPath(string(msg.Data[4:]))
		s.mu.Lock()
		f, existed := s.files[path]
		if !existed {
			f = &file_t{mode: mode}
			s.files[path] = f
		}
		s.mu.Unlock()
		return okMsg(ipc.EncodeHandle(int(s.openFile(f, path))))

	case ipc.T_READ:
		handle, count, offset := ipc.DecodeRead(msg.Data)
		oh, ok := s.get(handle)
		if !ok {
			return errMsg(defs.EINVAL)
		}
		if oh.isDir {
			// A directory's entire listing is handed back on the first
			// read, same as the teacher's in-memory directory nodes;
			// offset only suppresses a second round-trip from reading
			// it twice.
			if offset > 0 {
				return okMsg(nil)
			}
			return okMsg(stat.EncodeDirEnts(s.listDir(oh.path)))
		}
		oh.f.mu.Lock()
		defer oh.f.mu.Unlock()
		if offset >= len(oh.f.data) {
			return okMsg(nil)
		}
		end := offset + count
		if end > len(oh.f.data) {
			end = len(oh.f.data)
		}
		out := make([]uint8, end-offset)
		copy(out, oh.f.data[offset:end])
		return okMsg(out)

	case ipc.T_WRITE:
		handle, offset, data := ipc.DecodeWrite(msg.Data)
		oh, ok := s.get(handle)
		if !ok {
			return errMsg(defs.EINVAL)
		}
		if oh.isDir {
			return errMsg(defs.EISDIR)
		}
		oh.f.mu.Lock()
		need := offset + len(data)
		if need > len(oh.f.data) {
			grown := make([]uint8, need)
			copy(grown, oh.f.data)
			oh.f.data = grown
		}
		copy(oh.f.data[offset:], data)
		oh.f.mu.Unlock()
		return okMsg(ipc.EncodeWrittenCount(len(data)))

	case ipc.T_STAT:
		handle := ipc.DecodeHandle(msg.Data)
		oh, ok := s.get(handle)
		if !ok {
			return errMsg(defs.EINVAL)
		}
		if oh.isDir {
			st := &stat.Stat_t{}
			st.Wtype(defs.T_DIR)
			return okMsg(st.Bytes())
		}
		oh.f.mu.Lock()
		st := &stat.Stat_t{}
		st.Wsize(uint64(len(oh.f.data)))
		st.Wtype(defs.T_FILE)
		st.Wmode(oh.f.mode)
		st.Wuid(oh.f.uid)
		st.Wgid(oh.f.gid)
		oh.f.mu.Unlock()
		return okMsg(st.Bytes())

	case ipc.T_WSTAT:
		handle, mask, statBytes := ipc.DecodeWstat(msg.Data)
		oh, ok := s.get(handle)
		if !ok || len(statBytes) < stat.Size {
			return errMsg(defs.EINVAL)
		}
		if oh.isDir {
			return errMsg(defs.EISDIR)
		}
		st := stat.FromBytes(statBytes)
		oh.f.mu.Lock()
		if mask&defs.WSTAT_MODE != 0 {
			oh.f.mode = st.Mode()
		}
		if mask&defs.WSTAT_UID != 0 {
			oh.f.uid = st.Uid()
		}
		if mask&defs.WSTAT_GID != 0 {
			oh.f.gid = st.Gid()
		}
		if mask&defs.WSTAT_SIZE != 0 {
			n := int(st.Size())
			if n <= len(oh.f.data) {
				oh.f.data = oh.f.data[:n]
			} else {
				grown := make([]uint8, n)
				copy(grown, oh.f.data)
				oh.f.data = grown
			}
		}
		oh.f.mu.Unlock()
		return okMsg(nil)

	case ipc.T_CLOSE:
		handle := ipc.DecodeHandle(msg.Data)
		s.handles.Del(handle)
		return okMsg(nil)

	case ipc.T_REMOVE:
		path := cleanPath(string(msg.Data))
		s.mu.Lock()
		_, ok := s.files[path]
		delete(s.files, path)
		s.mu.Unlock()
		if !ok {
			return errMsg(defs.ENOENT)
		}
		return okMsg(nil)

	default:
		return errMsg(defs.ENOTSUP)
	}
}

func (s *Server_t) openFile(f *file_t, path string) int32 {
	h := atomic.AddInt32(&s.nextHandle, 1)
	s.handles.Set(int(h), &openHandle{f: f, path: path})
	return h
}

func (s *Server_t) openDir(path string) int32 {
	h := atomic.AddInt32(&s.nextHandle, 1)
	s.handles.Set(int(h), &openHandle{path: path, isDir: true})
	return h
}

func (s *Server_t) get(handle int) (*openHandle, bool) {
	v, ok := s.handles.Get(handle)
	if !ok {
		return nil, false
	}
	return v.(*openHandle), true
}

// isDirLocked reports whether path names a directory: ramfs has no mkdir
// (§6 carries no such syscall), so a directory exists implicitly wherever
// a file's path has it as a component prefix; the empty root path is always
// a directory, even before any file exists. s.mu must be held.
func (s *Server_t) isDirLocked(path string) bool {
	if path == "" {
		return true
	}
	prefix := path + "/"
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// listDir returns the immediate children of dir: files held directly under
// it verbatim, and its immediate subdirectories collapsed to one T_DIR
// entry apiece (§6 DirEntry, §8 "reading fd for / returns packed 72-byte
// DirEntry records").
func (s *Server_t) listDir(dir string) []stat.DirEnt_t {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	var ents []stat.DirEnt_t
	for p, f := range s.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest == "" {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name := rest[:i]
			if !seen[name] {
				seen[name] = true
				ents = append(ents, stat.DirEnt_t{Name: name, FileType: defs.T_DIR})
			}
			continue
		}
		f.mu.Lock()
		size := len(f.data)
		f.mu.Unlock()
		ents = append(ents, stat.DirEnt_t{Name: rest, FileType: defs.T_FILE, Size: uint32(size)})
	}
	return ents
}
