package devfs

import (
	"net"
	"strings"

	"defs"
)

// ifacesNode renders the host's network interfaces as a text listing,
// backing /net/ifaces. Fornax's kernel-core does not implement a protocol
// stack (§1 Non-goals place bnet/inet/unet-style drivers outside kernel
// core); what it owns is exposing whatever the host already has through
// the same read-only control-file convention /proc uses, via the standard
// library's net package rather than reinventing interface enumeration.
type ifacesNode struct{}

func (ifacesNode) read(off, count int) ([]uint8, defs.Err_t) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, -defs.EIO
	}
	var sb strings.Builder
	for _, ifc := range ifaces {
		sb.WriteString(ifc.Name)
		sb.WriteByte(' ')
		addrs, _ := ifc.Addrs()
		for i, a := range addrs {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(a.String())
		}
		sb.WriteByte('\n')
	}
	b := []uint8(sb.String())
	if off >= len(b) {
		return nil, 0
	}
	end := off + count
	if end > len(b) {
		end = len(b)
	}
	return b[off:end], 0
}

func (ifacesNode) write(off int, data []uint8) (int, defs.Err_t) {
	return 0, -defs.EACCES
}

func (ifacesNode) wtype() uint32 { return defs.T_FILE }
func (ifacesNode) devnum() uint  { return 0 }

// sockCtlNode is a placeholder control file for a socket domain devfs
// names but does not implement: opening and stat'ing it works, and its
// device number identifies which domain (datagram or stream) it stands
// for, but read/write are refused rather than faked, since Fornax's
// kernel-core carries no protocol stack (§1 Non-goals). This gives
// defs.D_SUD/D_SUS a real node to report instead of leaving them
// unreferenced constants.
type sockCtlNode struct {
	dev uint
}

func (sockCtlNode) read(off, count int) ([]uint8, defs.Err_t) { return nil, -defs.ENOTSUP }
func (sockCtlNode) write(off int, data []uint8) (int, defs.Err_t) {
	return 0, -defs.ENOTSUP
}
func (sockCtlNode) wtype() uint32   { return defs.T_FILE }
func (n sockCtlNode) devnum() uint { return n.dev }

// NewNetServer builds /net with a read-only interface listing plus the
// two UNIX-domain socket device placeholders (§1 Non-goals keeps the
// protocol stack itself out of scope; the device numbers are still real).
func NewNetServer() *Server_t {
	s := newServer()
	s.nodes["ifaces"] = ifacesNode{}
	s.nodes["dgram"] = sockCtlNode{dev: defs.Mkdev(defs.D_SUD, 0)}
	s.nodes["stream"] = sockCtlNode{dev: defs.Mkdev(defs.D_SUS, 0)}
	return s
}
