package ns

import (
	"context"

	"defs"
	"fdops"
	"ipc"
	"stat"
)

// Handle_t is the client-side object an open file descriptor holds when a
// path resolved onto a namespace server: the (server-process, server-local-
// id) pair from §3 DATA MODEL, expressed here as the channel to the server
// plus the small integer handle it returned from T_OPEN. The kernel only
// ever forwards this integer; it never interprets it (§3 Handle).
type Handle_t struct {
	Ch     *ipc.Chan_t
	Handle int
}

// Open sends T_OPEN for path over ch and wraps the returned handle.
func Open(ctx context.Context, ch *ipc.Chan_t, path []uint8) (*Handle_t, defs.Err_t) {
	reply, err := ch.Send(ctx, ipc.Msg_t{Tag: ipc.T_OPEN, Data: ipc.EncodeOpen(path)})
	if err != 0 {
		return nil, err
	}
	if reply.Tag == ipc.R_ERROR {
		return nil, -defs.Err_t(ipc.DecodeErr(reply.Data))
	}
	return &Handle_t{Ch: ch, Handle: ipc.DecodeHandle(reply.Data)}, 0
}

// Create sends T_CREATE for path with the given permission bits.
func Create(ctx context.Context, ch *ipc.Chan_t, path []uint8, perm int) (*Handle_t, defs.Err_t) {
	body := make([]uint8, 4+len(path))
	body[0] = uint8(perm)
	body[1] = uint8(perm >> 8)
	body[2] = uint8(perm >> 16)
	body[3] = uint8(perm >> 24)
	copy(body[4:], path)
	reply, err := ch.Send(ctx, ipc.Msg_t{Tag: ipc.T_CREATE, Data: body})
	if err != 0 {
		return nil, err
	}
	if reply.Tag == ipc.R_ERROR {
		return nil, -defs.Err_t(ipc.DecodeErr(reply.Data))
	}
	return &Handle_t{Ch: ch, Handle: ipc.DecodeHandle(reply.Data)}, 0
}

// Remove sends T_REMOVE for path.
func Remove(ctx context.Context, ch *ipc.Chan_t, path []uint8) defs.Err_t {
	reply, err := ch.Send(ctx, ipc.Msg_t{Tag: ipc.T_REMOVE, Data: ipc.EncodeOpen(path)})
	if err != 0 {
		return err
	}
	if reply.Tag == ipc.R_ERROR {
		return -defs.Err_t(ipc.DecodeErr(reply.Data))
	}
	return 0
}

// Read implements fdops.Fdops_i.Read by issuing T_READ against the
// server's handle and copying the reply into dst starting at offset; the
// kernel performs this byte copy on the caller's behalf (§4.4 IPC) so the
// server never needs dst mapped into its own address space.
func (h *Handle_t) Read(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	n := dst.Remain()
	if n > defs.MaxMsgData {
		n = defs.MaxMsgData
	}
	reply, err := h.Ch.Send(context.Background(), ipc.Msg_t{
		Tag:  ipc.T_READ,
		Data: ipc.EncodeRead(h.Handle, n, offset),
	})
	if err != 0 {
		return 0, err
	}
	if reply.Tag == ipc.R_ERROR {
		return 0, -defs.Err_t(ipc.DecodeErr(reply.Data))
	}
	return dst.Uiowrite(reply.Data)
}

// Write implements fdops.Fdops_i.Write. append is resolved by the caller
// (package fd) into the actual offset to send, mirroring how the kernel
// owns the cached fd offset (§9 Open Questions, seek ownership).
func (h *Handle_t) Write(src fdops.Userio_i, offset int, append bool) (int, defs.Err_t) {
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	buf = buf[:n]
	// MAX_MSG_DATA bounds a single IPC round trip; a write larger than
	// that is split across multiple T_WRITE calls so no bytes are lost
	// (§8 Boundary behaviors, "the dd short-write fix is the canonical
	// regression").
	total := 0
	off := offset
	for len(buf) > 0 {
		chunk := buf
		if len(chunk) > defs.MaxMsgData {
			chunk = chunk[:defs.MaxMsgData]
		}
		reply, serr := h.Ch.Send(context.Background(), ipc.Msg_t{
			Tag:  ipc.T_WRITE,
			Data: ipc.EncodeWrite(h.Handle, off, chunk),
		})
		if serr != 0 {
			return total, serr
		}
		if reply.Tag == ipc.R_ERROR {
			return total, -defs.Err_t(ipc.DecodeErr(reply.Data))
		}
		wrote := ipc.DecodeWrittenCount(reply.Data)
		if wrote <= 0 {
			break
		}
		total += wrote
		off += wrote
		buf = buf[wrote:]
	}
	return total, 0
}

// Fstat implements fdops.Fdops_i.Fstat via T_STAT.
func (h *Handle_t) Fstat(w fdops.StatWriter) defs.Err_t {
	reply, err := h.Ch.Send(context.Background(), ipc.Msg_t{
		Tag:  ipc.T_STAT,
		Data: ipc.EncodeHandle(h.Handle),
	})
	if err != 0 {
		return err
	}
	if reply.Tag == ipc.R_ERROR {
		return -defs.Err_t(ipc.DecodeErr(reply.Data))
	}
	st := stat.FromBytes(reply.Data)
	w.Wsize(st.Size())
	w.Wtype(st.Type())
	w.Wmtime(st.Mtime())
	w.Wmode(st.Mode())
	w.Wuid(st.Uid())
	w.Wgid(st.Gid())
	return 0
}

// Wstat issues T_WSTAT against the server's handle.
func (h *Handle_t) Wstat(st *stat.Stat_t, mask int) defs.Err_t {
	reply, err := h.Ch.Send(context.Background(), ipc.Msg_t{
		Tag:  ipc.T_WSTAT,
		Data: ipc.EncodeWstat(h.Handle, mask, st.Bytes()),
	})
	if err != 0 {
		return err
	}
	if reply.Tag == ipc.R_ERROR {
		return -defs.Err_t(ipc.DecodeErr(reply.Data))
	}
	return 0
}

// Close implements fdops.Fdops_i.Close via T_CLOSE.
func (h *Handle_t) Close() defs.Err_t {
	reply, err := h.Ch.Send(context.Background(), ipc.Msg_t{
		Tag:  ipc.T_CLOSE,
		Data: ipc.EncodeHandle(h.Handle),
	})
	if err != 0 {
		return err
	}
	if reply.Tag == ipc.R_ERROR {
		return -defs.Err_t(ipc.DecodeErr(reply.Data))
	}
	return 0
}

// Reopen is a no-op: Handle_t keeps only the numeric server handle, not
// the path it came from, so a dup/fork keeps using the same server handle
// and the server sees no second T_OPEN. The kernel treats the handle as
// opaque.
func (h *Handle_t) Reopen() defs.Err_t {
	return 0
}

// Poll is not meaningful for a request/reply namespace handle; every
// operation already blocks synchronously inside Read/Write, so readiness
// is always reported immediately.
func (h *Handle_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ | fdops.R_WRITE, 0
}
