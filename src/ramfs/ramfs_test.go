package ramfs

import (
	"context"
	"encoding/binary"
	"testing"

	"defs"
	"ipc"
	"stat"
)

func startServer(t *testing.T) (*Server_t, context.CancelFunc) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	t.Cleanup(cancel)
	return s, cancel
}

func send(t *testing.T, ch *ipc.Chan_t, tag uint32, data []uint8) ipc.Msg_t {
	t.Helper()
	reply, err := ch.Send(context.Background(), ipc.Msg_t{Tag: tag, Data: data})
	if err != 0 {
		t.Fatalf("send tag %d failed: %v", tag, err)
	}
	return reply
}

func TestCreateWriteReadRoundtrip(t *testing.T) {
	s, _ := startServer(t)
	ch := s.Chan()

	createBody := make([]uint8, 4+len("hello.txt"))
	binary.LittleEndian.PutUint32(createBody, 0644)
	copy(createBody[4:], "hello.txt")
	reply := send(t, ch, ipc.T_CREATE, createBody)
	if reply.Tag == ipc.R_ERROR {
		t.Fatalf("create failed: %v", ipc.DecodeErr(reply.Data))
	}
	handle := ipc.DecodeHandle(reply.Data)

	wreply := send(t, ch, ipc.T_WRITE, ipc.EncodeWrite(handle, 0, []byte("hi there")))
	if n := ipc.DecodeWrittenCount(wreply.Data); n != 8 {
		t.Fatalf("wrote %d bytes, want 8", n)
	}

	rreply := send(t, ch, ipc.T_READ, ipc.EncodeRead(handle, 100, 0))
	if string(rreply.Data) != "hi there" {
		t.Fatalf("read back %q, want %q", rreply.Data, "hi there")
	}
}

func TestOpenMissingFileFails(t *testing.T) {
	s, _ := startServer(t)
	ch := s.Chan()
	reply := send(t, ch, ipc.T_OPEN, []byte("nope"))
	if reply.Tag != ipc.R_ERROR || defs.Err_t(ipc.DecodeErr(reply.Data)) != defs.ENOENT {
		t.Fatalf("expected ENOENT, got %+v", reply)
	}
}

func TestRemoveThenOpenFails(t *testing.T) {
	s, _ := startServer(t)
	ch := s.Chan()

	createBody := make([]uint8, 4+len("gone"))
	binary.LittleEndian.PutUint32(createBody, 0644)
	copy(createBody[4:], "gone")
	send(t, ch, ipc.T_CREATE, createBody)

	rmReply := send(t, ch, ipc.T_REMOVE, []byte("gone"))
	if rmReply.Tag == ipc.R_ERROR {
		t.Fatalf("remove failed: %v", ipc.DecodeErr(rmReply.Data))
	}

	openReply := send(t, ch, ipc.T_OPEN, []byte("gone"))
	if openReply.Tag != ipc.R_ERROR {
		t.Fatal("expected open of removed file to fail")
	}
}

func TestStatReportsSizeAfterWrite(t *testing.T) {
	s, _ := startServer(t)
	ch := s.Chan()

	createBody := make([]uint8, 4+len("sized"))
	binary.LittleEndian.PutUint32(createBody, 0644)
	copy(createBody[4:], "sized")
	creply := send(t, ch, ipc.T_CREATE, createBody)
	handle := ipc.DecodeHandle(creply.Data)
	send(t, ch, ipc.T_WRITE, ipc.EncodeWrite(handle, 0, []byte("abcde")))

	sreply := send(t, ch, ipc.T_STAT, ipc.EncodeHandle(handle))
	if sreply.Tag == ipc.R_ERROR {
		t.Fatalf("stat failed: %v", ipc.DecodeErr(sreply.Data))
	}
}

func TestListDirReturnsPackedEntries(t *testing.T) {
	s, _ := startServer(t)
	ch := s.Chan()

	for _, name := range []string{"a.txt", "sub/b.txt"} {
		createBody := make([]uint8, 4+len(name))
		binary.LittleEndian.PutUint32(createBody, 0644)
		copy(createBody[4:], name)
		reply := send(t, ch, ipc.T_CREATE, createBody)
		if reply.Tag == ipc.R_ERROR {
			t.Fatalf("create %s failed: %v", name, ipc.DecodeErr(reply.Data))
		}
		handle := ipc.DecodeHandle(reply.Data)
		send(t, ch, ipc.T_WRITE, ipc.EncodeWrite(handle, 0, []byte("x")))
	}

	openReply := send(t, ch, ipc.T_OPEN, []byte("/"))
	if openReply.Tag == ipc.R_ERROR {
		t.Fatalf("open root failed: %v", ipc.DecodeErr(openReply.Data))
	}
	dirHandle := ipc.DecodeHandle(openReply.Data)

	statReply := send(t, ch, ipc.T_STAT, ipc.EncodeHandle(dirHandle))
	if statReply.Tag == ipc.R_ERROR {
		t.Fatalf("stat root failed: %v", ipc.DecodeErr(statReply.Data))
	}
	if got := stat.FromBytes(statReply.Data).Type(); got != defs.T_DIR {
		t.Fatalf("root file_type = %d, want T_DIR", got)
	}

	readReply := send(t, ch, ipc.T_READ, ipc.EncodeRead(dirHandle, 4096, 0))
	if readReply.Tag == ipc.R_ERROR {
		t.Fatalf("read root failed: %v", ipc.DecodeErr(readReply.Data))
	}
	if len(readReply.Data)%stat.DirEntSize != 0 {
		t.Fatalf("directory listing length %d not a multiple of %d", len(readReply.Data), stat.DirEntSize)
	}

	seen := map[string]uint32{}
	for off := 0; off < len(readReply.Data); off += stat.DirEntSize {
		ent := stat.DecodeDirEnt(readReply.Data, off)
		seen[ent.Name] = ent.FileType
	}
	if len(seen) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(seen), seen)
	}
	if ft, ok := seen["a.txt"]; !ok || ft != defs.T_FILE {
		t.Fatalf("a.txt entry = %v, %v, want T_FILE", ft, ok)
	}
	if ft, ok := seen["sub"]; !ok || ft != defs.T_DIR {
		t.Fatalf("sub entry = %v, %v, want T_DIR", ft, ok)
	}

	writeReply := send(t, ch, ipc.T_WRITE, ipc.EncodeWrite(dirHandle, 0, []byte("x")))
	if writeReply.Tag != ipc.R_ERROR || defs.Err_t(ipc.DecodeErr(writeReply.Data)) != defs.EISDIR {
		t.Fatalf("expected EISDIR writing to a directory fd, got %+v", writeReply)
	}
}

func TestWstatMaskBits(t *testing.T) {
	s, _ := startServer(t)
	ch := s.Chan()

	createBody := make([]uint8, 4+len("w.txt"))
	binary.LittleEndian.PutUint32(createBody, 0644)
	copy(createBody[4:], "w.txt")
	handle := ipc.DecodeHandle(send(t, ch, ipc.T_CREATE, createBody).Data)
	send(t, ch, ipc.T_WRITE, ipc.EncodeWrite(handle, 0, []byte("twelve bytes")))

	st := &stat.Stat_t{}
	st.Wmode(0600)
	st.Wuid(7)
	st.Wsize(6)
	mask := defs.WSTAT_MODE | defs.WSTAT_UID | defs.WSTAT_SIZE
	wr := send(t, ch, ipc.T_WSTAT, ipc.EncodeWstat(handle, mask, st.Bytes()))
	if wr.Tag == ipc.R_ERROR {
		t.Fatalf("wstat failed: %v", ipc.DecodeErr(wr.Data))
	}

	got := stat.FromBytes(send(t, ch, ipc.T_STAT, ipc.EncodeHandle(handle)).Data)
	if got.Mode() != 0600 {
		t.Fatalf("mode = %o, want 0600", got.Mode())
	}
	if got.Uid() != 7 {
		t.Fatalf("uid = %d, want 7", got.Uid())
	}
	// gid was not in the mask and must be untouched.
	if got.Gid() != 0 {
		t.Fatalf("gid = %d, want 0", got.Gid())
	}
	if got.Size() != 6 {
		t.Fatalf("size = %d, want 6 after WSTAT_SIZE", got.Size())
	}
	rreply := send(t, ch, ipc.T_READ, ipc.EncodeRead(handle, 100, 0))
	if string(rreply.Data) != "twelve" {
		t.Fatalf("data after truncate = %q, want %q", rreply.Data, "twelve")
	}
}
