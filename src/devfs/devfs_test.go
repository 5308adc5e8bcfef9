package devfs

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"defs"
	"ipc"
	"proc"
)

func openHandleFor(t *testing.T, ch *ipc.Chan_t, path string) int {
	t.Helper()
	reply, err := ch.Send(context.Background(), ipc.Msg_t{Tag: ipc.T_OPEN, Data: []uint8(path)})
	if err != 0 {
		t.Fatalf("open %q failed: %v", path, err)
	}
	if reply.Tag != ipc.R_OK {
		t.Fatalf("open %q returned error tag", path)
	}
	return ipc.DecodeHandle(reply.Data)
}

func TestDevConsoleWriteThenRead(t *testing.T) {
	s := NewDevServer()
	go s.Serve(context.Background())
	ch := s.Chan()

	h := openHandleFor(t, ch, "/console")

	reply, err := ch.Send(context.Background(), ipc.Msg_t{
		Tag:  ipc.T_WRITE,
		Data: ipc.EncodeWrite(h, 0, []uint8("hi")),
	})
	if err != 0 || reply.Tag != ipc.R_OK {
		t.Fatalf("write failed: %v", err)
	}
	if n := ipc.DecodeWrittenCount(reply.Data); n != 2 {
		t.Fatalf("wrote %d bytes, want 2", n)
	}

	reply, err = ch.Send(context.Background(), ipc.Msg_t{
		Tag:  ipc.T_READ,
		Data: ipc.EncodeRead(h, 16, 0),
	})
	if err != 0 || reply.Tag != ipc.R_OK {
		t.Fatalf("read failed: %v", err)
	}
	if string(reply.Data) != "hi" {
		t.Fatalf("read %q, want %q", reply.Data, "hi")
	}
}

func TestDevNullDiscardsAndEOFs(t *testing.T) {
	s := NewDevServer()
	go s.Serve(context.Background())
	ch := s.Chan()

	h := openHandleFor(t, ch, "/null")
	reply, _ := ch.Send(context.Background(), ipc.Msg_t{
		Tag:  ipc.T_WRITE,
		Data: ipc.EncodeWrite(h, 0, []uint8("discarded")),
	})
	if ipc.DecodeWrittenCount(reply.Data) != len("discarded") {
		t.Fatal("write to /dev/null should report full count accepted")
	}

	reply, _ = ch.Send(context.Background(), ipc.Msg_t{Tag: ipc.T_READ, Data: ipc.EncodeRead(h, 16, 0)})
	if len(reply.Data) != 0 {
		t.Fatal("read from /dev/null should return 0 bytes")
	}
}

func TestDevOpenMissingNodeFails(t *testing.T) {
	s := NewDevServer()
	go s.Serve(context.Background())
	reply, err := s.Chan().Send(context.Background(), ipc.Msg_t{Tag: ipc.T_OPEN, Data: []uint8("/nope")})
	if err != 0 {
		t.Fatalf("send failed: %v", err)
	}
	if reply.Tag != ipc.R_ERROR {
		t.Fatal("open of a nonexistent node should fail")
	}
}

func TestProcListAndKillViaCtl(t *testing.T) {
	tbl := proc.NewTable()
	init := tbl.InitProc(nil)
	child, err := tbl.Rfork(init, 0, false)
	if err != 0 {
		t.Fatalf("rfork failed: %v", err)
	}

	s := NewProcServer(tbl)
	go s.Serve(context.Background())
	ch := s.Chan()

	h := openHandleFor(t, ch, "/list")
	reply, _ := ch.Send(context.Background(), ipc.Msg_t{Tag: ipc.T_READ, Data: ipc.EncodeRead(h, 64, 0)})
	if !strings.Contains(string(reply.Data), "1\n") {
		t.Fatalf("proc list %q missing init pid", reply.Data)
	}

	ctlPath := "/" + strconv.Itoa(int(child.Pid)) + "/ctl"
	ctlHandle := openHandleFor(t, ch, ctlPath)
	reply, err = ch.Send(context.Background(), ipc.Msg_t{
		Tag:  ipc.T_WRITE,
		Data: ipc.EncodeWrite(ctlHandle, 0, []uint8("kill")),
	})
	if err != 0 || reply.Tag != ipc.R_OK {
		t.Fatalf("kill write failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	_, status, werr := tbl.Wait(context.Background(), init, child.Pid)
	if werr != 0 {
		t.Fatalf("wait failed: %v", werr)
	}
	if !defs.WasKilled(status) {
		t.Fatal("child was not reported killed after /proc ctl write")
	}
}
