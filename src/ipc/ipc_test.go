package ipc

import (
	"context"
	"testing"
	"time"

	"defs"
)

func TestSendRecvReplyRoundtrip(t *testing.T) {
	c := NewChan(16)
	go func() {
		msg, cl, err := c.Recv(context.Background())
		if err != 0 {
			t.Error("recv failed")
			return
		}
		c.Reply(cl, Msg_t{Tag: R_OK, Data: msg.Data})
	}()

	reply, err := c.Send(context.Background(), Msg_t{Tag: T_READ, Data: []byte("hi")})
	if err != 0 {
		t.Fatalf("send failed: %v", err)
	}
	if string(reply.Data) != "hi" {
		t.Fatalf("echo mismatch: %q", reply.Data)
	}
}

func TestMultiClientFIFO(t *testing.T) {
	c := NewChan(16)
	order := make(chan string, 2)

	go func() {
		for i := 0; i < 2; i++ {
			msg, cl, err := c.Recv(context.Background())
			if err != 0 {
				return
			}
			order <- string(msg.Data)
			c.Reply(cl, Msg_t{Tag: R_OK})
		}
	}()

	resA := make(chan defs.Err_t, 1)
	go func() {
		_, err := c.Send(context.Background(), Msg_t{Tag: T_WRITE, Data: []byte("A")})
		resA <- err
	}()
	time.Sleep(20 * time.Millisecond) // ensure A is enqueued/active first
	resB := make(chan defs.Err_t, 1)
	go func() {
		_, err := c.Send(context.Background(), Msg_t{Tag: T_WRITE, Data: []byte("B")})
		resB <- err
	}()

	first := <-order
	second := <-order
	if first != "A" || second != "B" {
		t.Fatalf("FIFO violated: got %q then %q", first, second)
	}
	<-resA
	<-resB
}

func TestSendQueueFullReturnsDistinctError(t *testing.T) {
	c := NewChan(16)
	// fill the receive slot with an unconsumed client, then the queue.
	for i := 0; i < 17; i++ {
		go c.Send(context.Background(), Msg_t{Tag: T_WRITE})
	}
	time.Sleep(20 * time.Millisecond)
	_, err := c.Send(context.Background(), Msg_t{Tag: T_WRITE})
	if err != -defs.EQFULL {
		t.Fatalf("expected EQFULL, got %v", err)
	}
}

func TestCancellationUnblocksSend(t *testing.T) {
	c := NewChan(16)
	ctx, cancel := context.WithCancel(context.Background())
	// occupy the receive slot so the next send queues instead of becoming active.
	go c.Send(context.Background(), Msg_t{Tag: T_WRITE})
	time.Sleep(10 * time.Millisecond)

	res := make(chan defs.Err_t, 1)
	go func() {
		_, err := c.Send(ctx, Msg_t{Tag: T_WRITE})
		res <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-res:
		if err != -defs.ECANCELLED {
			t.Fatalf("expected ECANCELLED, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled send never unblocked")
	}
}
