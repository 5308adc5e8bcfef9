// Package ipc implements Fornax's synchronous rendezvous channels: a single
// server receive slot plus a bounded FIFO client wait queue (§3 Channel,
// §4.4 IPC). The teacher kernel blocks real kernel threads on a per-channel
// spinlock/condvar pair; Fornax's processes and threads are themselves
// goroutines (package proc), so blocking here just means parking the
// calling goroutine on a channel receive — the scheduling decision of "what
// runs next" is made by the Go runtime instead of a hand-rolled ready queue,
// which is the correct translation of a cooperative single-core scheduler
// onto a host that already has one.
package ipc

import (
	"context"
	"fmt"
	"sync"

	"caller"
	"defs"
)

// 9P-like tags (§6).
const (
	T_OPEN   = 1
	T_CREATE = 2
	T_READ   = 3
	T_WRITE  = 4
	T_STAT   = 5
	T_WSTAT  = 6
	T_CLOSE  = 7
	T_REMOVE = 8

	R_OK    = 0x80
	R_ERROR = 0x81
)

// Msg_t is the fixed-layout IPC message (§6): a tag, a data length, and up
// to defs.MaxMsgData bytes of payload.
type Msg_t struct {
	Tag  uint32
	Data []uint8
}

type replyMsg struct {
	msg Msg_t
	err defs.Err_t
}

// Client_t is the token Recv hands back to the server; Reply requires it to
// make sure a reply can only ever target the client that's actually
// currently-served.
type Client_t struct {
	msg       Msg_t
	delivered bool
	cancelled bool
	replyCh   chan replyMsg
}

// Chan_t is one server's IPC endpoint.
type Chan_t struct {
	mu      sync.Mutex
	active  *Client_t
	queue   []*Client_t
	cap     int
	signal  chan struct{}
	closed  bool
}

// NewChan creates a channel with the given client queue capacity (§3
// Channel: "capacity ≥ 16").
func NewChan(capacity int) *Chan_t {
	if capacity < 16 {
		capacity = 16
	}
	return &Chan_t{cap: capacity, signal: make(chan struct{}, 1)}
}

// sendTrace flags the first Send from each distinct call chain once
// enabled, showing every site that sends on a channel; a later Send from
// an already-flagged site is not flagged again (disabled by default — see
// EnableSendTrace).
var sendTrace = &caller.Distinct_caller_t{Whitel: map[string]bool{}}

// EnableSendTrace turns on Send call-site tracing for debugging a client
// that appears to be racing its own replies. whitelist names functions
// (as runtime.FuncForPC would report them) that are known to legitimately
// call Send repeatedly and shouldn't be flagged.
func EnableSendTrace(whitelist ...string) {
	sendTrace.Lock()
	sendTrace.Enabled = true
	if sendTrace.Whitel == nil {
		sendTrace.Whitel = map[string]bool{}
	}
	for _, w := range whitelist {
		sendTrace.Whitel[w] = true
	}
	sendTrace.Unlock()
}

func (c *Chan_t) wake() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Send implements ipc_send: if the receive slot is free, the message is
// placed directly and the caller waits for a reply; otherwise the caller is
// enqueued FIFO and waits for both promotion and reply. ctx cancellation
// models a kill delivered while the thread is blocked in IPC (§4.4
// Cancellation, §5).
func (c *Chan_t) Send(ctx context.Context, msg Msg_t) (Msg_t, defs.Err_t) {
	if novel, trace := sendTrace.Distinct(); novel {
		fmt.Printf("ipc: new Send call chain (tag %d):\n%s", msg.Tag, trace)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Msg_t{}, -defs.ECANCELLED
	}
	if len(c.queue) >= c.cap {
		c.mu.Unlock()
		return Msg_t{}, -defs.EQFULL
	}
	cl := &Client_t{msg: msg, replyCh: make(chan replyMsg, 1)}
	if c.active == nil {
		c.active = cl
		c.wake()
	} else {
		c.queue = append(c.queue, cl)
	}
	c.mu.Unlock()

	select {
	case r := <-cl.replyCh:
		return r.msg, r.err
	case <-ctx.Done():
		c.mu.Lock()
		cl.cancelled = true
		if c.active != cl {
			for i, o := range c.queue {
				if o == cl {
					c.queue = append(c.queue[:i], c.queue[i+1:]...)
					break
				}
			}
		}
		c.mu.Unlock()
		return Msg_t{}, -defs.ECANCELLED
	}
}

// Recv implements ipc_recv: blocks until a message is pending, then returns
// it along with the Client_t token Reply will need.
func (c *Chan_t) Recv(ctx context.Context) (Msg_t, *Client_t, defs.Err_t) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return Msg_t{}, nil, -defs.ECANCELLED
		}
		if c.active != nil && !c.active.delivered {
			c.active.delivered = true
			cl := c.active
			msg := cl.msg
			c.mu.Unlock()
			return msg, cl, 0
		}
		c.mu.Unlock()
		select {
		case <-c.signal:
		case <-ctx.Done():
			return Msg_t{}, nil, -defs.ECANCELLED
		}
	}
}

// Reply implements ipc_reply: wakes the currently-served client with msg
// (unless it was cancelled, in which case the reply is silently dropped —
// the open cancellation question in §9 resolved in favor of the behavior
// the spec text itself proposes) and promotes the next queued client, if
// any, into the receive slot.
func (c *Chan_t) Reply(cl *Client_t, msg Msg_t) defs.Err_t {
	c.mu.Lock()
	if c.active != cl || !cl.delivered {
		c.mu.Unlock()
		return -defs.EINVAL
	}
	c.active = nil
	var next *Client_t
	if len(c.queue) > 0 {
		next = c.queue[0]
		c.queue = c.queue[1:]
		c.active = next
	}
	cancelled := cl.cancelled
	c.mu.Unlock()

	if !cancelled {
		cl.replyCh <- replyMsg{msg: msg, err: 0}
	}
	if next != nil {
		c.wake()
	}
	return 0
}

// Close tears the channel down when its owning server exits, failing every
// queued and currently-served client with cancellation.
func (c *Chan_t) Close() {
	c.mu.Lock()
	c.closed = true
	pending := c.queue
	active := c.active
	c.queue = nil
	c.active = nil
	c.mu.Unlock()

	if active != nil && !active.cancelled {
		active.replyCh <- replyMsg{err: -defs.ECANCELLED}
	}
	for _, cl := range pending {
		cl.replyCh <- replyMsg{err: -defs.ECANCELLED}
	}
	c.wake()
}
