// Package oommsg carries out-of-memory notifications from the PMM (package
// mem) to whatever policy decides how to respond — today that's the
// supervisor, which always declines, so the allocation fails with ENOMEM.
package oommsg

// OomCh is sent an Oommsg_t whenever an allocation path wants a chance at
// reclaiming memory before it fails outright.
var OomCh chan Oommsg_t = make(chan Oommsg_t)

// Oommsg_t describes an in-progress low-memory condition: Need is the
// number of frames the stalled caller is short, and Resume is signaled once
// the listener has done what it can (true if it believes progress is now
// possible, false to give up immediately).
type Oommsg_t struct {
	Need   int
	Resume chan bool
}
