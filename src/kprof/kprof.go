// Package kprof snapshots the process table's CPU accounting into a
// standard pprof profile, so an operator can point "go tool pprof" at a
// running Fornax kernel and see per-process user/sys time the same way
// they would profile any other Go program, instead of inventing a
// bespoke text format for /proc's accounting data.
package kprof

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/pprof/profile"

	"proc"
)

// Snapshot builds a pprof profile with one sample per live process: two
// values (user ns, sys ns) attributed to a synthetic location named for
// the pid. It is not a stack-sampled CPU profile — Fornax's accounting is
// per-process totals, not per-call-site — but the pprof wire format is
// still the right fit: every other profiling tool in the Go ecosystem
// already knows how to read it.
func Snapshot(tbl *proc.Table_t) ([]byte, error) {
	prof := &profile.Profile{
		TimeNanos: time.Now().UnixNano(),
		SampleType: []*profile.ValueType{
			{Type: "user", Unit: "nanoseconds"},
			{Type: "sys", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1,
	}

	var nextID uint64 = 1
	for _, pid := range tbl.Pids() {
		p := tbl.Lookup(pid)
		if p == nil {
			continue
		}
		fn := &profile.Function{ID: nextID, Name: fmt.Sprintf("pid-%d", pid)}
		loc := &profile.Location{ID: nextID, Line: []profile.Line{{Function: fn}}}
		nextID++

		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{p.Acct.Userns, p.Acct.Sysns},
		})
	}

	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
