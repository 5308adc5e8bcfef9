package kprof

import (
	"testing"

	"proc"
)

func TestSnapshotProducesGzippedProfile(t *testing.T) {
	tbl := proc.NewTable()
	init := tbl.InitProc(nil)
	init.Acct.Utadd(1000)
	init.Acct.Systadd(500)

	b, err := Snapshot(tbl)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		t.Fatal("Snapshot did not return a gzip-framed pprof profile")
	}
}
