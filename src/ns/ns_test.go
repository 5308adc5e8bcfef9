package ns

import (
	"testing"

	"ipc"
	"ustr"
)

func TestResolveLongestPrefix(t *testing.T) {
	n := New()
	diskCh := ipc.NewChan(16)
	n.Bind(ustr.Ustr([]byte("/")), diskCh, 1, MREPL)

	devCh := ipc.NewChan(16)
	n.Bind(ustr.Ustr([]byte("/dev")), devCh, 1, MREPL)

	e, rest, err := n.Resolve(ustr.Ustr([]byte("/dev/console")))
	if err != 0 {
		t.Fatalf("resolve failed: %v", err)
	}
	if e.Chan != devCh {
		t.Fatal("resolve picked the wrong mount entry")
	}
	if rest.String() != "console" {
		t.Fatalf("remainder = %q, want %q", rest.String(), "console")
	}
}

func TestResolveDoesNotConfuseSiblingPrefixes(t *testing.T) {
	n := New()
	devCh := ipc.NewChan(16)
	n.Bind(ustr.Ustr([]byte("/dev")), devCh, 1, MREPL)

	// "/device" is not a path-component-aligned match for "/dev", and no
	// other bound prefix covers it, so resolution must fail distinctly
	// rather than silently falling into the /dev mount (§4.5 "Resolution
	// failure").
	if _, _, err := n.Resolve(ustr.Ustr([]byte("/device/foo"))); err == 0 {
		t.Fatal("/device wrongly matched the /dev mount")
	}
}

func TestUnmountRemovesMostRecentBinding(t *testing.T) {
	n := New()
	first := ipc.NewChan(16)
	second := ipc.NewChan(16)
	n.Bind(ustr.Ustr([]byte("/x")), first, 1, MREPL)
	n.Bind(ustr.Ustr([]byte("/x")), second, 1, MAFTER)

	if err := n.Unmount(ustr.Ustr([]byte("/x"))); err != 0 {
		t.Fatalf("unmount failed: %v", err)
	}
	e, _, err := n.Resolve(ustr.Ustr([]byte("/x")))
	if err != 0 {
		t.Fatalf("resolve failed: %v", err)
	}
	if e.Chan != first {
		t.Fatal("unmount removed the wrong binding")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	n := New()
	child := n.Clone()
	child.Bind(ustr.Ustr([]byte("/tmp")), ipc.NewChan(16), 1, MREPL)

	if _, _, err := n.Resolve(ustr.Ustr([]byte("/tmp"))); err == 0 {
		t.Fatal("parent namespace observed a mutation made on the clone")
	}
}
