// Package bpath canonicalizes Plan-9-style paths: it resolves "." and ".."
// components, collapses repeated slashes, and produces a path a namespace's
// mount table can do prefix matching against (see §4.5 Namespaces and
// fd.Cwd_t.Canonicalpath).
package bpath

import (
	"golang.org/x/text/unicode/norm"

	"ustr"
)

// Canonicalize resolves p into an absolute, normalized path. Unicode path
// components are put in Normalization Form C first: two processes that
// mount the same server under visually identical but differently-encoded
// names (e.g. a combining accent vs. its precomposed form) must resolve to
// the same mount entry, or namespace lookups become nondeterministic in a
// way unrelated to kernel logic.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	normalized := norm.NFC.Bytes([]byte(p))

	parts := split(normalized)
	stack := make([][]byte, 0, len(parts))
	for _, c := range parts {
		switch {
		case len(c) == 0:
			continue
		case string(c) == ".":
			continue
		case string(c) == "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}

	out := []byte{'/'}
	for i, c := range stack {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, c...)
	}
	return ustr.Ustr(out)
}

// Join canonicalizes base joined with rel the way Cwd_t.Fullpath does for a
// relative path argument.
func Join(base, rel ustr.Ustr) ustr.Ustr {
	if rel.IsAbsolute() {
		return Canonicalize(rel)
	}
	return Canonicalize(base.Extend(rel))
}

// split breaks a path on '/' without allocating a slice of strings, since
// kernel code runs on every open() and large paths are the common case for
// a pathological workload.
func split(p []byte) [][]byte {
	var parts [][]byte
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
