// Package tigertree computes THEX tree roots: Tiger hashes over 1024 byte
// leaves, combined pairwise up to a single 24 byte root.
package tigertree

import (
	"encoding/base32"
	"io"
	"os"

	"github.com/cxmcc/tiger"
)

const (
	Size     = tiger.Size
	LeafSize = 1024

	leafPrefix     = 0x00
	internalPrefix = 0x01
)

type node struct {
	level int
	sum   []byte
}

// Tree hashes everything written to it. The zero value is not usable, call New.
type Tree struct {
	buf    []byte
	stack  []node
	leaves int
}

func New() *Tree { return &Tree{buf: make([]byte, 0, LeafSize)} }

func leaf(data []byte) []byte {
	h := tiger.New()
	h.Write([]byte{leafPrefix})
	h.Write(data)
	return h.Sum(nil)
}

func internal(left, right []byte) []byte {
	h := tiger.New()
	h.Write([]byte{internalPrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func (t *Tree) push(sum []byte) {
	t.leaves++
	n := node{sum: sum}
	for len(t.stack) > 0 && t.stack[len(t.stack)-1].level == n.level {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		n = node{level: n.level + 1, sum: internal(top.sum, n.sum)}
	}
	t.stack = append(t.stack, n)
}

func (t *Tree) Write(p []byte) (int, error) {
	written := len(p)
	for len(p) > 0 {
		take := min(LeafSize-len(t.buf), len(p))
		t.buf = append(t.buf, p[:take]...)
		p = p[take:]
		if len(t.buf) == LeafSize {
			t.push(leaf(t.buf))
			t.buf = t.buf[:0]
		}
	}
	return written, nil
}

// Root returns the tree root of the bytes written so far. An odd node on
// any level is promoted unchanged, so the unequal subtrees left on the
// stack fold from the right.
func (t *Tree) Root() []byte {
	stack := append([]node(nil), t.stack...)
	if len(t.buf) > 0 || t.leaves == 0 {
		stack = append(stack, node{sum: leaf(t.buf)})
	}
	sum := stack[len(stack)-1].sum
	for i := len(stack) - 2; i >= 0; i-- {
		sum = internal(stack[i].sum, sum)
	}
	return sum
}

// Encode renders a root the way Gnutella prints it, unpadded base32.
func Encode(root []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(root)
}

func FromReader(r io.Reader) ([]byte, error) {
	t := New()
	if _, err := io.Copy(t, r); err != nil {
		return nil, err
	}
	return t.Root(), nil
}

func FromFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return FromReader(f)
}
