package tigertree_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/BitTorrentFileSharing/limedht/internal/tigertree"
)

func TestKnownRoots(t *testing.T) {
	cases := []struct {
		data []byte
		want string
	}{
		{nil, "LWPNACQDBZRYXW3VHJVCJ64QBZNGHOHHHZWCLNQ"},
		{[]byte{0}, "VK54ZIEEVTWNAUI5D5RDFIL37LX2IQNSTAXFKSA"},
		{bytes.Repeat([]byte("A"), 1024), "L66Q4YVNAFWVS23X2HJIRA5ZJ7WXR3F26RSASFA"},
		{bytes.Repeat([]byte("A"), 1025), "PZMRYHGY6LTBEH63ZWAHDORHSYTLO4LEFUIKHWY"},
	}
	for _, c := range cases {
		root, err := tigertree.FromReader(bytes.NewReader(c.data))
		if err != nil {
			t.Fatal(err)
		}
		if len(root) != tigertree.Size {
			t.Fatalf("root of %d bytes", len(root))
		}
		if got := tigertree.Encode(root); got != c.want {
			t.Fatalf("%d bytes: got %s, want %s", len(c.data), got, c.want)
		}
	}
}

// Ten leaves leave subtrees of unequal height to fold.
func TestChunkedWrites(t *testing.T) {
	var data []byte
	for i := 0; i < 40; i++ {
		for b := 0; b < 256; b++ {
			data = append(data, byte(b))
		}
	}
	const want = "IYK4SS7CTIDIRF6NYNJVZBFNUDTL4BOFRMVZGAY"
	for _, chunk := range []int{1, 7, 1024, 3000, len(data)} {
		tree := tigertree.New()
		for p := data; len(p) > 0; {
			n := min(chunk, len(p))
			tree.Write(p[:n])
			p = p[n:]
		}
		if got := tigertree.Encode(tree.Root()); got != want {
			t.Fatalf("chunk %d: got %s", chunk, got)
		}
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	root, err := tigertree.FromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := tigertree.Encode(root); got != "ASD4UJSEH5M47PDYB46KBTSQTSGDKLBHYXOMUIA" {
		t.Fatalf("got %s", got)
	}
}
