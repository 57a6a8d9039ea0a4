package urn_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

func TestKnownDigests(t *testing.T) {
	cases := map[string]string{
		"abc": "urn:sha1:VGMT4NSHA2AWVOR6EVYXQUGCNSONBWE5",
		"":    "urn:sha1:3I42H3S6NNFQ2MSVX7XZKYAYSCX5QBYJ",
	}
	for data, want := range cases {
		u, err := urn.FromBytes([]byte(data))
		if err != nil {
			t.Fatal(err)
		}
		if u.String() != want {
			t.Errorf("%q: got %s, want %s", data, u, want)
		}
	}
}

func TestFromFileMatchesBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.txt")
	data := []byte(strings.Repeat("A", 1000))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := urn.FromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := urn.FromBytes(data)
	if a != b {
		t.Fatalf("%s != %s", a, b)
	}
}

func TestParse(t *testing.T) {
	u, err := urn.Parse("URN:SHA1:vgmt4nsha2awvor6evyxqugcnsonbwe5")
	if err != nil {
		t.Fatal(err)
	}
	if u.String() != "urn:sha1:VGMT4NSHA2AWVOR6EVYXQUGCNSONBWE5" {
		t.Fatalf("got %s", u)
	}
	for _, bad := range []string{"urn:sha1:", "urn:sha1:!!!!", "urn:sha1:VGMT4NSH"} {
		if _, err := urn.Parse(bad); !errors.Is(err, urn.ErrInvalid) {
			t.Errorf("%q: err = %v", bad, err)
		}
	}
}

func TestJSONUsesText(t *testing.T) {
	u, _ := urn.FromBytes([]byte("abc"))
	b, err := json.Marshal(struct{ U urn.URN }{u})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), u.String()) {
		t.Fatalf("json = %s", b)
	}
	var back struct{ U urn.URN }
	if err := json.Unmarshal(b, &back); err != nil || back.U != u {
		t.Fatalf("back = %v, %v", back.U, err)
	}
}

func TestCIDIsStable(t *testing.T) {
	u, _ := urn.FromBytes([]byte("abc"))
	c := u.CID()
	if c == "" || c != u.CID() || !strings.HasPrefix(c, "b") {
		t.Fatalf("cid = %q", c)
	}
}
