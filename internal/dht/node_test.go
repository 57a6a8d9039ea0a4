package dht_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
)

type blob []byte

func (b blob) Type() dht.ValueType    { return "TEST" }
func (b blob) Version() dht.Version   { return 3 }
func (b blob) Bytes() ([]byte, error) { return b, nil }

func startNode(t *testing.T) *dht.Node {
	t.Helper()
	cfg := dht.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	n, err := dht.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func TestPutGetAcrossNodes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, b, c := startNode(t), startNode(t), startNode(t)
	if a.Bootstrapped() {
		t.Fatal("fresh node claims to be bootstrapped")
	}
	if !b.Bootstrap(ctx, []string{a.Addr().String()}) {
		t.Fatal("b failed to bootstrap")
	}
	if !c.Bootstrap(ctx, []string{a.Addr().String()}) {
		t.Fatal("c failed to bootstrap")
	}

	key := dht.RandomKUID()
	acks, err := b.Put(ctx, key, blob("hello"))
	if err != nil {
		t.Fatal("put:", err)
	}
	if acks != 2 {
		t.Fatalf("acks = %d, want 2", acks)
	}

	got, err := c.Get(ctx, dht.EntityKey{Key: key, Type: "TEST"})
	if err != nil {
		t.Fatal("get:", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entities, want 1", len(got))
	}
	e := got[0]
	if !bytes.Equal(e.Data, []byte("hello")) || e.Version != 3 {
		t.Fatalf("entity = %+v", e)
	}
	if e.Creator.ID != b.ID || e.Creator.Addr.Port != b.Addr().Port {
		t.Fatalf("creator = %v, want %s", e.Creator, b.Addr())
	}

	if none, err := c.Get(ctx, dht.EntityKey{Key: key, Type: "ELSE"}); err != nil || len(none) != 0 {
		t.Fatalf("other type = %v, %v", none, err)
	}
}

func TestPutWithoutPeers(t *testing.T) {
	n := startNode(t)
	if _, err := n.Put(context.Background(), dht.RandomKUID(), blob("x")); err == nil {
		t.Fatal("put without peers succeeded")
	}
}

func TestPingTimesOut(t *testing.T) {
	a, b := startNode(t), startNode(t)
	addr := b.Addr().String()
	b.Close()
	if err := a.Ping(context.Background(), addr); err == nil {
		t.Fatal("ping to closed node succeeded")
	}
}
