package altloc_test

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/altloc"
	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/dhtvalue"
	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/push"
	"github.com/BitTorrentFileSharing/limedht/internal/settings"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

// fakeDHT answers Get from a fixed table of entities.
type fakeDHT struct {
	bootstrapped bool
	values       map[dht.EntityKey][]dht.Entity
	block        chan struct{}
}

func newFakeDHT() *fakeDHT {
	return &fakeDHT{bootstrapped: true, values: make(map[dht.EntityKey][]dht.Entity)}
}

func (f *fakeDHT) Bootstrapped() bool { return f.bootstrapped }

func (f *fakeDHT) Put(context.Context, dht.KUID, dht.Value) (int, error) { return 0, nil }

func (f *fakeDHT) Get(ctx context.Context, key dht.EntityKey) ([]dht.Entity, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.values[key], nil
}

func (f *fakeDHT) add(t *testing.T, key dht.KUID, creator dht.Contact, v dht.Value) {
	t.Helper()
	data, err := v.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	ek := dht.EntityKey{Key: key, Type: v.Type()}
	f.values[ek] = append(f.values[ek], dht.Entity{
		Key: key, Type: v.Type(), Version: v.Version(), Creator: creator, Data: data, Created: time.Now(),
	})
}

func contact(ip string) dht.Contact {
	return dht.Contact{ID: dht.RandomKUID(), Addr: &net.UDPAddr{IP: net.ParseIP(ip), Port: 5000}}
}

type recorder struct {
	mu    sync.Mutex
	locs  []*altloc.AlternateLocation
	dones []bool
	done  chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 8)} }

func (r *recorder) HandleAlternateLocation(loc *altloc.AlternateLocation) {
	r.mu.Lock()
	r.locs = append(r.locs, loc)
	r.mu.Unlock()
}

func (r *recorder) HandleSearchDone(found bool) {
	r.mu.Lock()
	r.dones = append(r.dones, found)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func testURN(t *testing.T) urn.URN {
	u, err := urn.FromBytes([]byte("some file"))
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func newFinder(client dht.Client) (*altloc.Finder, *altloc.Manager, *push.Manager) {
	m := altloc.NewManager()
	pm := push.NewManager(push.NewDHTFinder(client), time.Minute, time.Minute)
	return altloc.NewFinder(client, m, pm, settings.Defaults()), m, pm
}

func TestFindDirectAltLoc(t *testing.T) {
	client := newFakeDHT()
	u := testURN(t)
	v, _ := dhtvalue.NewAltLocValue(guid.New(), 6346, 9, nil, false, true)
	client.add(t, dht.KUIDFromURN(u), contact("10.1.2.3"), v)

	f, m, _ := newFinder(client)
	r := newRecorder()
	if err := f.FindAltLocs(context.Background(), u, r); err != nil {
		t.Fatal(err)
	}
	if len(r.dones) != 1 || !r.dones[0] {
		t.Fatalf("done calls %v", r.dones)
	}
	if len(r.locs) != 1 {
		t.Fatalf("%d locations", len(r.locs))
	}
	loc := r.locs[0]
	if loc.Direct.String() != "10.1.2.3:6346" || !loc.TLS || loc.FileSize != 9 || loc.IsPush() {
		t.Fatalf("location %s", loc)
	}
	if m.Count(u) != 1 {
		t.Fatal("location not added to the manager")
	}
}

func TestFindFirewalledAltLocChecksCreator(t *testing.T) {
	client := newFakeDHT()
	u := testURN(t)
	g := guid.New()
	creator := contact("10.0.0.7")

	aloc, _ := dhtvalue.NewAltLocValue(g, 6346, 9, nil, true, false)
	client.add(t, dht.KUIDFromURN(u), creator, aloc)

	proxies := []dhtvalue.Proxy{{Addr: netip.MustParseAddrPort("1.2.3.4:6346")}}
	prox, _ := dhtvalue.NewPushProxiesValue(g, 0, 1, 6346, proxies)
	client.add(t, dht.KUIDFromGUID(g), contact("10.9.9.9"), prox) // someone else
	client.add(t, dht.KUIDFromGUID(g), creator, prox)

	f, m, pm := newFinder(client)
	r := newRecorder()
	if err := f.FindAltLocs(context.Background(), u, r); err != nil {
		t.Fatal(err)
	}
	if len(r.dones) != 1 || !r.dones[0] {
		t.Fatalf("done calls %v", r.dones)
	}
	if len(r.locs) != 1 || !r.locs[0].IsPush() {
		t.Fatalf("locations %v", r.locs)
	}
	if ext := r.locs[0].Push.External.String(); ext != "10.0.0.7:6346" {
		t.Fatalf("external %s", ext)
	}
	if m.Count(u) != 1 || pm.Len() != 1 {
		t.Fatalf("manager=%d endpoints=%d", m.Count(u), pm.Len())
	}
}

func TestFirewalledWithoutMatchingProxiesIsNotFound(t *testing.T) {
	client := newFakeDHT()
	u := testURN(t)
	g := guid.New()
	aloc, _ := dhtvalue.NewAltLocValue(g, 6346, 9, nil, true, false)
	client.add(t, dht.KUIDFromURN(u), contact("10.0.0.7"), aloc)
	prox, _ := dhtvalue.NewPushProxiesValue(g, 0, 0, 6346, nil)
	client.add(t, dht.KUIDFromGUID(g), contact("10.9.9.9"), prox)

	f, _, _ := newFinder(client)
	r := newRecorder()
	_ = f.FindAltLocs(context.Background(), u, r)
	if len(r.dones) != 1 || r.dones[0] || len(r.locs) != 0 {
		t.Fatalf("dones=%v locs=%v", r.dones, r.locs)
	}
}

func TestFindAltLocsPreconditions(t *testing.T) {
	client := newFakeDHT()
	client.bootstrapped = false
	f, _, _ := newFinder(client)
	r := newRecorder()
	if err := f.FindAltLocs(context.Background(), testURN(t), r); !errors.Is(err, altloc.ErrNotBootstrapped) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.Search(testURN(t), r); !errors.Is(err, altloc.ErrNotBootstrapped) {
		t.Fatalf("Search err = %v", err)
	}

	s := settings.Defaults()
	s.EnableAltLocQueries = false
	s.EnablePushProxyQueries = false
	off := altloc.NewFinder(newFakeDHT(), altloc.NewManager(), nil, s)
	if err := off.FindAltLocs(context.Background(), testURN(t), r); !errors.Is(err, altloc.ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
	if _, err := off.AlternateLocation(context.Background(), guid.New(), testURN(t)); !errors.Is(err, altloc.ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
	if len(r.dones) != 0 {
		t.Fatal("listener called for a search that never started")
	}
}

func TestSearchCancel(t *testing.T) {
	client := newFakeDHT()
	client.block = make(chan struct{})
	f, _, _ := newFinder(client)
	r := newRecorder()
	cancel, err := f.Search(testURN(t), r)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("search never finished")
	}
	if len(r.dones) != 1 || r.dones[0] {
		t.Fatalf("dones %v", r.dones)
	}
}

func TestBlockingAlternateLocation(t *testing.T) {
	client := newFakeDHT()
	g := guid.New()
	prox, _ := dhtvalue.NewPushProxiesValue(g, 0, 1, 7000,
		[]dhtvalue.Proxy{{Addr: netip.MustParseAddrPort("1.2.3.4:1")}})
	client.add(t, dht.KUIDFromGUID(g), contact("10.0.0.8"), prox)
	f, _, _ := newFinder(client)

	loc, err := f.AlternateLocation(context.Background(), g, testURN(t))
	if err != nil {
		t.Fatal(err)
	}
	if !loc.IsPush() || loc.Push.GUID != g {
		t.Fatalf("location %s", loc)
	}
	if _, err := f.AlternateLocation(context.Background(), guid.New(), testURN(t)); !errors.Is(err, altloc.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestManagerDedupAndSubscribe(t *testing.T) {
	m := altloc.NewManager()
	u := testURN(t)
	var heard []*altloc.AlternateLocation
	unsubscribe := m.Subscribe(u, func(l *altloc.AlternateLocation) { heard = append(heard, l) })

	a, _ := altloc.NewDirect(u, netip.MustParseAddrPort("10.0.0.1:1"), false, 1, nil)
	b, _ := altloc.NewDirect(u, netip.MustParseAddrPort("10.0.0.1:1"), true, 1, nil)
	ep := push.NewEndpoint(guid.New(), 0, 0, netip.AddrPort{}, nil)
	p, _ := altloc.NewPush(u, ep)

	if !m.Add(p, "test") || !m.Add(a, "test") || m.Add(b, "test") {
		t.Fatal("duplicate handling broken")
	}
	if got := m.Get(u); len(got) != 2 || got[0] != a || got[1] != p {
		t.Fatalf("Get = %v", got)
	}
	if len(heard) != 2 {
		t.Fatalf("listener heard %d", len(heard))
	}
	unsubscribe()
	if !m.Remove(a) || m.Remove(a) || m.Count(u) != 1 {
		t.Fatal("Remove broken")
	}
	a2, _ := altloc.NewDirect(u, netip.MustParseAddrPort("10.0.0.2:1"), false, 1, nil)
	m.Add(a2, "test")
	if len(heard) != 2 {
		t.Fatal("listener called after unsubscribe")
	}

	if _, err := altloc.NewDirect(u, netip.MustParseAddrPort("0.0.0.0:1"), false, 1, nil); !errors.Is(err, altloc.ErrInvalidLocation) {
		t.Fatalf("err = %v", err)
	}
}
