package dhtvalue_test

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/dhtvalue"
	"github.com/BitTorrentFileSharing/limedht/internal/ggep"
	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/pkg/errors"
)

func testGUID() guid.GUID {
	var g guid.GUID
	for i := range g {
		g[i] = byte(i + 1)
	}
	return g
}

func TestAltLocRoundTrip(t *testing.T) {
	root := bytes.Repeat([]byte{0xAB}, dhtvalue.TTRootSize)
	v, err := dhtvalue.NewAltLocValue(testGUID(), 6346, 1<<33, root, true, true)
	if err != nil {
		t.Fatal(err)
	}
	data, err := v.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := dhtvalue.Decode(dhtvalue.AltLocType, dhtvalue.AltLocVersion, data)
	if err != nil {
		t.Fatal(err)
	}
	loc := got.(*dhtvalue.AltLocValue)
	if loc.GUID != v.GUID || loc.Port != 6346 || loc.FileSize != 1<<33 ||
		!loc.Firewalled || !loc.TLS || !bytes.Equal(loc.RootHash, root) {
		t.Fatalf("decoded %s", loc)
	}
}

func TestAltLocPortIsBigEndian(t *testing.T) {
	v, _ := dhtvalue.NewAltLocValue(testGUID(), 0x1234, 10, nil, false, false)
	data, _ := v.Bytes()
	b, err := ggep.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if p := b.Get("port"); !bytes.Equal(p, []byte{0x12, 0x34}) {
		t.Fatalf("port bytes %x", p)
	}
	if b.Has("tls") || b.Has("ttroot") {
		t.Fatal("optional keys written")
	}
}

func TestLegacyAltLocHasNoLength(t *testing.T) {
	v, err := dhtvalue.LegacyAltLocValue(testGUID(), 6346, false, false)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := v.Bytes()
	got, err := dhtvalue.DecodeAltLocValue(dhtvalue.AltLocVersion0, data)
	if err != nil {
		t.Fatal(err)
	}
	if got.FileSize != -1 || got.Version() != dhtvalue.AltLocVersion0 {
		t.Fatalf("decoded %s", got)
	}
	// Version 1 requires the length.
	if _, err := dhtvalue.DecodeAltLocValue(dhtvalue.AltLocVersion1, data); !errors.Is(err, dhtvalue.ErrInvalidValue) {
		t.Fatalf("err = %v", err)
	}
}

func TestAltLocRejectsBadFields(t *testing.T) {
	if _, err := dhtvalue.NewAltLocValue(testGUID(), 0, 1, nil, false, false); !errors.Is(err, dhtvalue.ErrInvalidValue) {
		t.Fatalf("zero port: %v", err)
	}
	if _, err := dhtvalue.NewAltLocValue(testGUID(), 1, 1, []byte{1, 2}, false, false); !errors.Is(err, dhtvalue.ErrInvalidValue) {
		t.Fatalf("short ttroot: %v", err)
	}

	b := ggep.New()
	_ = b.Put("client-id", testGUID().Bytes()[:15])
	_ = b.Put("port", []byte{0, 1})
	_ = b.Put("firewalled", []byte{0})
	_ = b.PutLong("length", 1)
	data, _ := b.MarshalBinary()
	if _, err := dhtvalue.DecodeAltLocValue(1, data); !errors.Is(err, dhtvalue.ErrInvalidValue) {
		t.Fatalf("short guid: %v", err)
	}

	_ = b.Put("client-id", testGUID().Bytes())
	_ = b.Put("firewalled", []byte{2})
	data, _ = b.MarshalBinary()
	if _, err := dhtvalue.DecodeAltLocValue(1, data); !errors.Is(err, dhtvalue.ErrInvalidValue) {
		t.Fatalf("firewalled=2: %v", err)
	}

	if _, err := dhtvalue.DecodeAltLocValue(1, []byte{1, 2, 3, 4}); !errors.Is(err, dhtvalue.ErrInvalidValue) {
		t.Fatalf("garbage: %v", err)
	}
}

func TestPushProxiesRoundTrip(t *testing.T) {
	proxies := []dhtvalue.Proxy{
		{Addr: netip.MustParseAddrPort("1.2.3.4:6346")},
		{Addr: netip.MustParseAddrPort("5.6.7.8:1000"), TLS: true},
	}
	v, err := dhtvalue.NewPushProxiesValue(testGUID(), 1, 2, 7000, proxies)
	if err != nil {
		t.Fatal(err)
	}
	data, err := v.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	b, _ := ggep.Parse(data)
	want := []byte{1, 2, 3, 4, 0xCA, 0x18, 5, 6, 7, 8, 0xE8, 0x03}
	if got := b.Get("proxies"); !bytes.Equal(got, want) {
		t.Fatalf("packed proxies %x, want %x", got, want)
	}
	if got := b.Get("tls"); !bytes.Equal(got, []byte{0x40}) {
		t.Fatalf("tls bits %x", got)
	}

	got, err := dhtvalue.DecodePushProxiesValue(0, data)
	if err != nil {
		t.Fatal(err)
	}
	if got.GUID != v.GUID || got.Features != 1 || got.FWTVersion != 2 || got.Port != 7000 {
		t.Fatalf("decoded %s", got)
	}
	if len(got.Proxies) != 2 || got.Proxies[0] != proxies[0] || got.Proxies[1] != proxies[1] {
		t.Fatalf("proxies %v", got.Proxies)
	}
}

func TestPushProxiesDecodeFiltersAndCaps(t *testing.T) {
	var packed []byte
	entries := [][]byte{
		{0, 0, 0, 0, 1, 0}, // unspecified
		{1, 1, 1, 1, 0, 0}, // zero port
		{1, 1, 1, 1, 1, 0},
		{2, 2, 2, 2, 1, 0},
		{3, 3, 3, 3, 1, 0},
		{4, 4, 4, 4, 1, 0},
		{5, 5, 5, 5, 1, 0},
	}
	for _, e := range entries {
		packed = append(packed, e...)
	}
	b := ggep.New()
	_ = b.Put("client-id", testGUID().Bytes())
	_ = b.Put("features", []byte{0})
	_ = b.PutInt("fwt-version", 0)
	_ = b.Put("port", []byte{0x18, 0xCA})
	_ = b.Put("proxies", packed)
	_ = b.Put("tls", []byte{0x20}) // third entry
	data, _ := b.MarshalBinary()

	v, err := dhtvalue.DecodePushProxiesValue(0, data)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Proxies) != dhtvalue.MaxProxies {
		t.Fatalf("%d proxies", len(v.Proxies))
	}
	if v.Proxies[0].Addr.String() != "1.1.1.1:1" || !v.Proxies[0].TLS || v.Proxies[1].TLS {
		t.Fatalf("proxies %v", v.Proxies)
	}
	if v.Proxies[3].Addr.String() != "4.4.4.4:1" {
		t.Fatalf("last proxy %v", v.Proxies[3])
	}
}

func TestPushProxiesRejectsTooMany(t *testing.T) {
	p := dhtvalue.Proxy{Addr: netip.MustParseAddrPort("1.2.3.4:1")}
	_, err := dhtvalue.NewPushProxiesValue(testGUID(), 0, 0, 1, []dhtvalue.Proxy{p, p, p, p, p})
	if !errors.Is(err, dhtvalue.ErrInvalidValue) {
		t.Fatalf("err = %v", err)
	}
}

func TestPrivateGroupsRoundTrip(t *testing.T) {
	for _, addr := range []string{"10.0.0.1:5222", "[2001:db8::1]:5222"} {
		v, err := dhtvalue.NewPrivateGroupsValue("alice", netip.MustParseAddrPort(addr))
		if err != nil {
			t.Fatal(err)
		}
		data, err := v.Bytes()
		if err != nil {
			t.Fatal(err)
		}
		got, err := dhtvalue.Decode(dhtvalue.PrivateGroupsType, 0, data)
		if err != nil {
			t.Fatal(err)
		}
		if *got.(*dhtvalue.PrivateGroupsValue) != *v {
			t.Fatalf("decoded %+v, want %+v", got, v)
		}
	}
	if _, err := dhtvalue.NewPrivateGroupsValue("", netip.MustParseAddrPort("10.0.0.1:1")); err == nil {
		t.Fatal("empty username accepted")
	}
	if _, err := dhtvalue.NewPrivateGroupsValue("\xff\xfe", netip.MustParseAddrPort("10.0.0.1:1")); !errors.Is(err, dhtvalue.ErrInvalidValue) {
		t.Fatalf("non utf-8 username: %v", err)
	}

	b := ggep.New()
	_ = b.Put("username", []byte{0xff, 0xfe})
	_ = b.Put("ip", []byte{10, 0, 0, 1})
	_ = b.Put("port", []byte{0x14, 0x66})
	data, _ := b.MarshalBinary()
	if _, err := dhtvalue.DecodePrivateGroupsValue(0, data); !errors.Is(err, dhtvalue.ErrInvalidValue) {
		t.Fatalf("decoded non utf-8 username: %v", err)
	}
}

func TestDecodeEntityUnknownType(t *testing.T) {
	_, err := dhtvalue.DecodeEntity(dht.Entity{Type: "BOGUS", Data: []byte{0xC3}})
	if !errors.Is(err, dhtvalue.ErrUnknownType) {
		t.Fatalf("err = %v", err)
	}
}
