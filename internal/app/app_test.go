package app_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/app"
	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/dhtvalue"
	"github.com/BitTorrentFileSharing/limedht/internal/settings"
	"github.com/BitTorrentFileSharing/limedht/internal/storage"
)

func TestParseFlags(t *testing.T) {
	cfg, err := app.ParseFlags([]string{
		"-get", "urn:sha1:VGMT4NSHA2AWVOR6EVYXQUGCNSONBWE5",
		"-bootstrap", "127.0.0.1:1, 127.0.0.1:2",
		"-firewalled", "-proxies", "1.2.3.4:6346",
		"-keep", "5",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Bootstrap(); len(got) != 2 || got[1] != "127.0.0.1:2" {
		t.Fatalf("bootstrap %v", got)
	}
	proxies, _ := cfg.Proxies()
	if len(proxies) != 1 || proxies[0].Addr.Port() != 6346 {
		t.Fatalf("proxies %v", proxies)
	}
	if cfg.Keep() != 5*time.Second {
		t.Fatalf("keep %v", cfg.Keep())
	}

	bad := [][]string{
		{},
		{"-get", "urn:sha1:not-base32"},
		{"-share", "x", "-firewalled"},
		{"-share", "x", "-proxies", "nonsense"},
	}
	for _, args := range bad {
		if _, err := app.ParseFlags(args); err == nil {
			t.Fatalf("%v accepted", args)
		}
	}
}

func startNode(t *testing.T, cfg *app.Config) *app.Node {
	t.Helper()
	cfg.Listen = "127.0.0.1:0"
	cfg.DHTListen = "127.0.0.1:0"
	n, err := app.Start(context.Background(), cfg, settings.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShareAndDownloadOverDHT(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	tmp := t.TempDir()
	src := filepath.Join(tmp, "song.mp3")
	data := make([]byte, 2*storage.DefaultPiece+1234)
	_, _ = rand.Read(data)
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}

	seeder := startNode(t, &app.Config{})
	shared, err := seeder.Share(src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src + ".bit"); err != nil {
		t.Fatal("descriptor not written:", err)
	}

	leecher := startNode(t, &app.Config{BootstrapCSV: seeder.DHT.Addr().String()})
	if !seeder.DHT.Bootstrapped() {
		t.Fatal("seeder did not join through the leecher's ping")
	}
	if n := seeder.PublishNow(); n != 1 {
		t.Fatalf("queued %d stores", n)
	}
	waitFor(t, "stored alt-loc", func() bool { return leecher.DHT.DB.Count() == 1 })

	entities, _ := leecher.DHT.DB.Get(dht.KUIDFromURN(shared.Meta.URN), dhtvalue.AltLocType)
	if len(entities) != 1 || entities[0].Creator.ID != seeder.DHT.ID {
		t.Fatalf("entities %v", entities)
	}

	outDir := filepath.Join(tmp, "out")
	out, err := leecher.Download(ctx, shared.Meta.URN, nil, outDir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded file differs")
	}
	if _, ok := leecher.Library.Get(shared.Meta.URN); !ok {
		t.Fatal("download not shared")
	}
	if locs := leecher.AltLocs.Get(shared.Meta.URN); len(locs) != 1 || locs[0].Direct.Port() != uint16(seeder.TCPAddr().Port) {
		t.Fatalf("locations %v", locs)
	}
}

func TestDownloadWithoutLocations(t *testing.T) {
	seeder := startNode(t, &app.Config{})
	leecher := startNode(t, &app.Config{BootstrapCSV: seeder.DHT.Addr().String()})

	cfg, _ := app.ParseFlags([]string{"-get", "urn:sha1:VGMT4NSHA2AWVOR6EVYXQUGCNSONBWE5"})
	u, _ := cfg.Target()
	if _, err := leecher.Download(context.Background(), u, nil, t.TempDir()); err == nil {
		t.Fatal("download without locations succeeded")
	}
}

func TestFirewalledNodePublishesProxies(t *testing.T) {
	peerNode := startNode(t, &app.Config{})
	s := settings.Defaults()
	cfg := &app.Config{
		Listen:       "127.0.0.1:0",
		DHTListen:    "127.0.0.1:0",
		BootstrapCSV: peerNode.DHT.Addr().String(),
		Firewalled:   true,
		ProxiesCSV:   "1.2.3.4:6346",
	}
	n, err := app.Start(context.Background(), cfg, s)
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()

	info := n.HostInfo()
	if !info.Firewalled || len(info.Proxies) != 1 || info.FWTVersion == 0 {
		t.Fatalf("host info %+v", info)
	}
	// The first round only starts the stability clock.
	if got := n.PublishNow(); got != 0 {
		t.Fatalf("queued %d before proxies were stable", got)
	}
}
