package peer_test

import (
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
	"github.com/BitTorrentFileSharing/limedht/internal/peer"
	"github.com/BitTorrentFileSharing/limedht/internal/protocol"
	"github.com/BitTorrentFileSharing/limedht/internal/storage"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
)

func TestPieceExchange(t *testing.T) {
	pieces := [][]byte{[]byte("first"), []byte("second")}
	var hashes [][]byte
	for _, p := range pieces {
		h := sha1.Sum(p)
		hashes = append(hashes, h[:])
	}
	u, _ := urn.FromBytes([]byte("firstsecond"))
	meta := &metainfo.Meta{FileName: "f", FileLength: 11, PieceSize: 6, Hashes: hashes, URN: u}

	a, b := net.Pipe()
	seederID, leecherID := guid.New(), guid.New()

	seeder := peer.New(a, seederID)
	handshook := make(chan guid.GUID, 1)
	seeder.OnHandshake = func(p *peer.Peer, got urn.URN, remote guid.GUID) bool {
		if got != u {
			return false
		}
		p.Pieces = pieces
		p.Send(protocol.NewHandshake(got, seederID))
		p.Send(protocol.NewBitfield(storage.FullBitfield(len(pieces))))
		handshook <- remote
		return true
	}
	seeder.Start()
	defer seeder.Close()

	leecher := peer.New(b, leecherID)
	leecher.URN = u
	leecher.Meta = meta
	bitfield := make(chan struct{}, 1)
	got := make(chan int, 2)
	leecher.OnBitfield = func() { bitfield <- struct{}{} }
	leecher.OnPiece = func(idx int, data []byte) {
		if string(data) != string(pieces[idx]) {
			t.Errorf("piece %d = %q", idx, data)
		}
		got <- idx
	}
	leecher.Start()
	defer leecher.Close()

	leecher.Send(protocol.NewHandshake(u, leecherID))
	select {
	case remote := <-handshook:
		if remote != leecherID {
			t.Fatalf("seeder saw %s", remote)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no handshake")
	}
	select {
	case <-bitfield:
	case <-time.After(2 * time.Second):
		t.Fatal("no bitfield")
	}
	if !leecher.Has(1) || leecher.Remote() != seederID {
		t.Fatal("leecher state not updated")
	}

	leecher.Send(protocol.NewRequest(1))
	select {
	case idx := <-got:
		if idx != 1 {
			t.Fatalf("got piece %d", idx)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no piece")
	}
}

func TestHandshakeForOtherFileCloses(t *testing.T) {
	a, b := net.Pipe()
	want, _ := urn.FromBytes([]byte("want"))
	other, _ := urn.FromBytes([]byte("other"))

	p := peer.New(a, guid.New())
	p.URN = want
	closed := make(chan struct{})
	p.OnClose = func() { close(closed) }
	p.Start()

	go func() {
		hs := protocol.NewHandshake(other, guid.New())
		_ = hs.Encode(b)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("mismatched handshake accepted")
	}
	b.Close()
}
