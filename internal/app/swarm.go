package app

import (
	"context"
	"math/rand"
	"net"
	"net/netip"
	"path/filepath"
	"sync"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/BitTorrentFileSharing/limedht/internal/peer"
	"github.com/BitTorrentFileSharing/limedht/internal/protocol"
	"github.com/BitTorrentFileSharing/limedht/internal/storage"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

// Swarm manages peers
type Swarm struct {
	Sess  *Session // Shared pieces & bitfield
	Peers []*peer.Peer
	mu    sync.Mutex

	id      guid.GUID
	dialed  map[netip.AddrPort]bool
	destDir string

	// state for rarest-first
	availability []int

	isDone chan struct{}
	once   sync.Once
	out    string
	err    error
}

const (
	tickerPeriod = 500 * time.Millisecond
	dialTimeout  = 5 * time.Second
)

// Creates new swarm taking session
func NewSwarm(sess *Session, id guid.GUID, destDir string) *Swarm {
	return &Swarm{
		Sess:         sess,
		id:           id,
		dialed:       make(map[netip.AddrPort]bool),
		destDir:      destDir,
		availability: make([]int, len(sess.Meta.Hashes)),
		isDone:       make(chan struct{}),
	}
}

// Dial connects to addr and attaches the peer. Addresses are dialed once.
func (sw *Swarm) Dial(addr netip.AddrPort) {
	sw.mu.Lock()
	if sw.dialed[addr] {
		sw.mu.Unlock()
		return
	}
	sw.dialed[addr] = true
	sw.mu.Unlock()

	go func() {
		conn, err := net.DialTimeout("tcp", addr.String(), dialTimeout)
		if err != nil {
			logger.Log("dial_err", map[string]any{"peer": addr.String(), "err": err.Error()})
			return
		}
		logger.Log("joined_to_peer", map[string]any{"peer": addr.String()})

		p := peer.New(conn, sw.id)
		p.URN = sw.Sess.Meta.URN
		p.Meta = sw.Sess.Meta
		p.OnBitfield = func() { sw.requestNext() }
		p.OnPiece = func(idx int, data []byte) { sw.onPiece(p, idx, data) }
		p.OnClose = func() { sw.remove(p) }

		sw.mu.Lock()
		sw.Peers = append(sw.Peers, p)
		sw.mu.Unlock()

		p.Start()
		p.Send(protocol.NewHandshake(sw.Sess.Meta.URN, sw.id))
		bf, _ := sw.Sess.Snapshot()
		p.Send(protocol.NewBitfield(bf))
	}()
}

func (sw *Swarm) remove(p *peer.Peer) {
	logger.Log("leave", map[string]any{"peer": p.String()})
	sw.mu.Lock()
	defer sw.mu.Unlock()
	for i, q := range sw.Peers {
		if q == p {
			sw.Peers = append(sw.Peers[:i], sw.Peers[i+1:]...)
			return
		}
	}
}

// Central callback when any peer delivers a verified piece
func (sw *Swarm) onPiece(src *peer.Peer, idx int, data []byte) {
	if !sw.Sess.MarkPiece(idx, data) {
		return // Got a piece that was owned already
	}
	done, total := sw.Sess.Done()
	logger.Log("have", map[string]any{"piece": idx, "totalPieces": done, "of": total})

	// Broadcast to everyone else
	have := protocol.NewHave(idx)
	sw.mu.Lock()
	for _, p := range sw.Peers {
		if p != src {
			p.Send(have)
		}
	}
	sw.mu.Unlock()

	if done == total {
		sw.finish()
		return
	}
	sw.requestNext()
}

func (sw *Swarm) finish() {
	sw.once.Do(func() {
		_, pieces := sw.Sess.Snapshot()
		out := filepath.Join(sw.destDir, filepath.Base(sw.Sess.Meta.FileName))
		err := storage.Join(pieces, out)
		if err == nil {
			var got urn.URN
			if got, err = urn.FromFile(out); err == nil && got != sw.Sess.Meta.URN {
				err = errors.Errorf("joined file hashes to %s, want %s", got, sw.Sess.Meta.URN)
			}
		}
		if err != nil {
			logger.Error("write_err", err, map[string]any{"file": out})
		} else {
			logger.Log("complete", map[string]any{"file": out})
		}
		sw.out, sw.err = out, err
		close(sw.isDone)
	})
}

// Loop requests pieces rarest first until the file is complete or ctx ends.
func (sw *Swarm) Loop(ctx context.Context) (string, error) {
	if _, total := sw.Sess.Done(); total == 0 {
		sw.finish() // empty file
	}
	ticker := time.NewTicker(tickerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sw.requestNext()
		case <-sw.isDone:
			return sw.out, sw.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close drops every peer connection.
func (sw *Swarm) Close() {
	sw.mu.Lock()
	peers := append([]*peer.Peer(nil), sw.Peers...)
	sw.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
}

func (sw *Swarm) requestNext() {
	if idx := sw.choosePiece(); idx != -1 {
		sw.request(idx)
	}
}

// Return rarest piece index by computing availability
func (sw *Swarm) choosePiece() int {
	missing := sw.Sess.Missing()
	sw.mu.Lock()
	defer sw.mu.Unlock()
	for i := range sw.availability {
		sw.availability[i] = 0
	}
	for _, p := range sw.Peers {
		for _, i := range missing {
			if p.Has(i) {
				sw.availability[i]++
			}
		}
	}

	best := -1
	for _, i := range missing {
		if sw.availability[i] == 0 { // nobody has it yet
			continue
		}
		if best == -1 || sw.availability[i] < sw.availability[best] {
			best = i
		}
	}
	return best
}

// Ask random peer to send piece indexed *idx*
func (sw *Swarm) request(idx int) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	var goodPeers []*peer.Peer
	for _, p := range sw.Peers {
		if p.Has(idx) {
			goodPeers = append(goodPeers, p)
		}
	}
	if len(goodPeers) == 0 {
		return // No available peers
	}
	chosenPeer := goodPeers[rand.Intn(len(goodPeers))]
	chosenPeer.Send(protocol.NewRequest(idx))
	logger.Debug("request", map[string]any{"piece": idx, "peer": chosenPeer.String()})
}
