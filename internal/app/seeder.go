package app

import (
	"net"
	"os"

	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
	"github.com/BitTorrentFileSharing/limedht/internal/peer"
	"github.com/BitTorrentFileSharing/limedht/internal/protocol"
	"github.com/BitTorrentFileSharing/limedht/internal/storage"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

// Share adds path to the library and writes its .bit descriptor next to it
// unless one exists. The next publisher round announces it.
func (n *Node) Share(path string) (*storage.Shared, error) {
	s, err := n.Library.Add(path, storage.DefaultPiece)
	if err != nil {
		return nil, err
	}
	metaPath := path + ".bit"
	if _, err := os.Stat(metaPath); errors.Is(err, os.ErrNotExist) {
		if err := s.Meta.Write(metaPath); err != nil {
			return nil, err
		}
		logger.Log("meta_write", map[string]any{"file": metaPath})
	} else if old, err := metainfo.Load(metaPath); err != nil || old.URN != s.Meta.URN {
		logger.Log("meta_stale", map[string]any{"file": metaPath})
	}
	return s, nil
}

// Listening loop
func (n *Node) serve() {
	logger.Log("seeder_listening", map[string]any{"addr": n.ln.Addr().String()})
	for {
		conn, err := n.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Log("accept_err", map[string]any{"err": err.Error()})
			continue
		}
		logger.Log("upload_conn", map[string]any{"peer": conn.RemoteAddr().String()})

		// For each connection seeder creates a new peer
		p := peer.New(conn, n.GUID)
		p.OnHandshake = n.acceptHandshake
		p.Start()
	}
}

// The remote names the file it wants; we answer with our handshake, the
// descriptor and our bitfield.
func (n *Node) acceptHandshake(p *peer.Peer, u urn.URN, remote guid.GUID) bool {
	shared, ok := n.Library.Get(u)
	if !ok {
		logger.Log("unknown_urn", map[string]any{"peer": p.String(), "urn": u.String()})
		return false
	}
	p.URN = u
	p.Pieces = shared.Pieces
	meta, err := protocol.NewMeta(shared.Meta)
	if err != nil {
		logger.Error("meta_encode", err, nil)
		return false
	}
	p.Send(protocol.NewHandshake(u, n.GUID))
	p.Send(meta)
	p.Send(protocol.NewBitfield(storage.FullBitfield(len(shared.Pieces))))
	logger.Log("upload_handshake", map[string]any{"peer": p.String(), "urn": u.String(), "remote": remote.String()})
	return true
}
