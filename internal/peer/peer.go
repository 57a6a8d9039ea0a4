package peer

import (
	"bytes"
	"crypto/sha1"
	"io"
	"net"
	"sync"

	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
	"github.com/BitTorrentFileSharing/limedht/internal/protocol"
	"github.com/BitTorrentFileSharing/limedht/internal/storage"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
)

// Peer is one TCP connection speaking the piece protocol.
type Peer struct {
	Conn net.Conn
	GUID guid.GUID // ours
	URN  urn.URN   // file this connection is about, zero until known

	// Uploads are served from Pieces, downloads are verified against Meta.
	Pieces [][]byte
	Meta   *metainfo.Meta

	// OnHandshake runs when the remote introduces itself. Returning false
	// drops the connection.
	OnHandshake func(p *Peer, u urn.URN, remote guid.GUID) bool
	OnBitfield  func()
	OnPiece     func(idx int, data []byte) // hash already verified
	OnHave      func(idx int)
	OnClose     func()

	sendCh    chan protocol.Message
	mu        sync.Mutex
	bitfield  storage.Bitfield // remote's pieces
	remote    guid.GUID
	done      chan struct{}
	closeOnce sync.Once
}

func New(conn net.Conn, id guid.GUID) *Peer {
	return &Peer{Conn: conn, GUID: id, sendCh: make(chan protocol.Message, 16), done: make(chan struct{})}
}

// Start launches the reader and writer. Set the callbacks first.
func (peer *Peer) Start() {
	go peer.writer()
	go peer.reader()
}

// Send queues msg, dropping it once the connection is closed.
func (peer *Peer) Send(msg protocol.Message) {
	select {
	case peer.sendCh <- msg:
	case <-peer.done:
	}
}

func (peer *Peer) Close() {
	peer.closeOnce.Do(func() {
		close(peer.done)
		peer.Conn.Close()
		if peer.OnClose != nil {
			peer.OnClose()
		}
	})
}

func (peer *Peer) Has(idx int) bool {
	peer.mu.Lock()
	defer peer.mu.Unlock()
	return peer.bitfield.Has(idx)
}

func (peer *Peer) Remote() guid.GUID {
	peer.mu.Lock()
	defer peer.mu.Unlock()
	return peer.remote
}

func (peer *Peer) String() string { return peer.Conn.RemoteAddr().String() }

// Writes messages into connection
func (peer *Peer) writer() {
	for {
		select {
		case <-peer.done:
			return
		case msg := <-peer.sendCh:
			if err := msg.Encode(peer.Conn); err != nil {
				logger.Debug("write_err", map[string]any{"peer": peer.String(), "err": err.Error()})
				peer.Close()
				return
			}
		}
	}
}

// Reads messages from connection
func (peer *Peer) reader() {
	defer peer.Close()
	for {
		msg, err := protocol.Decode(peer.Conn)
		if err == io.EOF {
			logger.Log("peer_bye", map[string]any{"peer": peer.String()})
			return
		} else if err != nil {
			select {
			case <-peer.done:
			default:
				logger.Log("decode_err", map[string]any{"peer": peer.String(), "err": err.Error()})
			}
			return
		}
		if !peer.handle(msg) {
			return
		}
	}
}

// handle returns false when the connection should go.
func (peer *Peer) handle(message *protocol.Message) bool {
	switch message.ID {
	case protocol.MsgHandshake:
		u, remote, err := protocol.ParseHandshake(message)
		if err != nil {
			logger.Log("handshake_err", map[string]any{"peer": peer.String(), "err": err.Error()})
			return false
		}
		if !peer.URN.IsZero() && u != peer.URN {
			logger.Log("handshake_urn_mismatch", map[string]any{"peer": peer.String(), "want": peer.URN.String(), "got": u.String()})
			return false
		}
		peer.mu.Lock()
		peer.remote = remote
		peer.mu.Unlock()
		if peer.OnHandshake != nil && !peer.OnHandshake(peer, u, remote) {
			return false
		}

	case protocol.MsgBitfield:
		peer.mu.Lock()
		peer.bitfield = storage.ParseBitfield(bytes.Clone(message.Data))
		peer.mu.Unlock()
		if peer.OnBitfield != nil {
			peer.OnBitfield()
		}

	case protocol.MsgRequest:
		// Offset and length are ignored, the full piece is sent.
		if peer.Pieces == nil {
			return true
		}
		idx, err := message.Index()
		if err != nil || idx < 0 || idx >= len(peer.Pieces) {
			logger.Log("bad_request", map[string]any{"peer": peer.String(), "piece": idx})
			return true
		}
		peer.Send(protocol.NewPiece(idx, peer.Pieces[idx]))

	case protocol.MsgHave:
		idx, err := message.Index()
		if err != nil {
			return true
		}
		peer.mu.Lock()
		if idx < len(peer.bitfield) {
			peer.bitfield.Set(idx)
		}
		peer.mu.Unlock()
		if peer.OnHave != nil {
			peer.OnHave(idx)
		}

	// Piece came. Verifies hash and notifies the swarm
	case protocol.MsgPiece:
		if peer.Meta == nil {
			return true
		}
		idx, _ := message.Index()
		data, err := message.PieceData()
		if err != nil || idx < 0 || idx >= len(peer.Meta.Hashes) {
			logger.Log("bad_piece", map[string]any{"peer": peer.String(), "piece": idx})
			return true
		}
		sum := sha1.Sum(data)
		if !bytes.Equal(sum[:], peer.Meta.Hashes[idx]) {
			logger.Log("bad_hash", map[string]any{"peer": peer.String(), "piece": idx})
			return true
		}
		peer.Send(protocol.NewHave(idx))
		if peer.OnPiece != nil {
			peer.OnPiece(idx, bytes.Clone(data))
		}

	case protocol.MsgMeta:
		// Only fetched over a dedicated connection, see FetchMeta.
	}
	return true
}
