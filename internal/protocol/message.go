package protocol

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
	"github.com/BitTorrentFileSharing/limedht/internal/storage"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

const (
	MsgHandshake = iota
	MsgBitfield
	MsgRequest
	MsgPiece
	MsgHave
	MsgMeta
)

// Handshake payload:
//
//	20-byte URN digest  SHA-1 of the whole file
//	16-byte GUID        client identifier
//
// length = 1 (ID) + 20 + 16 = 37
const HandshakeLen = 1 + urn.DigestSize + guid.Size

// Largest frame we accept, a piece plus its header with room to spare.
const MaxMessageSize = 4 << 20

var ErrBadMessage = errors.New("protocol: bad message")

type Message struct {
	ID   uint8
	Data []byte
}

func NewHandshake(u urn.URN, g guid.GUID) Message {
	return Message{ID: MsgHandshake, Data: append(u.Digest(), g.Bytes()...)}
}

func ParseHandshake(m *Message) (urn.URN, guid.GUID, error) {
	if m.ID != MsgHandshake || len(m.Data) != HandshakeLen-1 {
		return urn.URN{}, guid.GUID{}, errors.Wrapf(ErrBadMessage, "handshake of %d bytes", len(m.Data))
	}
	u, err := urn.FromDigest(m.Data[:urn.DigestSize])
	if err != nil {
		return urn.URN{}, guid.GUID{}, err
	}
	g, err := guid.FromBytes(m.Data[urn.DigestSize:])
	return u, g, err
}

func NewBitfield(bf storage.Bitfield) Message {
	return Message{ID: MsgBitfield, Data: bf.Bytes()}
}

// Request payload: 4-byte piece index, 4-byte offset (always 0).
func NewRequest(idx int) Message {
	data := binary.BigEndian.AppendUint32(nil, uint32(idx))
	return Message{ID: MsgRequest, Data: binary.BigEndian.AppendUint32(data, 0)}
}

// Piece payload: 4-byte index, 4-byte offset, the piece bytes.
func NewPiece(idx int, piece []byte) Message {
	data := make([]byte, 8, 8+len(piece))
	binary.BigEndian.PutUint32(data, uint32(idx))
	return Message{ID: MsgPiece, Data: append(data, piece...)}
}

func NewHave(idx int) Message {
	return Message{ID: MsgHave, Data: binary.BigEndian.AppendUint32(nil, uint32(idx))}
}

// NewMeta carries the descriptor so a peer that only knows the URN can
// verify pieces.
func NewMeta(m *metainfo.Meta) (Message, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: MsgMeta, Data: b}, nil
}

func ParseMeta(m *Message) (*metainfo.Meta, error) {
	var meta metainfo.Meta
	if err := json.Unmarshal(m.Data, &meta); err != nil {
		return nil, errors.Wrap(ErrBadMessage, err.Error())
	}
	return &meta, meta.Validate()
}

// Index reads the leading piece index of request, piece and have messages.
func (m *Message) Index() (int, error) {
	if len(m.Data) < 4 {
		return 0, errors.Wrapf(ErrBadMessage, "message %d: %d bytes", m.ID, len(m.Data))
	}
	return int(binary.BigEndian.Uint32(m.Data)), nil
}

// PieceData is the payload of a piece message after index and offset.
func (m *Message) PieceData() ([]byte, error) {
	if m.ID != MsgPiece || len(m.Data) < 8 {
		return nil, errors.Wrapf(ErrBadMessage, "piece of %d bytes", len(m.Data))
	}
	return m.Data[8:], nil
}

func (m *Message) Encode(w io.Writer) error {
	// length prefix = 1 + len(data)
	frame := make([]byte, 5, 5+len(m.Data))
	binary.BigEndian.PutUint32(frame, uint32(1+len(m.Data)))
	frame[4] = m.ID
	_, err := w.Write(append(frame, m.Data...))
	return err
}

// Decodes message with ID and DATA from reader
func Decode(r io.Reader) (*Message, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if size == 0 || size > MaxMessageSize {
		return nil, errors.Wrapf(ErrBadMessage, "size %d", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &Message{ID: buf[0], Data: buf[1:]}, nil
}
