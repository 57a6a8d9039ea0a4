package metainfo

import (
	"encoding/json"
	"os"

	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

const TTRootSize = 24

var ErrInvalid = errors.New("metainfo: invalid descriptor")

type Meta struct {
	FileName   string   `json:"name"`
	FileLength int64    `json:"length"`
	PieceSize  int      `json:"piece_size"`
	Hashes     [][]byte `json:"hashes"` // SHA-1 for each piece
	URN        urn.URN  `json:"urn"`    // SHA-1 of the whole file
	TTRoot     []byte   `json:"ttroot,omitempty"`
}

// Pieces is the number of pieces the file splits into.
func (m *Meta) Pieces() int {
	if m.PieceSize <= 0 {
		return 0
	}
	return int((m.FileLength + int64(m.PieceSize) - 1) / int64(m.PieceSize))
}

func (m *Meta) Validate() error {
	switch {
	case m.URN.IsZero():
		return errors.Wrap(ErrInvalid, "missing urn")
	case m.FileLength < 0:
		return errors.Wrapf(ErrInvalid, "length %d", m.FileLength)
	case m.PieceSize <= 0:
		return errors.Wrapf(ErrInvalid, "piece size %d", m.PieceSize)
	case len(m.Hashes) != m.Pieces():
		return errors.Wrapf(ErrInvalid, "%d hashes for %d pieces", len(m.Hashes), m.Pieces())
	case m.TTRoot != nil && len(m.TTRoot) != TTRootSize:
		return errors.Wrapf(ErrInvalid, "ttroot of %d bytes", len(m.TTRoot))
	}
	return nil
}

// Saves the struct as a pretty JSON
func (m *Meta) Write(path string) error {
	b, err := json.MarshalIndent(m, "", " ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrap(err, "failed to write descriptor")
	}
	return nil
}

// Parses file back into Meta
func Load(path string) (*Meta, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(ErrInvalid, err.Error())
	}
	return &m, m.Validate()
}
