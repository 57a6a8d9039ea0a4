// Owns the download's in-memory state

package app

import (
	"sync"

	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
	"github.com/BitTorrentFileSharing/limedht/internal/storage"
)

type Session struct {
	Meta   *metainfo.Meta
	Pieces [][]byte
	BF     storage.Bitfield
	Mu     sync.Mutex
}

// Creates session with meta, empty pieces and bitfield.
func NewSession(meta *metainfo.Meta) *Session {
	return &Session{
		Meta:   meta,
		Pieces: make([][]byte, len(meta.Hashes)),
		BF:     storage.NewBitfield(len(meta.Hashes)),
	}
}

// MarkPiece saves data and sets the bit. It reports false for a piece
// already held.
func (s *Session) MarkPiece(idx int, data []byte) bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.BF.Has(idx) {
		return false
	}
	s.Pieces[idx] = data
	s.BF.Set(idx)
	return true
}

// Missing lists the pieces still needed.
func (s *Session) Missing() []int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	var out []int
	for i := range s.BF {
		if !s.BF.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

func (s *Session) Done() (have, total int) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.BF.Count(), len(s.BF)
}

// Snapshot returns the bitfield and pieces for sharing the result.
func (s *Session) Snapshot() (storage.Bitfield, [][]byte) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return append(storage.Bitfield(nil), s.BF...), append([][]byte(nil), s.Pieces...)
}
