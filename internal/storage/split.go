package storage

import (
	"crypto/sha1"
	"io"
	"os"
	"path/filepath"

	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
	"github.com/BitTorrentFileSharing/limedht/internal/tigertree"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
)

const DefaultPiece = 256 * 1024 // 256 KiB

// Split reads *path* and returns slices with data of each piece
// with an array of SHA-1 hashes (20bytes per piece)
func Split(path string, pieceSize int) (pieces [][]byte, hashes [][]byte, err error) {
	if pieceSize <= 0 {
		pieceSize = DefaultPiece
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	buf := make([]byte, pieceSize)
	for {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])
			pieces = append(pieces, p)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break // short read is the final partial piece
		}
		if readErr != nil {
			return nil, nil, readErr
		}
	}

	for _, p := range pieces {
		h := sha1.Sum(p)
		hashes = append(hashes, h[:])
	}
	return pieces, hashes, nil
}

// Describe splits path and builds its descriptor, URN and tree root included.
func Describe(path string, pieceSize int) (*metainfo.Meta, [][]byte, error) {
	if pieceSize <= 0 {
		pieceSize = DefaultPiece
	}
	pieces, hashes, err := Split(path, pieceSize)
	if err != nil {
		return nil, nil, err
	}
	u, err := urn.FromFile(path)
	if err != nil {
		return nil, nil, err
	}
	root, err := tigertree.FromFile(path)
	if err != nil {
		return nil, nil, err
	}
	var length int64
	for _, p := range pieces {
		length += int64(len(p))
	}
	meta := &metainfo.Meta{
		FileName:   filepath.Base(path),
		FileLength: length,
		PieceSize:  pieceSize,
		Hashes:     hashes,
		URN:        u,
		TTRoot:     root,
	}
	return meta, pieces, nil
}
