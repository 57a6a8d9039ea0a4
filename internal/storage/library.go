package storage

import (
	"sort"
	"sync"

	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
)

// Shared is a file we serve, kept split in memory.
type Shared struct {
	Path   string
	Meta   *metainfo.Meta
	Pieces [][]byte
}

// Library indexes shared files by URN.
type Library struct {
	mu    sync.RWMutex
	files map[urn.URN]*Shared
}

func NewLibrary() *Library { return &Library{files: make(map[urn.URN]*Shared)} }

func (l *Library) Add(path string, pieceSize int) (*Shared, error) {
	meta, pieces, err := Describe(path, pieceSize)
	if err != nil {
		return nil, err
	}
	s := &Shared{Path: path, Meta: meta, Pieces: pieces}
	l.mu.Lock()
	l.files[meta.URN] = s
	l.mu.Unlock()
	logger.Log("file_shared", map[string]any{
		"path":   path,
		"urn":    meta.URN.String(),
		"cid":    meta.URN.CID(),
		"length": meta.FileLength,
		"pieces": len(pieces),
	})
	return s, nil
}

// AddShared registers a file that is already split, a finished download.
func (l *Library) AddShared(s *Shared) {
	l.mu.Lock()
	l.files[s.Meta.URN] = s
	l.mu.Unlock()
}

func (l *Library) Get(u urn.URN) (*Shared, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.files[u]
	return s, ok
}

func (l *Library) Remove(u urn.URN) {
	l.mu.Lock()
	delete(l.files, u)
	l.mu.Unlock()
}

// Files lists the descriptors of all shared files ordered by URN.
func (l *Library) Files() []*metainfo.Meta {
	l.mu.RLock()
	out := make([]*metainfo.Meta, 0, len(l.files))
	for _, s := range l.files {
		out = append(out, s.Meta)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URN.String() < out[j].URN.String() })
	return out
}

func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.files)
}
