package altloc

import (
	"sort"
	"sync"

	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
)

// Manager collects known locations per URN and tells subscribers about
// new ones.
type Manager struct {
	mu        sync.Mutex
	locs      map[urn.URN]map[string]*AlternateLocation
	listeners map[urn.URN]map[int]func(*AlternateLocation)
	nextID    int
}

func NewManager() *Manager {
	return &Manager{
		locs:      make(map[urn.URN]map[string]*AlternateLocation),
		listeners: make(map[urn.URN]map[int]func(*AlternateLocation)),
	}
}

// Add records loc and returns false if it was already known.
func (m *Manager) Add(loc *AlternateLocation, source string) bool {
	m.mu.Lock()
	set := m.locs[loc.URN]
	if set == nil {
		set = make(map[string]*AlternateLocation)
		m.locs[loc.URN] = set
	}
	if _, dup := set[loc.key()]; dup {
		m.mu.Unlock()
		return false
	}
	set[loc.key()] = loc
	var notify []func(*AlternateLocation)
	for _, fn := range m.listeners[loc.URN] {
		notify = append(notify, fn)
	}
	m.mu.Unlock()

	logger.Debug("altloc_added", map[string]any{"location": loc.String(), "source": source})
	for _, fn := range notify {
		fn(loc)
	}
	return true
}

// Get returns the locations of u, direct ones first.
func (m *Manager) Get(u urn.URN) []*AlternateLocation {
	m.mu.Lock()
	out := make([]*AlternateLocation, 0, len(m.locs[u]))
	for _, l := range m.locs[u] {
		out = append(out, l)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPush() != out[j].IsPush() {
			return !out[i].IsPush()
		}
		return out[i].key() < out[j].key()
	})
	return out
}

func (m *Manager) Remove(loc *AlternateLocation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.locs[loc.URN]
	if _, ok := set[loc.key()]; !ok {
		return false
	}
	delete(set, loc.key())
	if len(set) == 0 {
		delete(m.locs, loc.URN)
	}
	return true
}

func (m *Manager) Count(u urn.URN) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locs[u])
}

// Subscribe calls fn for every new location of u until the returned
// function is called.
func (m *Manager) Subscribe(u urn.URN, fn func(*AlternateLocation)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	if m.listeners[u] == nil {
		m.listeners[u] = make(map[int]func(*AlternateLocation))
	}
	m.listeners[u][id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners[u], id)
		if len(m.listeners[u]) == 0 {
			delete(m.listeners, u)
		}
		m.mu.Unlock()
	}
}
