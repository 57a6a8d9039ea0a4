package push

import (
	"context"
	"sync"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Upper bound of one shared DHT lookup.
const lookupTimeout = 30 * time.Second

type entry struct {
	endpoint *Endpoint // nil for a failed lookup
	at       time.Time
}

// Manager caches push endpoints by GUID. Concurrent lookups of one GUID
// share a single DHT query, and misses are cached as well as hits.
type Manager struct {
	finder     Finder
	cacheTime  time.Duration
	purgeEvery time.Duration
	group      singleflight.Group
	now        func() time.Time

	mu    sync.Mutex
	cache map[guid.GUID]entry
}

func NewManager(finder Finder, cacheTime, purgeEvery time.Duration) *Manager {
	return &Manager{
		finder:     finder,
		cacheTime:  cacheTime,
		purgeEvery: purgeEvery,
		now:        time.Now,
		cache:      make(map[guid.GUID]entry),
	}
}

func (m *Manager) cached(g guid.GUID) (entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[g]
	if !ok || m.now().Sub(e.at) >= m.cacheTime {
		return entry{}, false
	}
	return e, true
}

func (m *Manager) Find(ctx context.Context, g guid.GUID) (*Endpoint, error) {
	if e, ok := m.cached(g); ok {
		if e.endpoint == nil {
			return nil, errors.Wrap(ErrNotFound, "cached miss")
		}
		return e.endpoint, nil
	}

	// The shared lookup outlives any single caller, each caller only stops
	// waiting when its own ctx ends.
	ch := m.group.DoChan(g.String(), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		ep, err := m.finder.FindEndpoint(lctx, g)
		if lctx.Err() != nil {
			return nil, lctx.Err() // not the endpoint's fault, do not cache
		}
		m.mu.Lock()
		m.cache[g] = entry{endpoint: ep, at: m.now()}
		m.mu.Unlock()
		if err != nil {
			logger.Debug("push_endpoint_miss", map[string]any{"guid": g.String(), "err": err.Error()})
			return nil, err
		}
		logger.Debug("push_endpoint_found", map[string]any{"guid": g.String(), "endpoint": ep.String()})
		return ep, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Shared {
		logger.Debug("push_lookup_shared", map[string]any{"guid": g.String()})
	}
	if res.Err != nil {
		err := res.Err
		if !errors.Is(err, ErrNotFound) {
			err = errors.Wrap(ErrNotFound, err.Error())
		}
		return nil, err
	}
	return res.Val.(*Endpoint), nil
}

// FindAsync runs Find in the background and hands the result to cb.
func (m *Manager) FindAsync(g guid.GUID, cb func(*Endpoint, error)) {
	go func() {
		ep, err := m.Find(context.Background(), g)
		cb(ep, err)
	}()
}

// Put caches an endpoint learned outside the DHT.
func (m *Manager) Put(ep *Endpoint) {
	if ep == nil {
		return
	}
	m.mu.Lock()
	m.cache[ep.GUID] = entry{endpoint: ep, at: m.now()}
	m.mu.Unlock()
}

// Purge drops entries older than the cache time and returns how many went.
func (m *Manager) Purge(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for g, e := range m.cache {
		if now.Sub(e.at) >= m.cacheTime {
			delete(m.cache, g)
			n++
		}
	}
	return n
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// Run purges the cache every purge interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.purgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Purge(now); n > 0 {
				logger.Debug("push_endpoints_purged", map[string]any{"count": n})
			}
		}
	}
}
