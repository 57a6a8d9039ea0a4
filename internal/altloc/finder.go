package altloc

import (
	"context"
	"net/netip"
	"sync"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/dhtvalue"
	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/BitTorrentFileSharing/limedht/internal/push"
	"github.com/BitTorrentFileSharing/limedht/internal/settings"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotBootstrapped = errors.New("altloc: dht not bootstrapped")
	ErrDisabled        = errors.New("altloc: dht queries disabled")
	ErrNotFound        = errors.New("altloc: no location found")
)

const maxParallelPushLookups = 4

// SearchListener hears about a search. HandleSearchDone is called exactly
// once per started search, after every HandleAlternateLocation.
type SearchListener interface {
	HandleAlternateLocation(loc *AlternateLocation)
	HandleSearchDone(found bool)
}

// Ordered so that folding two outcomes keeps the larger.
type outcome int

const (
	notFound outcome = iota
	notYetFound
	found
)

func fold(a, b outcome) outcome { return max(a, b) }

type Finder struct {
	client    dht.Client
	proxies   *push.DHTFinder
	manager   *Manager
	endpoints *push.Manager // may be nil
	altLocs   bool
	pushes    bool
}

func NewFinder(client dht.Client, manager *Manager, endpoints *push.Manager, s settings.DHT) *Finder {
	return &Finder{
		client:    client,
		proxies:   push.NewDHTFinder(client),
		manager:   manager,
		endpoints: endpoints,
		altLocs:   s.EnableAltLocQueries,
		pushes:    s.EnablePushProxyQueries,
	}
}

// serialListener keeps listener calls from concurrent PROX lookups apart.
type serialListener struct {
	mu sync.Mutex
	l  SearchListener
}

func (s *serialListener) emit(loc *AlternateLocation) {
	if s.l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.HandleAlternateLocation(loc)
}

func (s *serialListener) done(ok bool) {
	if s.l != nil {
		s.l.HandleSearchDone(ok)
	}
}

type pendingPush struct {
	guid    guid.GUID
	creator dht.Contact
}

// FindAltLocs looks up ALOC values for u. Firewalled hosts are resolved
// through a PROX lookup of their GUID. When the search could not start an
// error is returned and the listener is not called.
func (f *Finder) FindAltLocs(ctx context.Context, u urn.URN, listener SearchListener) error {
	if !f.altLocs {
		return ErrDisabled
	}
	if !f.client.Bootstrapped() {
		return ErrNotBootstrapped
	}
	l := &serialListener{l: listener}

	key := dht.EntityKey{Key: dht.KUIDFromURN(u), Type: dhtvalue.AltLocType}
	entities, err := f.client.Get(ctx, key)
	if err != nil {
		logger.Log("altloc_lookup_failed", map[string]any{"urn": u.String(), "err": err.Error()})
		l.done(false)
		return nil
	}

	result := notFound
	var pending []pendingPush
	for _, e := range entities {
		o, p := f.handleAltLoc(u, e, l)
		if p != nil {
			pending = append(pending, *p)
		}
		result = fold(result, o)
	}

	if len(pending) > 0 {
		outcomes := make([]outcome, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelPushLookups)
		for i, p := range pending {
			g.Go(func() error {
				outcomes[i] = f.findPush(gctx, p.guid, u, &p.creator, l)
				return nil
			})
		}
		_ = g.Wait()
		for _, o := range outcomes {
			result = fold(result, o)
		}
	}
	if result == notYetFound {
		result = notFound // every PROX lookup came back empty
	}

	logger.Log("altloc_search_done", map[string]any{
		"urn":    u.String(),
		"values": len(entities),
		"push":   len(pending),
		"found":  result == found,
		"known":  f.manager.Count(u),
	})
	l.done(result == found)
	return nil
}

func (f *Finder) handleAltLoc(u urn.URN, e dht.Entity, l *serialListener) (outcome, *pendingPush) {
	v, err := dhtvalue.DecodeAltLocValue(e.Version, e.Data)
	if err != nil {
		logger.Debug("altloc_value_invalid", map[string]any{"creator": e.Creator.String(), "err": err.Error()})
		return notFound, nil
	}
	if v.Firewalled {
		if !f.pushes {
			return notFound, nil
		}
		return notYetFound, &pendingPush{guid: v.GUID, creator: e.Creator}
	}

	ip := e.Creator.IP()
	if !ip.IsValid() {
		return notFound, nil
	}
	loc, err := NewDirect(u, netip.AddrPortFrom(ip, v.Port), v.TLS, v.FileSize, v.RootHash)
	if err != nil {
		logger.Debug("altloc_address_invalid", map[string]any{"creator": e.Creator.String(), "err": err.Error()})
		return notFound, nil
	}
	f.manager.Add(loc, "dht")
	l.emit(loc)
	return found, nil
}

// findPush resolves g's PROX values into push locations. With a creator,
// only values stored by that same node are believed.
func (f *Finder) findPush(ctx context.Context, g guid.GUID, u urn.URN, creator *dht.Contact, l *serialListener) outcome {
	results, err := f.proxies.Lookup(ctx, g)
	if err != nil {
		logger.Log("prox_lookup_failed", map[string]any{"guid": g.String(), "err": err.Error()})
		return notFound
	}
	result := notFound
	for _, r := range results {
		if creator != nil && !r.Creator.Equal(*creator) {
			logger.Debug("prox_creator_mismatch", map[string]any{"want": creator.String(), "got": r.Creator.String()})
			continue
		}
		loc, err := NewPush(u, r.Endpoint)
		if err != nil {
			continue
		}
		if f.endpoints != nil {
			f.endpoints.Put(r.Endpoint)
		}
		f.manager.Add(loc, "dht")
		l.emit(loc)
		result = found
	}
	return result
}

// FindPushAltLocs looks up the push proxies of g directly and reports them
// as locations of u.
func (f *Finder) FindPushAltLocs(ctx context.Context, g guid.GUID, u urn.URN, listener SearchListener) error {
	if !f.pushes {
		return ErrDisabled
	}
	if !f.client.Bootstrapped() {
		return ErrNotBootstrapped
	}
	l := &serialListener{l: listener}
	l.done(f.findPush(ctx, g, u, nil, l) == found)
	return nil
}

// Search runs FindAltLocs in the background. cancel stops the lookup, the
// listener then sees HandleSearchDone(false).
func (f *Finder) Search(u urn.URN, listener SearchListener) (cancel func(), err error) {
	if !f.altLocs {
		return nil, ErrDisabled
	}
	if !f.client.Bootstrapped() {
		return nil, ErrNotBootstrapped
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		if err := f.FindAltLocs(ctx, u, listener); err != nil && listener != nil {
			// The DHT went away between the check above and the lookup.
			listener.HandleSearchDone(false)
		}
	}()
	return cancel, nil
}

type firstLocation struct {
	loc *AlternateLocation
}

func (fl *firstLocation) HandleAlternateLocation(loc *AlternateLocation) {
	if fl.loc == nil {
		fl.loc = loc
	}
}

func (fl *firstLocation) HandleSearchDone(bool) {}

// AlternateLocation blocks until the push location of g is known.
func (f *Finder) AlternateLocation(ctx context.Context, g guid.GUID, u urn.URN) (*AlternateLocation, error) {
	fl := &firstLocation{}
	if err := f.FindPushAltLocs(ctx, g, u, fl); err != nil {
		return nil, err
	}
	if fl.loc == nil {
		return nil, errors.Wrap(ErrNotFound, g.String())
	}
	return fl.loc, nil
}
