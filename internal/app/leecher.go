package app

import (
	"context"
	"net/netip"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/altloc"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
	"github.com/BitTorrentFileSharing/limedht/internal/peer"
	"github.com/BitTorrentFileSharing/limedht/internal/storage"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

var ErrNoLocations = errors.New("app: no direct location found")

// collector turns one alt-loc search into a channel that closes when the
// search is done.
type collector struct {
	done chan bool
}

func (c *collector) HandleAlternateLocation(loc *altloc.AlternateLocation) {
	if loc.IsPush() {
		// No push transport, the endpoint is only cached and logged.
		logger.Log("push_location", map[string]any{"urn": loc.URN.String(), "endpoint": loc.Push.String()})
	}
}

func (c *collector) HandleSearchDone(found bool) { c.done <- found }

// locate queries the DHT until a direct location of u is known, up to
// MaxAltLocQueryAttempts times spaced by TimeBetweenAltLocQueries.
func (n *Node) locate(ctx context.Context, u urn.URN) ([]netip.AddrPort, error) {
	for attempt := 0; attempt < n.Settings.MaxAltLocQueryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(n.Settings.TimeBetweenAltLocQueries):
			}
		}
		c := &collector{done: make(chan bool, 1)}
		if err := n.Finder.FindAltLocs(ctx, u, c); err != nil {
			logger.Log("altloc_query_skipped", map[string]any{"urn": u.String(), "attempt": attempt, "err": err.Error()})
			continue
		}
		<-c.done
		if direct := n.directLocations(u); len(direct) > 0 {
			return direct, nil
		}
	}
	return nil, errors.Wrap(ErrNoLocations, u.String())
}

func (n *Node) directLocations(u urn.URN) []netip.AddrPort {
	var out []netip.AddrPort
	for _, loc := range n.AltLocs.Get(u) {
		if !loc.IsPush() {
			out = append(out, loc.Direct)
		}
	}
	return out
}

// Download fetches u from the hosts the DHT knows and writes it into
// destDir. With meta nil the descriptor is fetched from the first host
// that has it. The finished file joins the library.
func (n *Node) Download(ctx context.Context, u urn.URN, meta *metainfo.Meta, destDir string) (string, error) {
	if meta != nil && meta.URN != u {
		return "", errors.Errorf("descriptor is for %s, not %s", meta.URN, u)
	}
	locs, err := n.locate(ctx, u)
	if err != nil {
		return "", err
	}
	logger.Log("leecher_locations", map[string]any{"urn": u.String(), "direct": len(locs)})

	for _, addr := range locs {
		if meta != nil {
			break
		}
		m, err := peer.FetchMeta(ctx, addr.String(), u, n.GUID)
		if err != nil {
			logger.Log("meta_fetch_failed", map[string]any{"peer": addr.String(), "err": err.Error()})
			continue
		}
		meta = m
	}
	if meta == nil {
		return "", errors.Wrap(ErrNoLocations, "no host served the descriptor")
	}

	session := NewSession(meta)
	swarm := NewSwarm(session, n.GUID, destDir)
	defer swarm.Close()
	unsubscribe := n.AltLocs.Subscribe(u, func(loc *altloc.AlternateLocation) {
		if !loc.IsPush() {
			swarm.Dial(loc.Direct)
		}
	})
	defer unsubscribe()
	for _, addr := range locs {
		swarm.Dial(addr)
	}

	out, err := swarm.Loop(ctx)
	if err != nil {
		return "", err
	}
	_, pieces := session.Snapshot()
	n.Library.AddShared(&storage.Shared{Path: out, Meta: meta, Pieces: pieces})
	return out, nil
}
