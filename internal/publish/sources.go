package publish

import (
	"net/netip"
	"sync"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/dhtvalue"
	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
)

// HostInfo is what we advertise about ourselves.
type HostInfo struct {
	GUID       guid.GUID
	Port       uint16 // TCP port of the transfer listener
	Firewalled bool
	TLS        bool
	Features   byte
	FWTVersion int
	Proxies    []dhtvalue.Proxy
}

type HostFunc func() HostInfo

type FileLister interface {
	Files() []*metainfo.Meta
}

// AltLocSource offers one ALOC per shared file.
type AltLocSource struct {
	files FileLister
	host  HostFunc
}

func NewAltLocSource(files FileLister, host HostFunc) *AltLocSource {
	return &AltLocSource{files: files, host: host}
}

func (s *AltLocSource) Publishables(time.Time) []Publishable {
	info := s.host()
	var out []Publishable
	for _, m := range s.files.Files() {
		if m.FileLength <= 0 {
			continue
		}
		v, err := dhtvalue.NewAltLocValue(info.GUID, info.Port, m.FileLength, m.TTRoot, info.Firewalled, info.TLS)
		if err != nil {
			logger.Error("altloc_value_invalid", err, map[string]any{"urn": m.URN.String()})
			continue
		}
		out = append(out, Publishable{Key: dht.KUIDFromURN(m.URN), Value: v})
	}
	return out
}

// PushProxiesSource offers our PROX value while we are firewalled. The
// proxy set must be unchanged for stableFor before it is offered, and is
// then offered again when it drifted by threshold entries from what was
// stored or republish has elapsed.
type PushProxiesSource struct {
	host      HostFunc
	stableFor time.Duration
	republish time.Duration
	threshold int

	mu          sync.Mutex
	current     []dhtvalue.Proxy
	changedAt   time.Time
	published   []dhtvalue.Proxy
	publishedAt time.Time
}

func NewPushProxiesSource(host HostFunc, stableFor, republish time.Duration, threshold int) *PushProxiesSource {
	return &PushProxiesSource{host: host, stableFor: stableFor, republish: republish, threshold: max(threshold, 1)}
}

func (s *PushProxiesSource) Publishables(now time.Time) []Publishable {
	info := s.host()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !info.Firewalled || len(info.Proxies) == 0 {
		s.current, s.changedAt = nil, time.Time{}
		return nil
	}
	offered := info.Proxies
	if len(offered) > dhtvalue.MaxProxies {
		offered = offered[:dhtvalue.MaxProxies]
	}
	if proxyDiff(s.current, offered) > 0 || s.changedAt.IsZero() {
		s.current = append([]dhtvalue.Proxy(nil), offered...)
		s.changedAt = now
	}
	if now.Sub(s.changedAt) < s.stableFor {
		return nil
	}
	due := s.publishedAt.IsZero() ||
		proxyDiff(s.published, s.current) >= s.threshold ||
		now.Sub(s.publishedAt) >= s.republish
	if !due {
		return nil
	}

	v, err := dhtvalue.NewPushProxiesValue(info.GUID, info.Features, info.FWTVersion, info.Port, s.current)
	if err != nil {
		logger.Error("proxies_value_invalid", err, nil)
		return nil
	}
	return []Publishable{{Key: dht.KUIDFromGUID(info.GUID), Value: v}}
}

func (s *PushProxiesSource) Published(p Publishable, at time.Time) {
	v, ok := p.Value.(*dhtvalue.PushProxiesValue)
	if !ok {
		return
	}
	s.mu.Lock()
	s.published = append([]dhtvalue.Proxy(nil), v.Proxies...)
	s.publishedAt = at
	s.mu.Unlock()
}

// proxyDiff counts addresses present in only one of the two sets.
func proxyDiff(a, b []dhtvalue.Proxy) int {
	in := func(set []dhtvalue.Proxy) map[netip.AddrPort]bool {
		m := make(map[netip.AddrPort]bool, len(set))
		for _, p := range set {
			m[p.Addr] = true
		}
		return m
	}
	ma, mb := in(a), in(b)
	n := 0
	for addr := range ma {
		if !mb[addr] {
			n++
		}
	}
	for addr := range mb {
		if !ma[addr] {
			n++
		}
	}
	return n
}
