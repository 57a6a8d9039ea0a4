// Package push finds and caches the push proxies of firewalled hosts.
package push

import (
	"fmt"
	"net/netip"

	"github.com/BitTorrentFileSharing/limedht/internal/dhtvalue"
	"github.com/BitTorrentFileSharing/limedht/internal/guid"
)

// Endpoint is how to reach a firewalled host: through one of its proxies,
// or directly with a firewall-to-firewall transfer at External.
type Endpoint struct {
	GUID       guid.GUID
	Features   byte
	FWTVersion int
	External   netip.AddrPort
	proxies    []dhtvalue.Proxy
}

func NewEndpoint(g guid.GUID, features byte, fwtVersion int, external netip.AddrPort, proxies []dhtvalue.Proxy) *Endpoint {
	if len(proxies) > dhtvalue.MaxProxies {
		proxies = proxies[:dhtvalue.MaxProxies]
	}
	return &Endpoint{
		GUID:       g,
		Features:   features,
		FWTVersion: fwtVersion,
		External:   external,
		proxies:    append([]dhtvalue.Proxy(nil), proxies...),
	}
}

// FromValue builds an endpoint from a PROX value. The external address is
// the IP the value was stored from and the port the value advertises.
func FromValue(v *dhtvalue.PushProxiesValue, creator netip.Addr) *Endpoint {
	var external netip.AddrPort
	if creator.IsValid() {
		external = netip.AddrPortFrom(creator.Unmap(), v.Port)
	}
	return NewEndpoint(v.GUID, v.Features, v.FWTVersion, external, v.Proxies)
}

func (e *Endpoint) Proxies() []dhtvalue.Proxy { return append([]dhtvalue.Proxy(nil), e.proxies...) }

func (e *Endpoint) SupportsFWT() bool {
	a := e.External.Addr()
	return e.FWTVersion > 0 && a.IsValid() && !a.IsUnspecified() && e.External.Port() != 0
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("%s;fwt=%d;%s;%v", e.GUID, e.FWTVersion, e.External, e.proxies)
}
