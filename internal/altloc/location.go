// Package altloc finds other hosts holding a file, through the ALOC and
// PROX values stored in the DHT.
package altloc

import (
	"bytes"
	"fmt"
	"net/netip"

	"github.com/BitTorrentFileSharing/limedht/internal/push"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

var ErrInvalidLocation = errors.New("altloc: invalid location")

// AlternateLocation is a host that has URN. Direct locations carry an
// address to connect to, push locations an endpoint to send a push to.
type AlternateLocation struct {
	URN      urn.URN
	Direct   netip.AddrPort
	TLS      bool
	FileSize int64 // -1 when unknown
	TTRoot   []byte
	Push     *push.Endpoint
}

func NewDirect(u urn.URN, addr netip.AddrPort, tls bool, fileSize int64, ttroot []byte) (*AlternateLocation, error) {
	a := addr.Addr().Unmap()
	if !a.IsValid() || a.IsUnspecified() || a.IsMulticast() || addr.Port() == 0 {
		return nil, errors.Wrapf(ErrInvalidLocation, "address %s", addr)
	}
	return &AlternateLocation{
		URN:      u,
		Direct:   netip.AddrPortFrom(a, addr.Port()),
		TLS:      tls,
		FileSize: fileSize,
		TTRoot:   bytes.Clone(ttroot),
	}, nil
}

func NewPush(u urn.URN, ep *push.Endpoint) (*AlternateLocation, error) {
	if ep == nil {
		return nil, errors.Wrap(ErrInvalidLocation, "nil endpoint")
	}
	return &AlternateLocation{URN: u, FileSize: -1, Push: ep}, nil
}

func (l *AlternateLocation) IsPush() bool { return l.Push != nil }

// Two locations of one URN are the same host when they share this key.
func (l *AlternateLocation) key() string {
	if l.Push != nil {
		return "push:" + l.Push.GUID.String()
	}
	return "direct:" + l.Direct.String()
}

func (l *AlternateLocation) String() string {
	if l.Push != nil {
		return fmt.Sprintf("%s@push:%s", l.URN, l.Push)
	}
	return fmt.Sprintf("%s@%s", l.URN, l.Direct)
}
