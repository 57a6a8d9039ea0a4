package dhtvalue

import (
	"fmt"
	"net/netip"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/ggep"
	"github.com/BitTorrentFileSharing/limedht/internal/guid"
)

const (
	PushProxiesVersion dht.Version = 0
	MaxProxies                     = 4
)

type Proxy struct {
	Addr netip.AddrPort
	TLS  bool
}

// PushProxiesValue publishes how a firewalled host can be reached: the
// proxies that relay push requests to it and its firewall-transfer support.
type PushProxiesValue struct {
	GUID       guid.GUID
	Features   byte
	FWTVersion int
	Port       uint16
	Proxies    []Proxy
}

func NewPushProxiesValue(g guid.GUID, features byte, fwtVersion int, port uint16, proxies []Proxy) (*PushProxiesValue, error) {
	v := &PushProxiesValue{
		GUID:       g,
		Features:   features,
		FWTVersion: fwtVersion,
		Port:       port,
		Proxies:    append([]Proxy(nil), proxies...),
	}
	return v, v.validate()
}

func (v *PushProxiesValue) validate() error {
	if v.Port == 0 {
		return invalid(keyPort, "zero")
	}
	if v.FWTVersion < 0 {
		return invalid(keyFWTVersion, "negative %d", v.FWTVersion)
	}
	if len(v.Proxies) > MaxProxies {
		return invalid(keyProxies, "%d proxies, at most %d", len(v.Proxies), MaxProxies)
	}
	for _, p := range v.Proxies {
		if !validIPPort(p.Addr) {
			return invalid(keyProxies, "unusable address %s", p.Addr)
		}
	}
	return nil
}

func (v *PushProxiesValue) Type() dht.ValueType  { return PushProxiesType }
func (v *PushProxiesValue) Version() dht.Version { return PushProxiesVersion }

func (v *PushProxiesValue) Bytes() ([]byte, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	packed := make([]byte, 0, len(v.Proxies)*packedIPPortSize)
	tls := make([]bool, len(v.Proxies))
	for i, p := range v.Proxies {
		packed = packIPPort(packed, p.Addr)
		tls[i] = p.TLS
	}

	b := ggep.New()
	errs := []error{
		b.Put(keyClientID, v.GUID.Bytes()),
		b.Put(keyFeatures, []byte{v.Features}),
		b.PutInt(keyFWTVersion, v.FWTVersion),
		putPort(b, v.Port),
		b.Put(keyProxies, packed),
	}
	if set := bitSet(tls); len(set) > 0 {
		errs = append(errs, b.Put(keyTLS, set))
	}
	return encode(b, errs...)
}

// DecodePushProxiesValue drops proxy entries with unusable addresses and
// keeps at most MaxProxies of the rest.
func DecodePushProxiesValue(_ dht.Version, data []byte) (*PushProxiesValue, error) {
	b, err := parseBlock(data)
	if err != nil {
		return nil, err
	}
	v := &PushProxiesValue{}
	if v.GUID, err = getGUID(b); err != nil {
		return nil, err
	}
	features, err := b.GetBytes(keyFeatures)
	if err != nil || len(features) != 1 {
		return nil, invalid(keyFeatures, "want one byte, got %x", features)
	}
	v.Features = features[0]
	if v.FWTVersion, err = b.GetInt(keyFWTVersion); err != nil {
		return nil, invalid(keyFWTVersion, "missing or malformed")
	}
	if v.Port, err = getPort(b); err != nil {
		return nil, err
	}

	packed, err := b.GetBytes(keyProxies)
	if err != nil {
		return nil, invalid(keyProxies, "missing")
	}
	if len(packed)%packedIPPortSize != 0 {
		return nil, invalid(keyProxies, "%d bytes is not a multiple of %d", len(packed), packedIPPortSize)
	}
	tls := b.Get(keyTLS)
	for i := 0; i*packedIPPortSize < len(packed) && len(v.Proxies) < MaxProxies; i++ {
		ap := unpackIPPort(packed[i*packedIPPortSize:])
		if !validIPPort(ap) {
			continue
		}
		v.Proxies = append(v.Proxies, Proxy{Addr: ap, TLS: bitAt(tls, i)})
	}
	return v, nil
}

func (v *PushProxiesValue) String() string {
	return fmt.Sprintf("PushProxies{guid=%s port=%d features=%#x fwt=%d proxies=%v}",
		v.GUID, v.Port, v.Features, v.FWTVersion, v.Proxies)
}
