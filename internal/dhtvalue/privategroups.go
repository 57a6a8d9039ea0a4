package dhtvalue

import (
	"net/netip"
	"unicode/utf8"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/ggep"
)

const (
	PrivateGroupsVersion dht.Version = 0
	MaxUsernameSize                  = 64
)

// PrivateGroupsValue maps a chat user name to the address it listens on.
type PrivateGroupsValue struct {
	Username string
	Addr     netip.AddrPort
}

func NewPrivateGroupsValue(username string, addr netip.AddrPort) (*PrivateGroupsValue, error) {
	v := &PrivateGroupsValue{Username: username, Addr: addr}
	return v, v.validate()
}

func (v *PrivateGroupsValue) validate() error {
	if v.Username == "" || len(v.Username) > MaxUsernameSize {
		return invalid(keyUsername, "%d bytes", len(v.Username))
	}
	if !utf8.ValidString(v.Username) {
		return invalid(keyUsername, "not utf-8")
	}
	if !v.Addr.Addr().IsValid() {
		return invalid(keyIP, "missing")
	}
	if v.Addr.Port() == 0 {
		return invalid(keyPort, "zero")
	}
	return nil
}

func (v *PrivateGroupsValue) Type() dht.ValueType  { return PrivateGroupsType }
func (v *PrivateGroupsValue) Version() dht.Version { return PrivateGroupsVersion }

func (v *PrivateGroupsValue) Bytes() ([]byte, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	b := ggep.New()
	return encode(b,
		b.PutString(keyUsername, v.Username),
		b.Put(keyIP, v.Addr.Addr().Unmap().AsSlice()),
		putPort(b, v.Addr.Port()),
	)
}

func DecodePrivateGroupsValue(_ dht.Version, data []byte) (*PrivateGroupsValue, error) {
	b, err := parseBlock(data)
	if err != nil {
		return nil, err
	}
	name, err := b.GetString(keyUsername)
	if err != nil || name == "" || len(name) > MaxUsernameSize {
		return nil, invalid(keyUsername, "missing or %d bytes", len(name))
	}
	if !utf8.ValidString(name) {
		return nil, invalid(keyUsername, "not utf-8")
	}
	raw, err := b.GetBytes(keyIP)
	if err != nil {
		return nil, invalid(keyIP, "missing")
	}
	ip, ok := netip.AddrFromSlice(raw)
	if !ok {
		return nil, invalid(keyIP, "%d bytes", len(raw))
	}
	port, err := getPort(b)
	if err != nil {
		return nil, err
	}
	return &PrivateGroupsValue{Username: name, Addr: netip.AddrPortFrom(ip, port)}, nil
}
