package dht

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// ValueType is the short code naming a kind of DHT value ("ALOC", "PROX").
type ValueType string

type Version uint16

// Value is anything that can be stored in the DHT.
type Value interface {
	Type() ValueType
	Version() Version
	Bytes() ([]byte, error)
}

type Contact struct {
	ID   KUID
	Addr *net.UDPAddr
	Time time.Time // last seen
}

// Equal compares identity and IP, ports may differ between sockets.
func (c Contact) Equal(o Contact) bool {
	if c.ID != o.ID {
		return false
	}
	if c.Addr == nil || o.Addr == nil {
		return c.Addr == o.Addr
	}
	return c.Addr.IP.Equal(o.Addr.IP)
}

// IP is the contact's address in netip form, invalid when unknown.
func (c Contact) IP() netip.Addr {
	if c.Addr == nil {
		return netip.Addr{}
	}
	return c.Addr.AddrPort().Addr().Unmap()
}

func (c Contact) String() string {
	if c.Addr == nil {
		return c.ID.String()
	}
	return c.ID.String() + "@" + c.Addr.String()
}

type EntityKey struct {
	Key  KUID
	Type ValueType
}

// Entity is a stored value together with who stored it.
type Entity struct {
	Key     KUID
	Type    ValueType
	Version Version
	Creator Contact
	Data    []byte
	Created time.Time
}

func (e Entity) EntityKey() EntityKey { return EntityKey{Key: e.Key, Type: e.Type} }

// Client is the DHT surface publishers and finders need.
type Client interface {
	Bootstrapped() bool
	Put(ctx context.Context, key KUID, value Value) (int, error)
	Get(ctx context.Context, key EntityKey) ([]Entity, error)
}
