// Package dhtvalue holds the Gnutella records stored in the DHT. Every
// record is a GGEP block; decoding checks each field's length and range.
package dhtvalue

import (
	"encoding/binary"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/ggep"
	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/pkg/errors"
)

const (
	AltLocType        dht.ValueType = "ALOC"
	PushProxiesType   dht.ValueType = "PROX"
	PrivateGroupsType dht.ValueType = "PGRP"
)

// GGEP keys
const (
	keyClientID   = "client-id"
	keyPort       = "port"
	keyFirewalled = "firewalled"
	keyTLS        = "tls"
	keyLength     = "length"
	keyTTRoot     = "ttroot"
	keyFeatures   = "features"
	keyFWTVersion = "fwt-version"
	keyProxies    = "proxies"
	keyUsername   = "username"
	keyIP         = "ip"
)

const TTRootSize = 24 // Tiger tree root

var (
	ErrInvalidValue = errors.New("dhtvalue: invalid value")
	ErrUnknownType  = errors.New("dhtvalue: unknown value type")
)

func invalid(field, format string, args ...any) error {
	return errors.Wrapf(ErrInvalidValue, field+": "+format, args...)
}

// Decode turns raw entity bytes back into a typed value.
func Decode(vt dht.ValueType, version dht.Version, data []byte) (dht.Value, error) {
	switch vt {
	case AltLocType:
		return DecodeAltLocValue(version, data)
	case PushProxiesType:
		return DecodePushProxiesValue(version, data)
	case PrivateGroupsType:
		return DecodePrivateGroupsValue(version, data)
	default:
		return nil, errors.Wrapf(ErrUnknownType, "%q", vt)
	}
}

func DecodeEntity(e dht.Entity) (dht.Value, error) { return Decode(e.Type, e.Version, e.Data) }

func parseBlock(data []byte) (*ggep.Block, error) {
	b, err := ggep.Parse(data)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidValue, err.Error())
	}
	return b, nil
}

func getGUID(b *ggep.Block) (guid.GUID, error) {
	raw, err := b.GetBytes(keyClientID)
	if err != nil {
		return guid.GUID{}, invalid(keyClientID, "missing")
	}
	g, err := guid.FromBytes(raw)
	if err != nil {
		return g, invalid(keyClientID, "%d bytes", len(raw))
	}
	return g, nil
}

func putPort(b *ggep.Block, port uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], port)
	return b.Put(keyPort, buf[:])
}

func getPort(b *ggep.Block) (uint16, error) {
	raw, err := b.GetBytes(keyPort)
	if err != nil {
		return 0, invalid(keyPort, "missing")
	}
	if len(raw) != 2 {
		return 0, invalid(keyPort, "%d bytes", len(raw))
	}
	port := binary.BigEndian.Uint16(raw)
	if port == 0 {
		return 0, invalid(keyPort, "zero")
	}
	return port, nil
}

func encode(b *ggep.Block, errs ...error) ([]byte, error) {
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return b.MarshalBinary()
}
