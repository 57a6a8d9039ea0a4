package dhtvalue

import (
	"bytes"
	"fmt"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/ggep"
	"github.com/BitTorrentFileSharing/limedht/internal/guid"
)

const (
	AltLocVersion0 dht.Version = 0
	// Version 1 adds the file length and tiger tree root.
	AltLocVersion1 dht.Version = 1
	AltLocVersion              = AltLocVersion1
)

// AltLocValue says "the creator of this value has the file".
// The creator's IP comes from the DHT; Port is its Gnutella TCP port.
type AltLocValue struct {
	version    dht.Version
	GUID       guid.GUID
	Port       uint16
	FileSize   int64  // -1 when unknown (version 0)
	RootHash   []byte // nil or TTRootSize bytes
	Firewalled bool
	TLS        bool
}

func NewAltLocValue(g guid.GUID, port uint16, fileSize int64, ttroot []byte, firewalled, tls bool) (*AltLocValue, error) {
	v := &AltLocValue{
		version:    AltLocVersion,
		GUID:       g,
		Port:       port,
		FileSize:   fileSize,
		RootHash:   bytes.Clone(ttroot),
		Firewalled: firewalled,
		TLS:        tls,
	}
	return v, v.validate()
}

// LegacyAltLocValue builds a version 0 value, which has no file details.
func LegacyAltLocValue(g guid.GUID, port uint16, firewalled, tls bool) (*AltLocValue, error) {
	v := &AltLocValue{version: AltLocVersion0, GUID: g, Port: port, FileSize: -1, Firewalled: firewalled, TLS: tls}
	return v, v.validate()
}

func (v *AltLocValue) validate() error {
	if v.Port == 0 {
		return invalid(keyPort, "zero")
	}
	if v.version >= AltLocVersion1 && v.FileSize < 0 {
		return invalid(keyLength, "negative %d", v.FileSize)
	}
	if v.RootHash != nil && len(v.RootHash) != TTRootSize {
		return invalid(keyTTRoot, "%d bytes", len(v.RootHash))
	}
	return nil
}

func (v *AltLocValue) Type() dht.ValueType  { return AltLocType }
func (v *AltLocValue) Version() dht.Version { return v.version }

func (v *AltLocValue) Bytes() ([]byte, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	b := ggep.New()
	fw := byte(0)
	if v.Firewalled {
		fw = 1
	}
	errs := []error{
		b.Put(keyClientID, v.GUID.Bytes()),
		putPort(b, v.Port),
		b.Put(keyFirewalled, []byte{fw}),
	}
	if v.TLS {
		errs = append(errs, b.PutFlag(keyTLS))
	}
	if v.version >= AltLocVersion1 {
		errs = append(errs, b.PutLong(keyLength, v.FileSize))
		if v.RootHash != nil {
			errs = append(errs, b.Put(keyTTRoot, v.RootHash))
		}
	}
	return encode(b, errs...)
}

func DecodeAltLocValue(version dht.Version, data []byte) (*AltLocValue, error) {
	b, err := parseBlock(data)
	if err != nil {
		return nil, err
	}
	v := &AltLocValue{version: version, FileSize: -1}
	if v.GUID, err = getGUID(b); err != nil {
		return nil, err
	}
	if v.Port, err = getPort(b); err != nil {
		return nil, err
	}

	fw, err := b.GetBytes(keyFirewalled)
	if err != nil || len(fw) != 1 || fw[0] > 1 {
		return nil, invalid(keyFirewalled, "want one 0/1 byte, got %x", fw)
	}
	v.Firewalled = fw[0] == 1
	v.TLS = b.Has(keyTLS)

	if version >= AltLocVersion1 {
		if v.FileSize, err = b.GetLong(keyLength); err != nil || v.FileSize < 0 {
			return nil, invalid(keyLength, "missing or malformed")
		}
		if b.Has(keyTTRoot) {
			root := b.Get(keyTTRoot)
			if len(root) != TTRootSize {
				return nil, invalid(keyTTRoot, "%d bytes", len(root))
			}
			v.RootHash = root
		}
	}
	return v, nil
}

func (v *AltLocValue) String() string {
	return fmt.Sprintf("AltLoc{guid=%s port=%d size=%d firewalled=%t tls=%t v%d}",
		v.GUID, v.Port, v.FileSize, v.Firewalled, v.TLS, v.version)
}
