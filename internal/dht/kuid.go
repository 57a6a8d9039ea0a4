package dht

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"

	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

const IDLen = 20

// KUID is a 160-bit node ID or value key.
type KUID [IDLen]byte

// KUIDFromURN keys file values by the file's SHA-1.
func KUIDFromURN(u urn.URN) KUID {
	var k KUID
	copy(k[:], u.Digest())
	return k
}

// KUIDFromGUID keys per-client values. GUIDs are only 16 bytes so they are
// hashed into the key space.
func KUIDFromGUID(g guid.GUID) KUID { return sha1.Sum(g.Bytes()) }

func RandomKUID() KUID {
	var k KUID
	_, _ = rand.Read(k[:])
	return k
}

func ParseKUID(s string) (KUID, error) {
	var k KUID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, errors.Wrap(err, "kuid")
	}
	if len(raw) != IDLen {
		return k, errors.Errorf("kuid: %d bytes", len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

func (k KUID) String() string { return hex.EncodeToString(k[:]) }

func (k KUID) Xor(o KUID) (out KUID) {
	for i := range IDLen {
		out[i] = k[i] ^ o[i]
	}
	return
}

// Closer reports whether a is closer to k than b is.
func (k KUID) Closer(a, b KUID) bool {
	da, db := k.Xor(a), k.Xor(b)
	return bytes.Compare(da[:], db[:]) < 0
}

// Finds the prefix len of bits from 160bits array
func prefixLen(id KUID) int {
	for byteIndex := range IDLen {
		if id[byteIndex] == 0 {
			continue
		}
		for bitIndex := range 8 {
			if id[byteIndex]&(0x80>>bitIndex) != 0 {
				return byteIndex*8 + bitIndex
			}
		}
	}
	return IDLen*8 - 1
}
