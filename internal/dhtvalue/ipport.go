package dhtvalue

import (
	"encoding/binary"
	"net/netip"
)

const packedIPPortSize = 6 // IPv4 then little-endian port

func packIPPort(dst []byte, ap netip.AddrPort) []byte {
	ip := ap.Addr().Unmap().As4()
	dst = append(dst, ip[:]...)
	return binary.LittleEndian.AppendUint16(dst, ap.Port())
}

func unpackIPPort(b []byte) netip.AddrPort {
	ip := netip.AddrFrom4([4]byte(b[:4]))
	return netip.AddrPortFrom(ip, binary.LittleEndian.Uint16(b[4:6]))
}

// Usable as a contact address: a routable IPv4 host and a non-zero port.
func validIPPort(ap netip.AddrPort) bool {
	a := ap.Addr().Unmap()
	return a.Is4() && ap.Port() != 0 &&
		!a.IsUnspecified() && !a.IsMulticast() &&
		a != netip.AddrFrom4([4]byte{255, 255, 255, 255})
}

// MSB-first bit set, bit i is byte i/8 mask 0x80>>(i%8).
func bitSet(bits []bool) []byte {
	var out []byte
	for i, set := range bits {
		if !set {
			continue
		}
		for len(out) <= i/8 {
			out = append(out, 0)
		}
		out[i/8] |= 0x80 >> (i % 8)
	}
	return out
}

func bitAt(set []byte, i int) bool {
	return i/8 < len(set) && set[i/8]&(0x80>>(i%8)) != 0
}
