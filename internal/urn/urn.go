// SHA-1 file URNs ("urn:sha1:<base32>")
package urn

import (
	"bytes"
	"encoding/base32"
	"io"
	"os"
	"strings"

	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
)

const (
	Prefix     = "urn:sha1:"
	DigestSize = 20
)

var ErrInvalid = errors.New("urn: invalid")

type URN struct {
	digest [DigestSize]byte
}

func FromDigest(d []byte) (URN, error) {
	var u URN
	if len(d) != DigestSize {
		return u, errors.Wrapf(ErrInvalid, "digest is %d bytes", len(d))
	}
	copy(u.digest[:], d)
	return u, nil
}

// FromReader hashes everything r yields.
func FromReader(r io.Reader) (URN, error) {
	sum, err := mh.SumStream(r, mh.SHA1, -1)
	if err != nil {
		return URN{}, errors.Wrap(err, "urn: hash")
	}
	dec, err := mh.Decode(sum)
	if err != nil {
		return URN{}, errors.Wrap(err, "urn: decode multihash")
	}
	return FromDigest(dec.Digest)
}

func FromBytes(data []byte) (URN, error) { return FromReader(bytes.NewReader(data)) }

func FromFile(path string) (URN, error) {
	f, err := os.Open(path)
	if err != nil {
		return URN{}, err
	}
	defer f.Close()
	return FromReader(f)
}

// Parse accepts "urn:sha1:" in any case, or the bare base32 digest.
func Parse(s string) (URN, error) {
	s = strings.TrimSpace(s)
	if len(s) >= len(Prefix) && strings.EqualFold(s[:len(Prefix)], Prefix) {
		s = s[len(Prefix):]
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(s))
	if err != nil {
		return URN{}, errors.Wrapf(ErrInvalid, "%q", s)
	}
	return FromDigest(raw)
}

func (u URN) Digest() []byte { return bytes.Clone(u.digest[:]) }

func (u URN) IsZero() bool { return u.digest == [DigestSize]byte{} }

func (u URN) String() string {
	return Prefix + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(u.digest[:])
}

// CID renders the digest as a CIDv1 over raw bytes.
func (u URN) CID() string {
	m, err := mh.Encode(u.digest[:], mh.SHA1)
	if err != nil {
		return ""
	}
	return cid.NewCidV1(cid.Raw, m).String()
}

func (u URN) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *URN) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
