// Gnutella client GUIDs
package guid

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const Size = 16

type GUID [Size]byte

var ErrInvalid = errors.New("guid: invalid")

// New returns a random GUID tagged the way modern Gnutella clients tag
// theirs: byte 8 is 0xFF and byte 15 is 0x00.
func New() GUID {
	var g GUID
	u := uuid.New()
	copy(g[:], u[:])
	g[8] = 0xFF
	g[15] = 0x00
	return g
}

func FromBytes(b []byte) (GUID, error) {
	var g GUID
	if len(b) != Size {
		return g, errors.Wrapf(ErrInvalid, "%d bytes", len(b))
	}
	copy(g[:], b)
	return g, nil
}

// Parse reads the 32-char hex form, either case.
func Parse(s string) (GUID, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return GUID{}, errors.Wrap(ErrInvalid, err.Error())
	}
	return FromBytes(raw)
}

func (g GUID) Bytes() []byte { return g[:] }

func (g GUID) IsZero() bool { return g == GUID{} }

func (g GUID) IsModern() bool { return g[8] == 0xFF && g[15] == 0x00 }

func (g GUID) String() string { return strings.ToUpper(hex.EncodeToString(g[:])) }
