// GGEP (Gnutella Generic Extension Protocol) blocks.
//
// A block is the magic byte 0xC3 followed by extensions:
//
//	flags   1 byte   0x80 last | 0x40 COBS | 0x20 deflate | low nibble = key length
//	key     1..15 bytes
//	length  1..3 bytes, 6 bits each, 0x80 = more follow, 0x40 = last
//	value   length bytes
package ggep

import (
	"bytes"
	"compress/zlib"
	"io"
	"math"
	"sort"

	"github.com/pkg/errors"
)

const (
	Magic        = 0xC3
	MaxKeySize   = 15
	MaxValueSize = 1<<18 - 1 // 18 bits across three length bytes

	flagLast       = 0x80
	flagCOBS       = 0x40
	flagCompressed = 0x20
	flagReserved   = 0x10
	keyLenMask     = 0x0F

	lenMore = 0x80
	lenLast = 0x40
	lenBits = 0x3F
)

var (
	ErrBadBlock      = errors.New("ggep: bad block")
	ErrBadProperty   = errors.New("ggep: bad property")
	ErrInvalidKey    = errors.New("ggep: invalid key")
	ErrValueTooLarge = errors.New("ggep: value too large")
)

type prop struct {
	data     []byte
	compress bool
}

// Block is a set of GGEP extensions keyed by name.
// The zero value is not usable, call New.
type Block struct {
	props map[string]prop
	cobs  bool
}

// New returns an empty block that writes values verbatim.
func New() *Block { return &Block{props: make(map[string]prop)} }

// NewCOBS returns an empty block that COBS-encodes any value containing 0x00,
// for payloads that must stay NUL free.
func NewCOBS() *Block {
	b := New()
	b.cobs = true
	return b
}

func validateKey(key string) error {
	if key == "" || len(key) > MaxKeySize || containsZero([]byte(key)) {
		return errors.Wrapf(ErrInvalidKey, "%q", key)
	}
	return nil
}

func (b *Block) put(key string, value []byte, compress bool) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if len(value) > MaxValueSize {
		return errors.Wrapf(ErrValueTooLarge, "%s: %d bytes", key, len(value))
	}
	b.props[key] = prop{data: bytes.Clone(value), compress: compress}
	return nil
}

func (b *Block) Put(key string, value []byte) error { return b.put(key, value, false) }

// PutCompressed stores value and deflates it on the wire.
func (b *Block) PutCompressed(key string, value []byte) error { return b.put(key, value, true) }

func (b *Block) PutString(key, value string) error { return b.put(key, []byte(value), false) }

// PutFlag stores a key with no value.
func (b *Block) PutFlag(key string) error { return b.put(key, nil, false) }

func (b *Block) PutInt(key string, value int) error {
	if value < 0 || uint64(value) > math.MaxUint32 {
		return errors.Wrapf(ErrBadProperty, "%s: int %d out of range", key, value)
	}
	return b.put(key, minLE(uint64(value)), false)
}

func (b *Block) PutLong(key string, value int64) error {
	if value < 0 {
		return errors.Wrapf(ErrBadProperty, "%s: negative long", key)
	}
	return b.put(key, minLE(uint64(value)), false)
}

// Minimal little-endian, at least one byte
func minLE(v uint64) []byte {
	out := []byte{byte(v)}
	for v >>= 8; v != 0; v >>= 8 {
		out = append(out, byte(v))
	}
	return out
}

func fromLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (b *Block) Has(key string) bool {
	_, ok := b.props[key]
	return ok
}

// Get returns the value of key, nil when the key is a flag or absent.
func (b *Block) Get(key string) []byte { return b.props[key].data }

func (b *Block) GetBytes(key string) ([]byte, error) {
	p, ok := b.props[key]
	if !ok {
		return nil, errors.Wrapf(ErrBadProperty, "%s: missing", key)
	}
	return p.data, nil
}

func (b *Block) GetString(key string) (string, error) {
	v, err := b.GetBytes(key)
	return string(v), err
}

func (b *Block) GetInt(key string) (int, error) {
	v, err := b.GetBytes(key)
	if err != nil {
		return 0, err
	}
	if len(v) < 1 || len(v) > 4 {
		return 0, errors.Wrapf(ErrBadProperty, "%s: %d bytes for int", key, len(v))
	}
	return int(fromLE(v)), nil
}

func (b *Block) GetLong(key string) (int64, error) {
	v, err := b.GetBytes(key)
	if err != nil {
		return 0, err
	}
	if len(v) < 1 || len(v) > 8 {
		return 0, errors.Wrapf(ErrBadProperty, "%s: %d bytes for long", key, len(v))
	}
	return int64(fromLE(v)), nil
}

// Keys returns the extension names in wire order.
func (b *Block) Keys() []string {
	keys := make([]string, 0, len(b.props))
	for k := range b.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Block) Len() int { return len(b.props) }

// Merge copies every extension of other into b, replacing existing keys.
func (b *Block) Merge(other *Block) {
	for k, p := range other.props {
		b.props[k] = p
	}
}

// Equal reports whether both blocks hold the same keys and values.
func (b *Block) Equal(other *Block) bool {
	if len(b.props) != len(other.props) {
		return false
	}
	for k, p := range b.props {
		q, ok := other.props[k]
		if !ok || !bytes.Equal(p.data, q.data) {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the block. An empty block encodes to nothing.
func (b *Block) MarshalBinary() ([]byte, error) {
	if len(b.props) == 0 {
		return nil, nil
	}
	out := []byte{Magic}
	keys := b.Keys()
	for i, key := range keys {
		p := b.props[key]
		data := p.data
		var flags byte
		if p.compress && len(data) > 0 {
			z, err := deflate(data)
			if err != nil {
				return nil, err
			}
			if len(z) > MaxValueSize {
				return nil, errors.Wrapf(ErrValueTooLarge, "%s: %d bytes compressed", key, len(z))
			}
			data = z
			flags |= flagCompressed
		}
		if b.cobs && containsZero(data) {
			data = cobsEncode(data)
			flags |= flagCOBS
		}
		if len(data) > MaxValueSize {
			return nil, errors.Wrapf(ErrValueTooLarge, "%s: %d bytes encoded", key, len(data))
		}
		if i == len(keys)-1 {
			flags |= flagLast
		}
		flags |= byte(len(key))
		out = append(out, flags)
		out = append(out, key...)
		out = appendLength(out, len(data))
		out = append(out, data...)
	}
	return out, nil
}

// WriteTo writes the encoded block to w.
func (b *Block) WriteTo(w io.Writer) (int64, error) {
	data, err := b.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

func appendLength(dst []byte, n int) []byte {
	switch {
	case n >= 1<<12:
		return append(dst, lenMore|byte(n>>12&lenBits), lenMore|byte(n>>6&lenBits), lenLast|byte(n&lenBits))
	case n >= 1<<6:
		return append(dst, lenMore|byte(n>>6&lenBits), lenLast|byte(n&lenBits))
	default:
		return append(dst, lenLast|byte(n&lenBits))
	}
}

// Parse decodes a block that starts at data[0].
func Parse(data []byte) (*Block, error) {
	b, _, err := ParseAt(data, 0)
	return b, err
}

// ParseAt decodes a block starting at offset and returns the offset just
// past its last extension.
func ParseAt(data []byte, offset int) (*Block, int, error) {
	if offset < 0 || len(data)-offset < 4 {
		return nil, 0, errors.Wrap(ErrBadBlock, "too short")
	}
	if data[offset] != Magic {
		return nil, 0, errors.Wrapf(ErrBadBlock, "magic %#x", data[offset])
	}
	b := New()
	i := offset + 1
	for last := false; !last; {
		if i >= len(data) {
			return nil, 0, errors.Wrap(ErrBadBlock, "missing extension header")
		}
		flags := data[i]
		if flags&flagReserved != 0 {
			return nil, 0, errors.Wrap(ErrBadBlock, "reserved bit set")
		}
		last = flags&flagLast != 0
		keyLen := int(flags & keyLenMask)
		if keyLen == 0 {
			return nil, 0, errors.Wrap(ErrBadBlock, "zero key length")
		}
		i++
		if i+keyLen > len(data) {
			return nil, 0, errors.Wrap(ErrBadBlock, "truncated key")
		}
		key := string(data[i : i+keyLen])
		if err := validateKey(key); err != nil {
			return nil, 0, errors.Wrap(ErrBadBlock, err.Error())
		}
		i += keyLen

		n, used, err := readLength(data[i:])
		if err != nil {
			return nil, 0, err
		}
		i += used
		if i+n > len(data) {
			return nil, 0, errors.Wrapf(ErrBadBlock, "%s: truncated value", key)
		}
		var value []byte
		if n > 0 {
			value = bytes.Clone(data[i : i+n])
			i += n
			if flags&flagCOBS != 0 {
				if value, err = cobsDecode(value); err != nil {
					return nil, 0, errors.Wrapf(ErrBadBlock, "%s: %v", key, err)
				}
			}
			if flags&flagCompressed != 0 {
				if value, err = inflate(value); err != nil {
					return nil, 0, errors.Wrapf(ErrBadBlock, "%s: %v", key, err)
				}
			}
		}
		b.props[key] = prop{data: value, compress: flags&flagCompressed != 0}
	}
	return b, i, nil
}

func readLength(data []byte) (n, used int, err error) {
	for {
		if used >= len(data) {
			return 0, 0, errors.Wrap(ErrBadBlock, "truncated length")
		}
		c := data[used]
		used++
		if used > 3 {
			return 0, 0, errors.Wrap(ErrBadBlock, "length field too long")
		}
		n = n<<6 | int(c&lenBits)
		if c&lenLast != 0 {
			return n, used, nil
		}
	}
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Inflated output is capped so a small payload cannot expand without bound.
func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, MaxValueSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxValueSize {
		return nil, ErrValueTooLarge
	}
	return out, nil
}
