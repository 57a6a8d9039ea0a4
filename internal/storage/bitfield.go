// To know whether one owns dataPiece or not
package storage

// One byte per piece, 1 means owned.
type Bitfield []byte // len == numPieces

func NewBitfield(n int) Bitfield { return make([]byte, n) }

// FullBitfield returns a bitfield with every piece set, what a seeder advertises.
func FullBitfield(n int) Bitfield {
	bf := NewBitfield(n)
	for i := range bf {
		bf.Set(i)
	}
	return bf
}

func (bf Bitfield) Has(i int) bool { return i >= 0 && i < len(bf) && bf[i] == 1 }
func (bf Bitfield) Set(i int)      { bf[i] = 1 }

func (bf Bitfield) Count() int {
	n := 0
	for _, b := range bf {
		if b == 1 {
			n++
		}
	}
	return n
}

func (bf Bitfield) Complete() bool { return bf.Count() == len(bf) }

// Serialize bitfield to bytes
func (bf Bitfield) Bytes() []byte     { return []byte(bf) }
func ParseBitfield(b []byte) Bitfield { return Bitfield(b) }
