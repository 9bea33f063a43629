package negentropy

import (
	"encoding/binary"
	"encoding/hex"
	"math/bits"

	"github.com/minio/sha256-simd"
)

// FingerprintSize is the size of a range fingerprint in bytes.
const FingerprintSize = 16

// Fingerprint summarizes a range of items.
type Fingerprint [FingerprintSize]byte

// String implements fmt.Stringer.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// accumulator is the sum of item IDs taken as little-endian 256-bit
// integers, modulo 2^256.
type accumulator struct {
	words [4]uint64
	count uint64
}

func (a *accumulator) add(id ID) {
	var carry uint64
	for i := range a.words {
		a.words[i], carry = bits.Add64(a.words[i], binary.LittleEndian.Uint64(id[i*8:]), carry)
	}
	a.count++
}

func (a *accumulator) fingerprint() Fingerprint {
	buf := make([]byte, IDSize, IDSize+10)
	for i, w := range a.words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	buf = appendVarint(buf, a.count)
	h := sha256.Sum256(buf)
	var fp Fingerprint
	copy(fp[:], h[:FingerprintSize])
	return fp
}
