// Package filter provides the bloom filter the name index consults before
// falling back to an on-disk scan: a negative answer proves the key was
// never appended, so the scan can be skipped outright.
package filter

import (
	"crypto/sha256"
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter over the index's fixed 32-byte key digests.
// Keys are already sha256 output, so each probe is a single seeded
// murmur3 sum of the digest rather than a streaming hash.
type Filter struct {
	words  []uint64
	nbits  uint32
	probes uint32
}

// New sizes a filter for n expected keys at false-positive rate p.
func New(n int, p float64) *Filter {
	if n <= 0 || p <= 0 || p >= 1 {
		return nil
	}

	m := int(math.Ceil(-float64(n) * math.Log(p) / math.Pow(math.Log(2), 2)))
	k := int(math.Round((float64(m) / float64(n)) * math.Log(2)))

	if m == 0 || k == 0 {
		return nil
	}

	return &Filter{
		words:  make([]uint64, (m+63)/64),
		nbits:  uint32(m),
		probes: uint32(k),
	}
}

// Add records a key digest.
func (f *Filter) Add(digest [sha256.Size]byte) {
	for seed := uint32(0); seed < f.probes; seed++ {
		bit := murmur3.Sum32WithSeed(digest[:], seed) % f.nbits
		f.words[bit/64] |= 1 << (bit % 64)
	}
}

// Contains reports whether the digest may have been added. False is
// definite.
func (f *Filter) Contains(digest [sha256.Size]byte) bool {
	for seed := uint32(0); seed < f.probes; seed++ {
		bit := murmur3.Sum32WithSeed(digest[:], seed) % f.nbits
		if f.words[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}
