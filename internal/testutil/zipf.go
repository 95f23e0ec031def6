// zipf.go ports the Zipfian key generator used by benchmark-style test
// setups to populate memtables with a realistic hot/cold key distribution
// before exercising a flush.
//
// Reference: RocksDB v10.7.5 util/zipf.{h,cc} ("Quickly Generating
// Billion-Record Synthetic Databases", Jim Gray et al, SIGMOD 1994).
package testutil

import (
	"encoding/binary"
	"math"
	"math/rand"
)

// zipfGenerator is a direct port of ZipfGenerator: it draws integers in
// [0, items) biased toward the low end of the range according to skew.
type zipfGenerator struct {
	rng   *rand.Rand
	items int64

	theta        float64
	alpha        float64
	zeta2theta   float64
	zetan        float64
	eta          float64
	countForZeta int64
}

func newZipfGenerator(items int64, skew float64, seed int64) *zipfGenerator {
	g := &zipfGenerator{
		rng:   rand.New(rand.NewSource(seed)),
		items: items,
		theta: skew,
	}
	g.zeta2theta = g.zetaFrom(0, 2, 0)
	g.alpha = 1.0 / (1.0 - g.theta)
	g.zetan = g.zetaFrom(0, items, 0)
	g.countForZeta = items
	g.eta = (1 - math.Pow(2.0/float64(items), 1-g.theta)) / (1 - g.zeta2theta/g.zetan)
	return g
}

// zetaFrom matches zetastatic: the incomplete Riemann zeta sum over
// [st, n), seeded from an already-computed partial sum.
func (g *zipfGenerator) zetaFrom(st, n int64, initialSum float64) float64 {
	sum := initialSum
	for i := st; i < n; i++ {
		sum += 1 / math.Pow(float64(i+1), g.theta)
	}
	return sum
}

// next draws the next Zipf-distributed value in [0, items), matching
// nextLong(items) for the (non-"latest") generator.
func (g *zipfGenerator) next() int64 {
	u := g.rng.Float64()
	uz := u * g.zetan

	if uz < 1.0 {
		return 0
	}
	if uz < 1.0+math.Pow(0.5, g.theta) {
		return 1
	}
	return int64(float64(g.items) * math.Pow(g.eta*u-g.eta+1, g.alpha))
}

// ZipfKeys returns n keys drawn from a Zipfian distribution over a dense
// keyspace of size n, encoded as 8-byte big-endian integers so their byte
// order matches their numeric order (useful for building a memtable with a
// realistic hot/cold skew under BytewiseComparator). skew is the Zipfian
// constant (RocksDB's benchmarks use 0.99); seed makes the sequence
// reproducible across runs.
func ZipfKeys(n int, skew float64, seed int64) [][]byte {
	if n <= 0 {
		return nil
	}
	gen := newZipfGenerator(int64(n), skew, seed)
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(gen.next()))
		keys[i] = buf[:]
	}
	return keys
}
