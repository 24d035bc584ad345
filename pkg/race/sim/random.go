package sim

import (
	"math/rand/v2"
	"time"
)

// Random is the source of all decisions taken by the simulator.
type Random interface {
	// Float64 returns a uniform value in [0,1)
	Float64() float64
	// IntN returns a uniform value in [0,n)
	IntN(n int) int
}

// NewRandom returns a deterministic source for the given seed.
// A seed of 0 is replaced by the current time.
func NewRandom(seed uint64) Random {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
