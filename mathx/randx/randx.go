package randx

import (
	"math/rand/v2"

	"github.com/sw965/omw/mathx/randx"
)

// New returns a PCG generator for seed. A zero seed draws from the global
// seed instead, so runs differ.
func New(seed uint64) *rand.Rand {
	if seed == 0 {
		return randx.NewPCGFromGlobalSeed()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
