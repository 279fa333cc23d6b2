package vector

import (
	"slices"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/blas/blas32"
)

func NewZeros(n int) blas32.Vector {
	return blas32.Vector{
		N:    n,
		Inc:  1,
		Data: make([]float32, n),
	}
}

func NewZerosLike(vec blas32.Vector) blas32.Vector {
	return NewZeros(vec.N)
}

func NewFilled(n int, v float32) blas32.Vector {
	vec := NewZeros(n)
	for i := range vec.Data {
		vec.Data[i] = v
	}
	return vec
}

func FromSlice(data []float32) blas32.Vector {
	return blas32.Vector{
		N:    len(data),
		Inc:  1,
		Data: data,
	}
}

func Clone(vec blas32.Vector) blas32.Vector {
	return blas32.Vector{
		N:    vec.N,
		Inc:  vec.Inc,
		Data: slices.Clone(vec.Data),
	}
}

func Equal(a, b blas32.Vector) bool {
	return a.N == b.N && slices.Equal(a.Data[:a.N], b.Data[:b.N])
}

// IsFinite reports whether no element is NaN or ±Inf.
func IsFinite(vec blas32.Vector) bool {
	for _, e := range vec.Data {
		if math32.IsNaN(e) || math32.IsInf(e, 0) {
			return false
		}
	}
	return true
}
