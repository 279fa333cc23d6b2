package tensor2d

import (
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func NewZeros(rows, cols int) blas32.General {
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   make([]float32, rows*cols),
	}
}

func NewZerosLike(gen blas32.General) blas32.General {
	return NewZeros(gen.Rows, gen.Cols)
}

// NewHe draws from N(0, 2/fanIn). For a dense weight fanIn is rows; for a
// conv filter stored as (outChannels, inChannels*kr*kc) it is cols, so the
// caller passes it explicitly.
func NewHe(rows, cols, fanIn int, rng *rand.Rand) blas32.General {
	gen := NewZeros(rows, cols)
	std := math.Sqrt(2.0 / float64(fanIn))
	for i := range gen.Data {
		gen.Data[i] = float32(rng.NormFloat64() * std)
	}
	return gen
}

func N(gen blas32.General) int {
	return gen.Rows * gen.Cols
}

func Clone(gen blas32.General) blas32.General {
	return blas32.General{
		Rows:   gen.Rows,
		Cols:   gen.Cols,
		Stride: gen.Stride,
		Data:   slices.Clone(gen.Data),
	}
}

func At(gen blas32.General, row, col int) int {
	return row*gen.Stride + col
}

func ToVector(gen blas32.General) blas32.Vector {
	return blas32.Vector{
		N:    N(gen),
		Inc:  1,
		Data: gen.Data,
	}
}

func Scal(alpha float32, gen blas32.General) {
	vec := ToVector(gen)
	blas32.Scal(alpha, vec)
}

func Axpy(alpha float32, x, y blas32.General) {
	xv := ToVector(x)
	yv := ToVector(y)
	blas32.Axpy(alpha, xv, yv)
}

// Sum0 sums over rows, giving one value per column.
func Sum0(gen blas32.General) blas32.Vector {
	sums := make([]float32, gen.Cols)
	for r := 0; r < gen.Rows; r++ {
		offset := r * gen.Stride
		for c := 0; c < gen.Cols; c++ {
			sums[c] += gen.Data[offset+c]
		}
	}
	return blas32.Vector{
		N:    gen.Cols,
		Inc:  1,
		Data: sums,
	}
}

func Transpose(gen blas32.General) blas32.General {
	t := NewZeros(gen.Cols, gen.Rows)
	for i := range t.Rows {
		for j := range t.Cols {
			t.Data[At(t, i, j)] = gen.Data[At(gen, j, i)]
		}
	}
	return t
}

// Dot returns op(a)·op(b).
func Dot(tA, tB blas.Transpose, a, b blas32.General) blas32.General {
	rows, cols := a.Rows, b.Cols
	if tA == blas.Trans {
		rows = a.Cols
	}
	if tB == blas.Trans {
		cols = b.Rows
	}
	y := NewZeros(rows, cols)
	blas32.Gemm(tA, tB, 1.0, a, b, 0.0, y)
	return y
}
