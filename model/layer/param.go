package layer

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan"

	"github.com/sw965/filtergan/blas32/tensor/2d"
	"github.com/sw965/filtergan/blas32/vector"
	"gonum.org/v1/gonum/blas/blas32"
)

type GradBuffer struct {
	Weight blas32.General
	Bias   blas32.Vector
}

func (g *GradBuffer) NewZerosLike() GradBuffer {
	return GradBuffer{
		Weight: tensor2d.NewZerosLike(g.Weight),
		Bias:   vector.NewZerosLike(g.Bias),
	}
}

func (g *GradBuffer) Axpy(alpha float32, x *GradBuffer) {
	if x.Weight.Rows != 0 {
		tensor2d.Axpy(alpha, x.Weight, g.Weight)
	}

	if x.Bias.N != 0 {
		blas32.Axpy(alpha, x.Bias, g.Bias)
	}
}

func (g *GradBuffer) Scal(alpha float32) {
	if g.Weight.Rows != 0 {
		tensor2d.Scal(alpha, g.Weight)
	}

	if g.Bias.N != 0 {
		blas32.Scal(alpha, g.Bias)
	}
}

type GradBuffers []GradBuffer

func (gs GradBuffers) NewZerosLike() GradBuffers {
	zeros := make(GradBuffers, len(gs))
	for i, g := range gs {
		zeros[i] = g.NewZerosLike()
	}
	return zeros
}

func (gs GradBuffers) Axpy(alpha float32, xs GradBuffers) {
	for i := range gs {
		gs[i].Axpy(alpha, &xs[i])
	}
}

func (gs GradBuffers) Scal(alpha float32) {
	for i := range gs {
		gs[i].Scal(alpha)
	}
}

// Parameter holds one layer's weights. Layers without weights keep both
// fields empty.
type Parameter struct {
	Weight blas32.General
	Bias   blas32.Vector
}

func NewEmptyParameter() Parameter {
	return Parameter{
		Weight: blas32.General{Rows: 0, Cols: 0, Stride: 0, Data: []float32{}},
		Bias:   blas32.Vector{N: 0, Inc: 1, Data: []float32{}},
	}
}

// NewAffineParameter returns a He-initialised xn x yn dense weight with a
// zero bias.
func NewAffineParameter(xn, yn int, rng *rand.Rand) Parameter {
	return Parameter{
		Weight: tensor2d.NewHe(xn, yn, xn, rng),
		Bias:   vector.NewZeros(yn),
	}
}

// NewConv2DParameter returns a He-initialised filter bank stored as
// (filters, chs*filterRows*filterCols) with a zero bias.
func NewConv2DParameter(filters, chs, filterRows, filterCols int, rng *rand.Rand) Parameter {
	fanIn := chs * filterRows * filterCols
	return Parameter{
		Weight: tensor2d.NewHe(filters, fanIn, fanIn, rng),
		Bias:   vector.NewZeros(filters),
	}
}

func (p *Parameter) NewGradZerosLike() GradBuffer {
	return GradBuffer{
		Weight: tensor2d.NewZerosLike(p.Weight),
		Bias:   vector.NewZerosLike(p.Bias),
	}
}

func (p *Parameter) Clone() Parameter {
	return Parameter{
		Weight: tensor2d.Clone(p.Weight),
		Bias:   vector.Clone(p.Bias),
	}
}

func (p *Parameter) AxpyGrad(alpha float32, grad *GradBuffer) {
	if p.Weight.Rows != 0 {
		tensor2d.Axpy(alpha, grad.Weight, p.Weight)
	}

	if p.Bias.N != 0 {
		blas32.Axpy(alpha, grad.Bias, p.Bias)
	}
}

func (p *Parameter) Equal(other *Parameter) bool {
	return tensor2d.N(p.Weight) == tensor2d.N(other.Weight) &&
		vector.Equal(tensor2d.ToVector(p.Weight), tensor2d.ToVector(other.Weight)) &&
		vector.Equal(p.Bias, other.Bias)
}

type Parameters []Parameter

func (ps Parameters) NewGradsZerosLike() GradBuffers {
	grads := make(GradBuffers, len(ps))
	for i := range ps {
		grads[i] = ps[i].NewGradZerosLike()
	}
	return grads
}

func (ps Parameters) Clone() Parameters {
	clone := make(Parameters, len(ps))
	for i := range ps {
		clone[i] = ps[i].Clone()
	}
	return clone
}

func (ps Parameters) AxpyGrads(alpha float32, grads GradBuffers) {
	for i := range ps {
		ps[i].AxpyGrad(alpha, &grads[i])
	}
}

func (ps Parameters) Equal(others Parameters) bool {
	if len(ps) != len(others) {
		return false
	}
	for i := range ps {
		if !ps[i].Equal(&others[i]) {
			return false
		}
	}
	return true
}

// CheckShapes reports ErrShapeMismatch unless others holds the same number
// of layers as ps with the same weight and bias sizes.
func (ps Parameters) CheckShapes(others Parameters) error {
	if len(ps) != len(others) {
		return errors.Wrapf(filtergan.ErrShapeMismatch, "%d layers, want %d", len(others), len(ps))
	}
	for i := range ps {
		p, o := &ps[i], &others[i]
		if p.Weight.Rows != o.Weight.Rows || p.Weight.Cols != o.Weight.Cols ||
			len(p.Weight.Data) != len(o.Weight.Data) || len(p.Bias.Data) != len(o.Bias.Data) {
			return errors.Wrapf(filtergan.ErrShapeMismatch, "layer %d: weight %dx%d bias %d, want %dx%d bias %d",
				i, o.Weight.Rows, o.Weight.Cols, len(o.Bias.Data), p.Weight.Rows, p.Weight.Cols, len(p.Bias.Data))
		}
	}
	return nil
}
