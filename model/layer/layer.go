package layer

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/blas32/tensor/2d"
	"github.com/sw965/filtergan/blas32/tensor/3d"
	"github.com/sw965/filtergan/mathx"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Shape is the CHW shape flowing between layers. Dense activations use
// Shape{Channels: 1, Rows: 1, Cols: n}.
type Shape struct {
	Channels int
	Rows     int
	Cols     int
}

func NewFlatShape(n int) Shape {
	return Shape{Channels: 1, Rows: 1, Cols: n}
}

func (s Shape) N() int {
	return s.Channels * s.Rows * s.Cols
}

type Forward func(blas32.Vector, *Parameter) (blas32.Vector, Backward, error)
type Forwards []Forward

func (fs Forwards) Propagate(x blas32.Vector, params Parameters) (blas32.Vector, Backwards, error) {
	var err error
	var backward Backward
	backwards := make(Backwards, len(fs))
	for i, f := range fs {
		x, backward, err = f(x, &params[i])
		if err != nil {
			return blas32.Vector{}, nil, errors.Wrapf(err, "layer %d", i)
		}
		backwards[i] = backward
	}
	y := x
	slices.Reverse(backwards)
	return y, backwards, nil
}

type Backward func(blas32.Vector) (blas32.Vector, GradBuffer, error)
type Backwards []Backward

func (bs Backwards) Propagate(chain blas32.Vector) (blas32.Vector, GradBuffers, error) {
	grads := make(GradBuffers, len(bs))
	var grad GradBuffer
	var err error
	for i, b := range bs {
		chain, grad, err = b(chain)
		if err != nil {
			return blas32.Vector{}, nil, err
		}
		grads[i] = grad
	}
	dx := chain
	slices.Reverse(grads)
	return dx, grads, nil
}

func shapeError(format string, args ...any) error {
	return errors.Wrapf(filtergan.ErrShapeMismatch, format, args...)
}

func AffineForward(x blas32.Vector, param *Parameter) (blas32.Vector, Backward, error) {
	if x.N != param.Weight.Rows {
		return blas32.Vector{}, nil, shapeError("affine: input length %d, weight rows %d", x.N, param.Weight.Rows)
	}

	yn := param.Weight.Cols
	y := blas32.Vector{N: yn, Inc: 1, Data: make([]float32, yn)}
	blas32.Copy(param.Bias, y)
	blas32.Gemv(blas.Trans, 1.0, param.Weight, x, 1.0, y)

	var backward Backward
	backward = func(chain blas32.Vector) (blas32.Vector, GradBuffer, error) {
		wRows := param.Weight.Rows
		wCols := param.Weight.Cols
		if chain.N != wCols {
			return blas32.Vector{}, GradBuffer{}, shapeError("affine backward: chain length %d, weight cols %d", chain.N, wCols)
		}

		dx := blas32.Vector{
			N:    wRows,
			Inc:  1,
			Data: make([]float32, wRows),
		}
		blas32.Gemv(blas.NoTrans, 1.0, param.Weight, chain, 0.0, dx)

		dw := tensor2d.NewZeros(wRows, wCols)
		blas32.Ger(1.0, x, chain, dw)

		db := blas32.Vector{
			N:    chain.N,
			Inc:  1,
			Data: make([]float32, chain.N),
		}
		blas32.Copy(chain, db)

		grad := GradBuffer{
			Weight: dw,
			Bias:   db,
		}
		return dx, grad, nil
	}
	return y, backward, nil
}

// NewConv2DForward returns a stride-1, same-padded convolution over inputs of
// shape in. The parameter's Weight is (filters, in.Channels*filterRows*filterCols)
// and the output shape is (filters, in.Rows, in.Cols).
func NewConv2DForward(in Shape, filterRows, filterCols int) Forward {
	top, bot, left, right := tensor3d.SamePadding(filterRows, filterCols)
	return func(x blas32.Vector, param *Parameter) (blas32.Vector, Backward, error) {
		img, err := tensor3d.FromVector(x, in.Channels, in.Rows, in.Cols)
		if err != nil {
			return blas32.Vector{}, nil, shapeError("conv2d: %v", err)
		}

		w := param.Weight
		if w.Cols != in.Channels*filterRows*filterCols {
			return blas32.Vector{}, nil, shapeError("conv2d: filter cols %d, want %d", w.Cols, in.Channels*filterRows*filterCols)
		}
		if param.Bias.N != w.Rows {
			return blas32.Vector{}, nil, shapeError("conv2d: %d filters, %d biases", w.Rows, param.Bias.N)
		}

		padded := img.ZeroPadding2D(top, bot, left, right)
		col := padded.ToCol(filterRows, filterCols)

		filters := w.Rows
		pixels := col.Rows
		dot := tensor2d.NewZeros(pixels, filters)
		// one bias per output channel
		for row := 0; row < pixels; row++ {
			copy(dot.Data[row*filters:(row+1)*filters], param.Bias.Data)
		}
		blas32.Gemm(blas.NoTrans, blas.Trans, 1.0, col, w, 1.0, dot)

		yData := make([]float32, filters*pixels)
		for i := 0; i < pixels; i++ {
			for ch := 0; ch < filters; ch++ {
				yData[ch*pixels+i] = dot.Data[i*filters+ch]
			}
		}
		y := blas32.Vector{N: len(yData), Inc: 1, Data: yData}

		var backward Backward
		backward = func(chain blas32.Vector) (blas32.Vector, GradBuffer, error) {
			if chain.N != filters*pixels {
				return blas32.Vector{}, GradBuffer{}, shapeError("conv2d backward: chain length %d, want %d", chain.N, filters*pixels)
			}

			dDot := tensor2d.NewZeros(pixels, filters)
			for i := 0; i < pixels; i++ {
				for ch := 0; ch < filters; ch++ {
					dDot.Data[i*filters+ch] = chain.Data[ch*pixels+i]
				}
			}

			dw := tensor2d.Dot(blas.Trans, blas.NoTrans, dDot, col)
			db := tensor2d.Sum0(dDot)
			dCol := tensor2d.Dot(blas.NoTrans, blas.NoTrans, dDot, w)

			dPadded, err := tensor3d.Col2Im(dCol, in.Channels, padded.Rows, padded.Cols, filterRows, filterCols)
			if err != nil {
				return blas32.Vector{}, GradBuffer{}, shapeError("conv2d backward: %v", err)
			}
			dImg := dPadded.Crop(top, bot, left, right)
			return dImg.ToVector(), GradBuffer{Weight: dw, Bias: db}, nil
		}
		return y, backward, nil
	}
}

func NewLeakyReLUForward(alpha float32) Forward {
	return func(x blas32.Vector, _ *Parameter) (blas32.Vector, Backward, error) {
		xData := x.Data[:x.N]
		yData := make([]float32, x.N)
		for i, e := range xData {
			if e > 0 {
				yData[i] = e
			} else {
				yData[i] = alpha * e
			}
		}

		y := blas32.Vector{
			N:    x.N,
			Inc:  1,
			Data: yData,
		}

		var backward Backward
		backward = func(chain blas32.Vector) (blas32.Vector, GradBuffer, error) {
			if chain.N != x.N {
				return blas32.Vector{}, GradBuffer{}, shapeError("relu backward: chain length %d, want %d", chain.N, x.N)
			}
			chainData := chain.Data
			dxData := make([]float32, chain.N)
			for i, e := range xData {
				if e > 0 {
					dxData[i] = chainData[i]
				} else {
					dxData[i] = alpha * chainData[i]
				}
			}
			dx := blas32.Vector{
				N:    chain.N,
				Inc:  1,
				Data: dxData,
			}
			return dx, GradBuffer{}, nil
		}

		return y, backward, nil
	}
}

var ReLUForward = NewLeakyReLUForward(0.0)

func SigmoidForward(x blas32.Vector, _ *Parameter) (blas32.Vector, Backward, error) {
	yData := make([]float32, x.N)
	for i, e := range x.Data[:x.N] {
		yData[i] = mathx.Sigmoid(e)
	}
	y := blas32.Vector{N: x.N, Inc: 1, Data: yData}

	var backward Backward
	backward = func(chain blas32.Vector) (blas32.Vector, GradBuffer, error) {
		if chain.N != x.N {
			return blas32.Vector{}, GradBuffer{}, shapeError("sigmoid backward: chain length %d, want %d", chain.N, x.N)
		}
		dxData := make([]float32, chain.N)
		for i, yi := range yData {
			dxData[i] = chain.Data[i] * yi * (1.0 - yi)
		}
		return blas32.Vector{N: chain.N, Inc: 1, Data: dxData}, GradBuffer{}, nil
	}
	return y, backward, nil
}

// NewReshapeForward only checks the element count; data is already flat, so
// Flatten and Reshape are the same layer.
func NewReshapeForward(n int) Forward {
	return func(x blas32.Vector, _ *Parameter) (blas32.Vector, Backward, error) {
		if x.N != n {
			return blas32.Vector{}, nil, shapeError("reshape: input length %d, want %d", x.N, n)
		}
		var backward Backward
		backward = func(chain blas32.Vector) (blas32.Vector, GradBuffer, error) {
			return chain, GradBuffer{}, nil
		}
		return x, backward, nil
	}
}
