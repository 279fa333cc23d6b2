package tensor4d

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas32"
)

// General is a row-major 4D float32 tensor. The axis names follow the NCHW
// convention, but the type is also used for other layouts such as
// (kernelRows, kernelCols, inChannels, outChannels).
type General struct {
	Batches       int
	Channels      int
	Rows          int
	Cols          int
	BatchStride   int
	ChannelStride int
	RowStride     int
	Data          []float32
}

func NewZeros(batches, chs, rows, cols int) General {
	rowStride := cols
	chStride := rows * rowStride
	batchStride := chs * chStride
	n := batches * batchStride

	return General{
		Batches:       batches,
		Channels:      chs,
		Rows:          rows,
		Cols:          cols,
		BatchStride:   batchStride,
		ChannelStride: chStride,
		RowStride:     rowStride,
		Data:          make([]float32, n),
	}
}

// FromShape wraps data in a tensor of the given shape without copying.
func FromShape(shape [4]int, data []float32) (General, error) {
	gen := General{
		Batches:  shape[0],
		Channels: shape[1],
		Rows:     shape[2],
		Cols:     shape[3],
	}
	gen.RowStride = gen.Cols
	gen.ChannelStride = gen.Rows * gen.RowStride
	gen.BatchStride = gen.Channels * gen.ChannelStride
	if len(data) != gen.N() {
		return General{}, errors.Errorf("shape %v needs %d elements, got %d", shape, gen.N(), len(data))
	}
	gen.Data = data
	return gen, nil
}

// FromMatrix views a (batches, chs*rows*cols) matrix as a 4D tensor,
// e.g. a conv filter bank stored one output channel per row.
func FromMatrix(gen blas32.General, chs, rows, cols int) (General, error) {
	if gen.Cols != chs*rows*cols || gen.Stride != gen.Cols {
		return General{}, errors.Errorf("matrix %dx%d cannot be viewed as %dx%dx%dx%d", gen.Rows, gen.Cols, gen.Rows, chs, rows, cols)
	}
	return FromShape([4]int{gen.Rows, chs, rows, cols}, gen.Data[:gen.Rows*gen.Cols])
}

func (g General) Shape() [4]int {
	return [4]int{g.Batches, g.Channels, g.Rows, g.Cols}
}

func (g General) N() int {
	return g.Batches * g.Channels * g.Rows * g.Cols
}

func (g General) Clone() General {
	return General{
		Batches:       g.Batches,
		Channels:      g.Channels,
		Rows:          g.Rows,
		Cols:          g.Cols,
		BatchStride:   g.BatchStride,
		ChannelStride: g.ChannelStride,
		RowStride:     g.RowStride,
		Data:          slices.Clone(g.Data),
	}
}

func (g General) At(batch, ch, row, col int) int {
	return (batch * g.BatchStride) + (ch * g.ChannelStride) + (row * g.RowStride) + col
}

// Transpose2310 moves (b, c, r, col) to (r, col, c, b). It turns a filter
// bank (out, in, kr, kc) into (kr, kc, in, out).
func (g *General) Transpose2310() General {
	dst := NewZeros(g.Rows, g.Cols, g.Channels, g.Batches)
	idx := 0
	for r := 0; r < g.Rows; r++ {
		for col := 0; col < g.Cols; col++ {
			for c := 0; c < g.Channels; c++ {
				for b := 0; b < g.Batches; b++ {
					dst.Data[idx] = g.Data[g.At(b, c, r, col)]
					idx++
				}
			}
		}
	}
	return dst
}

// Transpose3201 is the inverse of Transpose2310.
func (g *General) Transpose3201() General {
	dst := NewZeros(g.Cols, g.Rows, g.Batches, g.Channels)
	idx := 0
	for col := 0; col < g.Cols; col++ {
		for r := 0; r < g.Rows; r++ {
			for b := 0; b < g.Batches; b++ {
				for c := 0; c < g.Channels; c++ {
					dst.Data[idx] = g.Data[g.At(b, c, r, col)]
					idx++
				}
			}
		}
	}
	return dst
}
