package tensor3d

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas32"
)

// General is a channel-major (CHW) float32 tensor.
type General struct {
	Channels      int
	Rows          int
	Cols          int
	ChannelStride int
	RowStride     int
	Data          []float32
}

func NewZeros(chs, rows, cols int) General {
	rowStride := cols
	chStride := rows * rowStride
	n := chs * chStride
	return General{
		Channels:      chs,
		Rows:          rows,
		Cols:          cols,
		ChannelStride: chStride,
		RowStride:     rowStride,
		Data:          make([]float32, n),
	}
}

func NewZerosLike(gen General) General {
	return NewZeros(gen.Channels, gen.Rows, gen.Cols)
}

// FromVector views vec as a CHW tensor without copying.
func FromVector(vec blas32.Vector, chs, rows, cols int) (General, error) {
	if vec.N != chs*rows*cols || len(vec.Data) < vec.N {
		return General{}, errors.Errorf("vector of length %d cannot be viewed as %dx%dx%d", vec.N, chs, rows, cols)
	}
	return General{
		Channels:      chs,
		Rows:          rows,
		Cols:          cols,
		ChannelStride: rows * cols,
		RowStride:     cols,
		Data:          vec.Data[:vec.N],
	}, nil
}

func (g General) N() int {
	return g.Channels * g.Rows * g.Cols
}

func (g General) Clone() General {
	return General{
		Channels:      g.Channels,
		Rows:          g.Rows,
		Cols:          g.Cols,
		ChannelStride: g.ChannelStride,
		RowStride:     g.RowStride,
		Data:          slices.Clone(g.Data),
	}
}

func (g General) At(ch, row, col int) int {
	return ch*g.ChannelStride + row*g.RowStride + col
}

func (g General) ToVector() blas32.Vector {
	return blas32.Vector{
		N:    g.N(),
		Inc:  1,
		Data: g.Data,
	}
}

// Channel copies one channel out as a 1xRowsxCols tensor.
func (g General) Channel(ch int) General {
	dst := NewZeros(1, g.Rows, g.Cols)
	for row := 0; row < g.Rows; row++ {
		src := g.At(ch, row, 0)
		copy(dst.Data[row*dst.RowStride:(row+1)*dst.RowStride], g.Data[src:src+g.Cols])
	}
	return dst
}

func (img *General) ZeroPadding2D(top, bot, left, right int) General {
	padded := NewZeros(img.Channels, img.Rows+top+bot, img.Cols+left+right)
	for ch := 0; ch < img.Channels; ch++ {
		for row := 0; row < img.Rows; row++ {
			oldIdx := img.At(ch, row, 0)
			newIdx := padded.At(ch, row+top, left)
			copy(padded.Data[newIdx:newIdx+img.Cols], img.Data[oldIdx:oldIdx+img.Cols])
		}
	}
	return padded
}

// SamePadding returns the zero padding that keeps the spatial size of a
// stride-1 convolution.
func SamePadding(filterRows, filterCols int) (top, bot, left, right int) {
	top = (filterRows - 1) / 2
	bot = filterRows - 1 - top
	left = (filterCols - 1) / 2
	right = filterCols - 1 - left
	return
}

func (img *General) SameZeroPadding2D(filterRows, filterCols int) General {
	top, bot, left, right := SamePadding(filterRows, filterCols)
	return img.ZeroPadding2D(top, bot, left, right)
}

// Crop is the inverse of ZeroPadding2D.
func (img *General) Crop(top, bot, left, right int) General {
	cropped := NewZeros(img.Channels, img.Rows-top-bot, img.Cols-left-right)
	for ch := 0; ch < cropped.Channels; ch++ {
		for row := 0; row < cropped.Rows; row++ {
			oldIdx := img.At(ch, row+top, left)
			newIdx := cropped.At(ch, row, 0)
			copy(cropped.Data[newIdx:newIdx+cropped.Cols], img.Data[oldIdx:oldIdx+cropped.Cols])
		}
	}
	return cropped
}

func (img *General) ConvOutputRows(filterRows int) int {
	return img.Rows - filterRows + 1
}

func (img *General) ConvOutputCols(filterCols int) int {
	return img.Cols - filterCols + 1
}

// ToCol lays out every filterRows x filterCols patch as one row, ordered
// (channel, filter row, filter col), so a filter bank stored as
// (outChannels, channels*filterRows*filterCols) multiplies it directly.
func (img *General) ToCol(filterRows, filterCols int) blas32.General {
	chs := img.Channels
	outRows := img.ConvOutputRows(filterRows)
	outCols := img.ConvOutputCols(filterCols)
	imgData := img.Data
	newData := make([]float32, outRows*outCols*chs*filterRows*filterCols)
	newIdx := 0

	for or := 0; or < outRows; or++ {
		for oc := 0; oc < outCols; oc++ {
			for ch := 0; ch < chs; ch++ {
				for fr := 0; fr < filterRows; fr++ {
					for fc := 0; fc < filterCols; fc++ {
						row := fr + or
						col := fc + oc
						imgIdx := img.At(ch, row, col)
						newData[newIdx] = imgData[imgIdx]
						newIdx++
					}
				}
			}
		}
	}

	newCols := filterRows * filterCols * chs
	return blas32.General{
		Rows:   outRows * outCols,
		Cols:   newCols,
		Stride: newCols,
		Data:   newData,
	}
}

// Col2Im scatters a ToCol-shaped matrix back onto a chs x rows x cols image,
// summing overlapping patches.
func Col2Im(col blas32.General, chs, rows, cols, filterRows, filterCols int) (General, error) {
	img := NewZeros(chs, rows, cols)
	outRows := img.ConvOutputRows(filterRows)
	outCols := img.ConvOutputCols(filterCols)

	if col.Rows != outRows*outCols {
		return General{}, errors.Errorf("Col2Im: col.Rows=%d, want %d", col.Rows, outRows*outCols)
	}
	if col.Cols != chs*filterRows*filterCols {
		return General{}, errors.Errorf("Col2Im: col.Cols=%d, want %d", col.Cols, chs*filterRows*filterCols)
	}

	for or := 0; or < outRows; or++ {
		for oc := 0; oc < outCols; oc++ {
			colIdx := (or*outCols + oc) * col.Stride
			for ch := 0; ch < chs; ch++ {
				for fr := 0; fr < filterRows; fr++ {
					for fc := 0; fc < filterCols; fc++ {
						img.Data[img.At(ch, fr+or, fc+oc)] += col.Data[colIdx]
						colIdx++
					}
				}
			}
		}
	}
	return img, nil
}
