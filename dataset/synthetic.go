package dataset

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/blas32/tensor/3d"
	"github.com/sw965/filtergan/blas32/vector"
	"github.com/sw965/filtergan/model/layer"
	"gonum.org/v1/gonum/blas/blas32"
)

// NewSynthetic draws n images of the given shape with uniform values in
// [0,1).
func NewSynthetic(n int, shape layer.Shape, rng *rand.Rand) []blas32.Vector {
	xs := make([]blas32.Vector, n)
	for i := range xs {
		x := vector.NewZeros(shape.N())
		for j := range x.Data {
			x.Data[j] = rng.Float32()
		}
		xs[i] = x
	}
	return xs
}

// SliceChannel copies channel ch out of every CHW image, giving
// single-channel images of the same height and width.
func SliceChannel(xs []blas32.Vector, shape layer.Shape, ch int) ([]blas32.Vector, error) {
	if ch < 0 || ch >= shape.Channels {
		return nil, errors.Wrapf(filtergan.ErrShapeMismatch, "channel %d of %d", ch, shape.Channels)
	}
	ys := make([]blas32.Vector, len(xs))
	for i, x := range xs {
		img, err := tensor3d.FromVector(x, shape.Channels, shape.Rows, shape.Cols)
		if err != nil {
			return nil, errors.Wrapf(filtergan.ErrShapeMismatch, "image %d: %v", i, err)
		}
		ys[i] = img.Channel(ch).ToVector()
	}
	return ys, nil
}
