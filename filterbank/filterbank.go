// Package filterbank persists first-layer filter banks and turns two of them
// into a labeled dataset of filter vectors.
package filterbank

import (
	"os"
	"slices"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/blas32/tensor/4d"
	"github.com/sw965/filtergan/blas32/vector"
	"github.com/sw965/omw/encoding/gobx"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	RGBFileName      = "rgb_filters"
	RedFileName      = "red_filters"
	TunedRGBFileName = "rgb_filters_tuned"
)

// File is the on-disk form of a filter bank in
// (kernelRows, kernelCols, inChannels, outChannels) layout.
type File struct {
	Shape [4]int
	Data  []float32
}

func Save(path string, filters tensor4d.General) error {
	f := File{Shape: filters.Shape(), Data: filters.Data}
	if err := gobx.Save(&f, path); err != nil {
		return errors.Wrapf(err, "saving filters to %s", path)
	}
	return nil
}

func Load(path string) (tensor4d.General, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return tensor4d.General{}, errors.Wrapf(filtergan.ErrMissingArtifact, "%s", path)
		}
		return tensor4d.General{}, err
	}
	f, err := gobx.Load[File](path)
	if err != nil {
		return tensor4d.General{}, errors.Wrapf(err, "loading filters from %s", path)
	}
	filters, err := tensor4d.FromShape(f.Shape, f.Data)
	if err != nil {
		return tensor4d.General{}, errors.Wrapf(filtergan.ErrShapeMismatch, "%s: %v", path, err)
	}
	return filters, nil
}

// Instances returns one vector per (kernelRow, kernelCol, inChannel)
// position of a (kernelRows, kernelCols, inChannels, outChannels) bank,
// holding that position's weights across the output channels. Vectors are
// ordered row-major over (kernelRow, kernelCol, inChannel), so their length
// matches one pixel of the convolution's output feature map.
func Instances(filters tensor4d.General) []blas32.Vector {
	kr, kc, in, out := filters.Batches, filters.Channels, filters.Rows, filters.Cols
	xs := make([]blas32.Vector, 0, kr*kc*in)
	for r := 0; r < kr; r++ {
		for c := 0; c < kc; c++ {
			for i := 0; i < in; i++ {
				start := filters.At(r, c, i, 0)
				xs = append(xs, vector.FromSlice(slices.Clone(filters.Data[start:start+out])))
			}
		}
	}
	return xs
}

// InstanceLen is the length of every vector Instances returns for filters.
func InstanceLen(filters tensor4d.General) int {
	return filters.Cols
}
