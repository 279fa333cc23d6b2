package filterbank

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/blas32/tensor/4d"
	"github.com/sw965/filtergan/blas32/vector"
	"github.com/sw965/omw/slicesx"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	LabelRGB    float32 = 1.0
	LabelSingle float32 = 0.0
)

// Dataset pairs filter vectors with one-element label vectors.
type Dataset struct {
	Xs     []blas32.Vector
	Labels []blas32.Vector
}

// Build concatenates the RGB filter vectors (label 1) and the
// single-channel ones (label 0). Both banks must use the same kernel size and
// the same number of output channels.
func Build(rgb, single tensor4d.General) (Dataset, error) {
	if rgb.Batches != single.Batches || rgb.Channels != single.Channels {
		return Dataset{}, errors.Wrapf(filtergan.ErrShapeMismatch,
			"kernel sizes differ: rgb %dx%d, single-channel %dx%d", rgb.Batches, rgb.Channels, single.Batches, single.Channels)
	}
	if rgb.Cols != single.Cols {
		return Dataset{}, errors.Wrapf(filtergan.ErrShapeMismatch,
			"output channels differ: rgb %d, single-channel %d", rgb.Cols, single.Cols)
	}

	rgbXs := Instances(rgb)
	singleXs := Instances(single)
	ds := Dataset{
		Xs:     make([]blas32.Vector, 0, len(rgbXs)+len(singleXs)),
		Labels: make([]blas32.Vector, 0, len(rgbXs)+len(singleXs)),
	}
	for _, x := range rgbXs {
		ds.Xs = append(ds.Xs, x)
		ds.Labels = append(ds.Labels, vector.FromSlice([]float32{LabelRGB}))
	}
	for _, x := range singleXs {
		ds.Xs = append(ds.Xs, x)
		ds.Labels = append(ds.Labels, vector.FromSlice([]float32{LabelSingle}))
	}
	return ds, nil
}

func (ds Dataset) Len() int {
	return len(ds.Xs)
}

// LabelCounts returns how many samples carry LabelRGB and LabelSingle.
func (ds Dataset) LabelCounts() (rgb, single int) {
	for _, label := range ds.Labels {
		if label.Data[0] == LabelRGB {
			rgb++
		} else {
			single++
		}
	}
	return
}

// Shuffle applies one random permutation to samples and labels together.
func (ds Dataset) Shuffle(rng *rand.Rand) (Dataset, error) {
	perm := rng.Perm(ds.Len())
	xs, err := slicesx.ElementsByIndices(ds.Xs, perm...)
	if err != nil {
		return Dataset{}, err
	}
	labels, err := slicesx.ElementsByIndices(ds.Labels, perm...)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{Xs: xs, Labels: labels}, nil
}

// Split cuts the dataset at floor(ratio*n). The cut is by index only, so the
// halves are not guaranteed to be class balanced.
func (ds Dataset) Split(ratio float64) (train, val Dataset, err error) {
	if ratio < 0 || ratio > 1 {
		return Dataset{}, Dataset{}, errors.Errorf("split ratio %v outside [0,1]", ratio)
	}
	cut := int(math.Floor(ratio * float64(ds.Len())))
	train = Dataset{Xs: ds.Xs[:cut], Labels: ds.Labels[:cut]}
	val = Dataset{Xs: ds.Xs[cut:], Labels: ds.Labels[cut:]}
	return train, val, nil
}

// ReplaceRGB returns a copy whose RGB-labelled samples are taken, in order,
// from xs. It is used to refresh the dataset after the RGB filters change.
func (ds Dataset) ReplaceRGB(xs []blas32.Vector) (Dataset, error) {
	rgb, _ := ds.LabelCounts()
	if rgb != len(xs) {
		return Dataset{}, errors.Wrapf(filtergan.ErrShapeMismatch, "dataset has %d rgb samples, got %d", rgb, len(xs))
	}
	out := Dataset{
		Xs:     make([]blas32.Vector, ds.Len()),
		Labels: ds.Labels,
	}
	next := 0
	for i, label := range ds.Labels {
		if label.Data[0] == LabelRGB {
			out.Xs[i] = xs[next]
			next++
		} else {
			out.Xs[i] = ds.Xs[i]
		}
	}
	return out, nil
}
