package mathx

import (
	"github.com/chewxy/math32"
	"golang.org/x/exp/constraints"
)

func CentralDifference[X constraints.Float](plusY, minusY, h X) X {
	return (plusY - minusY) / (2.0 * h)
}

func Sigmoid(x float32) float32 {
	return 1.0 / (1.0 + math32.Exp(-x))
}

func Clip(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func IsFinite(x float32) bool {
	return !math32.IsNaN(x) && !math32.IsInf(x, 0)
}

// NumericalGradient estimates df/dxs by central differences, restoring xs
// before it returns.
func NumericalGradient[X constraints.Float](xs []X, h X, f func([]X) X) []X {
	grad := make([]X, len(xs))
	for i := range xs {
		tmp := xs[i]
		xs[i] = tmp + h
		y1 := f(xs)

		xs[i] = tmp - h
		y2 := f(xs)

		grad[i] = CentralDifference(y1, y2, h)
		xs[i] = tmp
	}
	return grad
}
