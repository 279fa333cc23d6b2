package layer

import (
	"github.com/chewxy/math32"
	"github.com/sw965/filtergan/mathx"
	"gonum.org/v1/gonum/blas/blas32"
)

type PredictLoss struct {
	Func       func(blas32.Vector, blas32.Vector) (float32, error)
	Derivative func(blas32.Vector, blas32.Vector) (blas32.Vector, error)
}

func checkLengths(y, t blas32.Vector) error {
	if y.N != t.N {
		return shapeError("loss: prediction length %d, target length %d", y.N, t.N)
	}
	return nil
}

// NewMeanAbsoluteErrorLoss averages |y-t| over the output. Its derivative at
// y == t is taken as 0.
func NewMeanAbsoluteErrorLoss() PredictLoss {
	f := func(y, t blas32.Vector) (float32, error) {
		if err := checkLengths(y, t); err != nil {
			return 0.0, err
		}
		sum := float32(0.0)
		for i := 0; i < y.N; i++ {
			sum += math32.Abs(y.Data[i] - t.Data[i])
		}
		return sum / float32(y.N), nil
	}

	d := func(y, t blas32.Vector) (blas32.Vector, error) {
		if err := checkLengths(y, t); err != nil {
			return blas32.Vector{}, err
		}
		n := float32(y.N)
		grad := make([]float32, y.N)
		for i := range grad {
			diff := y.Data[i] - t.Data[i]
			switch {
			case diff > 0:
				grad[i] = 1.0 / n
			case diff < 0:
				grad[i] = -1.0 / n
			}
		}
		return blas32.Vector{N: y.N, Inc: 1, Data: grad}, nil
	}
	return PredictLoss{Func: f, Derivative: d}
}

func NewMeanSquaredErrorLoss() PredictLoss {
	f := func(y, t blas32.Vector) (float32, error) {
		if err := checkLengths(y, t); err != nil {
			return 0.0, err
		}
		sum := float32(0.0)
		for i := 0; i < y.N; i++ {
			diff := y.Data[i] - t.Data[i]
			sum += diff * diff
		}
		return sum / float32(y.N), nil
	}

	d := func(y, t blas32.Vector) (blas32.Vector, error) {
		if err := checkLengths(y, t); err != nil {
			return blas32.Vector{}, err
		}
		n := float32(y.N)
		grad := make([]float32, y.N)
		for i := range grad {
			grad[i] = 2.0 * (y.Data[i] - t.Data[i]) / n
		}
		return blas32.Vector{N: y.N, Inc: 1, Data: grad}, nil
	}
	return PredictLoss{Func: f, Derivative: d}
}

// clip bound for log
const minProb float32 = 1e-7

// NewBinaryCrossEntropyLoss expects probabilities in y, e.g. after
// SigmoidForward. y is clipped to [minProb, 1-minProb].
func NewBinaryCrossEntropyLoss() PredictLoss {
	f := func(y, t blas32.Vector) (float32, error) {
		if err := checkLengths(y, t); err != nil {
			return 0.0, err
		}
		loss := float32(0.0)
		for i := 0; i < y.N; i++ {
			yi := mathx.Clip(y.Data[i], minProb, 1.0-minProb)
			ti := t.Data[i]
			loss += -(ti*math32.Log(yi) + (1.0-ti)*math32.Log(1.0-yi))
		}
		return loss / float32(y.N), nil
	}

	d := func(y, t blas32.Vector) (blas32.Vector, error) {
		if err := checkLengths(y, t); err != nil {
			return blas32.Vector{}, err
		}
		n := float32(y.N)
		grad := make([]float32, y.N)
		for i := range grad {
			yi := mathx.Clip(y.Data[i], minProb, 1.0-minProb)
			grad[i] = (yi - t.Data[i]) / (yi * (1.0 - yi)) / n
		}
		return blas32.Vector{N: y.N, Inc: 1, Data: grad}, nil
	}
	return PredictLoss{Func: f, Derivative: d}
}
