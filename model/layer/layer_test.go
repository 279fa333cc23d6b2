package layer_test

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/chewxy/math32"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/blas32/vector"
	"github.com/sw965/filtergan/mathx"
	"github.com/sw965/filtergan/model/layer"
	"gonum.org/v1/gonum/blas/blas32"
)

func newRandomVector(n int, rng *rand.Rand) blas32.Vector {
	vec := vector.NewZeros(n)
	for i := range vec.Data {
		vec.Data[i] = float32(rng.Float64()*2 - 1)
	}
	return vec
}

type stack struct {
	forwards layer.Forwards
	params   layer.Parameters
	loss     layer.PredictLoss
}

func (s *stack) lossAt(x, t blas32.Vector) float32 {
	y, _, err := s.forwards.Propagate(x, s.params)
	if err != nil {
		panic(err)
	}
	loss, err := s.loss.Func(y, t)
	if err != nil {
		panic(err)
	}
	return loss
}

func (s *stack) backprop(x, t blas32.Vector) (blas32.Vector, layer.GradBuffers) {
	y, backwards, err := s.forwards.Propagate(x, s.params)
	if err != nil {
		panic(err)
	}
	chain, err := s.loss.Derivative(y, t)
	if err != nil {
		panic(err)
	}
	dx, grads, err := backwards.Propagate(chain)
	if err != nil {
		panic(err)
	}
	return dx, grads
}

func assertClose(t *testing.T, name string, got, want []float32, tol float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", name, len(got), len(want))
	}
	for i := range got {
		if math32.Abs(got[i]-want[i]) > tol {
			t.Errorf("%s[%d]: backprop %v, numerical %v", name, i, got[i], want[i])
		}
	}
}

func TestConvDenseSigmoidGradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	in := layer.Shape{Channels: 2, Rows: 4, Cols: 3}
	filters := 3

	s := stack{
		forwards: layer.Forwards{
			layer.NewConv2DForward(in, 3, 3),
			layer.NewReshapeForward(filters * in.Rows * in.Cols),
			layer.AffineForward,
			layer.SigmoidForward,
		},
		params: layer.Parameters{
			layer.NewConv2DParameter(filters, in.Channels, 3, 3, rng),
			layer.NewEmptyParameter(),
			layer.NewAffineParameter(filters*in.Rows*in.Cols, 2, rng),
			layer.NewEmptyParameter(),
		},
		loss: layer.NewMeanSquaredErrorLoss(),
	}
	for i := range s.params[0].Bias.Data {
		s.params[0].Bias.Data[i] = float32(rng.Float64() - 0.5)
	}

	x := newRandomVector(in.N(), rng)
	target := vector.FromSlice([]float32{0.2, 0.9})

	dx, grads := s.backprop(x, target)
	f := func([]float32) float32 { return s.lossAt(x, target) }
	const h, tol = 1e-2, 2e-3

	assertClose(t, "conv weight", grads[0].Weight.Data, mathx.NumericalGradient(s.params[0].Weight.Data, h, f), tol)
	assertClose(t, "conv bias", grads[0].Bias.Data, mathx.NumericalGradient(s.params[0].Bias.Data, h, f), tol)
	assertClose(t, "dense weight", grads[2].Weight.Data, mathx.NumericalGradient(s.params[2].Weight.Data, h, f), tol)
	assertClose(t, "dense bias", grads[2].Bias.Data, mathx.NumericalGradient(s.params[2].Bias.Data, h, f), tol)
	assertClose(t, "input", dx.Data, mathx.NumericalGradient(x.Data, h, f), tol)
}

func TestConv2DKeepsSpatialShape(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	in := layer.Shape{Channels: 3, Rows: 32, Cols: 32}
	param := layer.NewConv2DParameter(32, 3, 3, 3, rng)
	y, _, err := layer.NewConv2DForward(in, 3, 3)(newRandomVector(in.N(), rng), &param)
	if err != nil {
		t.Fatal(err)
	}
	if y.N != 32*32*32 {
		t.Errorf("output length %d, want %d", y.N, 32*32*32)
	}
}

func TestConv2DKnownValues(t *testing.T) {
	in := layer.Shape{Channels: 1, Rows: 2, Cols: 2}
	// a single 3x3 kernel that only looks at the centre pixel, plus bias 1
	param := layer.Parameter{
		Weight: blas32.General{Rows: 1, Cols: 9, Stride: 9, Data: []float32{0, 0, 0, 0, 2, 0, 0, 0, 0}},
		Bias:   vector.FromSlice([]float32{1}),
	}
	y, _, err := layer.NewConv2DForward(in, 3, 3)(vector.FromSlice([]float32{1, 2, 3, 4}), &param)
	if err != nil {
		t.Fatal(err)
	}
	if !vector.Equal(y, vector.FromSlice([]float32{3, 5, 7, 9})) {
		t.Errorf("got %v", y.Data)
	}
}

func TestShapeMismatch(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	param := layer.NewAffineParameter(4, 2, rng)
	_, _, err := layer.AffineForward(vector.NewZeros(5), &param)
	if !errors.Is(err, filtergan.ErrShapeMismatch) {
		t.Errorf("affine: got %v", err)
	}

	conv := layer.NewConv2DParameter(2, 3, 3, 3, rng)
	_, _, err = layer.NewConv2DForward(layer.Shape{Channels: 1, Rows: 4, Cols: 4}, 3, 3)(vector.NewZeros(16), &conv)
	if !errors.Is(err, filtergan.ErrShapeMismatch) {
		t.Errorf("conv2d: got %v", err)
	}

	_, err = layer.NewBinaryCrossEntropyLoss().Func(vector.NewZeros(2), vector.NewZeros(1))
	if !errors.Is(err, filtergan.ErrShapeMismatch) {
		t.Errorf("loss: got %v", err)
	}
}

func TestReLU(t *testing.T) {
	y, backward, err := layer.ReLUForward(vector.FromSlice([]float32{-1, 0, 2}), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !vector.Equal(y, vector.FromSlice([]float32{0, 0, 2})) {
		t.Errorf("forward: got %v", y.Data)
	}
	dx, _, err := backward(vector.FromSlice([]float32{5, 5, 5}))
	if err != nil {
		t.Fatal(err)
	}
	if !vector.Equal(dx, vector.FromSlice([]float32{0, 0, 5})) {
		t.Errorf("backward: got %v", dx.Data)
	}
}

func TestLosses(t *testing.T) {
	y := vector.FromSlice([]float32{0.5, 0.25})
	target := vector.FromSlice([]float32{1.0, 0.0})

	mae, _ := layer.NewMeanAbsoluteErrorLoss().Func(y, target)
	if math32.Abs(mae-0.375) > 1e-6 {
		t.Errorf("mae: got %v", mae)
	}
	d, _ := layer.NewMeanAbsoluteErrorLoss().Derivative(y, target)
	if !vector.Equal(d, vector.FromSlice([]float32{-0.5, 0.5})) {
		t.Errorf("mae derivative: got %v", d.Data)
	}

	bce, _ := layer.NewBinaryCrossEntropyLoss().Func(y, target)
	want := -(math32.Log(0.5) + math32.Log(0.75)) / 2
	if math32.Abs(bce-want) > 1e-5 {
		t.Errorf("bce: got %v, want %v", bce, want)
	}

	// clipping keeps a confident wrong answer finite
	bce, _ = layer.NewBinaryCrossEntropyLoss().Func(vector.FromSlice([]float32{0}), vector.FromSlice([]float32{1}))
	if !mathx.IsFinite(bce) {
		t.Errorf("bce not finite at y=0")
	}
}

func TestBinaryCrossEntropyThroughSigmoid(t *testing.T) {
	// sigmoid followed by bce backpropagates y-t
	x := vector.FromSlice([]float32{0.3})
	target := vector.FromSlice([]float32{1})
	y, backward, _ := layer.SigmoidForward(x, nil)
	chain, _ := layer.NewBinaryCrossEntropyLoss().Derivative(y, target)
	dx, _, _ := backward(chain)
	if math32.Abs(dx.Data[0]-(y.Data[0]-1)) > 1e-5 {
		t.Errorf("got %v, want %v", dx.Data[0], y.Data[0]-1)
	}
}

func TestParametersCloneAndEqual(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	params := layer.Parameters{layer.NewAffineParameter(3, 2, rng), layer.NewEmptyParameter()}
	clone := params.Clone()
	if !params.Equal(clone) {
		t.Fatalf("clone differs from source")
	}
	grads := params.NewGradsZerosLike()
	grads[0].Bias.Data[1] = 1
	clone.AxpyGrads(-0.5, grads)
	if params.Equal(clone) {
		t.Errorf("AxpyGrads on the clone did not change it")
	}
	if clone[0].Bias.Data[1] != -0.5 {
		t.Errorf("got %v", clone[0].Bias.Data[1])
	}
}

func TestParametersCheckShapes(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	ps := layer.Parameters{layer.NewAffineParameter(3, 4, rng), layer.NewEmptyParameter(), layer.NewAffineParameter(4, 1, rng)}
	same := layer.Parameters{layer.NewAffineParameter(3, 4, rng), layer.NewEmptyParameter(), layer.NewAffineParameter(4, 1, rng)}
	if err := ps.CheckShapes(same); err != nil {
		t.Errorf("matching shapes: %v", err)
	}

	tests := []struct {
		name   string
		others layer.Parameters
	}{
		{"short", ps[:2]},
		{"wide", layer.Parameters{layer.NewAffineParameter(3, 5, rng), layer.NewEmptyParameter(), layer.NewAffineParameter(4, 1, rng)}},
		{"filled", layer.Parameters{layer.NewAffineParameter(3, 4, rng), layer.NewAffineParameter(1, 1, rng), layer.NewAffineParameter(4, 1, rng)}},
	}
	for _, test := range tests {
		if err := ps.CheckShapes(test.others); !errors.Is(err, filtergan.ErrShapeMismatch) {
			t.Errorf("%s: err = %v, want ErrShapeMismatch", test.name, err)
		}
	}
}
