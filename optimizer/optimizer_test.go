package optimizer_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chewxy/math32"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/blas32/vector"
	"github.com/sw965/filtergan/model/layer"
	"github.com/sw965/filtergan/optimizer"
	"gonum.org/v1/gonum/blas/blas32"
)

// minimises (w-3)^2 + (b+1)^2
func quadratic(params layer.Parameters) layer.GradBuffers {
	grads := params.NewGradsZerosLike()
	grads[0].Weight.Data[0] = 2 * (params[0].Weight.Data[0] - 3)
	grads[0].Bias.Data[0] = 2 * (params[0].Bias.Data[0] + 1)
	return grads
}

func newParams() layer.Parameters {
	return layer.Parameters{
		{
			Weight: blas32.General{Rows: 1, Cols: 1, Stride: 1, Data: []float32{0}},
			Bias:   vector.FromSlice([]float32{0}),
		},
		layer.NewEmptyParameter(),
	}
}

func TestConverges(t *testing.T) {
	cases := []optimizer.Config{
		{Name: "adam", LearningRate: 0.05},
		{Name: "momentum", LearningRate: 0.05, Momentum: 0.9},
	}
	for _, c := range cases {
		opt, err := optimizer.New(c)
		if err != nil {
			t.Fatal(err)
		}
		params := newParams()
		for i := 0; i < 2000; i++ {
			if err := opt.Update(params, quadratic(params)); err != nil {
				t.Fatal(err)
			}
		}
		w, b := params[0].Weight.Data[0], params[0].Bias.Data[0]
		if math32.Abs(w-3) > 1e-2 || math32.Abs(b+1) > 1e-2 {
			t.Errorf("%s: w=%v b=%v", c.Name, w, b)
		}
	}
}

func TestAdamFirstStepIsLearningRate(t *testing.T) {
	adam := optimizer.NewAdam()
	params := newParams()
	if err := adam.Update(params, quadratic(params)); err != nil {
		t.Fatal(err)
	}
	// bias-corrected first step moves each coordinate by ~lr
	if math32.Abs(params[0].Weight.Data[0]-0.001) > 1e-5 {
		t.Errorf("got %v", params[0].Weight.Data[0])
	}
	if adam.Iter() != 1 {
		t.Errorf("iter=%d", adam.Iter())
	}
}

func TestSizeMismatch(t *testing.T) {
	adam := optimizer.NewAdam()
	params := newParams()
	err := adam.Update(params, params[:1].NewGradsZerosLike())
	if !errors.Is(err, filtergan.ErrShapeMismatch) {
		t.Errorf("got %v", err)
	}
}

func TestUnknownName(t *testing.T) {
	_, err := optimizer.New(optimizer.Config{Name: "rmsprop"})
	if err == nil {
		t.Fatal("expected an error")
	}
	// pkg/errors records where the error was made
	if !strings.Contains(fmt.Sprintf("%+v", err), "optimizer.New") {
		t.Errorf("no stack trace in %+v", err)
	}
}
