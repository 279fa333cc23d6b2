package optimizer

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/model/layer"
)

// Optimizer updates params in place from grads. An Optimizer keeps state per
// parameter set, so each set of parameters gets its own instance.
type Optimizer interface {
	Update(params layer.Parameters, grads layer.GradBuffers) error
}

type Config struct {
	Name         string
	LearningRate float32
	Momentum     float32
}

func DefaultConfig() Config {
	return Config{
		Name:         "adam",
		LearningRate: 0.001,
		Momentum:     0.9,
	}
}

// New builds a fresh optimizer from c. Name is "adam" or "momentum".
func New(c Config) (Optimizer, error) {
	switch c.Name {
	case "adam", "":
		adam := NewAdam()
		if c.LearningRate > 0 {
			adam.LearningRate = c.LearningRate
		}
		return adam, nil
	case "momentum":
		return &Momentum{LearningRate: c.LearningRate, Momentum: c.Momentum}, nil
	default:
		return nil, errors.Errorf("unknown optimizer %q", c.Name)
	}
}

func checkSizes(params layer.Parameters, grads layer.GradBuffers) error {
	if len(params) != len(grads) {
		return errors.Wrapf(filtergan.ErrShapeMismatch, "%d parameters, %d grads", len(params), len(grads))
	}
	for i := range params {
		if len(params[i].Weight.Data) != len(grads[i].Weight.Data) || len(params[i].Bias.Data) != len(grads[i].Bias.Data) {
			return errors.Wrapf(filtergan.ErrShapeMismatch, "parameter %d and its grad differ in size", i)
		}
	}
	return nil
}

type Adam struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32

	iter int
	m    layer.GradBuffers
	v    layer.GradBuffers
}

func NewAdam() *Adam {
	return &Adam{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

func (a *Adam) Iter() int {
	return a.iter
}

func (a *Adam) Update(params layer.Parameters, grads layer.GradBuffers) error {
	if err := checkSizes(params, grads); err != nil {
		return err
	}

	// moment buffers take the shape of the first parameter set they see
	if len(a.m) == 0 {
		a.m = params.NewGradsZerosLike()
		a.v = params.NewGradsZerosLike()
	}
	if len(a.m) != len(params) {
		return errors.Wrapf(filtergan.ErrShapeMismatch, "adam state for %d parameters, got %d", len(a.m), len(params))
	}

	a.iter++
	beta1, beta2 := a.Beta1, a.Beta2
	lrt := a.LearningRate *
		math32.Sqrt(1-math32.Pow(beta2, float32(a.iter))) /
		(1 - math32.Pow(beta1, float32(a.iter)))

	update := func(ps, gs, ms, vs []float32) {
		for j, g := range gs {
			ms[j] += (1 - beta1) * (g - ms[j])
			vs[j] += (1 - beta2) * (g*g - vs[j])
			ps[j] -= lrt * ms[j] / (math32.Sqrt(vs[j]) + a.Epsilon)
		}
	}

	for i := range grads {
		update(params[i].Weight.Data, grads[i].Weight.Data, a.m[i].Weight.Data, a.v[i].Weight.Data)
		update(params[i].Bias.Data, grads[i].Bias.Data, a.m[i].Bias.Data, a.v[i].Bias.Data)
	}
	return nil
}

// Momentum is SGD with classical momentum.
type Momentum struct {
	LearningRate float32
	Momentum     float32

	velocity layer.GradBuffers
}

func (opt *Momentum) Update(params layer.Parameters, grads layer.GradBuffers) error {
	if err := checkSizes(params, grads); err != nil {
		return err
	}

	if len(opt.velocity) == 0 {
		opt.velocity = params.NewGradsZerosLike()
	}
	if len(opt.velocity) != len(params) {
		return errors.Wrapf(filtergan.ErrShapeMismatch, "momentum state for %d parameters, got %d", len(opt.velocity), len(params))
	}

	update := func(ws, gs, vs []float32) {
		for j := range ws {
			vs[j] = (opt.Momentum * vs[j]) - (opt.LearningRate * gs[j])
			ws[j] += vs[j]
		}
	}

	for i := range grads {
		update(params[i].Weight.Data, grads[i].Weight.Data, opt.velocity[i].Weight.Data)
		update(params[i].Bias.Data, grads[i].Bias.Data, opt.velocity[i].Bias.Data)
	}
	return nil
}
