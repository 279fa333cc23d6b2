package autoencoder

import (
	"log"
	"math/rand/v2"
	"os"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/blas32/tensor/4d"
	"github.com/sw965/filtergan/model/layer"
	"github.com/sw965/filtergan/model/sequential"
	"github.com/sw965/filtergan/optimizer"
	"github.com/sw965/omw/encoding/gobx"
	"gonum.org/v1/gonum/blas/blas32"
)

// RGBFileName is the artifact name of the trained RGB autoencoder.
const RGBFileName = "rgb_autoencoder"

// FirstLayer is the index of the first convolution in Model.
const FirstLayer = 0

type Config struct {
	FirstFilters  int
	FirstKernel   int
	SecondFilters int
	SecondKernel  int
	Bottleneck    int
}

func DefaultConfig() Config {
	return Config{
		FirstFilters:  32,
		FirstKernel:   3,
		SecondFilters: 16,
		SecondKernel:  3,
		Bottleneck:    64,
	}
}

func (c Config) validate() error {
	if c.FirstFilters <= 0 || c.FirstKernel <= 0 || c.SecondFilters <= 0 || c.SecondKernel <= 0 || c.Bottleneck <= 0 {
		return errors.Errorf("autoencoder config has a non-positive size: %+v", c)
	}
	return nil
}

// Autoencoder reconstructs its input through
// conv→relu→conv→relu→flatten→dense→relu→dense→sigmoid→reshape.
type Autoencoder struct {
	Shape  layer.Shape
	Config Config
	Model  sequential.Model
}

func New(shape layer.Shape, c Config, rng *rand.Rand) (*Autoencoder, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if shape.N() <= 0 {
		return nil, errors.Wrapf(filtergan.ErrShapeMismatch, "empty input shape %v", shape)
	}

	model := sequential.New(shape)
	model.AppendConv2D(c.FirstFilters, c.FirstKernel, c.FirstKernel, rng)
	model.AppendReLU()
	model.AppendConv2D(c.SecondFilters, c.SecondKernel, c.SecondKernel, rng)
	model.AppendReLU()
	model.AppendFlatten()
	model.AppendDense(c.Bottleneck, rng)
	model.AppendReLU()
	model.AppendDense(shape.N(), rng)
	model.AppendSigmoid()
	if err := model.AppendReshape(shape); err != nil {
		return nil, err
	}
	model.Loss = layer.NewMeanAbsoluteErrorLoss()

	return &Autoencoder{
		Shape:  shape,
		Config: c,
		Model:  model,
	}, nil
}

func (a *Autoencoder) Reconstruct(x blas32.Vector) (blas32.Vector, error) {
	return a.Model.Predict(x)
}

// Fit trains the autoencoder with each image as its own target.
func (a *Autoencoder) Fit(xs []blas32.Vector, c sequential.FitConfig, opt optimizer.Optimizer, rng *rand.Rand) (sequential.History, error) {
	for i, x := range xs {
		if x.N != a.Shape.N() {
			return sequential.History{}, errors.Wrapf(filtergan.ErrShapeMismatch, "image %d has %d values, want %d", i, x.N, a.Shape.N())
		}
	}
	return a.Model.Fit(xs, xs, c, opt, rng)
}

func (a *Autoencoder) MeanLoss(xs []blas32.Vector, p int) (float32, error) {
	return a.Model.MeanLoss(xs, xs, p)
}

// FirstLayerParameter returns the first convolution's parameter. Its Weight
// is shared with the model.
func (a *Autoencoder) FirstLayerParameter() *layer.Parameter {
	return &a.Model.Parameters[FirstLayer]
}

// FirstBlock returns the first convolution and its ReLU together with their
// parameters. The parameters share memory with the model.
func (a *Autoencoder) FirstBlock() (layer.Forwards, layer.Parameters) {
	return a.Model.Forwards[:FirstLayer+2], a.Model.Parameters[:FirstLayer+2]
}

// FirstLayerFilters copies the first convolution's filter bank out in
// (kernelRows, kernelCols, inChannels, outChannels) layout.
func (a *Autoencoder) FirstLayerFilters() (tensor4d.General, error) {
	k := a.Config.FirstKernel
	bank, err := tensor4d.FromMatrix(a.FirstLayerParameter().Weight, a.Shape.Channels, k, k)
	if err != nil {
		return tensor4d.General{}, errors.Wrap(filtergan.ErrShapeMismatch, err.Error())
	}
	return bank.Transpose2310(), nil
}

type snapshot struct {
	Shape      layer.Shape
	Config     Config
	Parameters layer.Parameters
}

func (a *Autoencoder) Save(path string) error {
	s := snapshot{Shape: a.Shape, Config: a.Config, Parameters: a.Model.Parameters}
	if err := gobx.Save(&s, path); err != nil {
		return errors.Wrapf(err, "saving autoencoder to %s", path)
	}
	return nil
}

// Load rebuilds the architecture from the saved config and restores its
// parameters.
func Load(path string) (*Autoencoder, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Wrapf(filtergan.ErrMissingArtifact, "%s", path)
	}
	s, err := gobx.Load[snapshot](path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading autoencoder from %s", path)
	}
	a, err := New(s.Shape, s.Config, rand.New(rand.NewPCG(0, 0)))
	if err != nil {
		return nil, err
	}
	if err := a.Model.Parameters.CheckShapes(s.Parameters); err != nil {
		return nil, errors.Wrapf(err, "loading autoencoder from %s", path)
	}
	a.Model.Parameters = s.Parameters
	return a, nil
}

// LogSummary prints the layer sizes.
func (a *Autoencoder) LogSummary(logger *log.Logger, name string) {
	total := 0
	for _, p := range a.Model.Parameters {
		total += len(p.Weight.Data) + len(p.Bias.Data)
	}
	logger.Printf("%s autoencoder: input %dx%dx%d, %d layers, %d parameters",
		name, a.Shape.Channels, a.Shape.Rows, a.Shape.Cols, len(a.Model.Forwards), total)
}
