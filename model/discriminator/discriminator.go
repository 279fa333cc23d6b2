// Package discriminator classifies filter vectors as coming from an RGB or a
// single-channel filter bank.
package discriminator

import (
	"math/rand/v2"
	"os"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/filterbank"
	"github.com/sw965/filtergan/model/layer"
	"github.com/sw965/filtergan/model/sequential"
	"github.com/sw965/filtergan/optimizer"
	"github.com/sw965/omw/encoding/gobx"
	"github.com/sw965/omw/parallel"
	"gonum.org/v1/gonum/blas/blas32"
)

const FileName = "discriminator"

type Config struct {
	Hidden1 int
	Hidden2 int
}

func DefaultConfig() Config {
	return Config{Hidden1: 64, Hidden2: 32}
}

// Discriminator is Dense→ReLU→Dense→ReLU→Dense(1)→Sigmoid trained with
// binary cross-entropy. Its output is the probability of LabelRGB.
type Discriminator struct {
	InputN int
	Config Config
	Model  sequential.Model
}

func New(inputN int, c Config, rng *rand.Rand) (*Discriminator, error) {
	if inputN <= 0 || c.Hidden1 <= 0 || c.Hidden2 <= 0 {
		return nil, errors.Errorf("discriminator needs positive sizes: input %d, %+v", inputN, c)
	}
	model := sequential.New(layer.NewFlatShape(inputN))
	model.AppendDense(c.Hidden1, rng)
	model.AppendReLU()
	model.AppendDense(c.Hidden2, rng)
	model.AppendReLU()
	model.AppendDense(1, rng)
	model.AppendSigmoid()
	model.Loss = layer.NewBinaryCrossEntropyLoss()
	return &Discriminator{InputN: inputN, Config: c, Model: model}, nil
}

func (d *Discriminator) Score(x blas32.Vector) (float32, error) {
	if x.N != d.InputN {
		return 0.0, errors.Wrapf(filtergan.ErrShapeMismatch, "filter vector has %d values, want %d", x.N, d.InputN)
	}
	y, err := d.Model.Predict(x)
	if err != nil {
		return 0.0, err
	}
	return y.Data[0], nil
}

// Accuracy is the share of samples whose score, thresholded at 0.5, matches
// the label.
func (d *Discriminator) Accuracy(ds filterbank.Dataset, p int) (float32, error) {
	n := ds.Len()
	if n == 0 {
		return 0.0, nil
	}
	if p < 1 {
		p = 1
	}
	p = min(p, n)
	hits := make([]int, p)
	err := parallel.For(n, p, func(workerId, idx int) error {
		score, err := d.Score(ds.Xs[idx])
		if err != nil {
			return err
		}
		predicted := filterbank.LabelSingle
		if score >= 0.5 {
			predicted = filterbank.LabelRGB
		}
		if predicted == ds.Labels[idx].Data[0] {
			hits[workerId]++
		}
		return nil
	})
	if err != nil {
		return 0.0, err
	}
	total := 0
	for _, h := range hits {
		total += h
	}
	return float32(total) / float32(n), nil
}

func (d *Discriminator) MeanLoss(ds filterbank.Dataset, p int) (float32, error) {
	return d.Model.MeanLoss(ds.Xs, ds.Labels, p)
}

// TrainOnBatch takes one optimizer step on the whole dataset.
func (d *Discriminator) TrainOnBatch(ds filterbank.Dataset, opt optimizer.Optimizer, p int) (float32, error) {
	return d.Model.TrainOnBatch(ds.Xs, ds.Labels, opt, p)
}

type Report struct {
	History     sequential.History
	ValLoss     float32
	ValAccuracy float32
}

// Fit trains on train and evaluates once on val. An empty val leaves the
// validation metrics at zero.
func (d *Discriminator) Fit(train, val filterbank.Dataset, c sequential.FitConfig, opt optimizer.Optimizer, rng *rand.Rand) (Report, error) {
	history, err := d.Model.Fit(train.Xs, train.Labels, c, opt, rng)
	if err != nil {
		return Report{History: history}, err
	}
	report := Report{History: history}
	if val.Len() == 0 {
		return report, nil
	}
	report.ValLoss, err = d.MeanLoss(val, c.Parallel)
	if err != nil {
		return report, err
	}
	report.ValAccuracy, err = d.Accuracy(val, c.Parallel)
	if err != nil {
		return report, err
	}
	if c.Logger != nil {
		c.Logger.Printf("%s validation loss %.6f accuracy %.4f", c.Name, report.ValLoss, report.ValAccuracy)
	}
	return report, nil
}

type snapshot struct {
	InputN     int
	Config     Config
	Parameters layer.Parameters
}

func (d *Discriminator) Save(path string) error {
	s := snapshot{InputN: d.InputN, Config: d.Config, Parameters: d.Model.Parameters}
	if err := gobx.Save(&s, path); err != nil {
		return errors.Wrapf(err, "saving discriminator to %s", path)
	}
	return nil
}

func Load(path string) (*Discriminator, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Wrapf(filtergan.ErrMissingArtifact, "%s", path)
	}
	s, err := gobx.Load[snapshot](path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading discriminator from %s", path)
	}
	d, err := New(s.InputN, s.Config, rand.New(rand.NewPCG(0, 0)))
	if err != nil {
		return nil, err
	}
	if err := d.Model.Parameters.CheckShapes(s.Parameters); err != nil {
		return nil, errors.Wrapf(err, "loading discriminator from %s", path)
	}
	d.Model.Parameters = s.Parameters
	return d, nil
}
