// Package adversarial fine-tunes the first convolution of an RGB autoencoder
// against a frozen filter discriminator. The generator's composed model maps
// an image through the first convolution and its ReLU, then scores every
// pixel of the feature map with the discriminator.
package adversarial

import (
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/blas32/vector"
	"github.com/sw965/filtergan/filterbank"
	"github.com/sw965/filtergan/mathx"
	"github.com/sw965/filtergan/model/autoencoder"
	"github.com/sw965/filtergan/model/discriminator"
	"github.com/sw965/filtergan/model/layer"
	"github.com/sw965/filtergan/optimizer"
	"github.com/sw965/omw/parallel"
	"github.com/sw965/omw/slicesx"
	"gonum.org/v1/gonum/blas/blas32"
)

type Config struct {
	Iterations int
	BatchSize  int
	Parallel   int

	// GeneratorTarget is the label the generator step pushes the
	// discriminator's score towards. 1 reinforces the RGB label, 0 fools it.
	GeneratorTarget float32

	// ReconstructionWeight scales the autoencoder's reconstruction loss added
	// to the generator objective. 0 disables it.
	ReconstructionWeight float32

	// RefreshFilters rebuilds the RGB half of the discriminator's dataset from
	// the current first-layer filters before each discriminator step.
	RefreshFilters bool
}

func DefaultConfig() Config {
	return Config{
		Iterations:           20,
		BatchSize:            32,
		Parallel:             1,
		GeneratorTarget:      1.0,
		ReconstructionWeight: 0.0,
	}
}

type Phase int

const (
	DiscriminatorFrozen Phase = iota
	DiscriminatorTrainable
)

func (p Phase) String() string {
	switch p {
	case DiscriminatorFrozen:
		return "DiscriminatorFrozen"
	case DiscriminatorTrainable:
		return "DiscriminatorTrainable"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Tuner alternates discriminator and generator steps. The generator optimizer
// only ever sees the autoencoder's first-layer parameter and the
// discriminator optimizer only the discriminator's parameters.
type Tuner struct {
	Config        Config
	Generator     *autoencoder.Autoencoder
	Discriminator *discriminator.Discriminator
	Dataset       filterbank.Dataset
	Images        []blas32.Vector
	Logger        *log.Logger

	generatorOpt     optimizer.Optimizer
	discriminatorOpt optimizer.Optimizer
	phase            Phase
}

func NewTuner(c Config, gen *autoencoder.Autoencoder, disc *discriminator.Discriminator, ds filterbank.Dataset, images []blas32.Vector, genOpt, discOpt optimizer.Optimizer) (*Tuner, error) {
	if gen.Config.FirstFilters != disc.InputN {
		return nil, errors.Wrapf(filtergan.ErrShapeMismatch, "first layer has %d filters, discriminator takes %d", gen.Config.FirstFilters, disc.InputN)
	}
	if ds.Len() == 0 {
		return nil, errors.New("empty filter dataset")
	}
	if len(images) == 0 {
		return nil, errors.New("generator steps need images")
	}
	return &Tuner{
		Config:           c,
		Generator:        gen,
		Discriminator:    disc,
		Dataset:          ds,
		Images:           images,
		generatorOpt:     genOpt,
		discriminatorOpt: discOpt,
		phase:            DiscriminatorFrozen,
	}, nil
}

func (t *Tuner) Phase() Phase {
	return t.phase
}

// Unfreeze allows discriminator steps. It does not touch any parameter.
func (t *Tuner) Unfreeze() {
	t.phase = DiscriminatorTrainable
}

// Freeze allows generator steps. It does not touch any parameter.
func (t *Tuner) Freeze() {
	t.phase = DiscriminatorFrozen
}

// DiscriminatorStep takes one optimizer step of the discriminator on the
// whole filter dataset.
func (t *Tuner) DiscriminatorStep() (float32, error) {
	if t.phase != DiscriminatorTrainable {
		return 0.0, errors.Errorf("discriminator step in phase %v", t.phase)
	}
	if t.Config.RefreshFilters {
		filters, err := t.Generator.FirstLayerFilters()
		if err != nil {
			return 0.0, err
		}
		ds, err := t.Dataset.ReplaceRGB(filterbank.Instances(filters))
		if err != nil {
			return 0.0, err
		}
		t.Dataset = ds
	}
	return t.Discriminator.TrainOnBatch(t.Dataset, t.discriminatorOpt, t.Config.Parallel)
}

type GeneratorLoss struct {
	Adversarial    float32
	Reconstruction float32
	Total          float32
}

// AdversarialGrad runs every image of batch through the first convolution
// and its ReLU, scores each pixel's channel vector with the discriminator
// against target and returns the mean loss over pixels and images with its
// gradient with respect to the first layer's parameter.
func (t *Tuner) AdversarialGrad(batch []blas32.Vector, target float32) (float32, layer.GradBuffer, error) {
	n := len(batch)
	if n == 0 {
		return 0.0, layer.GradBuffer{}, errors.New("empty image batch")
	}
	forwards, params := t.Generator.FirstBlock()
	shape := t.Generator.Shape
	channels := t.Generator.Config.FirstFilters
	ts := vector.FromSlice([]float32{target})

	p := min(max(t.Config.Parallel, 1), n)
	gradsByWorker := make([]layer.GradBuffer, p)
	lossByWorker := make([]float32, p)
	for i := range gradsByWorker {
		gradsByWorker[i] = params[autoencoder.FirstLayer].NewGradZerosLike()
	}

	err := parallel.For(n, p, func(workerId, idx int) error {
		x := batch[idx]
		if x.N != shape.N() {
			return errors.Wrapf(filtergan.ErrShapeMismatch, "image %d has %d values, want %d", idx, x.N, shape.N())
		}
		y, backwards, err := forwards.Propagate(x, params)
		if err != nil {
			return err
		}
		if y.N%channels != 0 {
			return errors.Wrapf(filtergan.ErrShapeMismatch, "feature map of %d values for %d channels", y.N, channels)
		}
		pixels := y.N / channels

		// y is CHW, so pixel i's channel vector is strided by pixels
		chain := vector.NewZeros(y.N)
		pixel := vector.NewZeros(channels)
		sum := float32(0.0)
		for i := 0; i < pixels; i++ {
			for ch := 0; ch < channels; ch++ {
				pixel.Data[ch] = y.Data[ch*pixels+i]
			}
			loss, dx, _, err := t.Discriminator.Model.BackPropagate(pixel, ts)
			if err != nil {
				return err
			}
			for ch := 0; ch < channels; ch++ {
				chain.Data[ch*pixels+i] = dx.Data[ch] / float32(pixels)
			}
			sum += loss
		}

		_, grads, err := backwards.Propagate(chain)
		if err != nil {
			return err
		}
		gradsByWorker[workerId].Axpy(1.0, &grads[autoencoder.FirstLayer])
		lossByWorker[workerId] += sum / float32(pixels)
		return nil
	})
	if err != nil {
		return 0.0, layer.GradBuffer{}, err
	}

	total := gradsByWorker[0]
	sum := lossByWorker[0]
	for i := 1; i < p; i++ {
		total.Axpy(1.0, &gradsByWorker[i])
		sum += lossByWorker[i]
	}
	total.Scal(1.0 / float32(n))
	return sum / float32(n), total, nil
}

// GeneratorStep takes one optimizer step of the first convolution only. The
// discriminator's parameters are read but never written.
func (t *Tuner) GeneratorStep(batch []blas32.Vector) (GeneratorLoss, error) {
	if t.phase != DiscriminatorFrozen {
		return GeneratorLoss{}, errors.Errorf("generator step in phase %v", t.phase)
	}

	adv, grad, err := t.AdversarialGrad(batch, t.Config.GeneratorTarget)
	if err != nil {
		return GeneratorLoss{}, err
	}
	result := GeneratorLoss{Adversarial: adv}

	if w := t.Config.ReconstructionWeight; w != 0 {
		rec, grads, err := t.Generator.Model.ComputeGrad(batch, batch, t.Config.Parallel)
		if err != nil {
			return GeneratorLoss{}, err
		}
		first := grads[autoencoder.FirstLayer]
		grad.Axpy(w, &first)
		result.Reconstruction = rec
	}
	result.Total = result.Adversarial + t.Config.ReconstructionWeight*result.Reconstruction
	if !mathx.IsFinite(result.Total) {
		return GeneratorLoss{}, errors.Wrapf(filtergan.ErrNumericalDivergence, "generator loss became %v", result.Total)
	}

	// the copied Parameter shares its backing arrays with the model
	params := layer.Parameters{*t.Generator.FirstLayerParameter()}
	if err := t.generatorOpt.Update(params, layer.GradBuffers{grad}); err != nil {
		return GeneratorLoss{}, err
	}
	return result, nil
}

// SampleBatch draws up to BatchSize distinct images.
func (t *Tuner) SampleBatch(rng *rand.Rand) ([]blas32.Vector, error) {
	n := len(t.Images)
	if n == 0 {
		return nil, nil
	}
	size := t.Config.BatchSize
	if size <= 0 || size > n {
		size = n
	}
	return slicesx.ElementsByIndices(t.Images, rng.Perm(n)[:size]...)
}

type IterationLog struct {
	Iteration             int
	DiscriminatorLoss     float32
	Generator             GeneratorLoss
	DiscriminatorAccuracy float32
}

// Run performs Config.Iterations rounds of discriminator step then generator
// step. The phase starts and ends as DiscriminatorFrozen.
func (t *Tuner) Run(rng *rand.Rand) ([]IterationLog, error) {
	logs := make([]IterationLog, 0, t.Config.Iterations)
	for i := 0; i < t.Config.Iterations; i++ {
		t.Unfreeze()
		discLoss, err := t.DiscriminatorStep()
		t.Freeze()
		if err != nil {
			return logs, errors.Wrapf(err, "iteration %d", i+1)
		}

		batch, err := t.SampleBatch(rng)
		if err != nil {
			return logs, err
		}
		genLoss, err := t.GeneratorStep(batch)
		if err != nil {
			return logs, errors.Wrapf(err, "iteration %d", i+1)
		}

		acc, err := t.Discriminator.Accuracy(t.Dataset, t.Config.Parallel)
		if err != nil {
			return logs, err
		}
		entry := IterationLog{
			Iteration:             i + 1,
			DiscriminatorLoss:     discLoss,
			Generator:             genLoss,
			DiscriminatorAccuracy: acc,
		}
		logs = append(logs, entry)
		if t.Logger != nil {
			t.Logger.Printf("adversarial iteration %d/%d: d_loss %.6f g_loss %.6f (adv %.6f rec %.6f) d_acc %.4f",
				entry.Iteration, t.Config.Iterations, discLoss, genLoss.Total, genLoss.Adversarial, genLoss.Reconstruction, acc)
		}
	}
	return logs, nil
}
