// Package pipeline runs the three training stages and moves artifacts
// between them.
package pipeline

import (
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan/adversarial"
	"github.com/sw965/filtergan/dataset"
	"github.com/sw965/filtergan/filterbank"
	"github.com/sw965/filtergan/mathx/randx"
	"github.com/sw965/filtergan/model/autoencoder"
	"github.com/sw965/filtergan/model/discriminator"
	"github.com/sw965/filtergan/model/layer"
	"github.com/sw965/filtergan/optimizer"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	StageAll           = "all"
	StageAutoencoder   = "autoencoder"
	StageDiscriminator = "discriminator"
	StageAdversarial   = "adversarial"
)

type Runner struct {
	Config Config
	Logger *log.Logger
	rng    *rand.Rand
}

// NewRunner seeds the run's generator from c.Seed. A nil logger discards
// progress output.
func NewRunner(c Config, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Runner{
		Config: c,
		Logger: logger,
		rng:    randx.New(c.Seed),
	}
}

func (r *Runner) path(name string) string {
	return filepath.Join(r.Config.ArtifactDir, name)
}

// LoadImages returns the RGB training images of the configured source and
// their shape.
func (r *Runner) LoadImages() ([]blas32.Vector, layer.Shape, error) {
	c := r.Config
	shape := dataset.CIFAR10Shape
	var xs []blas32.Vector
	var err error
	switch c.Source {
	case SourceCIFAR10:
		if c.Download {
			if err := dataset.DownloadCIFAR10(c.DataDir, r.Logger); err != nil {
				return nil, layer.Shape{}, errors.Wrap(err, "downloading cifar-10")
			}
		}
		xs, err = dataset.LoadCIFAR10(c.DataDir, c.Limit)
	case SourceImages:
		xs, err = dataset.LoadImageDir(c.DataDir, shape.Rows, shape.Cols, c.Limit)
	case SourceSynthetic:
		xs = dataset.NewSynthetic(c.SyntheticCount, shape, r.rng)
	default:
		err = errors.Errorf("unknown data source %q", c.Source)
	}
	if err != nil {
		return nil, layer.Shape{}, err
	}
	r.Logger.Printf("loaded %d %s images of %dx%dx%d", len(xs), c.Source, shape.Rows, shape.Cols, shape.Channels)
	return xs, shape, nil
}

func (r *Runner) trainAutoencoder(name string, xs []blas32.Vector, shape layer.Shape) (*autoencoder.Autoencoder, error) {
	a, err := autoencoder.New(shape, r.Config.Autoencoder, r.rng)
	if err != nil {
		return nil, err
	}
	a.LogSummary(r.Logger, name)

	opt, err := optimizer.New(r.Config.Optimizer)
	if err != nil {
		return nil, err
	}
	fit := r.Config.fitConfig(r.Config.AutoencoderFit)
	fit.Logger = r.Logger
	fit.Name = name + " autoencoder"
	if _, err := a.Fit(xs, fit, opt, r.rng); err != nil {
		return nil, errors.Wrapf(err, "training %s autoencoder", name)
	}
	return a, nil
}

func (r *Runner) saveFilters(a *autoencoder.Autoencoder, name string) error {
	filters, err := a.FirstLayerFilters()
	if err != nil {
		return err
	}
	path := r.path(name)
	if err := filterbank.Save(path, filters); err != nil {
		return err
	}
	r.Logger.Printf("saved filters %v to %s", filters.Shape(), path)
	return nil
}

// TrainAutoencoders trains one autoencoder on the RGB images and one on a
// single channel of them, then saves both first-layer filter banks and the
// RGB autoencoder.
func (r *Runner) TrainAutoencoders(xs []blas32.Vector, shape layer.Shape) error {
	rgb, err := r.trainAutoencoder("rgb", xs, shape)
	if err != nil {
		return err
	}
	if err := r.saveFilters(rgb, filterbank.RGBFileName); err != nil {
		return err
	}
	if err := rgb.Save(r.path(autoencoder.RGBFileName)); err != nil {
		return err
	}

	singles, err := dataset.SliceChannel(xs, shape, r.Config.SingleChannel)
	if err != nil {
		return err
	}
	singleShape := layer.Shape{Channels: 1, Rows: shape.Rows, Cols: shape.Cols}
	single, err := r.trainAutoencoder("single-channel", singles, singleShape)
	if err != nil {
		return err
	}
	return r.saveFilters(single, filterbank.RedFileName)
}

// FilterDataset loads both saved filter banks and returns their shuffled
// filter-vector dataset.
func (r *Runner) FilterDataset() (filterbank.Dataset, error) {
	rgb, err := filterbank.Load(r.path(filterbank.RGBFileName))
	if err != nil {
		return filterbank.Dataset{}, err
	}
	single, err := filterbank.Load(r.path(filterbank.RedFileName))
	if err != nil {
		return filterbank.Dataset{}, err
	}
	ds, err := filterbank.Build(rgb, single)
	if err != nil {
		return filterbank.Dataset{}, err
	}
	rgbN, singleN := ds.LabelCounts()
	r.Logger.Printf("filter dataset: %d rgb vectors, %d single-channel vectors of %d values", rgbN, singleN, filterbank.InstanceLen(rgb))
	return ds.Shuffle(r.rng)
}

// TrainDiscriminator fits and saves the discriminator on a freshly shuffled
// filter dataset, which it returns so the adversarial stage can reuse it.
func (r *Runner) TrainDiscriminator() (filterbank.Dataset, error) {
	ds, err := r.FilterDataset()
	if err != nil {
		return filterbank.Dataset{}, err
	}
	train, val, err := ds.Split(r.Config.SplitRatio)
	if err != nil {
		return filterbank.Dataset{}, err
	}
	if train.Len() == 0 {
		return filterbank.Dataset{}, errors.New("discriminator split left no training samples")
	}
	r.Logger.Printf("discriminator split: %d train, %d validation", train.Len(), val.Len())

	d, err := discriminator.New(train.Xs[0].N, r.Config.Discriminator, r.rng)
	if err != nil {
		return filterbank.Dataset{}, err
	}
	opt, err := optimizer.New(r.Config.Optimizer)
	if err != nil {
		return filterbank.Dataset{}, err
	}
	fit := r.Config.fitConfig(r.Config.DiscriminatorFit)
	fit.Logger = r.Logger
	fit.Name = "discriminator"
	if _, err := d.Fit(train, val, fit, opt, r.rng); err != nil {
		return filterbank.Dataset{}, errors.Wrap(err, "training discriminator")
	}

	path := r.path(discriminator.FileName)
	if err := d.Save(path); err != nil {
		return filterbank.Dataset{}, err
	}
	r.Logger.Printf("saved discriminator to %s", path)
	return ds, nil
}

// FineTune runs the adversarial loop on the saved RGB autoencoder and
// discriminator over ds and saves the tuned RGB filters.
func (r *Runner) FineTune(xs []blas32.Vector, ds filterbank.Dataset) error {
	gen, err := autoencoder.Load(r.path(autoencoder.RGBFileName))
	if err != nil {
		return err
	}
	disc, err := discriminator.Load(r.path(discriminator.FileName))
	if err != nil {
		return err
	}

	genOpt, err := optimizer.New(r.Config.Optimizer)
	if err != nil {
		return err
	}
	discOpt, err := optimizer.New(r.Config.Optimizer)
	if err != nil {
		return err
	}
	c := r.Config.Adversarial
	if c.Parallel <= 0 {
		c.Parallel = r.Config.Parallel
	}
	tuner, err := adversarial.NewTuner(c, gen, disc, ds, xs, genOpt, discOpt)
	if err != nil {
		return err
	}
	tuner.Logger = r.Logger
	if _, err := tuner.Run(r.rng); err != nil {
		return errors.Wrap(err, "adversarial fine-tuning")
	}
	return r.saveFilters(gen, filterbank.TunedRGBFileName)
}

// Run executes one stage, or every stage in order for StageAll.
func (r *Runner) Run(stage string) error {
	switch stage {
	case StageAll, StageAutoencoder, StageDiscriminator, StageAdversarial:
	default:
		return errors.Errorf("unknown stage %q", stage)
	}
	if err := os.MkdirAll(r.Config.ArtifactDir, 0755); err != nil {
		return err
	}
	if err := SaveConfig(r.Config, r.path(ConfigFileName)); err != nil {
		return err
	}

	var xs []blas32.Vector
	var shape layer.Shape
	if stage != StageDiscriminator {
		var err error
		xs, shape, err = r.LoadImages()
		if err != nil {
			return err
		}
	}

	if stage == StageAll || stage == StageAutoencoder {
		if err := r.TrainAutoencoders(xs, shape); err != nil {
			return err
		}
	}
	var ds filterbank.Dataset
	if stage == StageAll || stage == StageDiscriminator {
		var err error
		ds, err = r.TrainDiscriminator()
		if err != nil {
			return err
		}
	}
	if stage == StageAdversarial {
		var err error
		ds, err = r.FilterDataset()
		if err != nil {
			return err
		}
	}
	if stage == StageAll || stage == StageAdversarial {
		if err := r.FineTune(xs, ds); err != nil {
			return err
		}
	}
	return nil
}
