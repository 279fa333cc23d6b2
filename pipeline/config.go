package pipeline

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan/adversarial"
	"github.com/sw965/filtergan/model/autoencoder"
	"github.com/sw965/filtergan/model/discriminator"
	"github.com/sw965/filtergan/model/sequential"
	"github.com/sw965/filtergan/optimizer"
	"github.com/sw965/omw/encoding/jsonx"
)

const (
	SourceCIFAR10   = "cifar10"
	SourceImages    = "images"
	SourceSynthetic = "synthetic"
)

const ConfigFileName = "config.json"

type Config struct {
	Source         string
	DataDir        string
	Limit          int
	Download       bool
	SyntheticCount int
	// SingleChannel selects which RGB channel the single-channel autoencoder
	// sees. 0 is red.
	SingleChannel int

	ArtifactDir string
	Seed        uint64
	Parallel    int

	Optimizer optimizer.Config

	Autoencoder    autoencoder.Config
	AutoencoderFit sequential.FitConfig

	Discriminator    discriminator.Config
	DiscriminatorFit sequential.FitConfig
	SplitRatio       float64

	Adversarial adversarial.Config
}

func DefaultConfig() Config {
	return Config{
		Source:         SourceCIFAR10,
		DataDir:        "data",
		SyntheticCount: 64,
		ArtifactDir:    "artifacts",
		Parallel:       1,
		Optimizer:      optimizer.DefaultConfig(),
		Autoencoder:    autoencoder.DefaultConfig(),
		AutoencoderFit: sequential.FitConfig{Epochs: 10, BatchSize: 32},
		Discriminator:  discriminator.DefaultConfig(),
		DiscriminatorFit: sequential.FitConfig{
			Epochs:    50,
			BatchSize: 32,
		},
		SplitRatio:  0.8,
		Adversarial: adversarial.DefaultConfig(),
	}
}

// LoadConfig overlays the JSON file at path on DefaultConfig, so fields the
// file leaves out keep their defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrapf(err, "parsing %s", path)
	}
	return c, nil
}

func SaveConfig(c Config, path string) error {
	return jsonx.Save[Config](c, path)
}

// fitConfig fills in the run-wide parallelism when the fit config leaves it
// unset.
func (c Config) fitConfig(fit sequential.FitConfig) sequential.FitConfig {
	if fit.Parallel <= 0 {
		fit.Parallel = c.Parallel
	}
	return fit
}
