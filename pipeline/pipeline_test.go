package pipeline_test

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/filterbank"
	"github.com/sw965/filtergan/pipeline"
)

func smokeConfig(dir string) pipeline.Config {
	c := pipeline.DefaultConfig()
	c.Source = pipeline.SourceSynthetic
	c.SyntheticCount = 10
	c.ArtifactDir = dir
	c.Seed = 42
	c.Parallel = 2
	c.AutoencoderFit.Epochs = 1
	c.AutoencoderFit.BatchSize = 2
	c.DiscriminatorFit.Epochs = 1
	c.DiscriminatorFit.BatchSize = 2
	c.Adversarial.Iterations = 2
	c.Adversarial.BatchSize = 2
	return c
}

func TestRunAllWritesFilters(t *testing.T) {
	dir := t.TempDir()
	runner := pipeline.NewRunner(smokeConfig(dir), log.New(io.Discard, "", 0))
	if err := runner.Run(pipeline.StageAll); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		want [4]int
	}{
		{filterbank.RGBFileName, [4]int{3, 3, 3, 32}},
		{filterbank.RedFileName, [4]int{3, 3, 1, 32}},
		{filterbank.TunedRGBFileName, [4]int{3, 3, 3, 32}},
	}
	for _, test := range tests {
		filters, err := filterbank.Load(filepath.Join(dir, test.name))
		if err != nil {
			t.Fatal(err)
		}
		if got := filters.Shape(); got != test.want {
			t.Errorf("%s shape = %v, want %v", test.name, got, test.want)
		}
	}
	for _, name := range []string{"rgb_autoencoder", "discriminator", pipeline.ConfigFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestDiscriminatorStageNeedsFilters(t *testing.T) {
	runner := pipeline.NewRunner(smokeConfig(t.TempDir()), nil)
	err := runner.Run(pipeline.StageDiscriminator)
	if !errors.Is(err, filtergan.ErrMissingArtifact) {
		t.Errorf("err = %v, want ErrMissingArtifact", err)
	}
}

func TestAdversarialStageNeedsModels(t *testing.T) {
	runner := pipeline.NewRunner(smokeConfig(t.TempDir()), nil)
	err := runner.Run(pipeline.StageAdversarial)
	if !errors.Is(err, filtergan.ErrMissingArtifact) {
		t.Errorf("err = %v, want ErrMissingArtifact", err)
	}
}

func TestRunRejectsUnknownStage(t *testing.T) {
	runner := pipeline.NewRunner(smokeConfig(t.TempDir()), nil)
	err := runner.Run("everything")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(fmt.Sprintf("%+v", err), "pipeline.(*Runner).Run") {
		t.Errorf("no stack trace in %+v", err)
	}
}

func TestLoadImagesRejectsUnknownSource(t *testing.T) {
	c := smokeConfig(t.TempDir())
	c.Source = "webcam"
	_, _, err := pipeline.NewRunner(c, nil).LoadImages()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(fmt.Sprintf("%+v", err), "pipeline.(*Runner).LoadImages") {
		t.Errorf("no stack trace in %+v", err)
	}
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := []byte(`{"Source": "images", "Adversarial": {"Iterations": 5, "GeneratorTarget": 0}}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	c, err := pipeline.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	def := pipeline.DefaultConfig()
	if c.Source != pipeline.SourceImages {
		t.Errorf("Source = %q", c.Source)
	}
	if c.Adversarial.Iterations != 5 || c.Adversarial.GeneratorTarget != 0 {
		t.Errorf("Adversarial = %+v", c.Adversarial)
	}
	if c.Adversarial.ReconstructionWeight != def.Adversarial.ReconstructionWeight {
		t.Errorf("ReconstructionWeight = %v, want default", c.Adversarial.ReconstructionWeight)
	}
	if c.Autoencoder != def.Autoencoder || c.SplitRatio != def.SplitRatio {
		t.Error("fields missing from the file lost their defaults")
	}
}

func TestSaveLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), pipeline.ConfigFileName)
	c := smokeConfig("out")
	if err := pipeline.SaveConfig(c, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := pipeline.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Seed != c.Seed || loaded.ArtifactDir != c.ArtifactDir || loaded.AutoencoderFit.Epochs != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestFineTuneUsesDiscriminatorDataset(t *testing.T) {
	runner := pipeline.NewRunner(smokeConfig(t.TempDir()), nil)
	if err := runner.Run(pipeline.StageAutoencoder); err != nil {
		t.Fatal(err)
	}
	xs, _, err := runner.LoadImages()
	if err != nil {
		t.Fatal(err)
	}
	ds, err := runner.TrainDiscriminator()
	if err != nil {
		t.Fatal(err)
	}
	rgbN, singleN := ds.LabelCounts()
	if rgbN != 27 || singleN != 9 {
		t.Fatalf("label counts = %d/%d, want 27/9", rgbN, singleN)
	}

	if err := runner.FineTune(xs, filterbank.Dataset{}); err == nil {
		t.Error("FineTune ignored the dataset it was given")
	}
	if err := runner.FineTune(xs, ds); err != nil {
		t.Fatal(err)
	}
}
