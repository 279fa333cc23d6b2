package discriminator_test

import (
	"errors"
	"io"
	"log"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/blas32/tensor/4d"
	"github.com/sw965/filtergan/blas32/vector"
	"github.com/sw965/filtergan/filterbank"
	"github.com/sw965/filtergan/model/discriminator"
	"github.com/sw965/filtergan/model/sequential"
	"github.com/sw965/filtergan/optimizer"
)

// separable builds a dataset where rgb filter vectors are all positive and
// single-channel kernels all negative.
func separable(rng *rand.Rand) filterbank.Dataset {
	rgb := tensor4d.NewZeros(3, 3, 3, 8)
	for i := range rgb.Data {
		rgb.Data[i] = 0.5 + float32(rng.Float64())
	}
	single := tensor4d.NewZeros(3, 3, 1, 8)
	for i := range single.Data {
		single.Data[i] = -0.5 - float32(rng.Float64())
	}
	ds, err := filterbank.Build(rgb, single)
	if err != nil {
		panic(err)
	}
	return ds
}

func TestFitSeparable(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	ds, err := separable(rng).Shuffle(rng)
	if err != nil {
		t.Fatal(err)
	}
	train, val, err := ds.Split(0.8)
	if err != nil {
		t.Fatal(err)
	}

	d, err := discriminator.New(8, discriminator.Config{Hidden1: 8, Hidden2: 4}, rng)
	if err != nil {
		t.Fatal(err)
	}
	before, err := d.MeanLoss(train, 1)
	if err != nil {
		t.Fatal(err)
	}

	c := sequential.FitConfig{Epochs: 30, BatchSize: 8, Parallel: 2, Logger: log.New(io.Discard, "", 0), Name: "test"}
	adam := optimizer.NewAdam()
	adam.LearningRate = 0.01
	report, err := d.Fit(train, val, c, adam, rng)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.History.Losses) != 30 {
		t.Errorf("history has %d epochs", len(report.History.Losses))
	}
	if report.History.Last() >= before {
		t.Errorf("loss did not decrease: %v -> %v", before, report.History.Last())
	}
	if report.ValAccuracy < 0.9 {
		t.Errorf("validation accuracy = %v", report.ValAccuracy)
	}
}

func TestScoreRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	d, err := discriminator.New(9, discriminator.DefaultConfig(), rng)
	if err != nil {
		t.Fatal(err)
	}
	score, err := d.Score(vector.NewFilled(9, 0.3))
	if err != nil {
		t.Fatal(err)
	}
	if score <= 0 || score >= 1 {
		t.Errorf("score = %v", score)
	}
	if _, err := d.Score(vector.NewZeros(4)); !errors.Is(err, filtergan.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestSaveLoad(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	d, err := discriminator.New(9, discriminator.Config{Hidden1: 4, Hidden2: 3}, rng)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), discriminator.FileName)
	if err := d.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := discriminator.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Model.Parameters.Equal(d.Model.Parameters) {
		t.Error("parameters differ after load")
	}

	if _, err := discriminator.Load(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, filtergan.ErrMissingArtifact) {
		t.Errorf("err = %v, want ErrMissingArtifact", err)
	}
}

func TestLoadRejectsMismatchedSizes(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	d, err := discriminator.New(9, discriminator.Config{Hidden1: 4, Hidden2: 3}, rng)
	if err != nil {
		t.Fatal(err)
	}
	// same layer count, different hidden width on disk
	d.Config.Hidden1 = 5
	path := filepath.Join(t.TempDir(), discriminator.FileName)
	if err := d.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := discriminator.Load(path); !errors.Is(err, filtergan.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}
