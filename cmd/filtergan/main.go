// Command filtergan trains RGB and single-channel autoencoders, a
// discriminator over their first-layer kernels, and fine-tunes the RGB
// filters adversarially.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/sw965/filtergan/pipeline"
)

func main() {
	var (
		configPath = flag.String("config", "", "JSON config file; missing fields keep their defaults")
		stage      = flag.String("stage", pipeline.StageAll, "all, autoencoder, discriminator or adversarial")
		dataDir    = flag.String("data", "", "dataset directory")
		source     = flag.String("source", "", "cifar10, images or synthetic")
		outDir     = flag.String("out", "", "artifact directory")
		seed       = flag.Uint64("seed", 0, "random seed; 0 seeds from the global source")
		download   = flag.Bool("download", false, "download CIFAR-10 into the data directory if missing")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	c := pipeline.DefaultConfig()
	if *configPath != "" {
		var err error
		c, err = pipeline.LoadConfig(*configPath)
		if err != nil {
			logger.Println(err)
			os.Exit(1)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			c.DataDir = *dataDir
		case "source":
			c.Source = *source
		case "out":
			c.ArtifactDir = *outDir
		case "seed":
			c.Seed = *seed
		case "download":
			c.Download = *download
		}
	})

	useBackend(logger)
	if err := pipeline.NewRunner(c, logger).Run(*stage); err != nil {
		logger.Println(err)
		os.Exit(1)
	}
}
