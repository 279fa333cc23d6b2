// Package dataset loads the RGB images the autoencoders train on.
package dataset

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan/blas32/vector"
	"github.com/sw965/filtergan/model/layer"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	CIFAR10URL     = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	cifar10Archive = "cifar-10-binary.tar.gz"
	cifar10Batches = 5
	cifar10Side    = 32
	cifar10Pixels  = cifar10Side * cifar10Side
	cifar10Record  = 1 + 3*cifar10Pixels
)

// CIFAR10Shape is the CHW shape of one CIFAR-10 image.
var CIFAR10Shape = layer.Shape{Channels: 3, Rows: cifar10Side, Cols: cifar10Side}

func cifar10BatchName(i int) string {
	return fmt.Sprintf("data_batch_%d.bin", i)
}

// LoadCIFAR10 reads the training batches under dir and returns the images
// scaled to [0,1] in CHW order. Labels are discarded. limit <= 0 reads
// everything.
func LoadCIFAR10(dir string, limit int) ([]blas32.Vector, error) {
	xs := make([]blas32.Vector, 0)
	for i := 1; i <= cifar10Batches; i++ {
		path := filepath.Join(dir, cifar10BatchName(i))
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "opening cifar-10 batch")
		}
		xs, err = readCIFAR10Batch(f, xs, limit)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		if limit > 0 && len(xs) >= limit {
			break
		}
	}
	return xs, nil
}

func readCIFAR10Batch(r io.Reader, xs []blas32.Vector, limit int) ([]blas32.Vector, error) {
	record := make([]byte, cifar10Record)
	for limit <= 0 || len(xs) < limit {
		_, err := io.ReadFull(r, record)
		if err == io.EOF {
			return xs, nil
		}
		if err != nil {
			return nil, err
		}
		x := vector.NewZeros(3 * cifar10Pixels)
		// record[0] is the label
		for j, b := range record[1:] {
			x.Data[j] = float32(b) / 255.0
		}
		xs = append(xs, x)
	}
	return xs, nil
}

// DownloadCIFAR10 fetches the binary archive into dir and extracts the batch
// files next to it. Existing files are left alone.
func DownloadCIFAR10(dir string, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	missing := false
	for i := 1; i <= cifar10Batches; i++ {
		if _, err := os.Stat(filepath.Join(dir, cifar10BatchName(i))); err != nil {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}

	archive := filepath.Join(dir, cifar10Archive)
	if err := ensureFile(archive, CIFAR10URL, logger); err != nil {
		return err
	}
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()
	return extractBatches(f, dir)
}

// ensureFile downloads url to path unless path already exists. The body is
// written to a temporary file in the same directory and renamed into place,
// so a failed download leaves nothing at path.
func ensureFile(path, url string, logger *log.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	logger.Printf("downloading %s", url)
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("downloading %s: bad status %s", url, resp.Status)
	}

	out, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}
	tmp := out.Name()
	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "downloading %s", url)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// extractBatches copies every data_batch_*.bin entry of a gzipped tar into
// dir, dropping the archive's directory prefix.
func extractBatches(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name := filepath.Base(hdr.Name)
		if hdr.Typeflag != tar.TypeReg || !strings.HasPrefix(name, "data_batch_") {
			continue
		}
		out, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		_, err = io.Copy(out, tr)
		out.Close()
		if err != nil {
			return err
		}
	}
}
