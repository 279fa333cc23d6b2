package dataset

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"github.com/sw965/filtergan/blas32/vector"
	"github.com/sw965/filtergan/model/layer"
	"gonum.org/v1/gonum/blas/blas32"
)

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif"}

// LoadImageDir decodes every image file directly under dir, resizes it to
// rows×cols and returns RGB values in [0,1] in CHW order. Files are read in
// name order. limit <= 0 reads everything.
func LoadImageDir(dir string, rows, cols, limit int) ([]blas32.Vector, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	xs := make([]blas32.Vector, 0, len(entries))
	for _, entry := range entries {
		if limit > 0 && len(xs) >= limit {
			break
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || !slices.Contains(imageExts, ext) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		x, err := loadImage(path, rows, cols)
		if err != nil {
			return nil, errors.Wrapf(err, "loading %s", path)
		}
		xs = append(xs, x)
	}
	if len(xs) == 0 {
		return nil, errors.Errorf("no images found in %s", dir)
	}
	return xs, nil
}

func loadImage(path string, rows, cols int) (blas32.Vector, error) {
	f, err := os.Open(path)
	if err != nil {
		return blas32.Vector{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return blas32.Vector{}, err
	}
	return FromImage(img, rows, cols), nil
}

// FromImage resizes img to rows×cols and converts it to a CHW RGB vector.
func FromImage(img image.Image, rows, cols int) blas32.Vector {
	resized := resize.Resize(uint(cols), uint(rows), img, resize.Lanczos3)
	bounds := resized.Bounds()
	shape := layer.Shape{Channels: 3, Rows: rows, Cols: cols}
	plane := rows * cols
	x := vector.NewZeros(shape.N())
	for y := 0; y < rows; y++ {
		for c := 0; c < cols; c++ {
			r, g, b, _ := resized.At(bounds.Min.X+c, bounds.Min.Y+y).RGBA()
			i := y*cols + c
			x.Data[i] = float32(r) / 65535.0
			x.Data[plane+i] = float32(g) / 65535.0
			x.Data[2*plane+i] = float32(b) / 65535.0
		}
	}
	return x
}
