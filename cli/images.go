package cli

import (
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/multierr"
	"golang.org/x/image/draw"
)

// openImage reads any format imaging decodes, plus binary PPM and QOI.
func openImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %q", path)
	}
	return img, nil
}

// saveImage picks the encoder from the file extension.
func saveImage(img image.Image, path string) (err error) {
	var encode func(io.Writer, image.Image) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ppm":
		encode = func(w io.Writer, img image.Image) error {
			return ppm.Encode(w, asRGBA(img))
		}
	case ".qoi":
		encode = qoi.Encode
	default:
		if err := imaging.Save(img, path); err != nil {
			return errors.Wrapf(err, "cannot write %q", path)
		}
		return nil
	}

	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return errors.Wrapf(err, "cannot write %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if err := encode(f, img); err != nil {
		return errors.Wrapf(err, "cannot encode %q", path)
	}
	return nil
}

// asRGBA returns img as *image.RGBA, which is all the PPM encoder accepts.
func asRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
