// Package imageio converts between image files and the CHW tensors the
// optimizer works with. Images are normalized to [-1, 1]; masks to
// [threshold, 1].
package imageio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	"github.com/johndpope/pix2latent/internal/tensor"
	"github.com/johndpope/pix2latent/internal/variable"
)

// Read decodes a PNG or JPEG into a (3, size, size) tensor in [-1, 1],
// resizing with nearest-neighbour sampling when needed.
func Read(path string, size int) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imageio: opening %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("imageio: decoding %s: %w", path, err)
	}
	return FromImage(img, size), nil
}

// FromImage converts an image to a normalized (3, size, size) tensor.
func FromImage(img image.Image, size int) *tensor.Tensor {
	b := img.Bounds()
	out := tensor.New(3, size, size)
	for y := 0; y < size; y++ {
		sy := b.Min.Y + y*b.Dy()/size
		for x := 0; x < size; x++ {
			sx := b.Min.X + x*b.Dx()/size
			r, g, bb, _ := img.At(sx, sy).RGBA()
			out.Data[(0*size+y)*size+x] = 2*float64(r)/65535 - 1
			out.Data[(1*size+y)*size+x] = 2*float64(g)/65535 - 1
			out.Data[(2*size+y)*size+x] = 2*float64(bb)/65535 - 1
		}
	}
	return out
}

// ReadMask decodes a mask file into a (1, size, size) weight tensor.
// The mask is converted to luminance in [0, 1] and clamped to
// [threshold, 1] so fully masked-out regions still contribute a little
// to the loss. Negative values fail validation.
func ReadMask(path string, size int, threshold float64) (*tensor.Tensor, error) {
	img, err := Read(path, size)
	if err != nil {
		return nil, err
	}
	mask := tensor.New(1, size, size)
	for i := 0; i < size*size; i++ {
		lum := (img.Data[i] + img.Data[size*size+i] + img.Data[2*size*size+i]) / 3
		v := (lum + 1) / 2
		if v < -1e-6 {
			return nil, &variable.ValidationError{Field: "mask", Reason: fmt.Sprintf("negative value %v", v)}
		}
		mask.Data[i] = math.Max(threshold, math.Min(1, v))
	}
	return mask, nil
}

// Binarize thresholds a mask at 0.5.
func Binarize(mask *tensor.Tensor) *tensor.Tensor {
	out := mask.Clone()
	for i, v := range out.Data {
		if v > 0.5 {
			out.Data[i] = 1
		} else {
			out.Data[i] = 0
		}
	}
	return out
}

// Save writes a (3, H, W) or (1, H, W) tensor in [-1, 1] as a PNG.
func Save(path string, t *tensor.Tensor) error {
	if len(t.Shape) != 3 {
		return fmt.Errorf("imageio: expected CHW tensor, got shape %v", t.Shape)
	}
	ch, h, w := t.Shape[0], t.Shape[1], t.Shape[2]
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := func(c int) uint8 {
				if c >= ch {
					c = 0
				}
				v := (t.Data[(c*h+y)*w+x] + 1) / 2
				v = math.Max(0, math.Min(1, v))
				return uint8(math.Round(v * 255))
			}
			img.Set(x, y, color.NRGBA{px(0), px(1), px(2), 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imageio: creating %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("imageio: encoding %s: %w", path, err)
	}
	return nil
}
