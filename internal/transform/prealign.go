package transform

import (
	"math"

	"github.com/johndpope/pix2latent/internal/tensor"
)

// PreAlign estimates initial spatial parameters [dx, dy, logScale] from
// a weight mask: the offset points at the mask centroid and the scale
// matches the masked area against a nominal centred object. Returns the
// identity when the mask is empty.
func PreAlign(mask *tensor.Tensor) []float64 {
	if len(mask.Shape) != 3 {
		return Spatial{}.Init()
	}
	h, w := mask.Shape[1], mask.Shape[2]

	var area, mx, my float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask.Data[y*w+x] <= 0.5 {
				continue
			}
			area++
			mx += float64(x)
			my += float64(y)
		}
	}
	if area == 0 {
		return Spatial{}.Init()
	}
	mx /= area
	my /= area

	dx := (mx - float64(w-1)/2) / float64(w)
	dy := (my - float64(h-1)/2) / float64(h)

	// Nominal object radius is a quarter of the short side.
	rObj := math.Sqrt(area / math.Pi)
	rRef := 0.25 * float64(min(h, w))
	logScale := math.Log(rRef / rObj)

	return []float64{dx, dy, logScale}
}
