// Package transform implements the small parametric image transforms
// (2-D offset/scale, brightness) used to pre-align target and generated
// content, and the nested search that estimates them.
package transform

import (
	"math"

	"github.com/johndpope/pix2latent/internal/tensor"
)

// Spatial is a similarity warp with parameters [dx, dy, logScale].
// Offsets are fractions of the image extent; the warp samples the input
// bilinearly and treats out-of-bounds pixels as zero. A positive dx
// moves content to the right.
type Spatial struct{}

// ParamLen returns 3.
func (Spatial) ParamLen() int { return 3 }

// Init returns the identity parameters.
func (Spatial) Init() []float64 { return []float64{0, 0, 0} }

func warpCoords(p []float64, w, h int, x, y int) (u, v float64) {
	s := math.Exp(p[2])
	cx := float64(w-1) / 2
	cy := float64(h-1) / 2
	u = s*(float64(x)-cx) + cx - p[0]*float64(w)
	v = s*(float64(y)-cy) + cy - p[1]*float64(h)
	return u, v
}

func sampleAt(img *tensor.Tensor, c, y, x, h, w int) float64 {
	if x < 0 || x >= w || y < 0 || y >= h {
		return 0
	}
	return img.Data[(c*h+y)*w+x]
}

// Apply warps a CHW image.
func (Spatial) Apply(img *tensor.Tensor, p []float64) *tensor.Tensor {
	ch, h, w := img.Shape[0], img.Shape[1], img.Shape[2]
	out := tensor.New(ch, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u, v := warpCoords(p, w, h, x, y)
			x0, y0 := int(math.Floor(u)), int(math.Floor(v))
			fx, fy := u-float64(x0), v-float64(y0)
			for c := 0; c < ch; c++ {
				i00 := sampleAt(img, c, y0, x0, h, w)
				i01 := sampleAt(img, c, y0, x0+1, h, w)
				i10 := sampleAt(img, c, y0+1, x0, h, w)
				i11 := sampleAt(img, c, y0+1, x0+1, h, w)
				val := (1-fy)*((1-fx)*i00+fx*i01) + fy*((1-fx)*i10+fx*i11)
				out.Data[(c*h+y)*w+x] = val
			}
		}
	}
	return out
}

// Backward propagates the upstream gradient through the warp. The image
// gradient is the bilinear adjoint (scatter); the parameter gradient
// follows from the sampled image's spatial derivative.
func (Spatial) Backward(img *tensor.Tensor, p []float64, upstream *tensor.Tensor) (*tensor.Tensor, []float64) {
	ch, h, w := img.Shape[0], img.Shape[1], img.Shape[2]
	dImg := tensor.New(ch, h, w)
	dP := make([]float64, 3)
	s := math.Exp(p[2])
	cx := float64(w-1) / 2
	cy := float64(h-1) / 2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u, v := warpCoords(p, w, h, x, y)
			x0, y0 := int(math.Floor(u)), int(math.Floor(v))
			fx, fy := u-float64(x0), v-float64(y0)
			dudL := s * (float64(x) - cx) // du/dlogScale
			dvdL := s * (float64(y) - cy)
			for c := 0; c < ch; c++ {
				up := upstream.Data[(c*h+y)*w+x]
				if up == 0 {
					continue
				}
				i00 := sampleAt(img, c, y0, x0, h, w)
				i01 := sampleAt(img, c, y0, x0+1, h, w)
				i10 := sampleAt(img, c, y0+1, x0, h, w)
				i11 := sampleAt(img, c, y0+1, x0+1, h, w)

				// Scatter the sampling weights back onto the source.
				scatter(dImg, c, y0, x0, h, w, up*(1-fy)*(1-fx))
				scatter(dImg, c, y0, x0+1, h, w, up*(1-fy)*fx)
				scatter(dImg, c, y0+1, x0, h, w, up*fy*(1-fx))
				scatter(dImg, c, y0+1, x0+1, h, w, up*fy*fx)

				dVdu := (1-fy)*(i01-i00) + fy*(i11-i10)
				dVdv := (1-fx)*(i10-i00) + fx*(i11-i01)

				dP[0] += up * dVdu * -float64(w)
				dP[1] += up * dVdv * -float64(h)
				dP[2] += up * (dVdu*dudL + dVdv*dvdL)
			}
		}
	}
	return dImg, dP
}

func scatter(t *tensor.Tensor, c, y, x, h, w int, v float64) {
	if x < 0 || x >= w || y < 0 || y >= h {
		return
	}
	t.Data[(c*h+y)*w+x] += v
}
