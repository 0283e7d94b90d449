// Package render implements the built-in generative model: a
// differentiable software renderer that composites K Gaussian blobs
// from a latent vector. It serves as the reference generator for the
// CLI and the test suite; real inversions plug an external model into
// the same interface.
package render

import (
	"fmt"
	"math"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"github.com/johndpope/pix2latent/internal/tensor"
)

// paramsPerBlob lays out one blob as [x, y, size, r, g, b].
const paramsPerBlob = 6

// Blob renders K Gaussian blobs onto a CHW canvas in [-1, 1]. The
// latent variable "z" has K*6 elements; the optional class variable "c"
// is a 3-element color bias added to every pixel. Both the forward and
// the backward pass are exact, so gradient-based refinement works
// against it like against any differentiable generator.
type Blob struct {
	Width  int
	Height int
	K      int

	sigMin   float64
	sigScale float64
}

// NewBlob creates a renderer for K blobs on a WxH canvas.
func NewBlob(width, height, k int) *Blob {
	short := width
	if height < short {
		short = height
	}
	return &Blob{
		Width:    width,
		Height:   height,
		K:        k,
		sigMin:   1.5,
		sigScale: 0.25 * float64(short),
	}
}

// ZDim returns the latent dimensionality.
func (b *Blob) ZDim() int { return b.K * paramsPerBlob }

// ClassDim returns the class-bias dimensionality.
func (b *Blob) ClassDim() int { return 3 }

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

// blob is the decoded geometry of one latent chunk.
type blob struct {
	cx, cy float64
	sig    float64
	col    [3]float64
}

func (b *Blob) decode(z []float64, k int) blob {
	off := k * paramsPerBlob
	var out blob
	out.cx = 0.5 * float64(b.Width-1) * (1 + math.Tanh(z[off+0]))
	out.cy = 0.5 * float64(b.Height-1) * (1 + math.Tanh(z[off+1]))
	out.sig = b.sigMin + b.sigScale*sigmoid(z[off+2])
	for c := 0; c < 3; c++ {
		out.col[c] = math.Tanh(z[off+3+c])
	}
	return out
}

func (b *Blob) checkInputs(inputs map[string]*tensor.Tensor) (z, cls *tensor.Tensor, batch int, err error) {
	z = inputs["z"]
	if z == nil {
		return nil, nil, 0, fmt.Errorf("render: missing input variable %q", "z")
	}
	if len(z.Shape) != 2 || z.Shape[1] != b.ZDim() {
		return nil, nil, 0, fmt.Errorf("render: z must have shape (batch, %d), got %v", b.ZDim(), z.Shape)
	}
	batch = z.Shape[0]
	cls = inputs["c"]
	if cls != nil {
		if len(cls.Shape) != 2 || cls.Shape[0] != batch || cls.Shape[1] != b.ClassDim() {
			return nil, nil, 0, fmt.Errorf("render: c must have shape (%d, %d), got %v", batch, b.ClassDim(), cls.Shape)
		}
	}
	return z, cls, batch, nil
}

// Forward renders the whole batch; candidates within the batch are
// rendered concurrently, which does not affect results.
func (b *Blob) Forward(inputs map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	z, cls, batch, err := b.checkInputs(inputs)
	if err != nil {
		return nil, err
	}
	out := tensor.New(batch, 3, b.Height, b.Width)
	stride := 3 * b.Height * b.Width

	p := pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for i := 0; i < batch; i++ {
		i := i
		p.Go(func() {
			zi := z.Data[i*b.ZDim() : (i+1)*b.ZDim()]
			var bias [3]float64
			if cls != nil {
				copy(bias[:], cls.Data[i*3:(i+1)*3])
			}
			b.renderOne(zi, bias, out.Data[i*stride:(i+1)*stride])
		})
	}
	p.Wait()
	return out, nil
}

func (b *Blob) renderOne(z []float64, bias [3]float64, dst []float64) {
	w, h := b.Width, b.Height
	blobs := make([]blob, b.K)
	for k := range blobs {
		blobs[k] = b.decode(z, k)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var pre [3]float64
			pre = bias
			for k := range blobs {
				bl := &blobs[k]
				dx := float64(x) - bl.cx
				dy := float64(y) - bl.cy
				g := math.Exp(-(dx*dx + dy*dy) / (2 * bl.sig * bl.sig))
				for c := 0; c < 3; c++ {
					pre[c] += bl.col[c] * g
				}
			}
			for c := 0; c < 3; c++ {
				dst[(c*h+y)*w+x] = math.Tanh(pre[c])
			}
		}
	}
}

// Backward computes the vector-Jacobian product for the batch.
func (b *Blob) Backward(inputs map[string]*tensor.Tensor, upstream *tensor.Tensor) (map[string]*tensor.Tensor, error) {
	z, cls, batch, err := b.checkInputs(inputs)
	if err != nil {
		return nil, err
	}
	if upstream.Len() != batch*3*b.Height*b.Width {
		return nil, fmt.Errorf("render: upstream has %d elements, expected %d", upstream.Len(), batch*3*b.Height*b.Width)
	}

	dz := tensor.New(batch, b.ZDim())
	var dc *tensor.Tensor
	if cls != nil {
		dc = tensor.New(batch, b.ClassDim())
	}
	stride := 3 * b.Height * b.Width

	p := pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for i := 0; i < batch; i++ {
		i := i
		p.Go(func() {
			zi := z.Data[i*b.ZDim() : (i+1)*b.ZDim()]
			var bias [3]float64
			if cls != nil {
				copy(bias[:], cls.Data[i*3:(i+1)*3])
			}
			var dBias []float64
			if dc != nil {
				dBias = dc.Data[i*3 : (i+1)*3]
			}
			b.backwardOne(zi, bias, upstream.Data[i*stride:(i+1)*stride], dz.Data[i*b.ZDim():(i+1)*b.ZDim()], dBias)
		})
	}
	p.Wait()

	grads := map[string]*tensor.Tensor{"z": dz}
	if dc != nil {
		grads["c"] = dc
	}
	return grads, nil
}

func (b *Blob) backwardOne(z []float64, bias [3]float64, up, dz, dBias []float64) {
	w, h := b.Width, b.Height
	blobs := make([]blob, b.K)
	for k := range blobs {
		blobs[k] = b.decode(z, k)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Recompute the pre-activation for the tanh derivative.
			var pre [3]float64
			pre = bias
			gs := make([]float64, b.K)
			for k := range blobs {
				bl := &blobs[k]
				dx := float64(x) - bl.cx
				dy := float64(y) - bl.cy
				gs[k] = math.Exp(-(dx*dx + dy*dy) / (2 * bl.sig * bl.sig))
				for c := 0; c < 3; c++ {
					pre[c] += bl.col[c] * gs[k]
				}
			}
			var dPre [3]float64
			for c := 0; c < 3; c++ {
				t := math.Tanh(pre[c])
				dPre[c] = up[(c*h+y)*w+x] * (1 - t*t)
				if dBias != nil {
					dBias[c] += dPre[c]
				}
			}
			for k := range blobs {
				bl := &blobs[k]
				off := k * paramsPerBlob
				dx := float64(x) - bl.cx
				dy := float64(y) - bl.cy
				g := gs[k]
				sig2 := bl.sig * bl.sig

				var dG float64
				for c := 0; c < 3; c++ {
					// d pre / d col through tanh squash of the raw z.
					th := bl.col[c]
					dz[off+3+c] += dPre[c] * g * (1 - th*th)
					dG += dPre[c] * bl.col[c]
				}

				// Chain to centre, then through the tanh placement.
				dCx := dG * g * dx / sig2
				dCy := dG * g * dy / sig2
				thx := math.Tanh(z[off+0])
				thy := math.Tanh(z[off+1])
				dz[off+0] += dCx * 0.5 * float64(w-1) * (1 - thx*thx)
				dz[off+1] += dCy * 0.5 * float64(h-1) * (1 - thy*thy)

				// Size through the sigmoid squash.
				dSig := dG * g * (dx*dx + dy*dy) / (sig2 * bl.sig)
				sg := sigmoid(z[off+2])
				dz[off+2] += dSig * b.sigScale * sg * (1 - sg)
			}
		}
	}
}
