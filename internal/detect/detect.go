// Package detect wires the optional object detector and classifier into
// a (class label, mask) pair for the optimizer. The collaborators are
// interfaces only; the core never depends on how detections are made.
package detect

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/johndpope/pix2latent/internal/tensor"
	"github.com/johndpope/pix2latent/internal/variable"
)

// Box is a pixel-space bounding box [x0, y0, x1, y1].
type Box [4]int

// Detections holds candidate objects found in an image, parallel slices
// indexed together.
type Detections struct {
	Boxes  []Box
	Labels []int
	Scores []float64
	Masks  []*tensor.Tensor
}

// Detector proposes candidate objects for a CHW image.
type Detector interface {
	Detect(img *tensor.Tensor) (*Detections, error)
}

// Classifier predicts a class label for a CHW image (or crop).
type Classifier interface {
	Classify(img *tensor.Tensor) (int, error)
}

// Consistency decides whether a classifier prediction is compatible
// with a detector label (e.g. COCO category vs. ImageNet synset).
type Consistency func(detLabel, predLabel int) bool

// Result is the explicit outcome of auto-detection, threaded into the
// optimization entry point as an argument. Mask is nil when detection
// fell back to whole-image classification.
type Result struct {
	Label int
	Mask  *tensor.Tensor
}

// ErrNoConsistentCandidate reports that no detector candidate agreed
// with the classifier. Callers recover by classifying the whole image.
var ErrNoConsistentCandidate = errors.New("detect: no candidate consistent with classification")

// Config selects how the mask is built from the winning candidate.
type Config struct {
	// MaskType is "mask" for the instance mask or "bbox" for a filled
	// bounding box.
	MaskType string

	// Consistent validates candidate agreement; nil accepts label
	// equality.
	Consistent Consistency
}

// AutoDetect scans detector candidates from highest to lowest score and
// returns the first whose classified crop is consistent with the
// detection. When every candidate is inconsistent (or there are none),
// it degrades to whole-image classification with no mask; detection
// failure is never fatal.
func AutoDetect(det Detector, cls Classifier, img *tensor.Tensor, cfg Config) (*Result, error) {
	if cfg.MaskType != "mask" && cfg.MaskType != "bbox" {
		return nil, &variable.ConfigurationError{Param: "MaskType", Reason: fmt.Sprintf("unsupported value %q", cfg.MaskType)}
	}
	consistent := cfg.Consistent
	if consistent == nil {
		consistent = func(a, b int) bool { return a == b }
	}

	res, err := tryCandidates(det, cls, img, cfg.MaskType, consistent)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrNoConsistentCandidate) {
		return nil, err
	}

	slog.Warn("auto-detection failed, falling back to whole-image classification")
	label, err := cls.Classify(img)
	if err != nil {
		return nil, fmt.Errorf("detect: fallback classification: %w", err)
	}
	return &Result{Label: label}, nil
}

func tryCandidates(det Detector, cls Classifier, img *tensor.Tensor, maskType string, consistent Consistency) (*Result, error) {
	cands, err := det.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect: detector: %w", err)
	}
	if cands == nil || len(cands.Scores) == 0 {
		return nil, ErrNoConsistentCandidate
	}

	order := make([]int, len(cands.Scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cands.Scores[order[a]] > cands.Scores[order[b]]
	})

	h, w := img.Shape[1], img.Shape[2]
	for _, idx := range order {
		box := clampBox(cands.Boxes[idx], w, h)
		pred, err := cls.Classify(crop(img, box))
		if err != nil {
			return nil, fmt.Errorf("detect: candidate classification: %w", err)
		}
		if !consistent(cands.Labels[idx], pred) {
			slog.Debug("detection and classification inconsistent, trying next candidate",
				"detected", cands.Labels[idx], "predicted", pred)
			continue
		}

		var mask *tensor.Tensor
		switch maskType {
		case "mask":
			if idx < len(cands.Masks) && cands.Masks[idx] != nil {
				mask = cands.Masks[idx].Clone()
				for i, v := range mask.Data {
					if v > 0.5 {
						mask.Data[i] = 1
					} else {
						mask.Data[i] = 0
					}
				}
			} else {
				// Detectors without instance segmentation fill only the
				// boxes; degrade to the box mask instead of failing.
				slog.Warn("detector provided no instance mask, using bounding box", "candidate", idx)
				mask = boxMask(box, h, w)
			}
		case "bbox":
			mask = boxMask(box, h, w)
		}
		return &Result{Label: pred, Mask: mask}, nil
	}
	return nil, ErrNoConsistentCandidate
}

func boxMask(b Box, h, w int) *tensor.Tensor {
	m := tensor.New(1, h, w)
	for y := b[1]; y < b[3]; y++ {
		for x := b[0]; x < b[2]; x++ {
			m.Data[y*w+x] = 1
		}
	}
	return m
}

func clampBox(b Box, w, h int) Box {
	clampInt := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return Box{
		clampInt(b[0], 0, w),
		clampInt(b[1], 0, h),
		clampInt(b[2], 0, w),
		clampInt(b[3], 0, h),
	}
}

func crop(img *tensor.Tensor, b Box) *tensor.Tensor {
	ch, h, w := img.Shape[0], img.Shape[1], img.Shape[2]
	cw, chh := b[2]-b[0], b[3]-b[1]
	if cw <= 0 || chh <= 0 {
		return img.Clone()
	}
	out := tensor.New(ch, chh, cw)
	for c := 0; c < ch; c++ {
		for y := 0; y < chh; y++ {
			for x := 0; x < cw; x++ {
				out.Data[(c*chh+y)*cw+x] = img.Data[(c*h+y+b[1])*w+x+b[0]]
			}
		}
	}
	return out
}
