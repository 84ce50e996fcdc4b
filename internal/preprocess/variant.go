/**
 * Variant Generator
 *
 * Produces alternative renditions of one input image. Each rendition targets
 * a different defect (low contrast, blur, noise, uneven lighting, scale) so
 * that at least one of them is likely to read cleanly.
 */

package preprocess

import (
	"fmt"
	"image"
	"sort"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// Technique identifies one preprocessing transform.
type Technique int

const (
	Grayscale Technique = iota
	CLAHE
	Unsharp
	Bilateral
	Morphological
	AdaptiveThreshold
	Denoise
	ContrastBoost
	Upscale
	Downscale
)

var techniqueNames = map[Technique]string{
	Grayscale:         "grayscale",
	CLAHE:             "clahe",
	Unsharp:           "unsharp",
	Bilateral:         "bilateral",
	Morphological:     "morphological",
	AdaptiveThreshold: "adaptive_threshold",
	Denoise:           "denoise",
	ContrastBoost:     "contrast_boost",
	Upscale:           "upscale",
	Downscale:         "downscale",
}

func (t Technique) String() string {
	if name, ok := techniqueNames[t]; ok {
		return name
	}
	return fmt.Sprintf("technique(%d)", int(t))
}

// BlurTargeted reports whether the technique is meant to recover blurred or
// noisy strokes. Such variants are paired with the blur-tolerant profile and
// earn a scoring bonus.
func (t Technique) BlurTargeted() bool {
	switch t {
	case Unsharp, Bilateral, Morphological, Denoise:
		return true
	}
	return false
}

// ParseTechnique resolves a technique by name.
func ParseTechnique(name string) (Technique, error) {
	for t, n := range techniqueNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown preprocessing technique %q", name)
}

// AllTechniques lists every technique in canonical order.
func AllTechniques() []Technique {
	return []Technique{
		Grayscale, CLAHE, Unsharp, Bilateral, Morphological,
		AdaptiveThreshold, Denoise, ContrastBoost, Upscale, Downscale,
	}
}

// Variant is one preprocessed rendition of the input image.
type Variant struct {
	Name      string
	Pixels    *image.Gray
	Technique Technique
}

// Generator builds the variant set for an image.
type Generator struct {
	// Techniques to attempt besides the grayscale baseline, which is always produced.
	Techniques []Technique

	// Upscale applies when the shorter side is below SmallTextDim.
	SmallTextDim int
	// Downscale applies when the longer side exceeds LargeImageDim.
	LargeImageDim int

	logger *logging.Logger
}

// NewGenerator creates a generator for the given techniques.
func NewGenerator(techniques []Technique, logger *logging.Logger) *Generator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Generator{
		Techniques:    techniques,
		SmallTextDim:  600,
		LargeImageDim: 2000,
		logger:        logger,
	}
}

// Generate decodes data and returns the variant set keyed by name. It fails
// only when the bytes cannot be decoded; individual transforms that fail are
// skipped.
func (g *Generator) Generate(data []byte) (map[string]*Variant, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return g.FromImage(img), nil
}

// FromImage builds the variant set from an already decoded image.
func (g *Generator) FromImage(img image.Image) map[string]*Variant {
	base := grayscale(img)
	variants := map[string]*Variant{
		Grayscale.String(): {Name: Grayscale.String(), Pixels: base, Technique: Grayscale},
	}

	for _, t := range g.Techniques {
		if t == Grayscale {
			continue
		}
		pixels, err := g.apply(t, base)
		if err != nil {
			g.logger.Debug("Preprocessing technique skipped", "technique", t.String(), "error", err)
			continue
		}
		if pixels == nil {
			continue
		}
		variants[t.String()] = &Variant{Name: t.String(), Pixels: pixels, Technique: t}
	}

	return variants
}

// apply runs one transform; a nil result means the technique does not apply
// to this image.
func (g *Generator) apply(t Technique, base *image.Gray) (out *image.Gray, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic in %s: %v", t, r)
		}
	}()

	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	switch t {
	case CLAHE:
		return clahe(base, 3.0, 8)
	case Unsharp:
		return unsharp(base, 2.0, 2.5)
	case Bilateral:
		return bilateral(base, 9, 75, 75)
	case Morphological:
		return closeGaps(base, 2)
	case AdaptiveThreshold:
		return adaptiveThreshold(base, 11, 2)
	case Denoise:
		return denoise(base, 10)
	case ContrastBoost:
		return scaleIntensity(base, 1.5)
	case Upscale:
		if min(w, h) >= g.SmallTextDim {
			return nil, nil
		}
		return upscale(base, 2)
	case Downscale:
		if max(w, h) <= g.LargeImageDim {
			return nil, nil
		}
		return downscale(base, g.LargeImageDim)
	}
	return nil, fmt.Errorf("unsupported technique %s", t)
}

// Variants returns the set ordered by technique so downstream ordering is
// deterministic.
func Variants(set map[string]*Variant) []*Variant {
	out := make([]*Variant, 0, len(set))
	for _, v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Technique != out[j].Technique {
			return out[i].Technique < out[j].Technique
		}
		return out[i].Name < out[j].Name
	})
	return out
}
