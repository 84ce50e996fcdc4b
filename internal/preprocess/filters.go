package preprocess

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// Filters run on OpenCV mats. Inputs and outputs are 8-bit gray grids
// anchored at the origin.

var errEmptyResult = errors.New("filter produced an empty image")

func grayscale(img image.Image) *image.Gray {
	return ToGray(imaging.Grayscale(img))
}

// ToMat copies a gray grid into a single-channel 8-bit mat. The caller
// closes the mat.
func ToMat(g *image.Gray) (gocv.Mat, error) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return gocv.Mat{}, fmt.Errorf("empty %dx%d image", w, h)
	}
	if g.Stride < w || len(g.Pix) < (h-1)*g.Stride+w {
		return gocv.Mat{}, fmt.Errorf("%dx%d image has %d bytes of pixel data", w, h, len(g.Pix))
	}

	pix := g.Pix[:w*h]
	if g.Stride != w {
		pix = make([]byte, 0, w*h)
		for y := 0; y < h; y++ {
			pix = append(pix, g.Pix[y*g.Stride:y*g.Stride+w]...)
		}
	}

	shared, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("create mat: %w", err)
	}
	defer shared.Close()
	return shared.Clone(), nil
}

// FromMat copies a single-channel 8-bit mat back into a gray grid.
func FromMat(m gocv.Mat) (*image.Gray, error) {
	if m.Empty() {
		return nil, errEmptyResult
	}
	if m.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("unexpected mat type %v", m.Type())
	}
	w, h := m.Cols(), m.Rows()
	return &image.Gray{Pix: m.ToBytes(), Stride: w, Rect: image.Rect(0, 0, w, h)}, nil
}

// filter runs fn from a mat of src into a fresh output mat.
func filter(src *image.Gray, fn func(in gocv.Mat, out *gocv.Mat)) (*image.Gray, error) {
	in, err := ToMat(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	out := gocv.NewMat()
	defer out.Close()
	fn(in, &out)
	return FromMat(out)
}

// clahe applies contrast-limited adaptive histogram equalisation.
func clahe(src *image.Gray, clipLimit float64, tiles int) (*image.Gray, error) {
	return filter(src, func(in gocv.Mat, out *gocv.Mat) {
		c := gocv.NewCLAHEWithParams(clipLimit, image.Point{X: tiles, Y: tiles})
		defer c.Close()
		c.Apply(in, out)
	})
}

// unsharp sharpens with amount·src − (amount−1)·gauss(sigma).
func unsharp(src *image.Gray, sigma, amount float64) (*image.Gray, error) {
	return filter(src, func(in gocv.Mat, out *gocv.Mat) {
		blurred := gocv.NewMat()
		defer blurred.Close()
		gocv.GaussianBlur(in, &blurred, image.Point{}, sigma, sigma, gocv.BorderDefault)
		gocv.AddWeighted(in, amount, blurred, 1-amount, 0, out)
	})
}

// bilateral smooths flat regions while keeping stroke edges.
func bilateral(src *image.Gray, diameter int, sigmaColor, sigmaSpace float64) (*image.Gray, error) {
	return filter(src, func(in gocv.Mat, out *gocv.Mat) {
		gocv.BilateralFilter(in, out, diameter, sigmaColor, sigmaSpace)
	})
}

// closeGaps performs a morphological closing with a size×size rectangle,
// filling dark pin holes and hairline gaps in the paper.
func closeGaps(src *image.Gray, size int) (*image.Gray, error) {
	return filter(src, func(in gocv.Mat, out *gocv.Mat) {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: size, Y: size})
		defer kernel.Close()
		gocv.MorphologyEx(in, out, gocv.MorphClose, kernel)
	})
}

// adaptiveThreshold binarises against a Gaussian-weighted local mean minus c.
func adaptiveThreshold(src *image.Gray, blockSize int, c float32) (*image.Gray, error) {
	return filter(src, func(in gocv.Mat, out *gocv.Mat) {
		gocv.AdaptiveThreshold(in, out, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, blockSize, c)
	})
}

// denoise runs non-local means with filter strength h.
func denoise(src *image.Gray, h float32) (*image.Gray, error) {
	return filter(src, func(in gocv.Mat, out *gocv.Mat) {
		gocv.FastNlMeansDenoisingWithParams(in, out, h, 7, 21)
	})
}

// scaleIntensity multiplies every pixel by factor, saturating at 255.
func scaleIntensity(src *image.Gray, factor float64) (*image.Gray, error) {
	return filter(src, func(in gocv.Mat, out *gocv.Mat) {
		gocv.ConvertScaleAbs(in, out, factor, 0)
	})
}

func upscale(src *image.Gray, factor int) (*image.Gray, error) {
	size := image.Point{X: src.Rect.Dx() * factor, Y: src.Rect.Dy() * factor}
	return filter(src, func(in gocv.Mat, out *gocv.Mat) {
		gocv.Resize(in, out, size, 0, 0, gocv.InterpolationCubic)
	})
}

// downscale shrinks src to fit within maxDim on both sides.
func downscale(src *image.Gray, maxDim int) (*image.Gray, error) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	scale := math.Min(float64(maxDim)/float64(w), float64(maxDim)/float64(h))
	size := image.Point{
		X: max(1, int(math.Round(float64(w)*scale))),
		Y: max(1, int(math.Round(float64(h)*scale))),
	}
	return filter(src, func(in gocv.Mat, out *gocv.Mat) {
		gocv.Resize(in, out, size, 0, 0, gocv.InterpolationArea)
	})
}
