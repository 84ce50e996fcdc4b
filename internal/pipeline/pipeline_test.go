package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/png"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

func TestOptionsAppliesOverrides(t *testing.T) {
	opts, err := Options(config.OCRConfig{
		Preset:            processor.PresetEnhanced,
		MaxAttempts:       8,
		ProcessingTimeout: 12 * time.Second,
		DefaultLanguages:  "ara",
	})
	require.NoError(t, err)

	assert.Equal(t, 8, opts.MaxAttempts)
	assert.Equal(t, 12*time.Second, opts.Timeout)
	assert.Equal(t, "ara", opts.DefaultLanguages)
	assert.NotContains(t, opts.Techniques, preprocess.CLAHE)
}

func TestOptionsDefaultsToUltimate(t *testing.T) {
	opts, err := Options(config.OCRConfig{})
	require.NoError(t, err)
	assert.Equal(t, preprocess.AllTechniques(), opts.Techniques)
	assert.Equal(t, 16, opts.MaxAttempts)
}

func TestOptionsUnknownPreset(t *testing.T) {
	_, err := Options(config.OCRConfig{Preset: "turbo"})
	assert.Error(t, err)
}

func TestNewRejectsBadPool(t *testing.T) {
	_, err := New(config.OCRConfig{PoolSize: 0}, nil)
	assert.Error(t, err)
}

func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

// invoicePhoto renders "INVOICE 4821" at three times the font's native size,
// optionally blurred with a Gaussian of the given sigma.
func invoicePhoto(t *testing.T, sigma float64) []byte {
	t.Helper()
	canvas := image.NewGray(image.Rect(0, 0, 160, 40))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: canvas, Src: image.Black, Face: basicfont.Face7x13, Dot: fixed.P(20, 25)}
	d.DrawString("INVOICE 4821")

	var img image.Image = imaging.Resize(canvas, 480, 120, imaging.NearestNeighbor)
	if sigma > 0 {
		img = imaging.Blur(img, sigma)
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestExtractWithTesseract(t *testing.T) {
	ensureTesseractAvailable(t)

	ocr, err := New(config.OCRConfig{
		PoolSize:          2,
		MaxAttempts:       16,
		ProcessingTimeout: 90 * time.Second,
		AttemptTimeout:    30 * time.Second,
		DefaultLanguages:  "eng",
	}, nil)
	require.NoError(t, err)
	defer ocr.Close()

	ctx := context.Background()
	require.NoError(t, ocr.Orchestrator.CheckEngine(ctx))
	langs, err := ocr.Engine.Languages()
	require.NoError(t, err)
	if !slices.Contains(langs, "eng") {
		t.Skip("eng traineddata not installed")
	}

	sharp, err := ocr.Orchestrator.Extract(ctx, invoicePhoto(t, 0), "eng")
	require.NoError(t, err)
	require.Equal(t, processor.StatusSuccess, sharp.Status, sharp.Message())
	assert.Contains(t, strings.ToUpper(sharp.Text), "INVOICE")

	blurred, err := ocr.Orchestrator.Extract(ctx, invoicePhoto(t, 2), "eng")
	require.NoError(t, err)
	require.Equal(t, processor.StatusSuccess, blurred.Status, blurred.Message())
	assert.NotEmpty(t, blurred.Text)
	assert.LessOrEqual(t, blurred.Score, sharp.Score)
}
