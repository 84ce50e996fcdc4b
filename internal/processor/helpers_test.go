package processor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// stubEngine answers from a function of the requested strategy.
type stubEngine struct {
	answer func(ctx context.Context, group LanguageGroup, profile ConfigProfile) (string, error)

	calls   atomic.Int64
	active  atomic.Int64
	mu      sync.Mutex
	maxSeen int64
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Recognize(ctx context.Context, _ *image.Gray, group LanguageGroup, profile ConfigProfile) (string, error) {
	s.calls.Add(1)
	n := s.active.Add(1)
	defer s.active.Add(-1)

	s.mu.Lock()
	if n > s.maxSeen {
		s.maxSeen = n
	}
	s.mu.Unlock()

	return s.answer(ctx, group, profile)
}

func (s *stubEngine) peak() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSeen
}

func constant(text string) func(context.Context, LanguageGroup, ConfigProfile) (string, error) {
	return func(context.Context, LanguageGroup, ConfigProfile) (string, error) { return text, nil }
}

// textCanvas draws lines of text in black on white, one line per 13px row.
func textCanvas(w, h int, lines ...string) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13}
	for i, line := range lines {
		d.Dot = fixed.P(2, 11+13*i)
		d.DrawString(line)
	}
	return img
}

// darken scales every pixel by factor.
func darken(src *image.Gray, factor float64) *image.Gray {
	dst := image.NewGray(src.Bounds())
	for i, p := range src.Pix {
		dst.Pix[i] = uint8(float64(p) * factor)
	}
	return dst
}

func blank(w, h int, level uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: level}}, image.Point{}, draw.Src)
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestOrchestrator(t *testing.T, engine Engine, mutate func(*Options)) *Orchestrator {
	t.Helper()
	exec, err := NewExecutor(engine, 3, 5*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(exec.Close)

	opts := DefaultOptions()
	opts.DefaultLanguages = "eng"
	if mutate != nil {
		mutate(&opts)
	}
	o, err := NewOrchestrator(exec, opts, nil)
	require.NoError(t, err)
	return o
}

func testVariants(t *testing.T) []*preprocess.Variant {
	t.Helper()
	g := preprocess.NewGenerator(preprocess.AllTechniques(), nil)
	return preprocess.Variants(g.FromImage(textCanvas(120, 30, "INVOICE 4821")))
}
