package processor

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"

	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

func TestClassifyPriority(t *testing.T) {
	th := DefaultDiagnosticThresholds()
	cases := []struct {
		name   string
		report QualityReport
		want   Defect
	}{
		{"blur outranks darkness", QualityReport{BlurMetric: 10, Brightness: 20, Contrast: 40, EdgeDensity: 0.1}, DefectBlurry},
		{"flat image is not blurry", QualityReport{BlurMetric: 0, Brightness: 255, Contrast: 0, EdgeDensity: 0}, DefectNoEdges},
		{"dark", QualityReport{BlurMetric: 500, Brightness: 40, Contrast: 20, EdgeDensity: 0.1}, DefectDark},
		{"low contrast with edges", QualityReport{BlurMetric: 500, Brightness: 130, Contrast: 10, EdgeDensity: 0.1}, DefectLowContrast},
		{"low contrast without edges", QualityReport{BlurMetric: 500, Brightness: 130, Contrast: 10, EdgeDensity: 0}, DefectNoEdges},
		{"sharp and lit", QualityReport{BlurMetric: 900, Brightness: 180, Contrast: 80, EdgeDensity: 0.2}, DefectUnreadable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.report, th))
		})
	}
}

func TestDiagnoseBlankImage(t *testing.T) {
	d := Diagnose(blank(200, 80, 255), DefaultDiagnosticThresholds())
	assert.Equal(t, DefectNoEdges, d.Defect)
	assert.Equal(t, DefectNoEdges.Message(), d.Message)
	assert.InDelta(t, 255, d.Report.Brightness, 1e-9)
	assert.Zero(t, d.Report.EdgeDensity)
}

func TestDiagnoseDarkImage(t *testing.T) {
	img := darken(textCanvas(90, 42, "INVOICE 4821", "TOTAL 120.00", "PAID CASH"), 0.2)
	d := Diagnose(img, DefaultDiagnosticThresholds())
	assert.Equal(t, DefectDark, d.Defect)
	assert.Less(t, d.Report.Brightness, 60.0)
}

func TestDiagnoseBlurryImage(t *testing.T) {
	step := image.NewGray(image.Rect(0, 0, 100, 100))
	draw.Draw(step, image.Rect(50, 0, 100, 100), image.White, image.Point{}, draw.Src)
	blurred := preprocess.ToGray(imaging.Blur(step, 4))

	d := Diagnose(blurred, DefaultDiagnosticThresholds())
	assert.Equal(t, DefectBlurry, d.Defect)
	assert.Less(t, d.Report.BlurMetric, 100.0)
}

func TestDiagnoseLowContrastImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(120)
			if (x/4)%2 == 1 {
				v = 140
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	d := Diagnose(img, DefaultDiagnosticThresholds())
	assert.Equal(t, DefectLowContrast, d.Defect)
}

func TestDiagnoseSharpImageIsUnreadable(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/8+y/8)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	d := Diagnose(img, DefaultDiagnosticThresholds())
	assert.Equal(t, DefectUnreadable, d.Defect)
}

func TestAnalyzeQualityTinyImage(t *testing.T) {
	r := AnalyzeQuality(blank(2, 2, 10), 64)
	assert.InDelta(t, 10, r.Brightness, 1e-9)
	assert.Zero(t, r.BlurMetric)

	assert.Equal(t, QualityReport{}, AnalyzeQuality(image.NewGray(image.Rect(0, 0, 0, 0)), 64))
}

func TestDefectMessageFallback(t *testing.T) {
	assert.Equal(t, DefectUnreadable.Message(), Defect("unknown").Message())
	for _, d := range []Defect{DefectBlurry, DefectDark, DefectLowContrast, DefectNoEdges, DefectUnreadable} {
		assert.NotEmpty(t, d.Message())
	}
}
