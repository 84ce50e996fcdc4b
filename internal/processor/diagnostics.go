/**
 * Diagnostic Analyzer
 *
 * Explains why no text could be recovered. Runs only on the failure path,
 * against the unprocessed grayscale image, and returns one actionable message
 * chosen by a fixed defect priority.
 */

package processor

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// Defect classifies why an image produced no usable text.
type Defect string

const (
	DefectBlurry      Defect = "blurry"
	DefectDark        Defect = "dark"
	DefectLowContrast Defect = "low_contrast"
	DefectNoEdges     Defect = "no_edges"
	DefectUnreadable  Defect = "unreadable"
)

var defectMessages = map[Defect]string{
	DefectBlurry:      "The image looks blurry. Hold the camera steady, tap the text to focus and send it again.",
	DefectDark:        "The image is too dark. Retake it in better lighting or with the flash on.",
	DefectLowContrast: "The text barely stands out from its background. Try a plain background with even lighting.",
	DefectNoEdges:     "No text was found in this image. Make sure the text is in frame and fills most of the photo.",
	DefectUnreadable:  "No readable text could be extracted. Try a sharper photo taken straight on.",
}

// Message returns the user-facing remediation for the defect.
func (d Defect) Message() string {
	if msg, ok := defectMessages[d]; ok {
		return msg
	}
	return defectMessages[DefectUnreadable]
}

// QualityReport holds raw image statistics.
type QualityReport struct {
	BlurMetric  float64 // variance of the Laplacian
	Brightness  float64 // mean intensity
	Contrast    float64 // intensity standard deviation
	EdgeDensity float64 // share of pixels whose Sobel magnitude exceeds the edge threshold
}

// DiagnosticThresholds configure defect classification.
type DiagnosticThresholds struct {
	BlurVariance    float64
	BlurMinContrast float64
	DarkBrightness  float64
	LowContrast     float64
	MinEdgeDensity  float64
	EdgeMagnitude   float64
}

// DefaultDiagnosticThresholds returns the standard thresholds.
func DefaultDiagnosticThresholds() DiagnosticThresholds {
	return DiagnosticThresholds{
		BlurVariance:    100,
		BlurMinContrast: 15,
		DarkBrightness:  60,
		LowContrast:     30,
		MinEdgeDensity:  0.002,
		EdgeMagnitude:   64,
	}
}

// Diagnosis is the failure-path verdict.
type Diagnosis struct {
	Defect  Defect
	Message string
	Report  QualityReport
}

// AnalyzeQuality computes image statistics. edgeMagnitude is the Sobel
// magnitude above which a pixel counts as an edge.
func AnalyzeQuality(g *image.Gray, edgeMagnitude float64) QualityReport {
	m, err := preprocess.ToMat(g)
	if err != nil {
		return QualityReport{}
	}
	defer m.Close()

	brightness, contrast := meanStdDev(m)
	report := QualityReport{Brightness: brightness, Contrast: contrast}
	if m.Rows() < 3 || m.Cols() < 3 {
		return report
	}

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(m, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	_, lapStd := meanStdDev(lap)
	report.BlurMetric = lapStd * lapStd

	gx, gy, magnitude, edges := gocv.NewMat(), gocv.NewMat(), gocv.NewMat(), gocv.NewMat()
	defer gx.Close()
	defer gy.Close()
	defer magnitude.Close()
	defer edges.Close()
	gocv.Sobel(m, &gx, gocv.MatTypeCV64F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(m, &gy, gocv.MatTypeCV64F, 0, 1, 3, 1, 0, gocv.BorderDefault)
	gocv.Magnitude(gx, gy, &magnitude)
	gocv.Threshold(magnitude, &edges, float32(edgeMagnitude), 1, gocv.ThresholdBinary)
	report.EdgeDensity = float64(gocv.CountNonZero(edges)) / float64(m.Rows()*m.Cols())
	return report
}

func meanStdDev(m gocv.Mat) (mean, stddev float64) {
	meanMat, stdMat := gocv.NewMat(), gocv.NewMat()
	defer meanMat.Close()
	defer stdMat.Close()
	gocv.MeanStdDev(m, &meanMat, &stdMat)
	if meanMat.Empty() || stdMat.Empty() {
		return 0, 0
	}
	return meanMat.GetDoubleAt(0, 0), stdMat.GetDoubleAt(0, 0)
}

// Classify picks the single dominant defect:
// blurry > dark > low contrast > no edges > unreadable.
func Classify(r QualityReport, t DiagnosticThresholds) Defect {
	switch {
	case r.BlurMetric < t.BlurVariance && r.Contrast >= t.BlurMinContrast:
		return DefectBlurry
	case r.Brightness < t.DarkBrightness:
		return DefectDark
	case r.Contrast < t.LowContrast && r.EdgeDensity >= t.MinEdgeDensity:
		return DefectLowContrast
	case r.EdgeDensity < t.MinEdgeDensity:
		return DefectNoEdges
	default:
		return DefectUnreadable
	}
}

// Diagnose analyzes the unprocessed image and returns exactly one verdict.
func Diagnose(g *image.Gray, t DiagnosticThresholds) Diagnosis {
	report := AnalyzeQuality(g, t.EdgeMagnitude)
	defect := Classify(report, t)
	return Diagnosis{Defect: defect, Message: defect.Message(), Report: report}
}
