package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// Preset names
const (
	PresetEnhanced = "enhanced"
	PresetSmart    = "smart"
	PresetUltimate = "ultimate"
)

// Options parameterize an Orchestrator.
type Options struct {
	Techniques       []preprocess.Technique
	Profiles         ProfileRegistry
	Gate             GateThresholds
	Weights          ScoreWeights
	MinScore         float64
	Diagnostics      DiagnosticThresholds
	MaxAttempts      int
	Timeout          time.Duration
	DefaultLanguages string
}

// DefaultOptions returns the ultimate preset.
func DefaultOptions() Options {
	return Options{
		Techniques:       preprocess.AllTechniques(),
		Profiles:         DefaultProfiles(),
		Gate:             DefaultGate(),
		Weights:          DefaultWeights(),
		MinScore:         DefaultMinScore,
		Diagnostics:      DefaultDiagnosticThresholds(),
		MaxAttempts:      16,
		Timeout:          30 * time.Second,
		DefaultLanguages: "eng+amh",
	}
}

// PresetOptions returns a named preset. enhanced leans on blur recovery,
// smart on lighting correction, ultimate runs every technique.
func PresetOptions(name string) (Options, error) {
	opts := DefaultOptions()
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetUltimate:
		return opts, nil
	case PresetEnhanced:
		opts.Techniques = []preprocess.Technique{
			preprocess.Grayscale,
			preprocess.Unsharp,
			preprocess.Bilateral,
			preprocess.Morphological,
			preprocess.ContrastBoost,
			preprocess.Upscale,
			preprocess.Downscale,
		}
		opts.Weights.BlurBonus = 0.15
		return opts, nil
	case PresetSmart:
		opts.Techniques = []preprocess.Technique{
			preprocess.Grayscale,
			preprocess.CLAHE,
			preprocess.Unsharp,
			preprocess.Bilateral,
			preprocess.AdaptiveThreshold,
			preprocess.Denoise,
			preprocess.Upscale,
			preprocess.Downscale,
		}
		return opts, nil
	}
	return Options{}, fmt.Errorf("unknown OCR preset %q", name)
}
