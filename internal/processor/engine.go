package processor

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrEngineUnavailable means the recognition engine cannot be invoked at
	// all, as opposed to failing on one particular input.
	ErrEngineUnavailable = errors.New("recognition engine unavailable")

	// ErrUnsupportedLanguage is returned for a language the engine has no data for.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Engine is the external text recognizer. Implementations must be safe for
// concurrent use; each call is independent.
type Engine interface {
	Recognize(ctx context.Context, pixels *image.Gray, group LanguageGroup, profile ConfigProfile) (string, error)
	Name() string
}

// Prober is implemented by engines that can verify their own availability
// before any work is scheduled.
type Prober interface {
	Probe(ctx context.Context) error
}

// LanguageLister is implemented by engines that know which languages they
// have data for.
type LanguageLister interface {
	Languages() ([]string, error)
}
