/**
 * OCR Types - Shared data structures for OCR operations
 *
 * The Outcome of one orchestration call, as returned to queue consumers,
 * the CLI and the request log.
 */

package processor

import (
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
)

// Status is the terminal state of an orchestration call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusNoText  Status = "no-text"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// User-facing messages for terminal states that carry no diagnosis.
const (
	MessageDecodeFailed      = "This file could not be read as an image. Please send a JPEG or PNG photo."
	MessageTimeout           = "Processing took too long. Please try a smaller or clearer image."
	MessageEngineUnavailable = "Text recognition is temporarily unavailable. Please try again later."
)

// Outcome is the result of one orchestration call. Exactly one of Text and
// DiagnosticMessage is set.
type Outcome struct {
	Text              string
	DiagnosticMessage string
	Status            Status

	LanguageGroup  string
	TextLength     int
	ProcessingTime time.Duration

	// Winning candidate details; zero unless Status is success.
	Score    float64
	Strategy string

	// Attempts is the number of engine invocations planned; Succeeded counts
	// those that returned text.
	Attempts  int
	Succeeded int

	Defect Defect
	Err    *errors.ProcessingError
}

// OK reports whether text was recovered.
func (o *Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// Message returns the string to show the end user: the recognized text or
// one diagnostic sentence.
func (o *Outcome) Message() string {
	if o.Status == StatusSuccess {
		return o.Text
	}
	return o.DiagnosticMessage
}
