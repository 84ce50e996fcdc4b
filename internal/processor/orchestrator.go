/**
 * OCR Orchestrator
 *
 * Turns one photograph into clean text:
 * decode → variants → strategy matrix → bounded fan-out → scoring → selection,
 * falling back to a quality diagnosis when no candidate qualifies.
 *
 * The whole call runs inside a single deadline. On expiry the call returns a
 * timeout outcome and every partial result is discarded.
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"regexp"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// Orchestrator runs extraction calls. It is safe for concurrent use; all
// calls share the executor's pool.
type Orchestrator struct {
	executor  *Executor
	generator *preprocess.Generator
	scorer    *Scorer
	selector  *Selector
	opts      Options
	logger    *logging.Logger

	// diagnose runs on the failure path only.
	diagnose func(*image.Gray) Diagnosis
}

// NewOrchestrator creates an orchestrator on top of an executor.
func NewOrchestrator(executor *Executor, opts Options, logger *logging.Logger) (*Orchestrator, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.Profiles == nil {
		opts.Profiles = DefaultProfiles()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 16
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	o := &Orchestrator{
		executor:  executor,
		generator: preprocess.NewGenerator(opts.Techniques, logger),
		scorer:    &Scorer{Gate: opts.Gate, Weights: opts.Weights},
		selector:  &Selector{MinScore: opts.MinScore},
		opts:      opts,
		logger:    logger,
	}
	o.diagnose = func(g *image.Gray) Diagnosis {
		return Diagnose(g, o.opts.Diagnostics)
	}
	return o, nil
}

// CheckEngine verifies the engine can be invoked at all.
func (o *Orchestrator) CheckEngine(ctx context.Context) error {
	p, ok := o.executor.engine.(Prober)
	if !ok {
		return nil
	}
	if err := p.Probe(ctx); err != nil {
		return errors.NewEngineUnavailableError("", o.executor.engine.Name(), err)
	}
	return nil
}

// Extract recognizes the text in imageBytes. Image-quality problems, decode
// failures and timeouts are reported through the Outcome; an error is
// returned only when the engine itself is unavailable or ctx was cancelled
// by the caller.
func (o *Orchestrator) Extract(ctx context.Context, imageBytes []byte, languagePreference string) (*Outcome, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	groups := o.installedGroups(ParseLanguagePreference(languagePreference, o.opts.DefaultLanguages))
	outcome := &Outcome{LanguageGroup: groups[0].String()}
	defer func() { outcome.ProcessingTime = time.Since(start) }()

	img, err := preprocess.Decode(imageBytes)
	if err != nil {
		o.logger.Warn("Image decode failed", "bytes", len(imageBytes), "error", err)
		outcome.Status = StatusError
		outcome.DiagnosticMessage = MessageDecodeFailed
		outcome.Err = errors.NewDecodeFailedError("", err)
		return outcome, nil
	}

	variantCh := make(chan map[string]*preprocess.Variant, 1)
	go func() {
		variantCh <- o.generator.FromImage(img)
	}()

	var variantSet map[string]*preprocess.Variant
	select {
	case <-ctx.Done():
		return o.interrupted(ctx, outcome)
	case variantSet = <-variantCh:
	}

	strategies := BuildMatrix(preprocess.Variants(variantSet), groups, o.opts.Profiles, o.opts.MaxAttempts)
	outcome.Attempts = len(strategies)
	o.logger.Debug("Strategy matrix built",
		"variants", len(variantSet),
		"strategies", len(strategies),
		"languages", outcome.LanguageGroup)

	attempts, err := o.executor.Run(ctx, strategies)
	if ctx.Err() != nil {
		return o.interrupted(ctx, outcome)
	}
	if err != nil {
		return nil, fmt.Errorf("run strategies: %w", err)
	}

	if engineDown(attempts) {
		return nil, errors.NewEngineUnavailableError("", o.executor.engine.Name(), attempts[0].Err)
	}

	for _, a := range attempts {
		if a.OK() {
			outcome.Succeeded++
		}
	}

	results := o.scorer.Evaluate(attempts)
	if best, ok := o.selector.Select(results); ok {
		outcome.Status = StatusSuccess
		outcome.Text = CleanText(best.Text)
		outcome.TextLength = len([]rune(outcome.Text))
		outcome.Score = best.Score
		outcome.Strategy = best.Strategy.String()
		o.logger.Info("Text extracted",
			"strategy", outcome.Strategy,
			"score", fmt.Sprintf("%.3f", best.Score),
			"chars", outcome.TextLength,
			"candidates", len(results))
		return outcome, nil
	}

	diagnosis := o.diagnose(variantSet[preprocess.Grayscale.String()].Pixels)
	outcome.Status = StatusNoText
	outcome.Defect = diagnosis.Defect
	outcome.DiagnosticMessage = diagnosis.Message
	outcome.Err = errors.NewNoUsableTextError("", string(diagnosis.Defect), len(attempts))
	o.logger.Info("No usable text",
		"defect", diagnosis.Defect,
		"attempts", len(attempts),
		"succeeded", outcome.Succeeded,
		"blur", fmt.Sprintf("%.1f", diagnosis.Report.BlurMetric),
		"brightness", fmt.Sprintf("%.1f", diagnosis.Report.Brightness))
	return outcome, nil
}

// installedGroups narrows groups to the languages the engine can read,
// falling back to English when none of the requested ones are installed.
func (o *Orchestrator) installedGroups(groups []LanguageGroup) []LanguageGroup {
	lister, ok := o.executor.engine.(LanguageLister)
	if !ok {
		return groups
	}
	codes, err := lister.Languages()
	if err != nil || len(codes) == 0 {
		return groups
	}
	installed := make(map[string]bool, len(codes))
	for _, c := range codes {
		installed[c] = true
	}

	if kept := InstalledOnly(groups, installed); len(kept) > 0 {
		if kept[0].String() != groups[0].String() {
			o.logger.Debug("Language group narrowed to installed data",
				"requested", groups[0].String(), "using", kept[0].String())
		}
		return kept
	}
	if installed["eng"] {
		o.logger.Warn("No requested language is installed, falling back to English",
			"requested", groups[0].String())
		return []LanguageGroup{{Codes: []string{"eng"}}}
	}
	return groups
}

// interrupted maps a finished context to an outcome: our own deadline is a
// timeout, caller cancellation is returned as an error.
func (o *Orchestrator) interrupted(ctx context.Context, outcome *Outcome) (*Outcome, error) {
	if !stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ctx.Err()
	}
	o.logger.Warn("Extraction timed out", "timeout", o.opts.Timeout)
	outcome.Status = StatusTimeout
	outcome.DiagnosticMessage = MessageTimeout
	outcome.Err = errors.NewProcessingTimeoutError("", o.opts.Timeout, ctx.Err())
	return outcome, nil
}

// engineDown reports whether every attempt failed because the engine could
// not be invoked.
func engineDown(attempts []Attempt) bool {
	if len(attempts) == 0 {
		return false
	}
	for _, a := range attempts {
		if !stderrors.Is(a.Err, ErrEngineUnavailable) {
			return false
		}
	}
	return true
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// CleanText trims trailing whitespace on each line and collapses runs of
// blank lines to one.
func CleanText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
