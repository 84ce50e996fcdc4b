/**
 * Tesseract OCR - Recognition engine backed by libtesseract
 *
 * Each call gets its own client, so the engine is safe for concurrent use
 * from the extraction pool. The cgo call cannot be interrupted; when the
 * attempt deadline passes first the result is abandoned, but the call keeps
 * its concurrency slot until libtesseract returns.
 */

package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/semaphore"

	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

// TesseractOCR implements processor.Engine
type TesseractOCR struct {
	tessdataPrefix string
	clientFactory  func() *gosseract.Client

	// slots bounds running libtesseract calls, abandoned ones included.
	slots *semaphore.Weighted
	run   func(data []byte, group processor.LanguageGroup, profile processor.ConfigProfile) (string, error)
	list  func() ([]string, error)

	langOnce  sync.Once
	languages map[string]bool
	langErr   error
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	// TessdataPrefix overrides the traineddata directory; empty uses the
	// library default or TESSDATA_PREFIX.
	TessdataPrefix string

	// MaxConcurrent caps simultaneous libtesseract calls; zero means unbounded.
	MaxConcurrent int
}

// NewTesseractOCR creates a new Tesseract engine
func NewTesseractOCR(cfg *TesseractConfig) *TesseractOCR {
	if cfg == nil {
		cfg = &TesseractConfig{}
	}
	t := &TesseractOCR{
		tessdataPrefix: cfg.TessdataPrefix,
		clientFactory:  gosseract.NewClient,
		list:           gosseract.GetAvailableLanguages,
	}
	t.run = t.recognize
	if cfg.MaxConcurrent > 0 {
		t.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return t
}

func (t *TesseractOCR) Name() string { return "tesseract" }

// Probe checks that the library loads and has at least one language.
func (t *TesseractOCR) Probe(ctx context.Context) error {
	langs, err := t.availableLanguages()
	if err != nil {
		return err
	}
	if len(langs) == 0 {
		return fmt.Errorf("%w: no traineddata installed", processor.ErrEngineUnavailable)
	}
	return nil
}

// Languages lists the installed language codes.
func (t *TesseractOCR) Languages() ([]string, error) {
	langs, err := t.availableLanguages()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(langs))
	for code := range langs {
		out = append(out, code)
	}
	return out, nil
}

// Version returns the linked libtesseract version.
func (t *TesseractOCR) Version() string {
	return gosseract.Version()
}

// Recognize runs one recognition pass over pixels.
func (t *TesseractOCR) Recognize(ctx context.Context, pixels *image.Gray, group processor.LanguageGroup, profile processor.ConfigProfile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	langs, err := t.availableLanguages()
	if err != nil {
		return "", err
	}
	for _, code := range group.Codes {
		if !langs[code] {
			return "", fmt.Errorf("%w: %s", processor.ErrUnsupportedLanguage, code)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, pixels); err != nil {
		return "", fmt.Errorf("encode variant: %w", err)
	}

	if t.slots != nil {
		if err := t.slots.Acquire(ctx, 1); err != nil {
			return "", err
		}
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if t.slots != nil {
			defer t.slots.Release(1)
		}
		text, err := t.run(buf.Bytes(), group, profile)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

func (t *TesseractOCR) recognize(data []byte, group processor.LanguageGroup, profile processor.ConfigProfile) (string, error) {
	client := t.clientFactory()
	defer client.Close()

	if t.tessdataPrefix != "" {
		client.SetTessdataPrefix(t.tessdataPrefix)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if len(group.Codes) > 0 {
		if err := client.SetLanguage(group.Codes...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if profile.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(profile.PageSegMode)); err != nil {
			return "", fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	for k, v := range profile.Variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return "", fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (t *TesseractOCR) availableLanguages() (map[string]bool, error) {
	t.langOnce.Do(func() {
		codes, err := t.list()
		if err != nil {
			t.langErr = fmt.Errorf("%w: %v", processor.ErrEngineUnavailable, err)
			return
		}
		t.languages = make(map[string]bool, len(codes))
		for _, c := range codes {
			if c != "osd" {
				t.languages[c] = true
			}
		}
	})
	return t.languages, t.langErr
}
