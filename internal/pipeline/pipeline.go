// Package pipeline assembles the recognition stack from configuration.
package pipeline

import (
	"fmt"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/processor/tesseract"
)

// Pipeline owns the engine, its worker pool and the orchestrator on top.
type Pipeline struct {
	Engine       *tesseract.TesseractOCR
	Executor     *processor.Executor
	Orchestrator *processor.Orchestrator
}

// Options resolves the preset named in cfg and applies cfg's overrides.
func Options(cfg config.OCRConfig) (processor.Options, error) {
	opts, err := processor.PresetOptions(cfg.Preset)
	if err != nil {
		return processor.Options{}, err
	}
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.ProcessingTimeout > 0 {
		opts.Timeout = cfg.ProcessingTimeout
	}
	if cfg.DefaultLanguages != "" {
		opts.DefaultLanguages = cfg.DefaultLanguages
	}
	return opts, nil
}

// New builds a pipeline on the tesseract engine.
func New(cfg config.OCRConfig, logger *logging.Logger) (*Pipeline, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}

	// The engine shares the pool's width so abandoned calls still count against it.
	engine := tesseract.NewTesseractOCR(&tesseract.TesseractConfig{
		TessdataPrefix: cfg.TessdataPrefix,
		MaxConcurrent:  cfg.PoolSize,
	})

	executor, err := processor.NewExecutor(engine, cfg.PoolSize, cfg.AttemptTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	orchestrator, err := processor.NewOrchestrator(executor, opts, logger)
	if err != nil {
		executor.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &Pipeline{Engine: engine, Executor: executor, Orchestrator: orchestrator}, nil
}

// Close releases the worker pool.
func (p *Pipeline) Close() {
	p.Executor.Close()
}
