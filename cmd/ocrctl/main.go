package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/pipeline"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

const appName = "ocrctl"

var Version = "0.1.0"

func main() {
	_ = godotenv.Load(".env.ocr")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Operate the OCR worker: run extractions locally, enqueue jobs, inspect usage",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newExtractCmd(), newEnqueueCmd(), newStatsCmd(), newJobCmd())
	return rootCmd
}

type extractOptions struct {
	lang    string
	preset  string
	timeout time.Duration
	json    bool
	verbose bool
}

func newExtractCmd() *cobra.Command {
	opts := &extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract <image>",
		Short: "Recognize the text in an image file and print it, or print why it failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.lang, "lang", "l", "", "Language preference, e.g. eng+amh or en,ar (default from DEFAULT_LANGUAGES)")
	cmd.Flags().StringVarP(&opts.preset, "preset", "p", "", "Preprocessing preset: enhanced, smart or ultimate (default from OCR_PRESET)")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", 0, "Overall deadline (default from PROCESSING_TIMEOUT)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the full outcome as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log strategy progress to stdout")
	return cmd
}

func runExtract(ctx context.Context, out io.Writer, path string, opts *extractOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	cfg := config.LoadOCRConfig()
	if opts.preset != "" {
		cfg.Preset = opts.preset
	}
	if opts.timeout > 0 {
		cfg.ProcessingTimeout = opts.timeout
		if cfg.AttemptTimeout > opts.timeout {
			cfg.AttemptTimeout = opts.timeout
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if int64(len(data)) > cfg.MaxImageSize {
		return fmt.Errorf("image is %d bytes, limit is %d", len(data), cfg.MaxImageSize)
	}

	logger := logging.Nop()
	if opts.verbose {
		logger = logging.NewLogger(appName)
	}

	ocr, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}
	defer ocr.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	outcome, err := ocr.Orchestrator.Extract(ctx, data, opts.lang)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"status":           outcome.Status,
			"text":             outcome.Text,
			"message":          outcome.Message(),
			"languageGroup":    outcome.LanguageGroup,
			"score":            outcome.Score,
			"strategy":         outcome.Strategy,
			"defect":           outcome.Defect,
			"attempts":         outcome.Attempts,
			"succeeded":        outcome.Succeeded,
			"processingTimeMs": outcome.ProcessingTime.Milliseconds(),
		})
	}

	fmt.Fprintln(out, outcome.Message())
	return nil
}

type enqueueOptions struct {
	user     string
	lang     string
	queue    string
	redisURL string
	timeout  time.Duration
}

func newEnqueueCmd() *cobra.Command {
	opts := &enqueueOptions{}
	cmd := &cobra.Command{
		Use:   "enqueue <image>",
		Short: "Submit an image to the asynq queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "User the request is made for")
	cmd.Flags().StringVarP(&opts.lang, "lang", "l", "", "Language preference")
	cmd.Flags().StringVarP(&opts.queue, "queue", "q", envOr("QUEUE_NAME", "ocr:jobs"), "Queue name")
	cmd.Flags().StringVar(&opts.redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL")
	cmd.Flags().DurationVar(&opts.timeout, "task-timeout", 2*time.Minute, "Task timeout enforced by asynq")
	return cmd
}

func runEnqueue(ctx context.Context, out io.Writer, path string, opts *enqueueOptions) error {
	if opts.redisURL == "" {
		return fmt.Errorf("redis URL is required (--redis-url or REDIS_URL)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	redisOpt, err := asynq.ParseRedisURI(opts.redisURL)
	if err != nil {
		return fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := asynq.NewClient(redisOpt)
	defer client.Close()

	payload := &queue.JobPayload{
		JobID:      uuid.New().String(),
		UserID:     opts.user,
		Filename:   filepath.Base(path),
		FileSize:   int64(len(data)),
		FileBuffer: data,
		Language:   opts.lang,
	}
	task, err := queue.NewExtractTask(payload, opts.queue, opts.timeout)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	info, err := client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueueing task: %w", err)
	}
	fmt.Fprintf(out, "enqueued job %s on queue %s\n", info.ID, info.Queue)
	return nil
}

func newStatsCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "stats <user>",
		Short: "Show a user's request statistics from the request log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("database URL is required (--database-url or DATABASE_URL)")
			}
			sm, err := storage.NewStorageManager(databaseURL)
			if err != nil {
				return err
			}
			defer sm.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			stats, err := sm.GetUserStats(ctx, args[0])
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), args[0], stats)
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL")
	return cmd
}

func printStats(out io.Writer, user string, stats *storage.UserStats) error {
	fmt.Fprintf(out, "user %s: %d requests, %.1f%% success, avg %.0f ms\n",
		user, stats.TotalRequests, stats.SuccessRate, stats.AvgProcessingMs)
	for _, r := range stats.Recent {
		fmt.Fprintf(out, "  %s  %-8s %-10s %5d chars %6d ms\n",
			r.JobID, r.Status, r.LanguageGroup, r.TextLength, r.ProcessingTimeMs)
	}
	return nil
}

func newJobCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show the stored row for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("database URL is required (--database-url or DATABASE_URL)")
			}
			sm, err := storage.NewStorageManager(databaseURL)
			if err != nil {
				return err
			}
			defer sm.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			job, err := sm.GetJobByID(ctx, args[0])
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL")
	return cmd
}

func printJob(out io.Writer, job map[string]interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
