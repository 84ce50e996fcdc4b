package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestExtractReportsUnreadableFile(t *testing.T) {
	path := writeTemp(t, "note.txt", []byte("not an image at all"))

	var out bytes.Buffer
	err := runExtract(context.Background(), &out, path, &extractOptions{})
	require.NoError(t, err)
	assert.Equal(t, processor.MessageDecodeFailed+"\n", out.String())
}

func TestExtractJSONOutput(t *testing.T) {
	path := writeTemp(t, "note.txt", []byte("garbage"))

	var out bytes.Buffer
	require.NoError(t, runExtract(context.Background(), &out, path, &extractOptions{json: true, lang: "amh"}))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "error", decoded["status"])
	assert.Equal(t, "amh", decoded["languageGroup"])
}

func TestExtractRejectsUnknownPreset(t *testing.T) {
	path := writeTemp(t, "x.png", []byte("x"))
	err := runExtract(context.Background(), &bytes.Buffer{}, path, &extractOptions{preset: "turbo"})
	assert.Error(t, err)
}

func TestExtractMissingFile(t *testing.T) {
	err := runExtract(context.Background(), &bytes.Buffer{}, filepath.Join(t.TempDir(), "missing.png"), &extractOptions{})
	assert.Error(t, err)
}

func TestEnqueueRequiresRedis(t *testing.T) {
	err := runEnqueue(context.Background(), &bytes.Buffer{}, "unused.png", &enqueueOptions{})
	assert.ErrorContains(t, err, "redis URL is required")
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["extract"])
	assert.True(t, names["enqueue"])
	assert.True(t, names["stats"])
	assert.True(t, names["job"])

	root.SetArgs([]string{"extract"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute(), "extract needs an image argument")
}

func TestPrintStats(t *testing.T) {
	var out bytes.Buffer
	err := printStats(&out, "42", &storage.UserStats{
		TotalRequests:   4,
		SuccessCount:    3,
		SuccessRate:     75,
		AvgProcessingMs: 1840,
		Recent: []storage.RequestLog{
			{JobID: "job-1", Status: "success", LanguageGroup: "eng", TextLength: 12, ProcessingTimeMs: 1500},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "4 requests, 75.0% success, avg 1840 ms")
	assert.Contains(t, out.String(), "job-1")
}

func TestPrintJob(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJob(&out, map[string]interface{}{
		"id":        "0b9c",
		"status":    "completed",
		"errorCode": "NO_USABLE_TEXT",
	}))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "completed", decoded["status"])
	assert.Equal(t, "NO_USABLE_TEXT", decoded["errorCode"])
}

func TestJobRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cmd := newJobCmd()
	cmd.SetArgs([]string{"0b9c"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.ErrorContains(t, cmd.Execute(), "database URL is required")
}
