package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emissionary/backend/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "emissions.csv")
	csv := "food name,category,emission factor\nmilk,dairy,1.4\nbread,grains,1.3\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	return &config.Config{
		OCR:     config.OCRConfig{BaseURL: "http://127.0.0.1:1", MaxImageBytes: 1 << 20},
		Dataset: config.DatasetConfig{Path: path},
		Pipeline: config.PipelineConfig{
			Workers:           2,
			MinQualityScore:   3,
			FuzzyThreshold:    0.7,
			MaxEmissionFactor: 150,
			RetryMaxAttempts:  2,
			RetryBaseDelay:    10 * time.Millisecond,
		},
		Cache: config.CacheConfig{Type: "memory", TTL: time.Hour},
	}
}

func TestNew_WithoutModel(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.LLM)
	assert.Equal(t, 2, a.Store.Len())

	result, err := a.Service.ProcessText(context.Background(), "MILK 3.49\nBREAD 2.50\nTOTAL 5.99")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.InDelta(t, 2.7, result.TotalCarbonEmissionsKg, 1e-9)
}

func TestNew_WithModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM = config.LLMConfig{APIKey: "gsk-test", BaseURL: "http://127.0.0.1:1/v1", Model: "llama-3.1-8b-instant"}

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.LLM)
	assert.Equal(t, "llama-3.1-8b-instant", a.LLM.Model())
}

func TestNew_MissingDataset(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dataset.Path = filepath.Join(t.TempDir(), "missing.csv")

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load dataset")
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy(config.PipelineConfig{RetryMaxAttempts: 5, RetryBaseDelay: time.Second})
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 8*time.Second, p.MaxDelay)

	p = RetryPolicy(config.PipelineConfig{})
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
}

func TestLogConfig(t *testing.T) {
	lc := LogConfig(config.LogConfig{Level: "debug", Format: "json"})
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "stdout", lc.Output)
}
