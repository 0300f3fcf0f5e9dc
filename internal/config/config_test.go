package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/receipt-ocr-service/internal/config"
	"github.com/finsight/receipt-ocr-service/internal/ocr"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_FullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
[service]
log_dir = "/var/log/receipt-ocr"

[ocr]
languages = ["eng", "deu"]
max_retries = 4
attempt_timeout_seconds = 8
max_image_bytes = 5242880
max_dimension_pixels = 1024
jpeg_quality = 70
settle_delay_milliseconds = 250
retry_backoff_milliseconds = 750

[nats]
url = "nats://localhost:4222"
stream = "RECEIPT_OCR"
scanned_subject = "receipt.scanned"
consumer = "receipt-ocr-workers"
recognized_subject = "receipt.text.recognized"
dead_letter_subject = "receipt.ocr.deadletter"
receipt_bucket = "RECEIPT_IMAGES"
result_bucket = "RECEIPT_OCR_RESULTS"
`)

	cfg, err := config.Load(path, newTestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "/var/log/receipt-ocr", cfg.Service.LogDir)
	assert.Equal(t, []string{"eng", "deu"}, cfg.OCR.Languages)
	assert.Equal(t, "RECEIPT_OCR", cfg.NATS.StreamName)
	assert.Equal(t, "receipt.scanned", cfg.NATS.ScannedSubject)
	assert.Equal(t, "RECEIPT_IMAGES", cfg.NATS.ReceiptBucket)

	pipelineConfig := cfg.OCRConfig()
	assert.Equal(t, 4, pipelineConfig.MaxRetries)
	assert.Equal(t, 8*time.Second, pipelineConfig.AttemptTimeout)
	assert.Equal(t, int64(5242880), pipelineConfig.MaxImageBytes)
	assert.Equal(t, 1024, pipelineConfig.MaxDimensionPixels)
	assert.Equal(t, 70, pipelineConfig.JPEGQuality)
	assert.Equal(t, 250*time.Millisecond, pipelineConfig.SettleDelay)
	assert.Equal(t, 750*time.Millisecond, pipelineConfig.RetryBackoff)
}

func TestLoad_BackfillsDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
[service]
log_dir = "/tmp/logs"

[nats]
url = "nats://localhost:4222"
`)

	cfg, err := config.Load(path, newTestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"eng"}, cfg.OCR.Languages)

	defaults := ocr.DefaultConfig()
	assert.Equal(t, defaults, cfg.OCRConfig())
}

func TestLoad_PartialOCRSection(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
[ocr]
max_retries = 1
jpeg_quality = 60
`)

	cfg, err := config.Load(path, newTestLogger(t))
	require.NoError(t, err)

	pipelineConfig := cfg.OCRConfig()

	// Configured values win; everything else falls back.
	assert.Equal(t, 1, pipelineConfig.MaxRetries)
	assert.Equal(t, 60, pipelineConfig.JPEGQuality)
	assert.Equal(t, ocr.DefaultAttemptTimeout, pipelineConfig.AttemptTimeout)
	assert.Equal(t, int64(ocr.DefaultMaxImageBytes), pipelineConfig.MaxImageBytes)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"), newTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.toml")
}

func TestLoad_MalformedTOML(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "[ocr\nmax_retries = ")

	_, err := config.Load(path, newTestLogger(t))
	require.Error(t, err)
}

func TestGetLogFilePath(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Service: config.ServiceSettings{LogDir: "/var/log/receipt-ocr"},
	}

	assert.Equal(
		t,
		"/var/log/receipt-ocr/service.log",
		cfg.GetLogFilePath("service.log"),
	)
}
