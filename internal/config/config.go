// Package config loads the service configuration from project.toml and
// backfills unset values with the pipeline defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/finsight/receipt-ocr-service/internal/ocr"
)

const DefaultConfigFilename = "project.toml"

type Config struct {
	Service ServiceSettings `toml:"service"`
	OCR     OCRSettings     `toml:"ocr"`
	NATS    NATSSettings    `toml:"nats"`
}

type ServiceSettings struct {
	LogDir string `toml:"log_dir"`
}

// OCRSettings exposes every pipeline threshold. Unset (zero) values fall
// back to the defaults the pipeline was tuned with; see ocr.DefaultConfig.
type OCRSettings struct {
	// Languages lists the Tesseract language codes to recognize.
	Languages []string `toml:"languages"`
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `toml:"max_retries"`
	// AttemptTimeoutSeconds bounds a single native recognition call.
	AttemptTimeoutSeconds int `toml:"attempt_timeout_seconds"`
	// MaxImageBytes rejects larger input images outright.
	MaxImageBytes int64 `toml:"max_image_bytes"`
	// MaxDimensionPixels bounds the longest image side before recognition.
	MaxDimensionPixels int `toml:"max_dimension_pixels"`
	// JPEGQuality is the re-encode quality of the preprocessed copy.
	JPEGQuality int `toml:"jpeg_quality"`
	// SettleDelayMilliseconds is observed between recognizer teardown and
	// the next creation.
	SettleDelayMilliseconds int `toml:"settle_delay_milliseconds"`
	// RetryBackoffMilliseconds is the linear backoff base between
	// attempts.
	RetryBackoffMilliseconds int `toml:"retry_backoff_milliseconds"`
}

type NATSSettings struct {
	URL               string `toml:"url"`
	StreamName        string `toml:"stream"`
	ScannedSubject    string `toml:"scanned_subject"`
	ConsumerName      string `toml:"consumer"`
	RecognizedSubject string `toml:"recognized_subject"`
	DeadLetterSubject string `toml:"dead_letter_subject"`
	ReceiptBucket     string `toml:"receipt_bucket"`
	ResultBucket      string `toml:"result_bucket"`
}

// Load reads the configuration file, falling back to DefaultConfigFilename
// when filePath is empty, and backfills unset OCR values with the pipeline
// defaults.
func Load(filePath string, loggerInstance *logger.Logger) (*Config, error) {
	if filePath == "" {
		filePath = DefaultConfigFilename
	}

	configFile, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file '%s': %w", filePath, err)
	}
	defer func() {
		closeErr := configFile.Close()
		if closeErr != nil && loggerInstance != nil {
			loggerInstance.Warnf("Failed to close config file: %v", closeErr)
		}
	}()

	var configuration Config

	decoder := toml.NewDecoder(configFile)

	err = decoder.Decode(&configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML configuration: %w", err)
	}

	configuration.applyDefaults()

	return &configuration, nil
}

// OCRConfig converts the loaded settings into the pipeline's Config.
func (c *Config) OCRConfig() ocr.Config {
	return ocr.Config{
		MaxRetries:         c.OCR.MaxRetries,
		AttemptTimeout:     time.Duration(c.OCR.AttemptTimeoutSeconds) * time.Second,
		MaxImageBytes:      c.OCR.MaxImageBytes,
		MaxDimensionPixels: c.OCR.MaxDimensionPixels,
		JPEGQuality:        c.OCR.JPEGQuality,
		SettleDelay:        time.Duration(c.OCR.SettleDelayMilliseconds) * time.Millisecond,
		RetryBackoff:       time.Duration(c.OCR.RetryBackoffMilliseconds) * time.Millisecond,
	}
}

func (c *Config) GetLogFilePath(filename string) string {
	return filepath.Join(c.Service.LogDir, filename)
}

// applyDefaults backfills unset values. MaxRetries stays as configured even
// when zero would be meant literally; a literal zero-retry budget is passed
// per request through the RetryOverride event field instead.
func (c *Config) applyDefaults() {
	defaults := ocr.DefaultConfig()

	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"eng"}
	}

	if c.OCR.MaxRetries == 0 {
		c.OCR.MaxRetries = defaults.MaxRetries
	}

	if c.OCR.AttemptTimeoutSeconds == 0 {
		c.OCR.AttemptTimeoutSeconds = int(defaults.AttemptTimeout / time.Second)
	}

	if c.OCR.MaxImageBytes == 0 {
		c.OCR.MaxImageBytes = defaults.MaxImageBytes
	}

	if c.OCR.MaxDimensionPixels == 0 {
		c.OCR.MaxDimensionPixels = defaults.MaxDimensionPixels
	}

	if c.OCR.JPEGQuality == 0 {
		c.OCR.JPEGQuality = defaults.JPEGQuality
	}

	if c.OCR.SettleDelayMilliseconds == 0 {
		c.OCR.SettleDelayMilliseconds = int(defaults.SettleDelay / time.Millisecond)
	}

	if c.OCR.RetryBackoffMilliseconds == 0 {
		c.OCR.RetryBackoffMilliseconds = int(defaults.RetryBackoff / time.Millisecond)
	}
}
