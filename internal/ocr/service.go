package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
)

const (
	// DefaultMaxRetries allows two retries after the initial attempt.
	DefaultMaxRetries = 2
	// DefaultAttemptTimeout bounds a single native recognition call.
	DefaultAttemptTimeout = 5 * time.Second
	// DefaultMaxImageBytes rejects inputs above 10 MB; larger receipts are
	// a known hang trigger for the native recognizer.
	DefaultMaxImageBytes = 10 * 1024 * 1024
	// DefaultMaxDimensionPixels bounds the longest image side before
	// recognition.
	DefaultMaxDimensionPixels = 2048
	// DefaultJPEGQuality is the re-encode quality of the working copy.
	DefaultJPEGQuality = 85
	// DefaultSettleDelay is observed between recognizer teardown and the
	// next creation.
	DefaultSettleDelay = 100 * time.Millisecond
	// DefaultRetryBackoff is the linear backoff base between attempts:
	// the sleep before attempt n+1 is DefaultRetryBackoff * (n+1).
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Config carries the pipeline thresholds. All values have working defaults;
// see DefaultConfig.
type Config struct {
	MaxRetries         int
	AttemptTimeout     time.Duration
	MaxImageBytes      int64
	MaxDimensionPixels int
	JPEGQuality        int
	SettleDelay        time.Duration
	RetryBackoff       time.Duration
}

// DefaultConfig returns the pipeline defaults tuned for receipt photographs
// on a mobile capture flow.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         DefaultMaxRetries,
		AttemptTimeout:     DefaultAttemptTimeout,
		MaxImageBytes:      DefaultMaxImageBytes,
		MaxDimensionPixels: DefaultMaxDimensionPixels,
		JPEGQuality:        DefaultJPEGQuality,
		SettleDelay:        DefaultSettleDelay,
		RetryBackoff:       DefaultRetryBackoff,
	}
}

// Service is the top-level recognition pipeline. One Service owns one
// recognizer lifecycle; attempts run strictly sequentially.
//
// The design assumes a single caller issuing one request at a time, which
// matches a foreground capture flow. Callers that need concurrent requests
// must serialize whole Recognize calls externally.
type Service struct {
	config       Config
	preprocessor *Preprocessor
	lifecycle    *Lifecycle
	executor     *Executor
	logger       *logger.Logger
}

// NewService wires the pipeline components around the given engine factory.
func NewService(factory EngineFactory, config Config, log *logger.Logger) *Service {
	return &Service{
		config:       config,
		preprocessor: NewPreprocessor(config.MaxDimensionPixels, config.JPEGQuality, log),
		lifecycle:    NewLifecycle(factory, config.SettleDelay, log),
		executor:     NewExecutor(config.AttemptTimeout, config.MaxImageBytes, log),
		logger:       log,
	}
}

// Recognize runs the full pipeline on the image at the given path with the
// configured retry budget.
func (s *Service) Recognize(ctx context.Context, imagePath string) Result {
	return s.RecognizeWithRetries(ctx, imagePath, s.config.MaxRetries)
}

// RecognizeWithRetries runs the full pipeline with an explicit retry budget:
// at most maxRetries+1 attempts are made.
//
// Callers only ever see a success or a failure Result; intermediate retries,
// timeouts, and recognizer recreations are invisible except through elapsed
// latency. On exhaustion the last concrete attempt error is surfaced
// verbatim.
func (s *Service) RecognizeWithRetries(ctx context.Context, imagePath string, maxRetries int) Result {
	startTime := time.Now()

	err := s.validateInput(imagePath)
	if err != nil {
		s.logger.Errorf("Rejected %s: %v", filepath.Base(imagePath), err)

		return Failure(err.Error())
	}

	lastMessage := ""

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.config.RetryBackoff * time.Duration(attempt)

			s.logger.Infof(
				"Retrying %s in %v (attempt %d/%d)",
				filepath.Base(imagePath),
				backoff,
				attempt+1,
				maxRetries+1,
			)

			err = sleepContext(ctx, backoff)
			if err != nil {
				return Failure(err.Error())
			}
		}

		outcome := s.runAttempt(ctx, imagePath)

		if outcome.Kind == OutcomeSuccess {
			result := Aggregate(outcome.Blocks)

			s.logger.Successf(
				"Recognized %s: %d blocks in %v",
				filepath.Base(imagePath),
				len(result.Blocks),
				time.Since(startTime),
			)

			return result
		}

		lastMessage = outcome.Err.Error()

		// A timed-out handle may be mid-recognition on the native side;
		// discard it immediately rather than waiting for the next
		// EnsureFresh.
		if outcome.Kind == OutcomeTimeout {
			s.lifecycle.Teardown()
		}

		s.logger.Warnf(
			"Attempt %d/%d for %s failed: %s",
			attempt+1,
			maxRetries+1,
			filepath.Base(imagePath),
			lastMessage,
		)
	}

	if lastMessage == "" {
		lastMessage = "text recognition failed"
	}

	s.logger.Errorf(
		"Exhausted %d attempts for %s: %s",
		maxRetries+1,
		filepath.Base(imagePath),
		lastMessage,
	)

	return Failure(lastMessage)
}

// Close disposes of the recognizer. Intended for application shutdown; it
// must not be called concurrently with an in-flight Recognize.
func (s *Service) Close() {
	s.lifecycle.Teardown()
}

// runAttempt performs one full preprocess → ensure-fresh → execute cycle.
// The recognizer is recreated on every attempt regardless of how the previous
// one failed; see the lifecycle notes on stale native state.
func (s *Service) runAttempt(ctx context.Context, imagePath string) Outcome {
	workingPath := s.preprocessor.Preprocess(imagePath)

	engine, err := s.lifecycle.EnsureFresh()
	if err != nil {
		// The executor never ran, so the working copy is still ours to
		// clean up.
		s.executor.cleanupWorkingFile(imagePath, workingPath)

		return Outcome{Kind: OutcomeError, Blocks: nil, Err: err}
	}

	return s.executor.Run(ctx, imagePath, workingPath, engine)
}

// validateInput rejects terminal input errors before any recognizer is
// created. These are not retried.
func (s *Service) validateInput(imagePath string) error {
	info, err := os.Stat(imagePath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrImageNotFound, imagePath)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrImageNotFound, imagePath)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrImageEmpty, imagePath)
	}

	if info.Size() > s.config.MaxImageBytes {
		return fmt.Errorf(
			"image is %d bytes, exceeding the %d byte limit: %w",
			info.Size(),
			s.config.MaxImageBytes,
			ErrImageTooLarge,
		)
	}

	return nil
}

// sleepContext sleeps for the given duration unless the context ends first.
func sleepContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("recognition cancelled: %w", ctx.Err())
	}
}
