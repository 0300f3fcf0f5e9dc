package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

var (
	// ErrImageNotFound indicates the input image file does not exist.
	ErrImageNotFound = errors.New("image file not found")
	// ErrImageEmpty indicates the input image file has no content.
	ErrImageEmpty = errors.New("image file is empty")
	// ErrImageTooLarge indicates the input image exceeds the configured
	// size limit. Oversized images are a known hang trigger for the native
	// recognizer and are rejected before it is ever invoked.
	ErrImageTooLarge = errors.New("image exceeds maximum size")
	// ErrRecognitionTimeout indicates the native call did not return
	// within the attempt timeout.
	ErrRecognitionTimeout = errors.New("recognition timed out")
)

// OutcomeKind classifies the result of a single recognition attempt.
type OutcomeKind int

const (
	// OutcomeSuccess means the native call returned recognized blocks.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeTimeout means the attempt timeout elapsed first. The native
	// call was abandoned, not cancelled; the handle must be torn down.
	OutcomeTimeout
	// OutcomeError means the attempt failed for any other reason.
	OutcomeError
)

// Outcome is the typed result of one attempt.
type Outcome struct {
	Kind   OutcomeKind
	Blocks []RawBlock
	Err    error
}

// Executor drives a single recognition call against a live engine with a
// hard wall-clock timeout.
type Executor struct {
	timeout  time.Duration
	maxBytes int64
	logger   *logger.Logger
}

// NewExecutor creates an attempt executor with the given per-attempt timeout
// and input size limit.
func NewExecutor(timeout time.Duration, maxBytes int64, log *logger.Logger) *Executor {
	return &Executor{
		timeout:  timeout,
		maxBytes: maxBytes,
		logger:   log,
	}
}

// Run executes one recognition attempt on the working image.
//
// The native call races a timer. If the timer fires first, the call is
// abandoned: the goroutine driving it is left to finish into a buffered
// channel, and the caller must not trust any native state afterwards — the
// handle has to be torn down before the next attempt.
//
// The working file is deleted on every exit path, but only when it differs
// from the source path; caller-owned originals are never deleted.
func (e *Executor) Run(ctx context.Context, sourcePath, workingPath string, engine Engine) Outcome {
	defer e.cleanupWorkingFile(sourcePath, workingPath)

	err := e.validateWorkingFile(workingPath)
	if err != nil {
		return Outcome{Kind: OutcomeError, Blocks: nil, Err: err}
	}

	type reply struct {
		blocks []RawBlock
		err    error
	}

	// Buffered so the abandoned goroutine can complete after a timeout
	// without anyone listening.
	replyCh := make(chan reply, 1)

	go func() {
		blocks, recognizeErr := engine.Recognize(workingPath)
		replyCh <- reply{blocks: blocks, err: recognizeErr}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case res := <-replyCh:
		if res.err != nil {
			return Outcome{
				Kind:   OutcomeError,
				Blocks: nil,
				Err:    errors.New(cleanErrorMessage(res.err)),
			}
		}

		return Outcome{Kind: OutcomeSuccess, Blocks: res.blocks, Err: nil}
	case <-timer.C:
		e.logger.Warnf(
			"Recognition of %s exceeded %v, abandoning native call",
			filepath.Base(workingPath),
			e.timeout,
		)

		return Outcome{
			Kind:   OutcomeTimeout,
			Blocks: nil,
			Err:    fmt.Errorf("%w after %v", ErrRecognitionTimeout, e.timeout),
		}
	case <-ctx.Done():
		return Outcome{
			Kind:   OutcomeError,
			Blocks: nil,
			Err:    fmt.Errorf("attempt cancelled: %w", ctx.Err()),
		}
	}
}

// validateWorkingFile rejects missing, empty, and oversized inputs before the
// engine is touched. No timeout applies to these checks.
func (e *Executor) validateWorkingFile(workingPath string) error {
	info, err := os.Stat(workingPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrImageNotFound, workingPath)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrImageEmpty, workingPath)
	}

	if info.Size() > e.maxBytes {
		return fmt.Errorf(
			"image is %d bytes, exceeding the %d byte limit: %w",
			info.Size(),
			e.maxBytes,
			ErrImageTooLarge,
		)
	}

	return nil
}

// cleanupWorkingFile removes the preprocessed working copy. Runs on every
// exit path of an attempt.
func (e *Executor) cleanupWorkingFile(sourcePath, workingPath string) {
	if workingPath == sourcePath {
		return
	}

	err := os.Remove(workingPath)
	if err != nil && !os.IsNotExist(err) {
		e.logger.Warnf("Failed to remove working file %s: %v", workingPath, err)
	}
}

// cleanErrorMessage strips native wrapper noise from an engine error so the
// surfaced message names the actual condition.
func cleanErrorMessage(err error) string {
	message := err.Error()
	message = strings.ReplaceAll(message, "\n", " ")
	message = strings.TrimPrefix(message, "Error: ")
	message = strings.TrimPrefix(message, "error: ")

	return strings.TrimSpace(message)
}
