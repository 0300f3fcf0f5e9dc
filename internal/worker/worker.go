// Package worker provides the NATS worker that feeds receipt images through
// the recognition pipeline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/finsight/receipt-ocr-service/internal/events"
	"github.com/finsight/receipt-ocr-service/internal/ocr"
)

const (
	// NatsConnectTimeoutSeconds defines the timeout for NATS connection attempts.
	NatsConnectTimeoutSeconds = 10
	// NatsMaxReconnectAttempts defines the maximum number of reconnect attempts for NATS.
	NatsMaxReconnectAttempts = 5
	// NatsFetchMaxWaitSeconds defines the maximum time to wait for messages during a fetch operation.
	NatsFetchMaxWaitSeconds = 5
)

// Recognizer is the slice of the OCR pipeline the worker depends on.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) ocr.Result
	RecognizeWithRetries(ctx context.Context, imagePath string, maxRetries int) ocr.Result
}

// RecognitionArtifact is the JSON document stored for each recognized
// receipt: the structured result plus a sanitized plain-text rendering for
// indexing and search.
type RecognitionArtifact struct {
	Result    ocr.Result `json:"result"`
	CleanText string     `json:"clean_text"`
}

// NatsWorker manages the NATS connection and message consumption.
type NatsWorker struct {
	nc                *nats.Conn
	jetstream         nats.JetStreamContext
	receiptStore      nats.ObjectStore
	resultStore       nats.ObjectStore
	recognizer        Recognizer
	logger            *logger.Logger
	streamName        string
	subject           string
	consumer          string
	outputSubject     string
	deadLetterSubject string
}

// New creates a NatsWorker bound to the given stream, consumer, and object
// store buckets.
func New(
	natsURL, streamName, subject, consumer, outputSubject, deadLetterSubject string,
	receiptBucket, resultBucket string,
	recognizer Recognizer,
	log *logger.Logger,
) (*NatsWorker, error) {
	natsConn, err := nats.Connect(
		natsURL,
		nats.Timeout(NatsConnectTimeoutSeconds*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(NatsMaxReconnectAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Infof("Connected to NATS server at %s", natsURL)

	jetstream, err := natsConn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	_, streamInfoErr := jetstream.StreamInfo(streamName)
	if streamInfoErr != nil {
		return nil, fmt.Errorf("stream '%s' not found: %w", streamName, streamInfoErr)
	}

	receiptStore, err := jetstream.ObjectStore(receiptBucket)
	if err != nil {
		return nil, fmt.Errorf("bind receipt bucket '%s': %w", receiptBucket, err)
	}

	resultStore, err := jetstream.ObjectStore(resultBucket)
	if err != nil {
		return nil, fmt.Errorf("bind result bucket '%s': %w", resultBucket, err)
	}

	return &NatsWorker{
		nc:                natsConn,
		jetstream:         jetstream,
		receiptStore:      receiptStore,
		resultStore:       resultStore,
		recognizer:        recognizer,
		logger:            log,
		streamName:        streamName,
		subject:           subject,
		consumer:          consumer,
		outputSubject:     outputSubject,
		deadLetterSubject: deadLetterSubject,
	}, nil
}

// Run starts the worker's message processing loop.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.jetstream.PullSubscribe(
		w.subject,
		w.consumer,
		nats.BindStream(w.streamName),
	)
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}

	w.logger.Infof("Consumer '%s' is ready.", w.consumer)
	w.logger.Infof("Worker is running, listening for receipts on '%s'...", w.subject)

	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("Context canceled, worker shutting down.")

			return nil
		default:
			msgs, fetchErr := sub.Fetch(1, nats.MaxWait(NatsFetchMaxWaitSeconds*time.Second))
			if fetchErr != nil {
				if errors.Is(fetchErr, nats.ErrTimeout) {
					continue // No messages, just loop again.
				}

				w.logger.Errorf("Fetch messages: %v", fetchErr)

				continue
			}

			if len(msgs) > 0 {
				w.handleMsg(ctx, msgs[0])
			}
		}
	}
}

// Close releases the NATS connection.
func (w *NatsWorker) Close() {
	w.nc.Close()
}

func (w *NatsWorker) handleMsg(ctx context.Context, msg *nats.Msg) {
	startTime := time.Now()

	var event events.ReceiptScannedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil || event.ReceiptKey == "" {
		w.discardMalformedMsg(msg, err)

		return
	}

	w.logger.Infof("Processing receipt: %s", event.ReceiptKey)

	outEvent, processErr := w.processReceipt(ctx, &event)
	if processErr != nil {
		w.deadLetterMsg(msg, event.ReceiptKey, processErr)

		return
	}

	publishErr := w.publishRecognized(outEvent)
	if publishErr != nil {
		w.deadLetterMsg(msg, event.ReceiptKey, publishErr)

		return
	}

	if outEvent.Success {
		w.logger.Successf(
			"Recognized %s -> %s in %s",
			event.ReceiptKey,
			outEvent.ResultKey,
			time.Since(startTime),
		)
	} else {
		w.logger.Warnf(
			"Recognition gave up on %s: %s",
			event.ReceiptKey,
			outEvent.ErrorMessage,
		)
	}

	ackErr := msg.Ack()
	if ackErr != nil {
		w.logger.Errorf(
			"failed to acknowledge message for receipt %s: %v",
			event.ReceiptKey,
			ackErr,
		)
	}
}

// processReceipt downloads the receipt image, runs the pipeline, and stores
// the artifact. OCR giving up is a regular outcome reported in the returned
// event; only infrastructure failures return an error.
func (w *NatsWorker) processReceipt(
	ctx context.Context,
	event *events.ReceiptScannedEvent,
) (*events.ReceiptTextRecognizedEvent, error) {
	imagePath, cleanup, err := w.downloadReceipt(event.ReceiptKey)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	result := w.recognize(ctx, event, imagePath)

	outEvent := &events.ReceiptTextRecognizedEvent{
		Header:       nextHeader(event.Header),
		ReceiptKey:   event.ReceiptKey,
		ResultKey:    "",
		Success:      result.Success,
		Confidence:   result.Confidence,
		ErrorMessage: result.ErrorMessage,
	}

	if !result.Success {
		return outEvent, nil
	}

	resultKey, storeErr := w.storeArtifact(event, result)
	if storeErr != nil {
		return nil, storeErr
	}

	outEvent.ResultKey = resultKey

	return outEvent, nil
}

func (w *NatsWorker) recognize(
	ctx context.Context,
	event *events.ReceiptScannedEvent,
	imagePath string,
) ocr.Result {
	if event.RetryOverride != nil {
		return w.recognizer.RecognizeWithRetries(ctx, imagePath, *event.RetryOverride)
	}

	return w.recognizer.Recognize(ctx, imagePath)
}

// downloadReceipt writes the stored receipt image to a temporary file. The
// returned cleanup removes it once recognition is done.
func (w *NatsWorker) downloadReceipt(receiptKey string) (string, func(), error) {
	object, err := w.receiptStore.Get(receiptKey)
	if err != nil {
		return "", nil, fmt.Errorf("get receipt '%s' from object store: %w", receiptKey, err)
	}

	defer func() {
		closeErr := object.Close()
		if closeErr != nil {
			w.logger.Errorf("failed to close receipt object: %v", closeErr)
		}
	}()

	tmpFile, err := os.CreateTemp("", "receipt-*"+filepath.Ext(receiptKey))
	if err != nil {
		return "", nil, fmt.Errorf("create temporary receipt file: %w", err)
	}

	_, copyErr := io.Copy(tmpFile, object)

	closeErr := tmpFile.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpFile.Name())

		return "", nil, fmt.Errorf(
			"write temporary receipt file for '%s': copy: %v, close: %v",
			receiptKey, copyErr, closeErr,
		)
	}

	cleanup := func() {
		removeErr := os.Remove(tmpFile.Name())
		if removeErr != nil && !os.IsNotExist(removeErr) {
			w.logger.Warnf("failed to remove temporary receipt file: %v", removeErr)
		}
	}

	return tmpFile.Name(), cleanup, nil
}

// storeArtifact uploads the recognition artifact and returns its key.
func (w *NatsWorker) storeArtifact(
	event *events.ReceiptScannedEvent,
	result ocr.Result,
) (string, error) {
	artifact := RecognitionArtifact{
		Result:    result,
		CleanText: SanitizeText(result.RawText),
	}

	payload, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("marshal recognition artifact: %w", err)
	}

	resultKey := fmt.Sprintf(
		"%s/%s/ocr_%s.json",
		event.Header.TenantID,
		event.Header.WorkflowID,
		uuid.NewString(),
	)

	_, putErr := w.resultStore.PutBytes(resultKey, payload)
	if putErr != nil {
		return "", fmt.Errorf("upload recognition artifact: %w", putErr)
	}

	return resultKey, nil
}

func (w *NatsWorker) publishRecognized(event *events.ReceiptTextRecognizedEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ReceiptTextRecognizedEvent: %w", err)
	}

	_, publishErr := w.jetstream.Publish(w.outputSubject, eventJSON)
	if publishErr != nil {
		return fmt.Errorf("publish ReceiptTextRecognizedEvent: %w", publishErr)
	}

	return nil
}

// discardMalformedMsg acknowledges a message that can never be processed so
// it is not redelivered forever.
func (w *NatsWorker) discardMalformedMsg(msg *nats.Msg, unmarshalErr error) {
	w.logger.Errorf(
		"Malformed ReceiptScannedEvent: %v. Acknowledging to discard.",
		unmarshalErr,
	)

	ackErr := msg.Ack()
	if ackErr != nil {
		w.logger.Errorf("failed to acknowledge malformed message: %v", ackErr)
	}
}

func (w *NatsWorker) deadLetterMsg(msg *nats.Msg, receiptKey string, processErr error) {
	w.logger.Errorf("Processing failed for '%s': %v", receiptKey, processErr)

	_, pubErr := w.jetstream.Publish(w.deadLetterSubject, msg.Data)
	if pubErr != nil {
		w.logger.Errorf(
			"Failed to publish message to dead-letter subject for receipt %s: %v",
			receiptKey,
			pubErr,
		)
	}

	ackErr := msg.Ack()
	if ackErr != nil {
		w.logger.Errorf(
			"failed to acknowledge failed message for receipt %s: %v",
			receiptKey,
			ackErr,
		)
	}
}

// nextHeader derives the header for a produced event from the consumed one,
// keeping workflow, user, and tenant identity.
func nextHeader(source events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: source.WorkflowID,
		UserID:     source.UserID,
		TenantID:   source.TenantID,
		EventID:    uuid.NewString(),
	}
}
