// Package events defines the message contracts between the capture service,
// this OCR worker, and the downstream expense classifier.
package events

import "time"

// EventHeader contains metadata common to all events.
type EventHeader struct {
	Timestamp  time.Time `json:"Timestamp"`
	WorkflowID string    `json:"WorkflowID"`
	UserID     string    `json:"UserID"`
	TenantID   string    `json:"TenantID"`
	EventID    string    `json:"EventID"`
}

// ReceiptScannedEvent is published when a receipt photograph has been
// captured and stored in the receipt object bucket.
type ReceiptScannedEvent struct {
	Header     EventHeader `json:"Header"`
	ReceiptKey string      `json:"ReceiptKey"`
	// RetryOverride replaces the worker's configured retry budget for
	// this receipt when set.
	RetryOverride *int `json:"RetryOverride,omitempty"`
}

// ReceiptTextRecognizedEvent is published after OCR has run on a receipt.
// Failures are regular outcomes here: a downstream consumer still needs to
// know recognition gave up so it can prompt the user to re-shoot.
type ReceiptTextRecognizedEvent struct {
	Header     EventHeader `json:"Header"`
	ReceiptKey string      `json:"ReceiptKey"`
	// ResultKey locates the stored recognition artifact. Empty when
	// Success is false.
	ResultKey string `json:"ResultKey,omitempty"`
	Success   bool   `json:"Success"`
	// Confidence is the overall recognition confidence in [0.0, 1.0],
	// omitted when the recognizer reported none.
	Confidence   *float64 `json:"Confidence,omitempty"`
	ErrorMessage string   `json:"ErrorMessage,omitempty"`
}
