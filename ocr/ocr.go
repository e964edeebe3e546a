// Package ocr defines the abstraction layer for plugging text-recognition
// engines into the processing pipeline without coupling it to a concrete
// backend. Engines hand out short-lived recognition sessions; the pipeline
// opens one session per image, binds the image, runs one or more extraction
// passes in different segmentation modes, and closes the session.
package ocr

import "errors"

// ErrEngineInit reports that a recognition session could not be constructed.
// Callers treat it as a recoverable, per-request condition rather than a
// fatal one.
var ErrEngineInit = errors.New("ocr: engine initialization failed")

// Mode selects the page segmentation strategy for an extraction pass.
type Mode int

const (
	// ModeSingleBlock assumes the image is a single uniform block of text.
	ModeSingleBlock Mode = iota
	// ModeSingleWord assumes the image contains a single word. Used as a
	// second pass when block segmentation yields nothing usable.
	ModeSingleWord
)

// String returns a stable name for logging.
func (m Mode) String() string {
	switch m {
	case ModeSingleBlock:
		return "single_block"
	case ModeSingleWord:
		return "single_word"
	default:
		return "unknown"
	}
}

// Client is one recognition session. A session binds one image at a time and
// may switch segmentation modes between extraction passes over that image.
// Sessions are not safe for concurrent use and must be closed by their owner.
type Client interface {
	// SetImage binds encoded image bytes (PNG, JPEG, ...) as the input for
	// subsequent Text calls.
	SetImage(data []byte) error

	// SetMode selects the segmentation mode for subsequent Text calls.
	SetMode(mode Mode) error

	// Text runs recognition on the bound image and returns the raw extracted
	// text, including whatever whitespace and non-ASCII bytes the engine
	// produced.
	Text() (string, error)

	// Close releases the session's native resources.
	Close() error
}

// Engine opens recognition sessions. Implementations must be safe for
// concurrent use by multiple workers; the sessions they return need not be.
type Engine interface {
	// Name identifies the backend for logging and diagnostics.
	Name() string

	// NewClient opens a fresh recognition session. Implementations should
	// wrap construction failures with ErrEngineInit so callers can map them
	// to a recoverable outcome.
	NewClient() (Client, error)
}
