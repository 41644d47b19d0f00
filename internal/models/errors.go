package models

import "errors"

// Error taxonomy shared by the engine, storage, and transport layers.
// Wrap with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	// ErrEmbedding means the embedder failed or timed out. Retryable.
	ErrEmbedding = errors.New("embedding failure")
	// ErrEmptyContent means the content produced no paragraphs.
	ErrEmptyContent = errors.New("empty content")
	// ErrNotFound means the referenced note does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStorage means the store was unavailable or a transaction failed. The operation was not applied.
	ErrStorage = errors.New("storage failure")
	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidInput means a request failed validation.
	ErrInvalidInput = errors.New("invalid input")
)
