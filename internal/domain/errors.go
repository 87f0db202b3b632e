package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	// ErrEmptyCorpus indicates a summary was requested over zero documents.
	ErrEmptyCorpus = errors.New("no documents found")

	// ErrInvalidInput indicates malformed or out-of-range arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrGeneratorUnavailable indicates no answer generator is configured.
	ErrGeneratorUnavailable = errors.New("answer generator unavailable")

	// ErrStoreClosed is returned by a vector store after Close.
	ErrStoreClosed = errors.New("vector store is closed")
)

// ReadError reports a source file that could not be read or decoded.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// EmptyCorpusError is returned when statistics are requested with no documents loaded.
type EmptyCorpusError struct {
	Root string
}

func (e *EmptyCorpusError) Error() string {
	if e.Root == "" {
		return ErrEmptyCorpus.Error()
	}
	return fmt.Sprintf("%s in %s", ErrEmptyCorpus.Error(), e.Root)
}

func (e *EmptyCorpusError) Unwrap() error { return ErrEmptyCorpus }

// DimensionMismatchError indicates a vector whose length differs from the index dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild the index with --force)", e.Expected, e.Got)
}

// InsertError reports a rejected batch. No entry of the batch was applied,
// so the same batch may be retried.
type InsertError struct {
	Reason string
	Err    error
}

func (e *InsertError) Error() string {
	if e.Err == nil {
		return "insert failed: " + e.Reason
	}
	return fmt.Sprintf("insert failed: %s: %v", e.Reason, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }

// ProviderError wraps a failure of the embedding provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IndexUnavailableError reports a persisted store that cannot be opened or reached.
type IndexUnavailableError struct {
	Backend  string
	Location string
	Err      error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("%s index at %s unavailable: %v", e.Backend, e.Location, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// GenerationError wraps a failure of the answer generator.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate answer: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// NewProviderError wraps err unless it already is a ProviderError.
func NewProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Err: err}
}
