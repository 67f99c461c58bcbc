package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the engine wraps one of them.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

var (
	ErrArchiveNotFound       = fmt.Errorf("archive: %w", ErrNotFound)
	ErrDatasetNotFound       = fmt.Errorf("dataset: %w", ErrNotFound)
	ErrNoImagery             = fmt.Errorf("imagery: %w", ErrNotFound)
	ErrInvalidCoordinate     = fmt.Errorf("coordinate: %w", ErrInvalidInput)
	ErrInvalidBounds         = fmt.Errorf("bounds: %w", ErrInvalidInput)
	ErrInvalidCapture        = fmt.Errorf("capture parameters: %w", ErrInvalidInput)
	ErrCaptureTooLarge       = fmt.Errorf("capture size: %w", ErrInvalidInput)
	ErrUnsupportedProjection = fmt.Errorf("projection: %w", ErrUnsupported)
	ErrUnsupportedProvider   = fmt.Errorf("tile provider: %w", ErrUnsupported)
	ErrUnsupportedFormat     = fmt.Errorf("image format: %w", ErrUnsupported)
	ErrRenderContext         = fmt.Errorf("blocking call on render context: %w", ErrUnsupported)
	ErrCatalogFailed         = fmt.Errorf("catalog: %w", ErrInternal)
	ErrNotReady              = fmt.Errorf("service not ready: %w", ErrUnavailable)
	ErrStorageUnavailable    = fmt.Errorf("storage: %w", ErrUnavailable)
)

// ValidationError rejects one request field. Message is safe to show to
// API clients.
type ValidationError struct {
	Field      string
	Value      interface{}
	Constraint string
	Message    string
}

func (e *ValidationError) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid %s %v (want %s): %s", e.Field, e.Value, e.Constraint, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// QueryError represents a failed dataset query against the catalog.
type QueryError struct {
	Query string // Short description of the query
	Err   error  // Underlying error
}

func (e *QueryError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("dataset query %s failed: %v", e.Query, e.Err)
	}
	return fmt.Sprintf("dataset query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// TileError represents a failure fetching or decoding a single tile.
type TileError struct {
	Dataset string
	Tile    TileAddress
	Err     error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tile %s in dataset %s: %v", e.Tile, e.Dataset, e.Err)
}

func (e *TileError) Unwrap() error { return e.Err }

// StorageError is a failed archive storage operation (list, download, ...).
type StorageError struct {
	Operation string
	Key       string // empty for bucket-wide operations
	Err       error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Operation, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigError names the configuration key that failed validation.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidInput }
