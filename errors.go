package goprov

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("goprov: document not found")

	// ErrElementNotFound is returned when a document_ref names no element
	// of the document.
	ErrElementNotFound = errors.New("goprov: element not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("goprov: unsupported document format")

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("goprov: parsing failed")

	// ErrDocumentNotReady is returned when resolving against a document
	// whose ingestion has not completed.
	ErrDocumentNotReady = errors.New("goprov: document not ready")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("goprov: invalid configuration")
)
