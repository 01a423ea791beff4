package engine

import "errors"

// Sentinel errors returned by engine operations. The API layer maps these
// onto HTTP statuses.
var (
	// ErrUnauthenticated means the request carried no caller identity.
	ErrUnauthenticated = errors.New("caller identity missing")

	// ErrNotFound covers objects that are missing, soft-deleted or outside
	// the caller's reach. The three cases are deliberately merged so
	// responses never reveal whether an object exists.
	ErrNotFound = errors.New("not found or not accessible")

	// ErrInvalidInput means a request parameter failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotIngestable means the document's content type is not supported
	// for ingestion.
	ErrNotIngestable = errors.New("document content type not ingestable")
)
