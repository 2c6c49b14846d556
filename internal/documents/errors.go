package documents

import "errors"

var (
	// ErrNotFound means the corpus has no paper with the requested id.
	ErrNotFound = errors.New("documents: paper not found")

	// ErrTransient covers network and upstream failures worth retrying later.
	ErrTransient = errors.New("documents: corpus unavailable")

	// ErrExtraction means a cached document could not be read as text.
	ErrExtraction = errors.New("documents: extraction failed")
)
