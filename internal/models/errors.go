package models

import "errors"

// Sentinel errors shared by the service layer and the stores.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrEmptyBatch is returned when a request carries neither files nor URLs.
	ErrEmptyBatch = errors.New("no files or URLs provided")

	// ErrNotFound indicates the requested source does not exist.
	ErrNotFound = errors.New("source not found")
)
