// Package core defines the errors shared across SchoolHub packages.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Transport errors
	ErrNotConnected     = errors.New("transport is not connected")
	ErrNotAuthenticated = errors.New("transport is not authenticated")
	ErrClientClosed     = errors.New("transport client is closed")
	ErrQueueFull        = errors.New("outbound queue is full")
	ErrAuthRejected     = errors.New("authentication rejected by server")

	// Storage errors
	ErrMigrationFailed = errors.New("migration failed")
	ErrRecordNotFound  = errors.New("record not found")

	// Fallback errors
	ErrUnknownQuery  = errors.New("unknown query key")
	ErrCircuitOpen   = errors.New("notification API temporarily unavailable")
	ErrNoCredentials = errors.New("no bearer token configured")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
