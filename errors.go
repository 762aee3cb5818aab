package rlsguard

import (
	"errors"

	"github.com/pthm/rlsguard/pkg/database"
	"github.com/pthm/rlsguard/pkg/parser"
)

// Sentinel errors for the failure modes callers commonly branch on.
// Analysis itself never fails on a bad finding; these surface from feed
// loading, database access and validation gating.
//
// Use the Is*Err helper functions to check for specific errors.
var (
	// ErrNotConnected is returned when an operation needs a live database
	// and none is configured.
	ErrNotConnected = database.ErrNotConnected

	// ErrInvalidFeed is returned when a linter feed cannot be decoded.
	ErrInvalidFeed = parser.ErrInvalidFeed

	// ErrValidationRejected marks a candidate that changed which rows a
	// policy grants and was therefore left out of the migrations.
	ErrValidationRejected = errors.New("rlsguard: optimization rejected by validation")
)

// IsNotConnectedErr returns true if err is or wraps ErrNotConnected.
func IsNotConnectedErr(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsInvalidFeedErr returns true if err is or wraps ErrInvalidFeed.
func IsInvalidFeedErr(err error) bool {
	return errors.Is(err, ErrInvalidFeed)
}

// IsValidationRejectedErr returns true if err is or wraps
// ErrValidationRejected.
func IsValidationRejectedErr(err error) bool {
	return errors.Is(err, ErrValidationRejected)
}
