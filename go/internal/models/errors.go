package models

import "errors"

var (
	// ErrNotFound is returned for unknown match, control point or bomb ids.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStateTransition rejects a single requested action, e.g. pausing a paused match.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInvalidCode is returned when a capture, arm or disarm code does not match.
	ErrInvalidCode = errors.New("invalid code")

	// ErrChallengeDisabled is returned when the control point does not offer the requested challenge.
	ErrChallengeDisabled = errors.New("challenge disabled for control point")
)
