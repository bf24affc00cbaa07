// SPDX-License-Identifier: MIT

package session

import "errors"

var (
	// ErrInvalidTransition is returned when an intent operation is not
	// legal in the current state.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrSessionFailed is returned for play attempts on a failed session.
	// Stop is the only way out of failed.
	ErrSessionFailed = errors.New("session failed, stop before playing again")

	// ErrAlreadyRunning is returned when Run is called on a session whose
	// bridge loop is already active.
	ErrAlreadyRunning = errors.New("session bridge already running")
)
