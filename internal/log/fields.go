// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Path / URL fields
	FieldPath = "path"

	// Media / stream fields
	FieldURL        = "url"
	FieldCodec      = "codec"
	FieldResolution = "resolution"
	FieldFPS        = "fps"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldState    = "state"
	FieldAttempt  = "attempt"
	FieldPercent  = "percent"

	// Timing fields
	FieldPosition = "position_s"
	FieldDuration = "duration_s"
	FieldBackoff  = "backoff"
)
