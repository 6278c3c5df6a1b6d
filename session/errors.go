package session

import (
	"errors"
	"fmt"
	"strings"
)

// IntegrityError reports a checksum mismatch detected while decoding a
// stored record. It always means the payload was modified outside the
// manager after the last save.
type IntegrityError struct {
	SessionID string
	Stored    string
	Computed  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for session %q: stored=%s computed=%s",
		e.SessionID, e.Stored, e.Computed)
}

// SchemaError reports a serialized record whose schema version this
// decoder does not understand.
type SchemaError struct {
	Version   string
	Supported []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("unsupported schema version %q (supported: %s)",
		e.Version, strings.Join(e.Supported, ", "))
}

// ConflictError reports a save that lost an optimistic concurrency race:
// the stored record changed after the caller loaded it.
type ConflictError struct {
	SessionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %q was modified concurrently, reload and retry", e.SessionID)
}

// IsIntegrityError reports whether err is an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsSchemaError reports whether err is a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
