// Package storage defines the persistence contract for serialized session
// records and ships adapters for common stores. Backends move opaque bytes;
// integrity verification happens above this interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend stores serialized session records by ID.
type Backend interface {
	// Put stores data under the given ID, overwriting any existing value.
	Put(ctx context.Context, id string, data []byte) error

	// Get retrieves the data stored under the given ID.
	Get(ctx context.Context, id string) ([]byte, error)

	// List returns all stored IDs.
	List(ctx context.Context) ([]string, error)

	// Delete removes the data stored under the given ID.
	// Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error

	// Exists reports whether data is stored under the given ID.
	Exists(ctx context.Context, id string) (bool, error)
}

// Meta describes a stored record without its payload.
type Meta struct {
	ID         string
	Size       int64
	ModifiedAt time.Time
}

// MetaLister is an optional capability for backends that can enumerate
// stored records without reading payloads.
type MetaLister interface {
	ListMeta(ctx context.Context) ([]Meta, error)
}

// NotFoundError reports an ID with no stored data.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.ID)
}

// UnavailableError reports a backend infrastructure failure. Operations
// failing with it are safe to retry.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}
