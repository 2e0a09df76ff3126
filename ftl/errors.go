package ftl

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel error kinds, spec.md §7.
var (
	// ErrOutOfSpace: free list empty when a new block is required.
	ErrOutOfSpace = errors.New("ftl: out of space")
	// ErrInsufficientSpare: spare blocks below safety margin at construction.
	ErrInsufficientSpare = errors.New("ftl: insufficient spare blocks")
	// ErrCacheStarved: evictor found no eviction candidate.
	ErrCacheStarved = errors.New("ftl: cache starved, no evictable row")
	// ErrInvariantViolation: an illegal state-machine or bitmap transition.
	ErrInvariantViolation = errors.New("ftl: invariant violation")
	// ErrIOFailure: propagated from the flash device, not retried here.
	ErrIOFailure = errors.New("ftl: io failure")
)

// Error wraps a sentinel with the operation that triggered it, mirroring
// the {Op, Err} shape used throughout the storage layer this simulator was
// modeled on.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": <nil>"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap annotates err (if non-nil) with op using pkg/errors, preserving the
// sentinel for errors.Is while attaching a call-site message.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: pkgerrors.WithMessage(err, op)}
}

func IsOutOfSpace(err error) bool        { return errors.Is(err, ErrOutOfSpace) }
func IsInsufficientSpare(err error) bool { return errors.Is(err, ErrInsufficientSpare) }
func IsCacheStarved(err error) bool      { return errors.Is(err, ErrCacheStarved) }
func IsInvariantViolation(err error) bool { return errors.Is(err, ErrInvariantViolation) }
func IsIOFailure(err error) bool         { return errors.Is(err, ErrIOFailure) }
