package pool

import (
	"errors"
	"fmt"

	stderrors "github.com/orizon-lang/memexec/internal/errors"
)

// Sentinel errors mirror the original error enum (OK, NULL_POINTER,
// INVALID_SIZE, OUT_OF_MEMORY, CORRUPTION, DOUBLE_FREE, INVALID_POINTER).
// Callers check these with errors.Is. The text after each sentinel is the
// Message of an internal/errors StandardError; the StandardError value
// itself is not part of the returned error chain.
var (
	ErrNullPointer    = errors.New("pool: null pointer")
	ErrInvalidSize    = errors.New("pool: invalid size")
	ErrOutOfMemory    = errors.New("pool: out of memory")
	ErrCorruption     = errors.New("pool: corruption")
	ErrDoubleFree     = errors.New("pool: double free")
	ErrInvalidPointer = errors.New("pool: invalid pointer")
)

func errNullPointer(op string) error {
	return fmt.Errorf("%w: %s", ErrNullPointer, stderrors.NullPointer(ErrNullPointer, op).Message)
}

func errInvalidSize(size uintptr, op string) error {
	return fmt.Errorf("%w: %s", ErrInvalidSize, stderrors.InvalidSize(ErrInvalidSize, size, op).Message)
}

func errOutOfMemory(op string) error {
	return fmt.Errorf("%w: exhausted chain in %s", ErrOutOfMemory, op)
}

func errCorruption(detail string) error {
	return fmt.Errorf("%w: %s", ErrCorruption, stderrors.Corruption(ErrCorruption, detail).Message)
}

func errDoubleFree() error {
	return fmt.Errorf("%w: block already free", ErrDoubleFree)
}

func errInvalidPointer(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPointer, detail)
}

func errOverflow(op string) error {
	return fmt.Errorf("%w: %s", ErrInvalidSize, stderrors.IntegerOverflow(ErrInvalidSize, op).Message)
}
