package store

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable means construction or initialization failed.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrDuplicateKey means an entry with the same file path and timestamp exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStorageIO is a medium-level read or write failure.
	ErrStorageIO = errors.New("storage io error")

	// ErrQuerySyntax means the lexical engine rejected the query.
	ErrQuerySyntax = errors.New("lexical query syntax error")
)

func ioErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageIO, err)
}

func unavailableErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}
