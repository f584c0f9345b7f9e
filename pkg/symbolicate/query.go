// Package symbolicate resolves crash report frames to function, file and line.
package symbolicate

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/yafengV/CrashParser/pkg/crashlog"
	"github.com/yafengV/CrashParser/pkg/dsym"
)

var (
	// ErrNotFound is returned by a Reader when the debug info holds nothing for an address
	ErrNotFound = errors.New("symbol not found")
	// ErrUUIDMismatch is returned by a Reader when the bundle's UUID differs from the image's
	ErrUUIDMismatch = errors.New("debug symbols UUID mismatch")
)

// ToolError is a failure of the debug-info tool itself
type ToolError struct {
	Tool   string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Query asks for the symbol at one address of one image
type Query struct {
	UUID        string
	Arch        crashlog.Arch
	LoadAddress uint64
	// Address is LoadAddress + Offset
	Address uint64
	Offset  uint64
	Bundle  dsym.Bundle
}

func (q Query) String() string {
	return fmt.Sprintf("%s %s %#x (%#x + %#x)", q.UUID, q.Arch, q.Address, q.LoadAddress, q.Offset)
}

// Answer is a reader's reply to one Query
type Answer struct {
	Function string
	File     string
	Line     int
	// Found is false when the reader had no symbol for the address
	Found bool
}

// Reader looks up one address in a debug-symbol bundle
type Reader interface {
	Resolve(ctx context.Context, q Query) (Answer, error)
}

// BatchReader resolves many addresses of the same bundle in one call.
// Answers are returned in query order.
type BatchReader interface {
	Reader
	ResolveBatch(ctx context.Context, qs []Query) ([]Answer, error)
}

// SymbolIndex finds the debug-symbol bundle for a build UUID
type SymbolIndex interface {
	Lookup(uuid string) (dsym.Bundle, bool)
}

// ReaderFunc adapts a function to the Reader interface
type ReaderFunc func(ctx context.Context, q Query) (Answer, error)

// Resolve calls f(ctx, q)
func (f ReaderFunc) Resolve(ctx context.Context, q Query) (Answer, error) {
	return f(ctx, q)
}
