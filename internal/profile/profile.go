// Package profile maps named sensor readings onto GATT handles. A profile
// is a set of Fields; each field reads one handle through the generic
// ReadHandle primitive and decodes the bytes. Read errors come back
// unchanged (wrapped with the field name); decode failures are DecodeErrors.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrDecode matches every DecodeError.
var ErrDecode = errors.New("decode failed")

// DecodeError reports bytes that do not decode as the field's type.
type DecodeError struct {
	Field string
	Data  []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// HandleReader is the read primitive fields are built on.
type HandleReader interface {
	ReadHandle(ctx context.Context, handle uint16, timeout time.Duration) ([]byte, error)
}

// Field is a named reading at a fixed handle.
type Field[T any] struct {
	Name   string
	Handle uint16
	Decode func([]byte) (T, error)
}

// Read reads and decodes the field.
func (f Field[T]) Read(ctx context.Context, r HandleReader, timeout time.Duration) (T, error) {
	var zero T
	data, err := r.ReadHandle(ctx, f.Handle, timeout)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", f.Name, err)
	}
	v, err := f.Decode(data)
	if err != nil {
		return zero, &DecodeError{Field: f.Name, Data: data, Err: err}
	}
	return v, nil
}

// ReadAny reads the field and returns the decoded value as any.
func (f Field[T]) ReadAny(ctx context.Context, r HandleReader, timeout time.Duration) (any, error) {
	return f.Read(ctx, r, timeout)
}

// Info describes a field independent of its value type.
func (f Field[T]) Info() FieldInfo {
	return FieldInfo{Name: f.Name, Handle: f.Handle}
}

// FieldInfo names a field and its handle.
type FieldInfo struct {
	Name   string
	Handle uint16
}

// AnyField is a Field with its type parameter erased.
type AnyField interface {
	Info() FieldInfo
	ReadAny(ctx context.Context, r HandleReader, timeout time.Duration) (any, error)
}

// Text decodes the bytes as UTF-8 text.
func Text(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("invalid UTF-8 text % x", data)
	}
	return string(data), nil
}

// TextFrom decodes the bytes from offset onward as UTF-8 text.
func TextFrom(offset int) func([]byte) (string, error) {
	return func(data []byte) (string, error) {
		if len(data) < offset {
			return "", fmt.Errorf("need at least %d bytes, got %d", offset, len(data))
		}
		return Text(data[offset:])
	}
}

// Uint8At decodes the byte at index i as an unsigned integer.
func Uint8At(i int) func([]byte) (uint8, error) {
	return func(data []byte) (uint8, error) {
		if len(data) <= i {
			return 0, fmt.Errorf("need at least %d bytes, got %d", i+1, len(data))
		}
		return data[i], nil
	}
}

// Raw returns the bytes undecoded.
func Raw(data []byte) ([]byte, error) {
	return data, nil
}
