// Package errors provides the unified error space for FlashFS. Every
// public adapter operation returns errors from this space; engine-native
// codes are translated at the adapter boundary and never escape.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is a unified filesystem error code. OK is zero; every failure
// code is negative, mirroring the convention of the owning system.
type Code int

const (
	OK Code = 0

	CodeNotFound Code = -1 - iota
	CodeBadParam
	CodeReadOnly
	CodeNotSupported
	CodeNotImplemented
	CodeOutOfFileDescs
	CodeInvalidHandle
	CodeFileNotOpen
	CodeNoMoreFiles
	CodeExists
	CodeTooBig
	CodeNoSpace
	CodeNameTooLong
	CodeBadFileSystem
	CodeReadFailure
	CodeWriteFailure
	CodeEraseFailure
	CodeNoPartition
	CodeBadPartition
	CodeNotMounted
	CodeNoMem
	CodeSystem
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case CodeNotFound:
		return "file not found"
	case CodeBadParam:
		return "invalid parameter"
	case CodeReadOnly:
		return "entry is read-only"
	case CodeNotSupported:
		return "operation not supported"
	case CodeNotImplemented:
		return "operation not implemented"
	case CodeOutOfFileDescs:
		return "out of file descriptors"
	case CodeInvalidHandle:
		return "invalid file handle"
	case CodeFileNotOpen:
		return "file not open"
	case CodeNoMoreFiles:
		return "no more files"
	case CodeExists:
		return "entry already exists"
	case CodeTooBig:
		return "file too large"
	case CodeNoSpace:
		return "no space on volume"
	case CodeNameTooLong:
		return "name too long"
	case CodeBadFileSystem:
		return "filesystem is corrupt or unformatted"
	case CodeReadFailure:
		return "device read failure"
	case CodeWriteFailure:
		return "device write failure"
	case CodeEraseFailure:
		return "device erase failure"
	case CodeNoPartition:
		return "no partition"
	case CodeBadPartition:
		return "partition type mismatch"
	case CodeNotMounted:
		return "volume not mounted"
	case CodeNoMem:
		return "out of memory"
	case CodeSystem:
		return "system error"
	default:
		return fmt.Sprintf("error %d", int(c))
	}
}

// Error carries a unified code plus optional diagnostic context. Detail
// holds the engine's textual name for codes folded into CodeSystem so the
// original cause stays readable.
type Error struct {
	Code   Code
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Code.String() + " (" + e.Detail + ")"
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any error carrying the same code, so sentinel comparisons
// with errors.Is work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if stderrors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New returns a bare error for code.
func New(code Code) *Error {
	return &Error{Code: code}
}

// Wrap attaches a cause to a coded error.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

// System returns a generic system error keeping the engine's textual
// name for diagnostics.
func System(detail string, cause error) *Error {
	return &Error{Code: CodeSystem, Detail: detail, Cause: cause}
}

// Sentinel errors for the unified space. Compare with errors.Is.
var (
	ErrNotFound       = New(CodeNotFound)
	ErrBadParam       = New(CodeBadParam)
	ErrReadOnly       = New(CodeReadOnly)
	ErrNotSupported   = New(CodeNotSupported)
	ErrNotImplemented = New(CodeNotImplemented)
	ErrOutOfFileDescs = New(CodeOutOfFileDescs)
	ErrInvalidHandle  = New(CodeInvalidHandle)
	ErrFileNotOpen    = New(CodeFileNotOpen)
	ErrNoMoreFiles    = New(CodeNoMoreFiles)
	ErrExists         = New(CodeExists)
	ErrTooBig         = New(CodeTooBig)
	ErrNoSpace        = New(CodeNoSpace)
	ErrNameTooLong    = New(CodeNameTooLong)
	ErrBadFileSystem  = New(CodeBadFileSystem)
	ErrReadFailure    = New(CodeReadFailure)
	ErrWriteFailure   = New(CodeWriteFailure)
	ErrEraseFailure   = New(CodeEraseFailure)
	ErrNoPartition    = New(CodeNoPartition)
	ErrBadPartition   = New(CodeBadPartition)
	ErrNotMounted     = New(CodeNotMounted)
	ErrNoMem          = New(CodeNoMem)
)

// CodeOf extracts the unified code from an error chain. A nil error is
// OK; an error from outside the unified space reports CodeSystem.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeSystem
}
