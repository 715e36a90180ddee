package media

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for status mapping at the transport edge.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindForbidden  ErrorKind = "forbidden"
	KindConflict   ErrorKind = "conflict"
	KindExecution  ErrorKind = "execution"
	KindFilesystem ErrorKind = "filesystem"
	KindInternal   ErrorKind = "internal"
)

// Error is the domain error carrying a kind, the failing operation and,
// for engine failures, the diagnostic text.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind implements the classifier used by KindOf.
func (e *Error) ErrorKind() string {
	return string(e.Kind)
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var classified interface{ ErrorKind() string }
	if errors.As(err, &classified) {
		return ErrorKind(classified.ErrorKind())
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ValidationError rejects a request synchronously.
func ValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown asset or job id.
func NotFoundError(what, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", what, id)}
}

// ForbiddenError reports an ownership violation.
func ForbiddenError(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports an operation that contradicts current state.
func ConflictError(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// ExecutionError reports an engine failure with its diagnostic output.
func ExecutionError(op string, err error, diagnostic string) error {
	return &Error{Kind: KindExecution, Op: op, Err: err, Detail: diagnostic}
}

// FilesystemError reports a missing path or failed write/delete.
func FilesystemError(op, path string, err error) error {
	return &Error{Kind: KindFilesystem, Op: op, Message: path, Err: err}
}
