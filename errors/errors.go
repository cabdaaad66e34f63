package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an AppError. Pair-level kinds end up in result records,
// the rest abort the run.
type Kind string

const (
	KindMalformedManifest Kind = "MalformedManifest"
	KindSourceNotFound    Kind = "SourceNotFound"
	KindFetchFailed       Kind = "FetchFailed"
	KindFrameExtraction   Kind = "FrameExtractionError"
	KindProvider          Kind = "ProviderError"
	KindWrite             Kind = "WriteError"
	KindNotFound          Kind = "NotFound"
	KindConfig            Kind = "ConfigError"
	KindInternal          Kind = "InternalError"
)

type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"error"`
	Op      string `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Cause lets pkg/errors.Cause walk through an AppError.
func (e *AppError) Cause() error {
	return e.Err
}

func newError(kind Kind, op string, err error, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func MalformedManifest(op string, err error, message string) *AppError {
	return newError(KindMalformedManifest, op, err, message)
}

func SourceNotFound(op string, err error, message string) *AppError {
	return newError(KindSourceNotFound, op, err, message)
}

func FetchFailed(op string, err error, message string) *AppError {
	return newError(KindFetchFailed, op, err, message)
}

func FrameExtraction(op string, err error, message string) *AppError {
	return newError(KindFrameExtraction, op, err, message)
}

func Provider(op string, err error, message string) *AppError {
	return newError(KindProvider, op, err, message)
}

func Write(op string, err error, message string) *AppError {
	return newError(KindWrite, op, err, message)
}

func NotFound(op string, err error, message string) *AppError {
	return newError(KindNotFound, op, err, message)
}

func Config(op string, err error, message string) *AppError {
	return newError(KindConfig, op, err, message)
}

func Internal(op string, err error, message string) *AppError {
	return newError(KindInternal, op, err, message)
}

// KindOf returns the kind of the outermost AppError in err's chain.
// Errors that carry no AppError are reported as KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if pkgerrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsMalformedManifest(err error) bool { return IsKind(err, KindMalformedManifest) }
func IsSourceNotFound(err error) bool    { return IsKind(err, KindSourceNotFound) }
func IsFetchFailed(err error) bool       { return IsKind(err, KindFetchFailed) }
func IsFrameExtraction(err error) bool   { return IsKind(err, KindFrameExtraction) }
func IsProvider(err error) bool          { return IsKind(err, KindProvider) }
func IsWrite(err error) bool             { return IsKind(err, KindWrite) }
func IsNotFound(err error) bool          { return IsKind(err, KindNotFound) }

// The helpers below re-export pkg/errors so callers need a single import.

func New(message string) error {
	return pkgerrors.New(message)
}

func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

func Is(err, target error) bool {
	return pkgerrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return pkgerrors.As(err, target)
}

func Cause(err error) error {
	return pkgerrors.Cause(err)
}
