package wire

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrEndOfStream is returned when a value extends past the end of the input.
	ErrEndOfStream = errors.New("wire: unexpected end of stream")

	// ErrOverflow is returned when a decoded integer does not fit its target width.
	ErrOverflow = errors.New("wire: integer overflow")

	errOverlong = errors.New("wire: packed integer too long")
)

// CorruptionError reports input that cannot be a valid encoding.
// The stream position is undefined after a CorruptionError; callers that
// share the underlying transport must treat it as desynchronized.
type CorruptionError struct {
	Message string
	Offset  int   // byte offset of the offending value, -1 when unknown
	Err     error // underlying error, if any
}

func (e *CorruptionError) Error() string {
	msg := "wire: corrupted stream: " + e.Message
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Corruptf returns a *CorruptionError for the given offset.
func Corruptf(offset int, format string, args ...any) error {
	return errors.WithStack(&CorruptionError{
		Message: fmt.Sprintf(format, args...),
		Offset:  offset,
	})
}

func corruptErr(offset int, message string, err error) error {
	return errors.WithStack(&CorruptionError{Message: message, Offset: offset, Err: err})
}

// IsCorruption reports whether err is, or wraps, a *CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}
