package messaging

import (
	"fmt"
	"strings"

	"github.com/pior/extend/pof"
)

// RemoteErrorTypeID is the POF user type id of RemoteError.
const RemoteErrorTypeID int32 = 0

// RegisterTypes adds the user types carried by messaging frames to ctx.
func RegisterTypes(ctx *pof.Context) error {
	return ctx.Register(RemoteErrorTypeID, func() pof.PortableObject { return new(RemoteError) })
}

// RemoteError is a failure reported by the peer in a response.
//
// Transient: no
type RemoteError struct {
	Name       string
	Message    string
	StackTrace []string
	Cause      *RemoteError
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString("messaging: remote error")
	if e.Name != "" {
		b.WriteString(" (" + e.Name + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// Unwrap returns the remote cause, if any.
func (e *RemoteError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

func (e *RemoteError) Transient() bool { return false }

func (e *RemoteError) ReadExternal(r *pof.Reader) error {
	var err error
	if e.Name, err = r.ReadString(0); err != nil {
		return err
	}
	if e.Message, err = r.ReadString(1); err != nil {
		return err
	}
	if e.StackTrace, err = r.ReadStringArray(2); err != nil {
		return err
	}
	cause, err := r.ReadObject(3)
	if err != nil {
		return err
	}
	e.Cause, _ = cause.(*RemoteError)
	return nil
}

func (e *RemoteError) WriteExternal(w *pof.Writer) error {
	if err := w.WriteString(0, e.Name); err != nil {
		return err
	}
	if err := w.WriteString(1, e.Message); err != nil {
		return err
	}
	if err := w.WriteStringArray(2, e.StackTrace); err != nil {
		return err
	}
	if e.Cause == nil {
		return nil
	}
	return w.WriteObject(3, e.Cause)
}

// remoteError turns the result of a failed response into an error.
func remoteError(result any) error {
	switch v := result.(type) {
	case *RemoteError:
		return v
	case error:
		return &RemoteError{Message: v.Error()}
	case string:
		return &RemoteError{Message: v}
	case nil:
		return &RemoteError{Message: "unspecified failure"}
	default:
		return &RemoteError{Message: fmt.Sprint(v)}
	}
}
