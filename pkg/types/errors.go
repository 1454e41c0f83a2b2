package types

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the node layer
type Kind string

const (
	KindResourceExhausted     Kind = "resource_exhausted"
	KindConfigCorrupt         Kind = "config_corrupt"
	KindProcessBuildFailed    Kind = "process_build_failed"
	KindConnectFailed         Kind = "connect_failed"
	KindBundleNotFound        Kind = "bundle_not_found"
	KindInstallRejected       Kind = "install_rejected"
	KindEnableFailed          Kind = "enable_failed"
	KindCellNotFound          Kind = "cell_not_found"
	KindInterfaceAttachFailed Kind = "interface_attach_failed"
	KindSigningFailed         Kind = "signing_failed"
	KindCallRejected          Kind = "call_rejected"
	KindDecodeError           Kind = "decode_error"
)

// Sentinels for errors.Is matching against any *Error of the same kind
var (
	ErrResourceExhausted     = &Error{Kind: KindResourceExhausted}
	ErrConfigCorrupt         = &Error{Kind: KindConfigCorrupt}
	ErrProcessBuildFailed    = &Error{Kind: KindProcessBuildFailed}
	ErrConnectFailed         = &Error{Kind: KindConnectFailed}
	ErrBundleNotFound        = &Error{Kind: KindBundleNotFound}
	ErrInstallRejected       = &Error{Kind: KindInstallRejected}
	ErrEnableFailed          = &Error{Kind: KindEnableFailed}
	ErrCellNotFound          = &Error{Kind: KindCellNotFound}
	ErrInterfaceAttachFailed = &Error{Kind: KindInterfaceAttachFailed}
	ErrSigningFailed         = &Error{Kind: KindSigningFailed}
	ErrCallRejected          = &Error{Kind: KindCallRejected}
	ErrDecodeError           = &Error{Kind: KindDecodeError}
)

// Error is a typed failure carrying a human-readable cause.
// Reason holds host-provided text verbatim where one exists.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

// Errorf builds an *Error of the given kind with a formatted reason
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an underlying error
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
