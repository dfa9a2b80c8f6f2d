package model

import "github.com/pkg/errors"

// Error kinds the core recognises (spec.md §7). Each subsystem confines
// failures to its own scope and returns one of these; the Pipeline treats
// all of them except BadConfig as "missing input for this frame", never as
// a reason to abort.
type ErrorKind string

const (
	ErrTransientNetwork  ErrorKind = "transient_network"
	ErrMalformedWhitelist ErrorKind = "malformed_whitelist"
	ErrCameraFault       ErrorKind = "camera_fault"
	ErrBeaconFault       ErrorKind = "beacon_fault"
	ErrBadConfig         ErrorKind = "bad_config"
	ErrResourceExhaustion ErrorKind = "resource_exhaustion"
	ErrInferenceFailure  ErrorKind = "inference_failure"
	ErrFilesystem        ErrorKind = "filesystem_error"
)

// CoreError wraps an underlying error with one of the recognised kinds so
// callers can branch with errors.As instead of string matching.
type CoreError struct {
	Kind ErrorKind
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *CoreError) Unwrap() error { return e.Err }

// Wrap annotates err with a kind, or returns nil if err is nil.
func Wrap(kind ErrorKind, err error, msgAndArgs ...interface{}) error {
	if err == nil {
		return nil
	}
	if len(msgAndArgs) > 0 {
		if format, ok := msgAndArgs[0].(string); ok {
			err = errors.Wrapf(err, format, msgAndArgs[1:]...)
		}
	}
	return &CoreError{Kind: kind, Err: err}
}

// IsKind reports whether err (or any error it wraps) carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CoreError
	for err != nil {
		if c, ok := err.(*CoreError); ok {
			ce = c
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ce != nil && ce.Kind == kind
}
