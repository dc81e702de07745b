// Package ndnerr provides the layered error taxonomy shared by every
// ndncore component (chunk store, named object model, NamedDataMgr,
// NDN server/client, RTCP tunnel).
package ndnerr

import (
	"errors"
	"fmt"
)

// Code identifies the abstract error kind from the NDN core's error
// taxonomy. Handlers map Code to HTTP status; callers use errors.Is
// against the sentinel values below, not Code, for control flow.
type Code string

const (
	CodeInvalidId         Code = "invalid_id"
	CodeNotFound          Code = "not_found"
	CodeIncomplete        Code = "incomplete"
	CodeConflict          Code = "conflict"
	CodeDisabled          Code = "disabled"
	CodePermissionDenied  Code = "permission_denied"
	CodeTimeout           Code = "timeout"
	CodePeerRefused       Code = "peer_refused"
	CodeIoError           Code = "io_error"
	CodeDbError           Code = "db_error"
	CodeParseError        Code = "parse_error"
)

// Sentinel errors for errors.Is checks. Wrap with fmt.Errorf("...: %w", ErrX)
// to attach context while keeping the sentinel matchable.
var (
	ErrInvalidId        = errors.New("invalid id")
	ErrNotFound         = errors.New("not found")
	ErrIncomplete       = errors.New("chunk incomplete")
	ErrConflict         = errors.New("sequence conflict")
	ErrDisabled         = errors.New("disabled")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTimeout          = errors.New("timed out")
	ErrIoError          = errors.New("io error")
	ErrDbError          = errors.New("db error")
	ErrParseError       = errors.New("parse error")
)

// PeerRefused wraps a non-zero RTCP ROpenResp result code.
type PeerRefused struct {
	ResultCode uint32
}

func (e *PeerRefused) Error() string {
	return fmt.Sprintf("peer refused: code %d", e.ResultCode)
}

// Conflict carries the current sequence number so callers can retry
// a CAS write without re-reading the publication record.
type Conflict struct {
	CurrentSequence uint64
}

func (e *Conflict) Error() string {
	return fmt.Sprintf("sequence conflict: current sequence is %d", e.CurrentSequence)
}

func (e *Conflict) Unwrap() error { return ErrConflict }

// Wrap annotates err with context while preserving errors.Is matching
// against the given sentinel.
func Wrap(sentinel error, context string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", context, sentinel)
	}
	return fmt.Errorf("%s: %w: %w", context, sentinel, err)
}

// CodeOf maps an error to its taxonomy Code by walking errors.Is
// against every sentinel. Unrecognized errors map to CodeIoError.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidId):
		return CodeInvalidId
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrIncomplete):
		return CodeIncomplete
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrDisabled):
		return CodeDisabled
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrDbError):
		return CodeDbError
	case errors.Is(err, ErrParseError):
		return CodeParseError
	default:
		var pr *PeerRefused
		if errors.As(err, &pr) {
			return CodePeerRefused
		}
		return CodeIoError
	}
}
