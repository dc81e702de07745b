package chunkstore

import (
	"fmt"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// ChunkState is the admission/write state machine for a chunk (spec
// §4.2). New chunks progress New -> Incomplete -> Complete as bytes
// arrive; Complete chunks can be administratively Disabled, and
// Disabled chunks can be administratively removed (NotExist).
type ChunkState int

const (
	// StateNew is assigned when a chunk_items row is created but no
	// bytes have been written yet.
	StateNew ChunkState = iota
	// StateIncomplete means some, but not all, bytes have arrived.
	StateIncomplete
	// StateComplete means the chunk's full declared size has been
	// written. Reaching it does not hash the content; Writer.VerifyDigest
	// does that as a separate step and leaves the state unchanged.
	StateComplete
	// StateDisabled is an administrative hold: content stays on disk
	// but reads are refused.
	StateDisabled
	// StateNotExist marks a chunk whose bytes have been purged; the
	// metadata row is kept as a tombstone.
	StateNotExist
)

// String renders the on-disk form used by the SQLite metadata store,
// matching original_source/src/components/ndn-lib/src/local_store.rs's
// ChunkState::to_string (the original keeps "incompleted", not
// "incomplete", and "not_exist" rather than "notexist").
func (s ChunkState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateIncomplete:
		return "incompleted"
	case StateComplete:
		return "completed"
	case StateDisabled:
		return "disabled"
	case StateNotExist:
		return "not_exist"
	default:
		return "unknown"
	}
}

// ParseChunkState parses the on-disk textual state back into a
// ChunkState.
func ParseChunkState(s string) (ChunkState, error) {
	switch s {
	case "new":
		return StateNew, nil
	case "incompleted":
		return StateIncomplete, nil
	case "completed":
		return StateComplete, nil
	case "disabled":
		return StateDisabled, nil
	case "not_exist":
		return StateNotExist, nil
	default:
		return 0, ndnerr.Wrap(ndnerr.ErrParseError, fmt.Sprintf("chunkstore: unknown chunk state %q", s), nil)
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// admin or write-path transition (spec §4.2's state machine: write
// progress only ever moves New/Incomplete forward to Complete; the
// Complete<->Disabled and Disabled->NotExist edges are administrative,
// and NotExist is terminal).
func (s ChunkState) CanTransitionTo(next ChunkState) bool {
	switch s {
	case StateNew:
		return next == StateIncomplete || next == StateComplete || next == StateDisabled
	case StateIncomplete:
		return next == StateIncomplete || next == StateComplete || next == StateDisabled
	case StateComplete:
		return next == StateDisabled
	case StateDisabled:
		return next == StateComplete || next == StateNotExist
	case StateNotExist:
		return false
	default:
		return false
	}
}
