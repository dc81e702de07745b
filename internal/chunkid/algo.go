// Package chunkid implements ChunkId: the content-addressed identifier
// for an immutable byte blob (spec §3, §4.1). It mirrors how the
// original Rust ndn-lib encodes a ChunkId as HashMethod+digest, with
// an optional "mix" form that embeds the chunk's byte length
// (original_source/src/components/ndn-lib/src/local_store.rs and the
// ChunkId::mix_from_hash_result/from_hash_result constructors used
// throughout local_signal_ndn_mgr_file_chunklist.rs).
package chunkid

import (
	"crypto/sha256"
	"fmt"
	"hash"
)

// Algo enumerates the supported hash methods. Go idiom: a closed,
// exhaustively-handled enum instead of the source's string-typed hash
// method (Design Notes §9).
type Algo uint8

const (
	// AlgoUnknown is the zero value and is never a valid ChunkId algo.
	AlgoUnknown Algo = iota
	// AlgoSha256 is the only hash method implemented initially.
	AlgoSha256
)

// String returns the wire/text form of the algorithm tag, used as the
// "{algo}" prefix in ChunkId's textual encoding.
func (a Algo) String() string {
	switch a {
	case AlgoSha256:
		return "sha256"
	default:
		return "unknown"
	}
}

// ParseAlgo parses an algorithm tag produced by Algo.String.
func ParseAlgo(s string) (Algo, error) {
	switch s {
	case "sha256":
		return AlgoSha256, nil
	default:
		return AlgoUnknown, fmt.Errorf("unknown hash method %q", s)
	}
}

// Size returns the digest size in bytes for the algorithm.
func (a Algo) Size() int {
	switch a {
	case AlgoSha256:
		return sha256.Size
	default:
		return 0
	}
}

// New returns a fresh streaming hasher for the algorithm.
func (a Algo) New() hash.Hash {
	switch a {
	case AlgoSha256:
		return sha256.New()
	default:
		panic("chunkid: New called on unknown algo")
	}
}
