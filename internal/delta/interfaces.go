// Package delta computes and applies copy/insert deltas between two
// content-defined chunk sequences, grounding spec §4.4's
// FileObject.links: SameAs relationship: two FileObjects whose
// payloads overlap at the chunk level can be described as one another
// plus a small delta instead of two unrelated ChunkLists.
package delta

import (
	"context"
	"io"

	"github.com/buckyos/ndncore/internal/chunkid"
)

// Chunk is one content-defined slice of a byte stream, identified by
// the same ChunkId a chunk store would use to address it.
type Chunk struct {
	// Id is the chunk's content identifier.
	Id chunkid.ChunkId `json:"id"`

	// Offset is the byte offset where this chunk starts in the source.
	Offset int64 `json:"offset"`

	// Size is the size of the chunk in bytes.
	Size int64 `json:"size"`

	// Data is the actual chunk data (may be nil if only metadata is needed).
	Data []byte `json:"-"`
}

// Delta describes how to reconstruct a target chunk sequence from a
// base chunk sequence plus DeltaSize bytes of new data.
type Delta struct {
	// TargetChunks is the target's chunk sequence, in order.
	TargetChunks []chunkid.ChunkId `json:"target_chunks"`

	// BaseChunks is the base's chunk sequence, in order.
	BaseChunks []chunkid.ChunkId `json:"base_chunks"`

	// Instructions are the ordered list of copy/insert operations.
	Instructions []Instruction `json:"instructions"`

	// TotalSize is the total size of the reconstructed blob.
	TotalSize int64 `json:"total_size"`

	// DeltaSize is the size of the delta data (inserted chunks only).
	DeltaSize int64 `json:"delta_size"`

	// SavingsRatio is the fraction of space saved (1 - delta_size/total_size).
	SavingsRatio float64 `json:"savings_ratio"`
}

// Instruction represents a single delta instruction.
type Instruction struct {
	// Type is "copy" (from base) or "insert" (new data).
	Type InstructionType `json:"type"`

	// For "copy": byte offset in base blob.
	// For "insert": byte offset in delta data store.
	SourceOffset int64 `json:"source_offset"`

	// For "copy": byte offset in target blob.
	// For "insert": byte offset in target blob.
	TargetOffset int64 `json:"target_offset"`

	// Length is the number of bytes for this instruction.
	Length int64 `json:"length"`
}

// InstructionType represents the type of delta instruction.
type InstructionType string

const (
	// InstructionCopy copies bytes from the base blob.
	InstructionCopy InstructionType = "copy"

	// InstructionInsert inserts new bytes not in base.
	InstructionInsert InstructionType = "insert"
)

// Chunker splits content into variable-size chunks using content-defined chunking.
type Chunker interface {
	// Chunk reads from the reader and returns a channel of chunks.
	// The channel is closed when all chunks are emitted or an error occurs.
	Chunk(ctx context.Context, reader io.Reader) (<-chan Chunk, <-chan error)

	// ChunkAll reads all chunks into a slice (for smaller files).
	ChunkAll(ctx context.Context, reader io.Reader) ([]Chunk, error)
}

// DeltaComputer computes the delta between a base and target blob.
type DeltaComputer interface {
	// Compute calculates the delta needed to transform base into target.
	// Returns the delta containing copy/insert instructions.
	Compute(ctx context.Context, base, target io.Reader) (*Delta, error)

	// ComputeFromChunks calculates delta from pre-computed chunk lists.
	// This is more efficient when chunks are already computed/cached.
	ComputeFromChunks(ctx context.Context, baseChunks, targetChunks []Chunk) (*Delta, error)
}

// DeltaApplier reconstructs a blob by applying delta to a base blob.
type DeltaApplier interface {
	// Apply reconstructs the target blob from base + delta.
	// deltaData is a reader for the inserted data referenced by delta instructions.
	Apply(ctx context.Context, base io.ReadSeeker, delta *Delta, deltaData io.Reader) (io.Reader, error)
}

// ChunkIndex is an in-memory index of chunks for fast lookup.
type ChunkIndex interface {
	// Add adds a chunk to the index.
	Add(chunk Chunk)

	// AddAll adds multiple chunks to the index.
	AddAll(chunks []Chunk)

	// Lookup returns the chunk with the given id, or nil if not found.
	Lookup(id chunkid.ChunkId) *Chunk

	// Exists returns true if a chunk with the given id exists.
	Exists(id chunkid.ChunkId) bool

	// Size returns the number of chunks in the index.
	Size() int
}
