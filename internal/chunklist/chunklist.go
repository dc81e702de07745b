// Package chunklist implements ChunkList, the ordered-sequence-of-chunks
// manifest object (spec §3, §4.4), including the Range -> (chunk,
// offset) math the NDN HTTP server (C6) needs to serve byte ranges
// across chunk boundaries.
package chunklist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnerr"
	"github.com/buckyos/ndncore/internal/ndnobject"
)

// ObjType is the obj_type tag a ChunkList's canonical encoding carries.
const ObjType = "chunk-list"

// Entry is one chunk in the list, carrying the declared size so Locate
// can do range math without touching the chunk store.
type Entry struct {
	ChunkId chunkid.ChunkId
	Size    uint64
}

// ChunkList is an ordered sequence of chunks with a declared total
// size and hash method (spec §3: "Ordered sequence of ChunkIds with
// total_size and hash_method").
type ChunkList struct {
	HashMethod chunkid.Algo
	TotalSize  uint64
	Entries    []Entry
}

// Builder accumulates entries before Build fixes the list's canonical
// encoding, matching spec §4.4's ChunkListBuilder
// (new/with_total_size/append/build).
type Builder struct {
	hashMethod chunkid.Algo
	totalSize  uint64
	haveSize   bool
	entries    []Entry
}

// NewBuilder starts a builder for lists hashed with hashMethod.
func NewBuilder(hashMethod chunkid.Algo) *Builder {
	return &Builder{hashMethod: hashMethod}
}

// WithTotalSize declares the list's total byte length up front.
func (b *Builder) WithTotalSize(n uint64) *Builder {
	b.totalSize = n
	b.haveSize = true
	return b
}

// Append adds one chunk to the end of the list.
func (b *Builder) Append(id chunkid.ChunkId, size uint64) *Builder {
	b.entries = append(b.entries, Entry{ChunkId: id, Size: size})
	return b
}

// Build fixes element order and total_size into a ChunkList, checking
// spec §4.4's invariant that "sum of chunk.size equals total_size".
func (b *Builder) Build() (*ChunkList, error) {
	var sum uint64
	for _, e := range b.entries {
		sum += e.Size
	}
	if b.haveSize && sum != b.totalSize {
		return nil, ndnerr.Wrap(ndnerr.ErrInvalidId,
			fmt.Sprintf("chunklist: sum of chunk sizes %d does not equal declared total_size %d", sum, b.totalSize), nil)
	}
	total := b.totalSize
	if !b.haveSize {
		total = sum
	}
	return &ChunkList{HashMethod: b.hashMethod, TotalSize: total, Entries: append([]Entry(nil), b.entries...)}, nil
}

// canonicalValue renders the list as the map BuildNamedObjectByJSON
// expects, with chunk ids in their canonical textual form so the
// list's ObjId only ever depends on content that has already been
// hashed once.
func (cl *ChunkList) canonicalValue() map[string]any {
	chunks := make([]any, len(cl.Entries))
	for i, e := range cl.Entries {
		chunks[i] = e.ChunkId.String()
	}
	return map[string]any{
		"hash_method": cl.HashMethod.String(),
		"total_size":  cl.TotalSize,
		"chunks":      chunks,
	}
}

// BuildObject canonicalizes the list and returns its ObjId, the
// canonical string, per spec §4.4: "Its ID is the hash of its
// canonical encoding, enabling re-chunking (same payload => different
// ChunkList => different ID...)".
func (cl *ChunkList) BuildObject() (ndnobject.ObjId, string, error) {
	return ndnobject.BuildNamedObjectByJSON(ObjType, cl.canonicalValue(), cl.HashMethod)
}

// ChunkSizer supplies a chunk's declared byte size for chunk ids whose
// textual form does not embed it (plain, non-mix ids), letting
// DecodeChunkList reconstruct per-entry sizes from whatever chunk
// store holds the list's bytes.
type ChunkSizer interface {
	ChunkSize(ctx context.Context, id chunkid.ChunkId) (uint64, error)
}

// DecodeChunkList parses a ChunkList's canonical JSON back into struct
// form, the inverse of canonicalValue, for the NDN HTTP server (C6)
// resolving an R-link or O-link target down to a streamable manifest.
// Mix-form chunk ids carry their own size; plain ids fall back to
// sizer, which may be nil if the caller already knows every entry is
// mix-form (e.g. round-tripping a list it just built itself).
func DecodeChunkList(ctx context.Context, canonical string, sizer ChunkSizer) (*ChunkList, error) {
	decoded, err := ndnobject.Decode(canonical)
	if err != nil {
		return nil, err
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "chunklist: canonical value is not an object", nil)
	}

	hashMethodText, _ := obj["hash_method"].(string)
	hashMethod, err := chunkid.ParseAlgo(hashMethodText)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "chunklist: decode hash_method", err)
	}

	totalSizeNum, ok := obj["total_size"].(json.Number)
	if !ok {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "chunklist: missing total_size", nil)
	}
	totalSize, err := totalSizeNum.Int64()
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "chunklist: decode total_size", err)
	}

	rawChunks, ok := obj["chunks"].([]any)
	if !ok {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "chunklist: missing chunks", nil)
	}
	entries := make([]Entry, 0, len(rawChunks))
	for _, rc := range rawChunks {
		text, ok := rc.(string)
		if !ok {
			return nil, ndnerr.Wrap(ndnerr.ErrParseError, "chunklist: chunk entry is not a string", nil)
		}
		id, err := chunkid.Parse(text)
		if err != nil {
			return nil, ndnerr.Wrap(ndnerr.ErrParseError, "chunklist: decode chunk id", err)
		}
		size, haveSize := id.Size()
		if !haveSize {
			if sizer == nil {
				return nil, ndnerr.Wrap(ndnerr.ErrInvalidId, fmt.Sprintf("chunklist: entry %s has no declared size and no sizer was given", id), nil)
			}
			size, err = sizer.ChunkSize(ctx, id)
			if err != nil {
				return nil, err
			}
		}
		entries = append(entries, Entry{ChunkId: id, Size: size})
	}

	return &ChunkList{HashMethod: hashMethod, TotalSize: uint64(totalSize), Entries: entries}, nil
}

// Locate finds which entry contains byte offset and the offset within
// that entry, for translating an HTTP Range request into a chunk read.
func (cl *ChunkList) Locate(offset uint64) (index int, entryOffset uint64, err error) {
	if offset >= cl.TotalSize {
		return 0, 0, ndnerr.Wrap(ndnerr.ErrInvalidId,
			fmt.Sprintf("chunklist: offset %d out of range (total_size %d)", offset, cl.TotalSize), nil)
	}
	var base uint64
	for i, e := range cl.Entries {
		if offset < base+e.Size {
			return i, offset - base, nil
		}
		base += e.Size
	}
	return 0, 0, ndnerr.Wrap(ndnerr.ErrInvalidId, "chunklist: offset not covered by any entry", nil)
}

// Span is one (entry, byte-range-within-entry) segment of a Range read.
type Span struct {
	Index  int
	Offset uint64
	Length uint64
}

// Spans splits the half-open byte range [start, end) into the ordered
// list of entry spans a reader must concatenate to serve it, letting
// the NDN HTTP server stream a Range response across chunk boundaries
// without loading the whole ChunkList's bytes.
func (cl *ChunkList) Spans(start, end uint64) ([]Span, error) {
	if end <= start || end > cl.TotalSize {
		return nil, ndnerr.Wrap(ndnerr.ErrInvalidId,
			fmt.Sprintf("chunklist: invalid range [%d,%d) for total_size %d", start, end, cl.TotalSize), nil)
	}

	var spans []Span
	var base uint64
	for i, e := range cl.Entries {
		entryStart, entryEnd := base, base+e.Size
		base = entryEnd

		overlapStart := max64(start, entryStart)
		overlapEnd := min64(end, entryEnd)
		if overlapStart >= overlapEnd {
			continue
		}
		spans = append(spans, Span{
			Index:  i,
			Offset: overlapStart - entryStart,
			Length: overlapEnd - overlapStart,
		})
	}
	return spans, nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
