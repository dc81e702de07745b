package delta

import (
	"context"
	"io"

	resticchunker "github.com/restic/chunker"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnerr"
)

// Default chunk size bounds for FastCDC. Chosen as a moderate window
// for NDN chunk objects: small enough that a single changed byte only
// invalidates one chunk's worth of a re-chunked FileObject, large
// enough that a ChunkList over a multi-gigabyte file stays a
// reasonable number of entries.
const (
	DefaultMinSize = 512 * 1024
	DefaultMaxSize = 8 * 1024 * 1024
)

// defaultPolynomial pins FastCDC's boundary decisions to a fixed
// value. resticchunker.RandomPolynomial would make identical bytes
// chunk differently on different nodes or runs, which defeats the
// whole point of re-chunking detection (the same payload must always
// reach the same ChunkId set wherever it is chunked).
const defaultPolynomial = resticchunker.Pol(0x3DA3358B4DC173)

// FastCDCChunker splits a byte stream into content-defined chunks
// using a Rabin-fingerprint rolling hash, so that inserting or
// deleting bytes in the middle of a file only shifts the chunk
// boundaries immediately around the edit rather than every boundary
// after it (the property spec §4.4's re-chunking/SameAs machinery
// depends on).
type FastCDCChunker struct {
	algo     chunkid.Algo
	pol      resticchunker.Pol
	min, max int
}

// NewFastCDCDefault builds a chunker with DefaultMinSize/DefaultMaxSize
// bounds and the fixed polynomial, hashing chunk contents with algo.
func NewFastCDCDefault(algo chunkid.Algo) *FastCDCChunker {
	return NewFastCDC(algo, DefaultMinSize, DefaultMaxSize, defaultPolynomial)
}

// NewFastCDC builds a chunker with explicit size bounds and
// polynomial. Two chunkers must share both to agree on chunk
// boundaries for the same input.
func NewFastCDC(algo chunkid.Algo, minSize, maxSize int, pol resticchunker.Pol) *FastCDCChunker {
	return &FastCDCChunker{algo: algo, pol: pol, min: minSize, max: maxSize}
}

// Chunk implements Chunker, streaming chunks as they are cut.
func (c *FastCDCChunker) Chunk(ctx context.Context, r io.Reader) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		ck := resticchunker.NewWithBoundaries(r, c.pol, uint(c.min), uint(c.max))
		buf := make([]byte, c.max)
		var offset int64

		for {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			default:
			}

			cut, err := ck.Next(buf)
			if err == io.EOF {
				return
			}
			if err != nil {
				errc <- ndnerr.Wrap(ndnerr.ErrIoError, "delta: content-defined chunking", err)
				return
			}

			data := make([]byte, cut.Length)
			copy(data, cut.Data)

			id, err := chunkid.FromHashBytes(c.algo, chunkid.HashBytes(c.algo, data))
			if err != nil {
				errc <- err
				return
			}

			select {
			case chunks <- Chunk{Id: id, Offset: offset, Size: int64(len(data)), Data: data}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
			offset += int64(len(data))
		}
	}()

	return chunks, errc
}

// ChunkAll implements Chunker, collecting the full chunk list.
func (c *FastCDCChunker) ChunkAll(ctx context.Context, r io.Reader) ([]Chunk, error) {
	chunks, errc := c.Chunk(ctx, r)
	var out []Chunk
	for chunk := range chunks {
		out = append(out, chunk)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return out, nil
}

var _ Chunker = (*FastCDCChunker)(nil)
