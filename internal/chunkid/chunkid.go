package chunkid

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// mixEncoding is unpadded base32 over size||hash, matching the
// original's mix-id encoding (original_source: ChunkId::mix_from_hash_result).
var mixEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ChunkId is the content identifier for an immutable byte blob: an
// algorithm tag plus a digest, optionally carrying the blob's byte
// length in "mix" form (spec §3.2).
type ChunkId struct {
	algo Algo
	hash []byte
	mix  bool
	size uint64
}

// FromHashBytes builds a plain (non-mix) ChunkId from a digest already
// computed by algo's hash function. It does not recompute the hash.
func FromHashBytes(algo Algo, hash []byte) (ChunkId, error) {
	if algo == AlgoUnknown {
		return ChunkId{}, ndnerr.Wrap(ndnerr.ErrInvalidId, "chunkid: unknown algo", nil)
	}
	if len(hash) != algo.Size() {
		return ChunkId{}, ndnerr.Wrap(ndnerr.ErrInvalidId,
			fmt.Sprintf("chunkid: hash length %d does not match %s digest size %d", len(hash), algo, algo.Size()), nil)
	}
	cp := make([]byte, len(hash))
	copy(cp, hash)
	return ChunkId{algo: algo, hash: cp}, nil
}

// MixFrom builds a mix-form ChunkId embedding size alongside the
// digest, matching ChunkId::mix_from_hash_result in the original store.
// Mix form lets a reader learn a chunk's exact byte length from its id
// alone, before any bytes are fetched.
func MixFrom(size uint64, hash []byte, algo Algo) (ChunkId, error) {
	id, err := FromHashBytes(algo, hash)
	if err != nil {
		return ChunkId{}, err
	}
	id.mix = true
	id.size = size
	return id, nil
}

// HashBytes computes algo's digest of buf.
func HashBytes(algo Algo, buf []byte) []byte {
	h := algo.New()
	h.Write(buf)
	return h.Sum(nil)
}

// HashStream computes algo's digest of r without buffering the whole
// stream in memory, returning the digest and the number of bytes read.
func HashStream(algo Algo, r io.Reader) ([]byte, uint64, error) {
	h := algo.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return nil, 0, ndnerr.Wrap(ndnerr.ErrIoError, "chunkid: hash stream", err)
	}
	return h.Sum(nil), uint64(n), nil
}

// Algo returns the identifier's hash method.
func (c ChunkId) Algo() Algo { return c.algo }

// Hash returns the raw digest bytes. The caller must not mutate the
// returned slice.
func (c ChunkId) Hash() []byte { return c.hash }

// IsMix reports whether the id was constructed in mix form.
func (c ChunkId) IsMix() bool { return c.mix }

// Size returns the byte length embedded in a mix-form id, and false
// for a plain id where no length is known from the id alone.
func (c ChunkId) Size() (uint64, bool) {
	if !c.mix {
		return 0, false
	}
	return c.size, true
}

// IsZero reports whether c is the unset ChunkId value.
func (c ChunkId) IsZero() bool { return c.algo == AlgoUnknown }

// Equal reports whether c identifies the same content as rawHash under
// the same algorithm (spec §8: "Hash identity").
func (c ChunkId) Equal(algo Algo, rawHash []byte) bool {
	if c.algo != algo || len(c.hash) != len(rawHash) {
		return false
	}
	for i := range c.hash {
		if c.hash[i] != rawHash[i] {
			return false
		}
	}
	return true
}

// String renders the canonical textual form: "{algo}:{hex}" for a
// plain id, or "mix{algo}:{base32(size||hash)}" for a mix id.
func (c ChunkId) String() string {
	if c.IsZero() {
		return ""
	}
	if !c.mix {
		return fmt.Sprintf("%s:%x", c.algo, c.hash)
	}
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], c.size)
	payload := append(append([]byte(nil), sizeBuf[:]...), c.hash...)
	return fmt.Sprintf("mix%s:%s", c.algo, mixEncoding.EncodeToString(payload))
}

// Parse decodes a ChunkId from its canonical textual form, in either
// plain or mix encoding.
func Parse(text string) (ChunkId, error) {
	algoPart, rest, ok := strings.Cut(text, ":")
	if !ok || algoPart == "" || rest == "" {
		return ChunkId{}, ndnerr.Wrap(ndnerr.ErrParseError,
			fmt.Sprintf("chunkid: malformed id %q", text), nil)
	}

	if mixAlgo, ok := strings.CutPrefix(algoPart, "mix"); ok {
		algo, err := ParseAlgo(mixAlgo)
		if err != nil {
			return ChunkId{}, ndnerr.Wrap(ndnerr.ErrParseError, "chunkid: parse mix algo", err)
		}
		payload, err := mixEncoding.DecodeString(rest)
		if err != nil {
			return ChunkId{}, ndnerr.Wrap(ndnerr.ErrParseError, "chunkid: decode mix payload", err)
		}
		if len(payload) != 8+algo.Size() {
			return ChunkId{}, ndnerr.Wrap(ndnerr.ErrParseError,
				fmt.Sprintf("chunkid: mix payload length %d, want %d", len(payload), 8+algo.Size()), nil)
		}
		size := binary.BigEndian.Uint64(payload[:8])
		return MixFrom(size, payload[8:], algo)
	}

	algo, err := ParseAlgo(algoPart)
	if err != nil {
		return ChunkId{}, ndnerr.Wrap(ndnerr.ErrParseError, "chunkid: parse algo", err)
	}
	hash, err := hex.DecodeString(rest)
	if err != nil {
		return ChunkId{}, ndnerr.Wrap(ndnerr.ErrParseError,
			fmt.Sprintf("chunkid: malformed hex digest %q", rest), err)
	}
	return FromHashBytes(algo, hash)
}
