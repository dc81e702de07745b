package ndnobject

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnerr"
)

// ObjId identifies a typed named object by the hash of its canonical
// JSON encoding: a generalization of ChunkId for named objects,
// {obj_type}:{hash}. The textual form embeds the hash algorithm
// alongside the digest, the same way ChunkId does, so a parsed ObjId
// is self-describing rather than requiring the reader to already know
// which algorithm produced it.
type ObjId struct {
	ObjType string
	Algo    chunkid.Algo
	Hash    []byte
}

// String renders "{obj_type}:{algo}:{hex}".
func (id ObjId) String() string {
	return fmt.Sprintf("%s:%s:%x", id.ObjType, id.Algo, id.Hash)
}

// IsZero reports whether id is the unset value.
func (id ObjId) IsZero() bool { return id.ObjType == "" }

// Equal reports whether two ObjIds identify the same object.
func (id ObjId) Equal(other ObjId) bool {
	return id.ObjType == other.ObjType && id.Algo == other.Algo && bytes.Equal(id.Hash, other.Hash)
}

// ParseObjId decodes the textual form produced by ObjId.String.
func ParseObjId(text string) (ObjId, error) {
	parts := strings.SplitN(text, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ObjId{}, ndnerr.Wrap(ndnerr.ErrParseError, fmt.Sprintf("ndnobject: malformed obj id %q", text), nil)
	}
	algo, err := chunkid.ParseAlgo(parts[1])
	if err != nil {
		return ObjId{}, ndnerr.Wrap(ndnerr.ErrParseError, "ndnobject: parse obj id algo", err)
	}
	hash, err := hex.DecodeString(parts[2])
	if err != nil || len(hash) != algo.Size() {
		return ObjId{}, ndnerr.Wrap(ndnerr.ErrParseError, fmt.Sprintf("ndnobject: malformed obj id digest %q", parts[2]), nil)
	}
	return ObjId{ObjType: parts[0], Algo: algo, Hash: hash}, nil
}

// BuildNamedObjectByJSON canonicalizes value and returns its ObjId
// alongside the canonical string that hashed to it.
func BuildNamedObjectByJSON(objType string, value any, algo chunkid.Algo) (ObjId, string, error) {
	canonical, err := Canonicalize(value)
	if err != nil {
		return ObjId{}, "", err
	}
	hash := chunkid.HashBytes(algo, []byte(canonical))
	return ObjId{ObjType: objType, Algo: algo, Hash: hash}, canonical, nil
}

// Verify reports whether canonical hashes to id, per spec §4.3's
// verify(obj_id, canonical_str). It does not re-canonicalize; callers
// that received an un-trusted JSON document should canonicalize it
// first and compare the canonical strings, or call VerifyJSON.
func Verify(id ObjId, canonical string) bool {
	if id.IsZero() {
		return false
	}
	hash := chunkid.HashBytes(id.Algo, []byte(canonical))
	return bytes.Equal(hash, id.Hash)
}

// VerifyJSON canonicalizes raw JSON and verifies it against id in one
// step, the form most callers receiving bytes off the wire want.
func VerifyJSON(id ObjId, raw []byte) (canonical string, ok bool, err error) {
	canonical, err = CanonicalizeJSON(raw)
	if err != nil {
		return "", false, err
	}
	return canonical, Verify(id, canonical), nil
}
