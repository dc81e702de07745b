package ndnmgr

import (
	"encoding/json"
	"time"

	"github.com/buckyos/ndncore/internal/ndnerr"
	"github.com/buckyos/ndncore/internal/ndnobject"
)

// PathProof is the `cyfs-path-obj` proof that an obj_path bound to a
// given root object at a given sequence (spec §4.6). With no external
// signer in scope (Open Question, resolved in DESIGN.md), it carries
// the revision record itself rather than a cryptographic signature or
// Merkle proof, letting a client recompute or compare it against its
// own view of the path's history.
type PathProof struct {
	ObjPath  string `json:"obj_path"`
	Sequence uint64 `json:"sequence"`
	ObjId    string `json:"obj_id"`
	SignedAt int64  `json:"signed_at"`
}

// BuildPathProof renders rec as its serving-time PathProof.
func BuildPathProof(rec *PublicationRecord) PathProof {
	return PathProof{
		ObjPath:  rec.ObjPath,
		Sequence: rec.Sequence,
		ObjId:    rec.CurrentObjId.String(),
		SignedAt: time.Now().UTC().Unix(),
	}
}

// Encode renders the proof as the JSON bytes carried in the
// `cyfs-path-obj` header.
func (p PathProof) Encode() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "ndnmgr: encode path proof", err)
	}
	return raw, nil
}

// DecodePathProof parses a `cyfs-path-obj` header value.
func DecodePathProof(raw []byte) (PathProof, error) {
	var p PathProof
	if err := json.Unmarshal(raw, &p); err != nil {
		return PathProof{}, ndnerr.Wrap(ndnerr.ErrParseError, "ndnmgr: decode path proof", err)
	}
	return p, nil
}

// Verify reports whether the proof's obj_id matches root, the check a
// client MAY perform against a known zone policy (spec §4.7).
func (p PathProof) Verify(root ndnobject.ObjId) bool {
	return p.ObjId == root.String()
}
