package ndnobject

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnerr"
)

// Resolver fetches the canonical string for a referenced named object,
// implemented by NamedDataMgr against its object store. Kept as a
// narrow interface here so inner-path resolution stays a pure function
// of (root, segments, resolver) with no dependency on the manager's
// SQLite/Redis internals.
type Resolver interface {
	ResolveObject(ctx context.Context, id ObjId) (canonical string, err error)
}

// ResultKind classifies what inner-path resolution bottomed out at.
type ResultKind int

const (
	// KindScalar means the path reached a plain JSON value.
	KindScalar ResultKind = iota
	// KindObject means the path reached a (sub)object, returned as its
	// own canonical JSON string.
	KindObject
	// KindChunk means the path reached a field whose value is a
	// ChunkId: resolution stops here and the caller switches to
	// streaming the chunk's bytes instead of decoding further JSON.
	KindChunk
)

// Result is the outcome of resolving an inner path.
type Result struct {
	Kind ResultKind
	// Scalar holds the decoded value when Kind == KindScalar.
	Scalar any
	// Canonical holds the canonical JSON of the (sub)object when
	// Kind == KindObject.
	Canonical string
	// ObjectId is set when the (sub)object was reached through an
	// explicit ObjId reference rather than being an inline subtree.
	ObjectId ObjId
	// ChunkId is set when Kind == KindChunk.
	ChunkId chunkid.ChunkId
}

// Resolve walks segments through rootCanonical, following ObjId
// references via resolver and stopping at the first scalar or ChunkId
// field: if a field is a scalar it is returned directly; if it is an
// ObjId reference the referent is looked up through resolver and
// resolution recurses into it.
//
// An empty segments list returns the root itself as KindObject.
func Resolve(ctx context.Context, resolver Resolver, rootCanonical string, segments []string) (*Result, error) {
	current, err := Decode(rootCanonical)
	if err != nil {
		return nil, err
	}
	currentCanonical := rootCanonical

	for i, seg := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, ndnerr.Wrap(ndnerr.ErrInvalidId,
				fmt.Sprintf("ndnobject: cannot descend into non-object at segment %q", seg), nil)
		}
		field, present := obj[seg]
		if !present {
			return nil, ndnerr.Wrap(ndnerr.ErrNotFound,
				fmt.Sprintf("ndnobject: no field %q at path segment %d", seg, i), nil)
		}

		if text, isString := field.(string); isString {
			if id, parseErr := chunkid.Parse(text); parseErr == nil {
				return &Result{Kind: KindChunk, ChunkId: id}, nil
			}
			if objID, parseErr := ParseObjId(text); parseErr == nil {
				canonical, resolveErr := resolver.ResolveObject(ctx, objID)
				if resolveErr != nil {
					return nil, resolveErr
				}
				decoded, decodeErr := Decode(canonical)
				if decodeErr != nil {
					return nil, decodeErr
				}
				current = decoded
				currentCanonical = canonical
				if i == len(segments)-1 {
					return &Result{Kind: KindObject, Canonical: canonical, ObjectId: objID}, nil
				}
				continue
			}
		}

		if i == len(segments)-1 {
			switch val := field.(type) {
			case map[string]any, []any:
				sub, marshalErr := canonicalizeSubtree(val)
				if marshalErr != nil {
					return nil, marshalErr
				}
				return &Result{Kind: KindObject, Canonical: sub}, nil
			default:
				return &Result{Kind: KindScalar, Scalar: val}, nil
			}
		}

		current = field
	}

	return &Result{Kind: KindObject, Canonical: currentCanonical}, nil
}

func canonicalizeSubtree(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", ndnerr.Wrap(ndnerr.ErrParseError, "ndnobject: marshal subtree", err)
	}
	return CanonicalizeJSON(raw)
}
