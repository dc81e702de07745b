package ndnobject

import (
	"encoding/json"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnerr"
)

// ObjTypeFile is the obj_type tag a FileObject's canonical encoding
// carries.
const ObjTypeFile = "file"

// LinkKind enumerates the relationships a FileObject can declare about
// itself. Only SameAs exists today (spec §4.4).
type LinkKind string

// LinkSameAs declares that the linked FileObject represents the same
// payload as this one, letting a server reconstruct one from the
// other's already-stored chunks instead of fetching fresh bytes.
const LinkSameAs LinkKind = "same_as"

// Link is one entry of FileObject.links.
type Link struct {
	Kind   LinkKind
	FileId ObjId
}

// FileObject is the named object type for a single published file
// (spec §3: "{ name, size, content: ChunkId | ChunkListId, mime?,
// create_time?, links?: [SameAs(FileId) | ...], ... }").
type FileObject struct {
	Name       string
	Size       uint64
	Content    string // textual ChunkId or ChunkList ObjId
	Mime       string
	CreateTime int64
	Links      []Link
}

// ContentIsChunkList reports whether Content addresses a ChunkList
// rather than a single chunk, parsing it the same way inner-path
// resolution disambiguates a field's reference kind: ChunkId's
// one-colon form is tried first, ParseObjId's two-colon form second.
func (f *FileObject) ContentIsChunkList() (bool, error) {
	if _, err := chunkid.Parse(f.Content); err == nil {
		return false, nil
	}
	if _, err := ParseObjId(f.Content); err == nil {
		return true, nil
	}
	return false, ndnerr.Wrap(ndnerr.ErrParseError, "fileobject: content is neither a ChunkId nor an ObjId", nil)
}

// ContentAlgo returns the hash algorithm Content was addressed with,
// used to enforce the SameAs same-hash-method restriction below.
func (f *FileObject) ContentAlgo() (chunkid.Algo, error) {
	if id, err := chunkid.Parse(f.Content); err == nil {
		return id.Algo(), nil
	}
	if id, err := ParseObjId(f.Content); err == nil {
		return id.Algo, nil
	}
	return chunkid.AlgoUnknown, ndnerr.Wrap(ndnerr.ErrParseError, "fileobject: content is neither a ChunkId nor an ObjId", nil)
}

// canonicalValue renders f the way BuildNamedObjectByJSON expects.
func (f *FileObject) canonicalValue() map[string]any {
	v := map[string]any{
		"name":    f.Name,
		"size":    f.Size,
		"content": f.Content,
	}
	if f.Mime != "" {
		v["mime"] = f.Mime
	}
	if f.CreateTime != 0 {
		v["create_time"] = f.CreateTime
	}
	if len(f.Links) > 0 {
		links := make([]any, len(f.Links))
		for i, l := range f.Links {
			links[i] = map[string]any{"kind": string(l.Kind), "file_id": l.FileId.String()}
		}
		v["links"] = links
	}
	return v
}

// BuildObject canonicalizes f and returns its ObjId, hashed with algo.
func (f *FileObject) BuildObject(algo chunkid.Algo) (ObjId, string, error) {
	return BuildNamedObjectByJSON(ObjTypeFile, f.canonicalValue(), algo)
}

// DecodeFileObject parses a FileObject's canonical JSON back into
// struct form, the inverse of canonicalValue. It is deliberately
// tolerant of absent optional fields and does not itself verify the
// canonical string against any ObjId; callers that received the
// canonical string over an untrusted channel should call VerifyJSON
// or Verify first.
func DecodeFileObject(canonical string) (*FileObject, error) {
	decoded, err := Decode(canonical)
	if err != nil {
		return nil, err
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "fileobject: canonical value is not an object", nil)
	}

	f := &FileObject{}
	f.Name, _ = obj["name"].(string)
	f.Content, _ = obj["content"].(string)
	f.Mime, _ = obj["mime"].(string)
	if size, ok := obj["size"].(json.Number); ok {
		n, err := size.Int64()
		if err != nil {
			return nil, ndnerr.Wrap(ndnerr.ErrParseError, "fileobject: decode size", err)
		}
		f.Size = uint64(n)
	}
	if ct, ok := obj["create_time"].(json.Number); ok {
		n, err := ct.Int64()
		if err != nil {
			return nil, ndnerr.Wrap(ndnerr.ErrParseError, "fileobject: decode create_time", err)
		}
		f.CreateTime = n
	}
	if rawLinks, ok := obj["links"].([]any); ok {
		for _, rl := range rawLinks {
			linkMap, ok := rl.(map[string]any)
			if !ok {
				continue
			}
			kind, _ := linkMap["kind"].(string)
			fileIDText, _ := linkMap["file_id"].(string)
			fileID, err := ParseObjId(fileIDText)
			if err != nil {
				return nil, ndnerr.Wrap(ndnerr.ErrParseError, "fileobject: decode link file_id", err)
			}
			f.Links = append(f.Links, Link{Kind: LinkKind(kind), FileId: fileID})
		}
	}
	return f, nil
}

// ValidateSameAs enforces the conservative Open Question decision
// (Design Notes/DESIGN.md): a SameAs link is only legal between
// FileObjects whose content is addressed with the same hash method,
// never across hash methods even when both happen to be empty or
// otherwise coincide.
func ValidateSameAs(a, b *FileObject) error {
	algoA, err := a.ContentAlgo()
	if err != nil {
		return err
	}
	algoB, err := b.ContentAlgo()
	if err != nil {
		return err
	}
	if algoA != algoB {
		return ndnerr.Wrap(ndnerr.ErrInvalidId, "fileobject: same_as requires matching hash methods", nil)
	}
	return nil
}

// AddSameAs appends a validated SameAs link from f to other, returning
// an error rather than mutating f if the hash-method restriction is
// violated.
func (f *FileObject) AddSameAs(other *FileObject, otherId ObjId) error {
	if err := ValidateSameAs(f, other); err != nil {
		return err
	}
	f.Links = append(f.Links, Link{Kind: LinkSameAs, FileId: otherId})
	return nil
}
