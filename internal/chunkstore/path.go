package chunkstore

import (
	"encoding/hex"
	"path/filepath"

	"github.com/buckyos/ndncore/internal/chunkid"
)

// dataPath computes the on-disk path for a chunk's bytes using 2-level
// directory sharding on the hex digest, generalizing the teacher's
// domain.ComputeStoragePath (internal/domain/blob.go) from a bare
// content hash to a ChunkId, and keying strictly off the raw digest so
// a mix-form and plain-form id for the same bytes resolve to the same
// file (spec §6: on-disk layout "{hex[0..2]}/{hex[2..4]}/{hex[4..]}.{algo}").
func dataPath(baseDir string, id chunkid.ChunkId) string {
	digest := hex.EncodeToString(id.Hash())
	if len(digest) < 4 {
		return filepath.Join(baseDir, digest+"."+id.Algo().String())
	}
	return filepath.Join(baseDir, digest[0:2], digest[2:4], digest[4:]+"."+id.Algo().String())
}

// metadataKey is the chunk_items/chunk_links primary key: the id's
// plain (non-mix) textual form, so a mix id and its plain counterpart
// for the same content share one metadata row.
func metadataKey(id chunkid.ChunkId) string {
	return id.Algo().String() + ":" + hex.EncodeToString(id.Hash())
}
