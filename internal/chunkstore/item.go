package chunkstore

import "time"

// ChunkItem is the metadata row tracked per chunk id, mirroring
// original_source/src/components/ndn-lib/src/local_store.rs's
// ChunkItem (chunk_id, chunk_size, chunk_state, already_write_size,
// create_uid, create_appid, description, create_time, update_time).
type ChunkItem struct {
	ChunkId          string
	ChunkSize        uint64
	State            ChunkState
	AlreadyWriteSize uint64
	CreateUid        string
	CreateAppId      string
	Description      string
	CreateTime       time.Time
	UpdateTime       time.Time
}

// IsComplete reports whether every declared byte has arrived and the
// chunk can be served.
func (i *ChunkItem) IsComplete() bool {
	return i.State == StateComplete
}

// IsReadable reports whether the chunk's bytes can currently be served
// to a reader (complete and not administratively disabled).
func (i *ChunkItem) IsReadable() bool {
	return i.State == StateComplete
}
