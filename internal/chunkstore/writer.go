package chunkstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnerr"
)

// Writer is a resumable handle for writing a chunk's bytes. Only one
// Writer may be open for a given chunk id at a time (spec §4.2:
// "at most one writer per chunk id"); CreateWriter enforces this with
// an in-process keyed lock plus, if configured, a cross-process Redis
// lock, released on Close.
type Writer struct {
	store    *Store
	id       chunkid.ChunkId
	key      string
	size     uint64
	file     *os.File
	token    string
	released bool
}

// CreateWriter opens id for writing size declared bytes. If a
// chunk_items row does not yet exist it is created in StateNew;
// if one exists, writing resumes from AlreadyWriteSize (spec §4.2's
// resumable append_chunk_data).
func (s *Store) CreateWriter(ctx context.Context, id chunkid.ChunkId, size uint64, uid, appID, description string) (*Writer, error) {
	key := metadataKey(id)

	s.locks.Lock(key)
	release := func() { s.locks.Unlock(key) }

	token, err := s.dist.Lock(ctx, key, 30*time.Second)
	if err != nil {
		release()
		return nil, err
	}
	fail := func(err error) (*Writer, error) {
		s.dist.Unlock(ctx, key, token)
		release()
		return nil, err
	}

	item, err := s.db.get(ctx, key)
	switch {
	case err == nil:
		if item.State == StateComplete {
			return fail(ndnerr.Wrap(ndnerr.ErrConflict, fmt.Sprintf("chunkstore: chunk %s already complete", key), nil))
		}
		if item.State == StateDisabled {
			return fail(ndnerr.Wrap(ndnerr.ErrDisabled, fmt.Sprintf("chunkstore: chunk %s", key), nil))
		}
	case errIsNotFound(err):
		now := time.Now().UTC()
		if insertErr := s.db.insertNew(ctx, key, size, uid, appID, description, now); insertErr != nil {
			return fail(insertErr)
		}
	default:
		return fail(err)
	}

	path := dataPath(s.baseDir, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fail(ndnerr.Wrap(ndnerr.ErrIoError, "chunkstore: create chunk directory", err))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fail(ndnerr.Wrap(ndnerr.ErrIoError, "chunkstore: open chunk file for write", err))
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return fail(ndnerr.Wrap(ndnerr.ErrIoError, "chunkstore: seek chunk file for write", err))
	}

	return &Writer{store: s, id: id, key: key, size: size, file: f, token: token}, nil
}

// AppendChunkData appends data to the chunk at its current write
// offset and advances already_write_size, flipping the chunk's state
// to Complete once size bytes have arrived.
func (w *Writer) AppendChunkData(ctx context.Context, data []byte) error {
	if w.released {
		return ndnerr.Wrap(ndnerr.ErrConflict, "chunkstore: writer already closed", nil)
	}
	n, err := w.file.Write(data)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrIoError, "chunkstore: write chunk bytes", err)
	}

	now := time.Now().UTC()
	item, err := w.store.db.get(ctx, w.key)
	if err != nil {
		return err
	}
	newWritten := item.AlreadyWriteSize + uint64(n)

	nextState := StateIncomplete
	if newWritten >= w.size {
		nextState = StateComplete
	}
	return w.store.db.appendWrite(ctx, w.key, uint64(n), nextState, now)
}

// VerifyDigest re-reads the chunk's bytes from disk and confirms they
// hash to id, used after a Complete transition to catch a corrupted or
// truncated write. It does not change the chunk's state: a chunk that
// fails here stays Complete.
func (w *Writer) VerifyDigest(ctx context.Context) error {
	f, err := os.Open(w.file.Name())
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrIoError, "chunkstore: reopen chunk for verification", err)
	}
	defer f.Close()

	hash, _, err := chunkid.HashStream(w.id.Algo(), f)
	if err != nil {
		return err
	}
	if !w.id.Equal(w.id.Algo(), hash) {
		return ndnerr.Wrap(ndnerr.ErrConflict, fmt.Sprintf("chunkstore: chunk %s failed digest verification", w.key), nil)
	}
	return nil
}

// Close releases the chunk id's writer locks.
func (w *Writer) Close() error {
	if w.released {
		return nil
	}
	w.released = true
	err := w.file.Close()
	w.store.dist.Unlock(context.Background(), w.key, w.token)
	w.store.locks.Unlock(w.key)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrIoError, "chunkstore: close chunk file", err)
	}
	return nil
}
