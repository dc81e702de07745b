package chunkstore_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/chunkstore"
	"github.com/buckyos/ndncore/internal/ndnerr"
)

func newStore(t *testing.T) *chunkstore.Store {
	t.Helper()
	store, err := chunkstore.Open(chunkstore.Config{BaseDir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func writeWholeChunk(t *testing.T, store *chunkstore.Store, data []byte) chunkid.ChunkId {
	t.Helper()
	ctx := context.Background()
	hash := chunkid.HashBytes(chunkid.AlgoSha256, data)
	id, err := chunkid.FromHashBytes(chunkid.AlgoSha256, hash)
	require.NoError(t, err)

	w, err := store.CreateWriter(ctx, id, uint64(len(data)), "u1", "app1", "test chunk")
	require.NoError(t, err)
	require.NoError(t, w.AppendChunkData(ctx, data))
	require.NoError(t, w.VerifyDigest(ctx))
	require.NoError(t, w.Close())
	return id
}

func TestCreateWriterAndReadBackComplete(t *testing.T) {
	store := newStore(t)
	data := []byte("the quick brown fox jumps over the lazy dog")
	id := writeWholeChunk(t, store, data)

	item, err := store.GetChunkItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, chunkstore.StateComplete, item.State)
	assert.Equal(t, uint64(len(data)), item.AlreadyWriteSize)

	r, err := store.OpenReader(context.Background(), id)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestAppendChunkDataResumesAcrossWriters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	data := []byte("resumable chunk content spanning two appends")
	hash := chunkid.HashBytes(chunkid.AlgoSha256, data)
	id, err := chunkid.FromHashBytes(chunkid.AlgoSha256, hash)
	require.NoError(t, err)

	w1, err := store.CreateWriter(ctx, id, uint64(len(data)), "u1", "app1", "")
	require.NoError(t, err)
	require.NoError(t, w1.AppendChunkData(ctx, data[:10]))
	require.NoError(t, w1.Close())

	item, err := store.GetChunkItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, chunkstore.StateIncomplete, item.State)
	assert.Equal(t, uint64(10), item.AlreadyWriteSize)

	w2, err := store.CreateWriter(ctx, id, uint64(len(data)), "u1", "app1", "")
	require.NoError(t, err)
	require.NoError(t, w2.AppendChunkData(ctx, data[10:]))
	require.NoError(t, w2.Close())

	item, err = store.GetChunkItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, chunkstore.StateComplete, item.State)
	assert.Equal(t, uint64(len(data)), item.AlreadyWriteSize)
}

func TestCreateWriterRejectsConcurrentWriterForSameId(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	data := []byte("only one writer allowed at a time for this id")
	hash := chunkid.HashBytes(chunkid.AlgoSha256, data)
	id, err := chunkid.FromHashBytes(chunkid.AlgoSha256, hash)
	require.NoError(t, err)

	w1, err := store.CreateWriter(ctx, id, uint64(len(data)), "", "", "")
	require.NoError(t, err)
	defer w1.Close()

	done := make(chan error, 1)
	go func() {
		w2, err := store.CreateWriter(ctx, id, uint64(len(data)), "", "", "")
		if err == nil {
			w2.Close()
		}
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("second CreateWriter should have blocked until the first writer closed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, w1.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second writer never proceeded after the first closed")
	}
}

func TestOpenReaderRejectsIncompleteAndDisabled(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	data := []byte("not yet fully written")
	hash := chunkid.HashBytes(chunkid.AlgoSha256, data)
	id, err := chunkid.FromHashBytes(chunkid.AlgoSha256, hash)
	require.NoError(t, err)

	w, err := store.CreateWriter(ctx, id, uint64(len(data)), "", "", "")
	require.NoError(t, err)
	require.NoError(t, w.AppendChunkData(ctx, data[:5]))
	require.NoError(t, w.Close())

	_, err = store.OpenReader(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ndnerr.ErrIncomplete)

	complete := writeWholeChunk(t, store, []byte("a separate complete chunk"))
	require.NoError(t, store.SetState(ctx, complete, chunkstore.StateDisabled))

	_, err = store.OpenReader(ctx, complete)
	require.Error(t, err)
	assert.ErrorIs(t, err, ndnerr.ErrDisabled)
}

func TestOpenReaderRangeReturnsRequestedSlice(t *testing.T) {
	store := newStore(t)
	data := []byte("0123456789abcdefghij")
	id := writeWholeChunk(t, store, data)

	r, err := store.OpenReaderRange(context.Background(), id, 5, 5)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("56789"), got)
}

func TestLinkChunkIdResolvesToTarget(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	data := []byte("target chunk bytes")
	target := writeWholeChunk(t, store, data)

	aliasHash := chunkid.HashBytes(chunkid.AlgoSha256, []byte("alias placeholder"))
	alias, err := chunkid.FromHashBytes(chunkid.AlgoSha256, aliasHash)
	require.NoError(t, err)

	require.NoError(t, store.LinkChunkId(ctx, alias, target))

	resolved, ok, err := store.ResolveLink(ctx, alias)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, target.String(), resolved)

	// Link transparency (spec §8): is_chunk_exist(alias) reports the
	// same (true, size) as the target, and reading through the alias
	// yields the target's bytes, without ever creating a second row or
	// file under the alias's own id.
	existsAlias, sizeAlias, err := store.Exists(ctx, alias, false)
	require.NoError(t, err)
	existsTarget, sizeTarget, err := store.Exists(ctx, target, false)
	require.NoError(t, err)
	assert.Equal(t, existsTarget, existsAlias)
	assert.Equal(t, sizeTarget, sizeAlias)

	r, err := store.OpenReaderRange(ctx, alias, 0, -1)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestExistsAutoAddDiscoversMatchingFileButRejectsMismatch(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id := writeWholeChunk(t, store, []byte("file that already sits on disk"))

	exists, size, err := store.Exists(ctx, id, false)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint64(len("file that already sits on disk")), size)

	bogusHash := chunkid.HashBytes(chunkid.AlgoSha256, []byte("never written"))
	bogus, err := chunkid.FromHashBytes(chunkid.AlgoSha256, bogusHash)
	require.NoError(t, err)

	exists, _, err = store.Exists(ctx, bogus, true)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRetentionControllerPurgesOldDisabledChunks(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id := writeWholeChunk(t, store, []byte("chunk eligible for gc"))
	require.NoError(t, store.SetState(ctx, id, chunkstore.StateDisabled))

	controller := chunkstore.NewRetentionController(store)
	controller.AddPolicy(chunkstore.RetentionPolicy{Name: "purge-immediately", MinDisabledAge: 0})

	result, err := controller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksEvaluated)
	assert.Equal(t, 1, result.ChunksPurged)

	item, err := store.GetChunkItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, chunkstore.StateNotExist, item.State)
}

func TestBytesBufferSanityForHashing(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("sanity")
	h, n, err := chunkid.HashStream(chunkid.AlgoSha256, &buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)
	assert.Len(t, h, 32)
}
