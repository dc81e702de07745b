package chunklist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/chunklist"
)

func mustChunk(t *testing.T, data []byte) (chunkid.ChunkId, uint64) {
	t.Helper()
	hash := chunkid.HashBytes(chunkid.AlgoSha256, data)
	id, err := chunkid.FromHashBytes(chunkid.AlgoSha256, hash)
	require.NoError(t, err)
	return id, uint64(len(data))
}

func buildThreeChunkList(t *testing.T) *chunklist.ChunkList {
	t.Helper()
	id1, size1 := mustChunk(t, []byte("0123456789"))
	id2, size2 := mustChunk(t, []byte("abcdefghij"))
	id3, size3 := mustChunk(t, []byte("ABCDE"))

	cl, err := chunklist.NewBuilder(chunkid.AlgoSha256).
		Append(id1, size1).
		Append(id2, size2).
		Append(id3, size3).
		Build()
	require.NoError(t, err)
	return cl
}

func TestBuilderRejectsMismatchedTotalSize(t *testing.T) {
	id, size := mustChunk(t, []byte("0123456789"))
	_, err := chunklist.NewBuilder(chunkid.AlgoSha256).
		WithTotalSize(999).
		Append(id, size).
		Build()
	assert.Error(t, err)
}

func TestBuilderComputesTotalSizeWhenNotDeclared(t *testing.T) {
	cl := buildThreeChunkList(t)
	assert.Equal(t, uint64(25), cl.TotalSize)
}

func TestLocateFindsEntryAndOffset(t *testing.T) {
	cl := buildThreeChunkList(t)

	idx, off, err := cl.Locate(0)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, uint64(0), off)

	idx, off, err = cl.Locate(12)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, uint64(2), off)

	idx, off, err = cl.Locate(22)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, uint64(2), off)

	_, _, err = cl.Locate(25)
	assert.Error(t, err)
}

func TestSpansCoversSingleEntry(t *testing.T) {
	cl := buildThreeChunkList(t)

	spans, err := cl.Spans(2, 8)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, chunklist.Span{Index: 0, Offset: 2, Length: 6}, spans[0])
}

func TestSpansCoversMultipleEntries(t *testing.T) {
	cl := buildThreeChunkList(t)

	spans, err := cl.Spans(8, 22)
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, chunklist.Span{Index: 0, Offset: 8, Length: 2}, spans[0])
	assert.Equal(t, chunklist.Span{Index: 1, Offset: 0, Length: 10}, spans[1])
	assert.Equal(t, chunklist.Span{Index: 2, Offset: 0, Length: 2}, spans[2])
}

func TestBuildObjectIsDeterministic(t *testing.T) {
	cl := buildThreeChunkList(t)
	id1, canonical1, err := cl.BuildObject()
	require.NoError(t, err)
	id2, canonical2, err := cl.BuildObject()
	require.NoError(t, err)

	assert.Equal(t, canonical1, canonical2)
	assert.True(t, id1.Equal(id2))
}

func TestDifferentChunkingOfSamePayloadProducesDifferentId(t *testing.T) {
	whole, wholeSize := mustChunk(t, []byte("0123456789abcdefghijABCDE"))
	oneChunk, err := chunklist.NewBuilder(chunkid.AlgoSha256).Append(whole, wholeSize).Build()
	require.NoError(t, err)

	threeChunks := buildThreeChunkList(t)

	oneID, _, err := oneChunk.BuildObject()
	require.NoError(t, err)
	threeID, _, err := threeChunks.BuildObject()
	require.NoError(t, err)

	assert.False(t, oneID.Equal(threeID))
	assert.Equal(t, oneChunk.TotalSize, threeChunks.TotalSize)
}
