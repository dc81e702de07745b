package ndnobject_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnobject"
)

func chunkContent(t *testing.T, data []byte) string {
	t.Helper()
	id, err := chunkid.FromHashBytes(chunkid.AlgoSha256, chunkid.HashBytes(chunkid.AlgoSha256, data))
	require.NoError(t, err)
	return id.String()
}

func TestFileObjectBuildObjectIsDeterministic(t *testing.T) {
	f := &ndnobject.FileObject{Name: "readme.md", Size: 5, Content: chunkContent(t, []byte("hello"))}
	id1, c1, err := f.BuildObject(chunkid.AlgoSha256)
	require.NoError(t, err)
	id2, c2, err := f.BuildObject(chunkid.AlgoSha256)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.True(t, id1.Equal(id2))
}

func TestFileObjectContentIsChunkListDisambiguation(t *testing.T) {
	single := &ndnobject.FileObject{Name: "a", Size: 5, Content: chunkContent(t, []byte("hello"))}
	isList, err := single.ContentIsChunkList()
	require.NoError(t, err)
	assert.False(t, isList)

	listID, _, err := ndnobject.BuildNamedObjectByJSON("chunk-list", map[string]any{"x": 1}, chunkid.AlgoSha256)
	require.NoError(t, err)
	multi := &ndnobject.FileObject{Name: "b", Size: 5, Content: listID.String()}
	isList, err = multi.ContentIsChunkList()
	require.NoError(t, err)
	assert.True(t, isList)
}

func TestFileObjectAddSameAsAcceptsMatchingAlgo(t *testing.T) {
	v1 := &ndnobject.FileObject{Name: "readme.md", Size: 5, Content: chunkContent(t, []byte("hello"))}
	v2 := &ndnobject.FileObject{Name: "readme.md", Size: 5, Content: chunkContent(t, []byte("hella"))}

	v1ID, _, err := v1.BuildObject(chunkid.AlgoSha256)
	require.NoError(t, err)

	err = v2.AddSameAs(v1, v1ID)
	require.NoError(t, err)
	require.Len(t, v2.Links, 1)
	assert.Equal(t, ndnobject.LinkSameAs, v2.Links[0].Kind)
	assert.True(t, v2.Links[0].FileId.Equal(v1ID))
}

func TestFileObjectAddSameAsRejectsUnparseableContent(t *testing.T) {
	chunkListID, _, err := ndnobject.BuildNamedObjectByJSON("chunk-list", map[string]any{"x": 1}, chunkid.AlgoSha256)
	require.NoError(t, err)

	v1 := &ndnobject.FileObject{Name: "a", Size: 0, Content: chunkListID.String()}
	v2 := &ndnobject.FileObject{Name: "b", Size: 5, Content: "not-a-valid-reference"}

	err = v2.AddSameAs(v1, chunkListID)
	assert.Error(t, err)
}
