package ndnobject_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnobject"
)

func TestCanonicalizeSortsKeysAndPreservesNumbers(t *testing.T) {
	canonical, err := ndnobject.CanonicalizeJSON([]byte(`{"b": 1, "a": 7, "c": {"z": 1.50, "y": 2}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":7,"b":1,"c":{"y":2,"z":1.50}}`, canonical)
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	once, err := ndnobject.CanonicalizeJSON([]byte(`{"int":7,"string":"s","obj":{"int":7,"string":"s"}}`))
	require.NoError(t, err)

	twice, err := ndnobject.CanonicalizeJSON([]byte(once))
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestRoundTripObjectHashMatches(t *testing.T) {
	value := map[string]any{"int": 7, "string": "s", "obj": map[string]any{"int": 7, "string": "s"}}

	id, canonical, err := ndnobject.BuildNamedObjectByJSON("non-test-obj", value, chunkid.AlgoSha256)
	require.NoError(t, err)

	parsed, err := ndnobject.ParseObjId(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))

	assert.True(t, ndnobject.Verify(id, canonical))
}

func TestVerifyRejectsTamperedCanonical(t *testing.T) {
	id, canonical, err := ndnobject.BuildNamedObjectByJSON("file", map[string]any{"name": "a.txt", "size": 10}, chunkid.AlgoSha256)
	require.NoError(t, err)
	require.True(t, ndnobject.Verify(id, canonical))

	tampered := canonical[:len(canonical)-1] + "1}"
	assert.False(t, ndnobject.Verify(id, tampered))
}

type fakeResolver struct {
	objects map[string]string
}

func (f *fakeResolver) ResolveObject(ctx context.Context, id ndnobject.ObjId) (string, error) {
	canonical, ok := f.objects[id.String()]
	if !ok {
		return "", assertNotFoundErr
	}
	return canonical, nil
}

var assertNotFoundErr = assertError("object not found")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestResolveReturnsScalarForDirectField(t *testing.T) {
	root := `{"name":"readme.md","size":1024}`
	result, err := ndnobject.Resolve(context.Background(), &fakeResolver{}, root, []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, ndnobject.KindScalar, result.Kind)
	assert.Equal(t, "readme.md", result.Scalar)
}

func TestResolveFollowsObjIdReferenceAndRecurses(t *testing.T) {
	inner := `{"int":7,"string":"s"}`
	innerID, _, err := ndnobject.BuildNamedObjectByJSON("container", map[string]any{"int": 7, "string": "s"}, chunkid.AlgoSha256)
	require.NoError(t, err)

	resolver := &fakeResolver{objects: map[string]string{innerID.String(): inner}}
	root := `{"obj":"` + innerID.String() + `"}`

	result, err := ndnobject.Resolve(context.Background(), resolver, root, []string{"obj", "int"})
	require.NoError(t, err)
	assert.Equal(t, ndnobject.KindScalar, result.Kind)
}

func TestResolveStopsAtChunkIdField(t *testing.T) {
	hash := chunkid.HashBytes(chunkid.AlgoSha256, []byte("chunk bytes"))
	id, err := chunkid.FromHashBytes(chunkid.AlgoSha256, hash)
	require.NoError(t, err)

	root := `{"content":"` + id.String() + `"}`
	result, err := ndnobject.Resolve(context.Background(), &fakeResolver{}, root, []string{"content"})
	require.NoError(t, err)
	assert.Equal(t, ndnobject.KindChunk, result.Kind)
	assert.True(t, result.ChunkId.Equal(chunkid.AlgoSha256, hash))
}

func TestResolveMissingFieldIsNotFound(t *testing.T) {
	_, err := ndnobject.Resolve(context.Background(), &fakeResolver{}, `{"a":1}`, []string{"missing"})
	assert.Error(t, err)
}
