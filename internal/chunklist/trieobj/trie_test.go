package trieobj_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/chunklist/trieobj"
	"github.com/buckyos/ndncore/internal/ndnobject"
)

type memSink struct {
	objects map[string]string
}

func newMemSink() *memSink { return &memSink{objects: make(map[string]string)} }

func (s *memSink) PutObject(id ndnobject.ObjId, canonical string) error {
	s.objects[id.String()] = canonical
	return nil
}

func (s *memSink) ResolveObject(id ndnobject.ObjId) (string, error) {
	canonical, ok := s.objects[id.String()]
	if !ok {
		return "", assertErr("trie node not found")
	}
	return canonical, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func leafID(t *testing.T, name string) ndnobject.ObjId {
	t.Helper()
	id, _, err := ndnobject.BuildNamedObjectByJSON("file", map[string]any{"name": name}, chunkid.AlgoSha256)
	require.NoError(t, err)
	return id
}

func TestTrieBuildAndLookup(t *testing.T) {
	sink := newMemSink()
	builder := trieobj.NewBuilder(chunkid.AlgoSha256)

	readme := leafID(t, "readme.md")
	license := leafID(t, "license.txt")

	builder.Put([]byte("readme.md"), readme)
	builder.Put([]byte("license.txt"), license)

	root, err := builder.Build(sink)
	require.NoError(t, err)

	got, err := trieobj.Lookup(sink, root, []byte("readme.md"))
	require.NoError(t, err)
	assert.True(t, got.Equal(readme))

	got, err = trieobj.Lookup(sink, root, []byte("license.txt"))
	require.NoError(t, err)
	assert.True(t, got.Equal(license))
}

func TestTrieLookupMissingKeyFails(t *testing.T) {
	sink := newMemSink()
	builder := trieobj.NewBuilder(chunkid.AlgoSha256)
	builder.Put([]byte("a"), leafID(t, "a"))
	root, err := builder.Build(sink)
	require.NoError(t, err)

	_, err = trieobj.Lookup(sink, root, []byte("b"))
	assert.Error(t, err)
}

func TestTrieRootChangesWhenLeafChanges(t *testing.T) {
	sink1 := newMemSink()
	b1 := trieobj.NewBuilder(chunkid.AlgoSha256)
	b1.Put([]byte("a"), leafID(t, "a"))
	b1.Put([]byte("ab"), leafID(t, "ab-v1"))
	root1, err := b1.Build(sink1)
	require.NoError(t, err)

	sink2 := newMemSink()
	b2 := trieobj.NewBuilder(chunkid.AlgoSha256)
	b2.Put([]byte("a"), leafID(t, "a"))
	b2.Put([]byte("ab"), leafID(t, "ab-v2"))
	root2, err := b2.Build(sink2)
	require.NoError(t, err)

	assert.False(t, root1.Equal(root2), "changing a leaf must change the root id (Merkle property)")
}

func TestTrieSharedPrefixesCompress(t *testing.T) {
	sink := newMemSink()
	builder := trieobj.NewBuilder(chunkid.AlgoSha256)
	builder.Put([]byte("team"), leafID(t, "team"))
	builder.Put([]byte("teams"), leafID(t, "teams"))
	builder.Put([]byte("teapot"), leafID(t, "teapot"))

	root, err := builder.Build(sink)
	require.NoError(t, err)

	for _, key := range []string{"team", "teams", "teapot"} {
		_, err := trieobj.Lookup(sink, root, []byte(key))
		assert.NoError(t, err, key)
	}
}
