package ndnmgr_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/chunkstore"
	"github.com/buckyos/ndncore/internal/ndnerr"
	"github.com/buckyos/ndncore/internal/ndnmgr"
	"github.com/buckyos/ndncore/internal/ndnobject"
)

func newManager(t *testing.T) *ndnmgr.Manager {
	t.Helper()
	store, err := chunkstore.Open(chunkstore.Config{BaseDir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr, err := ndnmgr.Open(context.Background(), ndnmgr.Config{
		MgrId:    "test-zone",
		MetaDir:  t.TempDir(),
		Store:    store,
		HashAlgo: chunkid.AlgoSha256,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestPutObjectRejectsMismatchedId(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	objID, canonical, err := ndnobject.BuildNamedObjectByJSON("test", map[string]any{"a": 1}, chunkid.AlgoSha256)
	require.NoError(t, err)

	otherID, _, err := ndnobject.BuildNamedObjectByJSON("test", map[string]any{"a": 2}, chunkid.AlgoSha256)
	require.NoError(t, err)

	require.NoError(t, mgr.PutObject(ctx, objID, canonical))
	err = mgr.PutObject(ctx, otherID, canonical)
	assert.Error(t, err)
	assert.Equal(t, ndnerr.CodeInvalidId, ndnerr.CodeOf(err))
}

func TestPutObjectAndGetObjectRoundTrip(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	objID, canonical, err := ndnobject.BuildNamedObjectByJSON("test", map[string]any{"hello": "world"}, chunkid.AlgoSha256)
	require.NoError(t, err)

	require.NoError(t, mgr.PutObject(ctx, objID, canonical))

	got, err := mgr.GetObject(ctx, objID)
	require.NoError(t, err)
	assert.Equal(t, canonical, got)

	// a second read should hit the (disabled, since Redis isn't
	// configured in this test) cache path harmlessly and still return
	// the same canonical value.
	got2, err := mgr.GetObject(ctx, objID)
	require.NoError(t, err)
	assert.Equal(t, canonical, got2)
}

func TestGetObjectNotFound(t *testing.T) {
	mgr := newManager(t)
	unknown, err := ndnobject.ParseObjId("test:sha256:" + sampleHex())
	require.NoError(t, err)

	_, err = mgr.GetObject(context.Background(), unknown)
	assert.Error(t, err)
	assert.Equal(t, ndnerr.CodeNotFound, ndnerr.CodeOf(err))
}

func sampleHex() string {
	return "0000000000000000000000000000000000000000000000000000000000000000"[:64]
}

func TestPubObjectToFileCreatesThenCASConflicts(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	rec, err := mgr.PubObjectToFile(ctx, map[string]any{"v": 1}, "test", "/a/b", ndnmgr.SharePolicyPublic, "", "u1", "app1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Sequence)
	assert.True(t, rec.Enabled)

	// advancing with the correct expected sequence succeeds and bumps
	// the sequence number.
	expected := rec.Sequence
	rec2, err := mgr.PubObjectToFile(ctx, map[string]any{"v": 2}, "test", "/a/b", ndnmgr.SharePolicyPublic, "", "u1", "app1", &expected)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec2.Sequence)

	// publishing again against the now-stale expected sequence conflicts.
	_, err = mgr.PubObjectToFile(ctx, map[string]any{"v": 3}, "test", "/a/b", ndnmgr.SharePolicyPublic, "", "u1", "app1", &expected)
	assert.Error(t, err)
	assert.Equal(t, ndnerr.CodeConflict, ndnerr.CodeOf(err))
	var conflict *ndnerr.Conflict
	require.ErrorAs(t, err, &conflict)
	assert.EqualValues(t, 2, conflict.CurrentSequence)
}

func TestResolvePathNotFound(t *testing.T) {
	mgr := newManager(t)
	_, err := mgr.ResolvePath(context.Background(), "/does/not/exist")
	assert.Error(t, err)
	assert.Equal(t, ndnerr.CodeNotFound, ndnerr.CodeOf(err))
}

func TestSetPathEnabledTogglesWithoutTouchingSequence(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	rec, err := mgr.PubObjectToFile(ctx, map[string]any{"v": 1}, "test", "/a/b", ndnmgr.SharePolicyPublic, "", "u1", "app1", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.SetPathEnabled(ctx, "/a/b", false))
	got, err := mgr.ResolvePath(ctx, "/a/b")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, rec.Sequence, got.Sequence)

	require.NoError(t, mgr.SetPathEnabled(ctx, "/a/b", true))
	got, err = mgr.ResolvePath(ctx, "/a/b")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}

func TestPubLocalFileAsFileObjImportsAndPublishes(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello, ndncore"), 0o644))

	fileObj := &ndnobject.FileObject{Name: "hello.txt", Mime: "text/plain"}
	rec, fileID, err := mgr.PubLocalFileAsFileObj(ctx, localPath, "/files/hello.txt", fileObj, ndnmgr.SharePolicyPublic, "u1", "app1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Sequence)
	assert.Equal(t, fileID, rec.CurrentObjId)

	canonical, err := mgr.GetObject(ctx, fileID)
	require.NoError(t, err)
	decoded, err := ndnobject.DecodeFileObject(canonical)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", decoded.Name)
	assert.EqualValues(t, len("hello, ndncore"), decoded.Size)

	contentID, err := chunkid.Parse(decoded.Content)
	require.NoError(t, err)
	r, err := mgr.Store().OpenReader(ctx, contentID)
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	assert.Equal(t, "hello, ndncore", string(buf[:n]))
}

func TestCreateFileRequiresExistingObject(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	unknown, err := ndnobject.ParseObjId("file:sha256:" + sampleHex())
	require.NoError(t, err)

	_, err = mgr.CreateFile(ctx, "/a/b", unknown, "app1", ndnmgr.SharePolicyPublic, nil)
	assert.Error(t, err)
	assert.Equal(t, ndnerr.CodeNotFound, ndnerr.CodeOf(err))
}
