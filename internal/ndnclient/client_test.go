package ndnclient_test

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/chunkstore"
	"github.com/buckyos/ndncore/internal/ndnclient"
	"github.com/buckyos/ndncore/internal/ndnmgr"
	"github.com/buckyos/ndncore/internal/ndnobject"
	"github.com/buckyos/ndncore/internal/ndnserver"
)

func newTestServer(t *testing.T) (*httptest.Server, *chunkstore.Store, *ndnmgr.Manager) {
	t.Helper()
	store, err := chunkstore.Open(chunkstore.Config{BaseDir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr, err := ndnmgr.Open(context.Background(), ndnmgr.Config{
		MgrId: "test-zone", MetaDir: t.TempDir(), Store: store, HashAlgo: chunkid.AlgoSha256,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	srv := ndnserver.New(ndnserver.Config{Mgr: mgr, Logger: zerolog.Nop()})
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return httpSrv, store, mgr
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

func TestGetObjByUrlVerifiesBody(t *testing.T) {
	httpSrv, _, mgr := newTestServer(t)
	ctx := context.Background()

	objID, canonical, err := ndnobject.BuildNamedObjectByJSON("test", map[string]any{"hello": "world"}, chunkid.AlgoSha256)
	require.NoError(t, err)
	require.NoError(t, mgr.PutObject(ctx, objID, canonical))

	client := ndnclient.New(ndnclient.Config{})
	gotID, gotCanonical, err := client.GetObjByUrl(ctx, httpSrv.URL+"/ndn/"+objID.String())
	require.NoError(t, err)
	assert.True(t, gotID.Equal(objID))
	assert.JSONEq(t, canonical, gotCanonical)
}

func TestGetObjByUrlNotFound(t *testing.T) {
	httpSrv, _, _ := newTestServer(t)
	unknown, err := ndnobject.ParseObjId("test:sha256:" + sampleHex())
	require.NoError(t, err)

	client := ndnclient.New(ndnclient.Config{})
	_, _, err = client.GetObjByUrl(context.Background(), httpSrv.URL+"/ndn/"+unknown.String())
	assert.Error(t, err)
}

func TestPullChunkVerifiesDigest(t *testing.T) {
	httpSrv, store, _ := newTestServer(t)
	data := []byte("the quick brown fox jumps over the lazy dog")
	id := writeWholeChunk(t, store, data)

	client := ndnclient.New(ndnclient.Config{})
	got, err := client.PullChunk(context.Background(), httpSrv.URL+"/ndn/"+id.String(), id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadChunkToLocalWritesVerifiedFile(t *testing.T) {
	httpSrv, store, _ := newTestServer(t)
	data := []byte("hello from the chunk store")
	id := writeWholeChunk(t, store, data)

	dest := filepath.Join(t.TempDir(), "chunk.bin")
	client := ndnclient.New(ndnclient.Config{})
	require.NoError(t, client.DownloadChunkToLocal(context.Background(), httpSrv.URL+"/ndn/"+id.String(), id, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOpenChunkReaderByUrlHonorsRange(t *testing.T) {
	httpSrv, store, _ := newTestServer(t)
	data := []byte("0123456789")
	id := writeWholeChunk(t, store, data)

	client := ndnclient.New(ndnclient.Config{})
	reader, err := client.OpenChunkReaderByUrl(context.Background(), httpSrv.URL+"/ndn/"+id.String(), 2, 5)
	require.NoError(t, err)
	defer reader.Close()

	buf := make([]byte, 5)
	_, err = io.ReadFull(reader, buf)
	require.NoError(t, err)
	assert.Equal(t, "23456", string(buf))
}

func sampleHex() string {
	return "0000000000000000000000000000000000000000000000000000000000000000"[:64]
}
