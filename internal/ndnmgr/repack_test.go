package ndnmgr_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/delta"
	"github.com/buckyos/ndncore/internal/ndnmgr"
	"github.com/buckyos/ndncore/internal/ndnobject"
)

func TestRepackWorkerSkipsSmallFiles(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	localPath := writeTempFile(t, []byte("tiny"))
	fileObj := &ndnobject.FileObject{Name: "tiny.txt"}
	_, _, err := mgr.PubLocalFileAsFileObj(ctx, localPath, "/tiny.txt", fileObj, ndnmgr.SharePolicyPublic, "u1", "app1", nil)
	require.NoError(t, err)

	ctrl := mgr.StartRepackWorker(ctx)
	defer ctrl.Stop()
	ctrl.Enqueue("/tiny.txt")

	result := ctrl.RunOnce(ctx)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Repacked)
}

func TestRepackWorkerRechunksLargeFile(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("0123456789abcdef"), int(delta.DefaultMinSize*3/16)+1)
	localPath := writeTempFile(t, data)
	fileObj := &ndnobject.FileObject{Name: "big.bin", Mime: "application/octet-stream"}
	rec, fileID, err := mgr.PubLocalFileAsFileObj(ctx, localPath, "/big.bin", fileObj, ndnmgr.SharePolicyPublic, "u1", "app1", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, rec.Sequence)

	ctrl := mgr.StartRepackWorker(ctx)
	defer ctrl.Stop()
	ctrl.Enqueue("/big.bin")

	result := ctrl.RunOnce(ctx)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 0, result.Failed)
	require.Equal(t, 1, result.Repacked)

	updated, err := mgr.ResolvePath(ctx, "/big.bin")
	require.NoError(t, err)
	assert.NotEqual(t, fileID, updated.CurrentObjId)
	assert.EqualValues(t, 2, updated.Sequence)

	canonical, err := mgr.GetObject(ctx, updated.CurrentObjId)
	require.NoError(t, err)
	newFileObj, err := ndnobject.DecodeFileObject(canonical)
	require.NoError(t, err)

	isList, err := newFileObj.ContentIsChunkList()
	require.NoError(t, err)
	assert.True(t, isList)
	require.Len(t, newFileObj.Links, 1)
	assert.Equal(t, ndnobject.LinkSameAs, newFileObj.Links[0].Kind)
	assert.Equal(t, fileID, newFileObj.Links[0].FileId)
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
