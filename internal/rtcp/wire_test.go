package rtcp_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/rtcp"
)

func TestWritePackageThenReadPackageRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, rtcp.WritePackage(&buf, rtcp.CmdPing, 7, rtcp.PingBody{Timestamp: 42}))

	pkg, err := rtcp.ReadPackage(&buf, false)
	require.NoError(t, err)
	assert.False(t, pkg.IsHelloStream)
	assert.Equal(t, rtcp.CmdPing, pkg.Cmd)
	assert.Equal(t, uint32(7), pkg.Seq)
	assert.JSONEq(t, `{"timestamp":42}`, string(pkg.JSON))
}

func TestReadPackageRejectsHelloStreamWhenNotFirst(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, rtcp.WriteHelloStream(&buf, "0123456789abcdef0123456789abcdef"[:32]))

	_, err := rtcp.ReadPackage(&buf, false)
	assert.Error(t, err)
}

func TestReadPackageAcceptsHelloStreamWhenFirst(t *testing.T) {
	var buf bytes.Buffer
	key := "0123456789abcdef0123456789abcdef"[:32]
	require.NoError(t, rtcp.WriteHelloStream(&buf, key))

	pkg, err := rtcp.ReadPackage(&buf, true)
	require.NoError(t, err)
	assert.True(t, pkg.IsHelloStream)
	assert.Equal(t, key, pkg.SessionKey)
}

func TestWriteHelloStreamRejectsWrongKeyLength(t *testing.T) {
	var buf bytes.Buffer
	err := rtcp.WriteHelloStream(&buf, "too-short")
	assert.Error(t, err)
}

func TestCmdStringCoversKnownValues(t *testing.T) {
	cases := map[rtcp.Cmd]string{
		rtcp.CmdHello:     "hello",
		rtcp.CmdHelloAck:  "hello_ack",
		rtcp.CmdPing:      "ping",
		rtcp.CmdPong:      "pong",
		rtcp.CmdROpen:     "ropen",
		rtcp.CmdROpenResp: "ropen_resp",
	}
	for cmd, want := range cases {
		assert.Equal(t, want, cmd.String())
	}
	assert.Equal(t, "unknown", rtcp.Cmd(99).String())
}
