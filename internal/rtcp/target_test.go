package rtcp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/rtcp"
)

func TestParseTargetDeviceName(t *testing.T) {
	target, err := rtcp.ParseTarget("rtcp://my-device/8080")
	require.NoError(t, err)
	assert.Equal(t, "my-device", target.Id)
	assert.False(t, target.IsDid)
	assert.Equal(t, rtcp.DefaultStackPort, target.StackPort)
	assert.Equal(t, uint16(8080), target.TargetPort)
}

func TestParseTargetDid(t *testing.T) {
	target, err := rtcp.ParseTarget("rtcp://did.dev.abc.123/9000")
	require.NoError(t, err)
	assert.Equal(t, "abc:123", target.Id)
	assert.True(t, target.IsDid)
	assert.Equal(t, uint16(9000), target.TargetPort)
}

func TestParseTargetWithoutPort(t *testing.T) {
	target, err := rtcp.ParseTarget("rtcp://my-device")
	require.NoError(t, err)
	assert.Equal(t, "my-device", target.Id)
	assert.Equal(t, uint16(0), target.TargetPort)
}

func TestParseTargetRejectsWrongScheme(t *testing.T) {
	_, err := rtcp.ParseTarget("http://my-device/8080")
	assert.Error(t, err)
}

func TestParseTargetRejectsEmptyHost(t *testing.T) {
	_, err := rtcp.ParseTarget("rtcp:///8080")
	assert.Error(t, err)
}

func TestParseTargetRejectsMalformedPort(t *testing.T) {
	_, err := rtcp.ParseTarget("rtcp://my-device/not-a-port")
	assert.Error(t, err)
}
