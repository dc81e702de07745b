package chunkid_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnerr"
)

func TestHashIdentityRoundTrip(t *testing.T) {
	data := []byte("hello named data network")
	hash := chunkid.HashBytes(chunkid.AlgoSha256, data)

	id, err := chunkid.FromHashBytes(chunkid.AlgoSha256, hash)
	require.NoError(t, err)

	parsed, err := chunkid.Parse(id.String())
	require.NoError(t, err)

	assert.True(t, parsed.Equal(chunkid.AlgoSha256, hash))
	assert.Equal(t, id.String(), parsed.String())
}

func TestHashStreamMatchesHashBytes(t *testing.T) {
	data := []byte("streamed content for a chunk")
	want := chunkid.HashBytes(chunkid.AlgoSha256, data)

	got, n, err := chunkid.HashStream(chunkid.AlgoSha256, bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, uint64(len(data)), n)
	assert.Equal(t, want, got)
}

func TestMixFormRoundTripCarriesSize(t *testing.T) {
	data := []byte("a chunk whose size travels in its id")
	hash := chunkid.HashBytes(chunkid.AlgoSha256, data)

	id, err := chunkid.MixFrom(uint64(len(data)), hash, chunkid.AlgoSha256)
	require.NoError(t, err)
	require.True(t, id.IsMix())

	text := id.String()
	assert.Contains(t, text, "mixsha256:")

	parsed, err := chunkid.Parse(text)
	require.NoError(t, err)
	require.True(t, parsed.IsMix())

	size, ok := parsed.Size()
	require.True(t, ok)
	assert.Equal(t, uint64(len(data)), size)
	assert.True(t, parsed.Equal(chunkid.AlgoSha256, hash))
}

func TestParsePlainVsMixAreDistinctEncodings(t *testing.T) {
	hash := chunkid.HashBytes(chunkid.AlgoSha256, []byte("distinguish plain from mix"))

	plain, err := chunkid.FromHashBytes(chunkid.AlgoSha256, hash)
	require.NoError(t, err)

	mix, err := chunkid.MixFrom(42, hash, chunkid.AlgoSha256)
	require.NoError(t, err)

	assert.NotEqual(t, plain.String(), mix.String())
	_, isMix := mix.Size()
	assert.True(t, isMix)
	_, isMix = plain.Size()
	assert.False(t, isMix)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"sha256",
		"sha256:not-hex",
		"sha256:abcd",
		"md5:deadbeef",
		"mixsha256:not-base32!!",
	}
	for _, text := range cases {
		_, err := chunkid.Parse(text)
		assert.Error(t, err, text)
		assert.True(t, errors.Is(err, ndnerr.ErrParseError) || errors.Is(err, ndnerr.ErrInvalidId), text)
	}
}

func TestFromHashBytesRejectsWrongLength(t *testing.T) {
	_, err := chunkid.FromHashBytes(chunkid.AlgoSha256, []byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ndnerr.ErrInvalidId))
}

func TestEqualRejectsDifferentAlgoOrBytes(t *testing.T) {
	hash := chunkid.HashBytes(chunkid.AlgoSha256, []byte("a"))
	id, err := chunkid.FromHashBytes(chunkid.AlgoSha256, hash)
	require.NoError(t, err)

	other := chunkid.HashBytes(chunkid.AlgoSha256, []byte("b"))
	assert.False(t, id.Equal(chunkid.AlgoSha256, other))
	assert.True(t, id.Equal(chunkid.AlgoSha256, hash))
}
