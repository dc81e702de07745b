package config_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/buckyos/ndncore/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := config.Load()
	assert.Equal(t, "/ndn/", cfg.MountPrefix)
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, ":2980", cfg.RTCPListenAddr)
	assert.Equal(t, 24*time.Hour, cfg.GCMinDisabledAge)
	assert.Nil(t, cfg.JWTHMACKey)
}

func TestLoadDecodesBase64Keys(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	t.Setenv(config.EnvJWTHMACKey, base64.StdEncoding.EncodeToString(key))
	t.Setenv(config.EnvEncryptionMasterKey, base64.StdEncoding.EncodeToString(key))

	cfg := config.Load()
	assert.Equal(t, key, cfg.JWTHMACKey)
	assert.Equal(t, key, cfg.EncryptionMasterKey)
}

func TestLoadIgnoresMalformedBase64Key(t *testing.T) {
	t.Setenv(config.EnvJWTHMACKey, "not-valid-base64!!")
	cfg := config.Load()
	assert.Nil(t, cfg.JWTHMACKey)
}
