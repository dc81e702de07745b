// Package config loads ndncore's environment-driven configuration
// (spec §6: BUCKYOS_SYSTEM_ETC_DIR, BUCKYOS_ROOT, and a session-token
// bootstrap variable), in the teacher's Config-struct-plus-constructor
// idiom (internal/storage/filesystem.Config, internal/cache/redis's
// config.RedisConfig referenced from cache.go).
package config

import (
	"encoding/base64"
	"os"
	"strconv"
	"time"
)

// Env var names the core reads per spec §6. The core owns no CLI or
// flag parsing; these are the only configuration inputs it accepts
// directly, with everything else (node daemon, scheduler, RPC/session
// issuance) supplied by the external collaborator runtime.
const (
	EnvEtcDir       = "BUCKYOS_SYSTEM_ETC_DIR"
	EnvDataRoot     = "BUCKYOS_ROOT"
	EnvSessionToken = "BUCKYOS_SESSION_TOKEN"

	// EnvJWTHMACKey and EnvEncryptionMasterKey carry secret key material
	// base64-encoded, matching how BUCKYOS_SESSION_TOKEN is already
	// passed in as opaque text rather than a file path.
	EnvJWTHMACKey          = "NDN_JWT_HMAC_KEY"
	EnvEncryptionMasterKey = "NDN_ENCRYPTION_MASTER_KEY"
)

// Config is ndncore's process-wide configuration, assembled once at
// startup by Load and passed down to the chunk store, NamedDataMgr,
// and NDN server/client rather than read from globals.
type Config struct {
	// EtcDir holds static configuration files (BUCKYOS_SYSTEM_ETC_DIR).
	EtcDir string
	// DataRoot holds chunk store and NamedDataMgr on-disk state
	// (BUCKYOS_ROOT); a zone's chunk store lives at DataRoot/ndn/chunks
	// and its NamedDataMgr metadata at DataRoot/ndn/meta.
	DataRoot string
	// BootstrapSessionToken is the kernel service's own bootstrap JWT,
	// read from the environment rather than minted by the core (spec
	// §4.9/§6: the core only validates tokens, never issues them).
	BootstrapSessionToken string

	// MountPrefix is the NDN HTTP server's URL mount prefix (spec §4.6
	// default "/ndn/").
	MountPrefix string
	// ListenAddr is the NDN HTTP server's listen address.
	ListenAddr string
	// MetricsAddr serves /metrics and /healthz; empty disables it.
	MetricsAddr string

	// DeviceId identifies this node as an RTCP tunnel endpoint (spec
	// §4.8's from_id/to_id).
	DeviceId string
	// RTCPListenAddr is the RTCP stack port this device accepts tunnel
	// dials and ROpen back-connections on.
	RTCPListenAddr string

	// JWTHMACKey, if set, configures sessiontoken.StaticKeySource for
	// HS256 verification (spec §4.9). A zone with no key configured
	// falls back to sessiontoken.AllowAll, matching the core's stance
	// that it never issues tokens and an operator who hasn't wired an
	// identity stack yet shouldn't be locked out of their own objects.
	JWTHMACKey []byte

	// EncryptionMasterKey, if set, enables the "encrypted" share_policy
	// via crypto.ChaChaStreamEncryptor (spec §4.6).
	EncryptionMasterKey []byte

	// GCInterval is how often the retention controller sweeps Disabled
	// chunks; zero disables the background sweep.
	GCInterval time.Duration
	// GCMinDisabledAge is the single default retention policy's
	// eligibility threshold.
	GCMinDisabledAge time.Duration

	Redis RedisConfig
}

// RedisConfig configures the optional Redis-backed read cache and
// cross-process writer lock, mirroring the teacher's
// internal/cache/redis config.RedisConfig shape (cfg.Addr()).
type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// Addr renders host:port for redis.Options.Addr.
func (c RedisConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Load reads Config from the environment, applying sensible defaults
// for anything unset. It never errors: a missing BUCKYOS_ROOT simply
// defaults to the current directory, leaving validation (e.g. "is this
// writable") to the caller that actually opens the store.
func Load() Config {
	cfg := Config{
		EtcDir:                getenv(EnvEtcDir, "/etc/buckyos"),
		DataRoot:              getenv(EnvDataRoot, "."),
		BootstrapSessionToken: os.Getenv(EnvSessionToken),
		MountPrefix:           getenv("NDN_MOUNT_PREFIX", "/ndn/"),
		ListenAddr:            getenv("NDN_LISTEN_ADDR", ":8090"),
		MetricsAddr:           getenv("NDN_METRICS_ADDR", ":9090"),
		DeviceId:              getenv("NDN_DEVICE_ID", "local-device"),
		RTCPListenAddr:        getenv("NDN_RTCP_LISTEN_ADDR", ":2980"),
		GCInterval:            getenvDuration("NDN_GC_INTERVAL", 0),
		GCMinDisabledAge:      getenvDuration("NDN_GC_MIN_DISABLED_AGE", 24*time.Hour),
	}

	cfg.JWTHMACKey = getenvBase64(EnvJWTHMACKey)
	cfg.EncryptionMasterKey = getenvBase64(EnvEncryptionMasterKey)

	cfg.Redis.Enabled = getenvBool("NDN_REDIS_ENABLED", false)
	cfg.Redis.Host = getenv("NDN_REDIS_HOST", "127.0.0.1")
	cfg.Redis.Port = getenvInt("NDN_REDIS_PORT", 6379)
	cfg.Redis.Password = os.Getenv("NDN_REDIS_PASSWORD")
	cfg.Redis.DB = getenvInt("NDN_REDIS_DB", 0)
	cfg.Redis.PoolSize = getenvInt("NDN_REDIS_POOL_SIZE", 10)
	cfg.Redis.DialTimeout = getenvDuration("NDN_REDIS_DIAL_TIMEOUT", 5*time.Second)

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getenvBase64 decodes key as standard base64, returning nil if unset
// or malformed (callers treat a nil key as "feature disabled").
func getenvBase64(key string) []byte {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil
	}
	return decoded
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
