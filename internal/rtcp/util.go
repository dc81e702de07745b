package rtcp

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

// newSessionKey returns a fresh 32-byte random session key, used both
// as the ROpen streamid and as the HelloStream claim token (spec
// §4.8). hex-encoding 16 random bytes yields exactly 32 ASCII bytes,
// matching helloStreamKeyLen.
func newSessionKey() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(err) // crypto/rand failing means the platform is broken
	}
	return hex.EncodeToString(raw[:])
}

// ioCopy copies from src to dst until EOF or error, small wrapper kept
// local so spliceBidirectional reads as symmetric at the call site.
func ioCopy(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}
