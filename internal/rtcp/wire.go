// Package rtcp implements the RTCP reverse-tunnel protocol (spec
// §4.8): a long-lived TCP tunnel between two devices, used to open a
// logical stream to a peer that cannot be dialed directly (NAT,
// asymmetric firewall) by asking the peer to back-dial instead.
// Framing and message shapes are carried over unchanged from
// original_source/src/cyfs_gateway/cyfs-gateway-lib/src/rtcp_tunnel.rs
// (see DESIGN.md and SPEC_FULL.md's "Supplemented features"); the
// Tunnel interface generalizes the teacher's cluster.NodeClient shape
// (context-scoped transfer/retrieve methods) onto stream-opening
// rather than whole-blob transfer, per Design Notes §9 ("Tunnel
// abstracts TCP vs RTCP").
package rtcp

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// Cmd identifies an RTCP control message type (spec §4.8 table).
type Cmd uint8

const (
	CmdHello     Cmd = 1
	CmdHelloAck  Cmd = 2
	CmdPing      Cmd = 3
	CmdPong      Cmd = 4
	CmdROpen     Cmd = 5
	CmdROpenResp Cmd = 6
)

func (c Cmd) String() string {
	switch c {
	case CmdHello:
		return "hello"
	case CmdHelloAck:
		return "hello_ack"
	case CmdPing:
		return "ping"
	case CmdPong:
		return "pong"
	case CmdROpen:
		return "ropen"
	case CmdROpenResp:
		return "ropen_resp"
	default:
		return "unknown"
	}
}

// ROpenResp result codes (spec §4.8 table).
const (
	ROpenOK                uint32 = 0
	ROpenDestUnreachable   uint32 = 1
	ROpenBackConnectFailed uint32 = 2
)

// HelloBody is cmd=1's JSON payload.
type HelloBody struct {
	FromId     string  `json:"from_id"`
	ToId       string  `json:"to_id"`
	MyPort     uint16  `json:"my_port"`
	SessionKey *string `json:"session_key,omitempty"`
}

// HelloAckBody is cmd=2's JSON payload.
type HelloAckBody struct {
	TestResult bool `json:"test_result"`
}

// PingBody is cmd=3's JSON payload.
type PingBody struct {
	Timestamp int64 `json:"timestamp"`
}

// PongBody is cmd=4's JSON payload.
type PongBody struct {
	Timestamp int64 `json:"timestamp"`
}

// ROpenBody is cmd=5's JSON payload: ask the peer to back-dial
// dest_port locally and claim the back-connection with streamid.
type ROpenBody struct {
	StreamId string `json:"streamid"`
	DestPort uint16 `json:"dest_port"`
}

// ROpenRespBody is cmd=6's JSON payload.
type ROpenRespBody struct {
	Result uint32 `json:"result"`
}

// helloStreamKeyLen is the fixed length of a HelloStream preamble's
// session key payload (spec §4.8: "the next 32 bytes are a raw
// HelloStream session key").
const helloStreamKeyLen = 32

// headerLen is json_pos for a freshly encoded frame: 2 (len) + 1
// (json_pos) + 1 (cmd) + 4 (seq) = 8, matching
// RTcpTunnelPackage::send_package in the original source.
const headerLen = 2 + 1 + 1 + 4

// Package is the decoded form of one frame read off an RTCP
// connection: either a HelloStream preamble (len==0) or a normal
// cmd-tagged JSON frame.
type Package struct {
	IsHelloStream bool
	SessionKey    string

	Cmd  Cmd
	Seq  uint32
	JSON []byte
}

// ReadPackage reads one frame from r. isFirst must be true only for
// the very first frame read on a freshly accepted connection, the only
// place a HelloStream (len==0) frame is legal (spec §4.8).
func ReadPackage(r io.Reader, isFirst bool) (Package, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Package{}, ndnerr.Wrap(ndnerr.ErrIoError, "rtcp: read frame length", err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])

	if length == 0 {
		if !isFirst {
			return Package{}, ndnerr.Wrap(ndnerr.ErrParseError, "rtcp: HelloStream must be the first frame", nil)
		}
		keyBuf := make([]byte, helloStreamKeyLen)
		if _, err := io.ReadFull(r, keyBuf); err != nil {
			return Package{}, ndnerr.Wrap(ndnerr.ErrIoError, "rtcp: read HelloStream session key", err)
		}
		return Package{IsHelloStream: true, SessionKey: string(keyBuf)}, nil
	}

	rest := make([]byte, int(length)-2)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Package{}, ndnerr.Wrap(ndnerr.ErrIoError, "rtcp: read frame body", err)
	}
	if len(rest) < 6 {
		return Package{}, ndnerr.Wrap(ndnerr.ErrParseError, "rtcp: frame too short", nil)
	}
	jsonPos := rest[0]
	if jsonPos < 6 {
		return Package{}, ndnerr.Wrap(ndnerr.ErrParseError, "rtcp: invalid json_pos", nil)
	}
	cmd := Cmd(rest[1])
	seq := binary.BigEndian.Uint32(rest[2:6])

	// jsonPos is an offset from the start of the whole frame (including
	// the 2 length bytes); rest[0] already begins at that frame offset
	// 2, so the json body begins at rest[jsonPos-2:].
	jsonOffset := int(jsonPos) - 2
	if jsonOffset > len(rest) {
		return Package{}, ndnerr.Wrap(ndnerr.ErrParseError, "rtcp: json_pos beyond frame", nil)
	}
	return Package{Cmd: cmd, Seq: seq, JSON: rest[jsonOffset:]}, nil
}

// WritePackage encodes and writes one cmd-tagged JSON frame.
func WritePackage(w io.Writer, cmd Cmd, seq uint32, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrParseError, "rtcp: marshal frame body", err)
	}
	totalLen := headerLen + len(payload)
	if totalLen > 0xffff {
		return ndnerr.Wrap(ndnerr.ErrParseError, "rtcp: frame too long", nil)
	}

	buf := make([]byte, 0, totalLen)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(totalLen))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, byte(headerLen), byte(cmd))
	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], seq)
	buf = append(buf, seqBuf[:]...)
	buf = append(buf, payload...)

	if _, err := w.Write(buf); err != nil {
		return ndnerr.Wrap(ndnerr.ErrIoError, "rtcp: write frame", err)
	}
	return nil
}

// WriteHelloStream writes the 32-byte HelloStream preamble that claims
// a pending ROpen by session key (spec §4.8).
func WriteHelloStream(w io.Writer, sessionKey string) error {
	if len(sessionKey) != helloStreamKeyLen {
		return ndnerr.Wrap(ndnerr.ErrInvalidId, fmt.Sprintf("rtcp: session key must be %d bytes, got %d", helloStreamKeyLen, len(sessionKey)), nil)
	}
	var lenBuf [2]byte // zero: HelloStream marker
	buf := append(append([]byte(nil), lenBuf[:]...), sessionKey...)
	if _, err := w.Write(buf); err != nil {
		return ndnerr.Wrap(ndnerr.ErrIoError, "rtcp: write HelloStream", err)
	}
	return nil
}

func decodeBody[T any](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, ndnerr.Wrap(ndnerr.ErrParseError, "rtcp: unmarshal frame body", err)
	}
	return v, nil
}
