package rtcp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// DefaultStackPort is the well-known control port an RTCP-capable
// device listens on for both outbound tunnel dials and ROpen
// back-connections, mirroring RTcpTarget::from_name/from_did's default
// stack_port in the original source.
const DefaultStackPort uint16 = 2980

// Target identifies an RTCP peer by device name or DID, supplementing
// spec §4.8 with the URL grammar original_source's parse_rtcp_url
// supports: "rtcp://device-name/port" and a "did.dev."-prefixed DID
// host form.
type Target struct {
	// Id is the device name, or the DID with "." replaced by ":" per
	// the original's get_id_str (a DID host segment cannot contain ':'
	// so the wire form substitutes '.').
	Id string
	// IsDid reports whether Id names a DID rather than a device name.
	IsDid bool
	// StackPort is the RTCP control port to dial/back-dial on.
	StackPort uint16
	// TargetPort is the dest_port to request via ROpen/direct dial,
	// parsed from the URL path, if present.
	TargetPort uint16
}

// ParseTarget parses an "rtcp://device-name/port" or
// "rtcp://did.dev.<did>/port" URL into a Target.
func ParseTarget(url string) (Target, error) {
	rest, ok := strings.CutPrefix(url, "rtcp://")
	if !ok {
		return Target{}, ndnerr.Wrap(ndnerr.ErrParseError, fmt.Sprintf("rtcp: not an rtcp:// url: %q", url), nil)
	}
	host, path, _ := strings.Cut(rest, "/")
	if host == "" {
		return Target{}, ndnerr.Wrap(ndnerr.ErrParseError, "rtcp: missing host in rtcp:// url", nil)
	}

	t := Target{StackPort: DefaultStackPort}
	if did, isDid := strings.CutPrefix(host, "did.dev."); isDid {
		t.Id = strings.ReplaceAll(did, ".", ":")
		t.IsDid = true
	} else {
		t.Id = host
	}

	if path != "" {
		port, err := strconv.ParseUint(path, 10, 16)
		if err != nil {
			return Target{}, ndnerr.Wrap(ndnerr.ErrParseError, fmt.Sprintf("rtcp: malformed target port %q", path), err)
		}
		t.TargetPort = uint16(port)
	}
	return t, nil
}

// IdStr renders the target's id in its wire form (a DID is reported
// with ':' so it matches the id a Hello frame's from_id/to_id carries).
func (t Target) IdStr() string { return t.Id }
