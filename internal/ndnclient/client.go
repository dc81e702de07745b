// Package ndnclient implements the NDN HTTP client (spec §4.7): the
// consumer-side counterpart to internal/ndnserver's O-link/R-link URL
// grammar and cyfs-* verification headers. GetObjByUrl, PullChunk and
// DownloadChunkToLocal either return content that hashed to the
// expected id or an error; OpenChunkReaderByUrl streams a byte range
// without verifying it.
package ndnclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnerr"
	"github.com/buckyos/ndncore/internal/ndnmetrics"
	"github.com/buckyos/ndncore/internal/ndnobject"
	"github.com/buckyos/ndncore/internal/ndnserver"
)

// Config configures a Client.
type Config struct {
	// HTTPClient is the transport used for every request; defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	Metrics    *ndnmetrics.Metrics
	Logger     zerolog.Logger
}

// Client is the NDN HTTP client.
type Client struct {
	http    *http.Client
	metrics *ndnmetrics.Metrics
	logger  zerolog.Logger
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, metrics: cfg.Metrics, logger: cfg.Logger}
}

// GetObjByUrl fetches the named object (or chunk-list/scalar) a
// ndnserver O-link or R-link URL resolves to, and verifies the
// returned body hashes to the obj id the server advertised via the
// cyfs-obj-id header (spec §4.7: "never trust a body whose id isn't
// verified locally"). It does not itself walk inner-path resolution;
// that happens server-side, so a response carrying no cyfs-obj-id
// header (the scalar-leaf case, spec §4.6 step 5) is reported as an
// error rather than silently trusted.
func (c *Client) GetObjByUrl(ctx context.Context, rawURL string) (ndnobject.ObjId, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ndnobject.ObjId{}, "", ndnerr.Wrap(ndnerr.ErrParseError, "ndnclient: build request", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return ndnobject.ObjId{}, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ndnobject.ObjId{}, "", statusErr(resp)
	}

	idHeader := resp.Header.Get(ndnserver.HeaderObjId)
	if idHeader == "" {
		idHeader = resp.Header.Get(ndnserver.HeaderRootObjId)
	}
	if idHeader == "" {
		return ndnobject.ObjId{}, "", ndnerr.Wrap(ndnerr.ErrParseError, "ndnclient: response carries no obj id header to verify against", nil)
	}
	id, err := ndnobject.ParseObjId(idHeader)
	if err != nil {
		return ndnobject.ObjId{}, "", err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ndnobject.ObjId{}, "", ndnerr.Wrap(ndnerr.ErrIoError, "ndnclient: read object body", err)
	}
	canonical, ok, err := ndnobject.VerifyJSON(id, raw)
	if err != nil {
		return ndnobject.ObjId{}, "", err
	}
	if !ok {
		if c.metrics != nil {
			c.metrics.RecordNDNRequest("GET", "verify", "mismatch", 0, int64(len(raw)))
		}
		return ndnobject.ObjId{}, "", ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnclient: object body does not hash to its advertised obj id", nil)
	}
	return id, canonical, nil
}

// OpenChunkReaderByUrl opens a Range-aware stream of a chunk's raw
// bytes at url (spec §4.7). length < 0 requests the rest of the chunk
// from start onward. The returned reader delivers exactly the
// requested byte range unverified (a partial chunk cannot be
// whole-chunk digest checked); callers that need a verified full chunk
// should use PullChunk or DownloadChunkToLocal instead.
func (c *Client) OpenChunkReaderByUrl(ctx context.Context, url string, start, length int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "ndnclient: build request", err)
	}
	if start > 0 || length >= 0 {
		if length < 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+length-1))
		}
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		defer resp.Body.Close()
		return nil, statusErr(resp)
	}
	return resp.Body, nil
}

// PullChunk fetches id's full bytes from url and verifies them against
// id before returning, streaming the hash computation alongside the
// read rather than hashing after buffering (spec §4.7).
func (c *Client) PullChunk(ctx context.Context, url string, id chunkid.ChunkId) ([]byte, error) {
	body, err := c.OpenChunkReaderByUrl(ctx, url, 0, -1)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var buf []byte
	if size, ok := id.Size(); ok {
		buf = make([]byte, 0, size)
	}
	writer := &sliceWriter{buf: buf}
	hash, n, err := chunkid.HashStream(id.Algo(), io.TeeReader(body, writer))
	if err != nil {
		return nil, err
	}
	if !id.Equal(id.Algo(), hash) {
		if c.metrics != nil {
			c.metrics.RecordNDNRequest("GET", "chunk", "mismatch", 0, int64(n))
		}
		return nil, ndnerr.Wrap(ndnerr.ErrInvalidId, fmt.Sprintf("ndnclient: chunk %s failed digest verification after %d bytes", id, n), nil)
	}
	return writer.buf, nil
}

// DownloadChunkToLocal streams id's bytes from url directly to destPath,
// verifying the digest as it writes so the whole chunk never needs to
// sit in memory. The partial file is removed if verification fails.
func (c *Client) DownloadChunkToLocal(ctx context.Context, url string, id chunkid.ChunkId, destPath string) error {
	body, err := c.OpenChunkReaderByUrl(ctx, url, 0, -1)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrIoError, "ndnclient: create destination file", err)
	}

	hash, n, err := chunkid.HashStream(id.Algo(), io.TeeReader(body, f))
	closeErr := f.Close()
	if err != nil {
		os.Remove(destPath)
		return err
	}
	if closeErr != nil {
		os.Remove(destPath)
		return ndnerr.Wrap(ndnerr.ErrIoError, "ndnclient: close destination file", closeErr)
	}
	if !id.Equal(id.Algo(), hash) {
		os.Remove(destPath)
		if c.metrics != nil {
			c.metrics.RecordNDNRequest("GET", "chunk", "mismatch", 0, int64(n))
		}
		return ndnerr.Wrap(ndnerr.ErrInvalidId, fmt.Sprintf("ndnclient: chunk %s failed digest verification after %d bytes", id, n), nil)
	}
	return nil
}

// sliceWriter appends every Write to an in-memory buffer, used as
// io.TeeReader's sink when PullChunk needs the verified bytes back
// rather than just confirming their digest.
type sliceWriter struct{ buf []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrIoError, fmt.Sprintf("ndnclient: request to %s failed", req.URL), err)
	}
	return resp, nil
}

func statusErr(resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(raw)
	var decoded struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &decoded) == nil && decoded.Error != "" {
		msg = decoded.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ndnerr.Wrap(ndnerr.ErrNotFound, fmt.Sprintf("ndnclient: %s", msg), nil)
	case http.StatusGone:
		return ndnerr.Wrap(ndnerr.ErrDisabled, fmt.Sprintf("ndnclient: %s", msg), nil)
	case http.StatusUnauthorized, http.StatusForbidden:
		return ndnerr.Wrap(ndnerr.ErrPermissionDenied, fmt.Sprintf("ndnclient: %s", msg), nil)
	case http.StatusBadRequest, http.StatusRequestedRangeNotSatisfiable:
		return ndnerr.Wrap(ndnerr.ErrInvalidId, fmt.Sprintf("ndnclient: %s", msg), nil)
	case http.StatusConflict:
		return ndnerr.Wrap(ndnerr.ErrIncomplete, fmt.Sprintf("ndnclient: %s", msg), nil)
	default:
		return ndnerr.Wrap(ndnerr.ErrIoError, fmt.Sprintf("ndnclient: unexpected status %d: %s", resp.StatusCode, msg), nil)
	}
}
