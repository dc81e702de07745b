// Package ndnserver implements the NDN HTTP server (spec §4.6): the
// `/ndn/{obj-id|obj-path}[/inner-path]` URL grammar, Range-aware chunk
// and ChunkList streaming, the `cyfs-*` verification headers, and
// share-policy access control, generalizing the teacher's
// internal/handler.Router mux from the S3 API onto named objects. No
// middleware chain (tracing, rate limiting) wraps the handler.
package ndnserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/chunklist"
	"github.com/buckyos/ndncore/internal/ndnerr"
	"github.com/buckyos/ndncore/internal/ndnmetrics"
	"github.com/buckyos/ndncore/internal/ndnmgr"
	"github.com/buckyos/ndncore/internal/ndnobject"
	"github.com/buckyos/ndncore/internal/pkg/crypto"
	"github.com/buckyos/ndncore/internal/sessiontoken"
)

// Header names carrying the verification contract (spec §4.6).
const (
	HeaderObjId     = "cyfs-obj-id"
	HeaderObjSize   = "cyfs-obj-size"
	HeaderRootObjId = "cyfs-root-obj-id"
	HeaderPathObj   = "cyfs-path-obj"
)

// Config configures a Server.
type Config struct {
	// MountPrefix is the URL prefix the server is mounted at (default
	// "/ndn/").
	MountPrefix string
	// Mgr resolves obj_path and serves named objects/chunks.
	Mgr *ndnmgr.Manager
	// Verifier validates session tokens for token_required paths.
	Verifier sessiontoken.Verifier
	// Encryptor, if set, decrypts bytes for paths whose share_policy is
	// "encrypted"; the salt is the id of the chunk being served.
	Encryptor *crypto.ChaChaStreamEncryptor
	Metrics   *ndnmetrics.Metrics
	Logger    zerolog.Logger
}

// Server is the NDN HTTP server.
type Server struct {
	mountPrefix string
	mgr         *ndnmgr.Manager
	verifier    sessiontoken.Verifier
	encryptor   *crypto.ChaChaStreamEncryptor
	metrics     *ndnmetrics.Metrics
	logger      zerolog.Logger
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	prefix := cfg.MountPrefix
	if prefix == "" {
		prefix = "/ndn/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = sessiontoken.AllowAll{}
	}
	return &Server{
		mountPrefix: prefix,
		mgr:         cfg.Mgr,
		verifier:    verifier,
		encryptor:   cfg.Encryptor,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With().Str("component", "ndnserver").Logger(),
	}
}

// Handler returns the server's http.Handler, mounted under
// MountPrefix.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.mountPrefix, s.handleNDN)
	return mux
}

func (s *Server) handleNDN(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, s.mountPrefix)
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "missing obj-id or obj-path")
		return
	}

	segments := strings.Split(rest, "/")
	ctx := r.Context()

	// An obj-id or a bare chunk id is always exactly one path segment
	// (it never itself contains a slash); anything after it is inner
	// path.
	if chunkID, err := chunkid.Parse(segments[0]); err == nil && len(segments) == 1 {
		s.serveChunk(w, r, chunkID, SharePolicyDefault(), "")
		return
	}
	if objID, err := ndnobject.ParseObjId(segments[0]); err == nil {
		s.serveOLink(ctx, w, r, objID, segments[1:])
		return
	}

	// An obj-path MAY itself contain slashes (spec §4.6), so the split
	// between root and inner-path is ambiguous from the URL alone: try
	// the longest candidate path first, shrinking until the PathTable
	// recognizes one.
	rec, objPath, innerPath, err := s.resolveLongestPath(ctx, segments)
	if err != nil {
		s.writeNDNError(w, err)
		return
	}
	s.serveRLink(ctx, w, r, objPath, rec, innerPath)
}

// resolveLongestPath finds the longest prefix of segments that is a
// known obj_path, per spec §4.6's R-link grammar. A NotFound error
// anywhere along the way just means "keep shrinking"; any other error
// aborts immediately.
func (s *Server) resolveLongestPath(ctx context.Context, segments []string) (*ndnmgr.PublicationRecord, string, []string, error) {
	for i := len(segments); i >= 1; i-- {
		objPath := "/" + strings.Join(segments[:i], "/")
		rec, err := s.mgr.ResolvePath(ctx, objPath)
		switch {
		case err == nil:
			return rec, objPath, segments[i:], nil
		case ndnerr.CodeOf(err) == ndnerr.CodeNotFound:
			continue
		default:
			return nil, "", nil, err
		}
	}
	return nil, "", nil, ndnerr.Wrap(ndnerr.ErrNotFound, fmt.Sprintf("ndnserver: no obj_path matches %q", strings.Join(segments, "/")), nil)
}

// SharePolicyDefault is the access policy applied to O-link requests,
// which have no publication record to carry one: bare object-id
// fetches are always public, matching spec §4.6's O-link description
// ("O-link responses ... have no path proof").
func SharePolicyDefault() ndnmgr.SharePolicy { return ndnmgr.SharePolicyPublic }

func (s *Server) serveOLink(ctx context.Context, w http.ResponseWriter, r *http.Request, objID ndnobject.ObjId, innerPath []string) {
	if !s.authorize(w, r, SharePolicyDefault()) {
		return
	}

	canonical, err := s.mgr.GetObject(ctx, objID)
	if err != nil {
		s.writeNDNError(w, err)
		return
	}
	s.resolveAndServe(ctx, w, r, objID, canonical, innerPath, "", "")
}

func (s *Server) serveRLink(ctx context.Context, w http.ResponseWriter, r *http.Request, objPath string, rec *ndnmgr.PublicationRecord, innerPath []string) {
	if !rec.Enabled {
		s.writeNDNError(w, ndnerr.Wrap(ndnerr.ErrDisabled, fmt.Sprintf("ndnserver: path %s disabled", objPath), nil))
		return
	}
	if !s.authorize(w, r, rec.SharePolicy) {
		return
	}

	canonical, err := s.mgr.GetObject(ctx, rec.CurrentObjId)
	if err != nil {
		s.writeNDNError(w, err)
		return
	}

	proof := ndnmgr.BuildPathProof(rec)
	proofRaw, err := proof.Encode()
	if err != nil {
		s.writeNDNError(w, err)
		return
	}

	w.Header().Set(HeaderRootObjId, rec.CurrentObjId.String())
	w.Header().Set(HeaderPathObj, string(proofRaw))
	s.resolveAndServe(ctx, w, r, rec.CurrentObjId, canonical, innerPath, rec.SharePolicy, rec.SharePolicyConfig)
}

// resolveAndServe walks innerPath over (rootID, rootCanonical) and
// serves whatever it bottoms out at: JSON for an object/scalar, bytes
// for a chunk or chunk-list (spec §4.6 resolution algorithm steps 3-5).
func (s *Server) resolveAndServe(ctx context.Context, w http.ResponseWriter, r *http.Request, rootID ndnobject.ObjId, rootCanonical string, innerPath []string, policy ndnmgr.SharePolicy, policyConfig string) {
	if rootID.ObjType == chunklist.ObjType && len(innerPath) == 0 {
		s.serveChunkList(w, r, rootID, rootCanonical, policy, policyConfig)
		return
	}

	if len(innerPath) == 0 {
		writeJSON(w, rootID, rootCanonical)
		return
	}

	result, err := ndnobject.Resolve(ctx, s.mgr, rootCanonical, innerPath)
	if err != nil {
		s.writeNDNError(w, err)
		return
	}

	switch result.Kind {
	case ndnobject.KindChunk:
		s.serveChunk(w, r, result.ChunkId, policy, policyConfig)
	case ndnobject.KindObject:
		if result.ObjectId.ObjType == chunklist.ObjType {
			s.serveChunkList(w, r, result.ObjectId, result.Canonical, policy, policyConfig)
			return
		}
		writeJSON(w, result.ObjectId, result.Canonical)
	case ndnobject.KindScalar:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result.Scalar)
	}
}

func writeJSON(w http.ResponseWriter, id ndnobject.ObjId, canonical string) {
	if !id.IsZero() {
		w.Header().Set(HeaderObjId, id.String())
	}
	w.Header().Set(HeaderObjSize, strconv.Itoa(len(canonical)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, canonical)
}

func (s *Server) serveChunk(w http.ResponseWriter, r *http.Request, id chunkid.ChunkId, policy ndnmgr.SharePolicy, policyConfig string) {
	item, err := s.mgr.Store().GetChunkItem(r.Context(), id)
	if err != nil {
		s.writeNDNError(w, err)
		return
	}

	start, end, hasRange, err := parseRange(r.Header.Get("Range"), item.ChunkSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if !hasRange {
		start, end = 0, item.ChunkSize
	}

	reader, err := s.mgr.Store().OpenReaderRange(r.Context(), id, int64(start), int64(end-start))
	if err != nil {
		s.writeNDNError(w, err)
		return
	}
	defer reader.Close()

	var body io.Reader = reader
	if policy == ndnmgr.SharePolicyEncrypted {
		body, err = s.decryptBody(body, id.String())
		if err != nil {
			s.writeNDNError(w, err)
			return
		}
	}

	w.Header().Set(HeaderObjId, id.String())
	w.Header().Set(HeaderObjSize, strconv.FormatUint(item.ChunkSize, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")
	if hasRange {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, item.ChunkSize))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(w, body)
}

func (s *Server) serveChunkList(w http.ResponseWriter, r *http.Request, objID ndnobject.ObjId, canonical string, policy ndnmgr.SharePolicy, policyConfig string) {
	list, err := chunklist.DecodeChunkList(r.Context(), canonical, s.mgr.Store())
	if err != nil {
		s.writeNDNError(w, err)
		return
	}

	start, end, hasRange, err := parseRange(r.Header.Get("Range"), list.TotalSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if !hasRange {
		start, end = 0, list.TotalSize
	}

	spans, err := list.Spans(start, end)
	if err != nil {
		s.writeNDNError(w, err)
		return
	}

	w.Header().Set(HeaderObjId, objID.String())
	w.Header().Set(HeaderObjSize, strconv.FormatUint(list.TotalSize, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")
	if hasRange {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, list.TotalSize))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method == http.MethodHead {
		return
	}

	for _, span := range spans {
		entry := list.Entries[span.Index]
		reader, err := s.mgr.Store().OpenReaderRange(r.Context(), entry.ChunkId, int64(span.Offset), int64(span.Length))
		if err != nil {
			s.logger.Warn().Err(err).Str("chunk_id", entry.ChunkId.String()).Msg("ndnserver: read chunk-list entry")
			return
		}
		var body io.Reader = reader
		if policy == ndnmgr.SharePolicyEncrypted {
			body, err = s.decryptBody(body, entry.ChunkId.String())
			if err != nil {
				reader.Close()
				s.logger.Warn().Err(err).Msg("ndnserver: decrypt chunk-list entry")
				return
			}
		}
		_, copyErr := io.Copy(w, body)
		reader.Close()
		if copyErr != nil {
			return
		}
	}
}

func (s *Server) decryptBody(body io.Reader, salt string) (io.Reader, error) {
	if s.encryptor == nil {
		return nil, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnserver: encrypted share_policy but no encryptor configured", nil)
	}
	dr, err := s.encryptor.NewDecryptingReader(body, []byte(salt))
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnserver: build decrypting reader", err)
	}
	return dr, nil
}

// authorize applies policy's access control, writing a 401 and
// returning false when the caller is not allowed to proceed.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, policy ndnmgr.SharePolicy) bool {
	if policy != ndnmgr.SharePolicyTokenRequired {
		return true
	}
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return false
	}
	if _, err := s.verifier.Verify(token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

func (s *Server) writeNDNError(w http.ResponseWriter, err error) {
	switch ndnerr.CodeOf(err) {
	case ndnerr.CodeNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case ndnerr.CodeDisabled:
		writeError(w, http.StatusGone, err.Error())
	case ndnerr.CodePermissionDenied:
		writeError(w, http.StatusUnauthorized, err.Error())
	case ndnerr.CodeInvalidId, ndnerr.CodeParseError:
		writeError(w, http.StatusBadRequest, err.Error())
	case ndnerr.CodeIncomplete:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseRange parses an HTTP Range header of the single-range form
// "bytes=a-b" against a resource of size total, returning the
// half-open [start, end) byte range. An absent header reports
// hasRange=false.
func parseRange(header string, total uint64) (start, end uint64, hasRange bool, err error) {
	if header == "" {
		return 0, 0, false, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnserver: unsupported Range unit", nil)
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnserver: multi-range requests are not supported", nil)
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnserver: malformed Range", nil)
	}

	if parts[0] == "" {
		// suffix range: "-N" means the last N bytes.
		n, parseErr := strconv.ParseUint(parts[1], 10, 64)
		if parseErr != nil {
			return 0, 0, false, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnserver: malformed suffix Range", parseErr)
		}
		if n > total {
			n = total
		}
		return total - n, total, true, nil
	}

	startN, parseErr := strconv.ParseUint(parts[0], 10, 64)
	if parseErr != nil {
		return 0, 0, false, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnserver: malformed Range start", parseErr)
	}
	if parts[1] == "" {
		if startN >= total {
			return 0, 0, false, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnserver: Range start beyond content length", nil)
		}
		return startN, total, true, nil
	}
	endN, parseErr := strconv.ParseUint(parts[1], 10, 64)
	if parseErr != nil {
		return 0, 0, false, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnserver: malformed Range end", parseErr)
	}
	if startN > endN || endN >= total {
		return 0, 0, false, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnserver: Range out of bounds", nil)
	}
	return startN, endN + 1, true, nil
}
