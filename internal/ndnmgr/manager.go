// Package ndnmgr implements NamedDataMgr (spec §4.5): a per-zone
// singleton that composes one or more chunk stores, an object store
// of named objects keyed by ObjId, and a PathTable binding obj_path to
// a current ObjId with CAS-gated, append-versioned history. It
// generalizes the teacher's filesystem.Storage/domain.Blob persistence
// idiom onto the named object model from internal/ndnobject and the
// chunk store from internal/chunkstore.
package ndnmgr

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/chunkstore"
	"github.com/buckyos/ndncore/internal/config"
	"github.com/buckyos/ndncore/internal/ndnerr"
	"github.com/buckyos/ndncore/internal/ndnmetrics"
	"github.com/buckyos/ndncore/internal/ndnobject"
)

// SharePolicy enumerates a publication record's access-control mode
// (spec §4.6 "Access control").
type SharePolicy string

const (
	SharePolicyPublic        SharePolicy = "public"
	SharePolicyTokenRequired SharePolicy = "token_required"
	SharePolicyEncrypted     SharePolicy = "encrypted"
)

// PublicationRecord is the PathTable's binding for one obj_path (spec
// §4.5/§6).
type PublicationRecord struct {
	ObjPath           string
	CurrentObjId      ndnobject.ObjId
	SharePolicy       SharePolicy
	SharePolicyConfig string
	Enabled           bool
	Sequence          uint64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Config configures a Manager.
type Config struct {
	// MgrId identifies this NamedDataMgr instance (spec §4.5: "keyed by
	// mgr_id").
	MgrId string
	// MetaDir holds the manager's own SQLite metadata database
	// ("ndnmgr.db"), separate from any chunk store's chunk.db.
	MetaDir string
	// Store is the chunk store object bytes resolve against. A Manager
	// composes "typically one" store per spec §4.5.
	Store *chunkstore.Store
	// HashAlgo is the default hash method used to build new named
	// objects and ChunkLists.
	HashAlgo chunkid.Algo
	// Redis optionally backs a read-through cache for objects and path
	// lookups.
	Redis config.RedisConfig

	Metrics *ndnmetrics.Metrics
}

// Manager is one NamedDataMgr instance.
type Manager struct {
	id       string
	store    *chunkstore.Store
	hashAlgo chunkid.Algo
	db       *db
	cache    *readCache
	metrics  *ndnmetrics.Metrics
	logger   zerolog.Logger

	mu     sync.Mutex
	repack *repackWorker
}

// Open constructs a Manager, creating its metadata database under
// cfg.MetaDir if needed.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if cfg.MgrId == "" {
		return nil, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnmgr: empty mgr_id", nil)
	}
	if cfg.Store == nil {
		return nil, ndnerr.Wrap(ndnerr.ErrInvalidId, "ndnmgr: nil chunk store", nil)
	}
	if cfg.HashAlgo == chunkid.AlgoUnknown {
		cfg.HashAlgo = chunkid.AlgoSha256
	}
	if err := os.MkdirAll(cfg.MetaDir, 0o755); err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrIoError, "ndnmgr: create metadata dir", err)
	}

	database, err := openDB(filepath.Join(cfg.MetaDir, "ndnmgr.db"))
	if err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "ndnmgr").Str("mgr_id", cfg.MgrId).Logger()

	cache, err := newReadCache(ctx, cfg.Redis, logger, cfg.Metrics)
	if err != nil {
		database.Close()
		return nil, err
	}

	logger.Info().Msg("named data manager opened")
	return &Manager{
		id:       cfg.MgrId,
		store:    cfg.Store,
		hashAlgo: cfg.HashAlgo,
		db:       database,
		cache:    cache,
		metrics:  cfg.Metrics,
		logger:   logger,
	}, nil
}

// Close releases the manager's metadata database and cache handles,
// stopping its repack worker if one was started.
func (m *Manager) Close() error {
	m.mu.Lock()
	rp := m.repack
	m.mu.Unlock()
	if rp != nil {
		rp.Stop()
	}
	if err := m.cache.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("ndnmgr: close cache")
	}
	return m.db.Close()
}

// Id returns the manager's mgr_id.
func (m *Manager) Id() string { return m.id }

// Store returns the chunk store this manager composes, for callers
// (the HTTP server, the client, the repack worker) that need direct
// chunk access alongside object/path resolution.
func (m *Manager) Store() *chunkstore.Store { return m.store }

// PutObject verifies hash(canonical) == obj_id then stores the named
// object, per spec §4.5.
func (m *Manager) PutObject(ctx context.Context, objID ndnobject.ObjId, canonical string) error {
	if !ndnobject.Verify(objID, canonical) {
		return ndnerr.Wrap(ndnerr.ErrInvalidId, fmt.Sprintf("ndnmgr: canonical does not hash to %s", objID), nil)
	}
	if err := m.db.putObject(ctx, objID.String(), objID.ObjType, canonical, time.Now().UTC()); err != nil {
		return err
	}
	m.cache.invalidate(ctx, objectCacheKey(objID.String()))
	return nil
}

// GetObject returns the canonical string for obj_id.
func (m *Manager) GetObject(ctx context.Context, objID ndnobject.ObjId) (string, error) {
	var cached string
	if m.cache.getJSON(ctx, objectCacheKey(objID.String()), &cached) {
		return cached, nil
	}
	canonical, err := m.db.getObject(ctx, objID.String())
	if err != nil {
		return "", err
	}
	m.cache.setJSON(ctx, objectCacheKey(objID.String()), canonical)
	return canonical, nil
}

// ResolveObject implements ndnobject.Resolver against this manager's
// object store, letting inner-path resolution walk references without
// depending on ndnmgr directly.
func (m *Manager) ResolveObject(ctx context.Context, objID ndnobject.ObjId) (string, error) {
	return m.GetObject(ctx, objID)
}

// OpenChunkWriter is a thin wrapper over the composed chunk store's
// writer, enforcing that resumable writes start exactly where the
// store left off (spec §4.5: "thin wrappers over the store with
// concurrency enforcement").
func (m *Manager) OpenChunkWriter(ctx context.Context, id chunkid.ChunkId, size uint64, offset uint64, uid, appID string) (*chunkstore.Writer, error) {
	item, err := m.store.GetChunkItem(ctx, id)
	if err == nil && item.AlreadyWriteSize != offset {
		return nil, ndnerr.Wrap(ndnerr.ErrConflict,
			fmt.Sprintf("ndnmgr: writer offset %d does not match chunk's current write size %d", offset, item.AlreadyWriteSize), nil)
	}
	return m.store.CreateWriter(ctx, id, size, uid, appID, "")
}

// CompleteChunkWriter verifies the written bytes hash to the chunk's
// declared id, then releases the writer.
func (m *Manager) CompleteChunkWriter(ctx context.Context, w *chunkstore.Writer) error {
	if err := w.VerifyDigest(ctx); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// OpenChunkReader opens chunk id for reading starting at seekFrom. When
// autoCache is set and no metadata row exists yet, Exists' auto-add
// path is consulted first so a chunk already sitting on disk (e.g.
// placed there out of band) becomes readable without a separate import
// step.
func (m *Manager) OpenChunkReader(ctx context.Context, id chunkid.ChunkId, seekFrom int64, autoCache bool) (io.ReadCloser, uint64, error) {
	if autoCache {
		if _, _, err := m.store.Exists(ctx, id, true); err != nil {
			return nil, 0, err
		}
	}
	item, err := m.store.GetChunkItem(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	r, err := m.store.OpenReaderRange(ctx, id, seekFrom, -1)
	if err != nil {
		return nil, 0, err
	}
	return r, item.ChunkSize, nil
}

// PubObjectToFile canonicalizes value, stores it, and creates or
// advances obj_path's PathTable binding (spec §4.5).
func (m *Manager) PubObjectToFile(ctx context.Context, value any, objType, objPath string, policy SharePolicy, policyConfig string, uid, appID string, expectedSequence *uint64) (*PublicationRecord, error) {
	objID, canonical, err := ndnobject.BuildNamedObjectByJSON(objType, value, m.hashAlgo)
	if err != nil {
		return nil, err
	}
	if err := m.db.putObject(ctx, objID.String(), objType, canonical, time.Now().UTC()); err != nil {
		return nil, err
	}
	return m.publishPath(ctx, objPath, objID, policy, policyConfig, expectedSequence, appID)
}

// CreateFile binds an existing, already-stored FileObject to obj_path
// without re-importing content, per spec §4.5's create_file.
func (m *Manager) CreateFile(ctx context.Context, objPath string, fileID ndnobject.ObjId, appID string, policy SharePolicy, expectedSequence *uint64) (*PublicationRecord, error) {
	if _, err := m.db.getObject(ctx, fileID.String()); err != nil {
		return nil, err
	}
	return m.publishPath(ctx, objPath, fileID, policy, "", expectedSequence, appID)
}

// PubLocalFileAsFileObj hashes and imports a local file into the
// composed chunk store as a single chunk, builds a FileObject around
// it, and publishes it to obj_path, per spec §4.5.
func (m *Manager) PubLocalFileAsFileObj(ctx context.Context, localPath, objPath string, fileObj *ndnobject.FileObject, policy SharePolicy, uid, appID string, expectedSequence *uint64) (*PublicationRecord, ndnobject.ObjId, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, ndnobject.ObjId{}, ndnerr.Wrap(ndnerr.ErrIoError, "ndnmgr: open local file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, ndnobject.ObjId{}, ndnerr.Wrap(ndnerr.ErrIoError, "ndnmgr: stat local file", err)
	}
	size := uint64(info.Size())

	hash, _, err := chunkid.HashStream(m.hashAlgo, f)
	if err != nil {
		return nil, ndnobject.ObjId{}, err
	}
	chunkID, err := chunkid.FromHashBytes(m.hashAlgo, hash)
	if err != nil {
		return nil, ndnobject.ObjId{}, err
	}

	if err := m.importLocalChunk(ctx, chunkID, localPath, size, uid, appID); err != nil {
		return nil, ndnobject.ObjId{}, err
	}

	fileObj.Content = chunkID.String()
	fileObj.Size = size

	fileID, canonical, err := fileObj.BuildObject(m.hashAlgo)
	if err != nil {
		return nil, ndnobject.ObjId{}, err
	}
	if err := m.db.putObject(ctx, fileID.String(), ndnobject.ObjTypeFile, canonical, time.Now().UTC()); err != nil {
		return nil, ndnobject.ObjId{}, err
	}
	rec, err := m.publishPath(ctx, objPath, fileID, policy, "", expectedSequence, appID)
	if err != nil {
		return nil, ndnobject.ObjId{}, err
	}
	return rec, fileID, nil
}

// importLocalChunk copies localPath's bytes into the chunk store under
// chunkID, verifying digest on completion; it is a no-op if the chunk
// is already complete (content-addressed dedup).
func (m *Manager) importLocalChunk(ctx context.Context, chunkID chunkid.ChunkId, localPath string, size uint64, uid, appID string) error {
	if ok, _, err := m.store.Exists(ctx, chunkID, true); err != nil {
		return err
	} else if ok {
		return nil
	}

	w, err := m.store.CreateWriter(ctx, chunkID, size, uid, appID, "")
	if err != nil {
		return err
	}
	defer w.Close()

	f, err := os.Open(localPath)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrIoError, "ndnmgr: reopen local file for import", err)
	}
	defer f.Close()

	buf := make([]byte, 256*1024)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := w.AppendChunkData(ctx, buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return ndnerr.Wrap(ndnerr.ErrIoError, "ndnmgr: read local file", readErr)
		}
	}
	return w.VerifyDigest(ctx)
}

// publishPath performs the CAS-gated PathTable write shared by every
// publish operation.
func (m *Manager) publishPath(ctx context.Context, objPath string, objID ndnobject.ObjId, policy SharePolicy, policyConfig string, expectedSequence *uint64, opDevice string) (*PublicationRecord, error) {
	if policy == "" {
		policy = SharePolicyPublic
	}
	now := time.Now().UTC()
	seq, err := m.db.casPublish(ctx, objPath, objID.String(), string(policy), policyConfig, expectedSequence, opDevice, now)
	if err != nil {
		if m.metrics != nil && ndnerr.CodeOf(err) == ndnerr.CodeConflict {
			m.metrics.PathConflictsTotal.Inc()
		}
		return nil, err
	}
	m.cache.invalidate(ctx, pathCacheKey(objPath))
	if m.metrics != nil {
		m.metrics.PathPublishesTotal.WithLabelValues(m.id).Inc()
	}
	return &PublicationRecord{
		ObjPath: objPath, CurrentObjId: objID, SharePolicy: policy, SharePolicyConfig: policyConfig,
		Enabled: true, Sequence: seq, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// ResolvePath looks up obj_path's current binding, per spec §4.5's
// failure semantics: unknown path => NotFound; a disabled path is
// still returned for history inspection, callers checking the read
// path should test Enabled.
func (m *Manager) ResolvePath(ctx context.Context, objPath string) (*PublicationRecord, error) {
	var cached PublicationRecord
	if m.cache.getJSON(ctx, pathCacheKey(objPath), &cached) {
		return &cached, nil
	}
	row, err := m.db.getPath(ctx, objPath)
	if err != nil {
		return nil, err
	}
	objID, err := ndnobject.ParseObjId(row.CurrentObjId)
	if err != nil {
		return nil, err
	}
	rec := &PublicationRecord{
		ObjPath: row.ObjPath, CurrentObjId: objID, SharePolicy: SharePolicy(row.SharePolicy),
		SharePolicyConfig: row.SharePolicyConfig, Enabled: row.Enabled, Sequence: row.Sequence,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	if rec.Enabled {
		m.cache.setJSON(ctx, pathCacheKey(objPath), rec)
	}
	return rec, nil
}

// SetPathEnabled flips a path's enabled bit without touching its
// sequence or revision history (spec §4.5).
func (m *Manager) SetPathEnabled(ctx context.Context, objPath string, enabled bool) error {
	if err := m.db.setEnabled(ctx, objPath, enabled, time.Now().UTC()); err != nil {
		return err
	}
	m.cache.invalidate(ctx, pathCacheKey(objPath))
	return nil
}
