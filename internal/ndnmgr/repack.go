package ndnmgr

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/buckyos/ndncore/internal/chunklist"
	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/delta"
	"github.com/buckyos/ndncore/internal/ndnerr"
	"github.com/buckyos/ndncore/internal/ndnobject"
)

// RepackStatus mirrors the teacher's migration.WorkerStatus shape,
// renamed for repack's narrower one-strategy scope: re-chunk a
// single-chunk FileObject into a delta-friendly ChunkList and record
// the relationship as a SameAs link (spec §4.4, DOMAIN STACK: "adapted
// into a background repack worker").
type RepackStatus struct {
	Running        bool
	LastBatch      RepackBatchResult
	TotalRepacked  int64
	TotalSkipped   int64
	TotalFailed    int64
}

// RepackBatchResult mirrors migration.BatchResult for one repack pass.
type RepackBatchResult struct {
	StartTime   time.Time
	EndTime     time.Time
	Processed   int
	Repacked    int
	Skipped     int
	Failed      int
	Errors      []string
}

// repackWorker opportunistically re-chunks FileObjects whose content
// is one plain chunk into a ChunkList of content-defined chunks,
// generalizing migration.Worker's Start/Stop/RunOnce/GetStatus shape
// down to the single strategy this domain needs instead of a
// pluggable Strategy registry (see DESIGN.md).
type repackWorker struct {
	mgr      *Manager
	chunker  delta.Chunker
	interval time.Duration
	batch    int
	logger   zerolog.Logger

	mu      sync.Mutex
	queue   []string
	status  RepackStatus

	cancel context.CancelFunc
	done   chan struct{}
}

// newRepackWorker builds a repack worker over mgr using FastCDC for
// re-chunking.
func newRepackWorker(mgr *Manager) *repackWorker {
	return &repackWorker{
		mgr:      mgr,
		chunker:  delta.NewFastCDCDefault(mgr.hashAlgo),
		interval: time.Minute,
		batch:    8,
		logger:   mgr.logger.With().Str("worker", "repack").Logger(),
	}
}

// StartRepackWorker attaches and starts a repack worker on m, returning
// it so the caller can Enqueue candidate paths.
func (m *Manager) StartRepackWorker(ctx context.Context) *RepackController {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.repack == nil {
		m.repack = newRepackWorker(m)
	}
	m.repack.start(ctx)
	return &RepackController{w: m.repack}
}

// RepackController is the public handle a caller uses to feed and
// observe the repack worker without exposing the worker's internals.
type RepackController struct{ w *repackWorker }

// Enqueue schedules obj_path as a repack candidate for the next batch.
func (c *RepackController) Enqueue(objPath string) { c.w.enqueue(objPath) }

// Status returns the worker's last-batch summary.
func (c *RepackController) Status() RepackStatus { return c.w.getStatus() }

// SetInterval changes the time between batches.
func (c *RepackController) SetInterval(d time.Duration) { c.w.setInterval(d) }

// SetBatchSize changes how many candidates one batch processes.
func (c *RepackController) SetBatchSize(n int) { c.w.setBatchSize(n) }

// RunOnce processes up to one batch immediately.
func (c *RepackController) RunOnce(ctx context.Context) RepackBatchResult { return c.w.RunOnce(ctx) }

// Stop cancels the worker's background loop and waits for it to exit.
func (c *RepackController) Stop() { c.w.Stop() }

func (w *repackWorker) enqueue(objPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, objPath)
}

func (w *repackWorker) setInterval(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interval = d
}

func (w *repackWorker) setBatchSize(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batch = n
}

func (w *repackWorker) getStatus() RepackStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *repackWorker) start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	interval := w.interval
	w.status.Running = true
	w.mu.Unlock()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.runBatch(runCtx)
			}
		}
	}()
}

// Stop cancels the worker's background loop and waits for it to exit.
func (w *repackWorker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.status.Running = false
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce processes up to one batch immediately, for tests and manual
// triggering.
func (w *repackWorker) RunOnce(ctx context.Context) RepackBatchResult {
	return w.runBatch(ctx)
}

func (w *repackWorker) runBatch(ctx context.Context) RepackBatchResult {
	w.mu.Lock()
	n := w.batch
	if n > len(w.queue) {
		n = len(w.queue)
	}
	batch := append([]string(nil), w.queue[:n]...)
	w.queue = w.queue[n:]
	w.mu.Unlock()

	result := RepackBatchResult{StartTime: time.Now().UTC()}
	for _, objPath := range batch {
		result.Processed++
		switch repacked, err := w.repackOne(ctx, objPath); {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
		case repacked:
			result.Repacked++
		default:
			result.Skipped++
		}
	}
	result.EndTime = time.Now().UTC()

	w.mu.Lock()
	w.status.LastBatch = result
	w.status.TotalRepacked += int64(result.Repacked)
	w.status.TotalSkipped += int64(result.Skipped)
	w.status.TotalFailed += int64(result.Failed)
	w.mu.Unlock()

	if w.mgr.metrics != nil {
		w.mgr.metrics.RecordGCRun(result.EndTime.Sub(result.StartTime).Seconds(), 0)
	}
	return result
}

// repackOne re-chunks obj_path's bound FileObject if its content is
// still a single plain chunk, returning (true, nil) if it performed a
// repack, (false, nil) if the path was already chunk-list-backed or
// too small to benefit, and an error otherwise. Candidates that lost a
// concurrent CAS race are treated as skipped, not failed: another
// writer already advanced the path.
func (w *repackWorker) repackOne(ctx context.Context, objPath string) (bool, error) {
	mgr := w.mgr
	rec, err := mgr.ResolvePath(ctx, objPath)
	if err != nil {
		return false, err
	}
	if !rec.Enabled {
		return false, nil
	}

	canonical, err := mgr.GetObject(ctx, rec.CurrentObjId)
	if err != nil {
		return false, err
	}
	fileObjPtr, err := ndnobject.DecodeFileObject(canonical)
	if err != nil {
		return false, nil
	}
	fileObj := *fileObjPtr
	isList, err := fileObj.ContentIsChunkList()
	if err != nil {
		return false, nil
	}
	if isList {
		return false, nil
	}
	contentID, err := chunkid.Parse(fileObj.Content)
	if err != nil {
		return false, nil
	}
	if fileObj.Size < delta.DefaultMinSize*2 {
		return false, nil
	}

	r, err := mgr.store.OpenReader(ctx, contentID)
	if err != nil {
		return false, err
	}
	defer r.Close()

	chunks, errc := w.chunker.Chunk(ctx, r)
	builder := chunklist.NewBuilder(mgr.hashAlgo).WithTotalSize(fileObj.Size)
	for c := range chunks {
		if err := w.mgr.importLocalChunkBytes(ctx, c.Id, c.Data); err != nil {
			return false, err
		}
		builder.Append(c.Id, uint64(c.Size))
	}
	if err := <-errc; err != nil {
		return false, err
	}
	list, err := builder.Build()
	if err != nil {
		return false, err
	}
	listID, listCanonical, err := list.BuildObject()
	if err != nil {
		return false, err
	}
	if err := mgr.PutObject(ctx, listID, listCanonical); err != nil {
		return false, err
	}

	newFileObj := ndnobject.FileObject{Name: fileObj.Name, Size: fileObj.Size, Content: listID.String(), Mime: fileObj.Mime, CreateTime: fileObj.CreateTime}
	oldFileID := rec.CurrentObjId
	if err := newFileObj.AddSameAs(&fileObj, oldFileID); err != nil {
		return false, err
	}
	newFileID, newCanonical, err := newFileObj.BuildObject(mgr.hashAlgo)
	if err != nil {
		return false, err
	}
	if err := mgr.PutObject(ctx, newFileID, newCanonical); err != nil {
		return false, err
	}

	expected := rec.Sequence
	if _, err := mgr.publishPath(ctx, objPath, newFileID, rec.SharePolicy, rec.SharePolicyConfig, &expected, "repack-worker"); err != nil {
		if ndnerr.CodeOf(err) == ndnerr.CodeConflict {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// importLocalChunkBytes writes an in-memory chunk (already produced by
// the repack chunker) into the store, deduping against an existing
// complete chunk with the same id.
func (m *Manager) importLocalChunkBytes(ctx context.Context, id chunkid.ChunkId, data []byte) error {
	if ok, _, err := m.store.Exists(ctx, id, true); err != nil {
		return err
	} else if ok {
		return nil
	}
	w, err := m.store.CreateWriter(ctx, id, uint64(len(data)), "", "", "repack")
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.AppendChunkData(ctx, data); err != nil {
		return err
	}
	return w.VerifyDigest(ctx)
}
