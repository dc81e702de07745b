// Command ndnd runs one NDN core zone: a chunk store (C2), a
// NamedDataMgr (C5), the NDN HTTP server (C6), and an RTCP stack (C8),
// wired together from BUCKYOS_ROOT/BUCKYOS_SYSTEM_ETC_DIR and the
// NDN_* environment variables internal/config.Load reads (spec §6).
// The core owns no CLI or flag parsing of its own (Non-goals, spec
// §1); everything this binary needs comes from the environment.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/chunkstore"
	"github.com/buckyos/ndncore/internal/config"
	"github.com/buckyos/ndncore/internal/ndnmetrics"
	"github.com/buckyos/ndncore/internal/ndnmgr"
	"github.com/buckyos/ndncore/internal/ndnserver"
	"github.com/buckyos/ndncore/internal/pkg/crypto"
	"github.com/buckyos/ndncore/internal/rtcp"
	"github.com/buckyos/ndncore/internal/sessiontoken"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "ndnd").Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("ndnd exited with error")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	metrics := ndnmetrics.New()

	store, err := chunkstore.Open(chunkstore.Config{
		BaseDir: filepath.Join(cfg.DataRoot, "ndn", "chunks"),
		Lock:    chunkLock(cfg, logger),
	}, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr, err := ndnmgr.Open(ctx, ndnmgr.Config{
		MgrId:    cfg.DeviceId,
		MetaDir:  filepath.Join(cfg.DataRoot, "ndn", "meta"),
		Store:    store,
		HashAlgo: chunkid.AlgoSha256,
		Redis:    cfg.Redis,
		Metrics:  metrics,
	}, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	retention := startRetentionWorker(ctx, store, cfg, metrics, logger)
	defer retention.Stop()

	// The repack worker's lifecycle is tied to ctx: it stops itself when
	// ctx is cancelled, same as the HTTP and RTCP servers below.
	mgr.StartRepackWorker(ctx)

	verifier := sessiontoken.Verifier(sessiontoken.AllowAll{})
	if len(cfg.JWTHMACKey) > 0 {
		verifier = sessiontoken.NewJWTVerifier(sessiontoken.StaticKeySource{Alg: "HS256", Key: cfg.JWTHMACKey})
	}

	var encryptor *crypto.ChaChaStreamEncryptor
	if len(cfg.EncryptionMasterKey) > 0 {
		encryptor, err = crypto.NewChaChaStreamEncryptor(cfg.EncryptionMasterKey)
		if err != nil {
			return err
		}
	}

	ndnSrv := ndnserver.New(ndnserver.Config{
		MountPrefix: cfg.MountPrefix,
		Mgr:         mgr,
		Verifier:    verifier,
		Encryptor:   encryptor,
		Metrics:     metrics,
		Logger:      logger,
	})

	stack, err := rtcp.Listen(cfg.RTCPListenAddr, rtcp.Config{
		ThisDevice: cfg.DeviceId,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := stack.Serve(ctx); err != nil {
			logger.Error().Err(err).Msg("rtcp stack stopped")
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ndnSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", ndnmetrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	logger.Info().Str("listen", cfg.ListenAddr).Str("rtcp", cfg.RTCPListenAddr).Msg("ndnd starting")
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http server shutdown error")
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		stack.Close()
	}
	return nil
}

func chunkLock(cfg config.Config, logger zerolog.Logger) chunkstore.DistributedLock {
	if !cfg.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr(),
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	return chunkstore.NewRedisDistributedLock(client, logger)
}

func startRetentionWorker(ctx context.Context, store *chunkstore.Store, cfg config.Config, metrics *ndnmetrics.Metrics, logger zerolog.Logger) *retentionWorker {
	controller := chunkstore.NewRetentionController(store)
	controller.AddPolicy(chunkstore.RetentionPolicy{Name: "default", MinDisabledAge: cfg.GCMinDisabledAge})

	w := &retentionWorker{done: make(chan struct{})}
	if cfg.GCInterval <= 0 {
		close(w.done)
		return w
	}

	go func() {
		ticker := time.NewTicker(cfg.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-ticker.C:
				start := time.Now()
				result, err := controller.RunOnce(ctx)
				if err != nil {
					logger.Error().Err(err).Msg("retention sweep failed")
					continue
				}
				if metrics != nil {
					metrics.RecordGCRun(time.Since(start).Seconds(), result.ChunksPurged)
				}
				logger.Info().Int("evaluated", result.ChunksEvaluated).Int("purged", result.ChunksPurged).Msg("retention sweep complete")
			}
		}
	}()
	return w
}

// retentionWorker is a handle to the background GC goroutine; Stop is
// idempotent since shutdown can race a GCInterval of zero.
type retentionWorker struct {
	done   chan struct{}
	closed bool
}

func (w *retentionWorker) Stop() {
	if w.closed {
		return
	}
	w.closed = true
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
