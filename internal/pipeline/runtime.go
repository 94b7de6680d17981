package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"doc-translator/internal/cache"
	ledger "doc-translator/internal/errors"
	"doc-translator/internal/logger"
	"doc-translator/internal/pdf"
	"doc-translator/internal/results"
	"doc-translator/internal/store"
	"doc-translator/internal/translator"
	"doc-translator/internal/types"
	"doc-translator/internal/validator"
)

// Runtime owns the long-lived resources behind a Service.
type Runtime struct {
	Service *Service
	Store   store.Store
	Blobs   *results.BlobStore
	// Cache is the TM lookup cache; nil when no redis URL is configured
	// or redis was unreachable at startup.
	Cache *cache.MemoryCache

	redis cache.Client
}

// NewRuntime opens storage and builds the translation stack from cfg.
// The returned runtime's workers are not started yet.
func NewRuntime(ctx context.Context, cfg *types.Config) (*Runtime, error) {
	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Store: st}

	dataDir := cfg.Storage.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	rt.Blobs, err = results.NewBlobStore(filepath.Join(dataDir, "blobs"))
	if err != nil {
		st.Close()
		return nil, err
	}
	failures, err := ledger.NewErrorManager(filepath.Join(dataDir, "errors"))
	if err != nil {
		st.Close()
		return nil, types.NewAppError(types.ErrConfig, "failed to open failure ledger", err)
	}

	var memory translator.TranslationMemory = st
	if cfg.Storage.RedisURL != "" {
		client, err := cache.NewRedisClient(cache.RedisConfig{URL: cfg.Storage.RedisURL})
		if err != nil {
			logger.Warn("redis unavailable, translation memory is not cached", logger.Err(err))
		} else {
			rt.redis = client
			rt.Cache = cache.NewMemoryCache(st, client, cache.DefaultTTL)
			memory = rt.Cache
		}
	}

	provider, err := translator.NewProvider(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	resolver := translator.NewResolver(st, memory, provider, translator.ResolverConfig{
		TMThreshold:  cfg.Translation.TMThreshold,
		RetryBackoff: time.Duration(cfg.Translation.RetryBackoffMS) * time.Millisecond,
	})

	rt.Service = NewService(ServiceDeps{
		Jobs:     st,
		Segments: st,
		Blobs:    rt.Blobs,
		Resolver: resolver,
		QA: validator.NewQAValidator(validator.Config{
			LengthRatio:     cfg.QA.LengthRatio,
			ConfidenceFloor: cfg.QA.ConfidenceFloor,
		}),
		Assembler: pdf.NewAssembler(pdf.NewFitter(cfg.Assembly.MinFontRatio, cfg.Assembly.LineSpacing)),
		Failures:  failures,
	}, cfg.Pipeline)

	logger.Info("runtime ready",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("provider", provider.Name()),
		logger.String("blobs", rt.Blobs.BaseDir()),
		logger.Bool("tm_cache", rt.Cache != nil))
	return rt, nil
}

// Close stops the workers and releases storage.
func (r *Runtime) Close() error {
	if r.Service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.Service.Shutdown(ctx); err != nil {
			logger.Warn("scheduler did not stop in time", logger.Err(err))
		}
	}
	if r.redis != nil {
		r.redis.Close()
	}
	return r.Store.Close()
}
