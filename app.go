package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"doc-translator/internal/config"
	"doc-translator/internal/importer"
	"doc-translator/internal/layout"
	"doc-translator/internal/logger"
	"doc-translator/internal/pipeline"
	"doc-translator/internal/types"
)

// App 应用结构体，持有配置和翻译运行时
type App struct {
	ctx     context.Context
	config  *config.ConfigManager
	runtime *pipeline.Runtime

	statusMu       sync.RWMutex
	status         pipeline.Status
	statusCallback pipeline.StatusCallback
}

// NewApp creates an App that reads its configuration from the default path.
func NewApp() *App {
	return &App{}
}

// NewAppWithConfig creates an App with a custom config path.
func NewAppWithConfig(configPath string) (*App, error) {
	configMgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return nil, err
	}
	return &App{config: configMgr}, nil
}

// startup loads the configuration, initialises logging and opens the
// runtime. The worker pool is running when it returns.
func (a *App) startup(ctx context.Context, verbose bool) error {
	if a.config == nil {
		configMgr, err := config.NewConfigManager("")
		if err != nil {
			return err
		}
		a.config = configMgr
	}
	if err := a.config.Load(); err != nil {
		logger.Warn("failed to load config, using defaults", logger.Err(err))
	}
	if err := a.config.Validate(); err != nil {
		return err
	}
	return a.start(ctx, a.config.GetConfig(), verbose)
}

// start opens the runtime for cfg.
func (a *App) start(ctx context.Context, cfg *types.Config, verbose bool) error {
	a.ctx = ctx
	if err := initLogging(cfg, verbose); err != nil {
		return err
	}
	logger.Info("application starting up",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("provider", cfg.Translation.Provider))

	rt, err := pipeline.NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	a.runtime = rt
	rt.Service.SetStatusCallback(a.updateStatus)
	rt.Service.Run(ctx)
	logger.Info("application startup complete")
	return nil
}

// shutdown stops the workers and closes storage.
func (a *App) shutdown() {
	logger.Info("application shutting down")
	if a.runtime != nil {
		if err := a.runtime.Close(); err != nil {
			logger.Warn("failed to close runtime", logger.Err(err))
		}
	}
	logger.Info("application shutdown complete")
	logger.Close()
}

func initLogging(cfg *types.Config, verbose bool) error {
	level := logger.ParseLevel(cfg.Log.Level)
	if verbose {
		level = logger.LevelDebug
	}
	logFile := cfg.Log.File
	if logFile == "" {
		dataDir := cfg.Storage.DataDir
		if dataDir == "" {
			dataDir = config.DefaultDataDir
		}
		logFile = filepath.Join(dataDir, "doc-translator.log")
	}
	return logger.Init(&logger.Config{
		LogFilePath:   logFile,
		MaxFileSize:   10 * 1024 * 1024,
		MaxBackups:    5,
		Level:         level,
		EnableConsole: cfg.Log.Console,
	})
}

// Service returns the job service.
func (a *App) Service() *pipeline.Service {
	return a.runtime.Service
}

// SetStatusCallback sets the callback for job status updates.
func (a *App) SetStatusCallback(callback pipeline.StatusCallback) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.statusCallback = callback
}

// GetStatus returns the last reported status.
func (a *App) GetStatus() pipeline.Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

// updateStatus records s and forwards it outside the lock.
func (a *App) updateStatus(s pipeline.Status) {
	a.statusMu.Lock()
	a.status = s
	callback := a.statusCallback
	a.statusMu.Unlock()

	if callback != nil {
		callback(s)
	}
}

// TranslateFile runs one document through the pipeline and waits for it.
// The returned job is in a terminal state unless ctx expired first.
func (a *App) TranslateFile(ctx context.Context, path, srcLang, tgtLang string) (*layout.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	svc := a.Service()

	job, err := svc.CreateJobForSource(ctx, filepath.Base(path), srcLang, tgtLang, data)
	if err != nil {
		return nil, err
	}
	if job.State == layout.StatePending {
		if job, err = svc.Upload(ctx, job.ID, data); err != nil {
			return nil, err
		}
	}
	if err := svc.Start(ctx, job.ID); err != nil {
		return nil, err
	}

	final, err := svc.Wait(ctx, job.ID)
	if err != nil && ctx.Err() != nil {
		// Interrupted: cancel the job and report where it stopped.
		cancelCtx := context.WithoutCancel(ctx)
		if cancelled, cerr := svc.Cancel(cancelCtx, job.ID); cerr == nil {
			return cancelled, nil
		}
		return svc.Get(cancelCtx, job.ID)
	}
	return final, err
}

// SaveOutput writes a completed job's document to path.
func (a *App) SaveOutput(ctx context.Context, jobID, path string) error {
	data, err := a.Service().Output(ctx, jobID)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create output directory")
		}
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "write %s", path)
}

// ImportTM loads TM entries from a file into the store.
func (a *App) ImportTM(ctx context.Context, path string, d importer.Defaults) (int, error) {
	entries, err := importer.LoadTM(path, d)
	if err != nil {
		return 0, err
	}
	for i := range entries {
		if err := a.runtime.Store.AddEntry(ctx, &entries[i]); err != nil {
			return i, err
		}
	}
	if a.runtime.Cache != nil {
		if err := a.runtime.Cache.Invalidate(ctx); err != nil {
			logger.Warn("failed to invalidate TM cache", logger.Err(err))
		}
	}
	logger.Info("translation memory imported", logger.String("path", path), logger.Int("entries", len(entries)))
	return len(entries), nil
}

// ImportGlossary loads glossary entries from a file into the store.
func (a *App) ImportGlossary(ctx context.Context, path string, d importer.Defaults) (int, error) {
	entries, err := importer.LoadGlossary(path, d)
	if err != nil {
		return 0, err
	}
	for i := range entries {
		if err := a.runtime.Store.AddGlossaryEntry(ctx, &entries[i]); err != nil {
			return i, err
		}
	}
	logger.Info("glossary imported", logger.String("path", path), logger.Int("entries", len(entries)))
	return len(entries), nil
}

// defaultOutputPath names the translated file next to the source:
// paper.pdf -> paper.fr.pdf.
func defaultOutputPath(source, tgtLang string) string {
	ext := filepath.Ext(source)
	base := strings.TrimSuffix(source, ext)
	if ext == "" {
		ext = ".pdf"
	}
	return base + "." + strings.ToLower(tgtLang) + ext
}
