package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/otiai10/gosseract/v2"
	"github.com/spf13/cobra"

	"github.com/referto-app/referto/archive"
	"github.com/referto-app/referto/config"
	"github.com/referto-app/referto/document"
	"github.com/referto-app/referto/observability"
	"github.com/referto-app/referto/ocr/tesseract"
	"github.com/referto-app/referto/server"
	"github.com/referto-app/referto/summarize"
	"github.com/referto-app/referto/tasks"
)

// serveFlags override the environment configuration when set.
type serveFlags struct {
	port       int
	uploadDir  string
	archiveDir string
	workers    int
	logLevel   string
	logFile    string
	prompts    string
}

func (f *serveFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVarP(&f.port, "port", "p", 0, "Listen port (default $PORT or 5000)")
	fs.StringVar(&f.uploadDir, "upload-dir", "", "Upload folder (default $UPLOAD_FOLDER or uploads)")
	fs.StringVar(&f.archiveDir, "archive-dir", "", "Report folder (default $ARCHIVE_FOLDER or archive)")
	fs.IntVar(&f.workers, "workers", 0, "Background extraction workers (default $WORKERS or 2)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (default $LOG_LEVEL or info)")
	fs.StringVar(&f.logFile, "log-file", "", "Log file appended to besides stderr (default $LOG_FILE or app.log)")
	fs.StringVar(&f.prompts, "prompts", "", "YAML file overriding the prompt presets")
}

func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if fs.Changed("upload-dir") {
		cfg.UploadDir = f.uploadDir
	}
	if fs.Changed("archive-dir") {
		cfg.ArchiveDir = f.archiveDir
	}
	if fs.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if fs.Changed("prompts") {
		cfg.PromptsFile = f.prompts
	}
	return cfg.Validate()
}

func newServeCommand() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, flags *serveFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := flags.apply(cmd, &cfg); err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", observability.Error("error", err))
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func buildServer(ctx context.Context, cfg config.Config, logger observability.Logger) (*server.Server, error) {
	if cfg.GoogleAPIKey == "" {
		return nil, errors.New("GOOGLE_API_KEY is not set")
	}
	tracer := observability.LogTracer(logger)

	presets, err := summarize.LoadPresets(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}
	gemini, err := summarize.NewGemini(ctx, summarize.GeminiConfig{
		APIKey:  cfg.GoogleAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiURL,
		Timeout: cfg.GeminiTimeout,
	})
	if err != nil {
		return nil, err
	}

	engine := newOCREngine(cfg)
	cache := document.NewCache(cfg.CacheSize)
	extractor := document.New(document.Config{
		Engine:  engine,
		Workers: cfg.Workers,
		Cache:   cache,
	}, logger, tracer)

	store, err := archive.Open(cfg.UploadDir, cfg.ArchiveDir)
	if err != nil {
		return nil, err
	}
	queue := tasks.NewQueue(tasks.Config{Workers: cfg.Workers, TTL: cfg.TaskTTL}, logger)

	logger.Info("ocr engine ready",
		observability.String("engine", engine.Name()),
		observability.String("version", engine.Version()),
		observability.String("languages", cfg.OCRLanguages))

	return server.New(server.Options{
		Addr:            cfg.Addr(),
		MaxUploadBytes:  cfg.MaxUploadBytes,
		MaxConnections:  cfg.MaxConnections,
		UploadRetention: cfg.UploadRetention,
		Housekeeping:    server.DefaultHousekeeping,
	}, server.Deps{
		Extractor:  extractor,
		Summarizer: summarize.NewService(presets, gemini, logger, tracer),
		Store:      store,
		Queue:      queue,
		Cache:      cache,
		OCRName:    engine.Name(),
		OCRVersion: engine.Version(),
	}, logger)
}

func newOCREngine(cfg config.Config) *tesseract.Engine {
	return tesseract.New(tesseract.Config{
		Languages:      tesseract.ParseLanguages(cfg.OCRLanguages),
		PageSegMode:    gosseract.PageSegMode(cfg.OCRPageSegMode),
		TessdataPrefix: cfg.TessdataPrefix,
	})
}
