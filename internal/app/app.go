package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"immich-migrate/internal/checkpoint"
	"immich-migrate/internal/config"
	"immich-migrate/internal/database"
	"immich-migrate/internal/encryption"
	"immich-migrate/internal/immich"
	"immich-migrate/internal/migrate"
	"immich-migrate/internal/scan"
)

// App is the application layer between the CLI and the migration engine.
// It constructs all dependencies from config and manages the history
// database and log file lifecycle on Close.
type App struct {
	cfg       *config.Config
	db        *database.Store
	encryptor encryption.Encryptor
	logger    migrate.Logger
	logFile   *os.File
	runID     string
}

// New creates a fully wired App from the given config.
// The caller must call Close when done.
func New(cfg *config.Config) (*App, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")

	logger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	db, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	return &App{
		cfg:       cfg,
		db:        db,
		encryptor: enc,
		logger:    &slogAdapter{l: logger},
		logFile:   logFile,
		runID:     runID,
	}, nil
}

// MigrateOptions carries CLI overrides for one migration run. Zero values
// fall back to the config file.
type MigrateOptions struct {
	RootDir        string
	ServerURL      string
	APIKey         string
	CheckpointPath string
	Parallel       int
	DryRun         bool
}

// Migrate runs a full migration (or dry-run) of opts.RootDir and returns
// the aggregated report. The run is recorded in the history database.
func (a *App) Migrate(ctx context.Context, opts MigrateOptions) (*migrate.Report, error) {
	rootDir, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving root directory: %w", err)
	}

	serverURL := opts.ServerURL
	if serverURL == "" {
		serverURL = a.cfg.ServerURL
	}
	if serverURL == "" {
		return nil, fmt.Errorf("no server URL: set server_url in the config or pass --server")
	}

	apiKey, err := a.resolveAPIKey(opts.APIKey)
	if err != nil {
		return nil, err
	}

	deviceID := a.cfg.DeviceID
	if deviceID == "" {
		deviceID = "immich-migrate"
	}

	gateway := immich.NewClient(serverURL, apiKey, deviceID, a.logger)
	if !opts.DryRun {
		if err := gateway.Ping(ctx); err != nil {
			return nil, err
		}
	}

	checkpointPath := opts.CheckpointPath
	if checkpointPath == "" {
		checkpointPath = checkpoint.DefaultPath(rootDir)
	}
	store, err := checkpoint.Load(checkpointPath, rootDir, serverURL)
	if err != nil {
		return nil, err
	}
	a.logger.Info("checkpoint loaded", "path", checkpointPath, "records", store.Len())

	walker, err := scan.NewWalker(rootDir, a.cfg.Scan, a.logger)
	if err != nil {
		return nil, fmt.Errorf("preparing walker: %w", err)
	}

	schedCfg := migrate.SchedulerConfig{
		Parallel:       a.cfg.Upload.Parallel,
		MaxAttempts:    a.cfg.Upload.MaxAttempts,
		RetryBaseDelay: time.Duration(a.cfg.Upload.RetryBaseDelayMS) * time.Millisecond,
	}
	if opts.Parallel > 0 {
		schedCfg.Parallel = opts.Parallel
	}

	run, err := a.db.CreateRun(a.runID, rootDir, serverURL, opts.DryRun, time.Now())
	if err != nil {
		return nil, fmt.Errorf("recording migration run: %w", err)
	}

	migrator := migrate.NewMigrator(
		walker, gateway, store,
		migrate.RealClock{}, migrate.RealSleeper{}, migrate.UUIDGenerator{},
		a.logger,
		migrate.Options{DryRun: opts.DryRun, Scheduler: schedCfg},
	)

	report, runErr := migrator.Run(ctx)

	status := "success"
	switch {
	case ctx.Err() != nil:
		status = "interrupted"
	case runErr != nil || report.HasFailures():
		status = "partial"
	}
	if err := a.db.FinishRun(run.ID, status,
		report.AlbumsToCreate, report.FilesToUpload, report.FilesSkipped, report.FilesFailed,
		time.Now(),
	); err != nil {
		a.logger.Warn("failed to finalize run record", "error", err)
	}

	return report, runErr
}

// History returns the most recent migration runs.
func (a *App) History(limit int) ([]*database.MigrationRun, error) {
	return a.db.ListRuns(limit)
}

// StoreAPIKey encrypts the credential and writes it to the configured
// credential path, generating the key pair first if none exists.
func (a *App) StoreAPIKey(apiKey string) error {
	if !a.encryptor.IsConfigured() {
		if err := a.encryptor.Setup(); err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}
	}

	path := a.cfg.Encryption.CredentialPath
	if path == "" {
		return fmt.Errorf("no credential_path configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}

	var buf bytes.Buffer
	if err := a.encryptor.Encrypt(strings.NewReader(apiKey), &buf); err != nil {
		return fmt.Errorf("encrypting credential: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	return nil
}

// resolveAPIKey picks the credential: CLI flag first, then the plaintext
// config value, then the encrypted credential file.
func (a *App) resolveAPIKey(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if a.cfg.APIKey != "" {
		return a.cfg.APIKey, nil
	}

	path := a.cfg.Encryption.CredentialPath
	if path == "" {
		return "", fmt.Errorf("no API key: pass --api-key, set api_key in the config, or run `immich-migrate config set-key`")
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no API key: pass --api-key, set api_key in the config, or run `immich-migrate config set-key`")
		}
		return "", fmt.Errorf("opening credential: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := a.encryptor.Decrypt(f, &buf); err != nil {
		return "", fmt.Errorf("decrypting credential: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Close closes the history database and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing history database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
