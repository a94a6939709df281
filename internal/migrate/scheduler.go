package migrate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SchedulerConfig bounds the scheduler's concurrency and retry behavior.
// The retry bound and backoff base are visible here so tests can shrink
// them.
type SchedulerConfig struct {
	Parallel       int           // worker pool size, default 4
	MaxAttempts    int           // upload+attach attempts per file, default 3
	RetryBaseDelay time.Duration // backoff base, default 1s
	FlushEvery     int           // checkpoint flush interval in records, default 25

	// Jitter draws the random component of a backoff delay given its upper
	// bound. Defaults to a uniform draw from the shared math/rand source;
	// tests substitute a deterministic function.
	Jitter func(max time.Duration) time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Parallel < 1 {
		c.Parallel = 4
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.FlushEvery < 1 {
		c.FlushEvery = 25
	}
	if c.Jitter == nil {
		c.Jitter = defaultJitter
	}
	return c
}

// Scheduler drives a bounded pool of upload workers. Each worker pulls
// file entries off the task channel, skips anything the checkpoint already
// covers, resolves the album, performs upload+attach with bounded retries,
// and records success back into the checkpoint store.
type Scheduler struct {
	gateway Gateway
	albums  *AlbumMapper
	store   CheckpointStore
	clock   Clock
	sleeper Sleeper
	logger  Logger
	cfg     SchedulerConfig
	dryRun  bool

	recorded atomic.Int64 // records since the last periodic flush trigger
}

// NewScheduler creates a scheduler over the given collaborators.
func NewScheduler(gateway Gateway, albums *AlbumMapper, store CheckpointStore, clock Clock, sleeper Sleeper, logger Logger, cfg SchedulerConfig, dryRun bool) *Scheduler {
	return &Scheduler{
		gateway: gateway,
		albums:  albums,
		store:   store,
		clock:   clock,
		sleeper: sleeper,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		dryRun:  dryRun,
	}
}

// Run consumes tasks until the channel is closed or ctx is cancelled and
// blocks until every worker has finished. On cancellation workers complete
// their in-flight task but take nothing new off the queue; the caller is
// responsible for the final checkpoint flush.
func (s *Scheduler) Run(ctx context.Context, tasks <-chan FileEntry, report *Report) {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, tasks, report)
		}()
	}
	wg.Wait()

	toCreate, existing := s.albums.Counts()
	report.setAlbumCounts(toCreate, existing)
}

func (s *Scheduler) worker(ctx context.Context, tasks <-chan FileEntry, report *Report) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-tasks:
			if !ok {
				return
			}
			s.process(ctx, entry, report)
		}
	}
}

// process handles one file end to end. A failure here is recorded in the
// report and never aborts the run.
func (s *Scheduler) process(ctx context.Context, entry FileEntry, report *Report) {
	fingerprint := entry.Fingerprint()

	if s.store.Contains(fingerprint) {
		s.logger.Debug("already uploaded, skipping", "file", entry.RelPath())
		report.AddSkipped()
		return
	}

	albumID, node, err := s.albums.Ensure(ctx, entry.RelDir)
	if err != nil {
		s.logger.Error("album resolution failed", "file", entry.RelPath(), "error", err)
		report.AddFailure(fingerprint, entry.RelPath(), err.Error())
		return
	}

	if s.dryRun {
		if node.Name == "" {
			s.logger.Info("would upload", "file", entry.RelPath())
		} else {
			s.logger.Info("would upload", "file", entry.RelPath(), "album", node.Name)
		}
		report.AddUploaded()
		return
	}

	assetID, err := s.uploadWithRetry(ctx, entry, albumID)
	if err != nil {
		s.logger.Error("upload failed", "file", entry.RelPath(), "error", err)
		report.AddFailure(fingerprint, entry.RelPath(), err.Error())
		return
	}

	s.store.Record(CheckpointRecord{
		Fingerprint: fingerprint,
		AssetID:     assetID,
		UploadedAt:  s.clock.Now(),
	})
	report.AddUploaded()
	s.logger.Info("uploaded", "file", entry.RelPath(), "album", node.Name, "asset", assetID)

	if s.recorded.Add(1)%int64(s.cfg.FlushEvery) == 0 {
		if err := s.store.Flush(); err != nil {
			s.logger.Warn("periodic checkpoint flush failed", "error", err)
		}
	}
}

// uploadWithRetry performs the upload+attach step with bounded attempts
// and exponential backoff. The gateway calls run on a non-cancellable
// context: once an upload has started it is allowed to finish, so a
// cancelled run never leaves ambiguous remote state. Backoff waits do
// observe cancellation.
func (s *Scheduler) uploadWithRetry(ctx context.Context, entry FileEntry, albumID string) (string, error) {
	opCtx := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		assetID, err := s.gateway.UploadAsset(opCtx, entry)
		if err == nil && albumID != "" {
			err = s.gateway.AddAssetToAlbum(opCtx, assetID, albumID)
		}
		if err == nil {
			return assetID, nil
		}

		lastErr = err
		if !IsRetryable(err) || attempt == s.cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(attempt, s.cfg.RetryBaseDelay, s.cfg.Jitter)
		s.logger.Warn("upload attempt failed, retrying", "file", entry.RelPath(), "attempt", attempt, "delay", delay, "error", err)
		if !s.sleeper.Sleep(ctx, delay) {
			break
		}
	}
	return "", lastErr
}
