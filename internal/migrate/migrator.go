package migrate

import (
	"context"
	"fmt"
)

// Options configures a migration run.
type Options struct {
	DryRun    bool
	Scheduler SchedulerConfig
	QueueSize int // bounded task queue between walker and workers, default 2*Parallel
}

// Migrator is the top-level driver: it wires walker, album mapper,
// scheduler and checkpoint store into either a dry-run report or a live
// migration.
type Migrator struct {
	walker  Walker
	gateway Gateway
	store   CheckpointStore
	clock   Clock
	sleeper Sleeper
	idgen   IDGenerator
	logger  Logger
	opts    Options
}

// NewMigrator creates a migrator from its collaborators.
func NewMigrator(walker Walker, gateway Gateway, store CheckpointStore, clock Clock, sleeper Sleeper, idgen IDGenerator, logger Logger, opts Options) *Migrator {
	return &Migrator{
		walker:  walker,
		gateway: gateway,
		store:   store,
		clock:   clock,
		sleeper: sleeper,
		idgen:   idgen,
		logger:  logger,
		opts:    opts,
	}
}

// Run walks the root, schedules uploads across the worker pool, and
// returns the aggregated report. The checkpoint store is flushed before
// returning, including on cancellation, so an interrupted run resumes
// cleanly. Individual file failures land in the report; the returned
// error is reserved for conditions that stop the whole run, such as an
// unreadable root or an unwritable checkpoint.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	cfg := m.opts.Scheduler.withDefaults()

	queueSize := m.opts.QueueSize
	if queueSize < 1 {
		queueSize = 2 * cfg.Parallel
	}

	if m.opts.DryRun {
		m.logger.Info("dry-run mode: no remote changes will be made")
	}

	albums := NewAlbumMapper(m.gateway, m.idgen, m.logger, m.opts.DryRun)
	scheduler := NewScheduler(m.gateway, albums, m.store, m.clock, m.sleeper, m.logger, cfg, m.opts.DryRun)
	report := NewReport()

	tasks := make(chan FileEntry, queueSize)
	walkDone := make(chan error, 1)
	go func() {
		defer close(tasks)
		walkDone <- m.walker.Walk(ctx, tasks)
	}()

	scheduler.Run(ctx, tasks, report)
	walkErr := <-walkDone

	// The final flush happens regardless of how the run ended. Losing it
	// would re-upload everything this run completed.
	if !m.opts.DryRun {
		if err := m.store.Flush(); err != nil {
			return report, fmt.Errorf("flushing checkpoint: %w", err)
		}
	}

	if walkErr != nil && ctx.Err() == nil {
		return report, fmt.Errorf("walking root: %w", walkErr)
	}

	if ctx.Err() != nil {
		m.logger.Warn("migration interrupted, progress checkpointed",
			"uploaded", report.FilesToUpload, "skipped", report.FilesSkipped)
	}

	return report, nil
}
