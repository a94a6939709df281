package migrate_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"immich-migrate/internal/checkpoint"
	"immich-migrate/internal/immich"
	"immich-migrate/internal/migrate"
	"immich-migrate/internal/testutil"
)

var errTransient = errors.New("connection reset")

// sliceWalker streams a fixed set of entries, standing in for a directory
// tree on disk.
type sliceWalker struct {
	entries []migrate.FileEntry
}

func (w *sliceWalker) Walk(ctx context.Context, out chan<- migrate.FileEntry) error {
	for _, e := range w.entries {
		select {
		case out <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func entry(relDir, name string, mtime time.Time) migrate.FileEntry {
	return migrate.FileEntry{
		AbsPath: filepath.Join("/photos", filepath.FromSlash(relDir), name),
		RelDir:  relDir,
		Name:    name,
		ModTime: mtime,
		Size:    1024,
		Kind:    migrate.KindImage,
	}
}

type fixture struct {
	gateway *testutil.MemoryGateway
	store   *checkpoint.Store
	path    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), checkpoint.DefaultFilename)
	store, err := checkpoint.Load(path, "/photos", "http://immich:2283/api")
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{gateway: testutil.NewMemoryGateway(), store: store, path: path}
}

// reload re-opens the checkpoint from disk, as a new process would.
func (f *fixture) reload(t *testing.T) {
	t.Helper()
	store, err := checkpoint.Load(f.path, "/photos", "http://immich:2283/api")
	if err != nil {
		t.Fatalf("reloading checkpoint: %v", err)
	}
	f.store = store
}

func (f *fixture) run(t *testing.T, entries []migrate.FileEntry, opts migrate.Options) *migrate.Report {
	t.Helper()
	m := migrate.NewMigrator(
		&sliceWalker{entries: entries},
		f.gateway,
		f.store,
		testutil.FixedClock(),
		testutil.NewStubSleeper(),
		testutil.NewStubIDGenerator(),
		migrate.NopLogger{},
		opts,
	)
	report, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return report
}

func TestMigrator_FreshRun(t *testing.T) {
	f := newFixture(t)
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)
	entries := []migrate.FileEntry{
		entry("2020/trip", "a.jpg", mtime),
		entry("2020/trip", "b.jpg", mtime),
		entry("", "cover.png", mtime),
	}

	report := f.run(t, entries, migrate.Options{})

	if report.FilesToUpload != 3 || report.FilesSkipped != 0 || report.FilesFailed != 0 {
		t.Errorf("report = %+v, want 3 uploaded, 0 skipped, 0 failed", report)
	}
	if report.AlbumsToCreate != 1 {
		t.Errorf("AlbumsToCreate = %d, want 1", report.AlbumsToCreate)
	}
	if got := f.gateway.AssetsInAlbum("2020 / trip"); len(got) != 2 {
		t.Errorf("album holds %d assets, want 2", len(got))
	}
	if f.gateway.TotalUploads() != 3 {
		t.Errorf("server holds %d assets, want 3", f.gateway.TotalUploads())
	}
	if names := f.gateway.AlbumNames(); len(names) != 1 {
		t.Errorf("albums on server = %v, want only the trip album", names)
	}
}

func TestMigrator_SecondRunSkipsEverything(t *testing.T) {
	f := newFixture(t)
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)
	entries := []migrate.FileEntry{
		entry("2020/trip", "a.jpg", mtime),
		entry("2020/trip", "b.jpg", mtime),
	}

	f.run(t, entries, migrate.Options{})
	f.reload(t)
	report := f.run(t, entries, migrate.Options{})

	if report.FilesSkipped != 2 || report.FilesToUpload != 0 {
		t.Errorf("second run = %+v, want 2 skipped, 0 uploaded", report)
	}
	for _, name := range []string{"a.jpg", "b.jpg"} {
		if got := f.gateway.UploadCount(name); got != 1 {
			t.Errorf("UploadCount(%s) = %d after two runs, want 1", name, got)
		}
	}
}

func TestMigrator_ModifiedFileUploadsAgain(t *testing.T) {
	f := newFixture(t)
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)
	a := entry("2020", "a.jpg", mtime)
	b := entry("2020", "b.jpg", mtime)

	f.run(t, []migrate.FileEntry{a, b}, migrate.Options{})

	f.reload(t)
	a.ModTime = mtime.Add(time.Hour)
	report := f.run(t, []migrate.FileEntry{a, b}, migrate.Options{})

	if report.FilesToUpload != 1 || report.FilesSkipped != 1 {
		t.Errorf("report = %+v, want 1 uploaded, 1 skipped", report)
	}
	if got := f.gateway.UploadCount("a.jpg"); got != 2 {
		t.Errorf("UploadCount(a.jpg) = %d, want 2", got)
	}
}

func TestMigrator_PersistentServerErrorFailsOneFile(t *testing.T) {
	f := newFixture(t)
	f.gateway.UploadErrs["b.jpg"] = &immich.StatusError{Code: 500, Status: "500 Internal Server Error"}
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)
	entries := []migrate.FileEntry{
		entry("2020", "a.jpg", mtime),
		entry("2020", "b.jpg", mtime),
	}

	report := f.run(t, entries, migrate.Options{
		Scheduler: migrate.SchedulerConfig{MaxAttempts: 3, RetryBaseDelay: time.Millisecond},
	})

	if report.FilesToUpload != 1 || report.FilesFailed != 1 {
		t.Fatalf("report = %+v, want 1 uploaded, 1 failed", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].RelPath != "2020/b.jpg" {
		t.Errorf("Failures = %+v, want one entry for 2020/b.jpg", report.Failures)
	}
	if !report.HasFailures() {
		t.Error("HasFailures() = false")
	}
	if got := f.gateway.UploadCount("b.jpg"); got != 3 {
		t.Errorf("UploadCount(b.jpg) = %d, want MaxAttempts", got)
	}
	if got := f.gateway.UploadCount("a.jpg"); got != 1 {
		t.Errorf("UploadCount(a.jpg) = %d, want 1", got)
	}
}

func TestMigrator_RetryBackoffDelays(t *testing.T) {
	f := newFixture(t)
	f.gateway.UploadErrs["b.jpg"] = &immich.StatusError{Code: 500, Status: "500 Internal Server Error"}
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)

	sleeper := testutil.NewStubSleeper()
	m := migrate.NewMigrator(
		&sliceWalker{entries: []migrate.FileEntry{entry("2020", "b.jpg", mtime)}},
		f.gateway,
		f.store,
		testutil.FixedClock(),
		sleeper,
		testutil.NewStubIDGenerator(),
		migrate.NopLogger{},
		migrate.Options{Scheduler: migrate.SchedulerConfig{
			MaxAttempts:    3,
			RetryBaseDelay: 10 * time.Millisecond,
			Jitter:         func(time.Duration) time.Duration { return 0 },
		}},
	)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	got := sleeper.Delays()
	if len(got) != len(want) {
		t.Fatalf("Delays() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Delays()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMigrator_ClientErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.gateway.UploadErrs["bad.jpg"] = &immich.StatusError{Code: 400, Status: "400 Bad Request"}
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)

	report := f.run(t, []migrate.FileEntry{entry("2020", "bad.jpg", mtime)}, migrate.Options{
		Scheduler: migrate.SchedulerConfig{MaxAttempts: 3, RetryBaseDelay: time.Millisecond},
	})

	if report.FilesFailed != 1 {
		t.Fatalf("FilesFailed = %d, want 1", report.FilesFailed)
	}
	if got := f.gateway.UploadCount("bad.jpg"); got != 1 {
		t.Errorf("UploadCount(bad.jpg) = %d, want 1 for a terminal error", got)
	}
}

func TestMigrator_FailureIsNotCheckpointed(t *testing.T) {
	f := newFixture(t)
	f.gateway.UploadErrs["b.jpg"] = &immich.StatusError{Code: 500, Status: "500 Internal Server Error"}
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)
	entries := []migrate.FileEntry{entry("2020", "b.jpg", mtime)}

	f.run(t, entries, migrate.Options{
		Scheduler: migrate.SchedulerConfig{MaxAttempts: 2, RetryBaseDelay: time.Millisecond},
	})

	delete(f.gateway.UploadErrs, "b.jpg")
	f.reload(t)
	report := f.run(t, entries, migrate.Options{})

	if report.FilesToUpload != 1 || report.FilesSkipped != 0 {
		t.Errorf("rerun report = %+v, want the failed file retried", report)
	}
}

func TestMigrator_DryRun(t *testing.T) {
	f := newFixture(t)
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)
	entries := []migrate.FileEntry{
		entry("2020/trip", "a.jpg", mtime),
		entry("", "cover.png", mtime),
	}

	report := f.run(t, entries, migrate.Options{DryRun: true})

	if report.FilesToUpload != 2 {
		t.Errorf("FilesToUpload = %d, want 2", report.FilesToUpload)
	}
	if report.AlbumsToCreate != 1 {
		t.Errorf("AlbumsToCreate = %d, want 1", report.AlbumsToCreate)
	}
	if f.gateway.TotalUploads() != 0 {
		t.Errorf("dry-run uploaded %d assets", f.gateway.TotalUploads())
	}
	if names := f.gateway.AlbumNames(); len(names) != 0 {
		t.Errorf("dry-run created albums: %v", names)
	}
	if _, err := os.Stat(f.path); !os.IsNotExist(err) {
		t.Error("dry-run wrote a checkpoint file")
	}
}

func TestMigrator_DryRunMatchesLiveRun(t *testing.T) {
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)
	entries := []migrate.FileEntry{
		entry("2020/trip", "a.jpg", mtime),
		entry("2020/trip", "b.jpg", mtime),
		entry("2021", "c.jpg", mtime),
		entry("", "cover.png", mtime),
	}

	dry := newFixture(t)
	dryReport := dry.run(t, entries, migrate.Options{DryRun: true})

	live := newFixture(t)
	liveReport := live.run(t, entries, migrate.Options{})

	if dryReport.FilesToUpload != liveReport.FilesToUpload {
		t.Errorf("FilesToUpload: dry %d, live %d", dryReport.FilesToUpload, liveReport.FilesToUpload)
	}
	if dryReport.AlbumsToCreate != liveReport.AlbumsToCreate {
		t.Errorf("AlbumsToCreate: dry %d, live %d", dryReport.AlbumsToCreate, liveReport.AlbumsToCreate)
	}
}

func TestMigrator_DryRunSkipsCheckpointedFiles(t *testing.T) {
	f := newFixture(t)
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)
	entries := []migrate.FileEntry{
		entry("2020/trip", "a.jpg", mtime),
		entry("2020/trip", "b.jpg", mtime),
		entry("2021", "c.jpg", mtime),
	}

	f.run(t, entries, migrate.Options{})

	f.reload(t)
	liveRerun := f.run(t, entries, migrate.Options{})

	f.reload(t)
	dry := f.run(t, entries, migrate.Options{DryRun: true})

	if dry.FilesSkipped != liveRerun.FilesSkipped {
		t.Errorf("FilesSkipped: dry %d, live rerun %d", dry.FilesSkipped, liveRerun.FilesSkipped)
	}
	if dry.FilesToUpload != 0 {
		t.Errorf("FilesToUpload = %d in a dry rerun, want 0", dry.FilesToUpload)
	}
}

func TestMigrator_CancelledContext(t *testing.T) {
	f := newFixture(t)
	mtime := time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)
	entries := []migrate.FileEntry{entry("2020", "a.jpg", mtime)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := migrate.NewMigrator(
		&sliceWalker{entries: entries},
		f.gateway,
		f.store,
		testutil.FixedClock(),
		testutil.NewStubSleeper(),
		testutil.NewStubIDGenerator(),
		migrate.NopLogger{},
		migrate.Options{},
	)
	report, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v, want checkpointed interrupt without error", err)
	}
	if report.FilesFailed != 0 {
		t.Errorf("FilesFailed = %d on a clean interrupt", report.FilesFailed)
	}
	if _, err := os.Stat(f.path); err != nil {
		t.Errorf("checkpoint not flushed on interrupt: %v", err)
	}
}
