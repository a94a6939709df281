package migrate

import "sync"

// Failure records one file that exhausted its retries.
type Failure struct {
	Fingerprint string
	RelPath     string
	Reason      string
}

// Report aggregates the outcome of a migration run. It is safe for
// concurrent use by scheduler workers.
type Report struct {
	mu sync.Mutex

	AlbumsToCreate int
	AlbumsExisting int
	FilesToUpload  int
	FilesSkipped   int
	FilesFailed    int
	Failures       []Failure
}

func NewReport() *Report {
	return &Report{}
}

// AddUploaded counts a file that was uploaded (or, in dry-run, would be).
func (r *Report) AddUploaded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FilesToUpload++
}

// AddSkipped counts a file skipped via the checkpoint.
func (r *Report) AddSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FilesSkipped++
}

// AddFailure records a file that failed after all retry attempts.
func (r *Report) AddFailure(fingerprint, relPath, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FilesFailed++
	r.Failures = append(r.Failures, Failure{
		Fingerprint: fingerprint,
		RelPath:     relPath,
		Reason:      reason,
	})
}

// setAlbumCounts stores the mapper's final counters.
func (r *Report) setAlbumCounts(toCreate, existing int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AlbumsToCreate = toCreate
	r.AlbumsExisting = existing
}

// HasFailures reports whether any file ultimately failed. The process
// exit code hangs off this.
func (r *Report) HasFailures() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.FilesFailed > 0
}
