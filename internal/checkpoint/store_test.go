package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"immich-migrate/internal/migrate"
)

const (
	testRoot   = "/photos"
	testServer = "http://immich.local:2283/api"
)

func testRecord(fingerprint string) migrate.CheckpointRecord {
	return migrate.CheckpointRecord{
		Fingerprint: fingerprint,
		AssetID:     "asset-" + fingerprint,
		UploadedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)

	s, err := Load(path, testRoot, testServer)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if s.Contains("anything") {
		t.Error("Contains() = true on empty store")
	}
}

func TestStore_RecordFlushLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)

	s, err := Load(path, testRoot, testServer)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	s.Record(testRecord("2020/trip/a.jpg@100"))
	s.Record(testRecord("2020/trip/b.jpg@200"))
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	reloaded, err := Load(path, testRoot, testServer)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("Len() after reload = %d, want 2", reloaded.Len())
	}
	for _, fp := range []string{"2020/trip/a.jpg@100", "2020/trip/b.jpg@200"} {
		if !reloaded.Contains(fp) {
			t.Errorf("Contains(%q) = false after reload", fp)
		}
	}
}

func TestStore_RecordIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	s, _ := Load(path, testRoot, testServer)

	first := testRecord("x@1")
	s.Record(first)

	second := first
	second.AssetID = "different"
	s.Record(second)

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), first.AssetID) {
		t.Error("original record was overwritten")
	}
	if strings.Contains(string(data), "different") {
		t.Error("duplicate record replaced the original")
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path, testRoot, testServer)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load() error = %v, want ErrCorrupt", err)
	}
}

func TestLoad_UnsupportedSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	f := fileFormat{SchemaVersion: 99, RootPath: testRoot, ServerURL: testServer}
	data, _ := json.Marshal(f)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path, testRoot, testServer)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load() error = %v, want ErrCorrupt", err)
	}
}

func TestLoad_Mismatch(t *testing.T) {
	t.Run("different root", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultFilename)
		s, _ := Load(path, testRoot, testServer)
		if err := s.Flush(); err != nil {
			t.Fatal(err)
		}

		_, err := Load(path, "/other", testServer)
		if !errors.Is(err, ErrMismatch) {
			t.Errorf("Load() error = %v, want ErrMismatch", err)
		}
	})

	t.Run("different server", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultFilename)
		s, _ := Load(path, testRoot, testServer)
		if err := s.Flush(); err != nil {
			t.Fatal(err)
		}

		_, err := Load(path, testRoot, "http://elsewhere:2283/api")
		if !errors.Is(err, ErrMismatch) {
			t.Errorf("Load() error = %v, want ErrMismatch", err)
		}
	})
}

func TestStore_FlushLeavesNoTemporaries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFilename)
	s, _ := Load(path, testRoot, testServer)
	s.Record(testRecord("a@1"))

	for i := 0; i < 3; i++ {
		if err := s.Flush(); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != DefaultFilename {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("directory contents = %v, want only %s", names, DefaultFilename)
	}
}

// The file on disk must always be a valid snapshot, so a flush that races
// concurrent records can persist fewer records than memory holds but never
// an unparseable file.
func TestStore_ConcurrentRecordAndFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	s, _ := Load(path, testRoot, testServer)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Record(testRecord(string(rune('a'+worker)) + "@" + string(rune('0'+j%10))))
				if j%10 == 0 {
					if err := s.Flush(); err != nil {
						t.Errorf("Flush() error = %v", err)
					}
				}
			}
		}(i)
	}
	wg.Wait()

	if err := s.Flush(); err != nil {
		t.Fatalf("final Flush() error = %v", err)
	}
	if _, err := Load(path, testRoot, testServer); err != nil {
		t.Fatalf("reload after concurrent writes: %v", err)
	}
}
