package scan

import "testing"

func TestIgnoreMatcher_Defaults(t *testing.T) {
	m := NewIgnoreMatcher(nil)

	for _, path := range []string{"@eaDir", "2020/@eaDir", ".thumbnails", "a/.DS_Store"} {
		if !m.Match(path) {
			t.Errorf("Match(%q) = false, want default ignore", path)
		}
	}
	if m.Match("2020/trip/a.jpg") {
		t.Error("Match() = true for a regular media path")
	}
}

func TestIgnoreMatcher_BasenameVsPath(t *testing.T) {
	m := NewIgnoreMatcher([]string{"*.tmp", "raw/*"})

	tests := []struct {
		path string
		want bool
	}{
		{"a.tmp", true},
		{"deep/nested/b.tmp", true},
		{"raw/img.jpg", true},
		{"other/raw.jpg", false},
		{"keep.jpg", false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNewIgnoreMatcher_SkipsBlanksAndComments(t *testing.T) {
	m := NewIgnoreMatcher([]string{"", "  ", "# comment", "skipme"})

	if !m.Match("skipme") {
		t.Error("Match(skipme) = false")
	}
	if m.Match("# comment") {
		t.Error("comment line became a pattern")
	}
}
