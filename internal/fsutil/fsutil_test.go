package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileScoped_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "pipeline_state.json")
	if err := os.WriteFile(p, []byte(`{"run_id":"run-1"}`), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	b, err := ReadFileScoped(p)
	if err != nil {
		t.Fatalf("ReadFileScoped: %v", err)
	}
	if string(b) != `{"run_id":"run-1"}` {
		t.Fatalf("content = %q", b)
	}
}

func TestReadFileScoped_MissingFile(t *testing.T) {
	_, err := ReadFileScoped(filepath.Join(t.TempDir(), "absent.json"))
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}

func TestSafeName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"run-20260301-120000-a1b2c", true},
		{"run_1", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../escape", false},
		{"a/b", false},
		{`a\b`, false},
	}
	for _, tc := range cases {
		if got := SafeName(tc.name); got != tc.want {
			t.Errorf("SafeName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
