package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/mediabin/internal/store"
)

func TestIsMediaFile(t *testing.T) {
	scanner := &Scanner{
		extensions: map[string]bool{
			".mp4":  true,
			".mkv":  true,
			".webm": true,
		},
	}

	tests := []struct {
		path     string
		expected bool
	}{
		{"clip.mp4", true},
		{"clip.MP4", true}, // Case insensitive
		{"clip.mkv", true},
		{"clip.webm", true},
		{"clip.txt", false},
		{"clip.jpg", false},
		{"clip", false},
		{".mp4", true},
	}

	for _, tt := range tests {
		result := scanner.IsMediaFile(tt.path)
		if result != tt.expected {
			t.Errorf("IsMediaFile(%s) = %v, expected %v", tt.path, result, tt.expected)
		}
	}
}

func TestAdditionalExtensions(t *testing.T) {
	scanner := New(&Config{AdditionalExts: []string{"MTS", ".3gp", " "}})

	if !scanner.IsMediaFile("holiday.mts") {
		t.Errorf("expected .mts to be accepted")
	}
	if !scanner.IsMediaFile("phone.3GP") {
		t.Errorf("expected .3gp to be accepted")
	}
	if scanner.IsMediaFile("notes") {
		t.Errorf("empty extension must not be accepted")
	}
	if len(scanner.SupportedExtensions()) != len(MediaExtensions)+2 {
		t.Errorf("expected %d extensions, got %v", len(MediaExtensions)+2, scanner.SupportedExtensions())
	}
}

func createFiles(t *testing.T, paths ...string) {
	t.Helper()
	for _, path := range paths {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(path), 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}
}

func TestScannerWithRealFiles(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src")

	createFiles(t,
		filepath.Join(src, "Channel", "2021", "01 - Intro.mp4"),
		filepath.Join(src, "Channel", "2021", "02 - Outro.mkv"),
		filepath.Join(src, "single.webm"),
		filepath.Join(src, "README.txt"),           // Should be ignored
		filepath.Join(src, ".cache", "hidden.mp4"), // Hidden dirs are skipped
	)

	scanner := New(&Config{Concurrency: 2})
	result, err := scanner.Scan(context.Background(), src)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(result.Candidates) != 3 {
		t.Fatalf("Expected 3 media files, got %d", len(result.Candidates))
	}
	if result.FilesNew != 3 || result.FilesKnown != 0 {
		t.Errorf("Expected 3 new and 0 known, got %d and %d", result.FilesNew, result.FilesKnown)
	}

	// Sorted by path
	for i := 1; i < len(result.Candidates); i++ {
		if result.Candidates[i-1].Path > result.Candidates[i].Path {
			t.Errorf("Candidates not sorted: %s > %s", result.Candidates[i-1].Path, result.Candidates[i].Path)
		}
	}

	ids := make(map[string]bool)
	for _, c := range result.Candidates {
		if ids[c.ID] {
			t.Errorf("Duplicate id: %s", c.ID)
		}
		ids[c.ID] = true
		if c.Size == 0 {
			t.Errorf("Expected size for %s", c.Path)
		}
	}
}

func TestScannerMarksKnownFiles(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src")
	createFiles(t, filepath.Join(src, "a.mp4"), filepath.Join(src, "b.mp4"), filepath.Join(src, "c.mp4"))

	db, err := store.Open(filepath.Join(tmpDir, "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	scanner := New(&Config{Ledger: db, Concurrency: 1})
	ctx := context.Background()

	first, err := scanner.Scan(ctx, src)
	if err != nil {
		t.Fatalf("First scan failed: %v", err)
	}
	if first.FilesNew != 3 {
		t.Fatalf("First scan: expected 3 new files, got %d", first.FilesNew)
	}

	// a is stored, b failed (importable again), c untouched
	if err := db.InsertMedia(ctx, &store.Media{ID: first.Candidates[0].ID, Title: "a", Status: store.StatusStored}); err != nil {
		t.Fatalf("InsertMedia failed: %v", err)
	}
	if err := db.InsertMedia(ctx, &store.Media{ID: first.Candidates[1].ID, Title: "b", Status: store.StatusFailed}); err != nil {
		t.Fatalf("InsertMedia failed: %v", err)
	}

	second, err := scanner.Scan(ctx, src)
	if err != nil {
		t.Fatalf("Second scan failed: %v", err)
	}
	if second.FilesKnown != 1 || second.FilesNew != 2 {
		t.Errorf("Second scan: expected 1 known and 2 new, got %d and %d", second.FilesKnown, second.FilesNew)
	}
	if second.Candidates[1].Status != store.StatusFailed {
		t.Errorf("Expected failed status on b, got %q", second.Candidates[1].Status)
	}

	fresh := second.New()
	if len(fresh) != 2 || fresh[0].Path != first.Candidates[1].Path {
		t.Errorf("Unexpected New(): %+v", fresh)
	}
}

func TestScanSingleFileAndMissingRoot(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "one.mp4")
	createFiles(t, file)

	scanner := New(&Config{})
	result, err := scanner.Scan(context.Background(), file)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].Path != file {
		t.Errorf("Expected the single file, got %+v", result.Candidates)
	}

	if _, err := scanner.Scan(context.Background(), filepath.Join(tmpDir, "missing")); err == nil {
		t.Errorf("Expected error for missing root")
	}
}

func TestScanCanceled(t *testing.T) {
	tmpDir := t.TempDir()
	createFiles(t, filepath.Join(tmpDir, "a.mp4"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(&Config{}).Scan(ctx, tmpDir); err == nil {
		t.Errorf("Expected error for canceled context")
	}
}
