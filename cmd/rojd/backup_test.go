package main

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestSplitSectionPath(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantSection string
		wantRel     string
	}{
		{"store file", "roj-store/roj.db", "roj-store", "roj.db"},
		{"nested path", "roj-nats/jetstream/streams/meta.inf", "roj-nats", "jetstream/streams/meta.inf"},
		{"directory with slash", "roj-nats/jetstream/", "roj-nats", "jetstream/"},
		{"section root dir", "roj-store/", "roj-store", "./"},
		{"section bare name", "roj-store", "roj-store", "./"},
		{"leading dot-slash", "./roj-store/roj.db", "roj-store", "roj.db"},
		{"leading slash", "/roj-store/roj.db", "roj-store", "roj.db"},
		{"foreign prefix", "other-data/file.txt", "", ""},
		{"empty string", "", "", ""},
		{"just a slash", "/", "", ""},
		{"dot only", ".", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSection, gotRel := splitSectionPath(tt.input)
			if gotSection != tt.wantSection {
				t.Errorf("splitSectionPath(%q) section = %q, want %q", tt.input, gotSection, tt.wantSection)
			}
			if gotRel != tt.wantRel {
				t.Errorf("splitSectionPath(%q) rel = %q, want %q", tt.input, gotRel, tt.wantRel)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatSize(tt.bytes); got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

// createTestArchive builds a zstd-compressed tar with the given entries.
func createTestArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tar.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}

	tw := tar.NewWriter(zw)
	for name, content := range entries {
		hdr := &tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	zw.Close()

	return path
}

func TestScanArchiveSections(t *testing.T) {
	archivePath := createTestArchive(t, map[string]string{
		"roj-store/roj.db":                    "data",
		"roj-store/roj.db-wal":                "wal",
		"roj-nats/jetstream/streams/meta.inf": "meta",
	})

	sections, err := scanArchiveSections(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d: %v", len(sections), sections)
	}

	found := make(map[string]bool)
	for _, s := range sections {
		found[s] = true
	}
	for _, want := range []string{"roj-store", "roj-nats"} {
		if !found[want] {
			t.Errorf("expected section %q not found in %v", want, sections)
		}
	}
}

func TestScanArchiveSections_Empty(t *testing.T) {
	archivePath := createTestArchive(t, map[string]string{})

	sections, err := scanArchiveSections(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 0 {
		t.Fatalf("expected 0 sections, got %d: %v", len(sections), sections)
	}
}

func TestScanArchiveSections_ForeignEntries(t *testing.T) {
	archivePath := createTestArchive(t, map[string]string{
		"other-data/file.txt": "data",
		"random-file.txt":     "data",
		"roj-store/roj.db":    "data",
	})

	sections, err := scanArchiveSections(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d: %v", len(sections), sections)
	}
	if sections[0] != "roj-store" {
		t.Errorf("expected roj-store, got %q", sections[0])
	}
}

func TestScanArchiveSections_InvalidFile(t *testing.T) {
	if _, err := scanArchiveSections("/nonexistent/file.tar.zst"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestScanArchiveSections_InvalidZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.zst")
	os.WriteFile(path, []byte("not zstd data"), 0644)

	if _, err := scanArchiveSections(path); err == nil {
		t.Fatal("expected error for invalid zstd data")
	}
}

func TestArchiveDirRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "jetstream"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "jetstream", "meta.inf"), []byte("meta"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "server.log"), []byte("log line"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	zw, _ := zstd.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	files, err := archiveDir(tw, src, sectionNATS)
	if err != nil {
		t.Fatal(err)
	}
	tw.Close()
	zw.Close()

	if files != 2 {
		t.Fatalf("archived %d files, want 2", files)
	}

	zr, _ := zstd.NewReader(bytes.NewReader(buf.Bytes()))
	defer zr.Close()
	tr := tar.NewReader(zr)

	got := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		section, rel := splitSectionPath(hdr.Name)
		if section != sectionNATS {
			t.Errorf("entry %q in section %q", hdr.Name, section)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		got[rel] = string(data)
	}

	if got["jetstream/meta.inf"] != "meta" {
		t.Errorf("meta.inf = %q", got["jetstream/meta.inf"])
	}
	if got["server.log"] != "log line" {
		t.Errorf("server.log = %q", got["server.log"])
	}
}
