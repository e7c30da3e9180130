package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/rojlabs/roj/internal/config"
)

// Archive sections. The store section holds the SQLite files, the nats
// section holds the JetStream state directory.
const (
	sectionPrefix = "roj-"
	sectionStore  = "roj-store"
	sectionNATS   = "roj-nats"
)

func runBackup(args []string) error {
	var outputPath string
	for i := 0; i < len(args); i++ {
		if args[i] == "-f" {
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: rojd backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	files := 0

	// SQLite database plus its WAL sidecars
	for _, suffix := range []string{"", "-wal", "-shm"} {
		p := cfg.Store.Path + suffix
		if _, err := os.Stat(p); err != nil {
			continue
		}
		name := path.Join(sectionStore, filepath.Base(p))
		if err := archiveFile(tw, p, name); err != nil {
			return fmt.Errorf("archive %s: %w", p, err)
		}
		files++
	}

	// JetStream state
	if info, err := os.Stat(cfg.NATS.DataDir); err == nil && info.IsDir() {
		n, err := archiveDir(tw, cfg.NATS.DataDir, sectionNATS)
		if err != nil {
			return fmt.Errorf("archive nats data: %w", err)
		}
		files += n
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	size := int64(0)
	if info, err := os.Stat(outputPath); err == nil {
		size = info.Size()
	}
	fmt.Printf("Backup complete: %d files, %s\n", files, formatSize(size))
	return nil
}

func archiveFile(tw *tar.Writer, srcPath, name string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}

func archiveDir(tw *tar.Writer, root, prefix string) (int, error) {
	files := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := path.Join(prefix, filepath.ToSlash(rel))

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			return tw.WriteHeader(hdr)
		}

		if err := archiveFile(tw, p, name); err != nil {
			return err
		}
		files++
		return nil
	})
	return files, err
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: rojd restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sections, err := scanArchiveSections(inputPath)
	if err != nil {
		return fmt.Errorf("scan archive: %w", err)
	}
	if len(sections) == 0 {
		fmt.Println("Archive contains no data.")
		return nil
	}

	if !overwrite {
		if _, err := os.Stat(cfg.Store.Path); err == nil {
			return fmt.Errorf("store %s already exists, add -overwrite to replace files", cfg.Store.Path)
		}
	}

	targets := map[string]string{
		sectionStore: filepath.Dir(cfg.Store.Path),
		sectionNATS:  cfg.NATS.DataDir,
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	files := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		section, rel := splitSectionPath(hdr.Name)
		target, ok := targets[section]
		if !ok {
			continue
		}
		// Reject traversal attempts baked into entry names.
		dest := filepath.Join(target, filepath.FromSlash(rel))
		if !strings.HasPrefix(dest, filepath.Clean(target)+string(os.PathSeparator)) && dest != filepath.Clean(target) {
			return fmt.Errorf("unsafe path in archive: %s", hdr.Name)
		}

		if hdr.Typeflag == tar.TypeDir || strings.HasSuffix(rel, "/") {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", dest, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
		if err != nil {
			return fmt.Errorf("create file %s: %w", dest, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("write file %s: %w", dest, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("close file %s: %w", dest, err)
		}
		files++
	}

	fmt.Printf("Restore complete: %d files across %d sections\n", files, len(sections))
	return nil
}

// scanArchiveSections lists the unique roj-* sections present in an archive.
func scanArchiveSections(archivePath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	seen := make(map[string]bool)
	var sections []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		section, _ := splitSectionPath(hdr.Name)
		if section != "" && !seen[section] {
			seen[section] = true
			sections = append(sections, section)
		}
	}
	return sections, nil
}

// splitSectionPath splits "roj-store/db.sqlite" into section and relative
// path. Entries outside a roj-* section return empty strings.
func splitSectionPath(p string) (section, rel string) {
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return "", ""
	}

	section, rel, found := strings.Cut(p, "/")
	if !strings.HasPrefix(section, sectionPrefix) {
		return "", ""
	}
	if !found || rel == "" {
		return section, "./"
	}
	return section, rel
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d bytes", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMG"[exp])
}
