// Package bundle packs a run's report, event log and failure artifacts into
// a single archive that can be attached to a CI job or a bug report.
package bundle

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Dicklesworthstone/dappcheck/internal/redaction"
)

// Format is the archive format.
type Format string

const (
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
)

// ParseFormat accepts zip, tar.gz and tgz.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "zip", "":
		return FormatZip, nil
	case "tar.gz", "tgz":
		return FormatTarGz, nil
	default:
		return "", fmt.Errorf("unsupported bundle format %q (zip|tar.gz)", s)
	}
}

// ContentType classifies archived files.
type ContentType string

const (
	ContentTypeReport     ContentType = "report"
	ContentTypeEvents     ContentType = "events"
	ContentTypeMetrics    ContentType = "metrics"
	ContentTypeScreenshot ContentType = "screenshot"
	ContentTypeHTML       ContentType = "html"
	ContentTypeOther      ContentType = "other"
)

// ContentTypeFor guesses the content type from the file extension.
func ContentTypeFor(path string) ContentType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return ContentTypeScreenshot
	case ".html", ".htm":
		return ContentTypeHTML
	case ".jsonl":
		return ContentTypeEvents
	case ".prom":
		return ContentTypeMetrics
	case ".json":
		return ContentTypeReport
	default:
		return ContentTypeOther
	}
}

// binary content is archived as is.
func (c ContentType) binary() bool { return c == ContentTypeScreenshot }

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Run        Run
	OutputPath string
	Format     Format
	// Version is the dappcheck version recorded in the manifest.
	Version string
	// Redactor scrubs every text file. Nil archives text unchanged.
	Redactor *redaction.Redactor
}

type bundleFile struct {
	path        string
	contentType ContentType
	data        []byte
	modTime     time.Time
	redactions  map[redaction.Category]int
}

// Generator collects files and writes the archive.
type Generator struct {
	config GeneratorConfig
	files  []bundleFile
}

func NewGenerator(config GeneratorConfig) *Generator {
	if config.Format == "" {
		config.Format = FormatZip
	}
	return &Generator{config: config}
}

// AddFile queues data under path. An empty content type is inferred from
// the extension.
func (g *Generator) AddFile(path string, data []byte, ct ContentType, modTime time.Time) error {
	path = filepath.ToSlash(filepath.Clean(path))
	if path == "." || path == ".." || strings.HasPrefix(path, "../") || filepath.IsAbs(path) {
		return fmt.Errorf("bundle path %q must be relative", path)
	}
	if path == ManifestFilename {
		return fmt.Errorf("%s is reserved", ManifestFilename)
	}
	if ct == "" {
		ct = ContentTypeFor(path)
	}
	f := bundleFile{path: path, contentType: ct, data: data, modTime: modTime}
	if !ct.binary() && g.config.Redactor != nil {
		out, findings := g.config.Redactor.Apply(string(data))
		if g.config.Redactor.Mode() == redaction.ModeRedact {
			f.data = []byte(out)
		}
		f.redactions = redaction.Categories(findings)
	}
	g.files = append(g.files, f)
	return nil
}

// AddPath reads a file from disk and queues it under archivePath.
func (g *Generator) AddPath(archivePath, diskPath string) error {
	info, err := os.Stat(diskPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(diskPath)
	if err != nil {
		return err
	}
	return g.AddFile(archivePath, data, "", info.ModTime())
}

// AddDirectory queues every regular file under dir, named by its path
// relative to root.
func (g *Generator) AddDirectory(root, dir string, ct ContentType) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(path)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		return g.AddFile(rel, data, ct, info.ModTime())
	})
}

// FileCount reports how many files are queued.
func (g *Generator) FileCount() int { return len(g.files) }

// Generate writes the archive and returns its manifest.
func (g *Generator) Generate() (*Manifest, error) {
	if g.config.OutputPath == "" {
		return nil, fmt.Errorf("bundle output path is empty")
	}
	sort.SliceStable(g.files, func(i, j int) bool { return g.files[i].path < g.files[j].path })

	manifest := Manifest{
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Tool:          strings.TrimSpace("dappcheck " + g.config.Version),
		Run:           g.config.Run,
		Entries:       make([]Entry, 0, len(g.files)),
	}
	for _, f := range g.files {
		manifest.Entries = append(manifest.Entries, newEntry(f))
	}
	mdata, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	entries := append([]bundleFile{{path: ManifestFilename, data: mdata, modTime: manifest.CreatedAt}}, g.files...)

	if err := os.MkdirAll(filepath.Dir(g.config.OutputPath), 0o755); err != nil {
		return nil, err
	}
	out, err := os.Create(g.config.OutputPath)
	if err != nil {
		return nil, err
	}
	switch g.config.Format {
	case FormatZip:
		err = writeZip(out, entries)
	case FormatTarGz:
		err = writeTarGz(out, entries)
	default:
		err = fmt.Errorf("unsupported bundle format %q", g.config.Format)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(g.config.OutputPath)
		return nil, err
	}
	return &manifest, nil
}

func modTimeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func writeZip(w io.Writer, entries []bundleFile) error {
	zw := zip.NewWriter(w)
	for _, f := range entries {
		hdr := &zip.FileHeader{Name: f.path, Method: zip.Deflate, Modified: modTimeOrNow(f.modTime)}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if _, err := fw.Write(f.data); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeTarGz(w io.Writer, entries []bundleFile) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)
	for _, f := range entries {
		hdr := &tar.Header{
			Name:     f.path,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(f.data)),
			ModTime:  modTimeOrNow(f.modTime),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := io.Copy(tw, bytes.NewReader(f.data)); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}
