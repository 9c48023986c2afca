package bundle

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// VerifyResult is the outcome of checking an archive against its manifest.
type VerifyResult struct {
	Valid          bool              `json:"valid"`
	ManifestValid  bool              `json:"manifest_valid"`
	FilesPresent   bool              `json:"files_present"`
	ChecksumsValid bool              `json:"checksums_valid"`
	Errors         []string          `json:"errors,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	Manifest       *Manifest         `json:"manifest,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
}

// Verify reads the archive at path and checks the manifest, presence and
// checksums of every listed file. Format is detected from the extension.
func Verify(path string) (*VerifyResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	var contents map[string][]byte
	switch {
	case strings.HasSuffix(path, ".zip"):
		contents, err = readZip(path)
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		contents, err = readTarGz(path)
	default:
		return nil, fmt.Errorf("cannot tell the bundle format of %s", path)
	}
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Details: map[string]string{"file_count": strconv.Itoa(len(contents))}}
	raw, ok := contents[ManifestFilename]
	if !ok {
		res.Errors = append(res.Errors, "manifest.json missing")
		return res, nil
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		res.Errors = append(res.Errors, "manifest.json: "+err.Error())
		return res, nil
	}
	res.Manifest = &m
	if m.SchemaVersion != SchemaVersion {
		res.Errors = append(res.Errors, fmt.Sprintf("unsupported schema version %d", m.SchemaVersion))
		return res, nil
	}
	if m.Run.ID == "" {
		res.Errors = append(res.Errors, "manifest names no run")
		return res, nil
	}
	res.ManifestValid = true

	res.FilesPresent, res.ChecksumsValid = true, true
	listed := make(map[string]bool, len(m.Entries))
	for _, e := range m.Entries {
		listed[e.Path] = true
		data, ok := contents[e.Path]
		if !ok {
			res.FilesPresent = false
			res.Errors = append(res.Errors, "missing "+e.Path)
			continue
		}
		if !validDigest(e.Digest) || digest(data) != e.Digest {
			res.ChecksumsValid = false
			res.Errors = append(res.Errors, "checksum mismatch for "+e.Path)
		}
		if int64(len(data)) != e.Size {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s is %d bytes, manifest says %d", e.Path, len(data), e.Size))
		}
	}
	for name := range contents {
		if name != ManifestFilename && !listed[name] {
			res.Warnings = append(res.Warnings, name+" is not in the manifest")
		}
	}
	sort.Strings(res.Warnings)

	// report.json must describe the run the manifest names.
	if data, ok := contents[reportEntry]; ok && listed[reportEntry] {
		var rep struct {
			RunID string `json:"run_id"`
		}
		if err := json.Unmarshal(data, &rep); err != nil {
			res.Errors = append(res.Errors, reportEntry+": "+err.Error())
			res.ManifestValid = false
		} else if rep.RunID != m.Run.ID {
			res.Errors = append(res.Errors, fmt.Sprintf("%s is for run %s, manifest names %s", reportEntry, rep.RunID, m.Run.ID))
			res.ManifestValid = false
		}
	}
	res.Details["run_id"] = m.Run.ID
	res.Details["redactions"] = strconv.Itoa(m.Redacted())
	res.Valid = res.ManifestValid && res.FilesPresent && res.ChecksumsValid
	return res, nil
}

const reportEntry = "report.json"

func readZip(path string) (map[string][]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	defer zr.Close()
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}
		out[f.Name] = data
	}
	return out, nil
}

func readTarGz(path string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening gzip: %w", err)
	}
	defer gr.Close()
	tr := tar.NewReader(gr)
	out := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		out[hdr.Name] = data
	}
}
