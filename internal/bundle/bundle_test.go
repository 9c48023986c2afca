package bundle

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/dappcheck/internal/redaction"
	"github.com/Dicklesworthstone/dappcheck/internal/report"
	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := map[string]Format{"": FormatZip, "zip": FormatZip, "TGZ": FormatTarGz, "tar.gz": FormatTarGz}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("rar"); err == nil {
		t.Error("expected error for rar")
	}
}

func TestContentTypeFor(t *testing.T) {
	t.Parallel()

	tests := map[string]ContentType{
		"report.json":             ContentTypeReport,
		"events.jsonl":            ContentTypeEvents,
		"metrics.prom":            ContentTypeMetrics,
		"artifacts/a-step01.PNG":  ContentTypeScreenshot,
		"artifacts/a-step01.html": ContentTypeHTML,
		"notes.txt":               ContentTypeOther,
	}
	for path, want := range tests {
		if got := ContentTypeFor(path); got != want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestAddFile_RejectsBadPaths(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(GeneratorConfig{})
	for _, p := range []string{"../escape", "..", ".", ManifestFilename} {
		if err := gen.AddFile(p, []byte("x"), "", time.Now()); err == nil {
			t.Errorf("AddFile(%q) accepted", p)
		}
	}
	if gen.FileCount() != 0 {
		t.Errorf("FileCount = %d", gen.FileCount())
	}
}

func TestAddFile_Redaction(t *testing.T) {
	t.Parallel()

	const seed = "correct horse battery staple"
	r, err := redaction.New(redaction.Config{
		Mode:    redaction.ModeRedact,
		Secrets: map[redaction.Category][]string{redaction.CategorySeedPhrase: {seed}},
	})
	if err != nil {
		t.Fatal(err)
	}
	gen := NewGenerator(GeneratorConfig{Redactor: r})

	if err := gen.AddFile("page.html", []byte("<p>"+seed+"</p>"), "", time.Now()); err != nil {
		t.Fatal(err)
	}
	png := []byte("\x89PNG " + seed)
	if err := gen.AddFile("shot.png", png, "", time.Now()); err != nil {
		t.Fatal(err)
	}

	html := gen.files[0]
	if strings.Contains(string(html.data), seed) || html.redactions[redaction.CategorySeedPhrase] != 1 {
		t.Errorf("html = %q, redactions = %v", html.data, html.redactions)
	}
	if string(gen.files[1].data) != string(png) || gen.files[1].redactions != nil {
		t.Error("screenshot bytes must be archived unchanged")
	}
}

func TestAddDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "report.json"), []byte("{}"), 0o644)
	os.WriteFile(filepath.Join(sub, "a-step01.html"), []byte("<html/>"), 0o644)

	gen := NewGenerator(GeneratorConfig{})
	if err := gen.AddDirectory(dir, dir, ""); err != nil {
		t.Fatal(err)
	}
	paths := map[string]ContentType{}
	for _, f := range gen.files {
		paths[f.path] = f.contentType
	}
	if paths["report.json"] != ContentTypeReport || paths["artifacts/a-step01.html"] != ContentTypeHTML {
		t.Errorf("paths = %v", paths)
	}

	if err := gen.AddDirectory(dir, filepath.Join(dir, "missing"), ""); err == nil {
		t.Error("expected error for a missing directory")
	}
}

func TestGenerateVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{FormatZip, FormatTarGz} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()
			out := filepath.Join(t.TempDir(), "bundle."+string(format))
			gen := NewGenerator(GeneratorConfig{Run: Run{ID: "run-1", Failed: 1}, OutputPath: out, Format: format, Version: "test"})
			gen.AddFile("report.json", []byte(`{"run_id":"run-1"}`), "", time.Now())
			gen.AddFile("artifacts/x-step01.png", []byte{0x89, 'P', 'N', 'G'}, "", time.Time{})

			m, err := gen.Generate()
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if len(m.Entries) != 2 || m.Entries[0].Path != "artifacts/x-step01.png" || m.Tool != "dappcheck test" {
				t.Errorf("manifest = %+v", m)
			}
			if e, ok := m.Entry("report.json"); !ok || e.Type != ContentTypeReport || !validDigest(e.Digest) {
				t.Errorf("report entry = %+v", e)
			}

			res, err := Verify(out)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if !res.Valid || res.Manifest.Run.ID != "run-1" || res.Manifest.Run.Failed != 1 || res.Details["file_count"] != "3" {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestVerify_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	m := Manifest{SchemaVersion: SchemaVersion, Run: Run{ID: "run-1"}, Entries: []Entry{
		newEntry(bundleFile{path: "notes.txt", contentType: ContentTypeOther, data: []byte("original")}),
		newEntry(bundleFile{path: "gone.html", contentType: ContentTypeHTML, data: []byte("x")}),
	}}
	data, _ := json.Marshal(m)
	w, _ := zw.Create(ManifestFilename)
	w.Write(data)
	w, _ = zw.Create("notes.txt")
	w.Write([]byte("tampered"))
	w, _ = zw.Create("stray.txt")
	w.Write([]byte("?"))
	zw.Close()
	f.Close()

	res, err := Verify(path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.ChecksumsValid || res.FilesPresent {
		t.Errorf("result = %+v", res)
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v", res.Errors)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "stray.txt is not in the manifest" {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestVerify_ReportMustMatchRun(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "bundle.zip")
	gen := NewGenerator(GeneratorConfig{Run: Run{ID: "run-1"}, OutputPath: out})
	gen.AddFile("report.json", []byte(`{"run_id":"run-2"}`), "", time.Now())
	if _, err := gen.Generate(); err != nil {
		t.Fatal(err)
	}
	res, err := Verify(out)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.ManifestValid || len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "run run-2") {
		t.Errorf("result = %+v", res)
	}

	noRun := filepath.Join(t.TempDir(), "anon.zip")
	if _, err := NewGenerator(GeneratorConfig{OutputPath: noRun}).Generate(); err != nil {
		t.Fatal(err)
	}
	if res, err := Verify(noRun); err != nil || res.Valid || res.Errors[0] != "manifest names no run" {
		t.Errorf("anonymous bundle: %+v, %v", res, err)
	}
}

func TestRunFromReport(t *testing.T) {
	t.Parallel()

	rep := report.Generate([]scenario.ScenarioResult{
		{Name: "homepage", Status: scenario.StatusPassed},
		{Name: "agent-deploy", Status: scenario.StatusFailed, FailureKind: scenario.FailureTimeout},
		{Name: "logout", Status: scenario.StatusSkipped},
	}, report.Options{RunID: "run-9", Driver: "sim", BaseURL: "http://ontora.test", StartedAt: time.Now()})

	run := RunFromReport(rep)
	if run.ID != "run-9" || run.Driver != "sim" || run.Passed != 1 || run.Failed != 1 || run.Skipped != 1 {
		t.Errorf("run = %+v", run)
	}
	if len(run.Failures) != 1 || run.Failures["agent-deploy"] != "harness_timeout" {
		t.Errorf("Failures = %v", run.Failures)
	}
	if !strings.Contains(run.Platform, "/") {
		t.Errorf("Platform = %q", run.Platform)
	}
}

func TestManifestRedacted(t *testing.T) {
	t.Parallel()

	m := Manifest{Entries: []Entry{
		{Path: "a.html", Redactions: map[redaction.Category]int{redaction.CategorySeedPhrase: 2, redaction.CategoryJWT: 1}},
		{Path: "b.png"},
		{Path: "report.json", Redactions: map[redaction.Category]int{redaction.CategoryBearerToken: 1}},
	}}
	if got := m.Redacted(); got != 4 {
		t.Errorf("Redacted() = %d, want 4", got)
	}
	if _, ok := m.Entry("missing"); ok {
		t.Error("Entry found a path that is not archived")
	}
}

func TestVerify_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := Verify(dir); err == nil {
		t.Error("directory accepted")
	}
	odd := filepath.Join(dir, "bundle.rar")
	os.WriteFile(odd, []byte("x"), 0o644)
	if _, err := Verify(odd); err == nil {
		t.Error("unknown extension accepted")
	}
	notGzip := filepath.Join(dir, "bundle.tar.gz")
	os.WriteFile(notGzip, []byte("plain"), 0o644)
	if _, err := Verify(notGzip); err == nil {
		t.Error("non-gzip accepted")
	}

	empty := filepath.Join(dir, "empty.zip")
	f, _ := os.Create(empty)
	zip.NewWriter(f).Close()
	f.Close()
	res, err := Verify(empty)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || len(res.Errors) != 1 || res.Errors[0] != "manifest.json missing" {
		t.Errorf("result = %+v", res)
	}
}
