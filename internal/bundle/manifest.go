package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"strings"
	"time"

	"github.com/Dicklesworthstone/dappcheck/internal/redaction"
	"github.com/Dicklesworthstone/dappcheck/internal/report"
)

// SchemaVersion is the manifest layout Verify understands.
const SchemaVersion = 1

// ManifestFilename sits at the archive root, ahead of every other entry.
const ManifestFilename = "manifest.json"

const digestPrefix = "sha256:"

// Manifest names the run a bundle captures and digests every archived file,
// so a reader can triage the run before unpacking anything.
type Manifest struct {
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	Tool          string    `json:"tool"`
	Run           Run       `json:"run"`
	Entries       []Entry   `json:"entries"`
}

// Run is the part of the report worth reading without opening report.json.
type Run struct {
	ID      string    `json:"id"`
	Driver  string    `json:"driver,omitempty"`
	BaseURL string    `json:"base_url,omitempty"`
	Started time.Time `json:"started"`
	Passed  int       `json:"passed"`
	Failed  int       `json:"failed"`
	Skipped int       `json:"skipped"`
	// Failures maps each failed scenario to its failure kind.
	Failures map[string]string `json:"failures,omitempty"`
	// Platform is the os/arch of the machine that built the bundle.
	Platform string `json:"platform"`
}

// RunFromReport summarises rep for the manifest.
func RunFromReport(rep *report.Report) Run {
	run := Run{
		ID:       rep.RunID,
		Driver:   rep.Driver,
		BaseURL:  rep.BaseURL,
		Started:  rep.Timestamp,
		Passed:   rep.Summary.Passed,
		Failed:   rep.Summary.Failed,
		Skipped:  rep.Summary.Skipped,
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	for _, res := range rep.Failed() {
		if run.Failures == nil {
			run.Failures = make(map[string]string)
		}
		run.Failures[res.Name] = string(res.FailureKind)
	}
	return run
}

// Entry is one archived file. Redactions counts what was scrubbed from it
// by category; the secrets themselves are never recorded.
type Entry struct {
	Path       string                     `json:"path"`
	Type       ContentType                `json:"type"`
	Digest     string                     `json:"digest"`
	Size       int64                      `json:"size"`
	Redactions map[redaction.Category]int `json:"redactions,omitempty"`
}

func newEntry(f bundleFile) Entry {
	return Entry{
		Path:       f.path,
		Type:       f.contentType,
		Digest:     digest(f.data),
		Size:       int64(len(f.data)),
		Redactions: f.redactions,
	}
}

// Redacted totals the redactions across every entry.
func (m *Manifest) Redacted() int {
	n := 0
	for _, e := range m.Entries {
		for _, c := range e.Redactions {
			n += c
		}
	}
	return n
}

// Entry returns the entry archived under path.
func (m *Manifest) Entry(path string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

func validDigest(s string) bool {
	h, ok := strings.CutPrefix(s, digestPrefix)
	if !ok || len(h) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}
