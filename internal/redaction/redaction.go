package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type pattern struct {
	category Category
	regex    *regexp.Regexp
	priority int
}

var patterns = []pattern{
	{CategoryPrivateKey, regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), 90},
	{CategoryJWT, regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`), 80},
	{CategoryBearerToken, regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`), 70},
}

// Literal secrets outrank every pattern.
const literalPriority = 100

// ScanAndRedact scans input for sensitive content. In ModeWarn the input is
// returned unchanged with the findings; in ModeRedact each finding is
// replaced by a placeholder.
func ScanAndRedact(input string, cfg Config) Result {
	result := Result{Mode: cfg.Mode, Output: input}
	if cfg.Mode == ModeOff || input == "" {
		return result
	}

	matches := scan(input, cfg)
	if len(matches) == 0 {
		return result
	}

	result.Findings = make([]Finding, len(matches))
	for i, m := range matches {
		result.Findings[i] = Finding{
			Category: m.category,
			Match:    m.match,
			Redacted: placeholder(m.category, m.match),
			Start:    m.start,
			End:      m.end,
		}
	}
	if cfg.Mode == ModeRedact {
		result.Output = applyRedactions(input, result.Findings)
	}
	return result
}

type match struct {
	category Category
	match    string
	start    int
	end      int
	priority int
}

func scan(input string, cfg Config) []match {
	var all []match
	for cat, values := range cfg.Secrets {
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				continue
			}
			for off := 0; ; {
				i := strings.Index(input[off:], v)
				if i < 0 {
					break
				}
				start := off + i
				all = append(all, match{category: cat, match: v, start: start, end: start + len(v), priority: literalPriority})
				off = start + len(v)
			}
		}
	}
	for _, p := range patterns {
		for _, loc := range p.regex.FindAllStringIndex(input, -1) {
			all = append(all, match{
				category: p.category,
				match:    input[loc[0]:loc[1]],
				start:    loc[0],
				end:      loc[1],
				priority: p.priority,
			})
		}
	}

	// Overlaps are resolved before the allowlist so an allowlisted
	// high-priority match still shadows lower-priority ones.
	kept := deduplicate(all)
	allow := compileAllowlist(cfg.Allowlist)
	if len(allow) == 0 {
		return kept
	}
	filtered := kept[:0]
	for _, m := range kept {
		if !isAllowlisted(m.match, allow) {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

// deduplicate removes overlapping matches, preferring higher priority.
func deduplicate(matches []match) []match {
	if len(matches) == 0 {
		return matches
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].priority != matches[j].priority {
			return matches[i].priority > matches[j].priority
		}
		return matches[i].start < matches[j].start
	})

	maxEnd := 0
	for _, m := range matches {
		if m.end > maxEnd {
			maxEnd = m.end
		}
	}
	covered := make([]bool, maxEnd+1)
	var result []match
	for _, m := range matches {
		overlaps := false
		for i := m.start; i < m.end; i++ {
			if covered[i] {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		result = append(result, m)
		for i := m.start; i < m.end; i++ {
			covered[i] = true
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].start < result[j].start })
	return result
}

func compileAllowlist(exprs []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, e := range exprs {
		if re, err := regexp.Compile(e); err == nil {
			out = append(out, re)
		}
	}
	return out
}

func isAllowlisted(s string, allow []*regexp.Regexp) bool {
	for _, re := range allow {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// placeholder has the form [REDACTED:CATEGORY:hash8]. The hash lets two
// artifacts be compared without revealing the value.
func placeholder(cat Category, content string) string {
	sum := sha256.Sum256([]byte(string(cat) + ":" + content))
	return fmt.Sprintf("[REDACTED:%s:%s]", cat, hex.EncodeToString(sum[:4]))
}

// applyRedactions replaces findings from the end so earlier offsets stay valid.
func applyRedactions(input string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	out := input
	for _, f := range sorted {
		if f.Start >= 0 && f.End <= len(out) && f.Start < f.End {
			out = out[:f.Start] + f.Redacted + out[f.End:]
		}
	}
	return out
}

// Redactor applies one Config repeatedly.
type Redactor struct {
	cfg Config
}

// New returns a Redactor. A nil *Redactor is valid and leaves text as is.
func New(cfg Config) (*Redactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Redactor{cfg: cfg}, nil
}

// Mode reports the configured mode.
func (r *Redactor) Mode() Mode {
	if r == nil {
		return ModeOff
	}
	return r.cfg.Mode
}

// Apply returns input with secrets replaced (ModeRedact) or unchanged, plus
// whatever was found.
func (r *Redactor) Apply(input string) (string, []Finding) {
	if r == nil {
		return input, nil
	}
	res := ScanAndRedact(input, r.cfg)
	return res.Output, res.Findings
}

// String is Apply without the findings.
func (r *Redactor) String(input string) string {
	out, _ := r.Apply(input)
	return out
}

// Categories summarizes findings as category counts.
func Categories(findings []Finding) map[Category]int {
	if len(findings) == 0 {
		return nil
	}
	out := make(map[Category]int)
	for _, f := range findings {
		out[f.Category]++
	}
	return out
}
