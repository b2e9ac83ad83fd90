// Package detectors — content.go
//
// Content detector (spec §4.5): finds risky payload contents in push,
// delete, and workflow events via a fixed table of regular-expression
// secret patterns plus structural rules (force-push, mass deletion,
// suspicious filenames, binary changes).
//
// No specialized secret-scanning library appears anywhere in the
// reference corpus, so this stays on the standard library's regexp
// package (see DESIGN.md for the standard-library justification).
package detectors

import (
	"regexp"
	"strings"

	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
)

// SecretPattern is one entry in the fixed secret-scan pattern table.
type SecretPattern struct {
	Name     string
	Re       *regexp.Regexp
	Severity float64
}

var secretPatterns = []SecretPattern{
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), 0.9},
	{"generic_api_key", regexp.MustCompile(`(?i)api[_-]?key["'=:\s]+[A-Za-z0-9_\-]{20,}`), 0.7},
	{"pem_private_key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), 0.95},
	{"signed_jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), 0.6},
	{"url_embedded_credential", regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s:@/]+:[^\s:@/]+@`), 0.7},
	{"connection_string", regexp.MustCompile(`(?i)(postgres|mysql|mongodb)(\+srv)?://[^\s]+`), 0.6},
	{"generic_secret_assignment", regexp.MustCompile(`(?i)(secret|token|password)["'=:\s]+[A-Za-z0-9_\-\/+=]{12,}`), 0.5},
}

var suspiciousFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)\.env($|\.)`),
	regexp.MustCompile(`(^|/)id_rsa$`),
	regexp.MustCompile(`\.pem$`),
	regexp.MustCompile(`(^|/)credentials`),
	regexp.MustCompile(`secret`),
}

// ContentDetection is one finding within the content detector's output.
type ContentDetection struct {
	Type     string  `json:"type"`
	Location string  `json:"location,omitempty"`
	Severity float64 `json:"severity"`
	Match    string  `json:"match,omitempty"`
}

// ContentExplanation is the per-event JSON blob persisted as
// AnomalyRecord.ContentAnalysis.
type ContentExplanation struct {
	Degraded   bool                `json:"degraded,omitempty"`
	Timeout    bool                `json:"timeout,omitempty"`
	Detections []ContentDetection  `json:"detections,omitempty"`
}

// Content implements the content detector.
type Content struct{}

// NewContent constructs a Content detector.
func NewContent() *Content { return &Content{} }

// Detect scores ev's payload. Never returns an error.
func (c *Content) Detect(ev eventmodel.Event) (Result, ContentExplanation) {
	var detections []ContentDetection

	switch p := ev.Payload.(type) {
	case eventmodel.PayloadPush:
		detections = append(detections, scanPushSecrets(p)...)
		detections = append(detections, forcePushDetections(p)...)
		detections = append(detections, massDeletionFromPush(p)...)
		detections = append(detections, suspiciousFileDetections(p)...)
		detections = append(detections, binaryChangeDetections(p)...)
	case eventmodel.PayloadDelete:
		detections = append(detections, massDeletionFromDelete(p)...)
	case eventmodel.PayloadWorkflowRun:
		// workflow payloads carry no commit/file content to scan today;
		// reserved for future workflow-definition diffing.
	}

	var severities []float64
	var anomalies []Anomaly
	for _, d := range detections {
		severities = append(severities, d.Severity)
		anomalies = append(anomalies, Anomaly{Type: d.Type, Severity: d.Severity, Location: d.Location})
	}

	score := clip(maxFloat(severities...), 0, 1)
	return Result{Score: score, Anomalies: anomalies}, ContentExplanation{Detections: detections}
}

func scanPushSecrets(p eventmodel.PayloadPush) []ContentDetection {
	var out []ContentDetection
	for _, c := range p.Commits {
		for _, pat := range secretPatterns {
			if loc := pat.Re.FindString(c.Message); loc != "" {
				out = append(out, ContentDetection{
					Type:     "secret_scan:" + pat.Name,
					Location: c.SHA,
					Severity: pat.Severity,
					Match:    redact(loc),
				})
			}
		}
	}
	return out
}

// redact returns the first 16 characters of match plus its length, never
// the full matched secret (spec §4.5).
func redact(match string) string {
	prefixLen := 16
	if len(match) < prefixLen {
		prefixLen = len(match)
	}
	return match[:prefixLen] + "..." + intToStr(len(match))
}

func intToStr(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func forcePushDetections(p eventmodel.PayloadPush) []ContentDetection {
	if !p.Forced {
		return nil
	}
	if p.DefaultBranch {
		return []ContentDetection{{Type: "force_push", Location: p.Ref, Severity: 0.8}}
	}
	return []ContentDetection{{Type: "force_push", Location: p.Ref, Severity: 0.5}}
}

func massDeletionFromPush(p eventmodel.PayloadPush) []ContentDetection {
	total := 0
	for _, c := range p.Commits {
		total += len(c.FilesRemoved)
	}
	return massDeletionSeverity(total, p.Ref)
}

func massDeletionFromDelete(p eventmodel.PayloadDelete) []ContentDetection {
	return massDeletionSeverity(p.FilesDeleted, p.Ref)
}

func massDeletionSeverity(count int, location string) []ContentDetection {
	switch {
	case count >= 50:
		return []ContentDetection{{Type: "mass_deletion", Location: location, Severity: 0.9}}
	case count >= 10:
		return []ContentDetection{{Type: "mass_deletion", Location: location, Severity: 0.7}}
	default:
		return nil
	}
}

func suspiciousFileDetections(p eventmodel.PayloadPush) []ContentDetection {
	const perHit = 0.6
	const cap_ = 0.9
	total := 0.0
	var out []ContentDetection
	for _, c := range p.Commits {
		for _, f := range append(append([]string{}, c.FilesAdded...), c.FilesModified...) {
			for _, pat := range suspiciousFilePatterns {
				if pat.MatchString(strings.ToLower(f)) {
					total += perHit
					out = append(out, ContentDetection{Type: "suspicious_file", Location: f, Severity: clip(total, 0, cap_)})
					break
				}
			}
		}
	}
	for i := range out {
		out[i].Severity = clip(out[i].Severity, 0, cap_)
	}
	return out
}

func binaryChangeDetections(p eventmodel.PayloadPush) []ContentDetection {
	const perHit = 0.3
	const cap_ = 0.5
	total := 0.0
	var out []ContentDetection
	for _, c := range p.Commits {
		if c.IsBinaryChange {
			total = clip(total+perHit, 0, cap_)
			out = append(out, ContentDetection{Type: "binary_change", Location: c.SHA, Severity: total})
		}
	}
	return out
}
