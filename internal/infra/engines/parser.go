package engines

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/VolodymyrStetsenko/rukh/internal/core/finding"
)

// 出力形式の識別子
const (
	FormatGeneric = "generic"
	FormatSlither = "slither"
)

// ParseOutput はエンジンの標準出力を検出結果のリストに変換します。
// 出力が空の場合は検出ゼロとして扱う。
func ParseOutput(format, phase string, data []byte) ([]finding.RawFinding, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	switch format {
	case FormatSlither:
		return parseSlither(phase, data)
	case FormatGeneric:
		return parseGeneric(phase, data)
	default:
		return nil, fmt.Errorf("unknown engine output format: %s", format)
	}
}

// genericOutput は汎用エンジンのJSON出力
type genericOutput struct {
	Findings []struct {
		Severity    string `json:"severity"`
		Confidence  string `json:"confidence"`
		Title       string `json:"title"`
		Description string `json:"description"`
		File        string `json:"file"`
		Line        int    `json:"line"`
		Column      int    `json:"column"`
		Classifier  string `json:"classifier"`
		CodeSnippet string `json:"code_snippet"`
		Remediation string `json:"remediation"`
	} `json:"findings"`
}

func parseGeneric(phase string, data []byte) ([]finding.RawFinding, error) {
	var out genericOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid generic engine output: %w", err)
	}

	raws := make([]finding.RawFinding, 0, len(out.Findings))
	for _, f := range out.Findings {
		raws = append(raws, finding.RawFinding{
			Severity:    normalizeSeverity(f.Severity),
			Confidence:  normalizeConfidence(f.Confidence),
			Title:       f.Title,
			Description: f.Description,
			Location: finding.Location{
				File:   f.File,
				Line:   f.Line,
				Column: f.Column,
			},
			Classifier:  f.Classifier,
			Phase:       phase,
			CodeSnippet: f.CodeSnippet,
			Remediation: f.Remediation,
		})
	}
	return raws, nil
}

// slitherOutput はslitherの --json 出力のうち必要な部分
type slitherOutput struct {
	Success bool `json:"success"`
	Results struct {
		Detectors []struct {
			Check       string `json:"check"`
			Impact      string `json:"impact"`
			Confidence  string `json:"confidence"`
			Description string `json:"description"`
			Elements    []struct {
				SourceMapping struct {
					FilenameRelative string `json:"filename_relative"`
					Lines            []int  `json:"lines"`
				} `json:"source_mapping"`
			} `json:"elements"`
		} `json:"detectors"`
	} `json:"results"`
}

func parseSlither(phase string, data []byte) ([]finding.RawFinding, error) {
	var out slitherOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid slither output: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("slither reported failure")
	}

	raws := make([]finding.RawFinding, 0, len(out.Results.Detectors))
	for _, det := range out.Results.Detectors {
		loc := finding.Location{}
		if len(det.Elements) > 0 {
			sm := det.Elements[0].SourceMapping
			loc.File = sm.FilenameRelative
			if len(sm.Lines) > 0 {
				loc.Line = sm.Lines[0]
			}
		}

		title := det.Check
		if i := strings.IndexByte(det.Description, '\n'); i > 0 {
			title = strings.TrimSpace(det.Description[:i])
		}

		raws = append(raws, finding.RawFinding{
			Severity:    normalizeSeverity(det.Impact),
			Confidence:  normalizeConfidence(det.Confidence),
			Title:       title,
			Description: det.Description,
			Location:    loc,
			Classifier:  det.Check,
			Phase:       phase,
		})
	}
	return raws, nil
}

// normalizeSeverity は表記ゆれ（slitherのImpact等）を正規化する
func normalizeSeverity(s string) finding.Severity {
	switch strings.ToLower(s) {
	case "critical":
		return finding.SeverityCritical
	case "high":
		return finding.SeverityHigh
	case "medium":
		return finding.SeverityMedium
	case "low":
		return finding.SeverityLow
	default:
		return finding.SeverityInformational
	}
}

// normalizeConfidence は確信度の表記ゆれを正規化する
func normalizeConfidence(s string) finding.Confidence {
	switch strings.ToLower(s) {
	case "high":
		return finding.ConfidenceHigh
	case "medium":
		return finding.ConfidenceMedium
	default:
		return finding.ConfidenceLow
	}
}
