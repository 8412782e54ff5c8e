package finding

import (
	"fmt"
	"time"
)

// Severity は検出結果の深刻度
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
)

// Rank は深刻度の比較用順位を返す（大きいほど深刻）
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Confidence は検出結果の確信度
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank は確信度の比較用順位を返す
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	default:
		return 1
	}
}

// Max は2つの確信度のうち高い方を返す
func (c Confidence) Max(other Confidence) Confidence {
	if other.Rank() > c.Rank() {
		return other
	}
	return c
}

// Location はアーティファクト内の位置参照（例: "Vault.sol:42"）
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// String は "file:line" 形式の表現を返す。行番号がない場合はファイル名のみ。
func (l Location) String() string {
	if l.Line <= 0 {
		return l.File
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Finding は1件の検出結果を表します
type Finding struct {
	// ID は安定識別子。重複排除キーとジョブ内連番から導出され、
	// 同一入力での再実行では常に同じ値になる。
	ID string `json:"id"`

	Severity    Severity   `json:"severity"`
	Confidence  Confidence `json:"confidence"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    Location   `json:"location"`

	// Classifier は脆弱性分類コード（例: "reentrancy"）。未分類の場合は空。
	Classifier string `json:"classifier,omitempty"`

	// SourcePhases は検出を報告したフェーズ名のリスト。
	// 重複排除でマージされた場合は寄与した全フェーズが入る。
	SourcePhases []string `json:"source_phases"`

	CodeSnippet string    `json:"code_snippet,omitempty"`
	Remediation string    `json:"remediation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DedupKey は重複排除キー（位置と分類コードの組）を返す
func (f *Finding) DedupKey() string {
	return f.Location.String() + "|" + f.Classifier
}

// SeverityConflict は同一キーの検出結果が互いに矛盾する深刻度を
// 持っていたことの記録。致命的エラーにはせず、高い方を採用した上で残す。
type SeverityConflict struct {
	FindingID string   `json:"finding_id"`
	Kept      Severity `json:"kept"`
	Discarded Severity `json:"discarded"`
	Phase     string   `json:"phase"`
}
