package finding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Aggregator は1ジョブ分の検出結果を到着順に蓄積し、重複排除と
// 安定識別子の割り当てを行います。ジョブが終端状態に達した時点で
// Freeze され、以降は追記できません。
//
// 書き込みは複数フェーズの完了パスから並行に呼ばれるため、
// ミューテックスで直列化する。別ジョブのAggregatorとは一切共有しない。
type Aggregator struct {
	mu        sync.Mutex
	byKey     map[string]*Finding
	order     []string // 初回到着順の重複排除キー
	conflicts []SeverityConflict
	frozen    bool
	seq       int
}

// NewAggregator は新しいAggregatorを作成します
func NewAggregator() *Aggregator {
	return &Aggregator{
		byKey: make(map[string]*Finding),
	}
}

// ErrFrozen は終端状態のジョブへ検出結果を追加しようとした場合のエラー
var ErrFrozen = fmt.Errorf("aggregator is frozen")

// RawFinding はフェーズ実行結果として収集エンジンから渡される未集約の検出結果
type RawFinding struct {
	Severity    Severity
	Confidence  Confidence
	Title       string
	Description string
	Location    Location
	Classifier  string
	Phase       string
	CodeSnippet string
	Remediation string
}

// Add は1フェーズ分の検出結果をマージします。
// (location, classifier) が一致する既存レコードがあれば統合し、
// 確信度は高い方へ昇格、タイトル・説明・深刻度は初回到着分を保持する。
// 深刻度が矛盾する場合のみ高い方を採用し、矛盾として記録する。
func (a *Aggregator) Add(raws []RawFinding) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frozen {
		return ErrFrozen
	}

	for _, raw := range raws {
		f := &Finding{
			Severity:     raw.Severity,
			Confidence:   raw.Confidence,
			Title:        raw.Title,
			Description:  raw.Description,
			Location:     raw.Location,
			Classifier:   raw.Classifier,
			SourcePhases: []string{raw.Phase},
			CodeSnippet:  raw.CodeSnippet,
			Remediation:  raw.Remediation,
			CreatedAt:    time.Now().UTC(),
		}

		key := f.DedupKey()
		existing, ok := a.byKey[key]
		if !ok {
			a.seq++
			f.ID = stableID(a.seq, key)
			a.byKey[key] = f
			a.order = append(a.order, key)
			continue
		}

		a.merge(existing, f)
	}

	return nil
}

// merge は同一キーの検出結果を既存レコードへ統合する
func (a *Aggregator) merge(dst, src *Finding) {
	dst.Confidence = dst.Confidence.Max(src.Confidence)

	if src.Severity.Rank() > dst.Severity.Rank() {
		a.conflicts = append(a.conflicts, SeverityConflict{
			FindingID: dst.ID,
			Kept:      src.Severity,
			Discarded: dst.Severity,
			Phase:     src.SourcePhases[0],
		})
		dst.Severity = src.Severity
	} else if src.Severity != dst.Severity {
		a.conflicts = append(a.conflicts, SeverityConflict{
			FindingID: dst.ID,
			Kept:      dst.Severity,
			Discarded: src.Severity,
			Phase:     src.SourcePhases[0],
		})
	}

	phase := src.SourcePhases[0]
	for _, p := range dst.SourcePhases {
		if p == phase {
			return
		}
	}
	dst.SourcePhases = append(dst.SourcePhases, phase)
}

// Freeze は集約リストを確定します。以降のAddはErrFrozenを返す。
func (a *Aggregator) Freeze() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frozen = true
}

// Frozen は集約リストが確定済みかどうかを返す
func (a *Aggregator) Frozen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frozen
}

// List は初回到着順の検出結果リストを返します。
// 返り値はコピーであり、呼び出し側が変更しても内部状態には影響しない。
func (a *Aggregator) List() []*Finding {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]*Finding, 0, len(a.order))
	for _, key := range a.order {
		f := *a.byKey[key]
		phases := make([]string, len(f.SourcePhases))
		copy(phases, f.SourcePhases)
		f.SourcePhases = phases
		result = append(result, &f)
	}
	return result
}

// Count は現在の検出結果件数を返す
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Conflicts は記録された深刻度の矛盾リストを返す
func (a *Aggregator) Conflicts() []SeverityConflict {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SeverityConflict, len(a.conflicts))
	copy(out, a.conflicts)
	return out
}

// stableID は重複排除キーとジョブ内連番から安定識別子を導出する。
// 例: RUKH-003-1a2b3c4d
func stableID(seq int, key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("RUKH-%03d-%s", seq, hex.EncodeToString(sum[:4]))
}
