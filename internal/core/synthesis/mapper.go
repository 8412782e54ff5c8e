package synthesis

import (
	"fmt"
	"strings"

	"github.com/VolodymyrStetsenko/rukh/internal/core/finding"
)

// kindTable は分類コードからテンプレート種別への固定対応表。
// 未知または未分類の検出結果はgenericにフォールバックする。
var kindTable = map[string]ArtifactKind{
	"reentrancy":           KindReentrancy,
	"access-control":       KindAccessControl,
	"arithmetic":           KindArithmetic,
	"unchecked-call":       KindUncheckedCall,
	"delegatecall":         KindDelegatecall,
	"timestamp-dependence": KindTimestamp,
	"tx-origin":            KindTxOrigin,
}

// Mapper は確定済みの検出結果リストからテスト成果物の記述子を導出します。
// 導出は決定的で、同一入力からは常に同一のID列が得られる。
// テスト内容の生成・実行には関与しない。
type Mapper struct{}

// NewMapper は新しいMapperを作成します
func NewMapper() *Mapper {
	return &Mapper{}
}

// Map は検出結果1件につき1つのTestArtifactを到着順に生成します
func (m *Mapper) Map(findings []*finding.Finding) []*TestArtifact {
	seen := make(map[string]int, len(findings))
	artifacts := make([]*TestArtifact, 0, len(findings))

	for _, f := range findings {
		kind := KindGeneric
		if k, ok := kindTable[f.Classifier]; ok {
			kind = k
		}

		id := artifactID(f.Classifier, f.Title)
		seen[id]++
		if n := seen[id]; n > 1 {
			// 衝突時は到着順に数値サフィックスで区別する
			id = fmt.Sprintf("%s_%d", id, n)
		}

		artifacts = append(artifacts, &TestArtifact{
			ID:         id,
			FindingID:  f.ID,
			Kind:       kind,
			ContentRef: fmt.Sprintf("foundry://%s", id),
		})
	}

	return artifacts
}

// artifactID は分類コードと正規化済みタイトルから識別子を組み立てる
func artifactID(classifier, title string) string {
	if classifier == "" {
		classifier = string(KindGeneric)
	}
	return fmt.Sprintf("test_%s_%s", normalize(classifier), normalize(title))
}

// normalize は識別子に使える形へ正規化する。
// 小文字化し、英数字以外の並びをアンダースコア1つに潰す。
func normalize(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
