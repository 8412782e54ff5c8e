package synthesis

import (
	"context"

	"github.com/VolodymyrStetsenko/rukh/internal/core/finding"
)

// ArtifactKind は生成する検証テストのテンプレート種別
type ArtifactKind string

const (
	KindReentrancy    ArtifactKind = "reentrancy"
	KindAccessControl ArtifactKind = "access-control"
	KindArithmetic    ArtifactKind = "arithmetic"
	KindUncheckedCall ArtifactKind = "unchecked-call"
	KindDelegatecall  ArtifactKind = "delegatecall"
	KindTimestamp     ArtifactKind = "timestamp-dependence"
	KindTxOrigin      ArtifactKind = "tx-origin"
	KindGeneric       ArtifactKind = "generic"
)

// TestArtifact は1件の検出結果から導出される検証テストの記述子です。
// テスト内容そのものは外部のコンテンツ生成コラボレータが実体化する。
type TestArtifact struct {
	// ID は分類コードと正規化済みタイトルから決定的に導出される識別子。
	// 衝突時は検出結果の到着順に数値サフィックスが付く。
	ID string `json:"id"`

	// FindingID は由来する検出結果の識別子。1成果物は常に1検出結果に対応する。
	FindingID string `json:"finding_id"`

	Kind ArtifactKind `json:"kind"`

	// ContentRef は生成内容への参照。実体化は外部コラボレータが担う。
	ContentRef string `json:"content_ref"`
}

// ContentGenerator はテスト内容を実体化する外部コラボレータの契約
type ContentGenerator interface {
	Generate(ctx context.Context, artifact *TestArtifact, f *finding.Finding) (string, error)
}
