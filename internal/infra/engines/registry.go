// Package engines は外部解析エンジンへのアダプタ群を提供します。
// 各エンジンはローカルプロセスとして起動され、標準出力のJSONを
// 検出結果に変換する。エンジン自体の解析手法には関与しない。
package engines

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/VolodymyrStetsenko/rukh/internal/core/engine"
)

// EngineConfig はエンジン1つ分の起動設定
type EngineConfig struct {
	// Command は起動するコマンド。sh -c で実行される。
	// アーティファクト参照は {artifact} プレースホルダで渡す。
	Command string `yaml:"command"`

	// Format は出力形式。"slither" または "generic"（省略時 generic）。
	Format string `yaml:"format,omitempty"`

	// TimeoutSeconds はフェーズ単位の既定期限。
	// ジョブ期限の方が早ければそちらが優先される。
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// RegistryConfig はフェーズ名からエンジン設定への対応表
type RegistryConfig struct {
	Engines map[string]EngineConfig `yaml:"engines"`
}

// LoadRegistryConfig はYAMLファイルからエンジン対応表を読み込みます
func LoadRegistryConfig(path string) (*RegistryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine registry: %w", err)
	}

	var cfg RegistryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine registry: %w", err)
	}
	if len(cfg.Engines) == 0 {
		return nil, fmt.Errorf("engine registry is empty: %s", path)
	}
	return &cfg, nil
}

// Registry はフェーズ名から担当ゲートウェイを引くengine.Resolverの実装です
type Registry struct {
	gateways map[string]engine.Gateway
}

// NewRegistry は設定からレジストリを構築します
func NewRegistry(cfg *RegistryConfig) *Registry {
	gateways := make(map[string]engine.Gateway, len(cfg.Engines))
	for phase, ec := range cfg.Engines {
		timeout := time.Duration(ec.TimeoutSeconds) * time.Second
		gateways[phase] = NewExecGateway(ec.Command, ec.Format, timeout)
	}
	return &Registry{gateways: gateways}
}

// コンパイル時の型チェック
var _ engine.Resolver = (*Registry)(nil)

// Resolve はフェーズ名から担当ゲートウェイを返す
func (r *Registry) Resolve(phase string) (engine.Gateway, error) {
	gw, ok := r.gateways[phase]
	if !ok {
		return nil, fmt.Errorf("no engine configured for phase %s", phase)
	}
	return gw, nil
}

// Register はゲートウェイを直接登録する
func (r *Registry) Register(phase string, gw engine.Gateway) {
	if r.gateways == nil {
		r.gateways = make(map[string]engine.Gateway)
	}
	r.gateways[phase] = gw
}

// NewEmptyRegistry は空のレジストリを作成します
func NewEmptyRegistry() *Registry {
	return &Registry{gateways: make(map[string]engine.Gateway)}
}
