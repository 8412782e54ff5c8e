package analysis

import (
	"sort"
)

// phaseSpec はカタログ上の1フェーズの定義
type phaseSpec struct {
	name PhaseName

	// deps は固定依存。condDeps はオプションで有効になる依存。
	deps     []PhaseName
	condDeps func(opts JobOptions) []PhaseName

	// enabled はオプションからこのフェーズを有効にするか判定する
	enabled func(opts JobOptions) bool
}

// catalogue は固定のフェーズカタログです。
// static と bytecode は常に有効、fuzz と symbolic はオプションで制御、
// attack_graph は static と bytecode の両方の成果を合成する。
var catalogue = []phaseSpec{
	{
		name:    PhaseStatic,
		enabled: func(JobOptions) bool { return true },
	},
	{
		name:    PhaseBytecode,
		enabled: func(JobOptions) bool { return true },
	},
	{
		name:    PhaseFuzz,
		enabled: func(o JobOptions) bool { return o.EnableFuzzing },
		condDeps: func(o JobOptions) []PhaseName {
			// ロール/権限注釈を再利用する場合のみstaticの成果に依存する
			if o.ReuseStaticRoles {
				return []PhaseName{PhaseStatic}
			}
			return nil
		},
	},
	{
		name:    PhaseSymbolic,
		enabled: func(o JobOptions) bool { return o.EnableSymbolic },
	},
	{
		name:    PhaseAttackGraph,
		deps:    []PhaseName{PhaseStatic, PhaseBytecode},
		enabled: func(JobOptions) bool { return true },
	},
}

// Plan はジョブ設定から検証済みのフェーズグラフを構築します。
// 同一のオプションは常に同一のグラフを生成する（Phasesは名前順で安定）。
// グラフが空・循環・未解決依存を含む場合はConfigErrorを返す。
func Plan(opts JobOptions) ([]*Phase, error) {
	opts = opts.normalized()

	// 明示的なフェーズ列挙があれば既定の有効化規則より優先する
	enabled := make(map[PhaseName]bool, len(catalogue))
	if len(opts.Phases) > 0 {
		for _, name := range opts.Phases {
			if !inCatalogue(name) {
				return nil, NewConfigError("unknown phase %s requested", name)
			}
			enabled[name] = true
		}
	} else {
		for _, spec := range catalogue {
			if spec.enabled(opts) {
				enabled[spec.name] = true
			}
		}
	}

	if len(enabled) == 0 {
		return nil, NewConfigError("no phases enabled")
	}

	critical := make(map[PhaseName]bool, len(opts.CriticalPhases))
	for _, name := range opts.CriticalPhases {
		critical[name] = true
	}

	phases := make(map[PhaseName]*Phase, len(enabled))
	for _, spec := range catalogue {
		if !enabled[spec.name] {
			continue
		}

		deps := append([]PhaseName(nil), spec.deps...)
		if spec.condDeps != nil {
			deps = append(deps, spec.condDeps(opts)...)
		}

		// 無効化されたフェーズへの依存を解決する。
		// SubstituteDisabledDeps が立っていればno-op代替を挿入し、
		// そうでなければ設定エラーとして拒否する。
		for _, dep := range deps {
			if enabled[dep] {
				continue
			}
			if !inCatalogue(dep) {
				return nil, NewConfigError("phase %s depends on unknown phase %s", spec.name, dep)
			}
			if !opts.SubstituteDisabledDeps {
				return nil, NewConfigError("phase %s depends on disabled phase %s", spec.name, dep)
			}
			if _, ok := phases[dep]; !ok {
				phases[dep] = &Phase{
					Name:       dep,
					State:      PhasePending,
					Substitute: true,
				}
			}
		}

		phases[spec.name] = &Phase{
			Name:      spec.name,
			DependsOn: deps,
			State:     PhasePending,
			Critical:  critical[spec.name],
		}
	}

	result := make([]*Phase, 0, len(phases))
	for _, p := range phases {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	if err := checkAcyclic(result); err != nil {
		return nil, err
	}

	return result, nil
}

// inCatalogue は名前がカタログに存在するかを返す
func inCatalogue(name PhaseName) bool {
	for _, spec := range catalogue {
		if spec.name == name {
			return true
		}
	}
	return false
}

// checkAcyclic はグラフに循環がないことを検証する。
// カタログは固定だが、カタログ編集時の退行をここで検出する。
func checkAcyclic(phases []*Phase) error {
	byName := make(map[PhaseName]*Phase, len(phases))
	for _, p := range phases {
		byName[p.Name] = p
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[PhaseName]int, len(phases))

	var visit func(name PhaseName) error
	visit = func(name PhaseName) error {
		switch state[name] {
		case visiting:
			return NewConfigError("phase dependency cycle involving %s", name)
		case done:
			return nil
		}
		state[name] = visiting
		if p, ok := byName[name]; ok {
			for _, dep := range p.DependsOn {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[name] = done
		return nil
	}

	for _, p := range phases {
		if err := visit(p.Name); err != nil {
			return err
		}
	}
	return nil
}
