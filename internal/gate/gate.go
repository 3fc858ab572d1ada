// Package gate decides, per proposed action, whether to auto-execute, hold
// for human approval, or refuse.
package gate

import (
	"fmt"

	"github.com/stewardhq/steward/internal/catalog"
	"github.com/stewardhq/steward/internal/store"
)

// Status is the gate's verdict on a proposal.
type Status string

const (
	StatusAutoExecute Status = "auto_execute"
	StatusGate        Status = "gate"
	StatusRefuse      Status = "refuse"
)

// presetTiers maps autonomy presets to the effective tier granted.
var presetTiers = map[string]int{
	store.PresetCautious: 2,
	store.PresetBalanced: 3,
	store.PresetHandsOff: 5,
}

// confidenceFloor is the minimum composite confidence required to
// auto-execute, per category. Query actions are read-only and never gated.
var confidenceFloor = map[catalog.Category]float64{
	catalog.CategoryQuery:       0.0,
	catalog.CategoryMemory:      0.60,
	catalog.CategoryGenerate:    0.60,
	catalog.CategoryPlanning:    0.65,
	catalog.CategoryAction:      0.70,
	catalog.CategoryWorkflow:    0.70,
	catalog.CategoryIntegration: 0.75,
}

// Verdict is the gate's decision plus the explanation shown to the user when
// approval is required.
type Verdict struct {
	Status Status
	Reason string
}

// EffectiveTier resolves the tier a user's settings grant for a category,
// applying per-category overrides on top of the preset.
func EffectiveTier(s *store.AutonomySettings, category catalog.Category) int {
	if s == nil {
		return presetTiers[store.PresetBalanced]
	}
	if tier, ok := s.Overrides[string(category)]; ok {
		if tier < 1 {
			tier = 1
		}
		if tier > 5 {
			tier = 5
		}
		return tier
	}
	if tier, ok := presetTiers[s.Preset]; ok {
		return tier
	}
	return presetTiers[store.PresetBalanced]
}

// Decide applies the gating rules to one proposal. The critical-risk floor is
// non-negotiable: critical actions are gated for every preset, including
// hands_off, at any confidence.
func Decide(def catalog.Definition, settings *store.AutonomySettings, composite float64) Verdict {
	if def.Risk == catalog.RiskCritical {
		return Verdict{
			Status: StatusGate,
			Reason: fmt.Sprintf("%s is a critical-risk action and always requires your approval", def.Name),
		}
	}

	if def.Category == catalog.CategoryQuery {
		return Verdict{Status: StatusAutoExecute}
	}

	tier := EffectiveTier(settings, def.Category)
	if tier < def.MinTier {
		return Verdict{
			Status: StatusGate,
			Reason: fmt.Sprintf("%s requires autonomy tier %d but your %s settings grant tier %d; approval requested",
				def.Name, def.MinTier, presetName(settings), tier),
		}
	}

	floor := confidenceFloor[def.Category]
	if composite < floor {
		return Verdict{
			Status: StatusGate,
			Reason: fmt.Sprintf("confidence %.2f is below the %.2f required for %s actions; approval requested",
				composite, floor, def.Category),
		}
	}

	return Verdict{Status: StatusAutoExecute}
}

func presetName(s *store.AutonomySettings) string {
	if s == nil {
		return store.PresetBalanced
	}
	return s.Preset
}
