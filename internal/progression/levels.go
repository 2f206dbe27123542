package progression

import "fmt"

const (
	DefaultLevelCap = 999

	// speaking time thresholds for evolution stages, in seconds
	StageTwoSeconds   = 900
	StageThreeSeconds = 3600
)

// RankTitle is total over positive levels.
func RankTitle(level int) string {
	switch {
	case level <= 30:
		return "Tier 1"
	case level <= 60:
		return "Tier 2"
	case level <= 100:
		return "Tier 3"
	}
	return fmt.Sprintf("Legendary ★%d", level-100)
}

func DisplayLevel(level int) string {
	if level <= 100 {
		return fmt.Sprintf("Lv. %d", level)
	}
	return fmt.Sprintf("★ %d", level-100)
}

// SpriteTiers is how many sprite tiers EvolutionIndex ranges over.
const SpriteTiers = 3

// EvolutionIndex picks one of three sprite tiers.
func EvolutionIndex(level int) int {
	if level <= 30 {
		return 0
	}
	if level <= 60 {
		return 1
	}
	return 2
}

// SpriteTier is EvolutionIndex clamped to the tiers a character actually has.
// It returns -1 when there are none.
func SpriteTier(level, available int) int {
	if available <= 0 {
		return -1
	}
	idx := EvolutionIndex(level)
	if idx >= available {
		return available - 1
	}
	return idx
}

// MaxXP is linear in level.
func MaxXP(level int) int {
	return level * 100
}

type Stage struct {
	Stage    int    `json:"stage"`
	Name     string `json:"name"`
	MaxLevel int    `json:"max_level"`
}

func StageInfo(level, levelCap int) Stage {
	if levelCap <= 0 {
		levelCap = DefaultLevelCap
	}
	switch {
	case level <= 30:
		return Stage{Stage: 1, Name: "Mortal", MaxLevel: 30}
	case level <= 60:
		return Stage{Stage: 2, Name: "Cultivator", MaxLevel: 60}
	case level <= 100:
		return Stage{Stage: 3, Name: "Transcendent", MaxLevel: 100}
	}
	return Stage{Stage: 4, Name: "Ascended", MaxLevel: levelCap}
}

// EvolutionStageFor maps cumulative speaking seconds to stage 1, 2 or 3.
func EvolutionStageFor(totalSeconds int64) int {
	switch {
	case totalSeconds >= StageThreeSeconds:
		return 3
	case totalSeconds >= StageTwoSeconds:
		return 2
	}
	return 1
}
