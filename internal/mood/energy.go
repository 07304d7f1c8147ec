package mood

import "strings"

// Energy meter: each conversation carries a 0..5 energy level that drifts
// toward the mood's natural energy and gets nudged by how the user writes.

var energyIndicators = map[int]string{
	0: "🔋",
	1: "⚡",
	2: "⚡⚡",
	3: "⚡⚡⚡",
	4: "⚡⚡⚡⚡",
	5: "⚡⚡⚡⚡⚡",
}

// NudgeEnergy moves current 30% toward a target derived from the mood's base
// energy plus excitement signals in a user message. Assistant messages pull
// toward the mood's base energy only.
func NudgeEnergy(current float64, m Mood, role, content string) float64 {
	target := BaseEnergy(m)
	if role == "user" {
		if len(content) > 100 {
			target++
		}
		if strings.Count(content, "!") > 2 {
			target++
		}
		if capsRatio(content) > 0.3 {
			target++
		}
		if strings.Contains(content, "?") {
			target += 0.5
		}
	}
	current += (target - current) * 0.3
	if current < 0 {
		return 0
	}
	if current > 5 {
		return 5
	}
	return current
}

// EnergyIndicator renders level as a battery/bolt string.
func EnergyIndicator(level float64) string {
	n := int(level + 0.5)
	if n < 0 {
		n = 0
	}
	if n > 5 {
		n = 5
	}
	return energyIndicators[n]
}

func capsRatio(s string) float64 {
	if s == "" {
		return 0
	}
	var upper, total int
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			total++
		} else if r >= 'A' && r <= 'Z' {
			upper++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(upper) / float64(total)
}
