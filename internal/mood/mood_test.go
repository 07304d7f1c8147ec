package mood

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvanceRateMatchesProbability(t *testing.T) {
	e := NewEngine(0.2, 42)
	const trials = 10000
	var changed int
	for i := 0; i < trials; i++ {
		if e.Advance(Thoughtful) != Thoughtful {
			changed++
		}
	}
	rate := float64(changed) / trials
	require.InDelta(t, 0.2, rate, 0.02, "observed change rate %f", rate)
}

func TestAdvanceNeverReturnsSameMoodOnChange(t *testing.T) {
	e := NewEngine(1.0, 7)
	for _, current := range All() {
		for i := 0; i < 50; i++ {
			require.NotEqual(t, current, e.Advance(current),
				"a transition must pick a different mood")
		}
	}
}

func TestAdvanceCoversAllMoods(t *testing.T) {
	e := NewEngine(1.0, 99)
	seen := make(map[Mood]bool)
	for i := 0; i < 500; i++ {
		seen[e.Advance(Happy)] = true
	}
	require.Len(t, seen, len(All())-1, "every other mood should be reachable")
	require.False(t, seen[Happy])
}

func TestInvalidProbabilityFallsBack(t *testing.T) {
	e := NewEngine(0, 1)
	require.Equal(t, DefaultChangeProbability, e.p)
	e = NewEngine(1.5, 1)
	require.Equal(t, DefaultChangeProbability, e.p)
}

func TestValidAndEmoji(t *testing.T) {
	for _, m := range All() {
		require.True(t, Valid(string(m)))
		require.NotEmpty(t, Emoji(m))
		require.GreaterOrEqual(t, BaseEnergy(m), 0.0)
		require.LessOrEqual(t, BaseEnergy(m), 5.0)
	}
	require.False(t, Valid("grumpy"))
	require.Equal(t, Emoji(Default), Emoji(Mood("grumpy")), "unknown moods render as the default")
}

func TestDecorateWrapsText(t *testing.T) {
	e := NewEngine(0.2, 3)
	out := e.Decorate(Happy, "the answer is 42")
	require.Contains(t, out, "the answer is 42")
	require.Greater(t, len(out), len("the answer is 42"))
}

func TestPersonalityTables(t *testing.T) {
	for _, p := range Personalities() {
		require.True(t, ValidPersonality(string(p)))
		params := ParamsFor(p)
		require.Greater(t, params.Temperature, 0.0)
		require.Greater(t, params.TopK, 0)
		require.NotEmpty(t, StyleGuide(p))
		require.NotEmpty(t, PersonalityName(p))
	}
	require.False(t, ValidPersonality("sassy"))
	require.Equal(t, ParamsFor(DefaultPersonality), ParamsFor(Personality("sassy")))
}

func TestNudgeEnergyDriftsTowardMoodBase(t *testing.T) {
	// Calm has base energy 1; repeated quiet assistant turns converge there.
	energy := 5.0
	for i := 0; i < 30; i++ {
		energy = NudgeEnergy(energy, Calm, "assistant", "a quiet reply")
	}
	require.InDelta(t, BaseEnergy(Calm), energy, 0.05)
}

func TestNudgeEnergyUserExcitementRaisesTarget(t *testing.T) {
	calm := NudgeEnergy(3, Thoughtful, "user", "ok")
	excited := NudgeEnergy(3, Thoughtful, "user", strings.Repeat("WOW!!! ", 20))
	require.Greater(t, excited, calm)

	question := NudgeEnergy(3, Thoughtful, "user", "why?")
	require.Greater(t, question, calm)
}

func TestNudgeEnergyStaysInRange(t *testing.T) {
	high := 5.0
	for i := 0; i < 20; i++ {
		high = NudgeEnergy(high, Excited, "user", strings.Repeat("AMAZING!!! ", 30))
	}
	require.LessOrEqual(t, high, 5.0)

	low := 0.0
	for i := 0; i < 20; i++ {
		low = NudgeEnergy(low, Calm, "assistant", "mm")
	}
	require.GreaterOrEqual(t, low, 0.0)
}

func TestEnergyIndicator(t *testing.T) {
	require.Equal(t, "🔋", EnergyIndicator(0))
	require.Equal(t, "⚡⚡⚡⚡⚡", EnergyIndicator(5))
	require.Equal(t, "⚡⚡⚡", EnergyIndicator(2.8))
	require.Equal(t, "🔋", EnergyIndicator(-1))
	require.Equal(t, "⚡⚡⚡⚡⚡", EnergyIndicator(9))
}
