package rewards

import (
	"math"
	"sort"

	"github.com/tensorliq/lpvalidator/internal/chains"
)

// widthExponent dampens wide ranges: widthPenalty = width^-1.2.
const widthExponent = 1.2

// positionScore computes the raw score of a single position against the
// pool's current tick. Out-of-range positions score zero; the in-range
// check is inclusive on both edges. A missing tick is scored as tick 0,
// which only lands in range when the position spans zero.
func positionScore(pos chains.Position, currentTick int32) float64 {
	if currentTick < pos.TickLower || currentTick > pos.TickUpper {
		return 0
	}
	width := float64(pos.TickUpper) - float64(pos.TickLower)
	if width == 0 {
		width = 1
	}
	center := (float64(pos.TickLower) + float64(pos.TickUpper)) / 2
	distance := math.Abs(center - float64(currentTick))
	widthPenalty := 1 / math.Pow(width, widthExponent)
	centerWeight := 1 / (1 + distance)
	return widthPenalty * centerWeight * pos.LiquidityFloat()
}

// ScorePositions scores every position and distributes each pool's reward
// (poolWeight × totalReward) across its positions in proportion to score.
// Iteration is fixed (pools by key, positions by token id) so outputs are
// reproducible.
func ScorePositions(
	positions []chains.Position,
	ticks map[chains.PoolKey]chains.PoolTick,
	poolWeights map[chains.PoolKey]float64,
	totalReward float64,
) []chains.PositionEmission {
	byPool := make(map[chains.PoolKey][]int)
	for i, pos := range positions {
		byPool[pos.Pool] = append(byPool[pos.Pool], i)
	}
	poolKeys := make([]chains.PoolKey, 0, len(byPool))
	for k := range byPool {
		poolKeys = append(poolKeys, k)
	}
	sort.Slice(poolKeys, func(i, j int) bool { return poolKeys[i] < poolKeys[j] })

	out := make([]chains.PositionEmission, len(positions))
	for _, pool := range poolKeys {
		idxs := byPool[pool]
		sort.Slice(idxs, func(i, j int) bool {
			a, b := positions[idxs[i]], positions[idxs[j]]
			if a.TokenID != b.TokenID {
				return a.TokenID < b.TokenID
			}
			return a.Miner < b.Miner
		})

		var currentTick int32
		if tick, ok := ticks[pool]; ok {
			currentTick = tick.Tick
		}

		scoreSum := 0.0
		for _, i := range idxs {
			score := positionScore(positions[i], currentTick)
			out[i] = chains.PositionEmission{
				Position:    positions[i],
				CurrentTick: currentTick,
				Score:       score,
			}
			scoreSum += score
		}

		poolReward := poolWeights[pool] * totalReward
		if poolReward <= 0 || scoreSum <= 0 {
			continue
		}
		for _, i := range idxs {
			out[i].Emission = out[i].Score * poolReward / scoreSum
		}
	}
	return out
}
