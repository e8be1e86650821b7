package rewards

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// normalizeUnits is the quantization grid of NormalizeWeights: every output
// is a multiple of 1/normalizeUnits.
const normalizeUnits = 10000

// L1Normalize scales the vector so it sums to 1. A zero vector is returned
// unchanged.
func L1Normalize(arr []float64) []float64 {
	result := make([]float64, len(arr))
	copy(result, arr)

	sum := floats.Sum(result)
	if sum > 0 {
		floats.Scale(1.0/sum, result)
	}
	return result
}

// NormalizeWeights quantizes the vector onto a 1e-4 grid whose values sum
// to exactly 1.0, distributing the rounding residual by largest remainder
// (ties broken by index ascending). A zero vector is returned unchanged.
func NormalizeWeights(arr []float64) []float64 {
	sum := floats.Sum(arr)
	if sum <= 0 {
		result := make([]float64, len(arr))
		copy(result, arr)
		return result
	}

	units := make([]int, len(arr))
	fracs := make([]float64, len(arr))
	assigned := 0
	for i, v := range arr {
		target := v / sum * normalizeUnits
		units[i] = int(target)
		fracs[i] = target - float64(units[i])
		assigned += units[i]
	}

	order := make([]int, len(arr))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if fracs[order[a]] != fracs[order[b]] {
			return fracs[order[a]] > fracs[order[b]]
		}
		return order[a] < order[b]
	})

	for i := 0; i < normalizeUnits-assigned; i++ {
		units[order[i%len(order)]]++
	}

	result := make([]float64, len(arr))
	for i, u := range units {
		result[i] = float64(u) / normalizeUnits
	}
	return result
}
