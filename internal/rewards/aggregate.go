package rewards

import (
	"github.com/tensorliq/lpvalidator/internal/chains"
)

// AggregateMinerWeights sums per-position emissions into per-hotkey raw
// weights. Positions with zero emission contribute nothing but still create
// the hotkey entry, keeping the domain stable for downstream policy.
func AggregateMinerWeights(emissions []chains.PositionEmission) map[string]float64 {
	raw := make(map[string]float64)
	for _, e := range emissions {
		raw[e.Miner] += e.Emission
	}
	return raw
}
