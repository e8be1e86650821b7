// Package rewards holds the pure scoring core: pool-weight allocation,
// position scoring, miner aggregation, and EMA smoothing.
package rewards

import (
	"sort"

	"github.com/tensorliq/lpvalidator/internal/chains"
)

// SubnetNoAlpha is the split-equally reserve subnet.
const SubnetNoAlpha = 0

// SubnetSelf is this system's own subnet, carrying the second reserve.
const SubnetSelf = 106

// AllocatorInput is everything the allocation policy sees for one run.
type AllocatorInput struct {
	Positions              []chains.Position
	Ticks                  map[chains.PoolKey]chains.PoolTick
	AlphaPrices            map[int]float64
	ReservedShareSubnet0   float64
	ReservedShareSubnet106 float64
}

// AllocatorResult is the pool weight distribution plus the raw per-subnet
// alpha prices used, kept for run logging.
type AllocatorResult struct {
	Weights       map[chains.PoolKey]float64
	AlphaBySubnet map[int]float64
}

// PoolAllocator turns the run's positions and market state into a pool
// weight distribution summing to at most 1.
type PoolAllocator interface {
	Allocate(in AllocatorInput) AllocatorResult
}

// poolsBySubnet groups the pools that both hold positions and have tick
// data, keyed by subnet, each group sorted for deterministic iteration.
func poolsBySubnet(in AllocatorInput) map[int][]chains.PoolKey {
	seen := make(map[chains.PoolKey]struct{})
	groups := make(map[int][]chains.PoolKey)
	for _, pos := range in.Positions {
		if _, dup := seen[pos.Pool]; dup {
			continue
		}
		tick, ok := in.Ticks[pos.Pool]
		if !ok {
			continue
		}
		seen[pos.Pool] = struct{}{}
		groups[tick.SubnetID] = append(groups[tick.SubnetID], pos.Pool)
	}
	for subnet := range groups {
		sort.Slice(groups[subnet], func(i, j int) bool { return groups[subnet][i] < groups[subnet][j] })
	}
	return groups
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sortedSubnets returns the group keys ascending.
func sortedSubnets(groups map[int][]chains.PoolKey) []int {
	subnets := make([]int, 0, len(groups))
	for s := range groups {
		subnets = append(subnets, s)
	}
	sort.Ints(subnets)
	return subnets
}

// ReservedShareAllocator grants fixed shares to subnet 0 and subnet 106
// pools, then distributes the remainder across the other subnets in
// proportion to their alpha prices, equally within each subnet.
type ReservedShareAllocator struct{}

func (ReservedShareAllocator) Allocate(in AllocatorInput) AllocatorResult {
	groups := poolsBySubnet(in)
	weights := make(map[chains.PoolKey]float64)
	alphaBySubnet := make(map[int]float64)

	r0 := 0.0
	if len(groups[SubnetNoAlpha]) > 0 {
		r0 = clamp01(in.ReservedShareSubnet0)
	}
	r106 := 0.0
	if len(groups[SubnetSelf]) > 0 {
		r106 = clamp01(in.ReservedShareSubnet106)
		if r106 > 1-r0 {
			r106 = 1 - r0
		}
	}
	remaining := 1 - r0 - r106
	if remaining < 0 {
		remaining = 0
	}

	for _, pool := range groups[SubnetNoAlpha] {
		weights[pool] += r0 / float64(len(groups[SubnetNoAlpha]))
	}
	for _, pool := range groups[SubnetSelf] {
		weights[pool] += r106 / float64(len(groups[SubnetSelf]))
	}

	// alpha-weighted distribution over the market-priced subnets; the
	// remaining share stays unallocated when no such pools exist
	var otherSubnets []int
	alphaSum := 0.0
	for _, subnet := range sortedSubnets(groups) {
		if subnet == SubnetNoAlpha || subnet == SubnetSelf {
			continue
		}
		otherSubnets = append(otherSubnets, subnet)
		alpha := in.AlphaPrices[subnet]
		if alpha < 0 {
			alpha = 0
		}
		alphaBySubnet[subnet] = alpha
		alphaSum += alpha
	}

	if len(otherSubnets) == 0 {
		return AllocatorResult{Weights: weights, AlphaBySubnet: alphaBySubnet}
	}

	if alphaSum > 0 {
		for _, subnet := range otherSubnets {
			share := remaining * alphaBySubnet[subnet] / alphaSum
			for _, pool := range groups[subnet] {
				weights[pool] += share / float64(len(groups[subnet]))
			}
		}
	} else {
		totalPools := 0
		for _, subnet := range otherSubnets {
			totalPools += len(groups[subnet])
		}
		for _, subnet := range otherSubnets {
			for _, pool := range groups[subnet] {
				weights[pool] += remaining / float64(totalPools)
			}
		}
	}

	return AllocatorResult{Weights: weights, AlphaBySubnet: alphaBySubnet}
}

// ChainSplitAllocator is the policy variant that halves the subnet-0 share
// between Solana and EVM pool sets and directs the subnet-106 share to EVM
// pools only. Market-priced subnets behave as in ReservedShareAllocator.
type ChainSplitAllocator struct{}

func (ChainSplitAllocator) Allocate(in AllocatorInput) AllocatorResult {
	groups := poolsBySubnet(in)
	weights := make(map[chains.PoolKey]float64)
	alphaBySubnet := make(map[int]float64)

	var sol0, evm0 []chains.PoolKey
	for _, pool := range groups[SubnetNoAlpha] {
		if pool.Chain() == chains.ChainSolana {
			sol0 = append(sol0, pool)
		} else {
			evm0 = append(evm0, pool)
		}
	}
	var evm106 []chains.PoolKey
	for _, pool := range groups[SubnetSelf] {
		if pool.Chain() != chains.ChainSolana {
			evm106 = append(evm106, pool)
		}
	}

	r0 := 0.0
	if len(sol0)+len(evm0) > 0 {
		r0 = clamp01(in.ReservedShareSubnet0)
	}
	r106 := 0.0
	if len(evm106) > 0 {
		r106 = clamp01(in.ReservedShareSubnet106)
		if r106 > 1-r0 {
			r106 = 1 - r0
		}
	}
	remaining := 1 - r0 - r106
	if remaining < 0 {
		remaining = 0
	}

	// split the subnet-0 share equally across the chain classes that have
	// pools, then equally within each class
	classes := 0
	if len(sol0) > 0 {
		classes++
	}
	if len(evm0) > 0 {
		classes++
	}
	if classes > 0 {
		classShare := r0 / float64(classes)
		for _, pool := range sol0 {
			weights[pool] += classShare / float64(len(sol0))
		}
		for _, pool := range evm0 {
			weights[pool] += classShare / float64(len(evm0))
		}
	}
	for _, pool := range evm106 {
		weights[pool] += r106 / float64(len(evm106))
	}

	var otherSubnets []int
	alphaSum := 0.0
	for _, subnet := range sortedSubnets(groups) {
		if subnet == SubnetNoAlpha || subnet == SubnetSelf {
			continue
		}
		otherSubnets = append(otherSubnets, subnet)
		alpha := in.AlphaPrices[subnet]
		if alpha < 0 {
			alpha = 0
		}
		alphaBySubnet[subnet] = alpha
		alphaSum += alpha
	}
	if len(otherSubnets) == 0 {
		return AllocatorResult{Weights: weights, AlphaBySubnet: alphaBySubnet}
	}
	if alphaSum > 0 {
		for _, subnet := range otherSubnets {
			share := remaining * alphaBySubnet[subnet] / alphaSum
			for _, pool := range groups[subnet] {
				weights[pool] += share / float64(len(groups[subnet]))
			}
		}
	} else {
		totalPools := 0
		for _, subnet := range otherSubnets {
			totalPools += len(groups[subnet])
		}
		for _, subnet := range otherSubnets {
			for _, pool := range groups[subnet] {
				weights[pool] += remaining / float64(totalPools)
			}
		}
	}

	return AllocatorResult{Weights: weights, AlphaBySubnet: alphaBySubnet}
}

// NewAllocator selects the allocation policy by name, defaulting to the
// reserved-share policy.
func NewAllocator(name string) PoolAllocator {
	if name == "chain-split" {
		return ChainSplitAllocator{}
	}
	return ReservedShareAllocator{}
}
