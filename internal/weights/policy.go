// Package weights converts smoothed miner weights into the u16 submission
// vector and records successful submissions.
package weights

import (
	"fmt"
	"math"
	"sort"
)

const (
	// U16Max is the required weight vector sum.
	U16Max = 65535
	// BurnUID receives the explicit burn share.
	BurnUID uint16 = 0
)

// PolicyInput is everything the submission policy needs for one run.
type PolicyInput struct {
	MinerRaw       map[string]float64
	HotkeyToUID    map[string]uint16
	Ema            map[string]float64 // post-EMA weights, nil when EMA is disabled
	Epsilon        float64
	BurnPercentage float64
}

// SubmissionVector is the final parallel uid/weight arrays. AllZero marks
// the nothing-in-range policy case, where every weight (burn included) is 0.
type SubmissionVector struct {
	UIDs    []uint16
	Weights []uint16
	AllZero bool
}

// Sum returns the total of the weight values.
func (v SubmissionVector) Sum() int {
	total := 0
	for _, w := range v.Weights {
		total += int(w)
	}
	return total
}

// BuildSubmission applies the submission decision tree: smoothed weights
// over the UID domain when anything scored, the all-zero vector otherwise,
// then largest-remainder scaling with an exact burn allocation.
func BuildSubmission(in PolicyInput) (SubmissionVector, error) {
	if len(in.HotkeyToUID) == 0 {
		return SubmissionVector{}, fmt.Errorf("empty hotkey-to-uid map")
	}

	anyPositive := false
	for _, w := range in.MinerRaw {
		if w > 0 {
			anyPositive = true
			break
		}
	}

	uids := make([]uint16, 0, len(in.HotkeyToUID))
	uidSeen := make(map[uint16]struct{}, len(in.HotkeyToUID))
	for _, uid := range in.HotkeyToUID {
		if _, dup := uidSeen[uid]; dup {
			continue
		}
		uidSeen[uid] = struct{}{}
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	if !anyPositive {
		// nothing in range: every UID gets zero, burn included
		return SubmissionVector{
			UIDs:    uids,
			Weights: make([]uint16, len(uids)),
			AllZero: true,
		}, nil
	}

	submit := make(map[uint16]float64, len(uids))
	for _, uid := range uids {
		submit[uid] = 0
	}
	if in.Ema != nil {
		for hotkey, w := range in.Ema {
			uid, ok := in.HotkeyToUID[hotkey]
			if !ok || w <= in.Epsilon {
				continue
			}
			submit[uid] = w
		}
	} else {
		for hotkey, w := range in.MinerRaw {
			uid, ok := in.HotkeyToUID[hotkey]
			if !ok || w <= 0 {
				continue
			}
			submit[uid] = w
		}
	}

	floatsByUID := make([]float64, len(uids))
	for i, uid := range uids {
		floatsByUID[i] = submit[uid]
	}
	scaledUIDs, scaledWeights := ScaleToU16(uids, floatsByUID, in.BurnPercentage)
	return SubmissionVector{UIDs: scaledUIDs, Weights: scaledWeights}, nil
}

// ScaleToU16 converts a float weight vector into u16 weights summing to
// exactly 65535 with the burn UID receiving round(burn%/100 × 65535).
// Allocation is largest-remainder over the non-burn entries, remainder ties
// broken by UID ascending; leftover units cycle round-robin through that
// order. The burn UID is prepended when absent.
func ScaleToU16(uids []uint16, weights []float64, burnPercentage float64) ([]uint16, []uint16) {
	outUIDs := make([]uint16, len(uids))
	copy(outUIDs, uids)
	floats := make([]float64, len(weights))
	copy(floats, weights)

	burnIdx := -1
	for i, uid := range outUIDs {
		if uid == BurnUID {
			burnIdx = i
			break
		}
	}
	if burnIdx == -1 {
		outUIDs = append([]uint16{BurnUID}, outUIDs...)
		floats = append([]float64{0}, floats...)
		burnIdx = 0
	}

	if burnPercentage < 0 {
		burnPercentage = 0
	} else if burnPercentage > 100 {
		burnPercentage = 100
	}
	desiredBurnInt := int(math.Round(burnPercentage / 100 * U16Max))
	minerTotalInt := U16Max - desiredBurnInt

	nonBurnSum := 0.0
	for i, w := range floats {
		if i != burnIdx && w > 0 {
			nonBurnSum += w
		}
	}

	scaled := make([]int, len(outUIDs))
	scaled[burnIdx] = desiredBurnInt

	type remEntry struct {
		idx int
		rem float64
	}
	var rems []remEntry
	floorSum := 0
	for i, w := range floats {
		if i == burnIdx {
			continue
		}
		target := 0.0
		if nonBurnSum > 0 && w > 0 {
			target = w / nonBurnSum * float64(minerTotalInt)
		}
		fl := int(target)
		scaled[i] = fl
		floorSum += fl
		rems = append(rems, remEntry{idx: i, rem: target - float64(fl)})
	}
	sort.SliceStable(rems, func(a, b int) bool {
		if rems[a].rem != rems[b].rem {
			return rems[a].rem > rems[b].rem
		}
		return outUIDs[rems[a].idx] < outUIDs[rems[b].idx]
	})

	if len(rems) > 0 {
		for n := 0; n < minerTotalInt-floorSum; n++ {
			scaled[rems[n%len(rems)].idx]++
		}
	}

	rectify(outUIDs, scaled, burnIdx)

	out := make([]uint16, len(scaled))
	for i, v := range scaled {
		out[i] = uint16(v)
	}
	return outUIDs, out
}

// rectify repairs any residual drift so the vector sums to exactly 65535,
// touching the burn entry last.
func rectify(uids []uint16, scaled []int, burnIdx int) {
	total := 0
	for _, v := range scaled {
		total += v
	}
	if total == U16Max {
		return
	}

	order := make([]int, 0, len(scaled))
	for i := range scaled {
		if i != burnIdx {
			order = append(order, i)
		}
	}

	if total < U16Max {
		// add missing units round-robin, largest entries first
		sort.SliceStable(order, func(a, b int) bool {
			if scaled[order[a]] != scaled[order[b]] {
				return scaled[order[a]] > scaled[order[b]]
			}
			return uids[order[a]] < uids[order[b]]
		})
		if len(order) == 0 {
			scaled[burnIdx] += U16Max - total
			return
		}
		for n := 0; n < U16Max-total; n++ {
			scaled[order[n%len(order)]]++
		}
		return
	}

	// remove excess from the largest entries, burn last
	excess := total - U16Max
	for excess > 0 {
		largest := -1
		for _, i := range order {
			if scaled[i] > 0 && (largest == -1 || scaled[i] > scaled[largest]) {
				largest = i
			}
		}
		if largest == -1 {
			scaled[burnIdx] -= excess
			return
		}
		scaled[largest]--
		excess--
	}
}
