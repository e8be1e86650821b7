package weights

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleToU16_BurnPrependedAndExact(t *testing.T) {
	// S6: uids [1,2,3], floats [2,1,1], burn 50%
	uids, scaled := ScaleToU16([]uint16{1, 2, 3}, []float64{2, 1, 1}, 50)

	require.Equal(t, []uint16{0, 1, 2, 3}, uids, "burn uid prepended")
	assert.Equal(t, uint16(32768), scaled[0], "round(0.5 × 65535)")

	sum := 0
	for _, w := range scaled {
		sum += int(w)
	}
	assert.Equal(t, U16Max, sum)

	// 32767 split by floors 16383/8191/8191 with the two leftover units
	// going to the larger remainders (uids 2 and 3)
	assert.Equal(t, uint16(16383), scaled[1])
	assert.Equal(t, uint16(8192), scaled[2])
	assert.Equal(t, uint16(8192), scaled[3])
}

func TestScaleToU16_SumAndBurnInvariant(t *testing.T) {
	// property 9: any vector, any burn percentage: sum is exactly 65535
	// and the burn slot holds round(burn%/100 × 65535)
	rng := rand.New(rand.NewPCG(11, 23))
	for burn := 0; burn <= 100; burn++ {
		n := 1 + rng.IntN(20)
		uids := make([]uint16, n)
		floats := make([]float64, n)
		for i := range uids {
			uids[i] = uint16(i + 1)
			floats[i] = rng.Float64() * 1000
		}

		outUIDs, scaled := ScaleToU16(uids, floats, float64(burn))

		sum := 0
		burnVal := -1
		for i, uid := range outUIDs {
			sum += int(scaled[i])
			if uid == BurnUID {
				burnVal = int(scaled[i])
			}
		}
		require.Equal(t, U16Max, sum, "burn=%d", burn)
		require.Equal(t, int(math.Round(float64(burn)/100*U16Max)), burnVal, "burn=%d", burn)
	}
}

func TestScaleToU16_FullBurn(t *testing.T) {
	// property 10: burn=100 zeroes every non-burn weight
	outUIDs, scaled := ScaleToU16([]uint16{0, 1, 2}, []float64{0, 3, 1}, 100)
	for i, uid := range outUIDs {
		if uid == BurnUID {
			assert.Equal(t, uint16(U16Max), scaled[i])
		} else {
			assert.Zero(t, scaled[i])
		}
	}
}

func TestScaleToU16_NoBurn(t *testing.T) {
	outUIDs, scaled := ScaleToU16([]uint16{0, 1, 2}, []float64{0, 3, 1}, 0)
	sum := 0
	for i, uid := range outUIDs {
		sum += int(scaled[i])
		if uid == BurnUID {
			assert.Zero(t, scaled[i])
		}
	}
	assert.Equal(t, U16Max, sum)
}

func TestScaleToU16_ZeroVectorStillSums(t *testing.T) {
	// zero miner weights in the positive-raw path still produce a complete
	// vector: the miner share spreads round-robin over the uids
	_, scaled := ScaleToU16([]uint16{0, 1, 2}, []float64{0, 0, 0}, 50)
	sum := 0
	for _, w := range scaled {
		sum += int(w)
	}
	assert.Equal(t, U16Max, sum)
}

func TestBuildSubmission_AllZeroWhenNothingInRange(t *testing.T) {
	// S5 / §4.G case 2: nothing scored means every uid, burn included,
	// gets zero
	vector, err := BuildSubmission(PolicyInput{
		MinerRaw:       map[string]float64{"a": 0, "b": 0},
		HotkeyToUID:    map[string]uint16{"burn": 0, "a": 1, "b": 2},
		Epsilon:        1e-6,
		BurnPercentage: 50,
	})
	require.NoError(t, err)
	assert.True(t, vector.AllZero)
	assert.Equal(t, []uint16{0, 1, 2}, vector.UIDs)
	assert.Equal(t, 0, vector.Sum())
}

func TestBuildSubmission_EmptyUIDMapRejected(t *testing.T) {
	_, err := BuildSubmission(PolicyInput{MinerRaw: map[string]float64{"a": 1}})
	assert.Error(t, err)
}

func TestBuildSubmission_UsesEmaWhenEnabled(t *testing.T) {
	vector, err := BuildSubmission(PolicyInput{
		MinerRaw:    map[string]float64{"a": 1},
		HotkeyToUID: map[string]uint16{"burn": 0, "a": 1, "b": 2},
		Ema: map[string]float64{
			"a": 0.7,
			"b": 1e-9, // below epsilon, dropped
			"c": 0.3,  // not registered, dropped
		},
		Epsilon:        1e-6,
		BurnPercentage: 0,
	})
	require.NoError(t, err)
	require.Equal(t, []uint16{0, 1, 2}, vector.UIDs)
	assert.Equal(t, uint16(U16Max), vector.Weights[1], "all weight lands on the only eligible miner")
	assert.Zero(t, vector.Weights[2])
	assert.Equal(t, U16Max, vector.Sum())
}

func TestBuildSubmission_RawPathWhenEmaDisabled(t *testing.T) {
	vector, err := BuildSubmission(PolicyInput{
		MinerRaw:       map[string]float64{"a": 3, "b": 1},
		HotkeyToUID:    map[string]uint16{"burn": 0, "a": 1, "b": 2},
		Epsilon:        1e-6,
		BurnPercentage: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, U16Max, vector.Sum())
	assert.Greater(t, vector.Weights[1], vector.Weights[2])
}
