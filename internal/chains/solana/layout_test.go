package solana

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPoolRecord(poolState solana.PublicKey, subnetID uint16, active bool) []byte {
	data := make([]byte, poolRecordSize)
	copy(data[poolRecordPoolStateOff:], poolState[:])
	binary.LittleEndian.PutUint16(data[poolRecordSubnetOff:], subnetID)
	if active {
		data[poolRecordActiveOff] = 1
	}
	return data
}

func buildStakeRecord(poolState, nft solana.PublicKey, hotkey string, lower, upper int32, liquidity *big.Int, active bool) []byte {
	data := make([]byte, stakeRecordSize)
	copy(data[stakeRecordPoolStateOff:], poolState[:])
	copy(data[stakeRecordNftOff:], nft[:])
	copy(data[stakeRecordHotkeyOff:], hotkey)
	binary.LittleEndian.PutUint32(data[stakeRecordTickLowerOff:], uint32(lower))
	binary.LittleEndian.PutUint32(data[stakeRecordTickUpperOff:], uint32(upper))
	liqBE := make([]byte, 16)
	liquidity.FillBytes(liqBE)
	for i := 0; i < 16; i++ {
		data[stakeRecordLiquidityOff+i] = liqBE[15-i]
	}
	if active {
		data[stakeRecordActiveOff] = 1
	}
	return data
}

func TestDecodePoolRecord(t *testing.T) {
	poolState := solana.NewWallet().PublicKey()
	rec, err := decodePoolRecord(buildPoolRecord(poolState, 106, true))
	require.NoError(t, err)
	assert.Equal(t, poolState, rec.PoolState)
	assert.Equal(t, 106, rec.SubnetID)
	assert.True(t, rec.Active)

	_, err = decodePoolRecord(make([]byte, 10))
	assert.Error(t, err)
}

func TestDecodeStakeRecord(t *testing.T) {
	poolState := solana.NewWallet().PublicKey()
	nft := solana.NewWallet().PublicKey()
	liquidity := new(big.Int).Lsh(big.NewInt(3), 70) // needs more than 64 bits

	rec, err := decodeStakeRecord(buildStakeRecord(poolState, nft, "5Hotkey", -443636, 443636, liquidity, true))
	require.NoError(t, err)
	assert.Equal(t, poolState, rec.PoolState)
	assert.Equal(t, nft, rec.NFT)
	assert.Equal(t, "5Hotkey", rec.Hotkey)
	assert.EqualValues(t, -443636, rec.TickLower)
	assert.EqualValues(t, 443636, rec.TickUpper)
	assert.Zero(t, rec.Liquidity.Cmp(liquidity))
	assert.True(t, rec.Active)

	_, err = decodeStakeRecord(make([]byte, 100))
	assert.Error(t, err)
}

func TestDecodeTickCurrent(t *testing.T) {
	slice := make([]byte, 4)
	tickValue := int32(-18123)
	binary.LittleEndian.PutUint32(slice, uint32(tickValue))
	tick, err := decodeTickCurrent(slice)
	require.NoError(t, err)
	assert.EqualValues(t, -18123, tick)

	_, err = decodeTickCurrent([]byte{1, 2})
	assert.Error(t, err)
}

func TestAdapterDisabledWithoutConfig(t *testing.T) {
	a := NewAdapter(Config{})
	pools, err := a.ListActivePools(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pools)

	positions, err := a.FetchPositions(t.Context(), []string{"hk"})
	require.NoError(t, err)
	assert.Empty(t, positions)

	ticks, err := a.FetchCurrentTicks(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, ticks)
}
