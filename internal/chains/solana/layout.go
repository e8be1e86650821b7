package solana

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// Account layouts of the staking program. All fields sit at fixed offsets;
// integers are little-endian.
const (
	// PoolRecord: discriminator(8) | pool_state(32) | subnet_id(u16) |
	// active(u8) | padding(5)
	poolRecordSize          = 48
	poolRecordPoolStateOff  = 8
	poolRecordSubnetOff     = 40
	poolRecordActiveOff     = 42

	// StakeRecord: discriminator(8) | owner(32) | pool_state(32) |
	// position_nft(32) | hotkey(64, zero-padded) | tick_lower(i32) |
	// tick_upper(i32) | liquidity(u128) | active(u8) | padding(7)
	stakeRecordSize         = 200
	stakeRecordPoolStateOff = 40
	stakeRecordNftOff       = 72
	stakeRecordHotkeyOff    = 104
	stakeRecordHotkeyLen    = 64
	stakeRecordTickLowerOff = 168
	stakeRecordTickUpperOff = 172
	stakeRecordLiquidityOff = 176
	stakeRecordActiveOff    = 192

	// Raydium CLMM PoolState: tick_current follows the discriminator, bump,
	// seven pubkeys, the mint decimals pair, tick_spacing, and the
	// liquidity/sqrt_price u128 pair.
	poolStateTickCurrentOff = 269
	poolStateTickLen        = 4
)

type poolRecord struct {
	PoolState solana.PublicKey
	SubnetID  int
	Active    bool
}

func decodePoolRecord(data []byte) (poolRecord, error) {
	if len(data) < poolRecordSize {
		return poolRecord{}, fmt.Errorf("pool record too short: %d bytes", len(data))
	}
	return poolRecord{
		PoolState: solana.PublicKeyFromBytes(data[poolRecordPoolStateOff : poolRecordPoolStateOff+32]),
		SubnetID:  int(binary.LittleEndian.Uint16(data[poolRecordSubnetOff:])),
		Active:    data[poolRecordActiveOff] != 0,
	}, nil
}

type stakeRecord struct {
	PoolState solana.PublicKey
	NFT       solana.PublicKey
	Hotkey    string
	TickLower int32
	TickUpper int32
	Liquidity *big.Int
	Active    bool
}

func decodeStakeRecord(data []byte) (stakeRecord, error) {
	if len(data) < stakeRecordSize {
		return stakeRecord{}, fmt.Errorf("stake record too short: %d bytes", len(data))
	}

	hotkeyRaw := data[stakeRecordHotkeyOff : stakeRecordHotkeyOff+stakeRecordHotkeyLen]
	end := len(hotkeyRaw)
	for end > 0 && hotkeyRaw[end-1] == 0 {
		end--
	}

	// liquidity is u128 little-endian; big.Int wants big-endian bytes
	liqLE := data[stakeRecordLiquidityOff : stakeRecordLiquidityOff+16]
	liqBE := make([]byte, 16)
	for i := range liqLE {
		liqBE[15-i] = liqLE[i]
	}

	return stakeRecord{
		PoolState: solana.PublicKeyFromBytes(data[stakeRecordPoolStateOff : stakeRecordPoolStateOff+32]),
		NFT:       solana.PublicKeyFromBytes(data[stakeRecordNftOff : stakeRecordNftOff+32]),
		Hotkey:    string(hotkeyRaw[:end]),
		TickLower: int32(binary.LittleEndian.Uint32(data[stakeRecordTickLowerOff:])),
		TickUpper: int32(binary.LittleEndian.Uint32(data[stakeRecordTickUpperOff:])),
		Liquidity: new(big.Int).SetBytes(liqBE),
		Active:    data[stakeRecordActiveOff] != 0,
	}, nil
}

// decodeTickCurrent reads tick_current from a PoolState data slice that
// starts at the tick offset.
func decodeTickCurrent(slice []byte) (int32, error) {
	if len(slice) < poolStateTickLen {
		return 0, fmt.Errorf("tick slice too short: %d bytes", len(slice))
	}
	return int32(binary.LittleEndian.Uint32(slice)), nil
}
