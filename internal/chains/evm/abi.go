package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Function selectors for the staking contract and Uniswap V3 periphery.
const (
	selGetAllPools                = "d88ff1f4" // getAllPools()
	selGetStakesByMultipleHotkeys = "171408ee" // getStakesByMultipleHotkeys(string[])
	selPositions                  = "99fbab88" // positions(uint256)
	selSlot0                      = "3850c7bd" // slot0()
)

const wordSize = 32

var zeroAddress = "0x0000000000000000000000000000000000000000"

// two256 is the modulus for 256-bit two's complement decoding.
var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// encodeCall builds calldata from a selector and pre-encoded argument words.
func encodeCall(selector string, args []byte) string {
	return "0x" + selector + hex.EncodeToString(args)
}

// encodeUint256 packs v into a left-padded 32-byte word.
func encodeUint256(v *big.Int) []byte {
	word := make([]byte, wordSize)
	v.FillBytes(word)
	return word
}

// encodeStringArray ABI-encodes a single string[] argument: the head holds
// the offset to the array, the array holds its length, per-element offsets,
// and the padded element bytes.
func encodeStringArray(items []string) []byte {
	var tail []byte
	offsets := make([]int, len(items))
	// element offsets are relative to the start of the array body, which
	// begins right after the length word
	base := len(items) * wordSize
	for i, s := range items {
		offsets[i] = base + len(tail)
		tail = append(tail, encodeUint256(big.NewInt(int64(len(s))))...)
		padded := make([]byte, (len(s)+wordSize-1)/wordSize*wordSize)
		copy(padded, s)
		tail = append(tail, padded...)
	}

	var out []byte
	out = append(out, encodeUint256(big.NewInt(wordSize))...) // head offset
	out = append(out, encodeUint256(big.NewInt(int64(len(items))))...)
	for _, off := range offsets {
		out = append(out, encodeUint256(big.NewInt(int64(off)))...)
	}
	out = append(out, tail...)
	return out
}

// returnData holds decoded hex return data as raw bytes with word accessors.
type returnData struct {
	data []byte
}

func parseReturnData(hexData string) (*returnData, error) {
	s := strings.TrimPrefix(hexData, "0x")
	if s == "" {
		return nil, fmt.Errorf("empty return data")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex return data: %w", err)
	}
	if len(raw)%wordSize != 0 {
		return nil, fmt.Errorf("return data length %d is not word-aligned", len(raw))
	}
	return &returnData{data: raw}, nil
}

func (r *returnData) word(i int) ([]byte, error) {
	off := i * wordSize
	if off+wordSize > len(r.data) {
		return nil, fmt.Errorf("word %d out of range (%d bytes)", i, len(r.data))
	}
	return r.data[off : off+wordSize], nil
}

func (r *returnData) uintWord(i int) (*big.Int, error) {
	w, err := r.word(i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

// intWord decodes word i as a signed 256-bit two's complement value, which
// covers sign-extended int24 tick fields.
func (r *returnData) intWord(i int) (*big.Int, error) {
	v, err := r.uintWord(i)
	if err != nil {
		return nil, err
	}
	if v.Bit(255) == 1 {
		v = new(big.Int).Sub(v, two256)
	}
	return v, nil
}

// addressWord decodes word i as a lowercase 0x address.
func (r *returnData) addressWord(i int) (string, error) {
	w, err := r.word(i)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(w[12:]), nil
}

// offsetAt resolves the dynamic offset stored in word i to a word index
// relative to base.
func (r *returnData) offsetAt(i, base int) (int, error) {
	v, err := r.uintWord(i)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() || v.Int64()%wordSize != 0 {
		return 0, fmt.Errorf("invalid dynamic offset at word %d", i)
	}
	return base + int(v.Int64())/wordSize, nil
}

// uintArrayAt decodes a uint256[] whose length word sits at word index at.
func (r *returnData) uintArrayAt(at int) ([]*big.Int, error) {
	n, err := r.uintWord(at)
	if err != nil {
		return nil, err
	}
	if !n.IsInt64() || n.Int64() < 0 || n.Int64() > int64(len(r.data)/wordSize) {
		return nil, fmt.Errorf("implausible array length at word %d", at)
	}
	out := make([]*big.Int, n.Int64())
	for i := range out {
		v, err := r.uintWord(at + 1 + i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// addressArrayAt decodes an address[] whose length word sits at word index at.
func (r *returnData) addressArrayAt(at int) ([]string, error) {
	n, err := r.uintWord(at)
	if err != nil {
		return nil, err
	}
	if !n.IsInt64() || n.Int64() < 0 || n.Int64() > int64(len(r.data)/wordSize) {
		return nil, fmt.Errorf("implausible array length at word %d", at)
	}
	out := make([]string, n.Int64())
	for i := range out {
		a, err := r.addressWord(at + 1 + i)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// decodeGetAllPools decodes (address[] pools, uint8[] subnetIds).
func decodeGetAllPools(hexData string) ([]string, []int, error) {
	r, err := parseReturnData(hexData)
	if err != nil {
		return nil, nil, err
	}
	poolsAt, err := r.offsetAt(0, 0)
	if err != nil {
		return nil, nil, err
	}
	subnetsAt, err := r.offsetAt(1, 0)
	if err != nil {
		return nil, nil, err
	}
	addrs, err := r.addressArrayAt(poolsAt)
	if err != nil {
		return nil, nil, err
	}
	rawSubnets, err := r.uintArrayAt(subnetsAt)
	if err != nil {
		return nil, nil, err
	}
	if len(addrs) != len(rawSubnets) {
		return nil, nil, fmt.Errorf("pool/subnet length mismatch: %d vs %d", len(addrs), len(rawSubnets))
	}
	subnets := make([]int, len(rawSubnets))
	for i, v := range rawSubnets {
		subnets[i] = int(v.Int64())
	}
	return addrs, subnets, nil
}

// decodeStakes decodes (uint256[][] tokenIds, address[][] pools) from
// getStakesByMultipleHotkeys. Outer index follows the query hotkey order.
func decodeStakes(hexData string) ([][]*big.Int, [][]string, error) {
	r, err := parseReturnData(hexData)
	if err != nil {
		return nil, nil, err
	}
	tokensAt, err := r.offsetAt(0, 0)
	if err != nil {
		return nil, nil, err
	}
	poolsAt, err := r.offsetAt(1, 0)
	if err != nil {
		return nil, nil, err
	}

	nTokens, err := r.uintWord(tokensAt)
	if err != nil {
		return nil, nil, err
	}
	tokenIDs := make([][]*big.Int, nTokens.Int64())
	for i := range tokenIDs {
		// inner offsets are relative to the outer array body
		at, err := r.offsetAt(tokensAt+1+i, tokensAt+1)
		if err != nil {
			return nil, nil, err
		}
		tokenIDs[i], err = r.uintArrayAt(at)
		if err != nil {
			return nil, nil, err
		}
	}

	nPools, err := r.uintWord(poolsAt)
	if err != nil {
		return nil, nil, err
	}
	pools := make([][]string, nPools.Int64())
	for i := range pools {
		at, err := r.offsetAt(poolsAt+1+i, poolsAt+1)
		if err != nil {
			return nil, nil, err
		}
		pools[i], err = r.addressArrayAt(at)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(tokenIDs) != len(pools) {
		return nil, nil, fmt.Errorf("token/pool outer length mismatch: %d vs %d", len(tokenIDs), len(pools))
	}
	return tokenIDs, pools, nil
}

// positionInfo is the subset of NonfungiblePositionManager.positions needed
// for scoring.
type positionInfo struct {
	TickLower int32
	TickUpper int32
	Liquidity *big.Int
}

// decodePosition decodes positions(uint256): the tuple is fully static, with
// tickLower, tickUpper and liquidity at words 5, 6 and 7.
func decodePosition(hexData string) (positionInfo, error) {
	r, err := parseReturnData(hexData)
	if err != nil {
		return positionInfo{}, err
	}
	lower, err := r.intWord(5)
	if err != nil {
		return positionInfo{}, err
	}
	upper, err := r.intWord(6)
	if err != nil {
		return positionInfo{}, err
	}
	liquidity, err := r.uintWord(7)
	if err != nil {
		return positionInfo{}, err
	}
	return positionInfo{
		TickLower: int32(lower.Int64()),
		TickUpper: int32(upper.Int64()),
		Liquidity: liquidity,
	}, nil
}

// decodeSlot0Tick decodes slot0() and returns the current tick (word 1,
// sign-extended int24).
func decodeSlot0Tick(hexData string) (int32, error) {
	r, err := parseReturnData(hexData)
	if err != nil {
		return 0, err
	}
	tick, err := r.intWord(1)
	if err != nil {
		return 0, err
	}
	return int32(tick.Int64()), nil
}
