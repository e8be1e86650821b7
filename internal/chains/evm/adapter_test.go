package evm

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorliq/lpvalidator/internal/chains"
)

const (
	testStaking = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testManager = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testPool    = "0x3333333333333333333333333333333333333333"
)

func fastRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 1
	cfg.InitialRetryDelay = time.Millisecond
	cfg.RateLimitRetryDelay = time.Millisecond
	cfg.BatchDelay = 0
	return cfg
}

// rpcHandler answers each eth_call in a batch by selector.
func rpcHandler(t *testing.T, answer func(to, data string) (string, bool)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var reqs []rpcRequest
		require.NoError(t, json.Unmarshal(body, &reqs))

		var resps []rpcResponse
		for _, req := range reqs {
			call := req.Params[0].(map[string]any)
			result, ok := answer(call["to"].(string), call["data"].(string))
			if !ok {
				resps = append(resps, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32000, Message: "execution reverted"}})
				continue
			}
			resps = append(resps, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
		}
		w.Header().Set("Content-Type", "application/json")
		out, err := json.Marshal(resps)
		require.NoError(t, err)
		w.Write(out)
	}
}

func allPoolsResult() string {
	var buf []byte
	buf = wordInt(buf, 64)
	buf = wordInt(buf, 64+3*32)
	buf = wordInt(buf, 2)
	buf = wordAddress(buf, testPool)
	buf = wordAddress(buf, zeroAddress) // filtered out
	buf = wordInt(buf, 2)
	buf = wordInt(buf, 1)
	buf = wordInt(buf, 0)
	return "0x" + hex.EncodeToString(buf)
}

func stakesResult() string {
	var buf []byte
	buf = wordInt(buf, 64)
	buf = wordInt(buf, 64+6*32)
	buf = wordInt(buf, 2)
	buf = wordInt(buf, 64)
	buf = wordInt(buf, 128)
	buf = wordInt(buf, 1)
	buf = wordInt(buf, 7)
	buf = wordInt(buf, 0)
	buf = wordInt(buf, 2)
	buf = wordInt(buf, 64)
	buf = wordInt(buf, 128)
	buf = wordInt(buf, 1)
	buf = wordAddress(buf, testPool)
	buf = wordInt(buf, 0)
	return "0x" + hex.EncodeToString(buf)
}

func positionResult(lower, upper int64, liquidity *big.Int) string {
	var buf []byte
	buf = wordInt(buf, 0)
	buf = wordAddress(buf, zeroAddress)
	buf = wordAddress(buf, zeroAddress)
	buf = wordAddress(buf, zeroAddress)
	buf = wordInt(buf, 3000)
	buf = wordInt(buf, lower)
	buf = wordInt(buf, upper)
	buf = word(buf, liquidity)
	for i := 0; i < 4; i++ {
		buf = wordInt(buf, 0)
	}
	return "0x" + hex.EncodeToString(buf)
}

func slot0Result(tick int64) string {
	var buf []byte
	buf = wordInt(buf, 0)
	buf = wordInt(buf, tick)
	for i := 0; i < 5; i++ {
		buf = wordInt(buf, 0)
	}
	return "0x" + hex.EncodeToString(buf)
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewAdapter(Config{
		Tag:             chains.ChainEthereum,
		RPCURL:          ts.URL,
		StakingContract: testStaking,
		PositionManager: testManager,
		Retry:           fastRetry(),
	})
}

func TestListActivePools(t *testing.T) {
	a := newTestAdapter(t, rpcHandler(t, func(to, data string) (string, bool) {
		if to == testStaking && strings.HasPrefix(data, "0x"+selGetAllPools) {
			return allPoolsResult(), true
		}
		return "", false
	}))

	pools, err := a.ListActivePools(t.Context())
	require.NoError(t, err)
	require.Len(t, pools, 1, "zero address pool must be filtered")
	assert.Equal(t, chains.NewPoolKey(chains.ChainEthereum, testPool), pools[0].Key)
	assert.Equal(t, 1, pools[0].SubnetID)
	assert.True(t, pools[0].Active)
}

func TestFetchCurrentTicks(t *testing.T) {
	a := newTestAdapter(t, rpcHandler(t, func(to, data string) (string, bool) {
		switch {
		case strings.HasPrefix(data, "0x"+selGetAllPools):
			return allPoolsResult(), true
		case strings.HasPrefix(data, "0x"+selSlot0):
			return slot0Result(-5042), true
		}
		return "", false
	}))

	ticks, err := a.FetchCurrentTicks(t.Context(), nil)
	require.NoError(t, err)
	key := chains.NewPoolKey(chains.ChainEthereum, testPool)
	require.Contains(t, ticks, key)
	assert.EqualValues(t, -5042, ticks[key].Tick)
	assert.Equal(t, 1, ticks[key].SubnetID)
}

func TestFetchCurrentTicks_AllowedFilter(t *testing.T) {
	a := newTestAdapter(t, rpcHandler(t, func(to, data string) (string, bool) {
		if strings.HasPrefix(data, "0x"+selGetAllPools) {
			return allPoolsResult(), true
		}
		t.Errorf("no slot0 call expected when the pool is filtered out")
		return "", false
	}))

	ticks, err := a.FetchCurrentTicks(t.Context(), map[chains.PoolKey]int{})
	require.NoError(t, err)
	assert.Empty(t, ticks)
}

func TestFetchPositions(t *testing.T) {
	liquidity := new(big.Int).Lsh(big.NewInt(9), 80)
	a := newTestAdapter(t, rpcHandler(t, func(to, data string) (string, bool) {
		switch {
		case to == testStaking && strings.HasPrefix(data, "0x"+selGetStakesByMultipleHotkeys):
			return stakesResult(), true
		case to == testManager && strings.HasPrefix(data, "0x"+selPositions):
			// bounds arrive inverted and must be normalized
			return positionResult(500, -500, liquidity), true
		}
		return "", false
	}))

	positions, err := a.FetchPositions(t.Context(), []string{"hotkeyA", "hotkeyB"})
	require.NoError(t, err)
	require.Len(t, positions, 1)

	pos := positions[0]
	assert.Equal(t, "hotkeyA", pos.Miner)
	assert.Equal(t, chains.NewPoolKey(chains.ChainEthereum, testPool), pos.Pool)
	assert.Equal(t, "7", pos.TokenID)
	assert.EqualValues(t, -500, pos.TickLower)
	assert.EqualValues(t, 500, pos.TickUpper)
	assert.Zero(t, pos.Liquidity.Cmp(liquidity))
}

func TestFetchPositions_RevertedPositionSkipped(t *testing.T) {
	a := newTestAdapter(t, rpcHandler(t, func(to, data string) (string, bool) {
		if strings.HasPrefix(data, "0x"+selGetStakesByMultipleHotkeys) {
			return stakesResult(), true
		}
		return "", false // positions call reverts
	}))

	positions, err := a.FetchPositions(t.Context(), []string{"hotkeyA", "hotkeyB"})
	require.NoError(t, err)
	assert.Empty(t, positions, "reverted record is skipped, not fatal")
}

func TestAdapterUnconfigured(t *testing.T) {
	a := NewAdapter(Config{Tag: chains.ChainEthereum})

	pools, err := a.ListActivePools(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pools)

	positions, err := a.FetchPositions(t.Context(), []string{"hk"})
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestRPCClient_RetriesExhausted(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	c := newRPCClient(ts.URL, fastRetry())
	_, err := c.ethCall(t.Context(), testStaking, "0x"+selGetAllPools)
	assert.Error(t, err)
	assert.Equal(t, 2, calls, "initial attempt plus one retry")
}
