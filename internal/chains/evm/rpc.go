package evm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// RetryConfig bounds RPC retries and batching for the adapter.
type RetryConfig struct {
	MaxRetries           int
	InitialRetryDelay    time.Duration
	RateLimitRetryDelay  time.Duration
	MaxRetryDelay        time.Duration
	Timeout              time.Duration
	PositionBatchSize    int
	MaxConcurrentBatches int
	BatchDelay           time.Duration
}

// DefaultRetryConfig matches the documented performance knob defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:           3,
		InitialRetryDelay:    500 * time.Millisecond,
		RateLimitRetryDelay:  2 * time.Second,
		MaxRetryDelay:        20 * time.Second,
		Timeout:              30 * time.Second,
		PositionBatchSize:    50,
		MaxConcurrentBatches: 4,
		BatchDelay:           100 * time.Millisecond,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int       `json:"id"`
	Result  string    `json:"result"`
	Error   *rpcError `json:"error"`
}

// rpcClient issues batched eth_call requests over JSON-RPC with bounded
// retries. HTTP 429 responses back off on a longer base than transport
// errors.
type rpcClient struct {
	client *resty.Client
	cfg    RetryConfig
}

func newRPCClient(rpcURL string, cfg RetryConfig) *rpcClient {
	client := resty.New().
		SetBaseURL(rpcURL).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTimeout(cfg.Timeout)
	return &rpcClient{client: client, cfg: cfg}
}

// ethCall issues a single eth_call and returns the hex result.
func (c *rpcClient) ethCall(ctx context.Context, to, data string) (string, error) {
	results, err := c.ethCallBatch(ctx, []ethCallRequest{{To: to, Data: data}})
	if err != nil {
		return "", err
	}
	if results[0].Err != nil {
		return "", results[0].Err
	}
	return results[0].Result, nil
}

// ethCallRequest is one call in a batch.
type ethCallRequest struct {
	To   string
	Data string
}

// ethCallResult pairs a batch entry with its outcome; per-entry errors do
// not fail the batch.
type ethCallResult struct {
	Result string
	Err    error
}

// ethCallBatch sends the calls as one JSON-RPC batch, retrying the whole
// batch on transport failure. Per-call errors are surfaced per entry so the
// caller can skip individual records.
func (c *rpcClient) ethCallBatch(ctx context.Context, calls []ethCallRequest) ([]ethCallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	reqs := make([]rpcRequest, len(calls))
	for i, call := range calls {
		reqs[i] = rpcRequest{
			JSONRPC: "2.0",
			ID:      i,
			Method:  "eth_call",
			Params:  []any{map[string]string{"to": call.To, "data": call.Data}, "latest"},
		}
	}

	var responses []rpcResponse
	delay := c.cfg.InitialRetryDelay
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.cfg.MaxRetryDelay {
				delay = c.cfg.MaxRetryDelay
			}
		}

		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(reqs).
			SetResult(&responses).
			Post("")
		if err != nil {
			lastErr = fmt.Errorf("rpc batch failed: %w", err)
			log.Warn().Err(err).Int("attempt", attempt).Int("batch_size", len(calls)).Msg("eth_call batch transport error")
			continue
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rpc rate limited (429)")
			log.Warn().Int("attempt", attempt).Msg("eth_call batch rate limited")
			delay = c.cfg.RateLimitRetryDelay << attempt
			if delay > c.cfg.MaxRetryDelay {
				delay = c.cfg.MaxRetryDelay
			}
			continue
		}
		if resp.IsError() {
			lastErr = fmt.Errorf("rpc batch returned status %d: %s", resp.StatusCode(), resp.String())
			log.Warn().Int("status", resp.StatusCode()).Int("attempt", attempt).Msg("eth_call batch non-2xx")
			continue
		}

		results := make([]ethCallResult, len(calls))
		for i := range results {
			results[i] = ethCallResult{Err: fmt.Errorf("missing response for call %d", i)}
		}
		for _, r := range responses {
			if r.ID < 0 || r.ID >= len(results) {
				continue
			}
			if r.Error != nil {
				results[r.ID] = ethCallResult{Err: fmt.Errorf("rpc error %d: %s", r.Error.Code, r.Error.Message)}
				continue
			}
			results[r.ID] = ethCallResult{Result: r.Result}
		}
		return results, nil
	}
	return nil, fmt.Errorf("eth_call batch exhausted %d retries: %w", c.cfg.MaxRetries, lastErr)
}
