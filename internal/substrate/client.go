package substrate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tensorliq/lpvalidator/internal/signature"
)

const (
	healthCheckInterval    = 30 * time.Second
	maxReconnectAttempts   = 8
	reconnectBaseDelay     = 1 * time.Second
	reconnectMaxDelay      = 2 * time.Minute
	defaultHotkeyBatchSize = 16
)

// fixedPointScale preserves precision when dividing planck amounts before
// the final float conversion.
var fixedPointScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Client talks to the subtensor access point. It is a process-wide
// singleton: only the orchestrator mutates the connection, concurrent
// read-only queries are allowed.
type Client struct {
	mu       sync.Mutex
	state    atomic.Int32
	endpoint string
	baseURL  string
	http     *retryablehttp.Client
	signer   signature.Signer

	hotkeyBatchSize int
	hotkeysCacheTTL time.Duration

	cacheMu       sync.Mutex
	hotkeysCache  map[int]map[string]uint16
	hotkeysCached map[int]time.Time

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

var (
	sharedMu     sync.Mutex
	sharedClient *Client
)

// Options tune client behavior beyond the endpoint.
type Options struct {
	HotkeyBatchSize int
	HotkeysCacheTTL time.Duration
	Timeout         time.Duration
}

// Initialize returns the process-wide client connected to the endpoint,
// creating it on first call. Calling again with the same endpoint is a
// no-op; a mismatched endpoint tears the client down and reconnects.
func Initialize(endpoint string, signer signature.Signer, opts Options) (*Client, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedClient != nil {
		if sharedClient.endpoint == endpoint && sharedClient.CurrentState() != StateClosed {
			return sharedClient, nil
		}
		log.Info().Str("old", sharedClient.endpoint).Str("new", endpoint).Msg("endpoint changed, reconnecting substrate client")
		sharedClient.Close()
		sharedClient = nil
	}

	c, err := New(endpoint, signer, opts)
	if err != nil {
		return nil, err
	}
	sharedClient = c
	return c, nil
}

// Shared returns the initialized process-wide client, or nil before
// Initialize has been called.
func Shared() *Client {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return sharedClient
}

// New constructs a standalone client. Most callers want Initialize, which
// maintains the process-wide instance.
func New(endpoint string, signer signature.Signer, opts Options) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("substrate endpoint cannot be empty")
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 5
	httpClient.HTTPClient.Timeout = 30 * time.Second
	if opts.Timeout > 0 {
		httpClient.HTTPClient.Timeout = opts.Timeout
	}
	httpClient.RetryWaitMin = 500 * time.Millisecond
	httpClient.RetryWaitMax = 20 * time.Second
	httpClient.Logger = nil

	batch := opts.HotkeyBatchSize
	if batch <= 0 {
		batch = defaultHotkeyBatchSize
	}

	c := &Client{
		endpoint:        endpoint,
		baseURL:         httpBaseURL(endpoint),
		http:            httpClient,
		signer:          signer,
		hotkeyBatchSize: batch,
		hotkeysCacheTTL: opts.HotkeysCacheTTL,
		hotkeysCache:    make(map[int]map[string]uint16),
		hotkeysCached:   make(map[int]time.Time),
		healthDone:      make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	if err := c.ping(context.Background()); err != nil {
		c.state.Store(int32(StateClosed))
		return nil, fmt.Errorf("initial connection to %s failed: %w", endpoint, err)
	}
	c.state.Store(int32(StateReady))
	log.Info().Str("endpoint", endpoint).Msg("substrate client connected")

	healthCtx, cancel := context.WithCancel(context.Background())
	c.healthCancel = cancel
	go c.healthLoop(healthCtx)

	return c, nil
}

// httpBaseURL maps the configured websocket endpoint to the HTTP access
// point serving the same node.
func httpBaseURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "wss://"):
		return "https://" + strings.TrimPrefix(endpoint, "wss://")
	case strings.HasPrefix(endpoint, "ws://"):
		return "http://" + strings.TrimPrefix(endpoint, "ws://")
	}
	return strings.TrimSuffix(endpoint, "/")
}

// CurrentState reports the connection lifecycle state.
func (c *Client) CurrentState() State {
	return State(c.state.Load())
}

// Close stops the health check and marks the client closed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if State(c.state.Load()) == StateClosed {
		return
	}
	if c.healthCancel != nil {
		c.healthCancel()
		<-c.healthDone
	}
	c.state.Store(int32(StateClosed))
	log.Info().Str("endpoint", c.endpoint).Msg("substrate client closed")
}

func (c *Client) healthLoop(ctx context.Context) {
	defer close(c.healthDone)
	t := time.NewTicker(healthCheckInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.ping(ctx); err != nil {
				log.Warn().Err(err).Msg("substrate health check failed, reconnecting")
				c.reconnect(ctx)
			}
		}
	}
}

func (c *Client) ping(ctx context.Context) error {
	_, err := c.CurrentBlockNumber(ctx)
	return err
}

// reconnect retries the connection with exponential backoff up to a bounded
// attempt count. The client stays usable between attempts; queries simply
// fail until the chain is reachable again.
func (c *Client) reconnect(ctx context.Context) {
	c.state.Store(int32(StateReconnecting))
	delay := reconnectBaseDelay
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := c.ping(ctx); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("substrate reconnect attempt failed")
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}
		c.state.Store(int32(StateReady))
		log.Info().Int("attempt", attempt).Msg("substrate client reconnected")
		return
	}
	log.Error().Int("attempts", maxReconnectAttempts).Msg("substrate reconnect attempts exhausted, staying in reconnecting state")
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := sonic.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return respBody, nil
}

func request[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T
	respBody, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return zero, err
	}
	var result Response[T]
	if err := sonic.Unmarshal(respBody, &result); err != nil {
		return zero, fmt.Errorf("failed to parse response: %w", err)
	}
	if !result.Success || result.Error != nil {
		return zero, fmt.Errorf("%s %s returned error: %v", method, path, result.Error)
	}
	return result.Data, nil
}

// CurrentBlockNumber returns the chain head height; it doubles as the
// version key for weight submission.
func (c *Client) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	block, err := request[LatestBlock](ctx, c, "GET", "/chain/latest-block", nil)
	if err != nil {
		return 0, err
	}
	return block.BlockNumber, nil
}

// SubnetSize returns the number of registered UIDs on the subnet.
func (c *Client) SubnetSize(ctx context.Context, netuid int) (int, error) {
	size, err := request[SubnetSize](ctx, c, "GET", fmt.Sprintf("/chain/subnet-size/%d", netuid), nil)
	if err != nil {
		return 0, err
	}
	return size.NumUids, nil
}

// HotkeyToUID returns the hotkey→uid bijection for the subnet, paginated
// over the subnet size with a fixed concurrent window. Per-UID failures are
// logged and skipped; the call fails only when every lookup fails.
func (c *Client) HotkeyToUID(ctx context.Context, netuid int) (map[string]uint16, error) {
	if cached := c.cachedHotkeys(netuid); cached != nil {
		return cached, nil
	}

	n, err := c.SubnetSize(ctx, netuid)
	if err != nil {
		return nil, fmt.Errorf("failed to read subnet size: %w", err)
	}
	if n == 0 {
		return map[string]uint16{}, nil
	}

	var mu sync.Mutex
	result := make(map[string]uint16, n)
	var failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.hotkeyBatchSize)
	for uid := 0; uid < n; uid++ {
		g.Go(func() error {
			entry, err := request[UIDHotkey](gctx, c, "GET", fmt.Sprintf("/chain/uid-hotkey/%d/%d", netuid, uid), nil)
			if err != nil {
				log.Warn().Err(err).Int("netuid", netuid).Int("uid", uid).Msg("hotkey lookup failed, skipping uid")
				failures.Add(1)
				return nil
			}
			mu.Lock()
			result[entry.Hotkey] = entry.UID
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if int(failures.Load()) == n {
		return nil, fmt.Errorf("all %d hotkey lookups failed on netuid %d", n, netuid)
	}

	c.storeHotkeys(netuid, result)
	return result, nil
}

func (c *Client) cachedHotkeys(netuid int) map[string]uint16 {
	if c.hotkeysCacheTTL <= 0 {
		return nil
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	at, ok := c.hotkeysCached[netuid]
	if !ok || time.Since(at) > c.hotkeysCacheTTL {
		return nil
	}
	cached := make(map[string]uint16, len(c.hotkeysCache[netuid]))
	for k, v := range c.hotkeysCache[netuid] {
		cached[k] = v
	}
	return cached
}

func (c *Client) storeHotkeys(netuid int, m map[string]uint16) {
	if c.hotkeysCacheTTL <= 0 {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	stored := make(map[string]uint16, len(m))
	for k, v := range m {
		stored[k] = v
	}
	c.hotkeysCache[netuid] = stored
	c.hotkeysCached[netuid] = time.Now()
}

// SubnetAlphaPrices returns the alpha token price per subnet, computed as
// taoIn/alphaIn with 18-decimal fixed-point scaling before the float
// conversion. A subnet with alphaIn of zero prices at zero.
func (c *Client) SubnetAlphaPrices(ctx context.Context, netuids []int) (map[int]float64, error) {
	body := map[string]any{"netuids": netuids}
	entries, err := request[[]AlphaPriceEntry](ctx, c, "POST", "/chain/subnet-alpha-prices", body)
	if err != nil {
		return nil, err
	}

	prices := make(map[int]float64, len(entries))
	for _, e := range entries {
		price, err := alphaPrice(e.TaoIn, e.AlphaIn)
		if err != nil {
			log.Warn().Err(err).Int("netuid", e.Netuid).Msg("skipping malformed alpha price entry")
			continue
		}
		prices[e.Netuid] = price
	}
	return prices, nil
}

func alphaPrice(taoIn, alphaIn string) (float64, error) {
	tao, ok := new(big.Int).SetString(taoIn, 10)
	if !ok {
		return 0, fmt.Errorf("invalid taoIn %q", taoIn)
	}
	alpha, ok := new(big.Int).SetString(alphaIn, 10)
	if !ok {
		return 0, fmt.Errorf("invalid alphaIn %q", alphaIn)
	}
	if alpha.Sign() == 0 {
		return 0, nil
	}
	scaled := new(big.Int).Mul(tao, fixedPointScale)
	scaled.Quo(scaled, alpha)
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(scaled), new(big.Float).SetInt(fixedPointScale)).Float64()
	return f, nil
}

// SubmitSetWeights signs and submits the set_weights extrinsic, returning
// the extrinsic hash.
func (c *Client) SubmitSetWeights(ctx context.Context, netuid int, uids, weights []uint16, versionKey uint64) (string, error) {
	if len(uids) != len(weights) {
		return "", fmt.Errorf("uids and weights must have the same length, got %d and %d", len(uids), len(weights))
	}
	if c.signer == nil {
		return "", fmt.Errorf("no signer configured")
	}

	params := SetWeightsParams{
		Netuid:     netuid,
		Dests:      uids,
		Weights:    weights,
		VersionKey: versionKey,
		Hotkey:     c.signer.Address(),
	}
	payload, err := sonic.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal set-weights payload: %w", err)
	}
	sig, err := c.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign set-weights payload: %w", err)
	}
	params.Signature = sig

	txHash, err := request[string](ctx, c, "POST", "/chain/set-weights", params)
	if err != nil {
		return "", err
	}
	log.Info().Str("tx_hash", txHash).Int("netuid", netuid).Uint64("version_key", versionKey).Int("num_weights", len(weights)).Msg("set_weights submitted")
	return txHash, nil
}
