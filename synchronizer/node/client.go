package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/wjorgensen/StreamDroplets/metrics"
	"github.com/wjorgensen/StreamDroplets/synchronizer/retry"
)

const (
	defaultDialTimeout    = 5 * time.Second
	defaultDialAttempts   = 5
	defaultRequestTimeout = 30 * time.Second
	defaultCallAttempts   = 5
)

// ErrContractNotDeployed is returned by CallContract when the target has no
// code at the requested height. It is never retried.
var ErrContractNotDeployed = errors.New("contract not deployed at block")

type EthClient interface {
	ChainID(ctx context.Context) (uint64, error)
	BlockHeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	LatestBlockHeader(ctx context.Context) (*types.Header, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	// SwitchToFallback moves all further calls to the fallback endpoint. It
	// returns false when there is no fallback or it is already active.
	SwitchToFallback(ctx context.Context) bool

	// Close closes the underlying RPC connection.
	// RPC close does not return any errors, but does shut down e.g. a websocket connection.
	Close()
}

type ClientConfig struct {
	Chain             string
	RPC               string
	FallbackRPC       string
	RequestsPerSecond float64
	Burst             int
}

type dialFn func(ctx context.Context, url string) (RPC, error)

type clnt struct {
	log     log.Logger
	cfg     ClientConfig
	metrics metrics.NodeMetricer
	limiter *rate.Limiter
	dial    dialFn

	attempts int
	strategy retry.Strategy

	mu          sync.Mutex
	rpc         RPC
	useFallback bool
}

// DialEthClient connects to cfg.RPC, or to cfg.FallbackRPC when the primary
// cannot be reached.
func DialEthClient(ctx context.Context, log log.Logger, cfg ClientConfig, m metrics.NodeMetricer) (EthClient, error) {
	dial := func(ctx context.Context, url string) (RPC, error) {
		ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
		rpcClient, err := retry.Do(ctx, defaultDialAttempts, retry.Exponential(), func() (*rpc.Client, error) {
			client, err := rpc.DialContext(ctx, url)
			if err != nil {
				return nil, fmt.Errorf("failed to dial address (%s): %w", cfg.Chain, err)
			}
			return client, nil
		})
		if err != nil {
			return nil, err
		}
		return NewRPC(rpcClient), nil
	}

	c := newClient(log, cfg, dial, m)
	primary, err := dial(ctx, cfg.RPC)
	if err == nil {
		c.rpc = primary
		return c, nil
	}
	if cfg.FallbackRPC == "" {
		return nil, err
	}
	c.log.Warn("primary rpc unavailable, dialing fallback", "err", err)
	fallback, ferr := dial(ctx, cfg.FallbackRPC)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	c.rpc = fallback
	c.useFallback = true
	m.RecordFallback()
	return c, nil
}

func newClient(log log.Logger, cfg ClientConfig, dial dialFn, m metrics.NodeMetricer) *clnt {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &clnt{
		log:      log.New("module", "node", "chain", cfg.Chain),
		cfg:      cfg,
		metrics:  m,
		limiter:  rate.NewLimiter(limit, burst),
		dial:     dial,
		attempts: defaultCallAttempts,
		strategy: retry.Exponential(),
	}
}

func (c *clnt) current() RPC {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpc
}

func (c *clnt) SwitchToFallback(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.useFallback || c.cfg.FallbackRPC == "" {
		return false
	}
	fallback, err := c.dial(ctx, c.cfg.FallbackRPC)
	if err != nil {
		c.log.Error("failed to dial fallback rpc", "err", err)
		return false
	}
	if c.rpc != nil {
		c.rpc.Close()
	}
	c.rpc = fallback
	c.useFallback = true
	c.metrics.RecordFallback()
	c.log.Warn("switched to fallback rpc")
	return true
}

// call runs fn against the active endpoint under the rate limit, retrying
// transient failures. Once retries are exhausted it switches to the fallback
// endpoint and tries exactly once more.
func (c *clnt) call(ctx context.Context, method string, fn func(ctx context.Context, rpc RPC) error) error {
	attempt := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		done := c.metrics.RecordRPCClientRequest(method)
		ctxwt, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
		err := fn(ctxwt, c.current())
		cancel()
		done(err)
		return err
	}

	err := retry.Do0(ctx, c.attempts, c.strategy, attempt)
	if err == nil || !retry.Exhausted(err) {
		return err
	}
	if !c.SwitchToFallback(ctx) {
		return err
	}
	c.log.Warn("retrying on fallback rpc", "method", method, "err", err)
	return attempt()
}

func (c *clnt) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	err := c.call(ctx, "eth_chainId", func(ctx context.Context, rpc RPC) error {
		return rpc.CallContext(ctx, &id, "eth_chainId")
	})
	return uint64(id), err
}

func (c *clnt) BlockHeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context, rpc RPC) error {
		if err := rpc.CallContext(ctx, &header, "eth_getBlockByNumber", toBlockNumArg(number), false); err != nil {
			return err
		}
		if header == nil {
			return retry.Permanent(ethereum.NotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

func (c *clnt) LatestBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.BlockHeaderByNumber(ctx, nil)
}

func (c *clnt) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	arg, err := toFilterArg(query)
	if err != nil {
		return nil, err
	}
	var logs []types.Log
	err = c.call(ctx, "eth_getLogs", func(ctx context.Context, rpc RPC) error {
		logs = nil
		return rpc.CallContext(ctx, &logs, "eth_getLogs", arg)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query logs: %w", err)
	}
	return logs, nil
}

// CallContract executes a message call transaction, which is directly executed in the VM
// of the node, but never mined into the blockchain.
//
// blockNumber selects the block height at which the call runs. It can be nil, in which
// case the code is taken from the latest known block. Note that state from very old
// blocks might not be available.
func (c *clnt) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var hex hexutil.Bytes
	err := c.call(ctx, "eth_call", func(ctx context.Context, rpc RPC) error {
		if err := rpc.CallContext(ctx, &hex, "eth_call", toCallArg(msg), toBlockNumArg(blockNumber)); err != nil {
			return err
		}
		if len(hex) == 0 {
			return retry.Permanent(ErrContractNotDeployed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hex, nil
}

func (c *clnt) Close() {
	if rpc := c.current(); rpc != nil {
		rpc.Close()
	}
}

type RPC interface {
	Close()
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

type rpcClient struct {
	rpc *rpc.Client
}

func NewRPC(client *rpc.Client) RPC {
	return &rpcClient{client}
}

func (c *rpcClient) Close() {
	c.rpc.Close()
}

func (c *rpcClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return c.rpc.CallContext(ctx, result, method, args...)
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	if number.Sign() >= 0 {
		return hexutil.EncodeBig(number)
	}
	return rpc.BlockNumber(number.Int64()).String()
}

func toFilterArg(q ethereum.FilterQuery) (interface{}, error) {
	arg := map[string]interface{}{"address": q.Addresses, "topics": q.Topics}
	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
		if q.FromBlock != nil || q.ToBlock != nil {
			return nil, errors.New("cannot specify both BlockHash and FromBlock/ToBlock")
		}
	} else {
		if q.FromBlock == nil {
			arg["fromBlock"] = "0x0"
		} else {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock)
		}
		arg["toBlock"] = toBlockNumArg(q.ToBlock)
	}
	return arg, nil
}

func toCallArg(msg ethereum.CallMsg) interface{} {
	arg := map[string]interface{}{
		"from": msg.From,
		"to":   msg.To,
	}
	if len(msg.Data) > 0 {
		arg["input"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}
	if msg.GasPrice != nil {
		arg["gasPrice"] = (*hexutil.Big)(msg.GasPrice)
	}
	return arg
}
