// Package evm provides read-only wallet tools for the configured account on
// EVM chains.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// SupportedChains lists the chain ids the kit accepts.
var SupportedChains = map[int64]string{
	1:     "ethereum",
	10:    "optimism",
	56:    "bsc",
	100:   "gnosis",
	137:   "polygon",
	8453:  "base",
	42161: "arbitrum",
	43114: "avalanche",
}

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// Backend is the subset of the RPC client the kit needs. *ethclient.Client
// implements it.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config configures the kit.
type Config struct {
	// Address is the account the tools report on.
	Address string `yaml:"address"`
	// RPC maps chain ids to RPC endpoints.
	RPC map[int64]string `yaml:"rpc"`
}

// Kit reads balances and allowances of one account.
type Kit struct {
	address common.Address
	rpc     map[int64]string
	erc20   abi.ABI
	dial    func(ctx context.Context, url string) (Backend, error)

	mu       sync.Mutex
	backends map[int64]Backend
}

// NewKit validates cfg. RPC connections are opened lazily per chain.
func NewKit(cfg Config) (*Kit, error) {
	if !common.IsHexAddress(cfg.Address) {
		return nil, fmt.Errorf("invalid account address %q", cfg.Address)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	rpc := make(map[int64]string, len(cfg.RPC))
	for id, url := range cfg.RPC {
		if _, ok := SupportedChains[id]; !ok {
			return nil, fmt.Errorf("unsupported chain id %d", id)
		}
		rpc[id] = url
	}
	return &Kit{
		address:  common.HexToAddress(cfg.Address),
		rpc:      rpc,
		erc20:    parsed,
		dial:     dialEthclient,
		backends: make(map[int64]Backend),
	}, nil
}

func dialEthclient(ctx context.Context, url string) (Backend, error) {
	return ethclient.DialContext(ctx, url)
}

// WithBackend pins the backend used for chainID, bypassing dialing.
func (k *Kit) WithBackend(chainID int64, b Backend) *Kit {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.backends[chainID] = b
	return k
}

// Address returns the checksummed account address.
func (k *Kit) Address() string { return k.address.Hex() }

// Chains returns the configured chain ids in ascending order.
func (k *Kit) Chains() []int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	seen := map[int64]bool{}
	for id := range k.rpc {
		seen[id] = true
	}
	for id := range k.backends {
		seen[id] = true
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (k *Kit) backend(ctx context.Context, chainID int64) (Backend, error) {
	if _, ok := SupportedChains[chainID]; !ok {
		return nil, fmt.Errorf("unsupported chain id %d", chainID)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if b, ok := k.backends[chainID]; ok {
		return b, nil
	}
	url, ok := k.rpc[chainID]
	if !ok || url == "" {
		return nil, fmt.Errorf("no rpc url configured for chain %d", chainID)
	}
	b, err := k.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
	}
	k.backends[chainID] = b
	return b, nil
}

// NativeBalance returns the native balance in wei.
func (k *Kit) NativeBalance(ctx context.Context, chainID int64) (*big.Int, error) {
	b, err := k.backend(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return b.BalanceAt(ctx, k.address, nil)
}

// ERC20Balance returns the token balance in base units.
func (k *Kit) ERC20Balance(ctx context.Context, chainID int64, token string) (*big.Int, error) {
	tokenAddr, err := parseAddress("token", token)
	if err != nil {
		return nil, err
	}
	return k.callUint(ctx, chainID, tokenAddr, "balanceOf", k.address)
}

// Allowance returns how much spender may transfer of token on behalf of the
// account, in base units.
func (k *Kit) Allowance(ctx context.Context, chainID int64, token, spender string) (*big.Int, error) {
	tokenAddr, err := parseAddress("token", token)
	if err != nil {
		return nil, err
	}
	spenderAddr, err := parseAddress("spender", spender)
	if err != nil {
		return nil, err
	}
	return k.callUint(ctx, chainID, tokenAddr, "allowance", k.address, spenderAddr)
}

func (k *Kit) callUint(ctx context.Context, chainID int64, contract common.Address, method string, args ...any) (*big.Int, error) {
	b, err := k.backend(ctx, chainID)
	if err != nil {
		return nil, err
	}
	data, err := k.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := b.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, contract.Hex(), err)
	}
	values, err := k.erc20.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s result", method)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return v, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// Close releases dialed connections.
func (k *Kit) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for id, b := range k.backends {
		if c, ok := b.(*ethclient.Client); ok {
			c.Close()
		}
		delete(k.backends, id)
	}
}
