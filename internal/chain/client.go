package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the slice of the JSON-RPC client the submitter needs.
// *ethclient.Client satisfies it; tests substitute a scripted fake.
type Backend interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ErrChainMismatch marks a misconfigured endpoint/chain-id pair. Unlike
// connectivity failures it cannot heal on its own, so the caller treats it
// as a configuration error.
var ErrChainMismatch = errors.New("chain id mismatch")

// Dial connects to the RPC endpoint and verifies it reports the expected
// chain ID, so a mispointed endpoint fails at startup instead of at the
// first fire.
func Dial(ctx context.Context, rawurl string, wantChainID uint64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	got, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if got.Uint64() != wantChainID {
		client.Close()
		return nil, fmt.Errorf("%w: endpoint reports %s, configured %d", ErrChainMismatch, got, wantChainID)
	}
	return client, nil
}

// localDevChainIDs are throwaway development networks where gas handling
// is relaxed (bigger estimate buffer, capped price).
var localDevChainIDs = map[uint64]bool{
	1337:  true,
	31337: true,
	1338:  true,
	5777:  true,
}

// IsLocalDev reports whether chainID belongs to a local development network.
func IsLocalDev(chainID uint64) bool { return localDevChainIDs[chainID] }
