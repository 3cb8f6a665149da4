package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// rewardsABI covers the single mutating method plus the view surface used
// for preflight diagnostics and the restart re-check.
const rewardsABI = `[
  {"type":"function","name":"distributeDailyRewards","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"canDistribute","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"lastDistributionTime","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"isActive","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"getRewardsPool","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]}
]`

// Contract is a thin binding over the rewards contract.
type Contract struct {
	addr common.Address
	abi  abi.ABI
}

func NewContract(addr common.Address) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(rewardsABI))
	if err != nil {
		return nil, fmt.Errorf("parse rewards abi: %w", err)
	}
	return &Contract{addr: addr, abi: parsed}, nil
}

func (c *Contract) Address() common.Address { return c.addr }

// DistributeCalldata encodes the distributeDailyRewards() call.
func (c *Contract) DistributeCalldata() []byte {
	// Zero-argument method; packing cannot fail once the ABI parsed.
	data, _ := c.abi.Pack("distributeDailyRewards")
	return data
}

// ErrNoCode means the configured address holds no contract: a deployment
// or configuration mistake, not a transient fault.
var ErrNoCode = errors.New("no contract code at address")

// VerifyDeployed checks that code exists at the contract address.
func (c *Contract) VerifyDeployed(ctx context.Context, backend Backend) error {
	code, err := backend.CodeAt(ctx, c.addr, nil)
	if err != nil {
		return fmt.Errorf("fetch code at %s: %w", c.addr.Hex(), err)
	}
	if len(code) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCode, c.addr.Hex())
	}
	return nil
}

// LastDistributionTime returns the contract's own record of the most
// recent distribution, as a unix timestamp.
func (c *Contract) LastDistributionTime(ctx context.Context, backend Backend) (*big.Int, error) {
	var out *big.Int
	if err := c.callView(ctx, backend, "lastDistributionTime", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CanDistribute reports whether the contract's eligibility window is open.
func (c *Contract) CanDistribute(ctx context.Context, backend Backend) (bool, error) {
	var out bool
	if err := c.callView(ctx, backend, "canDistribute", &out); err != nil {
		return false, err
	}
	return out, nil
}

// Paused reports the contract's pause switch.
func (c *Contract) Paused(ctx context.Context, backend Backend) (bool, error) {
	var out bool
	if err := c.callView(ctx, backend, "paused", &out); err != nil {
		return false, err
	}
	return out, nil
}

// IsActive reports the contract's active flag.
func (c *Contract) IsActive(ctx context.Context, backend Backend) (bool, error) {
	var out bool
	if err := c.callView(ctx, backend, "isActive", &out); err != nil {
		return false, err
	}
	return out, nil
}

// RewardsPool returns the remaining pool balance.
func (c *Contract) RewardsPool(ctx context.Context, backend Backend) (*big.Int, error) {
	var out *big.Int
	if err := c.callView(ctx, backend, "getRewardsPool", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Contract) callView(ctx context.Context, backend Backend, method string, out any) error {
	data, err := c.abi.Pack(method)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := backend.CallContract(ctx, ethereum.CallMsg{To: &c.addr, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := c.abi.Unpack(method, raw)
	if err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return fmt.Errorf("%s: expected one return value, got %d", method, len(vals))
	}
	switch p := out.(type) {
	case *bool:
		v, ok := vals[0].(bool)
		if !ok {
			return fmt.Errorf("%s: unexpected return type %T", method, vals[0])
		}
		*p = v
	case **big.Int:
		v, ok := vals[0].(*big.Int)
		if !ok {
			return fmt.Errorf("%s: unexpected return type %T", method, vals[0])
		}
		*p = v
	default:
		return fmt.Errorf("%s: unsupported output binding %T", method, out)
	}
	return nil
}
