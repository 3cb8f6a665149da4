package chain

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func testContract(t *testing.T) *Contract {
	t.Helper()
	c, err := NewContract(common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	if err != nil {
		t.Fatalf("NewContract: %v", err)
	}
	return c
}

func TestDistributeCalldataSelector(t *testing.T) {
	t.Parallel()
	c := testContract(t)
	data := c.DistributeCalldata()
	if len(data) != 4 {
		t.Fatalf("zero-argument call should be selector only, got %d bytes", len(data))
	}
	want := crypto.Keccak256([]byte("distributeDailyRewards()"))[:4]
	if !bytes.Equal(data, want) {
		t.Fatalf("selector = %x, want %x", data, want)
	}
}

func TestViewCalls(t *testing.T) {
	t.Parallel()
	c := testContract(t)
	backend := newFakeBackend()

	// bool true, abi-encoded.
	boolWord := make([]byte, 32)
	boolWord[31] = 1
	backend.callResult = boolWord

	ok, err := c.CanDistribute(context.Background(), backend)
	if err != nil {
		t.Fatalf("CanDistribute: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}

	// uint256 timestamp.
	ts := big.NewInt(1_767_225_600)
	word := make([]byte, 32)
	ts.FillBytes(word)
	backend.callResult = word

	got, err := c.LastDistributionTime(context.Background(), backend)
	if err != nil {
		t.Fatalf("LastDistributionTime: %v", err)
	}
	if got.Cmp(ts) != 0 {
		t.Fatalf("lastDistributionTime = %s, want %s", got, ts)
	}
}

func TestVerifyDeployedNoCode(t *testing.T) {
	t.Parallel()
	c := testContract(t)
	backend := newFakeBackend()
	backend.code = nil

	err := c.VerifyDeployed(context.Background(), backend)
	if err == nil {
		t.Fatal("expected error for empty code")
	}
}
