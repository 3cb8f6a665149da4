package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	logx "rewardsd/pkg/logx"
)

var ErrConfirmTimeout = errors.New("confirmation window elapsed")

// SubmitterConfig tunes the submission pipeline. Zero values fall back to
// network-appropriate defaults.
type SubmitterConfig struct {
	ChainID        uint64
	GasLimit       uint64   // fallback when estimation fails
	GasPriceWei    *big.Int // nil: use the network-suggested price
	Preflight      bool     // eth_call simulation before spending gas
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

func (c SubmitterConfig) withDefaults() SubmitterConfig {
	local := IsLocalDev(c.ChainID)
	if c.GasLimit == 0 {
		c.GasLimit = 500_000
	}
	if c.ConfirmTimeout <= 0 {
		if local {
			c.ConfirmTimeout = time.Minute
		} else {
			c.ConfirmTimeout = 5 * time.Minute
		}
	}
	if c.PollInterval <= 0 {
		if local {
			c.PollInterval = time.Second
		} else {
			c.PollInterval = 5 * time.Second
		}
	}
	return c
}

// Submitter builds, signs, broadcasts and confirms the daily distribution
// transaction. Broadcasts are serialized: the signer account must never
// have two of our transactions in flight (nonce conflicts).
type Submitter struct {
	mu sync.Mutex

	backend  Backend
	contract *Contract
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   types.Signer
	cfg      SubmitterConfig
	limiter  *rate.Limiter
	log      logx.Logger

	// pending is the last broadcast hash without a terminal receipt.
	// A later Submit resolves it before broadcasting anything new.
	pending common.Hash
}

func NewSubmitter(backend Backend, contract *Contract, key *ecdsa.PrivateKey, cfg SubmitterConfig, log logx.Logger) *Submitter {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Submitter{
		backend:  backend,
		contract: contract,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		signer:   types.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainID)),
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		log:      log,
	}
}

// From returns the signer account address.
func (s *Submitter) From() common.Address { return s.from }

// Submit runs one full attempt: resolve any prior in-flight transaction,
// preflight, price, broadcast, confirm. Exactly one terminal Outcome per
// call; never two unresolved transactions.
func (s *Submitter) Submit(ctx context.Context) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != (common.Hash{}) {
		out, resolved := s.resolvePending(ctx)
		if resolved {
			return out
		}
		// Prior broadcast is still unconfirmed. Re-broadcasting now could
		// land both; keep waiting on the original instead.
		return s.waitReceipt(ctx, s.pending)
	}

	calldata := s.contract.DistributeCalldata()
	msg := ethereum.CallMsg{From: s.from, To: &s.contract.addr, Data: calldata}

	if s.cfg.Preflight {
		if out, ok := s.preflight(ctx, msg); !ok {
			return out
		}
	}

	gasLimit, out, ok := s.gasLimit(ctx, msg)
	if !ok {
		return out
	}
	gasPrice := s.gasPrice(ctx)

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return Outcome{Status: StatusNetworkError, Err: fmt.Errorf("fetch nonce: %w", err)}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &s.contract.addr,
		Value:    new(big.Int),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return Outcome{Status: StatusNetworkError, Err: fmt.Errorf("sign transaction: %w", err)}
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		if isRevert(err) {
			return Outcome{Status: StatusReverted, Err: fmt.Errorf("broadcast rejected: %w", err)}
		}
		return Outcome{Status: StatusNetworkError, Err: fmt.Errorf("broadcast: %w", err)}
	}

	hash := signed.Hash()
	s.pending = hash
	s.log.Info("transaction broadcast",
		logx.String("tx", hash.Hex()),
		logx.Uint64("nonce", nonce),
		logx.Uint64("gas_limit", gasLimit),
		logx.String("gas_price_wei", gasPrice.String()),
	)

	return s.waitReceipt(ctx, hash)
}

// resolvePending checks whether the previous broadcast reached a terminal
// state while we were away (e.g. between a Timeout outcome and the retry).
func (s *Submitter) resolvePending(ctx context.Context) (Outcome, bool) {
	receipt, err := s.backend.TransactionReceipt(ctx, s.pending)
	switch {
	case err == nil:
		s.log.Info("prior in-flight transaction resolved", logx.String("tx", s.pending.Hex()))
		return s.classifyReceipt(receipt), true
	case errors.Is(err, ethereum.NotFound):
		return Outcome{}, false
	default:
		return Outcome{Status: StatusNetworkError, TxHash: s.pending.Hex(),
			Err: fmt.Errorf("re-check prior transaction: %w", err)}, true
	}
}

func (s *Submitter) preflight(ctx context.Context, msg ethereum.CallMsg) (Outcome, bool) {
	if _, err := s.backend.CallContract(ctx, msg, nil); err != nil {
		if isRevert(err) {
			if reason := revertReason(err); reason != "" {
				err = fmt.Errorf("preflight revert: %s", reason)
			} else {
				err = fmt.Errorf("preflight revert: %w", err)
			}
			return Outcome{Status: StatusReverted, Err: err}, false
		}
		return Outcome{Status: StatusNetworkError, Err: fmt.Errorf("preflight call: %w", err)}, false
	}
	return Outcome{}, true
}

func (s *Submitter) gasLimit(ctx context.Context, msg ethereum.CallMsg) (uint64, Outcome, bool) {
	est, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		if isRevert(err) {
			return 0, Outcome{Status: StatusReverted, Err: fmt.Errorf("gas estimation revert: %w", err)}, false
		}
		s.log.Warn("gas estimation failed, using configured limit",
			logx.Uint64("gas_limit", s.cfg.GasLimit), logx.Err(err))
		return s.cfg.GasLimit, Outcome{}, true
	}
	// Headroom over the estimate; local dev chains report less stable numbers.
	if IsLocalDev(s.cfg.ChainID) {
		est = est * 150 / 100
	} else {
		est = est * 120 / 100
	}
	return est, Outcome{}, true
}

var (
	gwei           = big.NewInt(1_000_000_000)
	localDevPrice  = new(big.Int).Mul(big.NewInt(20), gwei)
	fallbackPrice  = new(big.Int).Mul(big.NewInt(30), gwei)
	priceBumpNum   = big.NewInt(110)
	priceBumpDenom = big.NewInt(100)
)

// gasPrice resolves the price to bid: the configured value wins, otherwise
// the network suggestion with a 10% bump (capped on local dev chains), with
// a static fallback when the suggestion itself fails.
func (s *Submitter) gasPrice(ctx context.Context) *big.Int {
	if s.cfg.GasPriceWei != nil {
		return new(big.Int).Set(s.cfg.GasPriceWei)
	}
	suggested, err := s.backend.SuggestGasPrice(ctx)
	if err != nil || suggested == nil || suggested.Sign() <= 0 {
		s.log.Warn("gas price suggestion failed, using fallback", logx.Err(err))
		if IsLocalDev(s.cfg.ChainID) {
			return new(big.Int).Set(localDevPrice)
		}
		return new(big.Int).Set(fallbackPrice)
	}
	if IsLocalDev(s.cfg.ChainID) {
		if suggested.Cmp(localDevPrice) > 0 {
			return new(big.Int).Set(localDevPrice)
		}
		return suggested
	}
	bumped := new(big.Int).Mul(suggested, priceBumpNum)
	return bumped.Div(bumped, priceBumpDenom)
}

// waitReceipt polls for inclusion until the confirmation window elapses.
// Poll frequency is throttled so a flaky loop cannot hammer the endpoint.
func (s *Submitter) waitReceipt(ctx context.Context, hash common.Hash) Outcome {
	deadline := time.Now().Add(s.cfg.ConfirmTimeout)
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			// Shutdown with a transaction in flight: leave a trace so an
			// operator can check its fate out of band.
			s.log.Warn("shutdown while transaction in flight", logx.String("tx", hash.Hex()))
			return Outcome{Status: StatusTimeout, TxHash: hash.Hex(), Err: ctx.Err()}
		}

		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return s.classifyReceipt(receipt)
		case errors.Is(err, ethereum.NotFound):
			// Not included yet.
		case ctx.Err() != nil:
			s.log.Warn("shutdown while transaction in flight", logx.String("tx", hash.Hex()))
			return Outcome{Status: StatusTimeout, TxHash: hash.Hex(), Err: ctx.Err()}
		default:
			s.log.Debug("receipt poll failed, retrying", logx.String("tx", hash.Hex()), logx.Err(err))
		}

		if time.Now().After(deadline) {
			// The transaction may still land later; s.pending stays set so
			// the next Submit re-checks it before broadcasting again.
			return Outcome{Status: StatusTimeout, TxHash: hash.Hex(), Err: ErrConfirmTimeout}
		}
	}
}

func (s *Submitter) classifyReceipt(receipt *types.Receipt) Outcome {
	hash := receipt.TxHash.Hex()
	s.pending = common.Hash{}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return Outcome{Status: StatusConfirmed, TxHash: hash}
	}
	return Outcome{Status: StatusReverted, TxHash: hash,
		Err: fmt.Errorf("transaction reverted in block %s", receipt.BlockNumber)}
}

// isRevert distinguishes a contract-side rejection from infrastructure
// failures. RPC errors carrying revert data implement rpc.DataError.
func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var de rpc.DataError
	if errors.As(err, &de) && de.ErrorData() != nil {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}

// revertReason extracts a human-readable message from Error(string) revert
// data when the node provides it.
func revertReason(err error) string {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return ""
	}
	data, ok := de.ErrorData().(string)
	if !ok {
		return ""
	}
	raw, decErr := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if decErr != nil || len(raw) < 4 {
		return ""
	}
	// Error(string) selector.
	if raw[0] != 0x08 || raw[1] != 0xc3 || raw[2] != 0x79 || raw[3] != 0xa0 {
		return ""
	}
	reason, unpackErr := abiUnpackRevert(raw[4:])
	if unpackErr != nil {
		return ""
	}
	return reason
}

func abiUnpackRevert(data []byte) (string, error) {
	if len(data) < 64 {
		return "", errors.New("revert data too short")
	}
	// Offset and length words are attacker-controlled; guard against
	// overflow before slicing.
	offset := new(big.Int).SetBytes(data[:32])
	if !offset.IsUint64() || offset.Uint64() > uint64(len(data))-32 {
		return "", errors.New("bad revert offset")
	}
	off := offset.Uint64()
	length := new(big.Int).SetBytes(data[off : off+32])
	if !length.IsUint64() || length.Uint64() > uint64(len(data))-32-off {
		return "", errors.New("bad revert length")
	}
	return string(data[off+32 : off+32+length.Uint64()]), nil
}
