package gateway

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LogRecord is a decoded chain log, restartable-subscription friendly:
// it carries everything the Ingestor needs to key, order and route the
// event without re-touching the gateway.
type LogRecord struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	BlockTime   time.Time
	Contract    common.Address
	Topic0      common.Hash
	EventName   string
	Data        []byte
	Decoded     map[string]any
}

// Key returns the (tx_hash, log_index) dedup/ordering key.
func (l LogRecord) Key() DedupKey { return DedupKey{TxHash: l.TxHash, LogIndex: l.LogIndex} }

// DedupKey identifies a single log uniquely and permanently.
type DedupKey struct {
	TxHash   common.Hash
	LogIndex uint
}

// TxReceipt mirrors the teacher's string-field receipt shape (gas
// figures kept as decimal/hex strings so they round-trip through JSON
// and the audit log without precision loss).
type TxReceipt struct {
	TxHash            common.Hash
	BlockNumber       string
	GasUsed           string
	EffectiveGasPrice string
	Status            string // "0x1" success, "0x0" failed
}

// Succeeded reports whether the receipt status indicates success.
func (r TxReceipt) Succeeded() bool { return r.Status == "0x1" }

// SignerRole is one of the three roles the writes in SPEC_FULL.md §6
// require.
type SignerRole string

const (
	RoleAdmin       SignerRole = "ADMIN"
	RoleVIPApprover SignerRole = "VIP_APPROVER"
	RoleRebalancer  SignerRole = "REBALANCER"
)

// SendConstraints bounds a single Send call; enforced by the key
// service, not locally, but passed through so the gateway can give a
// precise ErrRejectedByPolicy message.
type SendConstraints struct {
	SignerRole    SignerRole
	PerTxCap      *big.Int
	DailyCap      *big.Int
	Confirmations uint64 // blocks of confirmation required before Send returns
}

// SimResult is the outcome of a dry-run call against latest (or a
// historical) state.
type SimResult struct {
	Reverted     bool
	RevertReason string
	Outputs      []any
	GasEstimate  uint64
	// OutputAmount is the first output decoded as a uint256, when the
	// simulated method's ABI returns one — the vault's tier-movement
	// methods all return the actual amount moved, which callers compare
	// against their requested amount to gate on slippage.
	OutputAmount *big.Int
}
