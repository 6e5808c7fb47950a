package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// TxListener waits for a submitted transaction to reach the configured
// confirmation depth, generalized from the teacher's pkg/txlistener.
type TxListener interface {
	WaitForTransaction(ctx context.Context, txHash common.Hash, confirmations uint64) (*TxReceipt, error)
}

type pollingTxListener struct {
	client       *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// TxListenerOption configures a pollingTxListener, mirroring the
// teacher's functional-option pattern (WithPollInterval, WithTimeout).
type TxListenerOption func(*pollingTxListener)

// WithPollInterval sets the receipt-polling interval (default 3s, the
// Ingestor's own default poll cadence per SPEC_FULL.md §4.2).
func WithPollInterval(d time.Duration) TxListenerOption {
	return func(l *pollingTxListener) { l.pollInterval = d }
}

// WithTimeout bounds how long WaitForTransaction will poll before
// returning ErrSendTimeout.
func WithTimeout(d time.Duration) TxListenerOption {
	return func(l *pollingTxListener) { l.timeout = d }
}

// NewTxListener constructs a TxListener over client, matching the
// teacher's pkg/txlistener.NewTxListener signature.
func NewTxListener(client *ethclient.Client, opts ...TxListenerOption) TxListener {
	l := &pollingTxListener{client: client, pollInterval: 3 * time.Second, timeout: 5 * time.Minute}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *pollingTxListener) WaitForTransaction(ctx context.Context, txHash common.Hash, confirmations uint64) (*TxReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if confirmations > 0 {
				head, herr := l.client.BlockNumber(ctx)
				if herr != nil {
					return nil, classifyRPCError(herr)
				}
				if head < receipt.BlockNumber.Uint64()+confirmations {
					break // not yet confirmed to depth; keep polling
				}
			}
			tr := &TxReceipt{
				TxHash:            txHash,
				BlockNumber:       fmt.Sprintf("0x%x", receipt.BlockNumber),
				GasUsed:           fmt.Sprintf("0x%x", receipt.GasUsed),
				EffectiveGasPrice: effectiveGasPriceHex(receipt),
				Status:            fmt.Sprintf("0x%x", receipt.Status),
			}
			if !tr.Succeeded() {
				return tr, errors.Wrap(ErrReceiptFailed, txHash.Hex())
			}
			return tr, nil
		case errors.Is(err, ethereum.NotFound):
			// not yet mined; keep polling
		default:
			return nil, classifyRPCError(err)
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ErrSendTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}

func effectiveGasPriceHex(receipt *types.Receipt) string {
	if receipt.EffectiveGasPrice == nil {
		return "0x0"
	}
	return fmt.Sprintf("0x%x", receipt.EffectiveGasPrice)
}
