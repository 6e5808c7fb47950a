// Package gateway implements the Chain Gateway (SPEC_FULL.md §3 of
// SPEC_FULL, §4.1 of spec.md): a typed read/write facade over RPC/WS,
// generalized from the teacher's pkg/contractclient + pkg/txlistener
// pair to the fund's full event and method surface.
package gateway

import (
	"context"
	"math/big"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// DefaultConfirmations is the ingestor's default confirmation depth
// (SPEC_FULL.md §4.2).
const DefaultConfirmations = 15

// Gateway is the fund's single chain access point. Every component
// (Ingestor, Approval Engine result processor, Rebalance executor,
// Risk Engine emergency driver) goes through it rather than touching
// ethclient directly — matching how the teacher's Blackhole type is
// the sole owner of its ContractClient map.
type Gateway struct {
	client     *ethclient.Client
	contracts  map[common.Address]ContractClient
	listener   TxListener
	keyService KeyService

	sendMu   sync.Mutex
	perPairMu map[pairKey]*sync.Mutex
}

type pairKey struct {
	contract common.Address
	signer   string
}

// NewGateway constructs a Gateway over an already-dialed client.
func NewGateway(client *ethclient.Client, listener TxListener, keyService KeyService) *Gateway {
	return &Gateway{
		client:     client,
		contracts:  make(map[common.Address]ContractClient),
		listener:   listener,
		keyService: keyService,
		perPairMu:  make(map[pairKey]*sync.Mutex),
	}
}

// RegisterContract binds address to a ContractClient built from its ABI,
// the same shape as the teacher's ccm (ContractClientMap).
func (g *Gateway) RegisterContract(address common.Address, cc ContractClient) {
	g.contracts[address] = cc
}

func (g *Gateway) clientFor(address common.Address) (ContractClient, error) {
	cc, ok := g.contracts[address]
	if !ok {
		return nil, errors.Errorf("no contract client registered for %s", address.Hex())
	}
	return cc, nil
}

// Call performs a read-only contract call, optionally against a
// historical block (nil means latest).
func (g *Gateway) Call(ctx context.Context, contract common.Address, method string, block *big.Int, args ...any) ([]any, error) {
	cc, err := g.clientFor(contract)
	if err != nil {
		return nil, err
	}
	return cc.Call(ctx, nil, block, method, args...)
}

// Simulate dry-runs method against latest (or a given historical) state
// and reports whether it would revert, per SPEC_FULL.md §3's required
// simulate primitive.
func (g *Gateway) Simulate(ctx context.Context, contract common.Address, method string, block *big.Int, args ...any) (SimResult, error) {
	cc, err := g.clientFor(contract)
	if err != nil {
		return SimResult{}, err
	}

	outputs, callErr := cc.Call(ctx, nil, block, method, args...)
	if callErr == nil {
		gas, gasErr := cc.EstimateGas(ctx, common.Address{}, method, args...)
		if gasErr != nil {
			gas = 0
		}
		var outputAmount *big.Int
		if len(outputs) > 0 {
			if amt, ok := outputs[0].(*big.Int); ok {
				outputAmount = amt
			}
		}
		return SimResult{Outputs: outputs, GasEstimate: gas, OutputAmount: outputAmount}, nil
	}

	if errors.Is(callErr, ErrTransientRPC) {
		return SimResult{}, callErr
	}
	return SimResult{Reverted: true, RevertReason: callErr.Error()}, nil
}

// Send builds, authorizes (via KeyService) and broadcasts a write,
// waiting for constraints.Confirmations before returning, per
// SPEC_FULL.md §3 / spec.md §4.1. Sends for a given (contract, signer)
// pair are serialized to avoid nonce conflicts (spec.md §5).
func (g *Gateway) Send(ctx context.Context, contract common.Address, method, signerID string, constraints SendConstraints, args ...any) (common.Hash, *TxReceipt, error) {
	cc, err := g.clientFor(contract)
	if err != nil {
		return common.Hash{}, nil, err
	}

	mu := g.pairLock(contract, signerID)
	mu.Lock()
	defer mu.Unlock()

	data, err := cc.BuildCallData(method, args...)
	if err != nil {
		return common.Hash{}, nil, err
	}

	nonce, err := g.nextNonce(ctx, signerID)
	if err != nil {
		return common.Hash{}, nil, err
	}

	gasPrice, err := g.suggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, nil, err
	}

	gasLimit, err := cc.EstimateGas(ctx, common.Address{}, method, args...)
	if err != nil {
		gasLimit = 500_000 // conservative fallback; the signer policy still caps value, not gas
	}

	unsigned := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)

	signed, err := g.keyService.Authorize(ctx, signerID, constraints.SignerRole, unsigned, constraints)
	if err != nil {
		return common.Hash{}, nil, err
	}

	if err := g.sendWithRetry(ctx, signed); err != nil {
		return common.Hash{}, nil, err
	}

	confirmations := constraints.Confirmations
	if confirmations == 0 {
		confirmations = DefaultConfirmations
	}
	receipt, err := g.listener.WaitForTransaction(ctx, signed.Hash(), confirmations)
	return signed.Hash(), receipt, err
}

func (g *Gateway) sendWithRetry(ctx context.Context, tx *types.Transaction) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 10), ctx)
	return backoff.Retry(func() error {
		err := g.client.SendTransaction(ctx, tx)
		if err == nil {
			return nil
		}
		wrapped := classifyRPCError(err)
		if !IsTransient(wrapped) {
			return backoff.Permanent(wrapped)
		}
		gethlog.Warn("retrying transaction send", "hash", tx.Hash().Hex(), "err", err)
		return wrapped
	}, policy)
}

func (g *Gateway) nextNonce(ctx context.Context, signerID string) (uint64, error) {
	// The signer's own address is resolved by the key service in a real
	// deployment; here the gateway asks the node for the pending nonce
	// of whichever address last signed for this signerID is out of
	// scope for this facade, so callers that need a specific nonce
	// source should supply it through their own KeyService. The
	// fallback below uses the node's suggestion for signerID as an
	// address when it parses as one (dev/test convenience only).
	if common.IsHexAddress(signerID) {
		n, err := g.client.PendingNonceAt(ctx, common.HexToAddress(signerID))
		if err != nil {
			return 0, classifyRPCError(err)
		}
		return n, nil
	}
	return 0, nil
}

func (g *Gateway) suggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classifyRPCError(err)
	}
	return price, nil
}

func (g *Gateway) pairLock(contract common.Address, signer string) *sync.Mutex {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	key := pairKey{contract: contract, signer: signer}
	if _, ok := g.perPairMu[key]; !ok {
		g.perPairMu[key] = &sync.Mutex{}
	}
	return g.perPairMu[key]
}

// SubscribeLogs opens an unbounded, lazy, restartable log subscription
// over WebSocket, decoding each log against decoders keyed by contract
// address. It is an optimization only: correctness relies on the
// polling fallback in GetLogs (spec.md §4.2 step 2).
func (g *Gateway) SubscribeLogs(ctx context.Context, contracts []common.Address, fromBlock uint64, decoders map[common.Address]EventDecoder) (<-chan LogRecord, <-chan error) {
	out := make(chan LogRecord, 256)
	errs := make(chan error, 1)

	query := ethereum.FilterQuery{FromBlock: big.NewInt(int64(fromBlock)), Addresses: contracts}
	raw := make(chan types.Log, 256)

	sub, err := g.client.SubscribeFilterLogs(ctx, query, raw)
	if err != nil {
		errs <- classifyRPCError(err)
		close(out)
		close(errs)
		return out, errs
	}

	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case err := <-sub.Err():
				errs <- err
				return
			case l := <-raw:
				rec, decodeErr := decodeLog(l, decoders)
				if decodeErr != nil {
					gethlog.Warn("skipping undecodable log", "tx", l.TxHash.Hex(), "err", decodeErr)
					continue
				}
				out <- rec
			}
		}
	}()

	return out, errs
}

// GetLogs batch-fetches a block range, the polling fallback that the
// ingestor relies on for correctness.
func (g *Gateway) GetLogs(ctx context.Context, contracts []common.Address, fromBlock, toBlock uint64, decoders map[common.Address]EventDecoder) ([]LogRecord, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(fromBlock)),
		ToBlock:   big.NewInt(int64(toBlock)),
		Addresses: contracts,
	}
	logs, err := g.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, classifyRPCError(err)
	}

	records := make([]LogRecord, 0, len(logs))
	for _, l := range logs {
		rec, decodeErr := decodeLog(l, decoders)
		if decodeErr != nil {
			gethlog.Warn("skipping undecodable log", "tx", l.TxHash.Hex(), "err", decodeErr)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// HeadBlock returns the chain's current head block number.
func (g *Gateway) HeadBlock(ctx context.Context) (uint64, error) {
	n, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, classifyRPCError(err)
	}
	return n, nil
}

// BlockHashAt returns the canonical block hash at number, used by the
// Ingestor's reorg check (spec.md §4.2).
func (g *Gateway) BlockHashAt(ctx context.Context, number uint64) (common.Hash, error) {
	header, err := g.client.HeaderByNumber(ctx, big.NewInt(int64(number)))
	if err != nil {
		return common.Hash{}, classifyRPCError(err)
	}
	return header.Hash(), nil
}

// EventDecoder decodes one contract's logs into named events.
type EventDecoder interface {
	DecodeLog(l types.Log) (name string, decoded map[string]any, err error)
}

func decodeLog(l types.Log, decoders map[common.Address]EventDecoder) (LogRecord, error) {
	dec, ok := decoders[l.Address]
	if !ok {
		return LogRecord{}, errors.Wrapf(ErrUnknownEvent, "no decoder for contract %s", l.Address.Hex())
	}
	name, decoded, err := dec.DecodeLog(l)
	if err != nil {
		return LogRecord{}, errors.Wrap(ErrDecodeError, err.Error())
	}
	var topic0 common.Hash
	if len(l.Topics) > 0 {
		topic0 = l.Topics[0]
	}
	return LogRecord{
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		BlockNumber: l.BlockNumber,
		Contract:    l.Address,
		Topic0:      topic0,
		EventName:   name,
		Data:        l.Data,
		Decoded:     decoded,
	}, nil
}
