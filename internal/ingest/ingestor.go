package ingest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	gethlog "github.com/ethereum/go-ethereum/log"

	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/internal/tasks"
)

// ErrReorgDetected is raised when a previously-confirmed block's hash no
// longer matches the canonical chain (spec.md §4.2); the Ingestor halts
// advancement for the affected contract until an operator intervenes.
var ErrReorgDetected = errors.New("reorg detected: persisted checkpoint no longer canonical")

// ErrGetLogsExhausted is raised when get_logs fails all 10 retries; the
// Ingestor pauses advancement for the affected contract (spec.md §4.2).
var ErrGetLogsExhausted = errors.New("get_logs exhausted retry budget")

const leaseKey = "ingestor"

// Ingestor is the Event Ingestor (spec.md §4.2), generalized from the
// teacher's txlistener-driven polling in cmd/main.go to a multi-contract,
// priority-routing, checkpointed reader. Exactly one instance runs at a
// time, enforced by a distributed lease.
type Ingestor struct {
	store *store.Store
	gw    *gateway.Gateway
	rt    *tasks.Runtime
	cfg   Config

	haltedMu sync.Mutex
	halted   map[common.Address]bool
}

func (i *Ingestor) isHalted(contract common.Address) bool {
	i.haltedMu.Lock()
	defer i.haltedMu.Unlock()
	return i.halted[contract]
}

func (i *Ingestor) setHalted(contract common.Address, v bool) {
	i.haltedMu.Lock()
	defer i.haltedMu.Unlock()
	if v {
		i.halted[contract] = true
	} else {
		delete(i.halted, contract)
	}
}

// New constructs an Ingestor.
func New(st *store.Store, gw *gateway.Gateway, rt *tasks.Runtime, cfg Config) *Ingestor {
	return &Ingestor{store: st, gw: gw, rt: rt, cfg: cfg, halted: make(map[common.Address]bool)}
}

// Run acquires the singleton lease and polls until ctx is canceled or
// the lease is lost. It is meant to run for the lifetime of the process;
// callers retry Run in a loop to resume after a lease handoff.
func (i *Ingestor) Run(ctx context.Context) error {
	if _, err := i.store.AcquireLease(ctx, leaseKey, i.cfg.LeaseHolderID); err != nil {
		return errors.Wrap(err, "acquire ingestor lease")
	}

	renewCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	leaseLost := make(chan struct{})
	go func() {
		i.renewLeaseLoop(renewCtx)
		close(leaseLost)
	}()

	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-leaseLost:
			if ctx.Err() != nil {
				return nil
			}
			return errors.New("ingestor lease lost")
		case <-ticker.C:
			if err := i.pollOnce(ctx); err != nil {
				gethlog.Error("ingestor poll failed", "err", err)
			}
		}
	}
}

func (i *Ingestor) renewLeaseLoop(ctx context.Context) {
	ticker := time.NewTicker(store.LeaseRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.store.RenewLease(ctx, leaseKey, i.cfg.LeaseHolderID); err != nil {
				gethlog.Error("ingestor lost its lease", "err", err)
				return
			}
		}
	}
}

// pollOnce runs one get_logs sweep per contract, in configured contract
// order, and is also what the WebSocket subscription path falls back to
// for correctness (spec.md §4.2 step 2).
func (i *Ingestor) pollOnce(ctx context.Context) error {
	head, err := i.gw.HeadBlock(ctx)
	if err != nil {
		return errors.Wrap(err, "read head block")
	}
	if head < i.cfg.Confirmations {
		return nil
	}
	target := head - i.cfg.Confirmations

	for _, contract := range i.cfg.Contracts {
		if i.isHalted(contract) {
			continue
		}
		if err := i.pollContract(ctx, contract, target); err != nil {
			switch {
			case errors.Is(err, ErrReorgDetected):
				i.setHalted(contract, true)
				_ = i.store.RecordRiskEvent(ctx, &store.RiskEvent{
					Kind: "ingestor_reorg_detected", Severity: "critical",
					Detail: contract.Hex() + ": " + err.Error(),
				})
			case errors.Is(err, ErrGetLogsExhausted):
				i.setHalted(contract, true)
			default:
				gethlog.Error("poll contract failed", "contract", contract.Hex(), "err", err)
			}
		}
	}
	return nil
}

func (i *Ingestor) pollContract(ctx context.Context, contract common.Address, target uint64) error {
	cp, err := i.store.LoadCheckpoint(ctx, contract.Hex())
	if err != nil {
		return err
	}

	from := cp.LastConfirmedBlock + 1
	if cp.LastConfirmedBlock == 0 {
		from = i.cfg.GenesisBlock[contract]
	} else if cp.LastConfirmedHash != "" {
		canonical, err := i.gw.BlockHashAt(ctx, cp.LastConfirmedBlock)
		if err != nil {
			return errors.Wrap(err, "re-read checkpoint block hash")
		}
		if canonical.Hex() != cp.LastConfirmedHash {
			return ErrReorgDetected
		}
	}
	if from > target {
		return nil
	}

	logs, err := i.getLogsWithRetry(ctx, contract, from, target)
	if err != nil {
		_ = i.store.RecordRiskEvent(ctx, &store.RiskEvent{
			Kind: "ingestor_get_logs_failed", Severity: "critical",
			Detail: contract.Hex() + ": " + err.Error(),
		})
		return errors.Wrap(ErrGetLogsExhausted, err.Error())
	}

	flushedAt := time.Now()
	flushedSince := 0
	var lastBlock uint64 = cp.LastConfirmedBlock
	var lastHash string = cp.LastConfirmedHash

	for _, rec := range logs {
		enqueued, err := i.processLog(ctx, rec)
		if err != nil {
			return err
		}
		if enqueued {
			flushedSince++
		}
		lastBlock = rec.BlockNumber

		if flushedSince >= i.cfg.FlushCount || time.Since(flushedAt) >= i.cfg.FlushInterval {
			hash, err := i.gw.BlockHashAt(ctx, lastBlock)
			if err != nil {
				return errors.Wrap(err, "read block hash for checkpoint flush")
			}
			lastHash = hash.Hex()
			if err := i.store.AdvanceCheckpoint(ctx, contract.Hex(), lastBlock, lastHash); err != nil {
				return err
			}
			flushedAt = time.Now()
			flushedSince = 0
		}
	}

	if lastBlock != cp.LastConfirmedBlock {
		if lastHash == cp.LastConfirmedHash {
			hash, err := i.gw.BlockHashAt(ctx, lastBlock)
			if err != nil {
				return errors.Wrap(err, "read block hash for final checkpoint flush")
			}
			lastHash = hash.Hex()
		}
		return i.store.AdvanceCheckpoint(ctx, contract.Hex(), lastBlock, lastHash)
	}
	return nil
}

// Resync clears the halted flag for contract and rewinds its checkpoint
// to fromBlock, the operator-driven recovery path for a reorg or
// get_logs exhaustion (spec.md §6's `Resync(fromBlock)` command).
func (i *Ingestor) Resync(ctx context.Context, contract common.Address, fromBlock uint64) error {
	i.setHalted(contract, false)
	head, err := i.gw.BlockHashAt(ctx, fromBlock)
	if err != nil {
		return errors.Wrap(err, "read resync block hash")
	}
	return i.store.AdvanceCheckpoint(ctx, contract.Hex(), fromBlock, head.Hex())
}

// getLogsWithRetry retries a get_logs call up to 10 times with jittered
// backoff before giving up (spec.md §4.2).
func (i *Ingestor) getLogsWithRetry(ctx context.Context, contract common.Address, from, to uint64) ([]gateway.LogRecord, error) {
	var logs []gateway.LogRecord
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 10), ctx)
	err := backoff.Retry(func() error {
		var err error
		logs, err = i.gw.GetLogs(ctx, []common.Address{contract}, from, to, i.cfg.Decoders)
		return err
	}, policy)
	return logs, err
}

// processLog dedups, enqueues, and reports whether it enqueued a new
// event (vs. dropping a duplicate).
func (i *Ingestor) processLog(ctx context.Context, rec gateway.LogRecord) (bool, error) {
	dup, err := i.store.IsDuplicate(ctx, rec.TxHash.Hex(), rec.LogIndex)
	if err != nil {
		return false, err
	}
	if dup {
		return false, nil
	}
	if err := i.store.MarkProcessed(ctx, rec.TxHash.Hex(), rec.LogIndex); err != nil {
		return false, err
	}

	i.rt.Enqueue(tasks.Task{
		ID:             rec.TxHash.Hex() + ":" + strconv.FormatUint(uint64(rec.LogIndex), 10),
		Kind:           "dispatch_event",
		Priority:       priorityFor(rec.EventName),
		Payload:        rec,
		IdempotencyKey: rec.TxHash.Hex() + ":" + strconv.FormatUint(uint64(rec.LogIndex), 10),
		MaxRetries:     tasks.DefaultMaxRetries,
	})
	return true, nil
}
