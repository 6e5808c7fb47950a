package ingest

import (
	"context"
	"time"

	gethlog "github.com/ethereum/go-ethereum/log"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectCapDelay  = 30 * time.Second
)

// RunSubscription opens the WebSocket log subscription and reconnects
// with exponential backoff (1s → 30s cap) on disconnect, per spec.md
// §4.2. It is an optimization only — correctness relies on Run's
// polling loop, which dedups against the same store, so a log seen on
// both paths is simply dropped the second time.
func (i *Ingestor) RunSubscription(ctx context.Context) {
	delay := reconnectBaseDelay
	for {
		if ctx.Err() != nil {
			return
		}
		if err := i.subscribeOnce(ctx); err != nil {
			gethlog.Warn("ingestor subscription disconnected, reconnecting", "err", err, "delay", delay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectCapDelay {
			delay = reconnectCapDelay
		}
	}
}

func (i *Ingestor) subscribeOnce(ctx context.Context) error {
	fromBlock := i.earliestCheckpoint(ctx)
	out, errs := i.gw.SubscribeLogs(ctx, i.cfg.Contracts, fromBlock, i.cfg.Decoders)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			return err
		case rec, ok := <-out:
			if !ok {
				return nil
			}
			if _, err := i.processLog(ctx, rec); err != nil {
				gethlog.Warn("subscription log processing failed", "tx", rec.TxHash.Hex(), "err", err)
			}
		}
	}
}

// earliestCheckpoint finds the lowest last-confirmed block across
// watched contracts, a safe (if occasionally redundant) starting point
// for the subscription — redundant deliveries are absorbed by dedup.
func (i *Ingestor) earliestCheckpoint(ctx context.Context) uint64 {
	var earliest uint64
	first := true
	for _, c := range i.cfg.Contracts {
		cp, err := i.store.LoadCheckpoint(ctx, c.Hex())
		if err != nil {
			continue
		}
		block := cp.LastConfirmedBlock
		if block == 0 {
			block = i.cfg.GenesisBlock[c]
		}
		if first || block < earliest {
			earliest = block
			first = false
		}
	}
	return earliest
}
