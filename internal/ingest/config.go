// Package ingest implements the Event Ingestor (spec.md §4.2): a
// singleton, lease-held reader that delivers every confirmed chain
// event exactly once to the task queue, in block-then-log-index order
// per contract.
package ingest

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/tasks"
)

// Config bounds one Ingestor run.
type Config struct {
	Contracts     []common.Address
	Decoders      map[common.Address]gateway.EventDecoder
	GenesisBlock  map[common.Address]uint64
	Confirmations uint64
	PollInterval  time.Duration
	FlushCount    int
	FlushInterval time.Duration
	LeaseHolderID string
}

// DefaultConfig applies spec.md §4.2's defaults.
func DefaultConfig() Config {
	return Config{
		Confirmations: gateway.DefaultConfirmations,
		PollInterval:  3 * time.Second,
		FlushCount:    100,
		FlushInterval: 5 * time.Second,
	}
}

// kindPriority maps an event name to its task-queue priority, the
// closed set from spec.md §4.2.
var kindPriority = map[string]tasks.Priority{
	"EmergencyModeChanged":        tasks.Critical,
	"CriticalLiquidityAlert":      tasks.Critical,
	"LowLiquidityAlert":           tasks.Critical,
	"RedemptionRequested":         tasks.High,
	"VoucherMinted":               tasks.High,
	"SettlementWaterfallTriggered": tasks.High,
	"NavUpdated":                  tasks.High,
	"BaseRedemptionFeeUpdated":    tasks.High,
	"EmergencyPenaltyFeeUpdated":  tasks.High,
}

// priorityFor returns the event's priority, defaulting to NORMAL for
// everything not in the closed HIGH/CRITICAL set (spec.md §4.2).
func priorityFor(eventName string) tasks.Priority {
	if p, ok := kindPriority[eventName]; ok {
		return p
	}
	return tasks.Normal
}
