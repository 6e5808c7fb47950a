package rebalance

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/pkg/money"
)

// ErrSimulationFailed is returned when any action in a plan fails its
// dry-run gate; the whole plan is rejected, never partially simulated.
var ErrSimulationFailed = errors.New("plan simulation failed")

// ErrSlippageExceeded is returned when an action's simulated output
// deviates from its requested amount by more than its MaxSlippage
// budget (spec.md §7/§8 scenario 5).
var ErrSlippageExceeded = errors.New("simulated slippage exceeds action budget")

// slippageBps computes the basis-point deviation of actual from
// requested, using requested as the base the same way ComputeDeviation
// bases tier drift on target.
func slippageBps(requested, actual *big.Int) int64 {
	if requested.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(requested, actual)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(10000))
	diff.Quo(diff, requested)
	return diff.Int64()
}

// ErrDriftExceedsTolerance is returned by VerifyPostState when the
// executed plan's resulting tier ratios still deviate from target
// beyond cfg.DriftToleranceBps.
var ErrDriftExceedsTolerance = errors.New("post-execution drift exceeds tolerance")

// methodFor maps an action kind to the vault contract method the
// simulator and executor both dry-run/send against.
func methodFor(kind string) string {
	switch kind {
	case ActionTransfer:
		return "transferBetweenTiers"
	case ActionPurchase:
		return "purchaseIntoTier"
	case ActionRedeem:
		return "redeemFromTier"
	case ActionWaterfall:
		return "executeWaterfall"
	default:
		return ""
	}
}

// Simulate dry-runs every action in a plan against the vault contract.
// A single reverting action fails the whole plan: spec.md §4.5 allows
// no partial execution on simulation failure.
func Simulate(ctx context.Context, gw *gateway.Gateway, vault common.Address, actions []PlannedAction) error {
	for i, a := range actions {
		method := methodFor(a.Kind)
		if method == "" {
			return errors.Errorf("action %d: unknown kind %q", i, a.Kind)
		}
		result, err := gw.Simulate(ctx, vault, method, nil, string(a.FromTier), string(a.ToTier), a.Amount.Int())
		if err != nil {
			if gateway.IsTransient(err) {
				return errors.Wrapf(err, "action %d: simulate transport error", i)
			}
			return errors.Wrapf(ErrSimulationFailed, "action %d: %v", i, err)
		}
		if result.Reverted {
			return errors.Wrapf(ErrSimulationFailed, "action %d reverted: %s", i, result.RevertReason)
		}
		if result.OutputAmount != nil {
			if bps := slippageBps(a.Amount.Int(), result.OutputAmount); bps > a.MaxSlippage {
				return errors.Wrapf(ErrSlippageExceeded, "action %d: %d bps exceeds budget %d bps", i, bps, a.MaxSlippage)
			}
		}
	}
	return nil
}

// VerifyPostState recomputes tier deviations against the post-execution
// fund state and reports an error if any tier still drifts beyond
// cfg.DriftToleranceBps from target — the 1% check spec.md §4.5 requires
// after every execution, successful or partial.
func VerifyPostState(cfg Config, state FundState) (map[Tier]TierState, error) {
	values := map[Tier]money.Amount{TierL1: state.L1, TierL2: state.L2, TierL3: state.L3}
	deviations := ComputeDeviation(cfg, state.TotalAssets, values)
	for tier, d := range deviations {
		if abs64(d.DeviationBps) > cfg.DriftToleranceBps {
			return deviations, errors.Wrapf(ErrDriftExceedsTolerance, "tier %s deviates %d bps", tier, d.DeviationBps)
		}
	}
	return deviations, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
