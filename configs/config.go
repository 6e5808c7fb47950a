// Package configs loads the control plane's closed configuration set
// (spec.md §6) from YAML and converts each section into the typed
// Config struct its owning package already declares, the same
// load-then-convert shape as the teacher's configs/config.go
// (LoadConfig + ToBlackholeConfigs/ToStrategyConfig).
package configs

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/rwafund/controlplane/internal/approval"
	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/ingest"
	"github.com/rwafund/controlplane/internal/rebalance"
	"github.com/rwafund/controlplane/internal/risk"
	"github.com/rwafund/controlplane/pkg/money"
)

// Config is the root of config.yml.
type Config struct {
	RPC           string                  `yaml:"rpc"`
	Contracts     map[string]ContractYAML `yaml:"contracts"`
	Ingest        IngestYAML              `yaml:"ingest"`
	Rebalance     RebalanceYAML           `yaml:"rebalance"`
	Risk          RiskYAML                `yaml:"risk"`
	ApprovalRules []RuleYAML              `yaml:"approval_rules"`
	Signer        SignerYAML              `yaml:"signer"`
	Workers       int                     `yaml:"workers"`
}

// ContractYAML names one chain contract the Ingestor tracks. AbiPath
// points at the compiled ABI JSON cmd/controlplane loads to build both
// the contract's gateway.ContractClient and its gateway.EventDecoder.
type ContractYAML struct {
	Address      string `yaml:"address"`
	GenesisBlock uint64 `yaml:"genesis_block"`
	AbiPath      string `yaml:"abi_path"`
}

// IngestYAML is the Event Ingestor's closed configuration set.
type IngestYAML struct {
	Confirmations      uint64 `yaml:"confirmations"`
	PollingIntervalSec int    `yaml:"polling_interval_sec"`
	BatchSize          int    `yaml:"batch_size"`
	FlushIntervalSec   int    `yaml:"flush_interval_sec"`
	LeaseHolderID      string `yaml:"lease_holder_id"`
}

// TierYAML is one liquidity tier's target/min/max, in decimal string
// form (base-unit fixed-point, parsed via pkg/money.FromString).
type TierYAML struct {
	Target string `yaml:"target"`
	Low    string `yaml:"low"`
	High   string `yaml:"high"`
}

// RebalanceYAML is the Rebalance Engine's closed configuration set.
type RebalanceYAML struct {
	Tiers                    map[string]TierYAML `yaml:"tiers"`
	MinRebalanceAmount       string              `yaml:"min_rebalance_amount"`
	ApprovalThreshold        string              `yaml:"approval_threshold"`
	DriftToleranceBps        int64               `yaml:"drift_tolerance_bps"`
	PendingOutflowWindowDays int                 `yaml:"pending_outflow_window_days"`
	OutflowRatioBps          int64               `yaml:"outflow_ratio_bps"`
}

// ThresholdYAML is one risk indicator's three breakpoints.
type ThresholdYAML struct {
	Normal        int64 `yaml:"normal"`
	Warning       int64 `yaml:"warning"`
	Critical      int64 `yaml:"critical"`
	HigherIsWorse bool  `yaml:"higher_is_worse"`
	Weight        int   `yaml:"weight"`
}

// RiskYAML is the Risk Engine's closed configuration set.
type RiskYAML struct {
	Thresholds                  map[string]ThresholdYAML `yaml:"thresholds"`
	L1Low                       string                   `yaml:"l1_low"`
	HistoricalRedemptionRateBps int64                    `yaml:"historical_redemption_rate_bps"`
	HistoricalDepositRateBps    int64                    `yaml:"historical_deposit_rate_bps"`
	MonteCarloTrials            int                      `yaml:"monte_carlo_trials"`
	RecoveryConsecutiveOK       int                      `yaml:"recovery_consecutive_ok"`
}

// ConditionYAML mirrors approval.Condition.
type ConditionYAML struct {
	Field      string  `yaml:"field"`
	Comparator string  `yaml:"comparator"`
	Value      float64 `yaml:"value"`
}

// ApproverYAML mirrors approval.ApproverRequirement.
type ApproverYAML struct {
	Role     string `yaml:"role"`
	MinCount int    `yaml:"min_count"`
}

// SLAYAML mirrors approval.SLAPolicy, in whole minutes.
type SLAYAML struct {
	WarningAfterMin    int  `yaml:"warning_after_min"`
	EscalationAfterMin int  `yaml:"escalation_after_min"`
	DeadlineAfterMin   int  `yaml:"deadline_after_min"`
	AutoReject         bool `yaml:"auto_reject"`
}

// AutoApproveYAML mirrors approval.AutoApprove.
type AutoApproveYAML struct {
	Enabled    bool            `yaml:"enabled"`
	Conditions []ConditionYAML `yaml:"conditions"`
}

// RuleYAML mirrors approval.Rule.
type RuleYAML struct {
	Type          string          `yaml:"type"`
	ReferenceType string          `yaml:"reference_type"`
	Conditions    []ConditionYAML `yaml:"conditions"`
	Approvers     []ApproverYAML  `yaml:"approvers"`
	TotalRequired int             `yaml:"total_required"`
	SLA           SLAYAML         `yaml:"sla"`
	AutoApprove   AutoApproveYAML `yaml:"auto_approve"`
}

// SignerYAML configures the key service the Gateway delegates signing
// to. DevMode selects gateway.InMemoryKeyService for local/dev runs;
// with DevMode false cmd/controlplane refuses to start. PerTxCap and
// DailyCap are parsed but not applied: no Send call builds its
// SendConstraints caps from them.
type SignerYAML struct {
	DevMode  bool   `yaml:"dev_mode"`
	PerTxCap string `yaml:"per_tx_cap"`
	DailyCap string `yaml:"daily_cap"`
}

// LoadConfig reads and parses config.yml into a Config struct.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &cfg, nil
}

// ToIngestConfig builds the Event Ingestor's Config. decoders is
// supplied by the caller (cmd/controlplane), since the ABI-bound
// decoder set belongs to whatever contract bindings are compiled in,
// not to this package.
func (c *Config) ToIngestConfig(decoders map[common.Address]gateway.EventDecoder) (ingest.Config, error) {
	contracts := make([]common.Address, 0, len(c.Contracts))
	genesis := make(map[common.Address]uint64, len(c.Contracts))
	for name, cc := range c.Contracts {
		if !common.IsHexAddress(cc.Address) {
			return ingest.Config{}, fmt.Errorf("contract %q: invalid address %q", name, cc.Address)
		}
		addr := common.HexToAddress(cc.Address)
		contracts = append(contracts, addr)
		genesis[addr] = cc.GenesisBlock
	}

	cfg := ingest.DefaultConfig()
	cfg.Contracts = contracts
	cfg.Decoders = decoders
	cfg.GenesisBlock = genesis
	if c.Ingest.Confirmations > 0 {
		cfg.Confirmations = c.Ingest.Confirmations
	}
	if c.Ingest.PollingIntervalSec > 0 {
		cfg.PollInterval = time.Duration(c.Ingest.PollingIntervalSec) * time.Second
	}
	if c.Ingest.BatchSize > 0 {
		cfg.FlushCount = c.Ingest.BatchSize
	}
	if c.Ingest.FlushIntervalSec > 0 {
		cfg.FlushInterval = time.Duration(c.Ingest.FlushIntervalSec) * time.Second
	}
	cfg.LeaseHolderID = c.Ingest.LeaseHolderID
	return cfg, nil
}

// ContractAddresses returns the tracked-contract address list, used by
// internal/command's Resync (spec.md §6's `Resync(fromBlock)`, which
// names no contract of its own).
func (c *Config) ContractAddresses() ([]common.Address, error) {
	out := make([]common.Address, 0, len(c.Contracts))
	for name, cc := range c.Contracts {
		if !common.IsHexAddress(cc.Address) {
			return nil, fmt.Errorf("contract %q: invalid address %q", name, cc.Address)
		}
		out = append(out, common.HexToAddress(cc.Address))
	}
	return out, nil
}

// ContractABIPaths returns each tracked contract's address and its
// configured ABI JSON path, used by cmd/controlplane to build one
// gateway.ContractClient plus gateway.EventDecoder pair per contract.
func (c *Config) ContractABIPaths() (map[common.Address]string, error) {
	out := make(map[common.Address]string, len(c.Contracts))
	for name, cc := range c.Contracts {
		if !common.IsHexAddress(cc.Address) {
			return nil, fmt.Errorf("contract %q: invalid address %q", name, cc.Address)
		}
		out[common.HexToAddress(cc.Address)] = cc.AbiPath
	}
	return out, nil
}

// ToRebalanceConfig builds the Rebalance Engine's Config.
func (c *Config) ToRebalanceConfig() (rebalance.Config, error) {
	cfg := rebalance.DefaultConfig()
	tiers := make(map[rebalance.Tier]rebalance.TierBounds, len(c.Rebalance.Tiers))
	for name, t := range c.Rebalance.Tiers {
		bounds, err := parseTierBounds(t)
		if err != nil {
			return rebalance.Config{}, fmt.Errorf("tier %q: %w", name, err)
		}
		tiers[rebalance.Tier(name)] = bounds
	}
	if len(tiers) > 0 {
		cfg.Tiers = tiers
	}
	if v, ok := parseAmount(c.Rebalance.MinRebalanceAmount); ok {
		cfg.MinRebalanceAmount = v
	}
	if v, ok := parseAmount(c.Rebalance.ApprovalThreshold); ok {
		cfg.ApprovalThreshold = v
	}
	if c.Rebalance.DriftToleranceBps > 0 {
		cfg.DriftToleranceBps = c.Rebalance.DriftToleranceBps
	}
	if c.Rebalance.PendingOutflowWindowDays > 0 {
		cfg.PendingOutflowWindow = c.Rebalance.PendingOutflowWindowDays
	}
	if c.Rebalance.OutflowRatioBps > 0 {
		cfg.OutflowRatioBps = c.Rebalance.OutflowRatioBps
	}
	return cfg, nil
}

func parseTierBounds(t TierYAML) (rebalance.TierBounds, error) {
	target, ok := parseAmount(t.Target)
	if !ok {
		return rebalance.TierBounds{}, fmt.Errorf("invalid target %q", t.Target)
	}
	low, ok := parseAmount(t.Low)
	if !ok {
		return rebalance.TierBounds{}, fmt.Errorf("invalid low %q", t.Low)
	}
	high, ok := parseAmount(t.High)
	if !ok {
		return rebalance.TierBounds{}, fmt.Errorf("invalid high %q", t.High)
	}
	return rebalance.TierBounds{Target: target, Low: low, High: high}, nil
}

func parseAmount(s string) (money.Amount, bool) {
	if s == "" {
		return money.Zero(), false
	}
	return money.FromString(s)
}

// ToRiskConfig builds the Risk Engine's Config.
func (c *Config) ToRiskConfig() risk.Config {
	cfg := risk.DefaultConfig()
	if len(c.Risk.Thresholds) > 0 {
		thresholds := make(map[string]risk.Threshold, len(c.Risk.Thresholds))
		for name, th := range c.Risk.Thresholds {
			dir := risk.LowerIsWorse
			if th.HigherIsWorse {
				dir = risk.HigherIsWorse
			}
			thresholds[name] = risk.Threshold{
				Normal:    th.Normal,
				Warning:   th.Warning,
				Critical:  th.Critical,
				Direction: dir,
				Weight:    th.Weight,
			}
		}
		cfg.Thresholds = thresholds
	}
	if v, ok := parseAmount(c.Risk.L1Low); ok {
		cfg.L1Low = v
	}
	if c.Risk.HistoricalRedemptionRateBps > 0 {
		cfg.HistoricalRedemptionRateBps = c.Risk.HistoricalRedemptionRateBps
	}
	if c.Risk.HistoricalDepositRateBps > 0 {
		cfg.HistoricalDepositRateBps = c.Risk.HistoricalDepositRateBps
	}
	if c.Risk.MonteCarloTrials > 0 {
		cfg.MonteCarloTrials = c.Risk.MonteCarloTrials
	}
	if c.Risk.RecoveryConsecutiveOK > 0 {
		cfg.RecoveryConsecutiveOK = c.Risk.RecoveryConsecutiveOK
	}
	return cfg
}

// ToRuleTable builds the Approval Engine's rule table.
func (c *Config) ToRuleTable() approval.RuleTable {
	rules := make(approval.RuleTable, 0, len(c.ApprovalRules))
	for _, r := range c.ApprovalRules {
		rules = append(rules, approval.Rule{
			Type:          r.Type,
			ReferenceType: r.ReferenceType,
			Conditions:    toConditions(r.Conditions),
			Approvers:     toApprovers(r.Approvers),
			TotalRequired: r.TotalRequired,
			SLA: approval.SLAPolicy{
				WarningAfter:    time.Duration(r.SLA.WarningAfterMin) * time.Minute,
				EscalationAfter: time.Duration(r.SLA.EscalationAfterMin) * time.Minute,
				DeadlineAfter:   time.Duration(r.SLA.DeadlineAfterMin) * time.Minute,
				AutoReject:      r.SLA.AutoReject,
			},
			AutoApprove: approval.AutoApprove{
				Enabled:    r.AutoApprove.Enabled,
				Conditions: toConditions(r.AutoApprove.Conditions),
			},
		})
	}
	return rules
}

func toConditions(in []ConditionYAML) []approval.Condition {
	out := make([]approval.Condition, len(in))
	for i, c := range in {
		out[i] = approval.Condition{Field: c.Field, Comparator: approval.Comparator(c.Comparator), Value: c.Value}
	}
	return out
}

func toApprovers(in []ApproverYAML) []approval.ApproverRequirement {
	out := make([]approval.ApproverRequirement, len(in))
	for i, a := range in {
		out[i] = approval.ApproverRequirement{Role: a.Role, MinCount: a.MinCount}
	}
	return out
}
