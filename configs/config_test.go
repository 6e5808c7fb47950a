package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwafund/controlplane/internal/risk"
)

const sampleYAML = `
rpc: "ws://localhost:8545"
workers: 4
contracts:
  vault:
    address: "0x1111111111111111111111111111111111aaaa"
    genesis_block: 100
ingest:
  confirmations: 20
  polling_interval_sec: 5
rebalance:
  tiers:
    L1:
      target: "1000"
      low: "500"
      high: "1500"
  min_rebalance_amount: "10"
  drift_tolerance_bps: 50
risk:
  l1_low: "500"
  thresholds:
    l1_ratio:
      normal: 2000
      warning: 1500
      critical: 1000
      higher_is_worse: false
      weight: 10
approval_rules:
  - type: "STANDARD"
    reference_type: "REDEMPTION"
    total_required: 1
    conditions:
      - field: "gross_amount"
        comparator: "LT"
        value: 100
    approvers:
      - role: "VIP_APPROVER"
        min_count: 1
    sla:
      warning_after_min: 10
      escalation_after_min: 20
      deadline_after_min: 30
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigParsesYAML(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8545", cfg.RPC)
	assert.Equal(t, 4, cfg.Workers)
	assert.Len(t, cfg.Contracts, 1)
}

func TestLoadConfigReturnsErrorForMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yml")
	assert.Error(t, err)
}

func TestToIngestConfigResolvesContractsAndOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, sampleYAML))
	require.NoError(t, err)

	ic, err := cfg.ToIngestConfig(nil)
	require.NoError(t, err)
	assert.Len(t, ic.Contracts, 1)
	assert.Equal(t, uint64(20), ic.Confirmations)
	assert.Equal(t, uint64(100), ic.GenesisBlock[ic.Contracts[0]])
}

func TestToIngestConfigRejectsInvalidAddress(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, `
contracts:
  bad:
    address: "not-an-address"
`))
	require.NoError(t, err)
	_, err = cfg.ToIngestConfig(nil)
	assert.Error(t, err)
}

func TestToRebalanceConfigParsesTierBoundsAndOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, sampleYAML))
	require.NoError(t, err)

	rc, err := cfg.ToRebalanceConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(50), rc.DriftToleranceBps)
	assert.Equal(t, "1000", rc.Tiers["L1"].Target.String())
	assert.Equal(t, "10", rc.MinRebalanceAmount.String())
}

func TestToRiskConfigAppliesThresholdOverridesAndDefaultsElsewhere(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, sampleYAML))
	require.NoError(t, err)

	rk := cfg.ToRiskConfig()
	assert.Equal(t, risk.LowerIsWorse, rk.Thresholds[risk.IndL1Ratio].Direction)
	assert.Equal(t, "500", rk.L1Low.String())
	// not overridden in sampleYAML, so DefaultConfig's value survives
	assert.Equal(t, risk.DefaultConfig().MonteCarloTrials, rk.MonteCarloTrials)
}

func TestToRuleTableBuildsConditionsAndApprovers(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, sampleYAML))
	require.NoError(t, err)

	rules := cfg.ToRuleTable()
	require.Len(t, rules, 1)
	assert.Equal(t, "STANDARD", rules[0].Type)
	assert.Equal(t, "gross_amount", rules[0].Conditions[0].Field)
	assert.Equal(t, "VIP_APPROVER", rules[0].Approvers[0].Role)
}
