// Command controlplane wires the Chain Gateway, Event Ingestor, Event
// Dispatcher, Approval Engine, Rebalance Engine, Risk Engine and the
// operator-facing command surface into one running process, the same
// single-binary shape as the teacher's cmd/main.go (dial RPC, load
// config, construct the domain type, run its main loop).
package main

import (
	"context"
	"crypto/ecdsa"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/rwafund/controlplane/configs"
	"github.com/rwafund/controlplane/internal/approval"
	"github.com/rwafund/controlplane/internal/chainutil"
	"github.com/rwafund/controlplane/internal/command"
	"github.com/rwafund/controlplane/internal/dispatch"
	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/internal/ingest"
	"github.com/rwafund/controlplane/internal/rebalance"
	"github.com/rwafund/controlplane/internal/risk"
	"github.com/rwafund/controlplane/internal/store"
	"github.com/rwafund/controlplane/internal/tasks"
	"github.com/rwafund/controlplane/pkg/money"
)

// vaultContractName is the config key the fund's main settlement
// contract is registered under; every engine's writes (redemption
// decisions, rebalance actions, emergency mode) target this one
// contract, matching spec.md §3's single FundVault.
const vaultContractName = "fund_vault"

func main() {
	_ = godotenv.Load()

	conf, err := configs.LoadConfig(configPath())
	if err != nil {
		panic(err)
	}

	client, err := ethclient.Dial(conf.RPC)
	if err != nil {
		panic(errors.Wrap(err, "dial rpc"))
	}

	decoders, clients := loadContractBindings(client, conf)

	listener := gateway.NewTxListener(client,
		gateway.WithPollInterval(3*time.Second),
		gateway.WithTimeout(5*time.Minute),
	)

	keyService, err := buildKeyService(client, conf)
	if err != nil {
		panic(err)
	}

	gw := gateway.NewGateway(client, listener, keyService)
	for addr, cc := range clients {
		gw.RegisterContract(addr, cc)
	}

	vaultAddr, err := namedContractAddress(conf, vaultContractName)
	if err != nil {
		panic(err)
	}

	st, err := store.Open(dbDSN())
	if err != nil {
		panic(errors.Wrap(err, "open store"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// MutateProjection/MutateProjectionIn (used by every dispatch
	// handler) require the fund_projection singleton row to already
	// exist; GetProjection is the only path that lazily creates it, so
	// it must run before any handler can fire.
	if _, err := st.GetProjection(ctx); err != nil {
		panic(errors.Wrap(err, "prime fund projection"))
	}

	queue := tasks.NewQueue()
	rt := tasks.NewRuntime(queue)

	ap := approval.New(st, rt, gw, vaultAddr, conf.ToRuleTable())

	rebalanceCfg, err := conf.ToRebalanceConfig()
	if err != nil {
		panic(errors.Wrap(err, "rebalance config"))
	}
	rb := rebalance.New(st, ap, gw, vaultAddr, rebalanceCfg)

	riskCfg := conf.ToRiskConfig()
	newDriver := func() *risk.EmergencyDriver {
		return risk.NewEmergencyDriver(st, gw, vaultAddr, rb, conf.Ingest.LeaseHolderID)
	}
	rk := risk.New(st, rb, projectionFeed(st), riskCfg, newDriver)

	ingestCfg, err := conf.ToIngestConfig(decoders)
	if err != nil {
		panic(errors.Wrap(err, "ingest config"))
	}
	ing := ingest.New(st, gw, rt, ingestCfg)

	disp := dispatch.New(st, ap, rb, rk)
	disp.RegisterHandlers(rt)
	ap.RegisterHandlers()
	rb.RegisterHandlers(rt)
	rk.RegisterHandlers(rt)

	contractAddrs, err := conf.ContractAddresses()
	if err != nil {
		panic(err)
	}
	cmdSvc := command.New(st, ap, rb, rk, ing, contractAddrs)

	workers := conf.Workers
	if workers <= 0 {
		workers = 4
	}
	go rt.Run(ctx, workers)
	rt.RunScheduler(ctx, tasks.DefaultSchedules)
	go pruneLoop(ctx, rt, cmdSvc)

	if err := ing.Run(ctx); err != nil && ctx.Err() == nil {
		gethlog.Error("ingestor stopped", "err", err)
	}

	<-ctx.Done()
}

// pruneLoop sweeps retained idempotency results every hour, the task
// runtime's ResultRetention and the command surface's own idempotency
// cache alike.
func pruneLoop(ctx context.Context, rt *tasks.Runtime, cmdSvc *command.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.PruneResults()
			cmdSvc.PruneIdempotencyCache()
		}
	}
}

func configPath() string {
	if p := os.Getenv("CONTROLPLANE_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yml"
}

func dbDSN() string {
	if dsn := os.Getenv("CONTROLPLANE_DB_DSN"); dsn != "" {
		return dsn
	}
	return "root:root@tcp(127.0.0.1:3306)/controlplane?charset=utf8mb4&parseTime=True&loc=Local"
}

func namedContractAddress(conf *configs.Config, name string) (common.Address, error) {
	cc, ok := conf.Contracts[name]
	if !ok {
		return common.Address{}, errors.Errorf("config: contract %q not declared", name)
	}
	if !common.IsHexAddress(cc.Address) {
		return common.Address{}, errors.Errorf("config: contract %q has invalid address %q", name, cc.Address)
	}
	return common.HexToAddress(cc.Address), nil
}

// loadContractBindings builds one ContractClient and EventDecoder per
// contract that declares an abi_path. A contract without one is tracked
// for its address/genesis block only (the Ingestor still records its
// checkpoint) but produces no decoded events until an ABI is supplied.
func loadContractBindings(client *ethclient.Client, conf *configs.Config) (map[common.Address]gateway.EventDecoder, map[common.Address]gateway.ContractClient) {
	abiPaths, err := conf.ContractABIPaths()
	if err != nil {
		panic(err)
	}
	decoders := make(map[common.Address]gateway.EventDecoder, len(abiPaths))
	clients := make(map[common.Address]gateway.ContractClient, len(abiPaths))
	for addr, path := range abiPaths {
		if path == "" {
			continue
		}
		contractABI, err := gateway.LoadABI(path)
		if err != nil {
			panic(errors.Wrapf(err, "load abi for %s", addr.Hex()))
		}
		decoders[addr] = gateway.NewABIEventDecoder(contractABI)
		clients[addr] = gateway.NewContractClient(client, addr, contractABI)
	}
	return decoders, clients
}

// projectionFeed builds the Risk Engine's FeedFunc from the fund's own
// balance-sheet projection. The externally-sourced indicators
// (NAV volatility, asset price deviation, oracle staleness,
// concentration, counterparty exposure) are left at their zero value
// here: spec.md scopes this engine to indicator *response*, and no
// price/custodian feed integration is wired into this control plane
// (a production deployment plugs one in by replacing this FeedFunc).
func projectionFeed(st *store.Store) risk.FeedFunc {
	return func(ctx context.Context) (risk.Inputs, error) {
		proj, err := st.GetProjection(ctx)
		if err != nil {
			return risk.Inputs{}, err
		}
		totalAssets, _ := money.FromString(proj.TotalAssets)
		l1Cash, _ := money.FromString(proj.L1Cash)
		l1Yield, _ := money.FromString(proj.L1Yield)
		l2, _ := money.FromString(proj.L2)
		liability, _ := money.FromString(proj.TotalRedemptionLiability)

		return risk.Inputs{
			TotalAssets: totalAssets,
			L1:          l1Cash.Add(l1Yield),
			L2:          l2,
			Liability:   liability,
		}, nil
	}
}

// buildKeyService wires the three fixed signer identities the engines
// already call Gateway.Send under ("vip-approver", "admin",
// "rebalancer") into an InMemoryKeyService. Each signer's private key is
// handed over AES-GCM encrypted (via chainutil.Decrypt) under a single
// at-rest passphrase key, never as bare hex in the environment. Per
// spec.md's Non-goals ("custodying private keys"), this is still the
// local/dev wiring path only: InMemoryKeyService's own doc comment
// reserves production deployments for a real external key service this
// repo does not implement.
func buildKeyService(client *ethclient.Client, conf *configs.Config) (*gateway.InMemoryKeyService, error) {
	if !conf.Signer.DevMode {
		return nil, errors.New("signer.dev_mode is false: wire an external KeyService before running outside development")
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "resolve chain id")
	}
	signer := types.LatestSignerForChainID(chainID)

	passphraseKey := chainutil.Hex2Bytes(os.Getenv("SIGNER_KEY_ENCRYPTION_KEY"))

	svc := gateway.NewInMemoryKeyService()
	for envVar, reg := range map[string]struct {
		signerID string
		role     gateway.SignerRole
	}{
		"VIP_APPROVER_SIGNER_KEY_ENC": {"vip-approver", gateway.RoleVIPApprover},
		"ADMIN_SIGNER_KEY_ENC":        {"admin", gateway.RoleAdmin},
		"REBALANCER_SIGNER_KEY_ENC":   {"rebalancer", gateway.RoleRebalancer},
	} {
		sealed := os.Getenv(envVar)
		if sealed == "" {
			continue
		}
		hexKey, err := chainutil.Decrypt(passphraseKey, sealed)
		if err != nil {
			return nil, errors.Wrapf(err, "decrypt %s", envVar)
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", envVar)
		}
		svc.Register(reg.signerID, reg.role, signer, signFunc(signer, key))
	}
	return svc, nil
}

func signFunc(signer types.Signer, key *ecdsa.PrivateKey) func(*types.Transaction) (*types.Transaction, error) {
	return func(tx *types.Transaction) (*types.Transaction, error) {
		return types.SignTx(tx, signer, key)
	}
}
