package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// KeyService is the key custodian the gateway delegates signing to:
// every Send call is authorized per-call against the requested
// SignerRole and SendConstraints. The only implementation in this repo
// is InMemoryKeyService, which holds private keys in-process.
type KeyService interface {
	// Authorize signs tx for signerID under role, enforcing per-tx and
	// daily caps. It returns ErrRejectedByPolicy if the constraints are
	// violated or the signer does not hold the requested role.
	Authorize(ctx context.Context, signerID string, role SignerRole, tx *types.Transaction, caps SendConstraints) (*types.Transaction, error)
}

// signerRegistration is one entry in an InMemoryKeyService — used by
// tests and local/dev runs only; production deployments point Gateway
// at a real external key service over its own RPC.
type signerRegistration struct {
	role     SignerRole
	signer   types.Signer
	key      signerFunc
	spentDay *big.Int
}

type signerFunc func(tx *types.Transaction) (*types.Transaction, error)

// InMemoryKeyService is a test/dev KeyService: it signs with in-process
// keys and tracks a cumulative spend counter checked against DailyCap;
// nothing resets it.
// It exists to exercise Gateway.Send in unit tests without a live key
// service; production wiring never constructs one.
type InMemoryKeyService struct {
	signers map[string]*signerRegistration
}

// NewInMemoryKeyService constructs an empty registry.
func NewInMemoryKeyService() *InMemoryKeyService {
	return &InMemoryKeyService{signers: make(map[string]*signerRegistration)}
}

// Register associates a signerID with a role and a signing function.
func (k *InMemoryKeyService) Register(signerID string, role SignerRole, signer types.Signer, sign signerFunc) {
	k.signers[signerID] = &signerRegistration{role: role, signer: signer, key: sign, spentDay: new(big.Int)}
}

func (k *InMemoryKeyService) Authorize(_ context.Context, signerID string, role SignerRole, tx *types.Transaction, caps SendConstraints) (*types.Transaction, error) {
	reg, ok := k.signers[signerID]
	if !ok {
		return nil, errors.Wrap(ErrRejectedByPolicy, "unknown signer "+signerID)
	}
	if reg.role != role {
		return nil, errors.Wrapf(ErrRejectedByPolicy, "signer %s holds role %s, not %s", signerID, reg.role, role)
	}
	if caps.PerTxCap != nil && tx.Value().Cmp(caps.PerTxCap) > 0 {
		return nil, errors.Wrap(ErrRejectedByPolicy, "per-tx cap exceeded")
	}
	projected := new(big.Int).Add(reg.spentDay, tx.Value())
	if caps.DailyCap != nil && projected.Cmp(caps.DailyCap) > 0 {
		return nil, errors.Wrap(ErrRejectedByPolicy, "daily cap exceeded")
	}
	signed, err := reg.key(tx)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	reg.spentDay = projected
	return signed, nil
}
