package gateway

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestInMemoryKeyServiceRejectsWrongRole(t *testing.T) {
	ks := NewInMemoryKeyService()
	ks.Register("vip-1", RoleVIPApprover, types.LatestSignerForChainID(big.NewInt(1)), func(tx *types.Transaction) (*types.Transaction, error) {
		return tx, nil
	})

	tx := types.NewTransaction(0, [20]byte{}, big.NewInt(0), 21000, big.NewInt(1), nil)
	_, err := ks.Authorize(context.Background(), "vip-1", RoleRebalancer, tx, SendConstraints{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRejectedByPolicy))
}

func TestInMemoryKeyServiceEnforcesPerTxCap(t *testing.T) {
	ks := NewInMemoryKeyService()
	ks.Register("reb-1", RoleRebalancer, types.LatestSignerForChainID(big.NewInt(1)), func(tx *types.Transaction) (*types.Transaction, error) {
		return tx, nil
	})

	tx := types.NewTransaction(0, [20]byte{}, big.NewInt(1000), 21000, big.NewInt(1), nil)
	_, err := ks.Authorize(context.Background(), "reb-1", RoleRebalancer, tx, SendConstraints{PerTxCap: big.NewInt(500)})
	require.True(t, errors.Is(err, ErrRejectedByPolicy))
}

func TestInMemoryKeyServiceAuthorizesWithinCaps(t *testing.T) {
	ks := NewInMemoryKeyService()
	ks.Register("adm-1", RoleAdmin, types.LatestSignerForChainID(big.NewInt(1)), func(tx *types.Transaction) (*types.Transaction, error) {
		return tx, nil
	})

	tx := types.NewTransaction(0, [20]byte{}, big.NewInt(100), 21000, big.NewInt(1), nil)
	signed, err := ks.Authorize(context.Background(), "adm-1", RoleAdmin, tx, SendConstraints{PerTxCap: big.NewInt(500), DailyCap: big.NewInt(1000)})
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), signed.Hash())
}
