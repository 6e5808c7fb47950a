package gateway

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const erc20ABIJSON = `[
  {"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

func mustParseABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	require.NoError(t, err)
	return parsed
}

func TestDecodeTransaction(t *testing.T) {
	contractABI := mustParseABI(t)
	cc := NewContractClient(nil, common.HexToAddress("0x1111111111111111111111111111111111111111"), contractABI)

	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := contractABI.Pack("transfer", to, big.NewInt(1_000_000))
	require.NoError(t, err)

	decoded, err := cc.DecodeTransaction(data)
	require.NoError(t, err)
	require.Equal(t, "transfer", decoded.MethodName)
	require.Equal(t, to, decoded.Parameter["to"])
}

func TestDecodeTransactionRejectsShortData(t *testing.T) {
	contractABI := mustParseABI(t)
	cc := NewContractClient(nil, common.Address{}, contractABI)
	_, err := cc.DecodeTransaction([]byte{0x01, 0x02})
	require.Error(t, err)
}
