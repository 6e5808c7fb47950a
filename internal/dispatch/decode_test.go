package dispatch

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/rwafund/controlplane/internal/gateway"
)

func sampleRecord(decoded map[string]any) gateway.LogRecord {
	return gateway.LogRecord{
		TxHash:    common.HexToHash("0xabc"),
		BlockTime: time.Unix(1_700_000_000, 0).UTC(),
		Decoded:   decoded,
	}
}

func TestDecodedBigIntDefaultsToZeroWhenMissing(t *testing.T) {
	rec := sampleRecord(map[string]any{})
	assert.Equal(t, big.NewInt(0), decodedBigInt(rec, "amount"))
}

func TestDecodedBigIntReadsPresentField(t *testing.T) {
	rec := sampleRecord(map[string]any{"amount": big.NewInt(42)})
	assert.Equal(t, big.NewInt(42), decodedBigInt(rec, "amount"))
}

func TestDecodedAmountIgnoresWrongType(t *testing.T) {
	rec := sampleRecord(map[string]any{"amount": "not-a-bigint"})
	assert.True(t, decodedAmount(rec, "amount").IsZero())
}

func TestDecodedAddressDefaultsToZeroValue(t *testing.T) {
	rec := sampleRecord(map[string]any{})
	assert.Equal(t, common.Address{}, decodedAddress(rec, "owner"))
}

func TestDecodedStringAndBool(t *testing.T) {
	rec := sampleRecord(map[string]any{"channel": "STANDARD", "requiresApproval": true})
	assert.Equal(t, "STANDARD", decodedString(rec, "channel"))
	assert.True(t, decodedBool(rec, "requiresApproval"))
	assert.False(t, decodedBool(rec, "missing"))
}

func TestDecodedUnixTimeFallsBackToBlockTime(t *testing.T) {
	rec := sampleRecord(map[string]any{})
	assert.Equal(t, rec.BlockTime, decodedUnixTime(rec, "settlementTime"))
}

func TestDecodedUnixTimeParsesSeconds(t *testing.T) {
	rec := sampleRecord(map[string]any{"settlementTime": big.NewInt(1_800_000_000)})
	got := decodedUnixTime(rec, "settlementTime")
	assert.Equal(t, int64(1_800_000_000), got.Unix())
}

func TestAmountToFloatRendersBaseUnits(t *testing.T) {
	rec := sampleRecord(map[string]any{"amount": big.NewInt(1_000_000)})
	assert.Equal(t, float64(1_000_000), amountToFloat(decodedAmount(rec, "amount")))
}
