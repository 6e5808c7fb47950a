package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStringRoundTrip(t *testing.T) {
	a, ok := FromString("150000000000000000000000")
	require.True(t, ok)
	assert.Equal(t, "150000000000000000000000", a.String())
}

func TestMulBps(t *testing.T) {
	a, _ := FromString("100000")
	half := a.MulBps(5000) // 50%
	assert.Equal(t, "50000", half.String())
}

func TestRatioBps(t *testing.T) {
	a, _ := FromString("900")
	b, _ := FromString("1000")
	assert.Equal(t, int64(9000), a.RatioBps(b)) // 90%
}

func TestRatioBpsZeroDenominator(t *testing.T) {
	a, _ := FromString("900")
	assert.Equal(t, int64(0), a.RatioBps(Zero()))
}

func TestSumAndAbs(t *testing.T) {
	a, _ := FromString("10")
	b, _ := FromString("-30")
	sum := Sum(a, b)
	assert.Equal(t, "-20", sum.String())
	assert.Equal(t, "20", sum.Abs().String())
}

func TestFromInt64(t *testing.T) {
	assert.Equal(t, "10000", FromInt64(10_000).String())
}

func TestAmountJSONRoundTrip(t *testing.T) {
	a, _ := FromString("123456789000000000000")
	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"123456789000000000000"`, string(b))

	var out Amount
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, a.String(), out.String())
}

func TestBpsOf(t *testing.T) {
	amt, _ := FromString("1000000")
	got := Bps(250).Of(amt) // 2.5%
	assert.Equal(t, "25000", got.String())
}
