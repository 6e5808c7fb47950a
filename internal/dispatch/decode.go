package dispatch

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rwafund/controlplane/internal/gateway"
	"github.com/rwafund/controlplane/pkg/money"
)

// decodedBigInt reads a *big.Int field out of a decoded log, defaulting
// to zero rather than panicking when a field is absent or mistyped —
// handlers treat a missing field as "no-op this aspect" (spec.md §4.3's
// idempotent-handler requirement extends to tolerating partial ABIs).
func decodedBigInt(rec gateway.LogRecord, key string) *big.Int {
	if v, ok := rec.Decoded[key]; ok {
		if b, ok := v.(*big.Int); ok && b != nil {
			return b
		}
	}
	return new(big.Int)
}

func decodedAmount(rec gateway.LogRecord, key string) money.Amount {
	return money.FromBigInt(decodedBigInt(rec, key))
}

func decodedUint64(rec gateway.LogRecord, key string) uint64 {
	return decodedBigInt(rec, key).Uint64()
}

func decodedAddress(rec gateway.LogRecord, key string) common.Address {
	if v, ok := rec.Decoded[key]; ok {
		if a, ok := v.(common.Address); ok {
			return a
		}
	}
	return common.Address{}
}

func decodedString(rec gateway.LogRecord, key string) string {
	if v, ok := rec.Decoded[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func decodedBool(rec gateway.LogRecord, key string) bool {
	if v, ok := rec.Decoded[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func decodedUnixTime(rec gateway.LogRecord, key string) time.Time {
	secs := decodedUint64(rec, key)
	if secs == 0 {
		return rec.BlockTime
	}
	return time.Unix(int64(secs), 0).UTC()
}
