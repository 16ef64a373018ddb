package tool

import (
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// AddAmounts sums two base-10 integer strings. Token amounts can exceed
// int64 range for high-decimal mints, so arithmetic stays in big.Int. On a
// malformed input the first operand is returned unchanged.
func AddAmounts(a, b string) string {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	if !okA || !okB {
		return a
	}
	return x.Add(x, y).String()
}

// SubAmounts subtracts base-10 integer strings (a - b). The result may be
// negative. On a malformed input "0" is returned.
func SubAmounts(a, b string) string {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	if !okA || !okB {
		return "0"
	}
	return x.Sub(x, y).String()
}

// NextDue converts decimal unix-second counters (last payment time plus
// interval) into the next wall-clock due time.
func NextDue(lastPayment, interval string) (time.Time, error) {
	last, err := strconv.ParseUint(lastPayment, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad last payment timestamp %q: %w", lastPayment, err)
	}
	every, err := strconv.ParseUint(interval, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad payment interval %q: %w", interval, err)
	}
	return time.Unix(int64(last+every), 0), nil
}
