package service

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

const etherDecimals = 18

// ParseEther converts a decimal ETH amount ("0.1") to wei.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("%w: must be positive", domain.ErrInvalidAmount)
	}
	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("%w: more than %d decimals", domain.ErrInvalidAmount, etherDecimals)
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as a decimal ETH amount without trailing zeros.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, etherDecimals)
}

// FormatUnits renders v scaled down by decimals.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
