package invoice

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Pricing struct {
	PricePerCoin decimal.Decimal
	MinimumCoins int64
	// Places is the number of decimals the total is rounded to.
	Places int32
}

// DefaultPricing is the reference policy: 0.99 per coin, 13 coins minimum.
func DefaultPricing() Pricing {
	return Pricing{
		PricePerCoin: decimal.RequireFromString("0.99"),
		MinimumCoins: 13,
		Places:       2,
	}
}

func (p Pricing) Validate(coins int64) error {
	if coins < p.MinimumCoins {
		return fmt.Errorf("%d coins, minimum %d: %w", coins, p.MinimumCoins, ErrBelowMinimum)
	}

	return nil
}

// Total prices coins, rounded half away from zero to p.Places decimals.
func (p Pricing) Total(coins int64) (decimal.Decimal, error) {
	err := p.Validate(coins)
	if err != nil {
		return decimal.Zero, err
	}

	return p.PricePerCoin.Mul(decimal.NewFromInt(coins)).Round(p.Places), nil
}
