// Package fees holds the deterministic fee schedule. Nothing here does I/O.
package fees

import (
	"math"

	"github.com/shopspring/decimal"

	"money-service/internal/domain"
)

// Tier is one band of the gateway flat-fee schedule. A nil Max means open-ended.
type Tier struct {
	Min decimal.Decimal
	Max *decimal.Decimal
	Fee decimal.Decimal
}

func (t Tier) contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.Min) {
		return false
	}
	return t.Max == nil || amount.LessThanOrEqual(*t.Max)
}

func bound(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// DefaultGatewayTiers is evaluated in ascending order, first match wins.
// Bounds are inclusive on both ends except the open top tier.
var DefaultGatewayTiers = []Tier{
	{Min: decimal.Zero, Max: bound(999), Fee: decimal.NewFromInt(5)},
	{Min: decimal.NewFromInt(1000), Max: bound(4999), Fee: decimal.NewFromInt(15)},
	{Min: decimal.NewFromInt(5000), Max: bound(9999), Fee: decimal.NewFromInt(25)},
	{Min: decimal.NewFromInt(10000), Max: nil, Fee: decimal.NewFromInt(35)},
}

// GatewayFee returns the flat gateway fee for a transaction amount. Non-positive amounts
// cost nothing. Amounts that fall between two bands (e.g. 999.50) take the lower band.
func GatewayFee(amount decimal.Decimal) decimal.Decimal {
	return gatewayFee(DefaultGatewayTiers, amount)
}

func gatewayFee(tiers []Tier, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	for i, tier := range tiers {
		if tier.contains(amount) {
			return tier.Fee
		}
		// gap between this band's max and the next band's min
		if tier.Max != nil && i+1 < len(tiers) && amount.GreaterThan(*tier.Max) && amount.LessThan(tiers[i+1].Min) {
			return tier.Fee
		}
	}
	return decimal.Zero
}

// GatewayFeeFloat is the entry point for callers holding a float, such as decoded gateway
// payloads. NaN and infinities cost nothing.
func GatewayFeeFloat(amount float64) decimal.Decimal {
	d, ok := FromFloat(amount)
	if !ok {
		return decimal.Zero
	}
	return GatewayFee(d)
}

var hundred = decimal.NewFromInt(100)

// ComputeSaleBreakdown applies the buyer markup and the platform fee, both given in percent.
func ComputeSaleBreakdown(price, buyerMarkupPct, platformFeePct decimal.Decimal) domain.SaleBreakdown {
	markup := price.Mul(buyerMarkupPct).Div(hundred).Round(2)
	platformFee := price.Mul(platformFeePct).Div(hundred).Round(2)
	earnings := price.Sub(platformFee)
	if earnings.IsNegative() {
		earnings = decimal.Zero
	}
	return domain.SaleBreakdown{
		Price:          price,
		BuyerMarkup:    markup,
		BuyerTotal:     price.Add(markup),
		PlatformFee:    platformFee,
		SellerEarnings: earnings,
	}
}

// Commission is the platform's share of a booking; rate is a fraction in [0,1].
func Commission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

// FromFloat converts a float to a decimal, refusing NaN and infinities.
func FromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}
