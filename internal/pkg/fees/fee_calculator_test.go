package fees

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestGatewayFee_Tiers(t *testing.T) {
	cases := []struct {
		amount string
		want   string
	}{
		{"1", "5"},
		{"999", "5"},
		{"999.50", "5"},
		{"1000", "15"},
		{"4999", "15"},
		{"5000", "25"},
		{"9999", "25"},
		{"10000", "35"},
		{"250000", "35"},
		{"0", "0"},
		{"-5", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			got := GatewayFee(d(tc.amount))
			assert.True(t, got.Equal(d(tc.want)), "amount %s: got %s want %s", tc.amount, got, tc.want)
		})
	}
}

func TestGatewayFeeFloat_NonFinite(t *testing.T) {
	assert.True(t, GatewayFeeFloat(math.NaN()).IsZero())
	assert.True(t, GatewayFeeFloat(math.Inf(1)).IsZero())
	assert.True(t, GatewayFeeFloat(1500).Equal(d("15")))
}

func TestComputeSaleBreakdown(t *testing.T) {
	b := ComputeSaleBreakdown(d("1000"), d("5"), d("10"))

	assert.True(t, b.Price.Equal(d("1000")))
	assert.True(t, b.BuyerMarkup.Equal(d("50")))
	assert.True(t, b.BuyerTotal.Equal(d("1050")))
	assert.True(t, b.PlatformFee.Equal(d("100")))
	assert.True(t, b.SellerEarnings.Equal(d("900")))
}

func TestComputeSaleBreakdown_Rounding(t *testing.T) {
	b := ComputeSaleBreakdown(d("333.33"), d("5"), d("10"))

	assert.True(t, b.BuyerMarkup.Equal(d("16.67")))
	assert.True(t, b.PlatformFee.Equal(d("33.33")))
	assert.True(t, b.SellerEarnings.Equal(d("300")))
}

func TestCommission(t *testing.T) {
	assert.True(t, Commission(d("1234.56"), d("0.1")).Equal(d("123.46")))
	assert.True(t, Commission(d("500"), decimal.Zero).IsZero())
}
