package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"money-service/internal/domain"
)

func TestSettleBooking_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.putBooking("bk-1", "1000")
	intent := f.payBooking(t, "bk-1", "1000")
	ctx := testContext(t)

	intent.Status = domain.PaymentStatusSuccessful
	first, err := f.earnings.SettleBooking(ctx, intent)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, dec("1000").Equal(first.Gross))
	assert.True(t, dec("100").Equal(first.PlatformFee))
	assert.True(t, dec("15").Equal(first.GatewayFee))
	assert.True(t, dec("885").Equal(first.Net))

	second, err := f.earnings.SettleBooking(ctx, intent)
	require.NoError(t, err)
	assert.Nil(t, second)

	entries, err := f.earnings.ListEntries(ctx, host.UserID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.True(t, dec("885").Equal(f.available(t, host.UserID)))
	assert.Len(t, f.events.ofType(domain.EventLedgerCredited), 1)

	commission, ok := f.store.CommissionForBooking("bk-1")
	require.True(t, ok)
	assert.Equal(t, domain.CommissionProcessed, commission.Status)
	assert.True(t, dec("100").Equal(commission.CommissionAmount))
}

func TestSettleBooking_GatewayFeeNeverMakesNetNegative(t *testing.T) {
	f := newFixture(t)
	f.putBooking("bk-small", "5")
	intent := f.payBooking(t, "bk-small", "5")

	intent.Status = domain.PaymentStatusSuccessful
	entry, err := f.earnings.SettleBooking(testContext(t), intent)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, dec("0.5").Equal(entry.PlatformFee))
	assert.True(t, dec("4.5").Equal(entry.GatewayFee))
	assert.True(t, entry.Net.IsZero())
}

func TestSettleBooking_ReportedFeeIsKeptAtMoneyScale(t *testing.T) {
	f := newFixture(t)
	f.putBooking("bk-1", "1000")
	intent := f.payBooking(t, "bk-1", "1000")
	ctx := testContext(t)

	fee := dec("2.555")
	intent.Status = domain.PaymentStatusSuccessful
	intent.FeeCharged = &fee
	entry, err := f.earnings.SettleBooking(ctx, intent)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "2.56", entry.GatewayFee.String())
	assert.Equal(t, "897.44", entry.Net.String())

	ledger, err := f.earnings.VerifyLedger(ctx, host.UserID)
	require.NoError(t, err)
	assert.True(t, ledger.Balanced())
	assert.Equal(t, "897.44", ledger.AvailableBalance.String())
}

func TestSettleBooking_SecondPaymentForPaidBookingIsNotCredited(t *testing.T) {
	f := newFixture(t)
	f.fundHost(t, "bk-1", "1000")
	ctx := testContext(t)

	duplicate := &domain.PaymentIntent{
		Reference: "BKG_OTHER",
		Direction: domain.DirectionCollection,
		Purpose:   domain.PurposeBooking,
		SubjectID: "bk-1",
		Amount:    dec("1000"),
		Currency:  "ZMW",
		Status:    domain.PaymentStatusSuccessful,
	}
	entry, err := f.earnings.SettleBooking(ctx, duplicate)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.True(t, dec("885").Equal(f.available(t, host.UserID)))
}

func TestGetEarnings_UnknownSellerHasEmptyLedger(t *testing.T) {
	f := newFixture(t)
	ledger, err := f.earnings.GetEarnings(testContext(t), "nobody")
	require.NoError(t, err)
	assert.True(t, ledger.AvailableBalance.IsZero())
	assert.Equal(t, "ZMW", ledger.Currency)
}

func TestVerifyLedger(t *testing.T) {
	f := newFixture(t)
	f.fundHost(t, "bk-1", "1000")
	f.fundHost(t, "bk-2", "5000")
	ctx := testContext(t)

	_, err := f.withdraw.RequestWithdrawal(ctx, host, WithdrawalInput{Amount: dec("300"), Msisdn: "0971234567", Operator: "MTN"})
	require.NoError(t, err)

	ledger, err := f.earnings.VerifyLedger(ctx, host.UserID)
	require.NoError(t, err)
	assert.True(t, ledger.Balanced())
	// 885 + (5000 - 500 - 25) - (300 + 5)
	assert.True(t, dec("5055").Equal(ledger.AvailableBalance), ledger.AvailableBalance.String())
	assert.True(t, dec("305").Equal(ledger.Reserved))
}

func TestMarkCommissionPaid(t *testing.T) {
	f := newFixture(t)
	f.fundHost(t, "bk-1", "1000")
	ctx := testContext(t)
	commission, ok := f.store.CommissionForBooking("bk-1")
	require.True(t, ok)

	_, err := f.earnings.MarkCommissionPaid(ctx, host, commission.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	paid, err := f.earnings.MarkCommissionPaid(ctx, admin, commission.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommissionPaid, paid.Status)

	again, err := f.earnings.MarkCommissionPaid(ctx, admin, commission.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommissionPaid, again.Status)

	_, err = f.earnings.MarkCommissionPaid(ctx, admin, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
