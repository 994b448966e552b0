package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"money-service/internal/domain"
)

func withdrawal(amount string) WithdrawalInput {
	return WithdrawalInput{Amount: dec(amount), Msisdn: "0971234567", Operator: "airtel"}
}

func TestRequestWithdrawal_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.fundHost(t, "bk-1", "1000")
	before := f.gw.initiations()

	// 881 + 5 fee > 885
	_, err := f.withdraw.RequestWithdrawal(testContext(t), host, withdrawal("881"))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, before, f.gw.initiations())
	assert.True(t, dec("885").Equal(f.available(t, host.UserID)))

	w, err := f.withdraw.RequestWithdrawal(testContext(t), host, withdrawal("880"))
	require.NoError(t, err)
	assert.True(t, dec("885").Equal(w.TotalDeducted))
	assert.True(t, f.available(t, host.UserID).IsZero())
}

func TestRequestWithdrawal_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, err := f.withdraw.RequestWithdrawal(ctx, host, withdrawal("0"))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.withdraw.RequestWithdrawal(ctx, host, WithdrawalInput{Amount: dec("10"), Operator: "MTN"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.withdraw.RequestWithdrawal(ctx, host, WithdrawalInput{Amount: dec("10"), Msisdn: "097", Operator: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRequestWithdrawal_SubCentAmountIsRefusedBeforeReserving(t *testing.T) {
	f := newFixture(t)
	f.fundHost(t, "bk-1", "1000")
	ctx := testContext(t)
	before := f.gw.initiations()

	_, err := f.withdraw.RequestWithdrawal(ctx, host, withdrawal("0.004"))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	stored, err := f.withdraw.ListWithdrawals(ctx, host.UserID, 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, before, f.gw.initiations())
	assert.True(t, dec("885").Equal(f.available(t, host.UserID)))
}

type unsentPayouts struct{ err error }

func (p unsentPayouts) InitiatePayout(context.Context, *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	return nil, p.err
}

func TestRequestWithdrawal_PayoutNeverStoredReleasesReservation(t *testing.T) {
	for name, cause := range map[string]error{
		"store error":   errors.New("store unavailable"),
		"store timeout": fmt.Errorf("failed to store payment intent: %w", domain.ErrGatewayTimeout),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.fundHost(t, "bk-1", "1000")
			ctx := testContext(t)

			uc := NewWithdrawUsecase(f.store.Earnings(), unsentPayouts{err: cause}, f.events, "ZMW", zap.NewNop())
			w, err := uc.RequestWithdrawal(ctx, host, withdrawal("500"))
			require.ErrorIs(t, err, cause)
			require.NotNil(t, w)
			assert.Equal(t, domain.WithdrawalFailed, w.Status)
			require.NotNil(t, w.FailureReason)
			assert.Contains(t, *w.FailureReason, cause.Error())

			assert.True(t, dec("885").Equal(f.available(t, host.UserID)))
			ledger, err := f.earnings.VerifyLedger(ctx, host.UserID)
			require.NoError(t, err)
			assert.True(t, ledger.Reserved.IsZero())
			assert.Len(t, f.events.ofType(domain.EventWithdrawalFailed), 1)
		})
	}
}

func TestRequestWithdrawal_AcceptedThenCompletedWithFeeDrift(t *testing.T) {
	f := newFixture(t)
	f.fundHost(t, "bk-1", "1000")
	ctx := testContext(t)

	w, err := f.withdraw.RequestWithdrawal(ctx, host, withdrawal("500"))
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalProcessing, w.Status)
	assert.True(t, dec("5").Equal(w.GatewayFee))
	assert.True(t, dec("380").Equal(f.available(t, host.UserID)))
	require.NotNil(t, w.PayoutReference)

	// the gateway charged 3 instead of the estimated 5
	f.gw.setFee("3")
	f.gw.script(domain.PaymentStatusSuccessful)
	res, err := f.payments.CheckStatus(ctx, *w.PayoutReference, true)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccessful, res.Status)
	assert.Equal(t, 1, f.gw.count("GetPayoutStatus"))

	done, err := f.withdraw.GetWithdrawal(ctx, host, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalCompleted, done.Status)
	require.NotNil(t, done.ActualFee)
	assert.True(t, dec("3").Equal(*done.ActualFee))

	ledger, err := f.earnings.VerifyLedger(ctx, host.UserID)
	require.NoError(t, err)
	assert.True(t, dec("382").Equal(ledger.AvailableBalance))
	assert.True(t, dec("503").Equal(ledger.TotalWithdrawn))
	assert.True(t, ledger.Reserved.IsZero())
	assert.Len(t, f.events.ofType(domain.EventWithdrawalComplete), 1)

	// a replayed success changes nothing
	err = f.withdraw.OnPaymentTerminal(ctx, &domain.PaymentIntent{
		Reference: *w.PayoutReference,
		SubjectID: w.ID,
		Status:    domain.PaymentStatusSuccessful,
	})
	require.NoError(t, err)
	assert.True(t, dec("382").Equal(f.available(t, host.UserID)))
}

func TestRequestWithdrawal_RejectedRestoresBalanceExactly(t *testing.T) {
	f := newFixture(t)
	f.fundHost(t, "bk-1", "1000")
	ctx := testContext(t)
	before := f.available(t, host.UserID)

	f.gw.setInitErr(domain.NewGatewayError(domain.ErrGatewayRejected, "initiate_payout", "", http.StatusUnprocessableEntity, []byte(`{"status":false,"message":"wallet not found"}`), nil))
	w, err := f.withdraw.RequestWithdrawal(ctx, host, withdrawal("250"))
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	require.NotNil(t, w)
	assert.Equal(t, domain.WithdrawalFailed, w.Status)
	require.NotNil(t, w.FailureReason)

	assert.True(t, before.Equal(f.available(t, host.UserID)))
	ledger, err := f.earnings.VerifyLedger(ctx, host.UserID)
	require.NoError(t, err)
	assert.True(t, ledger.Reserved.IsZero())
	assert.Len(t, f.events.ofType(domain.EventWithdrawalFailed), 1)
}

func TestRequestWithdrawal_TimeoutHoldsReservationUntilKnown(t *testing.T) {
	f := newFixture(t)
	f.fundHost(t, "bk-1", "1000")
	ctx := testContext(t)

	f.gw.setInitErr(domain.NewGatewayError(domain.ErrGatewayTimeout, "initiate_payout", "", 0, nil, context.DeadlineExceeded))
	w, err := f.withdraw.RequestWithdrawal(ctx, host, withdrawal("100"))
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalPending, w.Status)
	assert.True(t, dec("780").Equal(f.available(t, host.UserID)))

	f.gw.setInitErr(nil)
	f.gw.script(domain.PaymentStatusFailed)
	res, err := f.payments.CheckStatus(ctx, *w.PayoutReference, true)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, res.Status)

	closed, err := f.withdraw.GetWithdrawal(ctx, host, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalFailed, closed.Status)
	assert.True(t, dec("885").Equal(f.available(t, host.UserID)))
}

func TestRequestWithdrawal_ConcurrentRequestsCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	f.fundHost(t, "bk-1", "1000")
	ctx := testContext(t)

	const workers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.withdraw.RequestWithdrawal(ctx, host, withdrawal("500"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, domain.ErrInsufficientBalance):
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, refused)
	assert.True(t, dec("380").Equal(f.available(t, host.UserID)))

	_, err := f.earnings.VerifyLedger(ctx, host.UserID)
	require.NoError(t, err)
}

func TestGetWithdrawal_OwnerOrAdmin(t *testing.T) {
	f := newFixture(t)
	f.fundHost(t, "bk-1", "1000")
	ctx := testContext(t)

	w, err := f.withdraw.RequestWithdrawal(ctx, host, withdrawal("100"))
	require.NoError(t, err)

	_, err = f.withdraw.GetWithdrawal(ctx, guest, w.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.withdraw.GetWithdrawal(ctx, admin, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	list, err := f.withdraw.ListWithdrawals(ctx, host.UserID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
