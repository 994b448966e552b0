// internal/usecase/withdraw_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/pkg/fees"
	"money-service/internal/pkg/id"
	"money-service/internal/pub"
	"money-service/internal/repository"
)

// PayoutInitiator sends a stored payout intent to the gateway.
type PayoutInitiator interface {
	InitiatePayout(ctx context.Context, intent *domain.PaymentIntent) (*domain.PaymentIntent, error)
}

type WithdrawUsecase struct {
	earnings repository.EarningsRepository
	payouts  PayoutInitiator
	events   emitter
	currency string
	now      func() time.Time
	logger   *zap.Logger
}

func NewWithdrawUsecase(
	earnings repository.EarningsRepository,
	payouts PayoutInitiator,
	publisher pub.Publisher,
	currency string,
	logger *zap.Logger,
) *WithdrawUsecase {
	return &WithdrawUsecase{
		earnings: earnings,
		payouts:  payouts,
		events:   emitter{publisher: publisher, logger: logger},
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

type WithdrawalInput struct {
	Amount   decimal.Decimal
	Msisdn   string
	Operator string
}

// RequestWithdrawal reserves amount plus the estimated gateway fee against the caller's
// ledger and sends the payout. The balance check and the reservation happen under the
// ledger lock so two concurrent requests cannot both pass against the same balance.
//
// A gateway rejection fails the withdrawal and releases the reservation before this returns,
// and so does any error that left no payout intent behind. A timeout leaves it pending with
// the reservation held until the payout status is known.
func (uc *WithdrawUsecase) RequestWithdrawal(ctx context.Context, caller domain.Identity, in WithdrawalInput) (*domain.WithdrawalRequest, error) {
	in.Amount = in.Amount.Round(2)
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be at least 0.01", domain.ErrInvalidRequest)
	}
	network, err := domain.ParseNetwork(in.Operator)
	if err != nil {
		return nil, err
	}
	msisdn := strings.TrimSpace(in.Msisdn)
	if msisdn == "" {
		return nil, fmt.Errorf("%w: msisdn is required", domain.ErrInvalidRequest)
	}

	fee := fees.GatewayFee(in.Amount)
	total := in.Amount.Add(fee)
	payoutRef := id.GenerateReference(id.PrefixPayout)
	now := uc.now()

	w := &domain.WithdrawalRequest{
		ID:              id.New(),
		UserID:          caller.UserID,
		AmountRequested: in.Amount,
		GatewayFee:      fee,
		TotalDeducted:   total,
		Status:          domain.WithdrawalPending,
		TargetMsisdn:    msisdn,
		Operator:        network,
		PayoutReference: &payoutRef,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = uc.earnings.InLedgerTx(ctx, caller.UserID, uc.currency, func(ctx context.Context, tx repository.LedgerTx) error {
		ledger := tx.Ledger()
		if total.GreaterThan(ledger.AvailableBalance) {
			return fmt.Errorf("%w: requested %s + fee %s exceeds available %s",
				domain.ErrInsufficientBalance,
				in.Amount.StringFixed(2), fee.StringFixed(2), ledger.AvailableBalance.StringFixed(2))
		}
		w.Currency = ledger.Currency
		if err := tx.CreateWithdrawal(ctx, w); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, w.ReserveEntry(id.New(), now))
	})
	if err != nil {
		uc.logger.Info("withdrawal refused",
			zap.String("user_id", caller.UserID),
			zap.String("amount", in.Amount.StringFixed(2)),
			zap.Error(err))
		return nil, err
	}

	uc.logger.Info("withdrawal reserved",
		zap.String("withdrawal_id", w.ID),
		zap.String("user_id", w.UserID),
		zap.String("reference", payoutRef),
		zap.String("total", total.StringFixed(2)))

	intent := &domain.PaymentIntent{
		ID:                 id.New(),
		Direction:          domain.DirectionPayout,
		Purpose:            domain.PurposeWithdrawal,
		SubjectID:          w.ID,
		PayerID:            w.UserID,
		Channel:            domain.ChannelMobileMoney,
		Reference:          payoutRef,
		Amount:             w.AmountRequested,
		Currency:           w.Currency,
		CounterpartyMsisdn: w.TargetMsisdn,
		Network:            w.Operator,
		Status:             domain.PaymentStatusCreated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	stored, payErr := uc.payouts.InitiatePayout(ctx, intent)

	switch {
	case payErr == nil && stored != nil && !stored.Status.IsTerminal():
		if err := uc.markProcessing(ctx, w); err != nil {
			uc.logger.Error("failed to mark withdrawal processing", zap.String("withdrawal_id", w.ID), zap.Error(err))
		}
	case payErr != nil && stored == nil:
		// Nothing was stored under payoutRef, so no status report can ever close this one.
		if err := uc.releaseUnsent(ctx, w, payErr); err != nil {
			uc.logger.Error("failed to release reservation of unsent payout",
				zap.String("withdrawal_id", w.ID),
				zap.String("reference", payoutRef),
				zap.Error(err))
		}
	case payErr != nil && (domain.Retryable(payErr) || errors.Is(payErr, domain.ErrGatewayProtocol)):
		uc.logger.Warn("payout outcome unknown, withdrawal stays pending",
			zap.String("withdrawal_id", w.ID),
			zap.String("reference", payoutRef),
			zap.Error(payErr))
		payErr = nil
	}

	current, err := uc.earnings.GetWithdrawal(ctx, w.ID)
	if err != nil {
		current = w
	}
	return current, payErr
}

func (uc *WithdrawUsecase) releaseUnsent(ctx context.Context, w *domain.WithdrawalRequest, cause error) error {
	var closed *domain.WithdrawalRequest
	err := uc.earnings.InLedgerTx(ctx, w.UserID, w.Currency, func(ctx context.Context, tx repository.LedgerTx) error {
		current, err := tx.GetWithdrawal(ctx, w.ID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return nil
		}
		if err := uc.release(ctx, tx, current, "payout not sent: "+cause.Error()); err != nil {
			return err
		}
		closed = current
		return nil
	})
	if err != nil || closed == nil {
		return err
	}
	uc.logger.Warn("payout not sent, reservation released",
		zap.String("withdrawal_id", closed.ID),
		zap.String("user_id", closed.UserID),
		zap.Error(cause))
	uc.announceClosed(ctx, closed, *closed.PayoutReference)
	return nil
}

// release fails the withdrawal and appends the entry that returns its reservation.
func (uc *WithdrawUsecase) release(ctx context.Context, tx repository.LedgerTx, w *domain.WithdrawalRequest, reason string) error {
	now := uc.now()
	if err := w.Fail(reason, now); err != nil {
		return err
	}
	if err := tx.AppendEntry(ctx, w.ReleaseEntry(id.New(), now)); err != nil {
		return err
	}
	return tx.UpdateWithdrawal(ctx, w)
}

func (uc *WithdrawUsecase) markProcessing(ctx context.Context, w *domain.WithdrawalRequest) error {
	return uc.earnings.InLedgerTx(ctx, w.UserID, w.Currency, func(ctx context.Context, tx repository.LedgerTx) error {
		current, err := tx.GetWithdrawal(ctx, w.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.WithdrawalPending {
			return nil
		}
		if err := current.MoveTo(domain.WithdrawalProcessing, uc.now()); err != nil {
			return err
		}
		return tx.UpdateWithdrawal(ctx, current)
	})
}

// OnPaymentTerminal closes the withdrawal behind a payout intent. Success makes the
// reservation permanent and corrects any fee drift; failure or cancellation releases it.
// Closing an already closed withdrawal does nothing.
func (uc *WithdrawUsecase) OnPaymentTerminal(ctx context.Context, p *domain.PaymentIntent) error {
	w, err := uc.earnings.GetWithdrawal(ctx, p.SubjectID)
	if err != nil {
		return fmt.Errorf("withdrawal %s: %w", p.SubjectID, err)
	}

	var closed *domain.WithdrawalRequest
	err = uc.earnings.InLedgerTx(ctx, w.UserID, w.Currency, func(ctx context.Context, tx repository.LedgerTx) error {
		current, err := tx.GetWithdrawal(ctx, w.ID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return nil
		}
		now := uc.now()

		if p.Status == domain.PaymentStatusSuccessful {
			if err := current.MoveTo(domain.WithdrawalCompleted, now); err != nil {
				return err
			}
			if err := tx.AppendEntry(ctx, current.CompleteEntry(id.New(), now)); err != nil {
				return err
			}
			if p.FeeCharged != nil {
				fee := p.FeeCharged.Round(2)
				current.ActualFee = &fee
				adj, clamped := current.FeeAdjustmentEntry(id.New(), fee, tx.Ledger().AvailableBalance, now)
				if clamped {
					uc.logger.Warn("fee adjustment clamped to available balance",
						zap.String("withdrawal_id", current.ID),
						zap.String("reference", p.Reference),
						zap.String("estimated_fee", current.GatewayFee.StringFixed(2)),
						zap.String("actual_fee", fee.StringFixed(2)))
				}
				if adj != nil {
					if err := tx.AppendEntry(ctx, adj); err != nil {
						return err
					}
				}
			}
		} else {
			reason := "payout " + string(p.Status)
			if p.FailureReason != nil && *p.FailureReason != "" {
				reason = *p.FailureReason
			}
			if err := uc.release(ctx, tx, current, reason); err != nil {
				return err
			}
			closed = current
			return nil
		}

		if err := tx.UpdateWithdrawal(ctx, current); err != nil {
			return err
		}
		closed = current
		return nil
	})
	if err != nil {
		return err
	}
	if closed == nil {
		return nil
	}

	uc.logger.Info("withdrawal closed",
		zap.String("withdrawal_id", closed.ID),
		zap.String("reference", p.Reference),
		zap.String("status", string(closed.Status)))
	uc.announceClosed(ctx, closed, p.Reference)
	return nil
}

func (uc *WithdrawUsecase) announceClosed(ctx context.Context, w *domain.WithdrawalRequest, reference string) {
	typ := domain.EventWithdrawalComplete
	if w.Status == domain.WithdrawalFailed {
		typ = domain.EventWithdrawalFailed
	}
	uc.events.emit(ctx, typ, "", w.ID, []string{w.UserID}, map[string]interface{}{
		"reference": reference,
		"amount":    w.AmountRequested.StringFixed(2),
		"currency":  w.Currency,
		"status":    string(w.Status),
	})
}

func (uc *WithdrawUsecase) ListWithdrawals(ctx context.Context, userID string, limit int) ([]*domain.WithdrawalRequest, error) {
	return uc.earnings.ListWithdrawals(ctx, userID, limit)
}

func (uc *WithdrawUsecase) GetWithdrawal(ctx context.Context, caller domain.Identity, withdrawalID string) (*domain.WithdrawalRequest, error) {
	w, err := uc.earnings.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("withdrawal %s: %w", withdrawalID, err)
		}
		return nil, err
	}
	if w.UserID != caller.UserID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: withdrawal %s", domain.ErrForbidden, withdrawalID)
	}
	return w, nil
}
