// internal/usecase/earnings_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/pkg/fees"
	"money-service/internal/pkg/id"
	"money-service/internal/pub"
	"money-service/internal/repository"
)

type EarningsUsecase struct {
	earnings       repository.EarningsRepository
	bookings       repository.BookingRepository
	events         emitter
	commissionRate decimal.Decimal
	currency       string
	now            func() time.Time
	logger         *zap.Logger
}

func NewEarningsUsecase(
	earnings repository.EarningsRepository,
	bookings repository.BookingRepository,
	publisher pub.Publisher,
	commissionRate decimal.Decimal,
	currency string,
	logger *zap.Logger,
) *EarningsUsecase {
	return &EarningsUsecase{
		earnings:       earnings,
		bookings:       bookings,
		events:         emitter{publisher: publisher, logger: logger},
		commissionRate: commissionRate,
		currency:       currency,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
}

// OnPaymentTerminal settles successful booking collections.
func (uc *EarningsUsecase) OnPaymentTerminal(ctx context.Context, p *domain.PaymentIntent) error {
	if p.Status != domain.PaymentStatusSuccessful || p.Direction != domain.DirectionCollection {
		return nil
	}
	_, err := uc.SettleBooking(ctx, p)
	return err
}

// SettleBooking credits the host for a successful booking payment. The credit is keyed by
// the payment reference, so settling the same payment twice changes nothing and returns nil.
func (uc *EarningsUsecase) SettleBooking(ctx context.Context, p *domain.PaymentIntent) (*domain.LedgerEntry, error) {
	booking, err := uc.bookings.GetBooking(ctx, p.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", p.SubjectID, err)
	}
	if booking.Status == domain.BookingPaid && booking.PaymentRef != nil && *booking.PaymentRef != p.Reference {
		uc.logger.Error("booking already paid by another payment, not crediting again",
			zap.String("reference", p.Reference),
			zap.String("booking_id", booking.ID),
			zap.String("paid_by", *booking.PaymentRef))
		return nil, nil
	}

	gross := p.Amount
	platformFee := fees.Commission(gross, uc.commissionRate)
	gatewayFee := fees.GatewayFee(gross)
	if p.FeeCharged != nil {
		gatewayFee = p.FeeCharged.Round(2)
	}
	// The host bears the gateway fee but a credit never goes negative.
	if limit := gross.Sub(platformFee); gatewayFee.GreaterThan(limit) {
		gatewayFee = decimal.Max(limit, decimal.Zero)
	}
	currency := booking.Currency
	if currency == "" {
		currency = p.Currency
	}

	now := uc.now()
	var entry *domain.LedgerEntry
	err = uc.earnings.InLedgerTx(ctx, booking.HostID, currency, func(ctx context.Context, tx repository.LedgerTx) error {
		exists, err := tx.HasEntry(ctx, domain.EntryBookingCredit, p.Reference)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		entry = &domain.LedgerEntry{
			ID:          id.New(),
			UserID:      booking.HostID,
			Kind:        domain.EntryBookingCredit,
			SourceRef:   p.Reference,
			Gross:       gross,
			PlatformFee: platformFee,
			GatewayFee:  gatewayFee,
			Amount:      gross,
			Net:         gross.Sub(platformFee).Sub(gatewayFee),
			Currency:    currency,
			CreatedAt:   now,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		commission, err := domain.NewCommissionRecord(id.New(), booking.ID, booking.PropertyID, booking.HostID, gross, uc.commissionRate, now)
		if err != nil {
			return err
		}
		if err := commission.MoveTo(domain.CommissionProcessed, now); err != nil {
			return err
		}
		return tx.CreateCommission(ctx, commission)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit host %s for %s: %w", booking.HostID, p.Reference, err)
	}

	if err := uc.bookings.MarkPaid(ctx, booking.ID, p.Reference, now); err != nil {
		return nil, err
	}

	if entry == nil {
		uc.logger.Info("booking already settled", zap.String("reference", p.Reference), zap.String("booking_id", booking.ID))
		return nil, nil
	}

	uc.logger.Info("booking settled",
		zap.String("reference", p.Reference),
		zap.String("booking_id", booking.ID),
		zap.String("user_id", booking.HostID),
		zap.String("gross", gross.StringFixed(2)),
		zap.String("platform_fee", platformFee.StringFixed(2)),
		zap.String("gateway_fee", gatewayFee.StringFixed(2)),
		zap.String("net", entry.Net.StringFixed(2)))

	uc.events.emit(ctx, domain.EventLedgerCredited, "", booking.ID, []string{booking.HostID}, map[string]interface{}{
		"reference": p.Reference,
		"bookingId": booking.ID,
		"net":       entry.Net.StringFixed(2),
		"currency":  currency,
	})
	return entry, nil
}

// GetEarnings returns the caller's ledger; a seller with no settlements gets an empty one.
func (uc *EarningsUsecase) GetEarnings(ctx context.Context, userID string) (*domain.EarningsLedger, error) {
	ledger, err := uc.earnings.GetLedger(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewEarningsLedger(userID, uc.currency), nil
	}
	return ledger, err
}

func (uc *EarningsUsecase) ListEntries(ctx context.Context, userID string) ([]*domain.LedgerEntry, error) {
	return uc.earnings.ListEntries(ctx, userID)
}

// VerifyLedger rebuilds the ledger from its entries and compares it with the stored running values.
func (uc *EarningsUsecase) VerifyLedger(ctx context.Context, userID string) (*domain.EarningsLedger, error) {
	stored, err := uc.GetEarnings(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := uc.earnings.ListEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	folded, err := domain.FoldLedger(userID, stored.Currency, entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLedgerDrift, err)
	}
	if !folded.SameTotals(stored) || !stored.Balanced() {
		uc.logger.Error("ledger drift detected",
			zap.String("user_id", userID),
			zap.String("stored_available", stored.AvailableBalance.StringFixed(2)),
			zap.String("folded_available", folded.AvailableBalance.StringFixed(2)),
			zap.Int64("stored_entries", stored.EntryCount),
			zap.Int64("folded_entries", folded.EntryCount))
		return folded, fmt.Errorf("%w: user %s", domain.ErrLedgerDrift, userID)
	}
	return stored, nil
}

// MarkCommissionPaid records that the platform has collected its commission.
func (uc *EarningsUsecase) MarkCommissionPaid(ctx context.Context, caller domain.Identity, commissionID string) (*domain.CommissionRecord, error) {
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: admin only", domain.ErrForbidden)
	}
	c, err := uc.earnings.GetCommission(ctx, commissionID)
	if err != nil {
		return nil, fmt.Errorf("commission %s: %w", commissionID, err)
	}
	if c.Status == domain.CommissionPaid {
		return c, nil
	}
	if err := c.MoveTo(domain.CommissionPaid, uc.now()); err != nil {
		return nil, err
	}
	if err := uc.earnings.UpdateCommission(ctx, c); err != nil {
		return nil, err
	}
	uc.logger.Info("commission paid", zap.String("commission_id", c.ID), zap.String("booking_id", c.BookingID))
	return c, nil
}
