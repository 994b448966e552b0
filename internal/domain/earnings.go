package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryBookingCredit      EntryKind = "booking_credit"
	EntryWithdrawalReserve  EntryKind = "withdrawal_reserve"
	EntryWithdrawalRelease  EntryKind = "withdrawal_release"
	EntryWithdrawalComplete EntryKind = "withdrawal_complete"
	EntryFeeAdjustment      EntryKind = "fee_adjustment"
)

// LedgerEntry is an immutable credit or debit. Net is the signed effect on the available balance.
// (UserID, Kind, SourceRef) is unique, which is what makes settlement replays harmless.
type LedgerEntry struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Kind        EntryKind       `json:"kind"`
	SourceRef   string          `json:"sourceRef"`
	Gross       decimal.Decimal `json:"gross"`
	PlatformFee decimal.Decimal `json:"platformFee"`
	GatewayFee  decimal.Decimal `json:"gatewayFee"`
	Amount      decimal.Decimal `json:"amount"`
	Net         decimal.Decimal `json:"net"`
	Currency    string          `json:"currency"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// EarningsLedger is the per-seller running view over the entries.
type EarningsLedger struct {
	UserID           string          `json:"userId"`
	Currency         string          `json:"currency"`
	TotalGross       decimal.Decimal `json:"totalGross"`
	TotalPlatformFee decimal.Decimal `json:"totalPlatformFee"`
	TotalGatewayFee  decimal.Decimal `json:"totalGatewayFee"`
	TotalWithdrawn   decimal.Decimal `json:"totalWithdrawn"`
	Reserved         decimal.Decimal `json:"reserved"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	EntryCount       int64           `json:"entryCount"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func NewEarningsLedger(userID, currency string) *EarningsLedger {
	return &EarningsLedger{UserID: userID, Currency: currency}
}

// Apply folds one entry into the running values.
func (l *EarningsLedger) Apply(e *LedgerEntry) error {
	next := l.AvailableBalance.Add(e.Net)
	if next.IsNegative() {
		return fmt.Errorf("%w: entry %s would leave %s", ErrInsufficientBalance, e.Kind, next.StringFixed(2))
	}

	switch e.Kind {
	case EntryBookingCredit:
		l.TotalGross = l.TotalGross.Add(e.Gross)
		l.TotalPlatformFee = l.TotalPlatformFee.Add(e.PlatformFee)
		l.TotalGatewayFee = l.TotalGatewayFee.Add(e.GatewayFee)
	case EntryWithdrawalReserve:
		l.Reserved = l.Reserved.Add(e.Amount)
	case EntryWithdrawalRelease:
		l.Reserved = l.Reserved.Sub(e.Amount)
	case EntryWithdrawalComplete:
		l.Reserved = l.Reserved.Sub(e.Amount)
		l.TotalWithdrawn = l.TotalWithdrawn.Add(e.Amount)
	case EntryFeeAdjustment:
		l.TotalWithdrawn = l.TotalWithdrawn.Sub(e.Net)
	default:
		return fmt.Errorf("%w: unknown ledger entry kind %q", ErrInvalidRequest, e.Kind)
	}

	l.AvailableBalance = next
	l.EntryCount++
	if e.CreatedAt.After(l.UpdatedAt) {
		l.UpdatedAt = e.CreatedAt
	}
	return nil
}

// FoldLedger rebuilds a ledger from its entries in insertion order.
func FoldLedger(userID, currency string, entries []*LedgerEntry) (*EarningsLedger, error) {
	l := NewEarningsLedger(userID, currency)
	for _, e := range entries {
		if err := l.Apply(e); err != nil {
			return nil, fmt.Errorf("fold entry %s: %w", e.ID, err)
		}
	}
	return l, nil
}

// Balanced checks the accounting identity between the running totals.
func (l *EarningsLedger) Balanced() bool {
	expected := l.TotalGross.
		Sub(l.TotalPlatformFee).
		Sub(l.TotalGatewayFee).
		Sub(l.TotalWithdrawn).
		Sub(l.Reserved)
	return expected.Equal(l.AvailableBalance)
}

// SameTotals compares the money fields of two ledgers.
func (l *EarningsLedger) SameTotals(o *EarningsLedger) bool {
	return l.TotalGross.Equal(o.TotalGross) &&
		l.TotalPlatformFee.Equal(o.TotalPlatformFee) &&
		l.TotalGatewayFee.Equal(o.TotalGatewayFee) &&
		l.TotalWithdrawn.Equal(o.TotalWithdrawn) &&
		l.Reserved.Equal(o.Reserved) &&
		l.AvailableBalance.Equal(o.AvailableBalance) &&
		l.EntryCount == o.EntryCount
}

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionProcessed CommissionStatus = "processed"
	CommissionPaid      CommissionStatus = "paid"
)

// CommissionRecord keeps the platform's cut of one booking. CommissionAmount is derived
// from BookingAmount and Rate at construction and has no setter.
type CommissionRecord struct {
	ID               string           `json:"id"`
	BookingID        string           `json:"bookingId"`
	PropertyID       string           `json:"propertyId"`
	HostID           string           `json:"hostId"`
	Rate             decimal.Decimal  `json:"rate"`
	BookingAmount    decimal.Decimal  `json:"bookingAmount"`
	CommissionAmount decimal.Decimal  `json:"commissionAmount"`
	Status           CommissionStatus `json:"status"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

func NewCommissionRecord(id, bookingID, propertyID, hostID string, bookingAmount, rate decimal.Decimal, now time.Time) (*CommissionRecord, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: commission rate %s outside [0,1]", ErrInvalidRequest, rate)
	}
	return &CommissionRecord{
		ID:               id,
		BookingID:        bookingID,
		PropertyID:       propertyID,
		HostID:           hostID,
		Rate:             rate,
		BookingAmount:    bookingAmount,
		CommissionAmount: bookingAmount.Mul(rate).Round(2),
		Status:           CommissionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (c *CommissionRecord) MoveTo(next CommissionStatus, now time.Time) error {
	allowed := (c.Status == CommissionPending && next == CommissionProcessed) ||
		(c.Status == CommissionProcessed && next == CommissionPaid)
	if !allowed {
		return invalidTransition("commission", string(c.Status), string(next))
	}
	c.Status = next
	c.UpdatedAt = now
	return nil
}

type BookingStatus string

const (
	BookingAwaitingPayment BookingStatus = "awaiting_payment"
	BookingPaid            BookingStatus = "paid"
)

// Booking is the slice of a reservation that money movement needs.
type Booking struct {
	ID         string          `json:"id"`
	PropertyID string          `json:"propertyId"`
	HostID     string          `json:"hostId"`
	GuestID    string          `json:"guestId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     BookingStatus   `json:"status"`
	PaymentRef *string         `json:"paymentRef,omitempty"`
	PaidAt     *time.Time      `json:"paidAt,omitempty"`
}
