package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed
}

// WithdrawalRequest is a seller payout. TotalDeducted is reserved against the ledger at creation.
type WithdrawalRequest struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId"`
	AmountRequested decimal.Decimal  `json:"amountRequested"`
	GatewayFee      decimal.Decimal  `json:"gatewayFee"`
	TotalDeducted   decimal.Decimal  `json:"totalDeducted"`
	Currency        string           `json:"currency"`
	Status          WithdrawalStatus `json:"status"`
	TargetMsisdn    string           `json:"targetMsisdn"`
	Operator        Network          `json:"operator"`
	PayoutReference *string          `json:"payoutReference,omitempty"`
	ActualFee       *decimal.Decimal `json:"actualFee,omitempty"`
	FailureReason   *string          `json:"failureReason,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
}

// MoveTo enforces pending -> processing -> {completed, failed} with pending -> failed
// allowed for immediate rejection, and pending -> completed when a payout settles before
// acceptance was recorded.
func (w *WithdrawalRequest) MoveTo(next WithdrawalStatus, now time.Time) error {
	var ok bool
	switch w.Status {
	case WithdrawalPending:
		ok = next == WithdrawalProcessing || next == WithdrawalFailed || next == WithdrawalCompleted
	case WithdrawalProcessing:
		ok = next == WithdrawalCompleted || next == WithdrawalFailed
	}
	if !ok {
		return invalidTransition("withdrawal", string(w.Status), string(next))
	}
	w.Status = next
	w.UpdatedAt = now
	if next.IsTerminal() {
		w.CompletedAt = &now
	}
	return nil
}

func (w *WithdrawalRequest) Fail(reason string, now time.Time) error {
	if err := w.MoveTo(WithdrawalFailed, now); err != nil {
		return err
	}
	w.FailureReason = &reason
	return nil
}

// ReserveEntry is the debit that holds TotalDeducted while the payout is in flight.
func (w *WithdrawalRequest) ReserveEntry(id string, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:        id,
		UserID:    w.UserID,
		Kind:      EntryWithdrawalReserve,
		SourceRef: w.ID,
		Amount:    w.TotalDeducted,
		Net:       w.TotalDeducted.Neg(),
		Currency:  w.Currency,
		CreatedAt: now,
	}
}

// ReleaseEntry gives the reservation back in full.
func (w *WithdrawalRequest) ReleaseEntry(id string, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:        id,
		UserID:    w.UserID,
		Kind:      EntryWithdrawalRelease,
		SourceRef: w.ID,
		Amount:    w.TotalDeducted,
		Net:       w.TotalDeducted,
		Currency:  w.Currency,
		CreatedAt: now,
	}
}

// CompleteEntry turns the reservation into a permanent withdrawal. It does not move the balance.
func (w *WithdrawalRequest) CompleteEntry(id string, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:        id,
		UserID:    w.UserID,
		Kind:      EntryWithdrawalComplete,
		SourceRef: w.ID,
		Amount:    w.TotalDeducted,
		Net:       decimal.Zero,
		Currency:  w.Currency,
		CreatedAt: now,
	}
}

// FeeAdjustmentEntry corrects the difference between the estimated and the charged payout fee.
// It returns nil when there is nothing to correct. Debits are clamped to available so the
// balance never goes negative.
func (w *WithdrawalRequest) FeeAdjustmentEntry(id string, actualFee, available decimal.Decimal, now time.Time) (*LedgerEntry, bool) {
	net := w.GatewayFee.Sub(actualFee)
	if net.IsZero() {
		return nil, false
	}
	clamped := false
	if net.IsNegative() && net.Neg().GreaterThan(available) {
		net = available.Neg()
		clamped = true
		if net.IsZero() {
			return nil, true
		}
	}
	return &LedgerEntry{
		ID:         id,
		UserID:     w.UserID,
		Kind:       EntryFeeAdjustment,
		SourceRef:  w.ID,
		GatewayFee: actualFee,
		Amount:     net.Abs(),
		Net:        net,
		Currency:   w.Currency,
		CreatedAt:  now,
	}, clamped
}

func (w *WithdrawalRequest) String() string {
	return fmt.Sprintf("withdrawal %s (%s %s, %s)", w.ID, w.TotalDeducted.StringFixed(2), w.Currency, w.Status)
}
