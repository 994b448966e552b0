// internal/repository/repository.go
package repository

import (
	"context"
	"time"

	"money-service/internal/domain"
)

type PaymentRepository interface {
	// CreateIfAbsent stores the intent unless its reference is taken. It returns the stored
	// intent and whether this call created it.
	CreateIfAbsent(ctx context.Context, p *domain.PaymentIntent) (*domain.PaymentIntent, bool, error)
	GetByReference(ctx context.Context, reference string) (*domain.PaymentIntent, error)
	GetLatestBySubject(ctx context.Context, purpose domain.Purpose, subjectID string) (*domain.PaymentIntent, error)
	// Update writes the intent only while the stored row is non-terminal. It returns false
	// when the stored row had already reached a terminal status.
	Update(ctx context.Context, p *domain.PaymentIntent) (bool, error)
}

type BookingRepository interface {
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	// MarkPaid is a no-op for a booking that is already paid.
	MarkPaid(ctx context.Context, id, paymentRef string, at time.Time) error
}

// LedgerTx is a unit of work holding the per-seller ledger lock.
type LedgerTx interface {
	Ledger() *domain.EarningsLedger
	HasEntry(ctx context.Context, kind domain.EntryKind, sourceRef string) (bool, error)
	// AppendEntry folds the entry into Ledger() and stores it.
	AppendEntry(ctx context.Context, e *domain.LedgerEntry) error
	GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	CreateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error
	UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error
	CreateCommission(ctx context.Context, c *domain.CommissionRecord) error
}

type EarningsRepository interface {
	// InLedgerTx runs fn with the seller's ledger locked, creating the ledger on first use.
	// Everything fn wrote, including the updated running ledger, commits only when fn returns nil.
	InLedgerTx(ctx context.Context, userID, currency string, fn func(ctx context.Context, tx LedgerTx) error) error
	GetLedger(ctx context.Context, userID string) (*domain.EarningsLedger, error)
	ListEntries(ctx context.Context, userID string) ([]*domain.LedgerEntry, error)
	GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	GetWithdrawalByPayoutRef(ctx context.Context, reference string) (*domain.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, userID string, limit int) ([]*domain.WithdrawalRequest, error)
	GetCommission(ctx context.Context, id string) (*domain.CommissionRecord, error)
	UpdateCommission(ctx context.Context, c *domain.CommissionRecord) error
}

type PurchaseRepository interface {
	Create(ctx context.Context, p *domain.PurchaseRequest) error
	Get(ctx context.Context, id string) (*domain.PurchaseRequest, error)
	// UpdateIf writes p only while the stored status equals from.
	UpdateIf(ctx context.Context, p *domain.PurchaseRequest, from domain.PurchaseStatus) (bool, error)
}

type ListingRepository interface {
	GetListing(ctx context.Context, id string) (*domain.Listing, error)
	// CloseSale sets sale_status=sold and, when deactivate is set, is_active=false.
	// Each value is written at most once; it reports whether anything changed.
	CloseSale(ctx context.Context, id string, deactivate bool, at time.Time) (bool, error)
	SetModeration(ctx context.Context, id string, status domain.ModerationStatus, note *string, at time.Time) error
}

type UserDirectory interface {
	ListActiveAdminIDs(ctx context.Context) ([]string, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*domain.Notification, error)
}

// StatusCache remembers terminal payment statuses so repeated status checks skip the store.
type StatusCache interface {
	GetTerminal(ctx context.Context, reference string) (domain.PaymentStatus, bool)
	SetTerminal(ctx context.Context, reference string, status domain.PaymentStatus)
}
