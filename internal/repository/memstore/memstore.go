// Package memstore is an in-memory implementation of the repositories, used by tests
// and by STORE_BACKEND=memory for local runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"money-service/internal/domain"
	"money-service/internal/repository"
)

type Store struct {
	mu sync.RWMutex

	payments      map[string]*domain.PaymentIntent // by reference
	bookings      map[string]*domain.Booking
	ledgers       map[string]*domain.EarningsLedger
	entries       map[string][]*domain.LedgerEntry
	withdrawals   map[string]*domain.WithdrawalRequest
	commissions   map[string]*domain.CommissionRecord
	purchases     map[string]*domain.PurchaseRequest
	listings      map[string]*domain.Listing
	admins        map[string]bool
	notifications []*domain.Notification
	statuses      map[string]domain.PaymentStatus

	lockMu      sync.Mutex
	ledgerLocks map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		payments:    make(map[string]*domain.PaymentIntent),
		bookings:    make(map[string]*domain.Booking),
		ledgers:     make(map[string]*domain.EarningsLedger),
		entries:     make(map[string][]*domain.LedgerEntry),
		withdrawals: make(map[string]*domain.WithdrawalRequest),
		commissions: make(map[string]*domain.CommissionRecord),
		purchases:   make(map[string]*domain.PurchaseRequest),
		listings:    make(map[string]*domain.Listing),
		admins:      make(map[string]bool),
		statuses:    make(map[string]domain.PaymentStatus),
		ledgerLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) Payments() repository.PaymentRepository { return paymentStore{s} }
func (s *Store) Bookings() repository.BookingRepository { return bookingStore{s} }
func (s *Store) Earnings() repository.EarningsRepository { return earningsStore{s} }
func (s *Store) Purchases() repository.PurchaseRepository { return purchaseStore{s} }
func (s *Store) Listings() repository.ListingRepository { return listingStore{s} }
func (s *Store) Users() repository.UserDirectory { return userStore{s} }
func (s *Store) Notifications() repository.NotificationRepository { return notificationStore{s} }
func (s *Store) StatusCache() repository.StatusCache { return statusStore{s} }

// ============================================
// SEEDING
// ============================================

func (s *Store) PutBooking(b *domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bookings[b.ID] = &cp
}

func (s *Store) PutListing(l *domain.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.listings[l.ID] = &cp
}

// PutAdmin registers an active (or deactivated) admin.
func (s *Store) PutAdmin(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[id] = active
}

// ============================================
// PAYMENTS
// ============================================

type paymentStore struct{ s *Store }

func copyPayment(p *domain.PaymentIntent) *domain.PaymentIntent {
	cp := *p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (r paymentStore) CreateIfAbsent(_ context.Context, p *domain.PaymentIntent) (*domain.PaymentIntent, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.payments[p.Reference]; ok {
		return copyPayment(existing), false, nil
	}
	r.s.payments[p.Reference] = copyPayment(p)
	return p, true, nil
}

func (r paymentStore) GetByReference(_ context.Context, reference string) (*domain.PaymentIntent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.payments[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyPayment(p), nil
}

func (r paymentStore) GetLatestBySubject(_ context.Context, purpose domain.Purpose, subjectID string) (*domain.PaymentIntent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *domain.PaymentIntent
	for _, p := range r.s.payments {
		if p.Purpose != purpose || p.SubjectID != subjectID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return copyPayment(latest), nil
}

func (r paymentStore) Update(_ context.Context, p *domain.PaymentIntent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.payments[p.Reference]
	if !ok {
		return false, domain.ErrNotFound
	}
	if stored.Status.IsTerminal() {
		return false, nil
	}
	r.s.payments[p.Reference] = copyPayment(p)
	return true, nil
}

// ============================================
// BOOKINGS
// ============================================

type bookingStore struct{ s *Store }

func (r bookingStore) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r bookingStore) MarkPaid(_ context.Context, id, paymentRef string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.Status == domain.BookingPaid {
		return nil
	}
	b.Status = domain.BookingPaid
	b.PaymentRef = &paymentRef
	b.PaidAt = &at
	return nil
}

// ============================================
// EARNINGS
// ============================================

type earningsStore struct{ s *Store }

func (s *Store) ledgerLock(userID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	m, ok := s.ledgerLocks[userID]
	if !ok {
		m = &sync.Mutex{}
		s.ledgerLocks[userID] = m
	}
	return m
}

func (r earningsStore) InLedgerTx(ctx context.Context, userID, currency string, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	lock := r.s.ledgerLock(userID)
	lock.Lock()
	defer lock.Unlock()

	r.s.mu.RLock()
	var ledger *domain.EarningsLedger
	if l, ok := r.s.ledgers[userID]; ok {
		cp := *l
		ledger = &cp
	} else {
		ledger = domain.NewEarningsLedger(userID, currency)
	}
	r.s.mu.RUnlock()

	tx := &memLedgerTx{
		s:           r.s,
		ledger:      ledger,
		withdrawals: make(map[string]*domain.WithdrawalRequest),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range tx.commissions {
		for _, existing := range r.s.commissions {
			if existing.BookingID == c.BookingID {
				return fmt.Errorf("%w: commission for booking %s", domain.ErrAlreadyExists, c.BookingID)
			}
		}
	}
	r.s.ledgers[userID] = ledger
	r.s.entries[userID] = append(r.s.entries[userID], tx.entries...)
	for id, w := range tx.withdrawals {
		r.s.withdrawals[id] = w
	}
	for _, c := range tx.commissions {
		r.s.commissions[c.ID] = c
	}
	return nil
}

func (r earningsStore) GetLedger(_ context.Context, userID string) (*domain.EarningsLedger, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.ledgers[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r earningsStore) ListEntries(_ context.Context, userID string) ([]*domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.LedgerEntry, 0, len(r.s.entries[userID]))
	for _, e := range r.s.entries[userID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (r earningsStore) GetWithdrawal(_ context.Context, id string) (*domain.WithdrawalRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r earningsStore) GetWithdrawalByPayoutRef(_ context.Context, reference string) (*domain.WithdrawalRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, w := range r.s.withdrawals {
		if w.PayoutReference != nil && *w.PayoutReference == reference {
			cp := *w
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r earningsStore) ListWithdrawals(_ context.Context, userID string, limit int) ([]*domain.WithdrawalRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.WithdrawalRequest
	for _, w := range r.s.withdrawals {
		if w.UserID == userID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r earningsStore) GetCommission(_ context.Context, id string) (*domain.CommissionRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.commissions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r earningsStore) UpdateCommission(_ context.Context, c *domain.CommissionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.commissions[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.Status = c.Status
	stored.UpdatedAt = c.UpdatedAt
	return nil
}

// CommissionForBooking is a test helper.
func (s *Store) CommissionForBooking(bookingID string) (*domain.CommissionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.commissions {
		if c.BookingID == bookingID {
			cp := *c
			return &cp, true
		}
	}
	return nil, false
}

type memLedgerTx struct {
	s           *Store
	ledger      *domain.EarningsLedger
	entries     []*domain.LedgerEntry
	withdrawals map[string]*domain.WithdrawalRequest
	commissions []*domain.CommissionRecord
}

func (t *memLedgerTx) Ledger() *domain.EarningsLedger { return t.ledger }

func (t *memLedgerTx) HasEntry(_ context.Context, kind domain.EntryKind, sourceRef string) (bool, error) {
	for _, e := range t.entries {
		if e.Kind == kind && e.SourceRef == sourceRef {
			return true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, e := range t.s.entries[t.ledger.UserID] {
		if e.Kind == kind && e.SourceRef == sourceRef {
			return true, nil
		}
	}
	return false, nil
}

func (t *memLedgerTx) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	exists, err := t.HasEntry(ctx, e.Kind, e.SourceRef)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: ledger entry %s/%s", domain.ErrAlreadyExists, e.Kind, e.SourceRef)
	}
	if err := t.ledger.Apply(e); err != nil {
		return err
	}
	cp := *e
	t.entries = append(t.entries, &cp)
	return nil
}

func (t *memLedgerTx) GetWithdrawal(_ context.Context, id string) (*domain.WithdrawalRequest, error) {
	if w, ok := t.withdrawals[id]; ok {
		cp := *w
		return &cp, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	w, ok := t.s.withdrawals[id]
	if !ok || w.UserID != t.ledger.UserID {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (t *memLedgerTx) CreateWithdrawal(_ context.Context, w *domain.WithdrawalRequest) error {
	cp := *w
	t.withdrawals[w.ID] = &cp
	return nil
}

func (t *memLedgerTx) UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	if _, err := t.GetWithdrawal(ctx, w.ID); err != nil {
		return err
	}
	cp := *w
	t.withdrawals[w.ID] = &cp
	return nil
}

func (t *memLedgerTx) CreateCommission(_ context.Context, c *domain.CommissionRecord) error {
	cp := *c
	t.commissions = append(t.commissions, &cp)
	return nil
}

// ============================================
// PURCHASES & LISTINGS
// ============================================

type purchaseStore struct{ s *Store }

func copyPurchase(p *domain.PurchaseRequest) *domain.PurchaseRequest {
	cp := *p
	cp.BuyerIDDocuments = append([]string(nil), p.BuyerIDDocuments...)
	return &cp
}

func (r purchaseStore) Create(_ context.Context, p *domain.PurchaseRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.purchases[p.ID]; ok {
		return fmt.Errorf("%w: purchase request %s", domain.ErrAlreadyExists, p.ID)
	}
	r.s.purchases[p.ID] = copyPurchase(p)
	return nil
}

func (r purchaseStore) Get(_ context.Context, id string) (*domain.PurchaseRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.purchases[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyPurchase(p), nil
}

func (r purchaseStore) UpdateIf(_ context.Context, p *domain.PurchaseRequest, from domain.PurchaseStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.purchases[p.ID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if stored.Status != from {
		return false, nil
	}
	r.s.purchases[p.ID] = copyPurchase(p)
	return true, nil
}

type listingStore struct{ s *Store }

func (r listingStore) GetListing(_ context.Context, id string) (*domain.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.listings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r listingStore) CloseSale(_ context.Context, id string, deactivate bool, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.listings[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	changed := false
	if l.SaleStatus != domain.SaleStatusSold {
		l.SaleStatus = domain.SaleStatusSold
		changed = true
	}
	if deactivate && l.IsActive {
		l.IsActive = false
		changed = true
	}
	if changed {
		l.UpdatedAt = at
	}
	return changed, nil
}

func (r listingStore) SetModeration(_ context.Context, id string, status domain.ModerationStatus, note *string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.listings[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.ModerationStatus = status
	l.ModerationNote = note
	l.UpdatedAt = at
	return nil
}

// ============================================
// USERS, NOTIFICATIONS, STATUS CACHE
// ============================================

type userStore struct{ s *Store }

func (r userStore) ListActiveAdminIDs(_ context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []string
	for id, active := range r.s.admins {
		if active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type notificationStore struct{ s *Store }

func (r notificationStore) Create(_ context.Context, n *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.notifications {
		if existing.EventID == n.EventID && existing.RecipientID == n.RecipientID {
			return nil
		}
	}
	cp := *n
	r.s.notifications = append(r.s.notifications, &cp)
	return nil
}

func (r notificationStore) ListByRecipient(_ context.Context, recipientID string, limit int) ([]*domain.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.Notification
	for i := len(r.s.notifications) - 1; i >= 0; i-- {
		n := r.s.notifications[i]
		if n.RecipientID != recipientID {
			continue
		}
		cp := *n
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type statusStore struct{ s *Store }

func (r statusStore) GetTerminal(_ context.Context, reference string) (domain.PaymentStatus, bool) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.statuses[reference]
	return st, ok
}

func (r statusStore) SetTerminal(_ context.Context, reference string, status domain.PaymentStatus) {
	if !status.IsTerminal() {
		return
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.statuses[reference] = status
}
