package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/provider"
	"money-service/internal/repository/memstore"
)

// fakeGateway answers initiations with initStatus (or initErr) and status queries from
// a script of statuses whose last element repeats.
type fakeGateway struct {
	mu         sync.Mutex
	calls      map[string]int
	initStatus domain.PaymentStatus
	initErr    error
	statuses   []domain.PaymentStatus
	statusErr  error
	fee        *decimal.Decimal
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(map[string]int), initStatus: domain.PaymentStatusPending}
}

func (g *fakeGateway) script(statuses ...domain.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses = statuses
	g.statusErr = nil
}

func (g *fakeGateway) setInitErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initErr = err
}

func (g *fakeGateway) setStatusErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusErr = err
}

func (g *fakeGateway) setFee(fee string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := decimal.RequireFromString(fee)
	g.fee = &d
}

func (g *fakeGateway) count(ops ...string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, op := range ops {
		n += g.calls[op]
	}
	return n
}

func (g *fakeGateway) initiations() int {
	return g.count("InitiateCollection", "InitiatePayout", "InitiateCheckout")
}

func (g *fakeGateway) statusChecks() int {
	return g.count("GetCollectionStatus", "GetCollectionByID", "GetPayoutStatus", "GetPayment")
}

func (g *fakeGateway) initiate(op, reference string, amount decimal.Decimal) (*provider.GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &provider.GatewayResult{
		GatewayID:   "gw-" + reference,
		Reference:   reference,
		Status:      g.initStatus,
		Amount:      amount,
		CheckoutURL: "https://pay.example.com/" + reference,
	}, nil
}

func (g *fakeGateway) status(op, reference string) (*provider.GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	st := domain.PaymentStatusPending
	if len(g.statuses) > 0 {
		st = g.statuses[0]
		if len(g.statuses) > 1 {
			g.statuses = g.statuses[1:]
		}
	}
	res := &provider.GatewayResult{Reference: reference, Status: st}
	if st.IsTerminal() {
		res.Fee = g.fee
	}
	return res, nil
}

func (g *fakeGateway) InitiateCollection(_ context.Context, req *provider.CollectionRequest) (*provider.GatewayResult, error) {
	return g.initiate("InitiateCollection", req.Reference, req.Amount)
}

func (g *fakeGateway) InitiatePayout(_ context.Context, req *provider.PayoutRequest) (*provider.GatewayResult, error) {
	return g.initiate("InitiatePayout", req.Reference, req.Amount)
}

func (g *fakeGateway) InitiateCheckout(_ context.Context, req *provider.CheckoutRequest) (*provider.GatewayResult, error) {
	return g.initiate("InitiateCheckout", req.Reference, req.Amount)
}

func (g *fakeGateway) GetCollectionStatus(_ context.Context, reference string) (*provider.GatewayResult, error) {
	return g.status("GetCollectionStatus", reference)
}

func (g *fakeGateway) GetCollectionByID(_ context.Context, gatewayID string) (*provider.GatewayResult, error) {
	return g.status("GetCollectionByID", gatewayID)
}

func (g *fakeGateway) GetPayoutStatus(_ context.Context, reference string) (*provider.GatewayResult, error) {
	return g.status("GetPayoutStatus", reference)
}

func (g *fakeGateway) GetPayment(_ context.Context, reference string) (*provider.GatewayResult, error) {
	return g.status("GetPayment", reference)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt *domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) ofType(typ domain.EventType) []*domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*domain.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store     *memstore.Store
	gw        *fakeGateway
	events    *recordingPublisher
	clock     *testClock
	payments  *PaymentUsecase
	earnings  *EarningsUsecase
	withdraw  *WithdrawUsecase
	purchases *PurchaseUsecase
	listings  *ListingUsecase
	notifier  *NotificationUsecase
}

var (
	admin = domain.Identity{UserID: "admin-1", Role: domain.RoleAdmin}
	host  = domain.Identity{UserID: "host-1", Role: domain.RoleUser}
	guest = domain.Identity{UserID: "guest-1", Role: domain.RoleUser}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := memstore.New()
	gw := newFakeGateway()
	events := &recordingPublisher{}
	clock := &testClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}

	payments := NewPaymentUsecase(store.Payments(), store.Bookings(), gw, store.StatusCache(), events, "ZMW", logger)
	payments.now = clock.Now
	earnings := NewEarningsUsecase(store.Earnings(), store.Bookings(), events, decimal.RequireFromString("0.10"), "ZMW", logger)
	earnings.now = clock.Now
	withdraw := NewWithdrawUsecase(store.Earnings(), payments, events, "ZMW", logger)
	withdraw.now = clock.Now
	payments.RegisterHook(domain.PurposeBooking, earnings)
	payments.RegisterHook(domain.PurposeWithdrawal, withdraw)

	purchases := NewPurchaseUsecase(store.Purchases(), store.Listings(), events, decimal.NewFromInt(5), decimal.NewFromInt(10), logger)
	purchases.now = clock.Now

	return &fixture{
		store:     store,
		gw:        gw,
		events:    events,
		clock:     clock,
		payments:  payments,
		earnings:  earnings,
		withdraw:  withdraw,
		purchases: purchases,
		listings:  NewListingUsecase(store.Listings(), events, logger),
		notifier:  NewNotificationUsecase(store.Notifications(), store.Users(), logger),
	}
}

func (f *fixture) putBooking(id, amount string) *domain.Booking {
	b := &domain.Booking{
		ID:         id,
		PropertyID: "prop-" + id,
		HostID:     host.UserID,
		GuestID:    guest.UserID,
		Amount:     decimal.RequireFromString(amount),
		Currency:   "ZMW",
		Status:     domain.BookingAwaitingPayment,
	}
	f.store.PutBooking(b)
	return b
}

func (f *fixture) payBooking(t *testing.T, bookingID, amount string) *domain.PaymentIntent {
	t.Helper()
	intent, err := f.payments.InitiateBookingPayment(testContext(t), guest, BookingPaymentInput{
		BookingID: bookingID,
		Amount:    decimal.RequireFromString(amount),
		Msisdn:    "0971234567",
		Operator:  "mtn",
	})
	require.NoError(t, err)
	return intent
}

// fundHost settles a paid booking of the given amount in the host's favour.
func (f *fixture) fundHost(t *testing.T, bookingID, amount string) {
	t.Helper()
	f.putBooking(bookingID, amount)
	intent := f.payBooking(t, bookingID, amount)
	settled, err := f.payments.HandleGatewayWebhook(testContext(t), domain.StatusReport{
		Reference: intent.Reference,
		Status:    domain.PaymentStatusSuccessful,
	})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusSuccessful, settled.Status)
}

func (f *fixture) available(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	ledger, err := f.earnings.GetEarnings(testContext(t), userID)
	require.NoError(t, err)
	return ledger.AvailableBalance
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
