// internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/pkg/id"
	"money-service/internal/provider"
	"money-service/internal/pub"
	"money-service/internal/repository"
)

// DefaultRecheckAfter throttles unforced gateway status queries for one reference.
const DefaultRecheckAfter = 3 * time.Second

// TerminalHook runs when a payment intent of a given purpose reaches a terminal status.
// Hooks run before the terminal status is stored and must be idempotent: a failing hook
// leaves the intent non-terminal so the next callback or poll runs it again.
type TerminalHook interface {
	OnPaymentTerminal(ctx context.Context, p *domain.PaymentIntent) error
}

type PaymentUsecase struct {
	payments     repository.PaymentRepository
	bookings     repository.BookingRepository
	gateway      provider.Gateway
	cache        repository.StatusCache
	hooks        map[domain.Purpose]TerminalHook
	events       emitter
	currency     string
	recheckAfter time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

func NewPaymentUsecase(
	payments repository.PaymentRepository,
	bookings repository.BookingRepository,
	gateway provider.Gateway,
	cache repository.StatusCache,
	publisher pub.Publisher,
	currency string,
	logger *zap.Logger,
) *PaymentUsecase {
	return &PaymentUsecase{
		payments:     payments,
		bookings:     bookings,
		gateway:      gateway,
		cache:        cache,
		hooks:        make(map[domain.Purpose]TerminalHook),
		events:       emitter{publisher: publisher, logger: logger},
		currency:     currency,
		recheckAfter: DefaultRecheckAfter,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}
}

func (uc *PaymentUsecase) RegisterHook(purpose domain.Purpose, hook TerminalHook) {
	uc.hooks[purpose] = hook
}

// StatusResult is what a status check returns. Intent is nil when the answer came
// from the terminal-status cache.
type StatusResult struct {
	Reference string
	Status    domain.PaymentStatus
	Intent    *domain.PaymentIntent
}

func (r *StatusResult) Terminal() bool { return r.Status.IsTerminal() }

// ============================================
// BOOKING COLLECTIONS
// ============================================

type BookingPaymentInput struct {
	BookingID string
	Amount    decimal.Decimal
	Msisdn    string
	Operator  string
	// Reference lets a client retry an initiation without creating a second attempt.
	Reference string
	Metadata  map[string]string
}

// InitiateBookingPayment starts a mobile money collection for a booking owned by the caller.
func (uc *PaymentUsecase) InitiateBookingPayment(ctx context.Context, caller domain.Identity, in BookingPaymentInput) (*domain.PaymentIntent, error) {
	booking, err := uc.bookings.GetBooking(ctx, in.BookingID)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", in.BookingID, err)
	}
	if booking.GuestID != caller.UserID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: booking %s belongs to another guest", domain.ErrForbidden, booking.ID)
	}
	if booking.Status == domain.BookingPaid {
		return nil, fmt.Errorf("%w: booking %s is already paid", domain.ErrInvalidTransition, booking.ID)
	}
	if !in.Amount.Equal(booking.Amount) {
		return nil, fmt.Errorf("%w: amount %s does not match booking amount %s",
			domain.ErrInvalidRequest, in.Amount.StringFixed(2), booking.Amount.StringFixed(2))
	}
	network, err := domain.ParseNetwork(in.Operator)
	if err != nil {
		return nil, err
	}

	reference := in.Reference
	if reference == "" {
		reference = id.GenerateReference(id.PrefixBooking)
	}
	currency := booking.Currency
	if currency == "" {
		currency = uc.currency
	}

	now := uc.now()
	intent := &domain.PaymentIntent{
		ID:                 id.New(),
		Direction:          domain.DirectionCollection,
		Purpose:            domain.PurposeBooking,
		SubjectID:          booking.ID,
		PayerID:            caller.UserID,
		Channel:            domain.ChannelMobileMoney,
		Reference:          reference,
		Amount:             booking.Amount,
		Currency:           currency,
		CounterpartyMsisdn: in.Msisdn,
		Network:            network,
		Status:             domain.PaymentStatusCreated,
		Metadata:           in.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return uc.InitiateCollection(ctx, intent)
}

// InitiateCollection is create-if-absent on the intent's reference. The intent is stored
// in "created" before the gateway is called. An existing intent still in "created" is
// recovered by asking the gateway about its reference first, and only re-sent when the
// gateway has no record of it.
func (uc *PaymentUsecase) InitiateCollection(ctx context.Context, intent *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	intent.Direction = domain.DirectionCollection
	return uc.initiate(ctx, intent)
}

// InitiatePayout is InitiateCollection for money going out.
func (uc *PaymentUsecase) InitiatePayout(ctx context.Context, intent *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	intent.Direction = domain.DirectionPayout
	return uc.initiate(ctx, intent)
}

func (uc *PaymentUsecase) initiate(ctx context.Context, intent *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	intent.Status = domain.PaymentStatusCreated

	stored, created, err := uc.payments.CreateIfAbsent(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("failed to store payment intent: %w", err)
	}
	log := uc.logger.With(
		zap.String("reference", stored.Reference),
		zap.String("direction", string(stored.Direction)),
		zap.String("purpose", string(stored.Purpose)))

	if !created {
		if !sameAttempt(stored, intent) {
			return nil, fmt.Errorf("%w: reference %s belongs to a different payment", domain.ErrAlreadyExists, intent.Reference)
		}
		if stored.Status != domain.PaymentStatusCreated {
			log.Info("initiation replayed, returning existing intent", zap.String("status", string(stored.Status)))
			return stored, nil
		}
		log.Info("recovering intent left in created")
		return uc.recover(ctx, stored)
	}

	log.Info("payment intent created",
		zap.String("amount", stored.Amount.StringFixed(2)),
		zap.String("network", string(stored.Network)))
	return uc.send(ctx, stored)
}

// recover handles an intent whose initiation outcome is unknown.
func (uc *PaymentUsecase) recover(ctx context.Context, p *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	res, err := uc.query(ctx, p)
	if err == nil {
		return uc.applyReport(ctx, p, res.Report())
	}
	if !gatewayHasNoRecord(err) {
		return p, err
	}
	if p.Channel == domain.ChannelCard {
		// Hosted checkouts are started by the payer; a lost one is not re-sent.
		return p, err
	}
	uc.logger.Info("gateway has no record of reference, sending initiation", zap.String("reference", p.Reference))
	return uc.send(ctx, p)
}

// send performs the gateway initiation for a stored "created" intent.
func (uc *PaymentUsecase) send(ctx context.Context, p *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	res, err := uc.initiateAtGateway(ctx, p)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrGatewayRejected), errors.Is(err, domain.ErrNotConfigured):
			// Nothing is in flight at the gateway, the attempt is over.
			failed, ferr := uc.applyReport(ctx, p, domain.StatusReport{
				Reference: p.Reference,
				Status:    domain.PaymentStatusFailed,
				Reason:    err.Error(),
			})
			if ferr != nil {
				uc.logger.Error("failed to record rejected initiation", zap.String("reference", p.Reference), zap.Error(ferr))
				return p, err
			}
			return failed, err
		default:
			// Timeout or unreadable answer: the gateway may hold the attempt. Stay in
			// created so a later check queries the reference before re-sending.
			uc.logger.Warn("initiation outcome unknown, intent left recoverable",
				zap.String("reference", p.Reference),
				zap.Error(err))
			return p, err
		}
	}
	return uc.applyReport(ctx, p, res.Report())
}

// ============================================
// STATUS CHECKS
// ============================================

// CheckStatus reconciles one intent with the gateway. Terminal intents are answered
// from the cache or the store without any gateway call. Unforced checks younger than
// the recheck window return the stored status.
func (uc *PaymentUsecase) CheckStatus(ctx context.Context, reference string, force bool) (*StatusResult, error) {
	if uc.cache != nil {
		if status, ok := uc.cache.GetTerminal(ctx, reference); ok {
			return &StatusResult{Reference: reference, Status: status}, nil
		}
	}

	p, err := uc.payments.GetByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", reference, err)
	}
	if p.Status.IsTerminal() {
		uc.remember(ctx, p)
		return result(p), nil
	}

	now := uc.now()
	if !force && p.LastCheckedAt != nil && now.Sub(*p.LastCheckedAt) < uc.recheckAfter {
		return result(p), nil
	}

	var updated *domain.PaymentIntent
	if p.Status == domain.PaymentStatusCreated {
		updated, err = uc.recover(ctx, p)
	} else {
		var res *provider.GatewayResult
		res, err = uc.query(ctx, p)
		if err == nil {
			updated, err = uc.applyReport(ctx, p, res.Report())
		}
	}
	if err != nil {
		uc.logger.Warn("status check failed",
			zap.String("reference", reference),
			zap.Bool("retryable", domain.Retryable(err)),
			zap.Error(err))
		return result(p), err
	}
	return result(updated), nil
}

// CheckBookingStatus checks the latest payment attempt for a booking.
func (uc *PaymentUsecase) CheckBookingStatus(ctx context.Context, caller domain.Identity, bookingID string, force bool) (*StatusResult, error) {
	booking, err := uc.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", bookingID, err)
	}
	if booking.GuestID != caller.UserID && booking.HostID != caller.UserID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: booking %s", domain.ErrForbidden, bookingID)
	}
	p, err := uc.payments.GetLatestBySubject(ctx, domain.PurposeBooking, bookingID)
	if err != nil {
		return nil, fmt.Errorf("payment for booking %s: %w", bookingID, err)
	}
	return uc.CheckStatus(ctx, p.Reference, force)
}

// HandleGatewayWebhook applies a pushed status through the same reducer as polling.
func (uc *PaymentUsecase) HandleGatewayWebhook(ctx context.Context, report domain.StatusReport) (*domain.PaymentIntent, error) {
	p, err := uc.payments.GetByReference(ctx, report.Reference)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", report.Reference, err)
	}
	if report.Status == domain.PaymentStatusSuccessful && report.Amount.IsPositive() && !report.Amount.Equal(p.Amount) {
		uc.logger.Warn("callback amount differs from intent amount",
			zap.String("reference", p.Reference),
			zap.String("intent_amount", p.Amount.StringFixed(2)),
			zap.String("reported_amount", report.Amount.StringFixed(2)))
	}
	return uc.applyReport(ctx, p, report)
}

func (uc *PaymentUsecase) GetPayment(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	return uc.payments.GetByReference(ctx, reference)
}

// ============================================
// CHECKOUTS (subscriptions, partner plans)
// ============================================

type CheckoutInput struct {
	Purpose   domain.Purpose
	SubjectID string
	Amount    decimal.Decimal
	Currency  string
	Channel   domain.Channel
	Narration string
	Customer  provider.CheckoutCustomer
	Msisdn    string
	Operator  string
	Metadata  map[string]string
}

type CheckoutResult struct {
	Intent      *domain.PaymentIntent
	CheckoutURL string
}

func (uc *PaymentUsecase) CreateCheckout(ctx context.Context, caller domain.Identity, in CheckoutInput) (*CheckoutResult, error) {
	prefix := id.PrefixSubscription
	switch in.Purpose {
	case domain.PurposeSubscription:
	case domain.PurposePartner:
		prefix = id.PrefixPartner
	default:
		return nil, fmt.Errorf("%w: checkout purpose %q", domain.ErrInvalidRequest, in.Purpose)
	}
	if in.SubjectID == "" {
		return nil, fmt.Errorf("%w: subjectId is required", domain.ErrInvalidRequest)
	}
	channel := in.Channel
	if channel == "" {
		channel = domain.ChannelCard
	}
	var network domain.Network
	if channel == domain.ChannelMobileMoney {
		n, err := domain.ParseNetwork(in.Operator)
		if err != nil {
			return nil, err
		}
		network = n
	}
	currency := in.Currency
	if currency == "" {
		currency = uc.currency
	}

	metadata := make(map[string]string, len(in.Metadata)+4)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	metadata["customer_first_name"] = in.Customer.FirstName
	metadata["customer_last_name"] = in.Customer.LastName
	metadata["customer_email"] = in.Customer.Email
	metadata["narration"] = in.Narration

	now := uc.now()
	intent := &domain.PaymentIntent{
		ID:                 id.New(),
		Direction:          domain.DirectionCollection,
		Purpose:            in.Purpose,
		SubjectID:          in.SubjectID,
		PayerID:            caller.UserID,
		Channel:            channel,
		Reference:          id.GenerateReference(prefix),
		Amount:             in.Amount.Round(2),
		Currency:           currency,
		CounterpartyMsisdn: in.Msisdn,
		Network:            network,
		Status:             domain.PaymentStatusCreated,
		Metadata:           metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	stored, _, err := uc.payments.CreateIfAbsent(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("failed to store payment intent: %w", err)
	}

	res, err := uc.gateway.InitiateCheckout(ctx, uc.checkoutRequest(stored))
	if err != nil {
		if errors.Is(err, domain.ErrGatewayRejected) || errors.Is(err, domain.ErrNotConfigured) {
			failed, ferr := uc.applyReport(ctx, stored, domain.StatusReport{
				Reference: stored.Reference,
				Status:    domain.PaymentStatusFailed,
				Reason:    err.Error(),
			})
			if ferr == nil {
				stored = failed
			}
		}
		return &CheckoutResult{Intent: stored}, err
	}
	updated, err := uc.applyReport(ctx, stored, res.Report())
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Intent: updated, CheckoutURL: res.CheckoutURL}, nil
}

// ============================================
// REDUCER PLUMBING
// ============================================

// applyReport runs the state machine for one observation and stores the result.
func (uc *PaymentUsecase) applyReport(ctx context.Context, p *domain.PaymentIntent, report domain.StatusReport) (*domain.PaymentIntent, error) {
	now := uc.now()
	next := *p
	changed, err := next.Apply(report, now)
	if err != nil {
		uc.logger.Error("gateway reported a status the state machine refuses",
			zap.String("reference", p.Reference),
			zap.String("current", string(p.Status)),
			zap.String("reported", string(report.Status)),
			zap.Error(err))
		return p, err
	}
	next.LastCheckedAt = &now

	if changed && next.Status.IsTerminal() {
		if err := uc.runHook(ctx, &next); err != nil {
			return p, err
		}
	}

	ok, err := uc.payments.Update(ctx, &next)
	if err != nil {
		return p, err
	}
	if !ok {
		// Another writer closed the intent first; its terminal status wins.
		stored, err := uc.payments.GetByReference(ctx, p.Reference)
		if err != nil {
			return p, err
		}
		uc.remember(ctx, stored)
		return stored, nil
	}

	if changed {
		uc.logger.Info("payment status changed",
			zap.String("reference", next.Reference),
			zap.String("from", string(p.Status)),
			zap.String("to", string(next.Status)))
		if next.Status.IsTerminal() {
			uc.remember(ctx, &next)
			uc.announce(ctx, &next)
		}
	}
	return &next, nil
}

func (uc *PaymentUsecase) runHook(ctx context.Context, p *domain.PaymentIntent) error {
	hook, ok := uc.hooks[p.Purpose]
	if !ok {
		return nil
	}
	if err := hook.OnPaymentTerminal(ctx, p); err != nil {
		uc.logger.Error("terminal hook failed, intent left open for retry",
			zap.String("reference", p.Reference),
			zap.String("purpose", string(p.Purpose)),
			zap.String("status", string(p.Status)),
			zap.Error(err))
		return fmt.Errorf("settle %s: %w", p.Reference, err)
	}
	return nil
}

func (uc *PaymentUsecase) remember(ctx context.Context, p *domain.PaymentIntent) {
	if uc.cache != nil && p.Status.IsTerminal() {
		uc.cache.SetTerminal(ctx, p.Reference, p.Status)
	}
}

func (uc *PaymentUsecase) announce(ctx context.Context, p *domain.PaymentIntent) {
	typ := domain.EventPaymentFailed
	if p.Status == domain.PaymentStatusSuccessful {
		typ = domain.EventPaymentSucceeded
	}
	payload := map[string]interface{}{
		"reference": p.Reference,
		"purpose":   string(p.Purpose),
		"status":    string(p.Status),
		"amount":    p.Amount.StringFixed(2),
		"currency":  p.Currency,
	}
	if p.FailureReason != nil {
		payload["reason"] = *p.FailureReason
	}
	var recipients []string
	if p.PayerID != "" {
		recipients = []string{p.PayerID}
	}
	uc.events.emit(ctx, typ, "", p.SubjectID, recipients, payload)
}

func (uc *PaymentUsecase) initiateAtGateway(ctx context.Context, p *domain.PaymentIntent) (*provider.GatewayResult, error) {
	switch {
	case p.Direction == domain.DirectionPayout:
		return uc.gateway.InitiatePayout(ctx, &provider.PayoutRequest{
			Amount:    p.Amount,
			Currency:  p.Currency,
			Reference: p.Reference,
			Msisdn:    p.CounterpartyMsisdn,
			Network:   p.Network,
			Narration: "Earnings withdrawal " + p.Reference,
		})
	case p.Channel == domain.ChannelCard || p.Purpose == domain.PurposeSubscription || p.Purpose == domain.PurposePartner:
		return uc.gateway.InitiateCheckout(ctx, uc.checkoutRequest(p))
	default:
		return uc.gateway.InitiateCollection(ctx, &provider.CollectionRequest{
			Amount:    p.Amount,
			Currency:  p.Currency,
			Reference: p.Reference,
			Msisdn:    p.CounterpartyMsisdn,
			Network:   p.Network,
		})
	}
}

func (uc *PaymentUsecase) query(ctx context.Context, p *domain.PaymentIntent) (*provider.GatewayResult, error) {
	switch {
	case p.Direction == domain.DirectionPayout:
		return uc.gateway.GetPayoutStatus(ctx, p.Reference)
	case p.Channel == domain.ChannelCard || p.Purpose == domain.PurposeSubscription || p.Purpose == domain.PurposePartner:
		return uc.gateway.GetPayment(ctx, p.Reference)
	case p.GatewayReference != nil && *p.GatewayReference != "":
		return uc.gateway.GetCollectionByID(ctx, *p.GatewayReference)
	default:
		return uc.gateway.GetCollectionStatus(ctx, p.Reference)
	}
}

func (uc *PaymentUsecase) checkoutRequest(p *domain.PaymentIntent) *provider.CheckoutRequest {
	return &provider.CheckoutRequest{
		Amount:    p.Amount,
		Currency:  p.Currency,
		Reference: p.Reference,
		Narration: p.Metadata["narration"],
		Channel:   p.Channel,
		Customer: provider.CheckoutCustomer{
			FirstName: p.Metadata["customer_first_name"],
			LastName:  p.Metadata["customer_last_name"],
			Email:     p.Metadata["customer_email"],
			Phone:     p.CounterpartyMsisdn,
		},
		Msisdn:   p.CounterpartyMsisdn,
		Network:  p.Network,
		Metadata: map[string]string{"purpose": string(p.Purpose), "subjectId": p.SubjectID},
	}
}

func result(p *domain.PaymentIntent) *StatusResult {
	return &StatusResult{Reference: p.Reference, Status: p.Status, Intent: p}
}

// sameAttempt guards against a reference being reused for a different payment.
func sameAttempt(stored, requested *domain.PaymentIntent) bool {
	return stored.Direction == requested.Direction &&
		stored.Purpose == requested.Purpose &&
		stored.SubjectID == requested.SubjectID &&
		stored.Amount.Equal(requested.Amount)
}

func gatewayHasNoRecord(err error) bool {
	var gwErr *domain.GatewayError
	return errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusNotFound
}
