// internal/handler/rpc_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/middleware"
	"money-service/internal/pkg/response"
	"money-service/internal/provider"
	"money-service/internal/usecase"
)

const (
	maxBodyBytes           = 1 << 20
	defaultWithdrawalLimit = 20
)

type rpcMethod func(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error)

// RPCHandler serves POST /rpc/{name}. Requests carry {"data": ...}; responses are
// {"result": ...} or {"error": {"status", "message"}}.
type RPCHandler struct {
	payments    *usecase.PaymentUsecase
	earnings    *usecase.EarningsUsecase
	withdrawals *usecase.WithdrawUsecase
	purchases   *usecase.PurchaseUsecase
	listings    *usecase.ListingUsecase
	validate    *validator.Validate
	methods     map[string]rpcMethod
	logger      *zap.Logger
}

func NewRPCHandler(
	payments *usecase.PaymentUsecase,
	earnings *usecase.EarningsUsecase,
	withdrawals *usecase.WithdrawUsecase,
	purchases *usecase.PurchaseUsecase,
	listings *usecase.ListingUsecase,
	logger *zap.Logger,
) *RPCHandler {
	h := &RPCHandler{
		payments:    payments,
		earnings:    earnings,
		withdrawals: withdrawals,
		purchases:   purchases,
		listings:    listings,
		validate:    validator.New(),
		logger:      logger,
	}
	h.methods = map[string]rpcMethod{
		"initiateBookingMobileMoneyPayment":    h.initiateBookingPayment,
		"checkBookingMobileMoneyPaymentStatus": h.checkPaymentStatus,
		"createSubscriptionCheckout":           h.checkout(domain.PurposeSubscription),
		"createPartnerCheckout":                h.checkout(domain.PurposePartner),
		"initiateWithdrawal":                   h.initiateWithdrawal,
		"getWithdrawal":                        h.getWithdrawal,
		"listWithdrawals":                      h.listWithdrawals,
		"getEarnings":                          h.getEarnings,
		"verifyLedger":                         h.verifyLedger,
		"markCommissionPaid":                   h.markCommissionPaid,
		"submitPurchaseRequest":                h.submitPurchase,
		"getPurchaseRequest":                   h.getPurchase,
		"updatePurchaseRequestStatus":          h.updatePurchaseStatus,
		"purgePurchaseDocuments":               h.purgePurchaseDocuments,
		"approveListing":                       h.approveListing,
		"declineListing":                       h.declineListing,
	}
	return h
}

// Methods lists the RPC names this handler serves.
func (h *RPCHandler) Methods() []string {
	names := make([]string, 0, len(h.methods))
	for name := range h.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *RPCHandler) Handle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	method, ok := h.methods[name]
	if !ok {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "unknown method "+name)
		return
	}
	caller, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.CodeUnauthenticated, "caller identity missing")
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidArgument, "invalid request body")
		return
	}

	result, err := method(r.Context(), caller, req.Data)
	if err != nil {
		h.writeError(w, name, err)
		return
	}
	response.Result(w, result)
}

// bind decodes data into dst and runs the struct validation tags.
func (h *RPCHandler) bind(data json.RawMessage, dst interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, validationMessage(err))
	}
	return nil
}

// ============================================
// PAYMENTS
// ============================================

func (h *RPCHandler) initiateBookingPayment(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in bookingPaymentRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	p, err := h.payments.InitiateBookingPayment(ctx, caller, usecase.BookingPaymentInput{
		BookingID: in.BookingID,
		Amount:    in.Amount,
		Msisdn:    in.Msisdn,
		Operator:  in.Operator,
		Reference: in.Reference,
		Metadata:  in.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return bookingPaymentResponse{
		Success:   p.Status != domain.PaymentStatusFailed && p.Status != domain.PaymentStatusCancelled,
		Reference: p.Reference,
		PaymentID: p.ID,
		Status:    p.Status,
	}, nil
}

// checkPaymentStatus answers with the last known status when the gateway cannot be reached,
// so a polling client keeps polling instead of giving up on a transient failure.
func (h *RPCHandler) checkPaymentStatus(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in paymentStatusRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}

	var (
		res *usecase.StatusResult
		err error
	)
	if in.Reference != "" {
		p, gerr := h.payments.GetPayment(ctx, in.Reference)
		if gerr != nil {
			return nil, fmt.Errorf("payment %s: %w", in.Reference, gerr)
		}
		if p.PayerID != caller.UserID && !caller.IsAdmin() {
			return nil, fmt.Errorf("%w: payment %s", domain.ErrForbidden, in.Reference)
		}
		res, err = h.payments.CheckStatus(ctx, in.Reference, in.ForceCheck)
	} else {
		res, err = h.payments.CheckBookingStatus(ctx, caller, in.BookingID, in.ForceCheck)
	}
	if err != nil && (res == nil || !(domain.Retryable(err) || errors.Is(err, domain.ErrGatewayProtocol))) {
		return nil, err
	}

	out := paymentStatusResponse{
		Success:   res.Status == domain.PaymentStatusSuccessful,
		Reference: res.Reference,
		Status:    res.Status,
		Terminal:  res.Terminal(),
	}
	if res.Status == domain.PaymentStatusFailed || res.Status == domain.PaymentStatusCancelled {
		out.Message = domain.UserMessage(domain.ErrGatewayRejected, res.Reference)
	}
	return out, nil
}

func (h *RPCHandler) checkout(purpose domain.Purpose) rpcMethod {
	return func(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
		var in checkoutRequest
		if err := h.bind(data, &in); err != nil {
			return nil, err
		}
		res, err := h.payments.CreateCheckout(ctx, caller, usecase.CheckoutInput{
			Purpose:   purpose,
			SubjectID: in.SubjectID,
			Amount:    in.Amount,
			Currency:  in.Currency,
			Channel:   domain.Channel(in.Channel),
			Narration: in.Narration,
			Customer: provider.CheckoutCustomer{
				FirstName: in.Customer.FirstName,
				LastName:  in.Customer.LastName,
				Email:     in.Customer.Email,
				Phone:     in.Customer.Phone,
			},
			Msisdn:   in.Msisdn,
			Operator: in.Operator,
			Metadata: in.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return checkoutResponse{
			PaymentReference: res.Intent.Reference,
			PaymentID:        res.Intent.ID,
			Status:           res.Intent.Status,
			CheckoutURL:      res.CheckoutURL,
		}, nil
	}
}

// ============================================
// EARNINGS & WITHDRAWALS
// ============================================

func (h *RPCHandler) initiateWithdrawal(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in withdrawalRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	wr, err := h.withdrawals.RequestWithdrawal(ctx, caller, usecase.WithdrawalInput{
		Amount:   in.Amount,
		Msisdn:   in.Msisdn,
		Operator: in.Operator,
	})
	if err != nil {
		return nil, err
	}
	out := withdrawalResponse{
		WithdrawalID:    wr.ID,
		Status:          wr.Status,
		AmountRequested: wr.AmountRequested,
		GatewayFee:      wr.GatewayFee,
		TotalDeducted:   wr.TotalDeducted,
	}
	if wr.PayoutReference != nil {
		out.Reference = *wr.PayoutReference
	}
	return out, nil
}

func (h *RPCHandler) getWithdrawal(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in withdrawalIDRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	return h.withdrawals.GetWithdrawal(ctx, caller, in.WithdrawalID)
}

func (h *RPCHandler) listWithdrawals(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in listWithdrawalsRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	if in.Limit == 0 {
		in.Limit = defaultWithdrawalLimit
	}
	list, err := h.withdrawals.ListWithdrawals(ctx, caller.UserID, in.Limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*domain.WithdrawalRequest{}
	}
	return map[string]interface{}{"withdrawals": list}, nil
}

func (h *RPCHandler) getEarnings(ctx context.Context, caller domain.Identity, _ json.RawMessage) (interface{}, error) {
	return h.earnings.GetEarnings(ctx, caller.UserID)
}

// verifyLedger checks the caller's own ledger; admins may name any user.
func (h *RPCHandler) verifyLedger(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in verifyLedgerRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	userID := caller.UserID
	if in.UserID != "" && in.UserID != caller.UserID {
		if !caller.IsAdmin() {
			return nil, fmt.Errorf("%w: ledger of another user", domain.ErrForbidden)
		}
		userID = in.UserID
	}
	return h.earnings.VerifyLedger(ctx, userID)
}

func (h *RPCHandler) markCommissionPaid(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in commissionRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	return h.earnings.MarkCommissionPaid(ctx, caller, in.CommissionID)
}

// ============================================
// PURCHASES & LISTINGS
// ============================================

func (h *RPCHandler) submitPurchase(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in submitPurchaseRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	return h.purchases.Submit(ctx, caller, usecase.SubmitPurchaseInput{
		PropertyID: in.PropertyID,
		Contact:    in.BuyerContact,
		Documents:  in.BuyerIDDocuments,
	})
}

func (h *RPCHandler) getPurchase(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in purchaseIDRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	return h.purchases.Get(ctx, caller, in.PurchaseRequestID)
}

func (h *RPCHandler) updatePurchaseStatus(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in purchaseStatusRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	next, err := domain.ParsePurchaseStatus(in.Status)
	if err != nil {
		return nil, err
	}
	return h.purchases.UpdateStatus(ctx, caller, in.PurchaseRequestID, next)
}

func (h *RPCHandler) purgePurchaseDocuments(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in purchaseIDRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	return h.purchases.PurgeDocuments(ctx, caller, in.PurchaseRequestID)
}

func (h *RPCHandler) approveListing(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in approveListingRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	return h.listings.Approve(ctx, caller, in.PropertyID, in.Notes)
}

func (h *RPCHandler) declineListing(ctx context.Context, caller domain.Identity, data json.RawMessage) (interface{}, error) {
	var in declineListingRequest
	if err := h.bind(data, &in); err != nil {
		return nil, err
	}
	return h.listings.Decline(ctx, caller, in.PropertyID, in.Reason)
}
