// internal/handler/dto.go
package handler

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"money-service/internal/domain"
)

// rpcRequest is the request envelope of every RPC.
type rpcRequest struct {
	Data json.RawMessage `json:"data"`
}

// ---------- payments ----------

type bookingPaymentRequest struct {
	BookingID string            `json:"bookingId" validate:"required"`
	Amount    decimal.Decimal   `json:"amount"`
	Msisdn    string            `json:"msisdn" validate:"required,min=9,max=16"`
	Operator  string            `json:"operator" validate:"required"`
	Reference string            `json:"reference,omitempty" validate:"omitempty,max=64"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type bookingPaymentResponse struct {
	Success   bool                 `json:"success"`
	Reference string               `json:"reference"`
	PaymentID string               `json:"paymentId"`
	Status    domain.PaymentStatus `json:"status"`
}

type paymentStatusRequest struct {
	Reference  string `json:"reference,omitempty" validate:"required_without=BookingID"`
	BookingID  string `json:"bookingId,omitempty" validate:"required_without=Reference"`
	ForceCheck bool   `json:"forceCheck,omitempty"`
}

type paymentStatusResponse struct {
	Success   bool                 `json:"success"`
	Reference string               `json:"reference"`
	Status    domain.PaymentStatus `json:"status"`
	Terminal  bool                 `json:"terminal"`
	Message   string               `json:"message,omitempty"`
}

type checkoutCustomer struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone,omitempty"`
}

type checkoutRequest struct {
	SubjectID string            `json:"subjectId" validate:"required"`
	Amount    decimal.Decimal   `json:"amount"`
	Currency  string            `json:"currency,omitempty" validate:"omitempty,len=3"`
	Channel   string            `json:"channel,omitempty" validate:"omitempty,oneof=card mobile_money"`
	Narration string            `json:"narration,omitempty" validate:"max=140"`
	Customer  checkoutCustomer  `json:"customer"`
	Msisdn    string            `json:"msisdn,omitempty" validate:"required_if=Channel mobile_money"`
	Operator  string            `json:"operator,omitempty" validate:"required_if=Channel mobile_money"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type checkoutResponse struct {
	PaymentReference string               `json:"paymentReference"`
	PaymentID        string               `json:"paymentId"`
	Status           domain.PaymentStatus `json:"status"`
	CheckoutURL      string               `json:"checkoutUrl,omitempty"`
}

// ---------- earnings & withdrawals ----------

type withdrawalRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Msisdn   string          `json:"msisdn" validate:"required,min=9,max=16"`
	Operator string          `json:"operator" validate:"required"`
}

type withdrawalResponse struct {
	WithdrawalID    string                  `json:"withdrawalId"`
	Reference       string                  `json:"reference"`
	Status          domain.WithdrawalStatus `json:"status"`
	AmountRequested decimal.Decimal         `json:"amountRequested"`
	GatewayFee      decimal.Decimal         `json:"gatewayFee"`
	TotalDeducted   decimal.Decimal         `json:"totalDeducted"`
}

type listWithdrawalsRequest struct {
	Limit int `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

type withdrawalIDRequest struct {
	WithdrawalID string `json:"withdrawalId" validate:"required"`
}

type verifyLedgerRequest struct {
	UserID string `json:"userId,omitempty"`
}

type commissionRequest struct {
	CommissionID string `json:"commissionId" validate:"required"`
}

// ---------- purchases & listings ----------

type submitPurchaseRequest struct {
	PropertyID       string              `json:"propertyId" validate:"required"`
	BuyerContact     domain.BuyerContact `json:"buyerContact"`
	BuyerIDDocuments []string            `json:"buyerIdDocuments" validate:"len=2,dive,required,uri"`
}

type purchaseStatusRequest struct {
	PurchaseRequestID string `json:"purchaseRequestId" validate:"required"`
	Status            string `json:"status" validate:"required,oneof=contacted sold seller_paid cancelled"`
}

type purchaseIDRequest struct {
	PurchaseRequestID string `json:"purchaseRequestId" validate:"required"`
}

type approveListingRequest struct {
	PropertyID string `json:"propertyId" validate:"required"`
	Notes      string `json:"notes,omitempty" validate:"max=1000"`
}

type declineListingRequest struct {
	PropertyID string `json:"propertyId" validate:"required"`
	Reason     string `json:"reason,omitempty" validate:"max=1000"`
}
