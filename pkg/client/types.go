// pkg/client/types.go
package client

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the server's payment state as returned by the status RPC.
type PaymentStatus string

const (
	PaymentCreated         PaymentStatus = "created"
	PaymentInitiated       PaymentStatus = "initiated"
	PaymentPending         PaymentStatus = "pending"
	PaymentOTPRequired     PaymentStatus = "otp_required"
	PaymentPayOffline      PaymentStatus = "pay_offline"
	PaymentThreeDSRequired PaymentStatus = "three_ds_required"
	PaymentSuccessful      PaymentStatus = "successful"
	PaymentFailed          PaymentStatus = "failed"
	PaymentCancelled       PaymentStatus = "cancelled"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentSuccessful || s == PaymentFailed || s == PaymentCancelled
}

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

type PurchaseStatus string

const (
	PurchasePending    PurchaseStatus = "pending"
	PurchaseContacted  PurchaseStatus = "contacted"
	PurchaseSold       PurchaseStatus = "sold"
	PurchaseSellerPaid PurchaseStatus = "seller_paid"
	PurchaseCancelled  PurchaseStatus = "cancelled"
)

type Earnings struct {
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

type Withdrawal struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId"`
	AmountRequested decimal.Decimal  `json:"amountRequested"`
	GatewayFee      decimal.Decimal  `json:"gatewayFee"`
	TotalDeducted   decimal.Decimal  `json:"totalDeducted"`
	Currency        string           `json:"currency"`
	Status          WithdrawalStatus `json:"status"`
	TargetMsisdn    string           `json:"targetMsisdn"`
	Operator        string           `json:"operator"`
	PayoutReference *string          `json:"payoutReference,omitempty"`
	ActualFee       *decimal.Decimal `json:"actualFee,omitempty"`
	FailureReason   *string          `json:"failureReason,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
}

type Commission struct {
	ID               string          `json:"id"`
	BookingID        string          `json:"bookingId"`
	PropertyID       string          `json:"propertyId"`
	HostID           string          `json:"hostId"`
	Rate             decimal.Decimal `json:"rate"`
	BookingAmount    decimal.Decimal `json:"bookingAmount"`
	CommissionAmount decimal.Decimal `json:"commissionAmount"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type BuyerContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type SaleBreakdown struct {
	Price          decimal.Decimal `json:"price"`
	BuyerMarkup    decimal.Decimal `json:"buyerMarkup"`
	BuyerTotal     decimal.Decimal `json:"buyerTotal"`
	PlatformFee    decimal.Decimal `json:"platformFee"`
	SellerEarnings decimal.Decimal `json:"sellerEarnings"`
}

type PurchaseRequest struct {
	ID                string         `json:"id"`
	PropertyID        string         `json:"propertyId"`
	SellerID          string         `json:"sellerId"`
	BuyerID           string         `json:"buyerId"`
	BuyerContact      BuyerContact   `json:"buyerContact"`
	BuyerIDDocuments  []string       `json:"buyerIdDocuments"`
	Breakdown         SaleBreakdown  `json:"breakdown"`
	Status            PurchaseStatus `json:"status"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	SoldAt            *time.Time     `json:"soldAt,omitempty"`
	SellerPaidAt      *time.Time     `json:"sellerPaidAt,omitempty"`
	DocumentsPurgedAt *time.Time     `json:"documentsPurgedAt,omitempty"`
}

type Listing struct {
	ID               string          `json:"id"`
	SellerID         string          `json:"sellerId"`
	Title            string          `json:"title"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	Type             string          `json:"listingType"`
	IsActive         bool            `json:"isActive"`
	SaleStatus       string          `json:"saleStatus"`
	ModerationStatus string          `json:"moderationStatus"`
	ModerationNote   *string         `json:"moderationNote,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}
