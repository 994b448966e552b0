// internal/provider/provider.go
package provider

import (
	"context"

	"github.com/shopspring/decimal"

	"money-service/internal/domain"
)

// Gateway is the external payment gateway. Implementations never retry and only
// return *domain.GatewayError on failure.
type Gateway interface {
	// InitiateCollection asks the payer's wallet to approve a mobile money debit.
	InitiateCollection(ctx context.Context, req *CollectionRequest) (*GatewayResult, error)

	// InitiatePayout pushes money to a mobile money wallet.
	InitiatePayout(ctx context.Context, req *PayoutRequest) (*GatewayResult, error)

	// GetCollectionStatus looks a collection up by our reference.
	GetCollectionStatus(ctx context.Context, reference string) (*GatewayResult, error)

	// GetCollectionByID looks a collection up by the gateway's id.
	GetCollectionByID(ctx context.Context, gatewayID string) (*GatewayResult, error)

	GetPayoutStatus(ctx context.Context, reference string) (*GatewayResult, error)

	// InitiateCheckout creates a hosted card/other payment.
	InitiateCheckout(ctx context.Context, req *CheckoutRequest) (*GatewayResult, error)

	// GetPayment looks a checkout payment up by reference.
	GetPayment(ctx context.Context, reference string) (*GatewayResult, error)
}

type CollectionRequest struct {
	Amount    decimal.Decimal
	Currency  string
	Reference string
	Msisdn    string
	Network   domain.Network
}

type PayoutRequest struct {
	Amount    decimal.Decimal
	Currency  string
	Reference string
	Msisdn    string
	Network   domain.Network
	Narration string
}

type CheckoutCustomer struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

type CheckoutRequest struct {
	Amount    decimal.Decimal
	Currency  string
	Reference string
	Narration string
	Channel   domain.Channel
	Customer  CheckoutCustomer
	Msisdn    string
	Network   domain.Network
	Metadata  map[string]string
}

// GatewayResult is a normalized gateway answer. Status is already mapped to the
// payment state machine vocabulary.
type GatewayResult struct {
	GatewayID   string
	Reference   string
	Status      domain.PaymentStatus
	Amount      decimal.Decimal
	Fee         *decimal.Decimal
	Reason      string
	CheckoutURL string
}

// Report converts the result into the reducer's input.
func (r *GatewayResult) Report() domain.StatusReport {
	return domain.StatusReport{
		Reference:        r.Reference,
		GatewayReference: r.GatewayID,
		Status:           r.Status,
		Amount:           r.Amount,
		Fee:              r.Fee,
		Reason:           r.Reason,
	}
}
