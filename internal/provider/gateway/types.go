package gateway

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"money-service/internal/domain"
)

// envelope is the wrapper every gateway response uses.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type mobileMoneyDetails struct {
	Phone    string `json:"phone"`
	Operator string `json:"operator"`
	Country  string `json:"country,omitempty"`
}

type collectionBody struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Reference string `json:"reference"`
	Phone     string `json:"phone"`
	Operator  string `json:"operator"`
	Country   string `json:"country"`
	Bearer    string `json:"bearer"`
}

type payoutBody struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
	Phone     string `json:"phone"`
	Operator  string `json:"operator"`
	Narration string `json:"narration,omitempty"`
}

type checkoutCustomer struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type checkoutBody struct {
	Amount         string              `json:"amount"`
	Currency       string              `json:"currency"`
	Reference      string              `json:"reference"`
	Narration      string              `json:"narration"`
	PaymentChannel string              `json:"paymentChannel"`
	Customer       checkoutCustomer    `json:"customer"`
	MobileMoney    *mobileMoneyDetails `json:"mobileMoney,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
}

// transaction is the data object of collection, payout and payment responses.
type transaction struct {
	ID               string `json:"id"`
	Reference        string `json:"reference"`
	GatewayReference string `json:"lencoReference"`
	Amount           amount `json:"amount"`
	Fee              amount `json:"fee"`
	Status           string `json:"status"`
	ReasonForFailure string `json:"reasonForFailure"`
	CheckoutURL      string `json:"checkoutUrl"`
}

// amount accepts a JSON number, a numeric string or anything else. Anything that
// does not parse to a finite number becomes zero instead of failing the decode. Values
// are rounded to the two decimal places money is stored with.
type amount struct {
	Value decimal.Decimal
	Set   bool
}

func (a *amount) UnmarshalJSON(b []byte) error {
	a.Value, a.Set = decimal.Zero, false
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	a.Value, a.Set = d.Round(2), true
	return nil
}

func (a amount) ptr() *decimal.Decimal {
	if !a.Set {
		return nil
	}
	v := a.Value
	return &v
}

var statusMap = map[string]domain.PaymentStatus{
	"initiated":         domain.PaymentStatusInitiated,
	"pending":           domain.PaymentStatusPending,
	"processing":        domain.PaymentStatusPending,
	"otp-required":      domain.PaymentStatusOTPRequired,
	"pay-offline":       domain.PaymentStatusPayOffline,
	"3ds-auth-required": domain.PaymentStatusThreeDSRequired,
	"successful":        domain.PaymentStatusSuccessful,
	"success":           domain.PaymentStatusSuccessful,
	"completed":         domain.PaymentStatusSuccessful,
	"failed":            domain.PaymentStatusFailed,
	"declined":          domain.PaymentStatusFailed,
	"cancelled":         domain.PaymentStatusCancelled,
	"canceled":          domain.PaymentStatusCancelled,
}

// NormalizeStatus maps a gateway status string to the payment state machine vocabulary.
// Underscores and dashes are interchangeable.
func NormalizeStatus(s string) (domain.PaymentStatus, bool) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	st, ok := statusMap[key]
	return st, ok
}
