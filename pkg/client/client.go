// pkg/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	BaseURL string
	// Token is the caller's bearer token.
	Token   string
	Timeout time.Duration
}

// Client calls the money service RPC surface: POST {BaseURL}/rpc/{name} with {"data": ...}.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// RPCError is an error envelope returned by the server.
type RPCError struct {
	Method     string
	HTTPStatus int
	Status     string
	Message    string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Method, e.Message, e.Status)
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call sends one RPC and decodes its result into out. out may be nil.
func (c *Client) Call(ctx context.Context, method string, data, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{"data": data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("rpc transport error", zap.String("method", method), zap.Error(err))
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &RPCError{
			Method:     method,
			HTTPStatus: resp.StatusCode,
			Status:     "INTERNAL",
			Message:    truncate(strings.TrimSpace(string(body)), 200),
		}
	}
	if env.Error != nil {
		return &RPCError{Method: method, HTTPStatus: resp.StatusCode, Status: env.Error.Status, Message: env.Error.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return &RPCError{Method: method, HTTPStatus: resp.StatusCode, Status: "INTERNAL", Message: http.StatusText(resp.StatusCode)}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: failed to decode result: %w", method, err)
	}
	return nil
}

// ============================================
// PAYMENTS
// ============================================

type BookingPaymentRequest struct {
	BookingID string            `json:"bookingId"`
	Amount    decimal.Decimal   `json:"amount"`
	Msisdn    string            `json:"msisdn"`
	Operator  string            `json:"operator"`
	Reference string            `json:"reference,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type BookingPaymentResult struct {
	Success   bool          `json:"success"`
	Reference string        `json:"reference"`
	PaymentID string        `json:"paymentId"`
	Status    PaymentStatus `json:"status"`
}

type StatusQuery struct {
	Reference  string `json:"reference,omitempty"`
	BookingID  string `json:"bookingId,omitempty"`
	ForceCheck bool   `json:"forceCheck,omitempty"`
}

type PaymentStatusResult struct {
	Success   bool          `json:"success"`
	Reference string        `json:"reference"`
	Status    PaymentStatus `json:"status"`
	Terminal  bool          `json:"terminal"`
	Message   string        `json:"message,omitempty"`
}

type CheckoutCustomer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

type CheckoutRequest struct {
	SubjectID string            `json:"subjectId"`
	Amount    decimal.Decimal   `json:"amount"`
	Currency  string            `json:"currency,omitempty"`
	Channel   string            `json:"channel,omitempty"`
	Narration string            `json:"narration,omitempty"`
	Customer  CheckoutCustomer  `json:"customer"`
	Msisdn    string            `json:"msisdn,omitempty"`
	Operator  string            `json:"operator,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type CheckoutResult struct {
	PaymentReference string        `json:"paymentReference"`
	PaymentID        string        `json:"paymentId"`
	Status           PaymentStatus `json:"status"`
	CheckoutURL      string        `json:"checkoutUrl,omitempty"`
}

func (c *Client) InitiateBookingPayment(ctx context.Context, req BookingPaymentRequest) (*BookingPaymentResult, error) {
	var out BookingPaymentResult
	if err := c.Call(ctx, "initiateBookingMobileMoneyPayment", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckBookingPaymentStatus(ctx context.Context, q StatusQuery) (*PaymentStatusResult, error) {
	var out PaymentStatusResult
	if err := c.Call(ctx, "checkBookingMobileMoneyPaymentStatus", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSubscriptionCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	var out CheckoutResult
	if err := c.Call(ctx, "createSubscriptionCheckout", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePartnerCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	var out CheckoutResult
	if err := c.Call(ctx, "createPartnerCheckout", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================
// EARNINGS & WITHDRAWALS
// ============================================

type WithdrawalRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Msisdn   string          `json:"msisdn"`
	Operator string          `json:"operator"`
}

type WithdrawalResult struct {
	WithdrawalID    string           `json:"withdrawalId"`
	Reference       string           `json:"reference"`
	Status          WithdrawalStatus `json:"status"`
	AmountRequested decimal.Decimal  `json:"amountRequested"`
	GatewayFee      decimal.Decimal  `json:"gatewayFee"`
	TotalDeducted   decimal.Decimal  `json:"totalDeducted"`
}

func (c *Client) InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalResult, error) {
	var out WithdrawalResult
	if err := c.Call(ctx, "initiateWithdrawal", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetEarnings(ctx context.Context) (*Earnings, error) {
	var out Earnings
	if err := c.Call(ctx, "getEarnings", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListWithdrawals(ctx context.Context, limit int) ([]*Withdrawal, error) {
	var out struct {
		Withdrawals []*Withdrawal `json:"withdrawals"`
	}
	if err := c.Call(ctx, "listWithdrawals", map[string]int{"limit": limit}, &out); err != nil {
		return nil, err
	}
	return out.Withdrawals, nil
}

func (c *Client) MarkCommissionPaid(ctx context.Context, commissionID string) (*Commission, error) {
	var out Commission
	if err := c.Call(ctx, "markCommissionPaid", map[string]string{"commissionId": commissionID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================
// PURCHASES & LISTINGS
// ============================================

type PurchaseRequestInput struct {
	PropertyID       string       `json:"propertyId"`
	BuyerContact     BuyerContact `json:"buyerContact"`
	BuyerIDDocuments []string     `json:"buyerIdDocuments"`
}

func (c *Client) SubmitPurchaseRequest(ctx context.Context, in PurchaseRequestInput) (*PurchaseRequest, error) {
	var out PurchaseRequest
	if err := c.Call(ctx, "submitPurchaseRequest", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePurchaseRequestStatus(ctx context.Context, purchaseID string, status PurchaseStatus) (*PurchaseRequest, error) {
	var out PurchaseRequest
	data := map[string]string{"purchaseRequestId": purchaseID, "status": string(status)}
	if err := c.Call(ctx, "updatePurchaseRequestStatus", data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PurgePurchaseDocuments(ctx context.Context, purchaseID string) (*PurchaseRequest, error) {
	var out PurchaseRequest
	if err := c.Call(ctx, "purgePurchaseDocuments", map[string]string{"purchaseRequestId": purchaseID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ApproveListing(ctx context.Context, propertyID, notes string) (*Listing, error) {
	var out Listing
	if err := c.Call(ctx, "approveListing", map[string]string{"propertyId": propertyID, "notes": notes}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeclineListing(ctx context.Context, propertyID, reason string) (*Listing, error) {
	var out Listing
	if err := c.Call(ctx, "declineListing", map[string]string{"propertyId": propertyID, "reason": reason}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
