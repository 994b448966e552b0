package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/provider"
)

const (
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 1 << 20
	logBodyBytes   = 512
)

type Config struct {
	BaseURL  string
	APIKey   string
	Country  string
	Currency string
	Timeout  time.Duration
}

// Client talks to the payment gateway REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

var _ provider.Gateway = (*Client)(nil)

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// ============================================
// COLLECTIONS
// ============================================

func (c *Client) InitiateCollection(ctx context.Context, req *provider.CollectionRequest) (*provider.GatewayResult, error) {
	body := collectionBody{
		Amount:    req.Amount.StringFixed(2),
		Currency:  c.currency(req.Currency),
		Reference: req.Reference,
		Phone:     req.Msisdn,
		Operator:  strings.ToLower(string(req.Network)),
		Country:   c.cfg.Country,
		Bearer:    "merchant",
	}
	return c.initiate(ctx, "initiate_collection", http.MethodPost, "/collections/mobile-money", req.Reference, body)
}

func (c *Client) GetCollectionStatus(ctx context.Context, reference string) (*provider.GatewayResult, error) {
	return c.query(ctx, "collection_status", "/collections/status/"+url.PathEscape(reference), reference)
}

func (c *Client) GetCollectionByID(ctx context.Context, gatewayID string) (*provider.GatewayResult, error) {
	return c.query(ctx, "collection_by_id", "/collections/"+url.PathEscape(gatewayID), "")
}

// ============================================
// PAYOUTS
// ============================================

func (c *Client) InitiatePayout(ctx context.Context, req *provider.PayoutRequest) (*provider.GatewayResult, error) {
	body := payoutBody{
		Amount:    req.Amount.StringFixed(2),
		Currency:  c.currency(req.Currency),
		Reference: req.Reference,
		Phone:     req.Msisdn,
		Operator:  strings.ToLower(string(req.Network)),
		Narration: req.Narration,
	}
	return c.initiate(ctx, "initiate_payout", http.MethodPost, "/payouts/mobile-money", req.Reference, body)
}

func (c *Client) GetPayoutStatus(ctx context.Context, reference string) (*provider.GatewayResult, error) {
	return c.query(ctx, "payout_status", "/payouts/status/"+url.PathEscape(reference), reference)
}

// ============================================
// CHECKOUT (card / other channels)
// ============================================

func (c *Client) InitiateCheckout(ctx context.Context, req *provider.CheckoutRequest) (*provider.GatewayResult, error) {
	body := checkoutBody{
		Amount:         req.Amount.StringFixed(2),
		Currency:       c.currency(req.Currency),
		Reference:      req.Reference,
		Narration:      req.Narration,
		PaymentChannel: string(req.Channel),
		Customer: checkoutCustomer{
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
			Email:     req.Customer.Email,
			Phone:     req.Customer.Phone,
		},
		Metadata: req.Metadata,
	}
	if req.Channel == domain.ChannelMobileMoney {
		body.MobileMoney = &mobileMoneyDetails{
			Phone:    req.Msisdn,
			Operator: strings.ToLower(string(req.Network)),
			Country:  c.cfg.Country,
		}
	}
	return c.initiate(ctx, "initiate_checkout", http.MethodPost, "/accept-payments", req.Reference, body)
}

func (c *Client) GetPayment(ctx context.Context, reference string) (*provider.GatewayResult, error) {
	return c.query(ctx, "payment_status", "/payments?reference="+url.QueryEscape(reference), reference)
}

// ============================================
// HELPERS
// ============================================

func (c *Client) currency(cur string) string {
	if cur != "" {
		return cur
	}
	return c.cfg.Currency
}

// initiate differs from query only in how an empty status is read: an accepted
// initiation with no status yet is "initiated".
func (c *Client) initiate(ctx context.Context, op, method, path, reference string, payload interface{}) (*provider.GatewayResult, error) {
	tx, err := c.do(ctx, op, method, path, reference, payload)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(tx.Status) == "" {
		tx.Status = "initiated"
	}
	return c.normalize(op, reference, tx)
}

func (c *Client) query(ctx context.Context, op, path, reference string) (*provider.GatewayResult, error) {
	tx, err := c.do(ctx, op, http.MethodGet, path, reference, nil)
	if err != nil {
		return nil, err
	}
	return c.normalize(op, reference, tx)
}

func (c *Client) normalize(op, reference string, tx *transaction) (*provider.GatewayResult, error) {
	status, ok := NormalizeStatus(tx.Status)
	if !ok {
		c.logger.Error("gateway returned unknown status",
			zap.String("operation", op),
			zap.String("reference", reference),
			zap.String("status", tx.Status))
		return nil, domain.NewGatewayError(domain.ErrGatewayProtocol, op, reference, 0, nil,
			fmt.Errorf("unknown status %q", tx.Status))
	}

	ref := tx.Reference
	if ref == "" {
		ref = reference
	}
	gatewayID := tx.ID
	if gatewayID == "" {
		gatewayID = tx.GatewayReference
	}
	return &provider.GatewayResult{
		GatewayID:   gatewayID,
		Reference:   ref,
		Status:      status,
		Amount:      tx.Amount.Value,
		Fee:         tx.Fee.ptr(),
		Reason:      tx.ReasonForFailure,
		CheckoutURL: tx.CheckoutURL,
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path, reference string, payload interface{}) (tx *transaction, err error) {
	start := time.Now()
	defer func() {
		gatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		gatewayRequests.WithLabelValues(op, outcome(err)).Inc()
	}()

	if c.cfg.APIKey == "" || c.cfg.BaseURL == "" {
		c.logger.Error("payment gateway credentials missing", zap.String("operation", op), zap.String("reference", reference))
		return nil, domain.NewGatewayError(domain.ErrNotConfigured, op, reference, 0, nil, nil)
	}

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, domain.NewGatewayError(domain.ErrGatewayProtocol, op, reference, 0, nil, err)
		}
		body = bytes.NewReader(jsonData)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, domain.NewGatewayError(domain.ErrGatewayProtocol, op, reference, 0, nil, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A transport failure leaves the outcome unknown, the same as a timeout.
		c.logger.Error("gateway request failed",
			zap.String("operation", op),
			zap.String("reference", reference),
			zap.Bool("timeout", isTimeout(ctx, err)),
			zap.Error(err))
		return nil, domain.NewGatewayError(domain.ErrGatewayTimeout, op, reference, 0, nil, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		kind := domain.ErrGatewayProtocol
		if isTimeout(ctx, err) {
			kind = domain.ErrGatewayTimeout
		}
		return nil, domain.NewGatewayError(kind, op, reference, resp.StatusCode, nil, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("gateway returned non-2xx",
			zap.String("operation", op),
			zap.String("reference", reference),
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", domain.Truncate(string(raw), logBodyBytes)))
		return nil, domain.NewGatewayError(domain.ErrGatewayRejected, op, reference, resp.StatusCode, raw,
			errors.New(messageOf(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Error("gateway returned malformed body",
			zap.String("operation", op),
			zap.String("reference", reference),
			zap.String("body", domain.Truncate(string(raw), logBodyBytes)))
		return nil, domain.NewGatewayError(domain.ErrGatewayProtocol, op, reference, resp.StatusCode, raw, err)
	}
	if !env.Status {
		c.logger.Warn("gateway refused request",
			zap.String("operation", op),
			zap.String("reference", reference),
			zap.String("message", env.Message))
		return nil, domain.NewGatewayError(domain.ErrGatewayRejected, op, reference, resp.StatusCode, raw,
			errors.New(env.Message))
	}

	tx, err = decodeTransaction(env.Data)
	if err != nil {
		c.logger.Error("gateway returned malformed data",
			zap.String("operation", op),
			zap.String("reference", reference),
			zap.String("body", domain.Truncate(string(raw), logBodyBytes)))
		return nil, domain.NewGatewayError(domain.ErrGatewayProtocol, op, reference, resp.StatusCode, raw, err)
	}

	c.logger.Debug("gateway call ok",
		zap.String("operation", op),
		zap.String("reference", reference),
		zap.String("status", tx.Status))
	return tx, nil
}

// decodeTransaction accepts a single object or a list (payment search) and returns the first element.
func decodeTransaction(data json.RawMessage) (*transaction, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, errors.New("response has no data")
	}
	if data[0] == '[' {
		var list []transaction
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, errors.New("response data is empty")
		}
		return &list[0], nil
	}
	var tx transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func messageOf(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return domain.Truncate(strings.TrimSpace(string(raw)), 120)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrGatewayTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrGatewayRejected):
		return "rejected"
	case errors.Is(err, domain.ErrNotConfigured):
		return "not_configured"
	default:
		return "protocol"
	}
}
