package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string
type Network string
type PaymentStatus string
type Purpose string
type Channel string

const (
	DirectionCollection Direction = "collection"
	DirectionPayout     Direction = "payout"
)

const (
	NetworkAirtel Network = "AIRTEL"
	NetworkMTN    Network = "MTN"
	NetworkZamtel Network = "ZAMTEL"
)

const (
	PurposeBooking      Purpose = "booking"
	PurposeSubscription Purpose = "subscription"
	PurposePartner      Purpose = "partner"
	PurposeWithdrawal   Purpose = "withdrawal"
)

const (
	ChannelMobileMoney Channel = "mobile_money"
	ChannelCard        Channel = "card"
)

const (
	PaymentStatusCreated         PaymentStatus = "created"
	PaymentStatusInitiated       PaymentStatus = "initiated"
	PaymentStatusPending         PaymentStatus = "pending"
	PaymentStatusOTPRequired     PaymentStatus = "otp_required"
	PaymentStatusPayOffline      PaymentStatus = "pay_offline"
	PaymentStatusThreeDSRequired PaymentStatus = "three_ds_required"
	PaymentStatusSuccessful      PaymentStatus = "successful"
	PaymentStatusFailed          PaymentStatus = "failed"
	PaymentStatusCancelled       PaymentStatus = "cancelled"
)

// ParseNetwork accepts operator names in any case.
func ParseNetwork(s string) (Network, error) {
	switch n := Network(strings.ToUpper(strings.TrimSpace(s))); n {
	case NetworkAirtel, NetworkMTN, NetworkZamtel:
		return n, nil
	default:
		return "", fmt.Errorf("%w: unsupported network %q", ErrInvalidRequest, s)
	}
}

// rank orders statuses along the lifecycle. Statuses of equal rank may replace each other.
func (s PaymentStatus) rank() int {
	switch s {
	case PaymentStatusCreated:
		return 0
	case PaymentStatusInitiated:
		return 1
	case PaymentStatusPending, PaymentStatusOTPRequired, PaymentStatusPayOffline, PaymentStatusThreeDSRequired:
		return 2
	case PaymentStatusSuccessful, PaymentStatusFailed, PaymentStatusCancelled:
		return 3
	default:
		return -1
	}
}

func (s PaymentStatus) Valid() bool { return s.rank() >= 0 }

func (s PaymentStatus) IsTerminal() bool { return s.rank() == 3 }

// NextStatus is the payment state machine reducer. Given the stored status and the latest
// status reported by the gateway it returns the status to persist and whether it changed.
// Terminal statuses are never left, and reports older than the stored status are ignored.
func NextStatus(current, reported PaymentStatus) (PaymentStatus, bool, error) {
	if !current.Valid() {
		return current, false, fmt.Errorf("%w: unknown stored status %q", ErrInvalidTransition, current)
	}
	if !reported.Valid() {
		return current, false, fmt.Errorf("%w: unknown reported status %q", ErrInvalidTransition, reported)
	}
	if current.IsTerminal() || reported == current {
		return current, false, nil
	}
	if reported.rank() < current.rank() {
		return current, false, nil
	}
	return reported, true, nil
}

// PaymentIntent is one collection or payout attempt. Reference is the idempotency key.
type PaymentIntent struct {
	ID                 string            `json:"id"`
	Direction          Direction         `json:"direction"`
	Purpose            Purpose           `json:"purpose"`
	SubjectID          string            `json:"subjectId"`
	PayerID            string            `json:"payerId,omitempty"`
	Channel            Channel           `json:"channel"`
	Reference          string            `json:"reference"`
	GatewayReference   *string           `json:"gatewayReference,omitempty"`
	Amount             decimal.Decimal   `json:"amount"`
	Currency           string            `json:"currency"`
	CounterpartyMsisdn string            `json:"counterpartyMsisdn,omitempty"`
	Network            Network           `json:"network,omitempty"`
	Status             PaymentStatus     `json:"status"`
	FeeCharged         *decimal.Decimal  `json:"feeCharged,omitempty"`
	FailureReason      *string           `json:"failureReason,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
	LastCheckedAt      *time.Time        `json:"lastCheckedAt,omitempty"`
	SettledAt          *time.Time        `json:"settledAt,omitempty"`
}

func (p *PaymentIntent) Validate() error {
	if p.Reference == "" {
		return fmt.Errorf("%w: reference is required", ErrInvalidRequest)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than 0", ErrInvalidRequest)
	}
	if p.Channel == ChannelMobileMoney {
		if p.CounterpartyMsisdn == "" {
			return fmt.Errorf("%w: msisdn is required for mobile money", ErrInvalidRequest)
		}
		if _, err := ParseNetwork(string(p.Network)); err != nil {
			return err
		}
	}
	return nil
}

// Apply moves the intent according to a gateway report and stamps the settlement fields
// on the first arrival at a terminal status. It reports whether anything changed.
func (p *PaymentIntent) Apply(report StatusReport, now time.Time) (bool, error) {
	next, changed, err := NextStatus(p.Status, report.Status)
	if err != nil || !changed {
		return false, err
	}
	p.Status = next
	p.UpdatedAt = now
	if report.GatewayReference != "" && p.GatewayReference == nil {
		ref := report.GatewayReference
		p.GatewayReference = &ref
	}
	if next.IsTerminal() {
		p.SettledAt = &now
		if report.Fee != nil {
			fee := report.Fee.Round(2)
			p.FeeCharged = &fee
		}
		if next != PaymentStatusSuccessful && report.Reason != "" {
			reason := report.Reason
			p.FailureReason = &reason
		}
	}
	return true, nil
}

// StatusReport is a normalized status observation from a callback or a poll.
type StatusReport struct {
	Reference        string
	GatewayReference string
	Status           PaymentStatus
	Amount           decimal.Decimal
	Fee              *decimal.Decimal
	Reason           string
}
