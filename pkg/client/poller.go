// pkg/client/poller.go
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultPollMaxAttempts = 12
)

var (
	ErrPaymentFailed = errors.New("payment failed")
	ErrPollTimeout   = errors.New("payment status could not be confirmed")
)

type PollPhase string

const (
	PollPolling   PollPhase = "polling"
	PollSucceeded PollPhase = "succeeded"
	PollFailed    PollPhase = "failed"
	PollTimedOut  PollPhase = "timed_out"
)

// PollState is the client-side view of one pending payment.
type PollState struct {
	Reference   string
	Phase       PollPhase
	Attempts    int
	MaxAttempts int
	LastStatus  PaymentStatus
	LastErr     error
}

func NewPollState(reference string, maxAttempts int) PollState {
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollMaxAttempts
	}
	return PollState{Reference: reference, Phase: PollPolling, MaxAttempts: maxAttempts}
}

func (s PollState) Done() bool { return s.Phase != PollPolling }

// PollEvent is the outcome of one status check.
type PollEvent struct {
	Status PaymentStatus
	Err    error
}

// Reduce folds one status check into the state. A finished state ignores further events.
// Failed checks count against the budget but never end polling early.
func Reduce(s PollState, e PollEvent) PollState {
	if s.Done() {
		return s
	}
	s.Attempts++
	if e.Err != nil {
		s.LastErr = e.Err
	} else {
		s.LastErr = nil
		s.LastStatus = e.Status
		switch e.Status {
		case PaymentSuccessful:
			s.Phase = PollSucceeded
		case PaymentFailed, PaymentCancelled:
			s.Phase = PollFailed
		}
	}
	if !s.Done() && s.Attempts >= s.MaxAttempts {
		s.Phase = PollTimedOut
	}
	return s
}

// PollTimeoutError is returned when the attempt budget runs out before a terminal status.
type PollTimeoutError struct {
	Reference string
	Attempts  int
	LastErr   error
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("payment %s could not be confirmed, please contact support", e.Reference)
}

func (e *PollTimeoutError) Unwrap() error { return ErrPollTimeout }

// CheckFunc performs one status check for a reference.
type CheckFunc func(ctx context.Context, reference string) (PaymentStatus, error)

// Poller re-checks a pending payment at a fixed interval until it is terminal or the
// attempt budget is spent.
type Poller struct {
	check       CheckFunc
	interval    time.Duration
	maxAttempts int
	after       func(time.Duration) <-chan time.Time
	logger      *zap.Logger
}

func NewPoller(check CheckFunc, interval time.Duration, maxAttempts int, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollMaxAttempts
	}
	return &Poller{
		check:       check,
		interval:    interval,
		maxAttempts: maxAttempts,
		after:       time.After,
		logger:      logger,
	}
}

// StatusPoller builds a poller over checkBookingMobileMoneyPaymentStatus with forced checks.
func (c *Client) StatusPoller(interval time.Duration, maxAttempts int) *Poller {
	return NewPoller(func(ctx context.Context, reference string) (PaymentStatus, error) {
		res, err := c.CheckBookingPaymentStatus(ctx, StatusQuery{Reference: reference, ForceCheck: true})
		if err != nil {
			return "", err
		}
		return res.Status, nil
	}, interval, maxAttempts, c.logger)
}

// Wait waits one interval before every check and issues the next check only after the
// previous one returned. It returns nil on success, ErrPaymentFailed when the payment
// ended failed or cancelled, and a *PollTimeoutError when the budget ran out.
func (p *Poller) Wait(ctx context.Context, reference string) (PollState, error) {
	s := NewPollState(reference, p.maxAttempts)
	for !s.Done() {
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-p.after(p.interval):
		}

		status, err := p.check(ctx, reference)
		if err != nil {
			p.logger.Debug("status check failed, will retry",
				zap.String("reference", reference),
				zap.Int("attempt", s.Attempts+1),
				zap.Error(err))
		}
		s = Reduce(s, PollEvent{Status: status, Err: err})
	}

	switch s.Phase {
	case PollSucceeded:
		return s, nil
	case PollFailed:
		return s, fmt.Errorf("%w: payment %s was declined by the provider, please start a new payment", ErrPaymentFailed, reference)
	default:
		p.logger.Warn("payment not confirmed within attempt budget",
			zap.String("reference", reference),
			zap.Int("attempts", s.Attempts),
			zap.String("last_status", string(s.LastStatus)))
		return s, &PollTimeoutError{Reference: reference, Attempts: s.Attempts, LastErr: s.LastErr}
	}
}
