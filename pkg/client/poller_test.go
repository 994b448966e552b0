package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedCheck answers with the scripted outcomes in order; the last one repeats.
type scriptedCheck struct {
	statuses []PaymentStatus
	errs     []error
	calls    int
}

func (s *scriptedCheck) check(_ context.Context, _ string) (PaymentStatus, error) {
	i := s.calls
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.statuses[i], err
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newTestPoller(check CheckFunc, maxAttempts int) *Poller {
	p := NewPoller(check, time.Second, maxAttempts, zap.NewNop())
	p.after = immediate
	return p
}

func TestPoller_PendingThenSuccessful(t *testing.T) {
	sc := &scriptedCheck{statuses: []PaymentStatus{
		PaymentPending,
		PaymentPending,
		PaymentPending,
		PaymentSuccessful,
	}}

	state, err := newTestPoller(sc.check, 12).Wait(testContext(t), "BKG_5000")
	require.NoError(t, err)
	assert.Equal(t, PollSucceeded, state.Phase)
	assert.Equal(t, 4, state.Attempts)
	assert.Equal(t, 4, sc.calls)
}

func TestPoller_SwallowsTransientErrors(t *testing.T) {
	boom := errors.New("connection reset")
	sc := &scriptedCheck{
		statuses: []PaymentStatus{"", "", PaymentSuccessful},
		errs:     []error{boom, boom, nil},
	}

	state, err := newTestPoller(sc.check, 12).Wait(testContext(t), "BKG_1")
	require.NoError(t, err)
	assert.Equal(t, 3, sc.calls)
	assert.Nil(t, state.LastErr)
}

func TestPoller_BudgetExhausted(t *testing.T) {
	sc := &scriptedCheck{statuses: []PaymentStatus{PaymentPending}}

	state, err := newTestPoller(sc.check, 3).Wait(testContext(t), "BKG_7")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Contains(t, err.Error(), "BKG_7")

	var timeout *PollTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 3, timeout.Attempts)
	assert.Equal(t, PollTimedOut, state.Phase)
	assert.Equal(t, 3, sc.calls)
}

func TestPoller_Failed(t *testing.T) {
	sc := &scriptedCheck{statuses: []PaymentStatus{PaymentPending, PaymentFailed}}

	state, err := newTestPoller(sc.check, 12).Wait(testContext(t), "BKG_9")
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.Contains(t, err.Error(), "BKG_9")
	assert.Equal(t, PollFailed, state.Phase)
	assert.Equal(t, 2, sc.calls)
}

func TestPoller_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext(t))
	cancel()
	p := NewPoller(func(context.Context, string) (PaymentStatus, error) {
		t.Fatal("no check after cancellation")
		return "", nil
	}, time.Hour, 3, zap.NewNop())

	_, err := p.Wait(ctx, "BKG_1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReduce(t *testing.T) {
	s := NewPollState("BKG_1", 2)
	assert.False(t, s.Done())

	s = Reduce(s, PollEvent{Status: PaymentOTPRequired})
	assert.Equal(t, PollPolling, s.Phase)
	assert.Equal(t, PaymentOTPRequired, s.LastStatus)

	s = Reduce(s, PollEvent{Err: errors.New("timeout")})
	assert.Equal(t, PollTimedOut, s.Phase)
	assert.Equal(t, PaymentOTPRequired, s.LastStatus)

	done := Reduce(s, PollEvent{Status: PaymentSuccessful})
	assert.Equal(t, s, done)

	s = Reduce(NewPollState("BKG_2", 1), PollEvent{Status: PaymentCancelled})
	assert.Equal(t, PollFailed, s.Phase)
}
