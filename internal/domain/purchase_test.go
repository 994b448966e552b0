package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchaseStatusCanMove(t *testing.T) {
	allowed := map[PurchaseStatus][]PurchaseStatus{
		PurchasePending:   {PurchaseContacted, PurchaseSold, PurchaseSellerPaid, PurchaseCancelled},
		PurchaseContacted: {PurchaseSold, PurchaseSellerPaid, PurchaseCancelled},
		PurchaseSold:      {PurchaseSellerPaid},
	}
	all := []PurchaseStatus{PurchasePending, PurchaseContacted, PurchaseSold, PurchaseSellerPaid, PurchaseCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanMove(to), "%s -> %s", from, to)
		}
	}
}

func TestPurchaseRequestMoveTo(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &PurchaseRequest{Status: PurchasePending}

	changed, err := r.MoveTo(PurchaseSold, now)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, r.SoldAt)

	changed, err = r.MoveTo(PurchaseSold, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, now, *r.SoldAt)

	_, err = r.MoveTo(PurchaseCancelled, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	changed, err = r.MoveTo(PurchaseSellerPaid, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, now, *r.SoldAt)
	require.NotNil(t, r.SellerPaidAt)
}

func TestPurchaseRequestPurgeDocuments(t *testing.T) {
	now := time.Now()
	r := &PurchaseRequest{Status: PurchaseSold, BuyerIDDocuments: []string{"https://a", "https://b"}}

	_, err := r.PurgeDocuments(now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	r.Status = PurchaseSellerPaid
	purged, err := r.PurgeDocuments(now)
	require.NoError(t, err)
	assert.True(t, purged)
	assert.Empty(t, r.BuyerIDDocuments)

	purged, err = r.PurgeDocuments(now)
	require.NoError(t, err)
	assert.False(t, purged)
}

func TestPurchaseRequestValidate(t *testing.T) {
	r := &PurchaseRequest{PropertyID: "P", BuyerIDDocuments: []string{"https://files/a.jpg", "gs://bucket/b.jpg"}}
	require.NoError(t, r.Validate())

	r.BuyerIDDocuments = []string{"https://files/a.jpg"}
	assert.ErrorIs(t, r.Validate(), ErrInvalidRequest)

	r.BuyerIDDocuments = []string{"https://files/a.jpg", "not a uri"}
	assert.ErrorIs(t, r.Validate(), ErrInvalidRequest)

	r = &PurchaseRequest{BuyerIDDocuments: []string{"https://a", "https://b"}}
	assert.ErrorIs(t, r.Validate(), ErrInvalidRequest)
}

func TestWithdrawalMoveTo(t *testing.T) {
	now := time.Now()
	w := &WithdrawalRequest{Status: WithdrawalPending}
	require.NoError(t, w.MoveTo(WithdrawalProcessing, now))
	assert.ErrorIs(t, w.MoveTo(WithdrawalPending, now), ErrInvalidTransition)
	require.NoError(t, w.Fail("wallet closed", now))
	assert.Equal(t, WithdrawalFailed, w.Status)
	require.NotNil(t, w.CompletedAt)
	assert.ErrorIs(t, w.MoveTo(WithdrawalCompleted, now), ErrInvalidTransition)
}

func TestListingAcceptsPurchaseRequests(t *testing.T) {
	l := &Listing{ID: "P", Type: ListingTypeSale, IsActive: true, SaleStatus: SaleStatusAvailable}
	require.NoError(t, l.AcceptsPurchaseRequests())

	l.SaleStatus = SaleStatusSold
	assert.ErrorIs(t, l.AcceptsPurchaseRequests(), ErrInvalidTransition)

	l = &Listing{ID: "R", Type: ListingTypeRent, IsActive: true}
	assert.ErrorIs(t, l.AcceptsPurchaseRequests(), ErrInvalidRequest)
}
