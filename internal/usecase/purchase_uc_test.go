package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"money-service/internal/domain"
)

var seller = domain.Identity{UserID: "seller-1", Role: domain.RoleUser}

func (f *fixture) putSaleListing(id, price string) {
	f.store.PutListing(&domain.Listing{
		ID:               id,
		SellerID:         seller.UserID,
		Title:            "Three bedroom house in Kabulonga",
		Price:            dec(price),
		Currency:         "ZMW",
		Type:             domain.ListingTypeSale,
		IsActive:         true,
		SaleStatus:       domain.SaleStatusAvailable,
		ModerationStatus: domain.ModerationApproved,
	})
}

func purchaseInput(propertyID string) SubmitPurchaseInput {
	return SubmitPurchaseInput{
		PropertyID: propertyID,
		Contact:    domain.BuyerContact{Name: "Chanda Mwale", Email: "chanda@example.com", Phone: "0977000111"},
		Documents:  []string{"https://files.example.com/nrc-front.jpg", "https://files.example.com/nrc-back.jpg"},
	}
}

func TestPurchaseWorkflow_SoldThenSellerPaid(t *testing.T) {
	f := newFixture(t)
	f.putSaleListing("P", "1000")
	ctx := testContext(t)

	req, err := f.purchases.Submit(ctx, guest, purchaseInput("P"))
	require.NoError(t, err)
	assert.Equal(t, domain.PurchasePending, req.Status)
	assert.Equal(t, seller.UserID, req.SellerID)
	assert.True(t, dec("50").Equal(req.Breakdown.BuyerMarkup))
	assert.True(t, dec("1050").Equal(req.Breakdown.BuyerTotal))
	assert.True(t, dec("100").Equal(req.Breakdown.PlatformFee))
	assert.True(t, dec("900").Equal(req.Breakdown.SellerEarnings))

	sold, err := f.purchases.MarkSold(ctx, admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseSold, sold.Status)
	require.NotNil(t, sold.SoldAt)

	listing, err := f.store.Listings().GetListing(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusSold, listing.SaleStatus)
	assert.True(t, listing.IsActive)

	again, err := f.purchases.MarkSold(ctx, admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseSold, again.Status)
	assert.Len(t, f.events.ofType(domain.EventPurchaseSold), 1)

	paid, err := f.purchases.MarkSellerPaid(ctx, seller, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseSellerPaid, paid.Status)

	listing, err = f.store.Listings().GetListing(ctx, "P")
	require.NoError(t, err)
	assert.False(t, listing.IsActive)
	assert.Equal(t, domain.SaleStatusSold, listing.SaleStatus)

	view, err := f.purchases.Get(ctx, seller, req.ID)
	require.NoError(t, err)
	assert.True(t, dec("900").Equal(view.Breakdown.SellerEarnings))
	assert.Len(t, view.BuyerIDDocuments, 2, "documents stay until explicitly purged")

	purged, err := f.purchases.PurgeDocuments(ctx, seller, req.ID)
	require.NoError(t, err)
	assert.Empty(t, purged.BuyerIDDocuments)
	require.NotNil(t, purged.DocumentsPurgedAt)

	_, err = f.purchases.Submit(ctx, domain.Identity{UserID: "buyer-2"}, purchaseInput("P"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPurchaseWorkflow_Permissions(t *testing.T) {
	f := newFixture(t)
	f.putSaleListing("P", "1000")
	ctx := testContext(t)

	req, err := f.purchases.Submit(ctx, guest, purchaseInput("P"))
	require.NoError(t, err)

	_, err = f.purchases.MarkSold(ctx, seller, req.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.purchases.MarkContacted(ctx, guest, req.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.purchases.MarkSellerPaid(ctx, guest, req.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.purchases.Get(ctx, domain.Identity{UserID: "stranger"}, req.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.purchases.Get(ctx, guest, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
}

func TestPurchaseWorkflow_Transitions(t *testing.T) {
	f := newFixture(t)
	f.putSaleListing("P", "1000")
	ctx := testContext(t)

	req, err := f.purchases.Submit(ctx, guest, purchaseInput("P"))
	require.NoError(t, err)

	_, err = f.purchases.PurgeDocuments(ctx, seller, req.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	contacted, err := f.purchases.UpdateStatus(ctx, admin, req.ID, domain.PurchaseContacted)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseContacted, contacted.Status)

	_, err = f.purchases.UpdateStatus(ctx, admin, req.ID, domain.PurchasePending)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	cancelled, err := f.purchases.Cancel(ctx, admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseCancelled, cancelled.Status)

	_, err = f.purchases.MarkSold(ctx, admin, req.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	listing, err := f.store.Listings().GetListing(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusAvailable, listing.SaleStatus)

	cancelEvents := f.events.ofType(domain.EventPurchaseCancelled)
	require.Len(t, cancelEvents, 1)
	assert.ElementsMatch(t, []string{guest.UserID, seller.UserID}, cancelEvents[0].Recipients)
}

func TestSubmitPurchase_Refusals(t *testing.T) {
	f := newFixture(t)
	f.putSaleListing("P", "1000")
	f.store.PutListing(&domain.Listing{ID: "R", SellerID: seller.UserID, Type: domain.ListingTypeRent, IsActive: true})
	ctx := testContext(t)

	_, err := f.purchases.Submit(ctx, seller, purchaseInput("P"))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.purchases.Submit(ctx, guest, purchaseInput("R"))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.purchases.Submit(ctx, guest, purchaseInput("missing"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	oneDoc := purchaseInput("P")
	oneDoc.Documents = oneDoc.Documents[:1]
	_, err = f.purchases.Submit(ctx, guest, oneDoc)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestNotifications_PurchaseRequestedFansOutToAdminsAndSeller(t *testing.T) {
	f := newFixture(t)
	f.putSaleListing("P", "1000")
	f.store.PutAdmin("admin-1", true)
	f.store.PutAdmin("admin-2", true)
	f.store.PutAdmin("admin-retired", false)
	ctx := testContext(t)

	_, err := f.purchases.Submit(ctx, guest, purchaseInput("P"))
	require.NoError(t, err)
	requested := f.events.ofType(domain.EventPurchaseRequested)
	require.Len(t, requested, 1)

	require.NoError(t, f.notifier.HandleEvent(ctx, requested[0]))
	require.NoError(t, f.notifier.HandleEvent(ctx, requested[0]))

	for _, id := range []string{"admin-1", "admin-2", seller.UserID} {
		list, err := f.notifier.List(ctx, id, 10)
		require.NoError(t, err)
		require.Len(t, list, 1, id)
		assert.Equal(t, "New purchase request", list[0].Title)
		assert.Contains(t, list[0].Body, "1050.00")
	}
	retired, err := f.notifier.List(ctx, "admin-retired", 10)
	require.NoError(t, err)
	assert.Empty(t, retired)

	buyer, err := f.notifier.List(ctx, guest.UserID, 10)
	require.NoError(t, err)
	assert.Empty(t, buyer)
}

func TestListingModeration(t *testing.T) {
	f := newFixture(t)
	f.putSaleListing("P", "1000")
	ctx := testContext(t)

	_, err := f.listings.Approve(ctx, seller, "P", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	declined, err := f.listings.Decline(ctx, admin, "P", "photos missing")
	require.NoError(t, err)
	assert.Equal(t, domain.ModerationDeclined, declined.ModerationStatus)
	require.NotNil(t, declined.ModerationNote)
	assert.Equal(t, "photos missing", *declined.ModerationNote)

	events := f.events.ofType(domain.EventListingDeclined)
	require.Len(t, events, 1)
	assert.Equal(t, []string{seller.UserID}, events[0].Recipients)

	require.NoError(t, f.notifier.HandleEvent(ctx, events[0]))
	list, err := f.notifier.List(ctx, seller.UserID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Body, "photos missing")

	approved, err := f.listings.Approve(ctx, admin, "P", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ModerationApproved, approved.ModerationStatus)
	assert.Nil(t, approved.ModerationNote)

	_, err = f.listings.Approve(ctx, admin, "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
