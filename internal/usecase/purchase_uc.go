// internal/usecase/purchase_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/pkg/fees"
	"money-service/internal/pkg/id"
	"money-service/internal/pub"
	"money-service/internal/repository"
)

// maxCASAttempts bounds the compare-and-set loop on concurrent status changes.
const maxCASAttempts = 3

type PurchaseUsecase struct {
	purchases repository.PurchaseRepository
	listings  repository.ListingRepository
	events    emitter
	markupPct decimal.Decimal
	feePct    decimal.Decimal
	now       func() time.Time
	logger    *zap.Logger
}

func NewPurchaseUsecase(
	purchases repository.PurchaseRepository,
	listings repository.ListingRepository,
	publisher pub.Publisher,
	markupPct, feePct decimal.Decimal,
	logger *zap.Logger,
) *PurchaseUsecase {
	return &PurchaseUsecase{
		purchases: purchases,
		listings:  listings,
		events:    emitter{publisher: publisher, logger: logger},
		markupPct: markupPct,
		feePct:    feePct,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

type SubmitPurchaseInput struct {
	PropertyID string
	Contact    domain.BuyerContact
	Documents  []string
}

// Submit records a buyer's purchase request with the price split frozen at submission time.
// The admins and the seller are told through a purchase.requested event.
func (uc *PurchaseUsecase) Submit(ctx context.Context, caller domain.Identity, in SubmitPurchaseInput) (*domain.PurchaseRequest, error) {
	docs := make([]string, 0, len(in.Documents))
	for _, d := range in.Documents {
		docs = append(docs, strings.TrimSpace(d))
	}
	now := uc.now()
	req := &domain.PurchaseRequest{
		ID:               id.New(),
		PropertyID:       strings.TrimSpace(in.PropertyID),
		BuyerID:          caller.UserID,
		BuyerContact:     in.Contact,
		BuyerIDDocuments: docs,
		Status:           domain.PurchasePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	listing, err := uc.listings.GetListing(ctx, req.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", req.PropertyID, err)
	}
	if err := listing.AcceptsPurchaseRequests(); err != nil {
		return nil, err
	}
	if listing.SellerID == caller.UserID {
		return nil, fmt.Errorf("%w: sellers cannot buy their own listing", domain.ErrInvalidRequest)
	}
	req.SellerID = listing.SellerID
	req.Breakdown = fees.ComputeSaleBreakdown(listing.Price, uc.markupPct, uc.feePct)

	if err := uc.purchases.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to store purchase request: %w", err)
	}

	uc.logger.Info("purchase request submitted",
		zap.String("purchase_id", req.ID),
		zap.String("property_id", req.PropertyID),
		zap.String("buyer_id", req.BuyerID),
		zap.String("buyer_total", req.Breakdown.BuyerTotal.StringFixed(2)))

	uc.events.emit(ctx, domain.EventPurchaseRequested, caller.UserID, req.ID, nil, map[string]interface{}{
		"propertyId":    req.PropertyID,
		"propertyTitle": listing.Title,
		"sellerId":      req.SellerID,
		"buyerName":     req.BuyerContact.Name,
		"buyerTotal":    req.Breakdown.BuyerTotal.StringFixed(2),
	})
	return req, nil
}

// UpdateStatus dispatches a requested status to the matching operation.
func (uc *PurchaseUsecase) UpdateStatus(ctx context.Context, caller domain.Identity, purchaseID string, next domain.PurchaseStatus) (*domain.PurchaseRequest, error) {
	switch next {
	case domain.PurchaseContacted:
		return uc.MarkContacted(ctx, caller, purchaseID)
	case domain.PurchaseSold:
		return uc.MarkSold(ctx, caller, purchaseID)
	case domain.PurchaseSellerPaid:
		return uc.MarkSellerPaid(ctx, caller, purchaseID)
	case domain.PurchaseCancelled:
		return uc.Cancel(ctx, caller, purchaseID)
	default:
		return nil, fmt.Errorf("%w: cannot set purchase status %q", domain.ErrInvalidRequest, next)
	}
}

func (uc *PurchaseUsecase) MarkContacted(ctx context.Context, caller domain.Identity, purchaseID string) (*domain.PurchaseRequest, error) {
	req, changed, err := uc.transition(ctx, caller, purchaseID, domain.PurchaseContacted, adminOnly)
	if err != nil {
		return nil, err
	}
	if changed {
		uc.events.emit(ctx, domain.EventPurchaseContacted, caller.UserID, req.ID, []string{req.BuyerID}, map[string]interface{}{
			"propertyId": req.PropertyID,
		})
	}
	return req, nil
}

// MarkSold closes the sale on the listing. Calling it again is harmless: the request stays
// sold and the listing write only fills in values that are not set yet.
func (uc *PurchaseUsecase) MarkSold(ctx context.Context, caller domain.Identity, purchaseID string) (*domain.PurchaseRequest, error) {
	req, changed, err := uc.transition(ctx, caller, purchaseID, domain.PurchaseSold, adminOnly)
	if err != nil {
		return nil, err
	}
	if err := uc.closeSale(ctx, req, false); err != nil {
		return nil, err
	}
	if changed {
		uc.events.emit(ctx, domain.EventPurchaseSold, caller.UserID, req.ID, []string{req.SellerID}, map[string]interface{}{
			"propertyId":     req.PropertyID,
			"sellerEarnings": req.Breakdown.SellerEarnings.StringFixed(2),
		})
	}
	return req, nil
}

// MarkSellerPaid confirms the seller received their money and takes the listing down.
// It does not purge documents; that is PurgeDocuments.
func (uc *PurchaseUsecase) MarkSellerPaid(ctx context.Context, caller domain.Identity, purchaseID string) (*domain.PurchaseRequest, error) {
	req, changed, err := uc.transition(ctx, caller, purchaseID, domain.PurchaseSellerPaid, sellerOrAdmin)
	if err != nil {
		return nil, err
	}
	if err := uc.closeSale(ctx, req, true); err != nil {
		return nil, err
	}
	if changed {
		uc.events.emit(ctx, domain.EventPurchaseSellerPaid, caller.UserID, req.ID, []string{req.SellerID}, map[string]interface{}{
			"propertyId":     req.PropertyID,
			"sellerEarnings": req.Breakdown.SellerEarnings.StringFixed(2),
		})
	}
	return req, nil
}

func (uc *PurchaseUsecase) Cancel(ctx context.Context, caller domain.Identity, purchaseID string) (*domain.PurchaseRequest, error) {
	req, changed, err := uc.transition(ctx, caller, purchaseID, domain.PurchaseCancelled, adminOnly)
	if err != nil {
		return nil, err
	}
	if changed {
		uc.events.emit(ctx, domain.EventPurchaseCancelled, caller.UserID, req.ID, []string{req.BuyerID, req.SellerID}, map[string]interface{}{
			"propertyId": req.PropertyID,
		})
	}
	return req, nil
}

// PurgeDocuments scrubs the buyer's identity documents once the seller has been paid.
func (uc *PurchaseUsecase) PurgeDocuments(ctx context.Context, caller domain.Identity, purchaseID string) (*domain.PurchaseRequest, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := uc.load(ctx, purchaseID)
		if err != nil {
			return nil, err
		}
		if !sellerOrAdmin(caller, current) {
			return nil, fmt.Errorf("%w: purchase request %s", domain.ErrForbidden, purchaseID)
		}
		next := *current
		changed, err := next.PurgeDocuments(uc.now())
		if err != nil {
			return nil, err
		}
		if !changed {
			return current, nil
		}
		ok, err := uc.purchases.UpdateIf(ctx, &next, current.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to purge documents for %s: %w", purchaseID, err)
		}
		if ok {
			uc.logger.Info("purchase documents purged",
				zap.String("purchase_id", purchaseID),
				zap.String("actor_id", caller.UserID))
			return &next, nil
		}
	}
	return nil, fmt.Errorf("%w: purchase request %s changed concurrently", domain.ErrInvalidTransition, purchaseID)
}

// Get returns the request to its buyer, its seller, or an admin.
func (uc *PurchaseUsecase) Get(ctx context.Context, caller domain.Identity, purchaseID string) (*domain.PurchaseRequest, error) {
	req, err := uc.load(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if req.BuyerID != caller.UserID && !sellerOrAdmin(caller, req) {
		return nil, fmt.Errorf("%w: purchase request %s", domain.ErrForbidden, purchaseID)
	}
	return req, nil
}

func (uc *PurchaseUsecase) load(ctx context.Context, purchaseID string) (*domain.PurchaseRequest, error) {
	req, err := uc.purchases.Get(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("purchase request %s: %w", purchaseID, err)
		}
		return nil, err
	}
	return req, nil
}

// transition moves a request with compare-and-set on its current status, reloading when
// another writer got there first. Moving to the status it already has reports unchanged.
func (uc *PurchaseUsecase) transition(
	ctx context.Context,
	caller domain.Identity,
	purchaseID string,
	next domain.PurchaseStatus,
	allowed func(domain.Identity, *domain.PurchaseRequest) bool,
) (*domain.PurchaseRequest, bool, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := uc.load(ctx, purchaseID)
		if err != nil {
			return nil, false, err
		}
		if !allowed(caller, current) {
			return nil, false, fmt.Errorf("%w: purchase request %s", domain.ErrForbidden, purchaseID)
		}

		updated := *current
		changed, err := updated.MoveTo(next, uc.now())
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return current, false, nil
		}

		ok, err := uc.purchases.UpdateIf(ctx, &updated, current.Status)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update purchase request %s: %w", purchaseID, err)
		}
		if ok {
			uc.logger.Info("purchase request status changed",
				zap.String("purchase_id", purchaseID),
				zap.String("from", string(current.Status)),
				zap.String("to", string(next)),
				zap.String("actor_id", caller.UserID))
			return &updated, true, nil
		}
		uc.logger.Debug("purchase request changed concurrently, retrying",
			zap.String("purchase_id", purchaseID),
			zap.Int("attempt", attempt+1))
	}
	return nil, false, fmt.Errorf("%w: purchase request %s changed concurrently", domain.ErrInvalidTransition, purchaseID)
}

func (uc *PurchaseUsecase) closeSale(ctx context.Context, req *domain.PurchaseRequest, deactivate bool) error {
	changed, err := uc.listings.CloseSale(ctx, req.PropertyID, deactivate, uc.now())
	if err != nil {
		return fmt.Errorf("failed to close sale on listing %s: %w", req.PropertyID, err)
	}
	if changed {
		uc.logger.Info("listing sale closed",
			zap.String("property_id", req.PropertyID),
			zap.String("purchase_id", req.ID),
			zap.Bool("deactivated", deactivate))
	}
	return nil
}

func adminOnly(caller domain.Identity, _ *domain.PurchaseRequest) bool {
	return caller.IsAdmin()
}

func sellerOrAdmin(caller domain.Identity, req *domain.PurchaseRequest) bool {
	return caller.IsAdmin() || caller.UserID == req.SellerID
}
