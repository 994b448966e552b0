// internal/usecase/listing_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/pub"
	"money-service/internal/repository"
)

type ListingUsecase struct {
	listings repository.ListingRepository
	events   emitter
	now      func() time.Time
	logger   *zap.Logger
}

func NewListingUsecase(listings repository.ListingRepository, publisher pub.Publisher, logger *zap.Logger) *ListingUsecase {
	return &ListingUsecase{
		listings: listings,
		events:   emitter{publisher: publisher, logger: logger},
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

func (uc *ListingUsecase) Approve(ctx context.Context, caller domain.Identity, propertyID, notes string) (*domain.Listing, error) {
	return uc.moderate(ctx, caller, propertyID, domain.ModerationApproved, notes)
}

func (uc *ListingUsecase) Decline(ctx context.Context, caller domain.Identity, propertyID, reason string) (*domain.Listing, error) {
	return uc.moderate(ctx, caller, propertyID, domain.ModerationDeclined, reason)
}

func (uc *ListingUsecase) moderate(ctx context.Context, caller domain.Identity, propertyID string, status domain.ModerationStatus, note string) (*domain.Listing, error) {
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: admin only", domain.ErrForbidden)
	}
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return nil, fmt.Errorf("%w: propertyId is required", domain.ErrInvalidRequest)
	}
	listing, err := uc.listings.GetListing(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", propertyID, err)
	}

	var notePtr *string
	if note = strings.TrimSpace(note); note != "" {
		notePtr = &note
	}
	now := uc.now()
	if err := uc.listings.SetModeration(ctx, propertyID, status, notePtr, now); err != nil {
		return nil, fmt.Errorf("failed to moderate listing %s: %w", propertyID, err)
	}
	listing.ModerationStatus = status
	listing.ModerationNote = notePtr
	listing.UpdatedAt = now

	uc.logger.Info("listing moderated",
		zap.String("property_id", propertyID),
		zap.String("status", string(status)),
		zap.String("admin_id", caller.UserID))

	typ := domain.EventListingApproved
	if status == domain.ModerationDeclined {
		typ = domain.EventListingDeclined
	}
	uc.events.emit(ctx, typ, caller.UserID, propertyID, []string{listing.SellerID}, map[string]interface{}{
		"propertyTitle": listing.Title,
		"note":          note,
	})
	return listing, nil
}
