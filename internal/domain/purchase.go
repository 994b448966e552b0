package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchasePending    PurchaseStatus = "pending"
	PurchaseContacted  PurchaseStatus = "contacted"
	PurchaseSold       PurchaseStatus = "sold"
	PurchaseSellerPaid PurchaseStatus = "seller_paid"
	PurchaseCancelled  PurchaseStatus = "cancelled"
)

var purchaseTransitions = map[PurchaseStatus][]PurchaseStatus{
	PurchasePending:   {PurchaseContacted, PurchaseSold, PurchaseSellerPaid, PurchaseCancelled},
	PurchaseContacted: {PurchaseSold, PurchaseSellerPaid, PurchaseCancelled},
	PurchaseSold:      {PurchaseSellerPaid},
}

func ParsePurchaseStatus(s string) (PurchaseStatus, error) {
	switch st := PurchaseStatus(s); st {
	case PurchasePending, PurchaseContacted, PurchaseSold, PurchaseSellerPaid, PurchaseCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown purchase status %q", ErrInvalidRequest, s)
	}
}

// CanMove reports whether a purchase request may go from one status to another.
func (s PurchaseStatus) CanMove(next PurchaseStatus) bool {
	for _, allowed := range purchaseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type BuyerContact struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required"`
}

// SaleBreakdown is the price split of a sale listing.
type SaleBreakdown struct {
	Price          decimal.Decimal `json:"price"`
	BuyerMarkup    decimal.Decimal `json:"buyerMarkup"`
	BuyerTotal     decimal.Decimal `json:"buyerTotal"`
	PlatformFee    decimal.Decimal `json:"platformFee"`
	SellerEarnings decimal.Decimal `json:"sellerEarnings"`
}

// PurchaseRequest is a buyer's offline purchase request against a sale listing.
type PurchaseRequest struct {
	ID                string         `json:"id"`
	PropertyID        string         `json:"propertyId"`
	SellerID          string         `json:"sellerId"`
	BuyerID           string         `json:"buyerId"`
	BuyerContact      BuyerContact   `json:"buyerContact"`
	BuyerIDDocuments  []string       `json:"buyerIdDocuments"`
	Breakdown         SaleBreakdown  `json:"breakdown"`
	Status            PurchaseStatus `json:"status"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	SoldAt            *time.Time     `json:"soldAt,omitempty"`
	SellerPaidAt      *time.Time     `json:"sellerPaidAt,omitempty"`
	DocumentsPurgedAt *time.Time     `json:"documentsPurgedAt,omitempty"`
}

func (r *PurchaseRequest) Validate() error {
	if r.PropertyID == "" {
		return fmt.Errorf("%w: propertyId is required", ErrInvalidRequest)
	}
	if len(r.BuyerIDDocuments) != 2 {
		return fmt.Errorf("%w: exactly two identity documents are required", ErrInvalidRequest)
	}
	for _, doc := range r.BuyerIDDocuments {
		u, err := url.Parse(doc)
		if err != nil || u.Scheme == "" || strings.TrimSpace(doc) == "" {
			return fmt.Errorf("%w: document %q is not a URI", ErrInvalidRequest, doc)
		}
	}
	return nil
}

// MoveTo applies a status change. Moving to the current status is reported as unchanged.
func (r *PurchaseRequest) MoveTo(next PurchaseStatus, now time.Time) (bool, error) {
	if r.Status == next {
		return false, nil
	}
	if !r.Status.CanMove(next) {
		return false, invalidTransition("purchase request", string(r.Status), string(next))
	}
	r.Status = next
	r.UpdatedAt = now
	switch next {
	case PurchaseSold:
		r.SoldAt = &now
	case PurchaseSellerPaid:
		if r.SoldAt == nil {
			r.SoldAt = &now
		}
		r.SellerPaidAt = &now
	}
	return true, nil
}

// PurgeDocuments scrubs the uploaded identity documents. Only allowed after the seller is paid.
func (r *PurchaseRequest) PurgeDocuments(now time.Time) (bool, error) {
	if r.Status != PurchaseSellerPaid {
		return false, fmt.Errorf("%w: documents can only be purged once the seller is paid (status %s)", ErrInvalidTransition, r.Status)
	}
	if r.DocumentsPurgedAt != nil {
		return false, nil
	}
	r.BuyerIDDocuments = []string{}
	r.DocumentsPurgedAt = &now
	r.UpdatedAt = now
	return true, nil
}

type ListingType string
type SaleStatus string
type ModerationStatus string

const (
	ListingTypeSale ListingType = "sale"
	ListingTypeRent ListingType = "rent"
)

const (
	SaleStatusAvailable SaleStatus = "available"
	SaleStatusSold      SaleStatus = "sold"
)

const (
	ModerationPending  ModerationStatus = "pending_review"
	ModerationApproved ModerationStatus = "approved"
	ModerationDeclined ModerationStatus = "declined"
)

// Listing is the part of a property listing the money flows touch.
type Listing struct {
	ID               string           `json:"id"`
	SellerID         string           `json:"sellerId"`
	Title            string           `json:"title"`
	Price            decimal.Decimal  `json:"price"`
	Currency         string           `json:"currency"`
	Type             ListingType      `json:"listingType"`
	IsActive         bool             `json:"isActive"`
	SaleStatus       SaleStatus       `json:"saleStatus"`
	ModerationStatus ModerationStatus `json:"moderationStatus"`
	ModerationNote   *string          `json:"moderationNote,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

func (l *Listing) AcceptsPurchaseRequests() error {
	if l.Type != ListingTypeSale {
		return fmt.Errorf("%w: listing %s is not for sale", ErrInvalidRequest, l.ID)
	}
	if !l.IsActive || l.SaleStatus == SaleStatusSold {
		return fmt.Errorf("%w: listing %s is no longer available", ErrInvalidTransition, l.ID)
	}
	return nil
}
