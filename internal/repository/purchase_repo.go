// internal/repository/purchase_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"money-service/internal/domain"
)

type purchaseRepo struct {
	db *pgxpool.Pool
}

func NewPurchaseRepository(db *pgxpool.Pool) PurchaseRepository {
	return &purchaseRepo{db: db}
}

const purchaseColumns = `
	id, property_id, seller_id, buyer_id, buyer_contact, buyer_id_documents,
	price, buyer_markup, buyer_total, platform_fee, seller_earnings,
	status, created_at, updated_at, sold_at, seller_paid_at, documents_purged_at`

func (r *purchaseRepo) Create(ctx context.Context, p *domain.PurchaseRequest) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO purchase_requests (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		p.ID,
		p.PropertyID,
		p.SellerID,
		p.BuyerID,
		p.BuyerContact,
		p.BuyerIDDocuments,
		p.Breakdown.Price,
		p.Breakdown.BuyerMarkup,
		p.Breakdown.BuyerTotal,
		p.Breakdown.PlatformFee,
		p.Breakdown.SellerEarnings,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
		p.SoldAt,
		p.SellerPaidAt,
		p.DocumentsPurgedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: purchase request %s", domain.ErrAlreadyExists, p.ID)
		}
		return fmt.Errorf("failed to create purchase request: %w", err)
	}
	return nil
}

func (r *purchaseRepo) Get(ctx context.Context, id string) (*domain.PurchaseRequest, error) {
	var p domain.PurchaseRequest
	err := r.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchase_requests WHERE id = $1`, id).Scan(
		&p.ID,
		&p.PropertyID,
		&p.SellerID,
		&p.BuyerID,
		&p.BuyerContact,
		&p.BuyerIDDocuments,
		&p.Breakdown.Price,
		&p.Breakdown.BuyerMarkup,
		&p.Breakdown.BuyerTotal,
		&p.Breakdown.PlatformFee,
		&p.Breakdown.SellerEarnings,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.SoldAt,
		&p.SellerPaidAt,
		&p.DocumentsPurgedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get purchase request: %w", err)
	}
	return &p, nil
}

func (r *purchaseRepo) UpdateIf(ctx context.Context, p *domain.PurchaseRequest, from domain.PurchaseStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE purchase_requests
		SET status = $3,
			buyer_id_documents = $4,
			updated_at = $5,
			sold_at = $6,
			seller_paid_at = $7,
			documents_purged_at = $8
		WHERE id = $1 AND status = $2
	`,
		p.ID,
		from,
		p.Status,
		p.BuyerIDDocuments,
		p.UpdatedAt,
		p.SoldAt,
		p.SellerPaidAt,
		p.DocumentsPurgedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update purchase request %s: %w", p.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ============================================
// LISTINGS
// ============================================

type listingRepo struct {
	db *pgxpool.Pool
}

func NewListingRepository(db *pgxpool.Pool) ListingRepository {
	return &listingRepo{db: db}
}

func (r *listingRepo) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	var l domain.Listing
	err := r.db.QueryRow(ctx, `
		SELECT id, seller_id, title, price, currency, listing_type, is_active,
			sale_status, moderation_status, moderation_note, updated_at
		FROM listings
		WHERE id = $1
	`, id).Scan(
		&l.ID,
		&l.SellerID,
		&l.Title,
		&l.Price,
		&l.Currency,
		&l.Type,
		&l.IsActive,
		&l.SaleStatus,
		&l.ModerationStatus,
		&l.ModerationNote,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &l, nil
}

func (r *listingRepo) CloseSale(ctx context.Context, id string, deactivate bool, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE listings
		SET sale_status = 'sold',
			is_active = CASE WHEN $2 THEN FALSE ELSE is_active END,
			updated_at = $3
		WHERE id = $1
		  AND (sale_status <> 'sold' OR ($2 AND is_active))
	`, id, deactivate, at)
	if err != nil {
		return false, fmt.Errorf("failed to close sale for listing %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *listingRepo) SetModeration(ctx context.Context, id string, status domain.ModerationStatus, note *string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE listings SET moderation_status = $2, moderation_note = $3, updated_at = $4 WHERE id = $1
	`, id, status, note, at)
	if err != nil {
		return fmt.Errorf("failed to moderate listing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
