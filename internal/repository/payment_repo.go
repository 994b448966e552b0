// internal/repository/payment_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"money-service/internal/domain"
)

type paymentRepo struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `
	id, direction, purpose, subject_id, payer_id, channel, reference, gateway_reference,
	amount, currency, counterparty_msisdn, network, status, fee_charged, failure_reason,
	metadata, created_at, updated_at, last_checked_at, settled_at`

func (r *paymentRepo) CreateIfAbsent(ctx context.Context, p *domain.PaymentIntent) (*domain.PaymentIntent, bool, error) {
	query := `
		INSERT INTO payment_intents (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (reference) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		p.ID,
		p.Direction,
		p.Purpose,
		p.SubjectID,
		p.PayerID,
		p.Channel,
		p.Reference,
		p.GatewayReference,
		p.Amount,
		p.Currency,
		p.CounterpartyMsisdn,
		p.Network,
		p.Status,
		nullDecimal(p.FeeCharged),
		p.FailureReason,
		metadataOf(p.Metadata),
		p.CreatedAt,
		p.UpdatedAt,
		p.LastCheckedAt,
		p.SettledAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create payment intent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return p, true, nil
	}

	existing, err := r.GetByReference(ctx, p.Reference)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *paymentRepo) GetByReference(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_intents WHERE reference = $1`
	return scanPayment(r.db.QueryRow(ctx, query, reference))
}

func (r *paymentRepo) GetLatestBySubject(ctx context.Context, purpose domain.Purpose, subjectID string) (*domain.PaymentIntent, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_intents
		WHERE purpose = $1 AND subject_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanPayment(r.db.QueryRow(ctx, query, purpose, subjectID))
}

func (r *paymentRepo) Update(ctx context.Context, p *domain.PaymentIntent) (bool, error) {
	query := `
		UPDATE payment_intents
		SET gateway_reference = $2,
			status = $3,
			fee_charged = $4,
			failure_reason = $5,
			updated_at = $6,
			last_checked_at = $7,
			settled_at = $8
		WHERE reference = $1
		  AND status NOT IN ('successful', 'failed', 'cancelled')
	`
	tag, err := r.db.Exec(ctx, query,
		p.Reference,
		p.GatewayReference,
		p.Status,
		nullDecimal(p.FeeCharged),
		p.FailureReason,
		p.UpdatedAt,
		p.LastCheckedAt,
		p.SettledAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payment intent %s: %w", p.Reference, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPayment(row pgx.Row) (*domain.PaymentIntent, error) {
	var (
		p   domain.PaymentIntent
		fee decimal.NullDecimal
	)
	err := row.Scan(
		&p.ID,
		&p.Direction,
		&p.Purpose,
		&p.SubjectID,
		&p.PayerID,
		&p.Channel,
		&p.Reference,
		&p.GatewayReference,
		&p.Amount,
		&p.Currency,
		&p.CounterpartyMsisdn,
		&p.Network,
		&p.Status,
		&fee,
		&p.FailureReason,
		&p.Metadata,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.LastCheckedAt,
		&p.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	p.FeeCharged = decimalPtr(fee)
	return &p, nil
}
